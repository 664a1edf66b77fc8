package migrations

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/mwantia/opsreg/pkg/db/models"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	Up          func(*gorm.DB) error
	Down        func(*gorm.DB) error
}

// appliedMigration records a migration that ran against the database
type appliedMigration struct {
	ID          uint   `gorm:"primaryKey"`
	Version     int    `gorm:"uniqueIndex;not null"`
	Description string `gorm:"type:text"`
	AppliedAt   int64  `gorm:"autoCreateTime"`
}

func (appliedMigration) TableName() string { return "schema_migrations" }

// MigrationStatus reports whether a migration has been applied
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
}

// Migrator applies and rolls back the registry schema
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

func NewMigrator(db *gorm.DB) *Migrator {
	return newMigrator(db, allMigrations())
}

func newMigrator(db *gorm.DB, migrations []Migration) *Migrator {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return &Migrator{db: db, migrations: sorted}
}

// Migrate runs every pending migration in version order, each inside its
// own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.run(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureHistory(ctx); err != nil {
		return err
	}

	var last appliedMigration
	if err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error; err != nil {
		return fmt.Errorf("no migrations to roll back: %w", err)
	}

	idx := sort.Search(len(m.migrations), func(i int) bool {
		return m.migrations[i].Version >= last.Version
	})
	if idx == len(m.migrations) || m.migrations[idx].Version != last.Version {
		return fmt.Errorf("migration %d is not known to this build", last.Version)
	}
	migration := m.migrations[idx]

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return fmt.Errorf("rollback of migration %d failed: %w", migration.Version, err)
		}
		return tx.Delete(&last).Error
	})
}

// Status lists every known migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, migration := range m.migrations {
		statuses = append(statuses, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     applied[migration.Version],
		})
	}
	return statuses, nil
}

func (m *Migrator) ensureHistory(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&appliedMigration{}); err != nil {
		return fmt.Errorf("failed to create migration history table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	if err := m.ensureHistory(ctx); err != nil {
		return nil, err
	}

	var rows []appliedMigration
	if err := m.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}

	applied := make(map[int]bool, len(rows))
	for _, row := range rows {
		applied[row.Version] = true
	}
	return applied, nil
}

func (m *Migrator) run(ctx context.Context, migration Migration) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Up(tx); err != nil {
			return err
		}
		return tx.Create(&appliedMigration{
			Version:     migration.Version,
			Description: migration.Description,
		}).Error
	})
}

// allMigrations returns all migrations in order
func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Card registry tables",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(models.AllCards()...)
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(models.AllCards()...)
			},
		},
		{
			Version:     2,
			Description: "Run metrics, parameters and hardware metrics",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(runTables()...)
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(runTables()...)
			},
		},
	}
}

func runTables() []any {
	return []any{
		&models.RunMetric{},
		&models.RunParameter{},
		&models.HardwareMetrics{},
	}
}
