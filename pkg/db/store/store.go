package store

import (
	"context"
	"fmt"
	stdlog "log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mwantia/opsreg/pkg/db/migrations"
	"github.com/mwantia/opsreg/pkg/log"
)

// SQLStore implements CardStore on top of gorm for every supported dialect
type SQLStore struct {
	db      *gorm.DB
	dialect Dialect
	cfg     Config
	now     func() time.Time
}

// Config holds the registry store configuration
type Config struct {
	// URI selects the dialect by scheme, see NewDialect.
	URI          string
	MaxOpenConns int
	LogLevel     logger.LogLevel
	// Logger receives gorm's own log output when set.
	Logger log.LoggerService
}

// ParseLogLevel maps silent, error, warn and info to gorm log levels.
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return logger.Error
	case "warn", "warning":
		return logger.Warn
	case "info", "debug":
		return logger.Info
	default:
		return logger.Silent
	}
}

// NewSQLStore opens the registry database described by cfg
func NewSQLStore(cfg Config) (*SQLStore, error) {
	dialect, err := NewDialect(cfg.URI)
	if err != nil {
		return nil, err
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}
	if cfg.MaxOpenConns <= 0 || dialect.MaxOpenConns() < cfg.MaxOpenConns {
		cfg.MaxOpenConns = dialect.MaxOpenConns()
	}

	gormLogger := logger.Default.LogMode(cfg.LogLevel)
	if cfg.Logger != nil {
		gormLogger = logger.New(stdlog.New(cfg.Logger.Writer(), "", 0), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  cfg.LogLevel,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialect.Dialector(), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name(), err)
	}

	return &SQLStore{
		db:      db,
		dialect: dialect,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// DB returns the underlying GORM database instance
func (s *SQLStore) DB() *gorm.DB {
	return s.db
}

// Dialect returns the dialect selected from the connection uri
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Connect configures the connection pool and verifies connectivity
func (s *SQLStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(s.cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(s.cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate applies all pending schema migrations
func (s *SQLStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *SQLStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

var _ CardStore = (*SQLStore)(nil)
