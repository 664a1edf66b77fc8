package store

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mwantia/opsreg/pkg/db/models"
	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/version"
)

// DateFormat is the layout of the card date column.
const DateFormat = "2006-01-02"

const maxUIDLength = 64

// InsertCard registers card. An empty uid is generated, an empty version
// string is composed from the version components, and the date and
// timestamp default to the current time.
func (s *SQLStore) InsertCard(ctx context.Context, card models.Card) error {
	base := card.Base()
	if base.Name == "" || base.Repository == "" {
		return fmt.Errorf("card name and repository are required: %w", errs.ErrInvalidArgument)
	}

	if base.UID == "" {
		base.UID = uuid.NewString()
	}
	if len(base.UID) > maxUIDLength {
		return fmt.Errorf("card uid '%s' is too long: %w", base.UID, errs.ErrInvalidArgument)
	}

	v, err := cardVersion(base)
	if err != nil {
		return err
	}
	base.SetVersion(v)

	now := s.now().UTC()
	if base.Date == "" {
		base.Date = now.Format(DateFormat)
	}
	if base.Timestamp == 0 {
		base.Timestamp = now.UnixMicro()
	}
	if base.AppEnv == "" {
		base.AppEnv = "development"
	}
	if base.Tags == nil {
		base.Tags = models.JSONMap{}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkReferences(tx, card.References()); err != nil {
			return err
		}

		if project, ok := card.(*models.ProjectCard); ok && project.ProjectID == 0 {
			id, err := nextProjectID(tx, base.Name, base.Repository)
			if err != nil {
				return err
			}
			project.ProjectID = id
		}

		return tx.Create(card).Error
	})
	return s.wrapError(err, "insert %scard '%s' (%s/%s %s)", card.Registry(), base.UID, base.Repository, base.Name, base.Version)
}

// cardVersion parses the version string, or composes one from the
// component columns when the string is empty.
func cardVersion(base *models.CardBase) (version.Version, error) {
	if base.Version != "" {
		return version.Parse(base.Version)
	}
	return version.Parse(base.ParsedVersion().String())
}

// UpdateCard applies update to the card and returns the stored result.
func (s *SQLStore) UpdateCard(ctx context.Context, t models.RegistryType, uid string, update CardUpdate) (models.Card, error) {
	card, err := models.NewCard(t)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if update.Contact != nil {
		updates["contact"] = *update.Contact
	}
	if update.Tags != nil {
		updates["tags"] = models.JSONMap(update.Tags)
	}

	var refs []models.Reference
	allowed := models.Links[t]
	for column, target := range update.Links {
		registry, ok := allowed[column]
		if !ok {
			return nil, fmt.Errorf("column '%s' cannot be updated on the %s registry: %w", column, t, errs.ErrInvalidArgument)
		}
		if target != "" {
			refs = append(refs, models.Reference{Registry: registry, UID: target})
		}
		updates[column] = target
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("uid = ?", uid).First(card).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := checkReferences(tx, refs); err != nil {
			return err
		}
		if err := tx.Model(card).Updates(updates).Error; err != nil {
			return err
		}

		if card, err = models.NewCard(t); err != nil {
			return err
		}
		return tx.Where("uid = ?", uid).First(card).Error
	})
	if err != nil {
		return nil, s.wrapError(err, "update %scard '%s'", t, uid)
	}
	return card, nil
}

func (s *SQLStore) GetCard(ctx context.Context, t models.RegistryType, uid string) (models.Card, error) {
	card, err := models.NewCard(t)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Where("uid = ?", uid).First(card).Error; err != nil {
		return nil, s.wrapError(err, "get %scard '%s'", t, uid)
	}
	return card, nil
}

// DeleteCard removes a card. Deleting a run card also removes its
// metrics, parameters and hardware samples.
func (s *SQLStore) DeleteCard(ctx context.Context, t models.RegistryType, uid string) error {
	card, err := models.NewCard(t)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("uid = ?", uid).Delete(card)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.ErrNotFound
		}

		if t != models.RegistryRun {
			return nil
		}
		for _, aux := range []any{&models.RunMetric{}, &models.RunParameter{}, &models.HardwareMetrics{}} {
			if err := tx.Where("run_uid = ?", uid).Delete(aux).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return s.wrapError(err, "delete %scard '%s'", t, uid)
}

// QueryCards lists cards matching args, newest version first unless
// args.SortByTimestamp is set.
func (s *SQLStore) QueryCards(ctx context.Context, t models.RegistryType, args CardQueryArgs) ([]models.Card, error) {
	bounds, err := version.ParseBounds(args.Version)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx)
	if args.UID != "" {
		query = query.Where("uid = ?", args.UID)
	}
	if args.Name != "" {
		query = query.Where("name = ?", args.Name)
	}
	if args.Repository != "" {
		query = query.Where("repository = ?", args.Repository)
	}
	if args.MinDate != "" {
		query = query.Where(clause.Gte{Column: clause.Column{Name: "date"}, Value: args.MinDate})
	}
	if args.MaxDate != "" {
		query = query.Where(clause.Lte{Column: clause.Column{Name: "date"}, Value: args.MaxDate})
	}

	keys := make([]string, 0, len(args.Tags))
	for key := range args.Tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := validTagKey(key); err != nil {
			return nil, err
		}
		cond, values := s.dialect.TagCondition(key, args.Tags[key])
		query = query.Where(cond, values...)
	}

	query = pinVersion(query, bounds)
	query = query.Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true})

	// Only selectors expressible in SQL may be limited by the database.
	pushLimit := args.SortByTimestamp && args.Limit > 0 &&
		(bounds.Kind == version.BoundsAny || bounds.Kind == version.BoundsPrefix)
	if pushLimit {
		query = query.Limit(args.Limit)
	}

	cards, err := findCards(query, t)
	if err != nil {
		return nil, s.wrapError(err, "query %s registry", t)
	}

	cards = matchBounds(cards, bounds)
	if !args.SortByTimestamp {
		rankCards(cards)
	}
	if args.Limit > 0 && len(cards) > args.Limit {
		cards = cards[:args.Limit]
	}
	return cards, nil
}

// UniqueRepositories lists the distinct repositories of a registry.
func (s *SQLStore) UniqueRepositories(ctx context.Context, t models.RegistryType) ([]string, error) {
	var repositories []string
	err := s.db.WithContext(ctx).
		Table(t.Table()).
		Distinct("repository").
		Order("repository").
		Pluck("repository", &repositories).Error
	if err != nil {
		return nil, s.wrapError(err, "list %s repositories", t)
	}
	return repositories, nil
}

// QueryStats counts names, versions and repositories, optionally limited
// to names or repositories containing search.
func (s *SQLStore) QueryStats(ctx context.Context, t models.RegistryType, search string) (Stats, error) {
	query := s.db.WithContext(ctx).
		Table(t.Table()).
		Select("COUNT(DISTINCT name) AS names, COUNT(*) AS versions, COUNT(DISTINCT repository) AS repositories")
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where("name LIKE ? OR repository LIKE ?", pattern, pattern)
	}

	var stats Stats
	if err := query.Scan(&stats).Error; err != nil {
		return Stats{}, s.wrapError(err, "query %s stats", t)
	}
	return stats, nil
}

// NextProjectID returns the id of an existing project with the same name
// and repository, or one past the highest id in use.
func (s *SQLStore) NextProjectID(ctx context.Context, name, repository string) (int, error) {
	id, err := nextProjectID(s.db.WithContext(ctx), name, repository)
	if err != nil {
		return 0, s.wrapError(err, "get next project id")
	}
	return id, nil
}

func nextProjectID(tx *gorm.DB, name, repository string) (int, error) {
	var existing []int
	err := tx.Model(&models.ProjectCard{}).
		Where("name = ? AND repository = ?", name, repository).
		Limit(1).
		Pluck("project_id", &existing).Error
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	var highest *int
	if err := tx.Model(&models.ProjectCard{}).Select("MAX(project_id)").Row().Scan(&highest); err != nil {
		return 0, err
	}
	if highest == nil {
		return 1, nil
	}
	return *highest + 1, nil
}

// checkReferences fails with ErrConstraint when a referenced card does
// not exist.
func checkReferences(tx *gorm.DB, refs []models.Reference) error {
	byRegistry := map[models.RegistryType][]string{}
	for _, ref := range refs {
		if !slices.Contains(byRegistry[ref.Registry], ref.UID) {
			byRegistry[ref.Registry] = append(byRegistry[ref.Registry], ref.UID)
		}
	}

	for _, t := range models.RegistryTypes {
		uids := byRegistry[t]
		if len(uids) == 0 {
			continue
		}

		var found []string
		if err := tx.Table(t.Table()).Where("uid IN ?", uids).Pluck("uid", &found).Error; err != nil {
			return err
		}
		for _, uid := range uids {
			if !slices.Contains(found, uid) {
				return fmt.Errorf("referenced %scard '%s' does not exist: %w", t, uid, errs.ErrConstraint)
			}
		}
	}
	return nil
}

// findCards runs query against the table of t.
func findCards(query *gorm.DB, t models.RegistryType) ([]models.Card, error) {
	switch t {
	case models.RegistryData:
		return find[models.DataCard](query)
	case models.RegistryModel:
		return find[models.ModelCard](query)
	case models.RegistryRun:
		return find[models.RunCard](query)
	case models.RegistryAudit:
		return find[models.AuditCard](query)
	case models.RegistryPipeline:
		return find[models.PipelineCard](query)
	case models.RegistryProject:
		return find[models.ProjectCard](query)
	default:
		return nil, fmt.Errorf("unknown registry '%s': %w", t, errs.ErrInvalidArgument)
	}
}

func find[T any, P interface {
	*T
	models.Card
}](query *gorm.DB) ([]models.Card, error) {
	var rows []T
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	cards := make([]models.Card, 0, len(rows))
	for i := range rows {
		cards = append(cards, P(&rows[i]))
	}
	return cards, nil
}
