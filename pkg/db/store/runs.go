package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/mwantia/opsreg/pkg/db/models"
)

// InsertRunMetrics stores metrics after checking every referenced run card
// exists.
func (s *SQLStore) InsertRunMetrics(ctx context.Context, metrics []models.RunMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	uids := make([]string, 0, len(metrics))
	date := s.now().UTC().Format(DateFormat)
	for i := range metrics {
		uids = append(uids, metrics[i].RunUID)
		if metrics[i].DateTS == "" {
			metrics[i].DateTS = date
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkReferences(tx, runReferences(uids)); err != nil {
			return err
		}
		return tx.Create(&metrics).Error
	})
	return s.wrapError(err, "insert run metrics")
}

// GetRunMetrics returns the metrics of a run, optionally only those with
// the given names, in insertion order.
func (s *SQLStore) GetRunMetrics(ctx context.Context, runUID string, names ...string) ([]models.RunMetric, error) {
	var metrics []models.RunMetric
	if err := runQuery(s.db.WithContext(ctx), runUID, names).Find(&metrics).Error; err != nil {
		return nil, s.wrapError(err, "get metrics of run '%s'", runUID)
	}
	return metrics, nil
}

func (s *SQLStore) InsertRunParameters(ctx context.Context, params []models.RunParameter) error {
	if len(params) == 0 {
		return nil
	}

	uids := make([]string, 0, len(params))
	date := s.now().UTC().Format(DateFormat)
	for i := range params {
		uids = append(uids, params[i].RunUID)
		if params[i].DateTS == "" {
			params[i].DateTS = date
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkReferences(tx, runReferences(uids)); err != nil {
			return err
		}
		return tx.Create(&params).Error
	})
	return s.wrapError(err, "insert run parameters")
}

func (s *SQLStore) GetRunParameters(ctx context.Context, runUID string, names ...string) ([]models.RunParameter, error) {
	var params []models.RunParameter
	if err := runQuery(s.db.WithContext(ctx), runUID, names).Find(&params).Error; err != nil {
		return nil, s.wrapError(err, "get parameters of run '%s'", runUID)
	}
	return params, nil
}

func (s *SQLStore) InsertHardwareMetrics(ctx context.Context, metrics []models.HardwareMetrics) error {
	if len(metrics) == 0 {
		return nil
	}

	uids := make([]string, 0, len(metrics))
	for _, m := range metrics {
		uids = append(uids, m.RunUID)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkReferences(tx, runReferences(uids)); err != nil {
			return err
		}
		return tx.Create(&metrics).Error
	})
	return s.wrapError(err, "insert hardware metrics")
}

func (s *SQLStore) GetHardwareMetrics(ctx context.Context, runUID string) ([]models.HardwareMetrics, error) {
	var metrics []models.HardwareMetrics
	if err := runQuery(s.db.WithContext(ctx), runUID, nil).Find(&metrics).Error; err != nil {
		return nil, s.wrapError(err, "get hardware metrics of run '%s'", runUID)
	}
	return metrics, nil
}

func runQuery(db *gorm.DB, runUID string, names []string) *gorm.DB {
	query := db.Where("run_uid = ?", runUID)
	if len(names) > 0 {
		query = query.Where("name IN ?", names)
	}
	return query.Order("id")
}

func runReferences(uids []string) []models.Reference {
	refs := make([]models.Reference, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, models.Reference{Registry: models.RegistryRun, UID: uid})
	}
	return refs
}
