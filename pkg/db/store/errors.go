package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mwantia/opsreg/pkg/errs"
)

// wrapError maps gorm and driver errors onto the registry error kinds.
// Errors that already carry a kind pass through with added context.
func (s *SQLStore) wrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	action := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", action, err)
	case errs.Kind(err) != nil:
		return fmt.Errorf("%s: %w", action, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", action, errs.ErrNotFound)
	case s.dialect.IsUniqueViolation(err):
		return fmt.Errorf("%s: %v: %w", action, err, errs.ErrConflict)
	default:
		return fmt.Errorf("failed to %s: %v: %w", action, err, errs.ErrTransientIO)
	}
}
