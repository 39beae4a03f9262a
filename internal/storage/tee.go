package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intraday-trader/internal/domain"
)

// TeeFillStore writes every fill to a primary store and a set of secondary
// journals. Reads go to the primary only.
type TeeFillStore struct {
	primary     FillStore
	secondaries []FillStore
}

// NewTeeFillStore creates a TeeFillStore.
func NewTeeFillStore(primary FillStore, secondaries ...FillStore) *TeeFillStore {
	return &TeeFillStore{primary: primary, secondaries: secondaries}
}

var _ FillStore = (*TeeFillStore)(nil)

// Insert writes to the primary first. A primary failure aborts; secondary
// failures are joined and returned after every secondary was attempted.
func (t *TeeFillStore) Insert(ctx context.Context, f *domain.FillRecord) error {
	if err := t.primary.Insert(ctx, f); err != nil {
		return err
	}
	var errs []error
	for i, s := range t.secondaries {
		if err := s.Insert(ctx, f); err != nil && !errors.Is(err, ErrDuplicateKey) {
			errs = append(errs, fmt.Errorf("secondary %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// GetByTimeRange reads from the primary.
func (t *TeeFillStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.FillRecord, error) {
	return t.primary.GetByTimeRange(ctx, start, end)
}

// GetBySymbol reads from the primary.
func (t *TeeFillStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FillRecord, error) {
	return t.primary.GetBySymbol(ctx, symbol)
}
