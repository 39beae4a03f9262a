package memory

import (
	"context"
	"sync"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

// WeeklyPnLStore is an in-memory implementation of storage.WeeklyPnLStore.
type WeeklyPnLStore struct {
	mu  sync.RWMutex
	rec *domain.WeeklyPnLRecord
}

// NewWeeklyPnLStore creates an empty store.
func NewWeeklyPnLStore() *WeeklyPnLStore {
	return &WeeklyPnLStore{}
}

var _ storage.WeeklyPnLStore = (*WeeklyPnLStore)(nil)

// Load returns the saved record or ErrNotFound.
func (s *WeeklyPnLStore) Load(_ context.Context) (*domain.WeeklyPnLRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rec == nil {
		return nil, storage.ErrNotFound
	}
	copy := *s.rec
	return &copy, nil
}

// Save replaces the saved record.
func (s *WeeklyPnLStore) Save(_ context.Context, rec *domain.WeeklyPnLRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *rec
	s.rec = &copy
	return nil
}
