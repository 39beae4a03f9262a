package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

// FillStore is an in-memory implementation of storage.FillStore.
type FillStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.FillRecord // keyed by intent_id
	order []string
}

// NewFillStore creates a new in-memory fill store.
func NewFillStore() *FillStore {
	return &FillStore{
		data: make(map[string]*domain.FillRecord),
	}
}

var _ storage.FillStore = (*FillStore)(nil)

// Insert adds a fill. Returns ErrDuplicateKey if intent_id exists.
func (s *FillStore) Insert(_ context.Context, f *domain.FillRecord) error {
	if f == nil || f.IntentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[f.IntentID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *f
	s.data[f.IntentID] = &copy
	s.order = append(s.order, f.IntentID)
	return nil
}

// GetByTimeRange retrieves fills within [start, end] (inclusive).
func (s *FillStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.FillRecord, error) {
	return s.filter(func(f *domain.FillRecord) bool {
		return !f.FilledAt.Before(start) && !f.FilledAt.After(end)
	}), nil
}

// GetBySymbol retrieves all fills for a symbol.
func (s *FillStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.FillRecord, error) {
	return s.filter(func(f *domain.FillRecord) bool {
		return f.Symbol == symbol
	}), nil
}

// Len returns the number of journaled fills.
func (s *FillStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *FillStore) filter(keep func(*domain.FillRecord) bool) []*domain.FillRecord {
	s.mu.RLock()
	var result []*domain.FillRecord
	for _, id := range s.order {
		f := s.data[id]
		if keep(f) {
			copy := *f
			result = append(result, &copy)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].FilledAt.Before(result[j].FilledAt)
	})
	return result
}
