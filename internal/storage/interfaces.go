package storage

import (
	"context"
	"time"

	"intraday-trader/internal/domain"
)

// WeeklyPnLStore holds the single restart-recovery record for weekly P&L.
type WeeklyPnLStore interface {
	// Load returns the persisted record. Returns ErrNotFound if nothing was saved yet.
	Load(ctx context.Context) (*domain.WeeklyPnLRecord, error)

	// Save replaces the persisted record.
	Save(ctx context.Context, rec *domain.WeeklyPnLRecord) error
}

// FillStore is the append-only fill journal.
type FillStore interface {
	// Insert adds a fill. Returns ErrDuplicateKey if intent_id exists.
	Insert(ctx context.Context, f *domain.FillRecord) error

	// GetByTimeRange retrieves fills with filled_at in [start, end], ordered by filled_at ASC.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.FillRecord, error)

	// GetBySymbol retrieves all fills for a symbol, ordered by filled_at ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.FillRecord, error)
}
