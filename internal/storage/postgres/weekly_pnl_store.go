package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

// WeeklyPnLStore implements storage.WeeklyPnLStore as a single-row table.
type WeeklyPnLStore struct {
	pool *Pool
}

// NewWeeklyPnLStore creates a new WeeklyPnLStore.
func NewWeeklyPnLStore(pool *Pool) *WeeklyPnLStore {
	return &WeeklyPnLStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WeeklyPnLStore = (*WeeklyPnLStore)(nil)

// Load returns the persisted record. Returns ErrNotFound if the row is absent.
func (s *WeeklyPnLStore) Load(ctx context.Context) (rec *domain.WeeklyPnLRecord, err error) {
	start := time.Now()
	defer func() { observe("load_weekly_pnl", start, err) }()

	query := `
		SELECT record_date, weekly_pnl::text, updated_at
		FROM weekly_pnl
		WHERE id = 1
	`

	var (
		date      time.Time
		pnl       string
		updatedAt time.Time
	)
	if err = s.pool.QueryRow(ctx, query).Scan(&date, &pnl, &updatedAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load weekly pnl: %w", err)
	}

	value, err := decimal.NewFromString(pnl)
	if err != nil {
		return nil, fmt.Errorf("parse weekly pnl %q: %w", pnl, err)
	}
	return &domain.WeeklyPnLRecord{
		Date:      date,
		WeeklyPnL: value,
		UpdatedAt: updatedAt,
	}, nil
}

// Save upserts the single record.
func (s *WeeklyPnLStore) Save(ctx context.Context, rec *domain.WeeklyPnLRecord) (err error) {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("save_weekly_pnl", start, err) }()

	// Decimals travel as text to keep full precision.
	query := `
		INSERT INTO weekly_pnl (id, record_date, weekly_pnl, updated_at)
		VALUES (1, $1, $2::text::numeric, $3)
		ON CONFLICT (id) DO UPDATE SET
			record_date = EXCLUDED.record_date,
			weekly_pnl = EXCLUDED.weekly_pnl,
			updated_at = EXCLUDED.updated_at
	`

	date := time.Date(rec.Date.Year(), rec.Date.Month(), rec.Date.Day(), 0, 0, 0, 0, time.UTC)
	if _, err = s.pool.Exec(ctx, query, date, rec.WeeklyPnL.String(), rec.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("save weekly pnl: %w", err)
	}
	return nil
}
