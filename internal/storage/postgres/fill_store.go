package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

// FillStore implements storage.FillStore using PostgreSQL.
type FillStore struct {
	pool *Pool
}

// NewFillStore creates a new FillStore.
func NewFillStore(pool *Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FillStore = (*FillStore)(nil)

const selectFills = `
	SELECT
		intent_id, symbol, action, side, quantity,
		price::text, ref_price::text, is_exit, emergency, reason,
		realized_pnl::text, filled_at
	FROM fills
`

// Insert adds a fill. Returns ErrDuplicateKey if intent_id exists.
func (s *FillStore) Insert(ctx context.Context, f *domain.FillRecord) (err error) {
	if f == nil || f.IntentID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_fill", start, err) }()

	query := `
		INSERT INTO fills (
			intent_id, symbol, action, side, quantity,
			price, ref_price, is_exit, emergency, reason,
			realized_pnl, filled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::text::numeric, $7::text::numeric, $8, $9, $10,
			$11::text::numeric, $12
		)
	`

	_, err = s.pool.Exec(ctx, query,
		f.IntentID, f.Symbol, string(f.Action), string(f.Side), f.Quantity,
		f.Price.String(), f.RefPrice.String(), f.IsExit, f.Emergency, f.Reason,
		f.RealizedPnL.String(), f.FilledAt.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves fills within [start, end] (inclusive).
func (s *FillStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.FillRecord, error) {
	query := selectFills + `
		WHERE filled_at >= $1 AND filled_at <= $2
		ORDER BY filled_at ASC, intent_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("get fills by time range: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// GetBySymbol retrieves all fills for a symbol.
func (s *FillStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FillRecord, error) {
	query := selectFills + `
		WHERE symbol = $1
		ORDER BY filled_at ASC, intent_id ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("get fills by symbol: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// scanFills scans multiple rows into a slice of FillRecord.
func scanFills(rows pgx.Rows) ([]*domain.FillRecord, error) {
	var fills []*domain.FillRecord

	for rows.Next() {
		var (
			f                       domain.FillRecord
			action, side            string
			price, refPrice, profit string
		)

		err := rows.Scan(
			&f.IntentID, &f.Symbol, &action, &side, &f.Quantity,
			&price, &refPrice, &f.IsExit, &f.Emergency, &f.Reason,
			&profit, &f.FilledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fill row: %w", err)
		}

		f.Action = domain.Action(action)
		f.Side = domain.Side(side)
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse fill price: %w", err)
		}
		if f.RefPrice, err = decimal.NewFromString(refPrice); err != nil {
			return nil, fmt.Errorf("parse fill ref price: %w", err)
		}
		if f.RealizedPnL, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("parse fill realized pnl: %w", err)
		}

		fills = append(fills, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fill rows: %w", err)
	}

	return fills, nil
}
