package clickhouse

import (
	"context"
	"fmt"
	"time"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

// FillStore implements storage.FillStore using ClickHouse. It is the
// analytics copy of the fill journal.
type FillStore struct {
	conn *Conn
}

// NewFillStore creates a new FillStore.
func NewFillStore(conn *Conn) *FillStore {
	return &FillStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FillStore = (*FillStore)(nil)

// Insert adds a fill. Returns ErrDuplicateKey if intent_id exists.
// MergeTree does not enforce uniqueness so the key is checked first.
func (s *FillStore) Insert(ctx context.Context, f *domain.FillRecord) (err error) {
	if f == nil || f.IntentID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_fill", start, err) }()

	exists, err := s.exists(ctx, f.IntentID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO fills (
			intent_id, symbol, action, side, quantity,
			price, ref_price, is_exit, emergency, reason,
			realized_pnl, filled_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		f.IntentID, f.Symbol, string(f.Action), string(f.Side), f.Quantity,
		f.Price, f.RefPrice, f.IsExit, f.Emergency, f.Reason,
		f.RealizedPnL, f.FilledAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves fills within [start, end] (inclusive), ordered by filled_at ASC.
func (s *FillStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.FillRecord, error) {
	query := `
		SELECT intent_id, symbol, action, side, quantity,
			price, ref_price, is_exit, emergency, reason,
			realized_pnl, filled_at
		FROM fills
		WHERE filled_at >= fromUnixTimestamp64Milli(?) AND filled_at <= fromUnixTimestamp64Milli(?)
		ORDER BY filled_at ASC, intent_id ASC
	`

	rows, err := s.conn.Query(ctx, query, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query fills by time range: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// GetBySymbol retrieves all fills for a symbol, ordered by filled_at ASC.
func (s *FillStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FillRecord, error) {
	query := `
		SELECT intent_id, symbol, action, side, quantity,
			price, ref_price, is_exit, emergency, reason,
			realized_pnl, filled_at
		FROM fills
		WHERE symbol = ?
		ORDER BY filled_at ASC, intent_id ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query fills by symbol: %w", err)
	}
	defer rows.Close()

	return scanFills(rows)
}

// exists checks if a fill with the given intent_id exists.
func (s *FillStore) exists(ctx context.Context, intentID string) (bool, error) {
	query := `SELECT count(*) FROM fills WHERE intent_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, intentID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanFills scans multiple rows.
func scanFills(rows chRows) ([]*domain.FillRecord, error) {
	var fills []*domain.FillRecord

	for rows.Next() {
		var f domain.FillRecord
		var action, side string

		err := rows.Scan(
			&f.IntentID, &f.Symbol, &action, &side, &f.Quantity,
			&f.Price, &f.RefPrice, &f.IsExit, &f.Emergency, &f.Reason,
			&f.RealizedPnL, &f.FilledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fill row: %w", err)
		}

		f.Action = domain.Action(action)
		f.Side = domain.Side(side)
		fills = append(fills, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fill rows: %w", err)
	}

	return fills, nil
}
