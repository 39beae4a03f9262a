package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

func testFill(id, symbol string, at time.Time) *domain.FillRecord {
	return &domain.FillRecord{
		IntentID: id,
		Symbol:   symbol,
		Action:   domain.ActionBuy,
		Side:     domain.SideBuy,
		Quantity: 10,
		Price:    decimal.RequireFromString("101.5"),
		RefPrice: decimal.RequireFromString("101.45"),
		Reason:   domain.ReasonEntry,
		FilledAt: at,
	}
}

func TestFillStore_InsertAndQuery(t *testing.T) {
	store := NewFillStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	for i, sym := range []string{"AAPL", "MSFT", "AAPL"} {
		f := testFill(sym+string(rune('a'+i)), sym, base.Add(time.Duration(2-i)*time.Minute))
		if err := store.Insert(ctx, f); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetBySymbol(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetBySymbol failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(got))
	}
	if !got[0].FilledAt.Before(got[1].FilledAt) {
		t.Errorf("fills not ordered by filled_at")
	}

	inRange, err := store.GetByTimeRange(ctx, base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(inRange) != 2 {
		t.Errorf("expected 2 fills in range, got %d", len(inRange))
	}
}

func TestFillStore_DuplicateKey(t *testing.T) {
	store := NewFillStore()
	ctx := context.Background()
	f := testFill("intent1", "AAPL", time.Now())

	if err := store.Insert(ctx, f); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.Insert(ctx, f); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Insert(ctx, &domain.FillRecord{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestWeeklyPnLStore_LoadSave(t *testing.T) {
	store := NewWeeklyPnLStore()
	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	rec := &domain.WeeklyPnLRecord{
		Date:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		WeeklyPnL: decimal.NewFromInt(-420),
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	rec.WeeklyPnL = decimal.Zero // caller mutation must not leak

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got.WeeklyPnL.Equal(decimal.NewFromInt(-420)) {
		t.Errorf("WeeklyPnL mismatch: got %s", got.WeeklyPnL)
	}
}
