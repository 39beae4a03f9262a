package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

func createTestFill(intentID, symbol string, at time.Time) *domain.FillRecord {
	return &domain.FillRecord{
		IntentID:    intentID,
		Symbol:      symbol,
		Action:      domain.ActionSell,
		Side:        domain.SideSell,
		Quantity:    40,
		Price:       decimal.RequireFromString("412.0625"),
		RefPrice:    decimal.RequireFromString("412.10"),
		Reason:      domain.ReasonEntry,
		RealizedPnL: decimal.Zero,
		FilledAt:    at,
	}
}

func TestFillStore_InsertAndGetBySymbol(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFillStore(pool)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 14, 45, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, createTestFill("intent-001", "MSFT", at)))

	got, err := store.GetBySymbol(ctx, "MSFT")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "intent-001", got[0].IntentID)
	assert.Equal(t, domain.ActionSell, got[0].Action)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("412.0625")), "got %s", got[0].Price)
	assert.True(t, got[0].RealizedPnL.IsZero())
	assert.True(t, got[0].FilledAt.Equal(at))
}

func TestFillStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFillStore(pool)
	ctx := context.Background()
	f := createTestFill("intent-dup", "MSFT", time.Now().UTC())

	require.NoError(t, store.Insert(ctx, f))
	assert.ErrorIs(t, store.Insert(ctx, f), storage.ErrDuplicateKey)
}

func TestFillStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewFillStore(pool)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, createTestFill("a", "ES", base)))
	require.NoError(t, store.Insert(ctx, createTestFill("b", "ES", base.Add(2*time.Minute))))
	require.NoError(t, store.Insert(ctx, createTestFill("c", "NQ", base.Add(time.Minute))))

	got, err := store.GetByTimeRange(ctx, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].IntentID)
	assert.Equal(t, "c", got[1].IntentID)
}
