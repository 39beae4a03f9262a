package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
	"intraday-trader/internal/storage/memory"
)

type failingFillStore struct {
	*memory.FillStore
}

func (failingFillStore) Insert(context.Context, *domain.FillRecord) error {
	return errors.New("clickhouse unavailable")
}

func TestTeeFillStore(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewFillStore()
	secondary := memory.NewFillStore()
	broken := failingFillStore{memory.NewFillStore()}

	tee := storage.NewTeeFillStore(primary, secondary, broken)
	f := &domain.FillRecord{IntentID: "i1", Symbol: "AAPL", FilledAt: time.Now()}

	err := tee.Insert(ctx, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse unavailable")
	assert.Equal(t, 1, primary.Len())
	assert.Equal(t, 1, secondary.Len())

	assert.ErrorIs(t, tee.Insert(ctx, f), storage.ErrDuplicateKey, "primary duplicate aborts")

	got, err := tee.GetBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
