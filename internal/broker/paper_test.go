package broker

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/execution"
)

type staticPrices map[string]decimal.Decimal

func (s staticPrices) LastPrice(symbol string) (decimal.Decimal, bool) {
	p, ok := s[symbol]
	return p, ok
}

func newPaper(opts PaperOptions) *Paper {
	opts.Logger = log.New(io.Discard, "", 0)
	return NewPaper(opts)
}

func TestPaper_Slippage(t *testing.T) {
	p := newPaper(PaperOptions{SlippageTicks: 2})

	buy, err := p.Submit(context.Background(), domain.Order{
		ClientOrderID: "a", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 5, ReferencePrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, buy.Price.Equal(decimal.RequireFromString("100.02")), buy.Price.String())
	assert.Equal(t, "a", buy.ClientOrderID)
	assert.Equal(t, int64(5), buy.Quantity)

	sell, err := p.Submit(context.Background(), domain.Order{
		ClientOrderID: "b", Symbol: "AAPL", Side: domain.SideSell, Quantity: 5, ReferencePrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, sell.Price.Equal(decimal.RequireFromString("99.98")), sell.Price.String())
	assert.NotEqual(t, buy.BrokerOrderID, sell.BrokerOrderID)
}

func TestPaper_FallsBackToLastPrice(t *testing.T) {
	p := newPaper(PaperOptions{Prices: staticPrices{"MSFT": decimal.NewFromInt(400)}})

	fill, err := p.Submit(context.Background(), domain.Order{Symbol: "MSFT", Side: domain.SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(400)))

	_, err = p.Submit(context.Background(), domain.Order{Symbol: "TSLA", Side: domain.SideBuy, Quantity: 1})
	assert.Equal(t, execution.KindRejected, execution.Classify(err))
}

func TestPaper_InjectedFailures(t *testing.T) {
	p := newPaper(PaperOptions{})
	p.FailNext(1, false, "gateway timeout")
	p.FailNext(1, true, "halted")

	order := domain.Order{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 1, ReferencePrice: decimal.NewFromInt(10)}

	_, err := p.Submit(context.Background(), order)
	assert.Equal(t, execution.KindTransientFailure, execution.Classify(err))

	_, err = p.Submit(context.Background(), order)
	assert.Equal(t, execution.KindRejected, execution.Classify(err))

	_, err = p.Submit(context.Background(), order)
	assert.NoError(t, err)
	assert.Len(t, p.Orders(), 3)
}

func TestPaper_LatencyRespectsContext(t *testing.T) {
	p := newPaper(PaperOptions{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Submit(ctx, domain.Order{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 1, ReferencePrice: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, execution.ErrTransient)
}
