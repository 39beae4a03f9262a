package signal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trader/internal/bridge"
	"intraday-trader/internal/domain"
	"intraday-trader/internal/marketdata"
)

type fakeQuotes map[string]marketdata.Quote

func (f fakeQuotes) Quote(symbol string) (marketdata.Quote, bool) {
	q, ok := f[symbol]
	return q, ok
}

func TestFromConfig_Static(t *testing.T) {
	p, err := FromConfig(Config{
		Type: "static",
		Static: StaticConfig{
			Direction:  "long",
			Confidence: 0.8,
			Price:      "101.25",
		},
	}, Deps{})
	require.NoError(t, err)

	sig, err := p.FetchSignal(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Equal(t, domain.DirectionLong, sig.Direction)
	assert.True(t, sig.CurrentPrice.Equal(decimal.RequireFromString("101.25")))
}

func TestFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		deps Deps
		want error
	}{
		{"unknown type", Config{Type: "oracle"}, Deps{}, ErrUnknownProviderType},
		{"bad direction", Config{Type: "static", Static: StaticConfig{Direction: "UP", Price: "1"}}, Deps{}, ErrInvalidDirection},
		{"bad confidence", Config{Type: "static", Static: StaticConfig{Direction: "LONG", Confidence: 1.5, Price: "1"}}, Deps{}, ErrInvalidConfidence},
		{"bad price", Config{Type: "static", Static: StaticConfig{Direction: "LONG", Price: "0"}}, Deps{}, ErrInvalidPrice},
		{"quote without source", Config{Type: "quote"}, Deps{}, ErrMissingQuotes},
		{"bridge without client", Config{Type: "bridge"}, Deps{}, ErrMissingBridge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromConfig(tt.cfg, tt.deps)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFromConfig_Bridge(t *testing.T) {
	client := bridge.New(bridge.Config{BaseURL: "http://127.0.0.1:1"})
	p, err := FromConfig(Config{Type: "bridge"}, Deps{Bridge: client})
	require.NoError(t, err)
	assert.Same(t, client, p)
}

func TestVetoFromConfig(t *testing.T) {
	v, err := VetoFromConfig(VetoConfig{}, Deps{})
	require.NoError(t, err)
	veto, err := v.FetchVeto(context.Background())
	require.NoError(t, err)
	assert.False(t, veto.Veto)

	_, err = VetoFromConfig(VetoConfig{Type: "bridge"}, Deps{})
	assert.ErrorIs(t, err, ErrMissingBridge)

	_, err = VetoFromConfig(VetoConfig{Type: "twitter"}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownVetoType)
}

func TestQuoteMonitor(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	quotes := fakeQuotes{
		"AAPL": {Symbol: "AAPL", Price: decimal.RequireFromString("188.10"), At: now.Add(-5 * time.Second)},
		"MSFT": {Symbol: "MSFT", Price: decimal.RequireFromString("410"), At: now.Add(-2 * time.Minute)},
	}
	m := NewQuoteMonitor(quotes, 30*time.Second)
	m.now = func() time.Time { return now }

	sig, err := m.FetchSignal(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionNeutral, sig.Direction)
	assert.True(t, sig.CurrentPrice.Equal(decimal.RequireFromString("188.10")))

	_, err = m.FetchSignal(context.Background(), "MSFT")
	assert.ErrorIs(t, err, ErrStaleQuote)

	_, err = m.FetchSignal(context.Background(), "TSLA")
	assert.ErrorIs(t, err, ErrNoQuote)
}
