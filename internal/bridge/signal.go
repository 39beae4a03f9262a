package bridge

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
)

type signalResponse struct {
	Symbol       string          `json:"symbol"`
	Direction    string          `json:"direction"`
	Confidence   float64         `json:"confidence"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	ExitSignal   bool            `json:"exit_signal"`
	Strategy     string          `json:"strategy"`
	Timestamp    time.Time       `json:"timestamp"`
}

type vetoResponse struct {
	Veto   bool    `json:"veto"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// FetchSignal implements signal.Provider via GET /signal?symbol=.
func (c *Client) FetchSignal(ctx context.Context, symbol string) (domain.Signal, error) {
	var out signalResponse
	req := c.http.R().SetQueryParam("symbol", symbol)
	if err := c.do(ctx, "fetch signal", http.MethodGet, "/signal", req, &out); err != nil {
		return domain.Signal{}, err
	}

	dir := domain.Direction(strings.ToUpper(out.Direction))
	switch dir {
	case domain.DirectionLong, domain.DirectionShort, domain.DirectionNeutral:
	default:
		return domain.Signal{}, fmt.Errorf("fetch signal: unknown direction %q", out.Direction)
	}
	if !out.CurrentPrice.IsPositive() {
		return domain.Signal{}, fmt.Errorf("fetch signal: invalid price %s", out.CurrentPrice)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return domain.Signal{}, fmt.Errorf("fetch signal: confidence %v outside [0,1]", out.Confidence)
	}

	source := "bridge"
	if out.Strategy != "" {
		source = "bridge:" + out.Strategy
	}
	at := out.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return domain.Signal{
		Symbol:       symbol,
		Direction:    dir,
		Confidence:   out.Confidence,
		CurrentPrice: out.CurrentPrice,
		ExitSignal:   out.ExitSignal,
		Source:       source,
		At:           at,
	}, nil
}

// FetchVeto implements signal.VetoProvider via GET /sentiment/veto.
func (c *Client) FetchVeto(ctx context.Context) (domain.Veto, error) {
	var out vetoResponse
	if err := c.do(ctx, "fetch veto", http.MethodGet, "/sentiment/veto", c.http.R(), &out); err != nil {
		return domain.Veto{}, err
	}
	source := out.Source
	if source == "" {
		source = "bridge"
	}
	return domain.Veto{
		Veto:   out.Veto,
		Reason: out.Reason,
		Score:  out.Score,
		Source: source,
	}, nil
}
