// Package signal defines the signal and veto provider capabilities used by
// the control loop and the local implementations selected by configuration.
package signal

import (
	"context"

	"intraday-trader/internal/domain"
)

// Provider produces the per-tick trading signal for one symbol.
type Provider interface {
	FetchSignal(ctx context.Context, symbol string) (domain.Signal, error)
}

// VetoProvider reports whether a market-wide news veto is in effect.
type VetoProvider interface {
	FetchVeto(ctx context.Context) (domain.Veto, error)
}

// NoVeto never vetoes.
type NoVeto struct{}

// FetchVeto always returns an inactive veto.
func (NoVeto) FetchVeto(context.Context) (domain.Veto, error) {
	return domain.Veto{Source: "none"}, nil
}

var _ VetoProvider = NoVeto{}
