package execution

import (
	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
)

// ResultKind is the outcome class of an execution.
type ResultKind string

// Result kinds.
const (
	KindFilled           ResultKind = "FILLED"
	KindTransientFailure ResultKind = "TRANSIENT_FAILURE"
	KindRejected         ResultKind = "REJECTED"
	// KindNoop means no order was needed (flatten of a flat position).
	KindNoop ResultKind = "NOOP"
)

// Result is the outcome of Gateway.Execute.
type Result struct {
	Kind     ResultKind
	Intent   domain.OrderIntent
	Fill     domain.Fill
	Attempts int
	Err      error

	// Escalated is set when a failed emergency intent triggered shutdown.
	Escalated bool

	// Closing is set when the fill reduced an existing position; Realized
	// is the P&L of the closed quantity, derived from the fill price.
	Closing  bool
	Realized decimal.Decimal
}

// Filled reports whether the broker executed the order.
func (r Result) Filled() bool {
	return r.Kind == KindFilled
}
