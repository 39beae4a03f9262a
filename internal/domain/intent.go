package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the order action of an intent.
type Action string

// Order actions.
const (
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionFlatten Action = "FLATTEN"
)

// Exit reason codes attached to FLATTEN intents.
const (
	ReasonStopLoss        = "stop-loss"
	ReasonMaxHold         = "max-hold"
	ReasonExitSignal      = "exit-signal"
	ReasonDailyLimit      = "daily-loss-limit"
	ReasonOperatorFlatten = "operator-flatten"
	ReasonOperatorStop    = "operator-shutdown"
	ReasonProcessShutdown = "process-shutdown"
	ReasonEntry           = "entry"
)

// OrderIntent is a single trading decision handed to the execution gateway.
// Quantity is always positive; direction comes from Action (or, for FLATTEN,
// from the sign of the held position).
type OrderIntent struct {
	ID             string
	Symbol         string
	Action         Action
	Quantity       int64
	ReferencePrice decimal.Decimal
	IsExit         bool
	Emergency      bool // forces execution past throttles; escalates on failure
	Reason         string
	Mode           TradingMode
	CreatedAt      time.Time
}

// Side of an order as submitted to the broker.
type Side string

// Broker order sides.
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is the broker-level request derived from an intent.
type Order struct {
	ClientOrderID  string
	Symbol         string
	Side           Side
	Quantity       int64
	ReferencePrice decimal.Decimal
}

// Fill is what the broker actually executed. Price and quantity may differ
// from the intent; realized P&L must be derived from the fill.
type Fill struct {
	ClientOrderID string
	BrokerOrderID string
	Symbol        string
	Side          Side
	Quantity      int64
	Price         decimal.Decimal
	FilledAt      time.Time
}

// SignedQuantity returns the fill quantity signed by side (+buy, -sell).
func (f Fill) SignedQuantity() int64 {
	if f.Side == SideSell {
		return -f.Quantity
	}
	return f.Quantity
}
