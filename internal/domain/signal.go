package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a trading signal.
type Direction string

// Signal directions.
const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Actionable reports whether the direction can open a position.
func (d Direction) Actionable() bool {
	return d == DirectionLong || d == DirectionShort
}

// Signal is the per-tick output of a signal provider.
type Signal struct {
	Symbol       string
	Direction    Direction
	Confidence   float64 // 0..1
	CurrentPrice decimal.Decimal
	ExitSignal   bool
	Source       string
	At           time.Time
}

// Veto is the output of the sentiment/veto provider.
type Veto struct {
	Veto   bool
	Reason string
	Score  float64 // 0..1
	Source string
}
