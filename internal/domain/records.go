package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WeeklyPnLRecord is the restart-recovery value for weekly realized P&L.
// Date is the trading date of the last save.
type WeeklyPnLRecord struct {
	Date      time.Time
	WeeklyPnL decimal.Decimal
	UpdatedAt time.Time
}

// FillRecord is one journaled fill.
type FillRecord struct {
	IntentID    string
	Symbol      string
	Action      Action
	Side        Side
	Quantity    int64
	Price       decimal.Decimal
	RefPrice    decimal.Decimal
	IsExit      bool
	Emergency   bool
	Reason      string
	RealizedPnL decimal.Decimal // zero for entries
	FilledAt    time.Time
}
