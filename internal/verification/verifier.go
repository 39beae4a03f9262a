// Package verification reconciles the fill journal against the risk ledger.
// It replays the current week's journaled fills, compares the realized P&L
// with the ledger's restored weekly value and reports any position the
// journal says is still open.
package verification

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/storage"
)

// Tolerance is the largest P&L difference treated as a match.
var Tolerance = decimal.New(1, -2)

// FieldDivergence represents a mismatch between journal and ledger values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // ledger value
	Actual   interface{} // replayed value
}

// OpenPosition is a net quantity left open by the journaled fills.
type OpenPosition struct {
	Symbol   string
	Quantity int64
}

// Report is the result of one reconciliation.
type Report struct {
	WeekStart     time.Time
	Fills         int
	JournalPnL    decimal.Decimal
	LedgerPnL     decimal.Decimal
	Match         bool
	Divergences   []FieldDivergence
	OpenPositions []OpenPosition // sorted by symbol
}

// Verifier reconciles journaled fills against the ledger.
type Verifier interface {
	// Verify replays fills in [weekStart, now] and compares them with the
	// ledger's weekly realized P&L.
	Verify(ctx context.Context, ledgerPnL decimal.Decimal, weekStart, now time.Time) (*Report, error)
}

// JournalVerifier implements Verifier over a FillStore.
type JournalVerifier struct {
	fills storage.FillStore
}

var _ Verifier = (*JournalVerifier)(nil)

// NewJournalVerifier creates a JournalVerifier.
func NewJournalVerifier(fills storage.FillStore) *JournalVerifier {
	return &JournalVerifier{fills: fills}
}

// Verify implements Verifier.
func (v *JournalVerifier) Verify(ctx context.Context, ledgerPnL decimal.Decimal, weekStart, now time.Time) (*Report, error) {
	records, err := v.fills.GetByTimeRange(ctx, weekStart, now)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	pnl, open := ReplayFills(records)
	report := &Report{
		WeekStart:     weekStart,
		Fills:         len(records),
		JournalPnL:    pnl,
		LedgerPnL:     ledgerPnL,
		Divergences:   ComparePnL(ledgerPnL, pnl),
		OpenPositions: open,
	}
	report.Match = len(report.Divergences) == 0
	return report, nil
}

// ReplayFills sums realized P&L and nets signed quantity per symbol in fill
// time order. Only non-zero positions are returned.
func ReplayFills(records []*domain.FillRecord) (decimal.Decimal, []OpenPosition) {
	sorted := make([]*domain.FillRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FilledAt.Before(sorted[j].FilledAt)
	})

	pnl := decimal.Zero
	net := make(map[string]int64)
	for _, r := range sorted {
		pnl = pnl.Add(r.RealizedPnL)
		qty := r.Quantity
		if r.Side == domain.SideSell {
			qty = -qty
		}
		net[r.Symbol] += qty
	}

	var open []OpenPosition
	for symbol, qty := range net {
		if qty != 0 {
			open = append(open, OpenPosition{Symbol: symbol, Quantity: qty})
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })
	return pnl, open
}

// ComparePnL returns a divergence when the values differ by more than
// Tolerance.
func ComparePnL(ledger, journal decimal.Decimal) []FieldDivergence {
	if decimalEquals(ledger, journal) {
		return nil
	}
	return []FieldDivergence{{
		Field:    "WeeklyPnL",
		Expected: ledger.String(),
		Actual:   journal.String(),
	}}
}

func decimalEquals(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
