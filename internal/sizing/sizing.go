// Package sizing decides how many units an entry should buy or sell.
package sizing

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/bridge"
)

// Advisor returns the entry quantity for symbol. Zero means skip the entry.
type Advisor interface {
	SizeFor(ctx context.Context, symbol string, availableCapital, price decimal.Decimal) (int64, error)
}

// Advisor types.
const (
	TypeFixed    = "fixed"
	TypeFraction = "fraction"
	TypeBridge   = "bridge"
)

// Factory errors
var (
	ErrUnknownAdvisorType = errors.New("unknown sizing advisor type")
	ErrMissingQuantity    = errors.New("fixed sizing requires a positive quantity")
	ErrInvalidFraction    = errors.New("fraction sizing requires a fraction within (0,1]")
	ErrMissingBridge      = errors.New("bridge sizing requires a bridge client")
	ErrInvalidPrice       = errors.New("price must be positive")
)

// Config selects and configures the sizing advisor.
type Config struct {
	Type        string  `yaml:"type"`
	Quantity    int64   `yaml:"quantity"`
	Fraction    float64 `yaml:"fraction"`
	MaxQuantity int64   `yaml:"max_quantity"`
}

// FixedQuantity always sizes the same number of units.
type FixedQuantity int64

// SizeFor implements Advisor.
func (f FixedQuantity) SizeFor(context.Context, string, decimal.Decimal, decimal.Decimal) (int64, error) {
	return int64(f), nil
}

// FixedFraction commits a fraction of available capital:
// floor(capital * fraction / price), capped at MaxQuantity when set.
type FixedFraction struct {
	Fraction    decimal.Decimal
	MaxQuantity int64
}

// SizeFor implements Advisor.
func (f FixedFraction) SizeFor(_ context.Context, _ string, availableCapital, price decimal.Decimal) (int64, error) {
	if !price.IsPositive() {
		return 0, ErrInvalidPrice
	}
	if !availableCapital.IsPositive() {
		return 0, nil
	}
	qty := availableCapital.Mul(f.Fraction).Div(price).Floor().IntPart()
	if f.MaxQuantity > 0 && qty > f.MaxQuantity {
		qty = f.MaxQuantity
	}
	return qty, nil
}

var (
	_ Advisor = FixedQuantity(0)
	_ Advisor = FixedFraction{}
)

// FromConfig creates an Advisor from cfg.
func FromConfig(cfg Config, client *bridge.Client) (Advisor, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeFixed:
		if cfg.Quantity <= 0 {
			return nil, ErrMissingQuantity
		}
		return FixedQuantity(cfg.Quantity), nil
	case TypeFraction:
		if cfg.Fraction <= 0 || cfg.Fraction > 1 {
			return nil, ErrInvalidFraction
		}
		return FixedFraction{
			Fraction:    decimal.NewFromFloat(cfg.Fraction),
			MaxQuantity: cfg.MaxQuantity,
		}, nil
	case TypeBridge:
		if client == nil {
			return nil, ErrMissingBridge
		}
		return client, nil
	default:
		return nil, ErrUnknownAdvisorType
	}
}
