package signal

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/bridge"
	"intraday-trader/internal/domain"
)

// Provider types.
const (
	TypeStatic = "static"
	TypeQuote  = "quote"
	TypeBridge = "bridge"
	TypeNone   = "none"
)

// Factory errors
var (
	ErrUnknownProviderType = errors.New("unknown signal provider type")
	ErrUnknownVetoType     = errors.New("unknown veto provider type")
	ErrMissingBridge       = errors.New("bridge provider requires a bridge client")
	ErrMissingQuotes       = errors.New("quote provider requires a quote source")
	ErrInvalidDirection    = errors.New("static provider requires direction LONG, SHORT or NEUTRAL")
	ErrInvalidConfidence   = errors.New("static provider confidence must be within [0,1]")
	ErrInvalidPrice        = errors.New("static provider requires a positive price")
)

// StaticConfig configures the static provider.
type StaticConfig struct {
	Direction  string  `yaml:"direction"`
	Confidence float64 `yaml:"confidence"`
	Price      string  `yaml:"price"`
	ExitSignal bool    `yaml:"exit_signal"`
}

// Config selects and configures the signal provider.
type Config struct {
	Type        string        `yaml:"type"`
	Static      StaticConfig  `yaml:"static"`
	MaxQuoteAge time.Duration `yaml:"max_quote_age"`
}

// VetoConfig selects the veto provider.
type VetoConfig struct {
	Type string `yaml:"type"`
}

// Deps carries the collaborators a provider may need.
type Deps struct {
	Quotes QuoteSource
	Bridge *bridge.Client
}

// FromConfig creates a Provider from cfg.
// Validates required parameters per provider type.
func FromConfig(cfg Config, deps Deps) (Provider, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeStatic:
		return fromStaticConfig(cfg.Static)
	case TypeQuote:
		if deps.Quotes == nil {
			return nil, ErrMissingQuotes
		}
		return NewQuoteMonitor(deps.Quotes, cfg.MaxQuoteAge), nil
	case TypeBridge:
		if deps.Bridge == nil {
			return nil, ErrMissingBridge
		}
		return deps.Bridge, nil
	default:
		return nil, ErrUnknownProviderType
	}
}

// VetoFromConfig creates a VetoProvider from cfg. An empty type means none.
func VetoFromConfig(cfg VetoConfig, deps Deps) (VetoProvider, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return NoVeto{}, nil
	case TypeBridge:
		if deps.Bridge == nil {
			return nil, ErrMissingBridge
		}
		return deps.Bridge, nil
	default:
		return nil, ErrUnknownVetoType
	}
}

// fromStaticConfig creates a Static provider from config.
func fromStaticConfig(cfg StaticConfig) (*Static, error) {
	dir := domain.Direction(strings.ToUpper(cfg.Direction))
	if !dir.Actionable() && dir != domain.DirectionNeutral {
		return nil, ErrInvalidDirection
	}
	if cfg.Confidence < 0 || cfg.Confidence > 1 {
		return nil, ErrInvalidConfidence
	}
	price, err := decimal.NewFromString(cfg.Price)
	if err != nil || !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	return NewStatic(dir, cfg.Confidence, price, cfg.ExitSignal), nil
}
