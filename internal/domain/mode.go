package domain

import (
	"fmt"
	"strings"
)

// TradingMode selects which instrument classes may receive new entries.
type TradingMode string

// Trading modes.
const (
	ModeEquity     TradingMode = "EQUITY"
	ModeDerivative TradingMode = "DERIVATIVE"
	ModeBoth       TradingMode = "BOTH"
)

// InstrumentClass is the class of a tradable instrument.
type InstrumentClass string

// Instrument classes.
const (
	ClassEquity     InstrumentClass = "EQUITY"
	ClassDerivative InstrumentClass = "DERIVATIVE"
)

// ParseTradingMode parses a case-insensitive mode name.
func ParseTradingMode(s string) (TradingMode, error) {
	switch TradingMode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeEquity:
		return ModeEquity, nil
	case ModeDerivative:
		return ModeDerivative, nil
	case ModeBoth:
		return ModeBoth, nil
	default:
		return "", fmt.Errorf("unknown trading mode %q", s)
	}
}

// Allows reports whether entries for the given class are permitted.
func (m TradingMode) Allows(class InstrumentClass) bool {
	switch m {
	case ModeBoth:
		return true
	case ModeEquity:
		return class == ClassEquity
	case ModeDerivative:
		return class == ClassDerivative
	default:
		return false
	}
}

// Instrument is a configured tradable symbol.
type Instrument struct {
	Symbol string
	Class  InstrumentClass
}
