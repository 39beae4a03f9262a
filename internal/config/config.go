// Package config loads the trader configuration from a YAML file, a .env
// file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"intraday-trader/internal/control"
	"intraday-trader/internal/domain"
	"intraday-trader/internal/signal"
	"intraday-trader/internal/sizing"
)

// Validation errors.
var (
	ErrNoInstruments   = errors.New("at least one instrument is required")
	ErrInvalidDecimal  = errors.New("invalid decimal value")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidWindow   = errors.New("invalid trading window")
	ErrInvalidStorage  = errors.New("invalid storage configuration")
	ErrInvalidBroker   = errors.New("invalid broker configuration")
	ErrMissingEndpoint = errors.New("missing endpoint")
)

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendFile       = "file"
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
)

// Broker kinds.
const (
	BrokerPaper  = "paper"
	BrokerBridge = "bridge"
)

// Instrument is a configured symbol.
type Instrument struct {
	Symbol string `yaml:"symbol"`
	Class  string `yaml:"class"`
}

// LoopConfig configures the control loop cadence.
type LoopConfig struct {
	Interval        time.Duration `yaml:"interval"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WindowConfig is the trading session in Timezone.
type WindowConfig struct {
	Open     string   `yaml:"open"`
	Close    string   `yaml:"close"`
	Weekdays []string `yaml:"weekdays"`
}

// RiskConfig holds limits and exit thresholds. Money values are decimal
// strings; a limit <= 0 disables it.
type RiskConfig struct {
	DailyLossLimit  string  `yaml:"daily_loss_limit"`
	WeeklyLossLimit string  `yaml:"weekly_loss_limit"`
	StopLossPerUnit string  `yaml:"stop_loss_per_unit"`
	MaxHoldMinutes  int64   `yaml:"max_hold_minutes"`
	MinConfidence   float64 `yaml:"min_confidence"`
	Capital         string  `yaml:"capital"`
}

// VetoConfig configures the news veto feed.
type VetoConfig struct {
	signal.VetoConfig `yaml:",inline"`
	Interval          time.Duration `yaml:"interval"`
	Freshness         time.Duration `yaml:"freshness"`
}

// BlackoutConfig configures the earnings calendar file.
type BlackoutConfig struct {
	Path      string        `yaml:"path"`
	Freshness time.Duration `yaml:"freshness"`
	Debounce  time.Duration `yaml:"debounce"`
}

// PaperConfig configures the paper broker.
type PaperConfig struct {
	TickSize      string        `yaml:"tick_size"`
	SlippageTicks int64         `yaml:"slippage_ticks"`
	Latency       time.Duration `yaml:"latency"`
}

// ExecutionConfig configures the gateway and broker.
type ExecutionConfig struct {
	Broker         string        `yaml:"broker"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Paper          PaperConfig   `yaml:"paper"`
}

// BridgeConfig configures the strategy/broker bridge.
type BridgeConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// MarketDataConfig configures the quote stream.
type MarketDataConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig selects the weekly P&L store and the fill journals.
type StorageConfig struct {
	Weekly        string   `yaml:"weekly"`
	WeeklyPath    string   `yaml:"weekly_path"`
	Journal       []string `yaml:"journal"`
	PostgresDSN   string   `yaml:"-"`
	ClickhouseDSN string   `yaml:"-"`
	Migrate       bool     `yaml:"migrate"`
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"-"`
	QueueSize  int    `yaml:"queue_size"`
	Username   string `yaml:"username"`
}

// OperatorConfig configures the HTTP control surface.
type OperatorConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"-"`
}

// Config is the full trader configuration.
type Config struct {
	Timezone    string           `yaml:"timezone"`
	Mode        string           `yaml:"mode"`
	Instruments []Instrument     `yaml:"instruments"`
	Loop        LoopConfig       `yaml:"loop"`
	Window      WindowConfig     `yaml:"window"`
	Risk        RiskConfig       `yaml:"risk"`
	Veto        VetoConfig       `yaml:"veto"`
	Blackout    BlackoutConfig   `yaml:"blackout"`
	Signal      signal.Config    `yaml:"signal"`
	Sizing      sizing.Config    `yaml:"sizing"`
	Execution   ExecutionConfig  `yaml:"execution"`
	Bridge      BridgeConfig     `yaml:"bridge"`
	MarketData  MarketDataConfig `yaml:"market_data"`
	Storage     StorageConfig    `yaml:"storage"`
	Notify      NotifyConfig     `yaml:"notify"`
	Operator    OperatorConfig   `yaml:"operator"`
}

// Default returns the configuration used for any value the file omits.
func Default() *Config {
	return &Config{
		Timezone: "America/New_York",
		Mode:     string(domain.ModeBoth),
		Loop: LoopConfig{
			Interval:        60 * time.Second,
			CallTimeout:     10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Window: WindowConfig{
			Open:     "09:35",
			Close:    "15:55",
			Weekdays: []string{"mon", "tue", "wed", "thu", "fri"},
		},
		Risk: RiskConfig{
			DailyLossLimit:  "1500",
			WeeklyLossLimit: "4000",
			StopLossPerUnit: "0.50",
			MaxHoldMinutes:  45,
			MinConfidence:   0.6,
			Capital:         "25000",
		},
		Veto: VetoConfig{
			VetoConfig: signal.VetoConfig{Type: signal.TypeNone},
			Interval:   5 * time.Minute,
			Freshness:  30 * time.Minute,
		},
		Blackout: BlackoutConfig{
			Freshness: 72 * time.Hour,
			Debounce:  500 * time.Millisecond,
		},
		Signal: signal.Config{Type: signal.TypeQuote},
		Sizing: sizing.Config{Type: sizing.TypeFixed, Quantity: 1},
		Execution: ExecutionConfig{
			Broker:         BrokerPaper,
			MaxAttempts:    3,
			BaseDelay:      250 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			AttemptTimeout: 5 * time.Second,
			Paper:          PaperConfig{TickSize: "0.01", SlippageTicks: 1},
		},
		Bridge: BridgeConfig{Timeout: 5 * time.Second},
		Storage: StorageConfig{
			Weekly:     BackendFile,
			WeeklyPath: "data/weekly_pnl.json",
			Journal:    []string{BackendMemory},
		},
		Notify:   NotifyConfig{QueueSize: 64, Username: "intraday-trader"},
		Operator: OperatorConfig{Addr: ":9090"},
	}
}

// LoadDotEnv loads .env files without overriding variables already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	setString(&c.Storage.PostgresDSN, "POSTGRES_DSN")
	setString(&c.Storage.ClickhouseDSN, "CLICKHOUSE_DSN")
	setString(&c.Bridge.URL, "BRIDGE_URL")
	setString(&c.Bridge.APIKey, "BRIDGE_API_KEY")
	setString(&c.MarketData.URL, "MARKET_DATA_URL")
	setString(&c.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setString(&c.Operator.Token, "OPERATOR_TOKEN")
	setString(&c.Mode, "TRADER_MODE")
	setString(&c.Timezone, "TRADER_TIMEZONE")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return ErrNoInstruments
	}
	if _, err := c.DomainInstruments(); err != nil {
		return err
	}
	if _, err := domain.ParseTradingMode(c.Mode); err != nil {
		return err
	}
	if _, err := c.Window.Resolve(c.Timezone); err != nil {
		return err
	}
	if _, err := c.Risk.Resolve(); err != nil {
		return err
	}
	if c.Loop.Interval <= 0 {
		return fmt.Errorf("loop.interval must be positive")
	}

	switch c.Execution.Broker {
	case BrokerPaper:
		if _, err := parseDecimal("execution.paper.tick_size", c.Execution.Paper.TickSize); err != nil {
			return err
		}
	case BrokerBridge:
		if c.Bridge.URL == "" {
			return fmt.Errorf("%w: bridge broker: %w", ErrInvalidBroker, ErrMissingEndpoint)
		}
	default:
		return fmt.Errorf("%w: unknown broker %q", ErrInvalidBroker, c.Execution.Broker)
	}

	usesBridge := strings.EqualFold(c.Signal.Type, signal.TypeBridge) ||
		strings.EqualFold(c.Veto.Type, signal.TypeBridge) ||
		strings.EqualFold(c.Sizing.Type, sizing.TypeBridge)
	if usesBridge && c.Bridge.URL == "" {
		return fmt.Errorf("bridge url: %w", ErrMissingEndpoint)
	}
	if c.MarketData.URL == "" {
		return fmt.Errorf("market_data.url: %w", ErrMissingEndpoint)
	}

	return c.validateStorage()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Weekly {
	case BackendMemory:
	case BackendFile:
		if c.Storage.WeeklyPath == "" {
			return fmt.Errorf("%w: weekly_path required for file store", ErrInvalidStorage)
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: POSTGRES_DSN required for postgres weekly store", ErrInvalidStorage)
		}
	default:
		return fmt.Errorf("%w: unknown weekly store %q", ErrInvalidStorage, c.Storage.Weekly)
	}

	for _, j := range c.Storage.Journal {
		switch j {
		case BackendMemory:
		case BackendPostgres:
			if c.Storage.PostgresDSN == "" {
				return fmt.Errorf("%w: POSTGRES_DSN required for postgres journal", ErrInvalidStorage)
			}
		case BackendClickhouse:
			if c.Storage.ClickhouseDSN == "" {
				return fmt.Errorf("%w: CLICKHOUSE_DSN required for clickhouse journal", ErrInvalidStorage)
			}
		default:
			return fmt.Errorf("%w: unknown journal %q", ErrInvalidStorage, j)
		}
	}
	return nil
}

// DomainInstruments converts the configured instruments. Class defaults to
// EQUITY.
func (c *Config) DomainInstruments() ([]domain.Instrument, error) {
	out := make([]domain.Instrument, 0, len(c.Instruments))
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		symbol := strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("instrument without symbol")
		}
		if seen[symbol] {
			return nil, fmt.Errorf("duplicate instrument %s", symbol)
		}
		seen[symbol] = true

		class := domain.InstrumentClass(strings.ToUpper(inst.Class))
		switch class {
		case "":
			class = domain.ClassEquity
		case domain.ClassEquity, domain.ClassDerivative:
		default:
			return nil, fmt.Errorf("instrument %s: unknown class %q", symbol, inst.Class)
		}
		out = append(out, domain.Instrument{Symbol: symbol, Class: class})
	}
	return out, nil
}

// Symbols returns the configured symbols.
func (c *Config) Symbols() []string {
	insts, _ := c.DomainInstruments()
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.Symbol
	}
	return out
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return loadLocation(c.Timezone)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

// Resolve builds the control window in timezone.
func (w WindowConfig) Resolve(timezone string) (control.Window, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return control.Window{}, err
	}
	open, err := control.ParseClock(w.Open)
	if err != nil {
		return control.Window{}, fmt.Errorf("%w: open: %w", ErrInvalidWindow, err)
	}
	closeAt, err := control.ParseClock(w.Close)
	if err != nil {
		return control.Window{}, fmt.Errorf("%w: close: %w", ErrInvalidWindow, err)
	}
	if closeAt <= open {
		return control.Window{}, fmt.Errorf("%w: close %s is not after open %s", ErrInvalidWindow, w.Close, w.Open)
	}
	days, err := control.ParseWeekdays(w.Weekdays)
	if err != nil {
		return control.Window{}, fmt.Errorf("%w: %w", ErrInvalidWindow, err)
	}
	return control.Window{Location: loc, Open: open, Close: closeAt, Weekdays: days}, nil
}

// RiskValues is RiskConfig with money parsed.
type RiskValues struct {
	DailyLossLimit  decimal.Decimal
	WeeklyLossLimit decimal.Decimal
	StopLossPerUnit decimal.Decimal
	Capital         decimal.Decimal
	MaxHoldMinutes  int64
	MinConfidence   float64
}

// Resolve parses the money fields.
func (r RiskConfig) Resolve() (RiskValues, error) {
	var out RiskValues
	var err error
	if out.DailyLossLimit, err = parseDecimal("risk.daily_loss_limit", r.DailyLossLimit); err != nil {
		return out, err
	}
	if out.WeeklyLossLimit, err = parseDecimal("risk.weekly_loss_limit", r.WeeklyLossLimit); err != nil {
		return out, err
	}
	if out.StopLossPerUnit, err = parseDecimal("risk.stop_loss_per_unit", r.StopLossPerUnit); err != nil {
		return out, err
	}
	if out.Capital, err = parseDecimal("risk.capital", r.Capital); err != nil {
		return out, err
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return out, fmt.Errorf("risk.min_confidence %v outside [0,1]", r.MinConfidence)
	}
	if r.MaxHoldMinutes < 0 {
		return out, fmt.Errorf("risk.max_hold_minutes must not be negative")
	}
	out.MaxHoldMinutes = r.MaxHoldMinutes
	out.MinConfidence = r.MinConfidence
	return out, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidDecimal, field, s)
	}
	return d, nil
}

// TickSizeDecimal returns the paper broker tick size.
func (p PaperConfig) TickSizeDecimal() decimal.Decimal {
	d, _ := parseDecimal("execution.paper.tick_size", p.TickSize)
	return d
}
