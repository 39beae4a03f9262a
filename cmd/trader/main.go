// Package main runs the intraday trading service:
// - Market data: websocket quote stream feeding the quote cache
// - Risk: weekly P&L ledger, earnings blackout calendar (file watched)
// - Control loop: exits, gated entries, veto refresh on a fixed cadence
// - Operator: HTTP status, metrics and commands
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"intraday-trader/internal/bridge"
	"intraday-trader/internal/broker"
	"intraday-trader/internal/config"
	"intraday-trader/internal/control"
	"intraday-trader/internal/domain"
	"intraday-trader/internal/execution"
	"intraday-trader/internal/marketdata"
	"intraday-trader/internal/notify"
	"intraday-trader/internal/operator"
	"intraday-trader/internal/position"
	"intraday-trader/internal/risk"
	sig "intraday-trader/internal/signal"
	"intraday-trader/internal/sizing"
	"intraday-trader/internal/state"
	"intraday-trader/internal/storage"
	chstore "intraday-trader/internal/storage/clickhouse"
	"intraday-trader/internal/storage/file"
	"intraday-trader/internal/storage/memory"
	"intraday-trader/internal/storage/migrations"
	pgstore "intraday-trader/internal/storage/postgres"
	"intraday-trader/internal/verification"
)

// allStores holds the persistence the service writes to.
type allStores struct {
	weekly storage.WeeklyPnLStore
	fills  storage.FillStore
}

func main() {
	// Load .env file if exists (never overrides the real environment)
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("WARNING: %v", err)
	}

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", envOr("TRADER_CONFIG", "config/trader.yaml"), "Path to the YAML config")
	operatorAddr := flag.String("operator-addr", os.Getenv("OPERATOR_ADDR"), "Operator HTTP address (overrides config)")
	paper := flag.Bool("paper", false, "Force the paper broker regardless of config")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[trader] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *paper {
		cfg.Execution.Broker = config.BrokerPaper
	}
	if *operatorAddr != "" {
		cfg.Operator.Addr = *operatorAddr
	}

	// Validated by config.Load
	loc, _ := cfg.Location()
	window, _ := cfg.Window.Resolve(cfg.Timezone)
	limits, _ := cfg.Risk.Resolve()
	instruments, _ := cfg.DomainInstruments()
	mode, _ := domain.ParseTradingMode(cfg.Mode)

	logger.Printf("Trading %d instrument(s) %v, mode=%s, window=%s, broker=%s",
		len(instruments), cfg.Symbols(), mode, window, cfg.Execution.Broker)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notifications: log + recent history for /status + optional webhook
	recent := notify.NewRecorder(100)
	notifiers := notify.Multi{
		notify.NewLogNotifier(log.New(os.Stdout, "[notify] ", log.LstdFlags)),
		recent,
	}
	if cfg.Notify.WebhookURL != "" {
		webhook := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:       cfg.Notify.WebhookURL,
			Username:  cfg.Notify.Username,
			QueueSize: cfg.Notify.QueueSize,
			Logger:    log.New(os.Stdout, "[webhook] ", log.LstdFlags),
		})
		defer webhook.Close()
		notifiers = append(notifiers, webhook)
	}

	st := state.New(state.Options{Mode: mode, Notifier: notifiers})

	// Create stores
	stores, cleanup, err := createStores(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	ledger := risk.NewLedger(risk.LedgerOptions{
		DailyLossLimit:  limits.DailyLossLimit,
		WeeklyLossLimit: limits.WeeklyLossLimit,
		Location:        loc,
		Store:           stores.weekly,
		Notifier:        notifiers,
		Logger:          log.New(os.Stdout, "[ledger] ", log.LstdFlags|log.Lshortfile),
	})
	if err := ledger.Load(ctx, time.Now()); err != nil {
		logger.Fatalf("Failed to load weekly P&L: %v", err)
	}
	if stores.fills != nil {
		verifyJournal(ctx, stores.fills, ledger.Snapshot(), logger)
	}

	blackout := risk.NewBlackoutCalendar(risk.BlackoutOptions{
		Freshness: cfg.Blackout.Freshness,
		Location:  loc,
		Notifier:  notifiers,
		Logger:    log.New(os.Stdout, "[blackout] ", log.LstdFlags),
	})
	if cfg.Blackout.Path != "" {
		watcher := risk.NewBlackoutWatcher(cfg.Blackout.Path, blackout, cfg.Blackout.Debounce,
			log.New(os.Stdout, "[blackout] ", log.LstdFlags|log.Lshortfile))
		if err := watcher.Load(); err != nil {
			// Stays stale until a valid file appears
			logger.Printf("WARNING: blackout calendar not loaded: %v", err)
		}
		if err := watcher.Watch(ctx); err != nil {
			logger.Printf("WARNING: blackout calendar not watched: %v", err)
		}
	} else {
		logger.Println("WARNING: no blackout calendar configured; blackout gate reports stale")
	}

	// Market data
	quotes := marketdata.NewQuoteCache()
	stream := marketdata.NewStream(cfg.MarketData.URL, cfg.Symbols(), quotes, st, nil,
		log.New(os.Stdout, "[marketdata] ", log.LstdFlags|log.Lshortfile))
	stream.Start(ctx)
	defer stream.Close()

	// Bridge client (signals, veto, sizing, orders)
	var bridgeClient *bridge.Client
	if cfg.Bridge.URL != "" {
		bridgeClient = bridge.New(bridge.Config{
			BaseURL: cfg.Bridge.URL,
			APIKey:  cfg.Bridge.APIKey,
			Timeout: cfg.Bridge.Timeout,
			Logger:  log.New(os.Stdout, "[bridge] ", log.LstdFlags|log.Lshortfile),
		})
	}

	deps := sig.Deps{Quotes: quotes, Bridge: bridgeClient}
	signals, err := sig.FromConfig(cfg.Signal, deps)
	if err != nil {
		logger.Fatalf("Failed to create signal provider: %v", err)
	}
	veto, err := sig.VetoFromConfig(cfg.Veto.VetoConfig, deps)
	if err != nil {
		logger.Fatalf("Failed to create veto provider: %v", err)
	}
	sizer, err := sizing.FromConfig(cfg.Sizing, bridgeClient)
	if err != nil {
		logger.Fatalf("Failed to create sizing advisor: %v", err)
	}

	brk, err := createBroker(cfg.Execution, bridgeClient, quotes)
	if err != nil {
		logger.Fatalf("Failed to create broker: %v", err)
	}

	tracker := position.NewTracker()
	gateway := execution.NewGateway(brk, execution.Options{
		MaxAttempts:    cfg.Execution.MaxAttempts,
		BaseDelay:      cfg.Execution.BaseDelay,
		MaxDelay:       cfg.Execution.MaxDelay,
		AttemptTimeout: cfg.Execution.AttemptTimeout,
		Tracker:        tracker,
		State:          st,
		Journal:        stores.fills,
		Prices:         quotes,
		Notifier:       notifiers,
		Logger:         log.New(os.Stdout, "[gateway] ", log.LstdFlags|log.Lshortfile),
	})

	loop := control.New(control.Options{
		Config: control.Config{
			Instruments:     instruments,
			Interval:        cfg.Loop.Interval,
			VetoInterval:    cfg.Veto.Interval,
			VetoFreshness:   cfg.Veto.Freshness,
			MaxHoldMinutes:  limits.MaxHoldMinutes,
			StopLossPerUnit: limits.StopLossPerUnit,
			MinConfidence:   limits.MinConfidence,
			Capital:         limits.Capital,
			CallTimeout:     cfg.Loop.CallTimeout,
			ShutdownTimeout: cfg.Loop.ShutdownTimeout,
			Window:          window,
		},
		State:    st,
		Ledger:   ledger,
		Blackout: blackout,
		Tracker:  tracker,
		Gateway:  gateway,
		Signals:  signals,
		Veto:     veto,
		Sizer:    sizer,
		Notifier: notifiers,
		Logger:   log.New(os.Stdout, "[loop] ", log.LstdFlags|log.Lshortfile),
	})

	// Start HTTP server
	ops := operator.NewServer(operator.Options{
		Controller: loop,
		State:      st,
		Ledger:     ledger,
		Positions:  tracker,
		Recent:     recent,
		Addr:       cfg.Operator.Addr,
		Token:      cfg.Operator.Token,
		Logger:     log.New(os.Stdout, "[operator] ", log.LstdFlags),
	})
	go func() {
		if err := ops.ListenAndServe(); err != nil {
			logger.Printf("HTTP server error: %v", err)
		}
	}()

	// Run the control loop
	runErr := make(chan error, 1)
	go func() {
		runErr <- loop.Run(ctx)
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sigCh:
		logger.Printf("Received signal %v, flattening and shutting down...", s)

		// Wait for second signal for immediate shutdown
		go func() {
			s := <-sigCh
			logger.Printf("Received second signal %v, forcing immediate shutdown", s)
			os.Exit(1)
		}()

		// Bounded by the loop's shutdown timeout
		if err := loop.Stop(context.Background()); err != nil {
			logger.Printf("ERROR: positions may remain open: %v", err)
		}
		<-runErr
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("Control loop error: %v", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server shutdown: %v", err)
	}
	shutdownCancel()

	logger.Println("Shutdown complete")
}

// createStores wires the weekly P&L store and the fill journal. Postgres
// and ClickHouse schemas are migrated first when enabled.
func createStores(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (*allStores, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var pool *pgstore.Pool
	needPostgres := cfg.Weekly == config.BackendPostgres
	for _, j := range cfg.Journal {
		needPostgres = needPostgres || j == config.BackendPostgres
	}
	if needPostgres {
		var err error
		pool, err = pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if cfg.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
	}

	stores := &allStores{}
	switch cfg.Weekly {
	case config.BackendMemory:
		logger.Println("WARNING: weekly P&L kept in memory; it will not survive a restart")
		stores.weekly = memory.NewWeeklyPnLStore()
	case config.BackendFile:
		fs, err := file.NewWeeklyPnLStore(cfg.WeeklyPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		stores.weekly = fs
	case config.BackendPostgres:
		stores.weekly = pgstore.NewWeeklyPnLStore(pool)
	}

	var journals []storage.FillStore
	for _, j := range cfg.Journal {
		switch j {
		case config.BackendMemory:
			journals = append(journals, memory.NewFillStore())
		case config.BackendPostgres:
			journals = append(journals, pgstore.NewFillStore(pool))
		case config.BackendClickhouse:
			chConn, err := openClickhouse(ctx, cfg, logger)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			closers = append(closers, func() { chConn.Close() })
			journals = append(journals, chstore.NewFillStore(chConn))
		}
	}
	switch len(journals) {
	case 0:
	case 1:
		stores.fills = journals[0]
	default:
		stores.fills = storage.NewTeeFillStore(journals[0], journals[1:]...)
	}

	return stores, cleanup, nil
}

func openClickhouse(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (*chstore.Conn, error) {
	if cfg.Migrate {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		return conn, nil
	}
	conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return conn, nil
}

// verifyJournal compares the journal with the restored ledger. Mismatches
// are reported, never fatal: journal writes are best-effort.
func verifyJournal(ctx context.Context, fills storage.FillStore, snap risk.LedgerSnapshot, logger *log.Logger) {
	report, err := verification.NewJournalVerifier(fills).Verify(ctx, snap.WeeklyPnL, snap.WeekStart, time.Now())
	if err != nil {
		logger.Printf("WARNING: journal verification failed: %v", err)
		return
	}
	logger.Printf("Journal: %d fill(s) since %s, realized %s (ledger %s)",
		report.Fills, snap.WeekStart.Format(time.DateOnly), report.JournalPnL.StringFixed(2), report.LedgerPnL.StringFixed(2))
	for _, d := range report.Divergences {
		logger.Printf("WARNING: journal divergence %s: ledger=%v journal=%v", d.Field, d.Expected, d.Actual)
	}
	for _, p := range report.OpenPositions {
		logger.Printf("WARNING: journal shows %s %d still open; check the broker and flatten manually", p.Symbol, p.Quantity)
	}
}

// createBroker returns the configured order venue.
func createBroker(cfg config.ExecutionConfig, client *bridge.Client, quotes *marketdata.QuoteCache) (execution.Broker, error) {
	switch cfg.Broker {
	case config.BrokerBridge:
		if client == nil {
			return nil, errors.New("bridge broker requires bridge.url")
		}
		return bridge.NewBroker(client), nil
	default:
		return broker.NewPaper(broker.PaperOptions{
			TickSize:      cfg.Paper.TickSizeDecimal(),
			SlippageTicks: cfg.Paper.SlippageTicks,
			Latency:       cfg.Paper.Latency,
			Prices:        quotes,
			Logger:        log.New(os.Stdout, "[paper] ", log.LstdFlags),
		}), nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
