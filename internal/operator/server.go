// Package operator exposes the HTTP control surface: health, metrics,
// status and the operator commands.
package operator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/control"
	"intraday-trader/internal/domain"
	"intraday-trader/internal/execution"
	"intraday-trader/internal/notify"
	"intraday-trader/internal/observability"
	"intraday-trader/internal/risk"
	"intraday-trader/internal/state"
)

// DefaultCommandTimeout bounds order-issuing commands.
const DefaultCommandTimeout = 60 * time.Second

// Controller is the command side of the control loop.
type Controller interface {
	Pause() bool
	Resume() bool
	SetMode(mode domain.TradingMode)
	Reset(operator string) bool
	ForceFlatten(ctx context.Context, symbol string) []execution.Result
	EmergencyStop(ctx context.Context, operator string) []execution.Result
	Status() control.Status
}

// StateSource reads the global trading flags.
type StateSource interface {
	Snapshot() state.Snapshot
}

// LedgerSource reads the risk ledger.
type LedgerSource interface {
	Snapshot() risk.LedgerSnapshot
}

// PositionSource lists open positions.
type PositionSource interface {
	OpenPositions() []domain.Position
}

var _ Controller = (*control.Loop)(nil)

// Options configures a Server. Controller, State, Ledger and Positions are
// required.
type Options struct {
	Controller Controller
	State      StateSource
	Ledger     LedgerSource
	Positions  PositionSource

	// Recent is optional; when set /status includes recent notifications.
	Recent *notify.Recorder

	// Addr is the listen address for ListenAndServe.
	Addr string

	// Token, when set, is required as a bearer token on /control routes.
	Token string

	CommandTimeout time.Duration
	Logger         *log.Logger
}

// Server serves the operator HTTP API.
type Server struct {
	opts    Options
	logger  *log.Logger
	started time.Time
	mux     *http.ServeMux
	http    *http.Server
}

// NewServer builds the handler tree.
func NewServer(opts Options) *Server {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[operator] ", log.LstdFlags)
	}

	s := &Server{
		opts:    opts,
		logger:  logger,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", observability.Handler())
	s.mux.HandleFunc("GET /status", s.handleStatus)

	s.mux.HandleFunc("POST /control/pause", s.auth(s.handlePause))
	s.mux.HandleFunc("POST /control/resume", s.auth(s.handleResume))
	s.mux.HandleFunc("POST /control/mode", s.auth(s.handleMode))
	s.mux.HandleFunc("POST /control/reset", s.auth(s.handleReset))
	s.mux.HandleFunc("POST /control/flatten", s.auth(s.handleFlatten))
	s.mux.HandleFunc("POST /control/shutdown", s.auth(s.handleShutdown))

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on Options.Addr until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("Starting HTTP server on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

// CommandRequest is the body accepted by /control routes. Every field is
// optional except where a route says otherwise.
type CommandRequest struct {
	Operator string `json:"operator,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// CommandResponse reports the outcome of a command.
type CommandResponse struct {
	Command string       `json:"command"`
	Changed bool         `json:"changed"`
	Results []ResultView `json:"results,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ResultView is the JSON form of an execution result.
type ResultView struct {
	Kind      string           `json:"kind"`
	Symbol    string           `json:"symbol"`
	Action    string           `json:"action"`
	Reason    string           `json:"reason,omitempty"`
	Quantity  int64            `json:"quantity,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Realized  *decimal.Decimal `json:"realized,omitempty"`
	Attempts  int              `json:"attempts"`
	Escalated bool             `json:"escalated,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func resultViews(results []execution.Result) []ResultView {
	out := make([]ResultView, 0, len(results))
	for _, res := range results {
		v := ResultView{
			Kind:      string(res.Kind),
			Symbol:    res.Intent.Symbol,
			Action:    string(res.Intent.Action),
			Reason:    res.Intent.Reason,
			Attempts:  res.Attempts,
			Escalated: res.Escalated,
		}
		if res.Filled() {
			price := res.Fill.Price
			v.Quantity = res.Fill.SignedQuantity()
			v.Price = &price
		}
		if res.Closing {
			realized := res.Realized
			v.Realized = &realized
		}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		out = append(out, v)
	}
	return out
}

func decodeCommand(r *http.Request) (CommandRequest, error) {
	var req CommandRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return req, err
		}
	}
	if req.Operator == "" {
		req.Operator = r.Header.Get("X-Operator")
	}
	if req.Operator == "" {
		req.Operator = "operator"
	}
	return req, nil
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	changed := s.opts.Controller.Pause()
	s.logger.Printf("pause (changed=%v)", changed)
	writeJSON(w, http.StatusOK, CommandResponse{Command: "pause", Changed: changed})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	changed := s.opts.Controller.Resume()
	s.logger.Printf("resume (changed=%v)", changed)
	writeJSON(w, http.StatusOK, CommandResponse{Command: "resume", Changed: changed})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCommand(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	mode, err := domain.ParseTradingMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prev := s.opts.State.Snapshot().Mode
	s.opts.Controller.SetMode(mode)
	s.logger.Printf("mode %s -> %s by %s", prev, mode, req.Operator)
	writeJSON(w, http.StatusOK, CommandResponse{Command: "mode", Changed: prev != mode})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCommand(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	changed := s.opts.Controller.Reset(req.Operator)
	s.logger.Printf("reset by %s (changed=%v)", req.Operator, changed)
	writeJSON(w, http.StatusOK, CommandResponse{Command: "reset", Changed: changed})
}

func (s *Server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCommand(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CommandTimeout)
	defer cancel()

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	results := s.opts.Controller.ForceFlatten(ctx, symbol)
	s.logger.Printf("flatten %q by %s: %d result(s)", symbol, req.Operator, len(results))
	s.writeResults(w, "flatten", results)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCommand(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CommandTimeout)
	defer cancel()

	results := s.opts.Controller.EmergencyStop(ctx, req.Operator)
	s.logger.Printf("emergency stop by %s: %d result(s)", req.Operator, len(results))
	s.writeResults(w, "shutdown", results)
}

// writeResults answers 200 when every result filled or was a no-op and 502
// otherwise; the body always lists each result.
func (s *Server) writeResults(w http.ResponseWriter, command string, results []execution.Result) {
	resp := CommandResponse{Command: command, Results: resultViews(results)}
	status := http.StatusOK
	for _, res := range results {
		if res.Filled() {
			resp.Changed = true
			continue
		}
		if res.Kind != execution.KindNoop {
			status = http.StatusBadGateway
			resp.Error = "one or more orders failed"
		}
	}
	writeJSON(w, status, resp)
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status   string         `json:"status"`
	Uptime   string         `json:"uptime"`
	Loop     LoopView       `json:"loop"`
	State    StateResponse  `json:"state"`
	Ledger   LedgerResponse `json:"ledger"`
	Open     []PositionView `json:"positions"`
	Recent   []NoticeView   `json:"recent_notifications,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// LoopView mirrors control.Status.
type LoopView struct {
	Phase        string    `json:"phase"`
	LastTick     time.Time `json:"last_tick,omitempty"`
	LastTickErr  string    `json:"last_tick_error,omitempty"`
	SessionDate  string    `json:"session_date,omitempty"`
	VetoStale    bool      `json:"veto_stale"`
	LastVetoOK   time.Time `json:"last_veto_ok,omitempty"`
	TickBudgetOK bool      `json:"tick_budget_ok"`
	Interval     string    `json:"interval"`
	Window       string    `json:"window"`
}

// StateResponse mirrors state.Snapshot.
type StateResponse struct {
	Mode                string    `json:"mode"`
	Paused              bool      `json:"paused"`
	MarketDataConnected bool      `json:"market_data_connected"`
	Shutdown            bool      `json:"shutdown"`
	ShutdownReason      string    `json:"shutdown_reason,omitempty"`
	ShutdownAt          time.Time `json:"shutdown_at,omitempty"`
	NewsVeto            bool      `json:"news_veto"`
	VetoReason          string    `json:"veto_reason,omitempty"`
	VetoSource          string    `json:"veto_source,omitempty"`
}

// LedgerResponse mirrors risk.LedgerSnapshot.
type LedgerResponse struct {
	DailyPnL           decimal.Decimal `json:"daily_pnl"`
	WeeklyPnL          decimal.Decimal `json:"weekly_pnl"`
	DailyLossLimit     decimal.Decimal `json:"daily_loss_limit"`
	WeeklyLossLimit    decimal.Decimal `json:"weekly_loss_limit"`
	DailyLimitExceeded bool            `json:"daily_limit_exceeded"`
	WeeklyLimitHit     bool            `json:"weekly_limit_hit"`
	WeekStart          string          `json:"week_start"`
}

// PositionView is one open position.
type PositionView struct {
	Symbol     string          `json:"symbol"`
	Quantity   int64           `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`
	AgeMinutes int64           `json:"age_minutes"`
}

// NoticeView is a recorded notification.
type NoticeView struct {
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// handleStatus returns trading status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	ls := s.opts.Controller.Status()
	snap := s.opts.State.Snapshot()
	ledger := s.opts.Ledger.Snapshot()

	resp := StatusResponse{
		Status: "running",
		Uptime: now.Sub(s.started).Round(time.Second).String(),
		Loop: LoopView{
			Phase:        string(ls.Phase),
			LastTick:     ls.LastTick,
			LastTickErr:  ls.LastTickErr,
			VetoStale:    ls.VetoStale,
			LastVetoOK:   ls.LastVetoOK,
			TickBudgetOK: ls.TickBudgetOK,
			Interval:     ls.Interval.String(),
			Window:       ls.Window,
		},
		State: StateResponse{
			Mode:                string(snap.Mode),
			Paused:              snap.Paused,
			MarketDataConnected: snap.MarketDataConnected,
			Shutdown:            snap.Shutdown.Active,
			ShutdownReason:      snap.Shutdown.Reason,
			ShutdownAt:          snap.Shutdown.TriggeredAt,
			NewsVeto:            snap.Veto.Active,
			VetoReason:          snap.Veto.Reason,
			VetoSource:          snap.Veto.Source,
		},
		Ledger: LedgerResponse{
			DailyPnL:           ledger.DailyPnL,
			WeeklyPnL:          ledger.WeeklyPnL,
			DailyLossLimit:     ledger.DailyLossLimit,
			WeeklyLossLimit:    ledger.WeeklyLossLimit,
			DailyLimitExceeded: ledger.DailyLimitExceeded,
			WeeklyLimitHit:     ledger.WeeklyLimitHit,
			WeekStart:          ledger.WeekStart.Format(time.DateOnly),
		},
		Open: []PositionView{},
	}
	if !ls.SessionDate.IsZero() {
		resp.Loop.SessionDate = ls.SessionDate.Format(time.DateOnly)
	}

	switch {
	case snap.Shutdown.Active:
		resp.Status = "shutdown"
	case snap.Paused:
		resp.Status = "paused"
	}
	if !ls.TickBudgetOK {
		resp.Warnings = append(resp.Warnings, "tick interval shorter than worst-case order latency")
	}
	if ls.VetoStale {
		resp.Warnings = append(resp.Warnings, "news veto feed stale")
	}

	for _, p := range s.opts.Positions.OpenPositions() {
		resp.Open = append(resp.Open, PositionView{
			Symbol:     p.Symbol,
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			EntryTime:  p.EntryTime,
			AgeMinutes: int64(p.Age(now) / time.Minute),
		})
	}

	if s.opts.Recent != nil {
		for _, n := range s.opts.Recent.All() {
			resp.Recent = append(resp.Recent, NoticeView{
				Kind:     string(n.Kind),
				Severity: n.Severity,
				Title:    n.Title,
				Message:  n.Message,
				At:       n.At,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
