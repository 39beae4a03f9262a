package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// StreamConfig configures websocket behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default websocket configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      15 * time.Second,
		ReadTimeout:       45 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// ConnectionListener is told when the feed connects or drops.
type ConnectionListener interface {
	SetMarketDataConnected(connected bool)
}

// Stream subscribes to quotes for a fixed symbol set and feeds a QuoteCache.
// It reconnects with capped exponential backoff until closed.
type Stream struct {
	endpoint string
	symbols  []string
	config   StreamConfig
	cache    *QuoteCache
	listener ConnectionListener
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStream creates a Stream. A nil config uses DefaultStreamConfig.
func NewStream(endpoint string, symbols []string, cache *QuoteCache, listener ConnectionListener, config *StreamConfig, logger *log.Logger) *Stream {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Stream{
		endpoint: endpoint,
		symbols:  symbols,
		config:   cfg,
		cache:    cache,
		listener: listener,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the connect/read loop in the background. A feed that is down
// at startup is retried; the trading loop stays idle until it connects.
func (s *Stream) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Close stops the stream and waits for its goroutines.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Stream) run(ctx context.Context) {
	defer s.wg.Done()

	delay := s.config.ReconnectDelay
	for !s.closed.Load() {
		err := s.session(ctx)
		s.setConnected(false)
		if s.closed.Load() || ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Printf("quote stream: %v (reconnecting in %s)", err, delay)
		}

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// session dials, subscribes and reads until the connection fails.
func (s *Stream) session(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		conn.Close()
	}()

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.setConnected(true)

	pingDone := make(chan struct{})
	defer close(pingDone)
	s.wg.Add(1)
	go s.pingLoop(conn, pingDone)

	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		s.handleMessage(message)
	}
}

// connect establishes websocket connection.
func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return nil, fmt.Errorf("stream closed")
	}
	s.conn = conn
	return conn, nil
}

func (s *Stream) subscribe(conn *websocket.Conn) error {
	req := subscribeRequest{Action: "subscribe", Symbols: s.symbols}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *Stream) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.connMu.Unlock()
			if err != nil {
				// reader notices the dead connection
				return
			}
		}
	}
}

func (s *Stream) handleMessage(message []byte) {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Printf("quote stream: bad message: %v", err)
		return
	}

	switch strings.ToLower(msg.Type) {
	case "quote", "trade":
		if msg.Symbol == "" || !msg.Price.IsPositive() {
			return
		}
		at := time.Now()
		if msg.Timestamp > 0 {
			at = time.UnixMilli(msg.Timestamp)
		}
		s.cache.Update(Quote{Symbol: msg.Symbol, Price: msg.Price, At: at})
	case "error":
		s.logger.Printf("quote stream: server error: %s", msg.Message)
	}
}

func (s *Stream) setConnected(connected bool) {
	if s.listener != nil {
		s.listener.SetMarketDataConnected(connected)
	}
}

// Websocket message types

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type streamMessage struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"ts"` // unix ms
	Message   string          `json:"message"`
}
