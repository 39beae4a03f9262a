// Package notify delivers human-readable state-transition notifications to
// the operator channel.
package notify

import (
	"log"
	"sync"
	"time"
)

// Kind classifies a notification.
type Kind string

// Notification kinds.
const (
	KindShutdown          Kind = "SHUTDOWN"
	KindShutdownReset     Kind = "SHUTDOWN_RESET"
	KindVetoOn            Kind = "VETO_ON"
	KindVetoOff           Kind = "VETO_OFF"
	KindVetoStale         Kind = "VETO_STALE"
	KindVetoFresh         Kind = "VETO_FRESH"
	KindBlackoutStale     Kind = "BLACKOUT_STALE"
	KindBlackoutFresh     Kind = "BLACKOUT_FRESH"
	KindDailyLimit        Kind = "DAILY_LIMIT"
	KindWeeklyLimit       Kind = "WEEKLY_LIMIT"
	KindWeeklyRollover    Kind = "WEEKLY_ROLLOVER"
	KindPaused            Kind = "PAUSED"
	KindResumed           Kind = "RESUMED"
	KindModeChanged       Kind = "MODE_CHANGED"
	KindMarketData        Kind = "MARKET_DATA"
	KindOrderRejected     Kind = "ORDER_REJECTED"
	KindFlattenFailed     Kind = "FLATTEN_FAILED"
	KindPersistenceFailed Kind = "PERSISTENCE_FAILED"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Notification is a single operator-facing message.
type Notification struct {
	Kind     Kind
	Severity string
	Title    string
	Message  string
	At       time.Time
}

// Notifier delivers notifications. Implementations must not block the caller
// for network I/O.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses log.Default().
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (l *LogNotifier) Notify(n Notification) {
	l.logger.Printf("%s [%s] %s: %s", n.Severity, n.Kind, n.Title, n.Message)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify delivers to every notifier in order.
func (m Multi) Notify(n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Nop discards notifications.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(Notification) {}

// Recorder keeps notifications in memory. Used by the status endpoint and tests.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewRecorder keeps at most limit notifications (0 = unbounded).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Notify records the notification.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if r.limit > 0 && len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

// All returns a copy of recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Count returns how many recorded notifications have the given kind.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

// New builds a notification stamped with the current time.
func New(kind Kind, severity, title, message string) Notification {
	return Notification{
		Kind:     kind,
		Severity: severity,
		Title:    title,
		Message:  message,
		At:       time.Now().UTC(),
	}
}
