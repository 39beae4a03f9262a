package notify

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Embed colors by severity.
var severityColors = map[string]int{
	SeverityInfo:     0x2ecc71,
	SeverityWarning:  0xf1c40f,
	SeverityCritical: 0xe74c3c,
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL       string
	Username  string
	Timeout   time.Duration
	QueueSize int
	Logger    *log.Logger
}

// WebhookNotifier posts Discord-style embeds to a webhook URL.
// Delivery happens on a background worker; when the queue is full the
// notification is logged and dropped.
type WebhookNotifier struct {
	client   *resty.Client
	url      string
	username string
	queue    chan Notification
	logger   *log.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWebhookNotifier creates and starts a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	username := cfg.Username
	if username == "" {
		username = "intraday-trader"
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")

	w := &WebhookNotifier{
		client:   client,
		url:      cfg.URL,
		username: username,
		queue:    make(chan Notification, queueSize),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Notify enqueues the notification for delivery. After Close it only logs.
func (w *WebhookNotifier) Notify(n Notification) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Printf("notifier closed, dropping %s: %s", n.Kind, n.Title)
		return
	}
	select {
	case w.queue <- n:
	default:
		w.logger.Printf("notification queue full, dropping %s: %s", n.Kind, n.Title)
	}
}

// Close stops the worker after draining queued notifications.
func (w *WebhookNotifier) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *WebhookNotifier) run() {
	defer close(w.done)
	for n := range w.queue {
		if err := w.send(n); err != nil {
			w.logger.Printf("webhook delivery failed for %s: %v", n.Kind, err)
		}
	}
}

func (w *WebhookNotifier) send(n Notification) error {
	payload := map[string]interface{}{
		"username": w.username,
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("[%s] %s", n.Kind, n.Title),
				"description": n.Message,
				"color":       severityColors[n.Severity],
				"timestamp":   n.At.Format(time.RFC3339),
			},
		},
	}

	resp, err := w.client.R().SetBody(payload).Post(w.url)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode())
	}
	return nil
}
