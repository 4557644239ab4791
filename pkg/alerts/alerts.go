package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketwatcher/pkg/config"
	"marketwatcher/pkg/logger"
)

// Alert is the structured payload delivered to sinks.
type Alert struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  string            `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Sink delivers an alert to one destination.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// WebhookSink POSTs alerts as JSON to a configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink with a bounded request timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailSink sends alerts through SMTP.
type EmailSink struct {
	cfg config.EmailConfig
}

// NewEmailSink creates an email sink from SMTP configuration.
func NewEmailSink(cfg config.EmailConfig) *EmailSink {
	return &EmailSink{cfg: cfg}
}

func (e *EmailSink) Name() string { return "email" }

func (e *EmailSink) Send(ctx context.Context, alert Alert) error {
	if e.cfg.Host == "" || len(e.cfg.To) == 0 {
		return fmt.Errorf("email sink not configured")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n\r\n", strings.ToUpper(alert.Severity), alert.Title)
	fmt.Fprintf(&msg, "%s\r\n\r\n", alert.Message)
	for k, v := range alert.Fields {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(&msg, "\r\nalert id: %s\r\ntime: %s\r\n", alert.ID, alert.Timestamp.Format(time.RFC3339))

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, e.cfg.From, e.cfg.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("email delivery failed: %w", err)
	}
	return nil
}

// Notifier fans alerts out to the configured sinks, rate-limited per
// alert key so a flapping failure does not spam operators. Delivery is
// fire-and-forget: failures are logged at debug and swallowed.
type Notifier struct {
	sinks       []Sink
	minInterval time.Duration
	logger      logger.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time

	now func() time.Time
}

// NewNotifier creates a notifier over the given sinks.
func NewNotifier(sinks []Sink, minInterval time.Duration, log logger.Logger) *Notifier {
	if minInterval <= 0 {
		minInterval = 5 * time.Minute
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Notifier{
		sinks:       sinks,
		minInterval: minInterval,
		logger:      log,
		lastSent:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Notify delivers an alert under the given rate-limit key. Returns true
// when the alert was dispatched, false when suppressed by the per-key
// rate limit.
func (n *Notifier) Notify(ctx context.Context, key, title, message, severity string, fields map[string]string) bool {
	n.mu.Lock()
	if last, ok := n.lastSent[key]; ok && n.now().Sub(last) < n.minInterval {
		n.mu.Unlock()
		n.logger.DebugWithFields("alert suppressed by rate limit", map[string]interface{}{
			"key": key,
		})
		return false
	}
	n.lastSent[key] = n.now()
	n.mu.Unlock()

	alert := Alert{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		Timestamp: n.now(),
		Fields:    fields,
	}

	for _, sink := range n.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			// Alert delivery failures never propagate.
			n.logger.DebugWithFields("alert delivery failed", map[string]interface{}{
				"sink":  sink.Name(),
				"key":   key,
				"error": err.Error(),
			})
		}
	}
	return true
}
