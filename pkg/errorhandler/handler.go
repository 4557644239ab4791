package errorhandler

import (
	"context"
	"fmt"
	"time"

	"marketwatcher/pkg/alerts"
	"marketwatcher/pkg/breaker"
	errs "marketwatcher/pkg/errors"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/retry"
)

// HealthStatus is the operator-facing aggregate state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// Health is the aggregate view derived from recent errors and breaker
// states. Operators see this, never raw internal failures.
type Health struct {
	Status       HealthStatus       `json:"status"`
	OpenBreakers int                `json:"open_breakers"`
	RecentErrors int                `json:"recent_errors"`
	Breakers     []breaker.Snapshot `json:"breakers"`
	ErrorStats   errs.Stats         `json:"error_stats"`
	CheckedAt    time.Time          `json:"checked_at"`
}

// Handler combines the breaker registry, retry policy, alert routing and
// bounded error history behind one surface.
type Handler struct {
	registry *breaker.Registry
	retrier  *retry.Retrier
	notifier *alerts.Notifier
	history  *errs.History
	logger   logger.Logger
}

// New creates a Handler.
func New(registry *breaker.Registry, retrier *retry.Retrier, notifier *alerts.Notifier, log logger.Logger) *Handler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Handler{
		registry: registry,
		retrier:  retrier,
		notifier: notifier,
		history:  errs.NewHistory(errs.DefaultHistoryCapacity),
		logger:   log,
	}
}

// Guarded runs op behind the named circuit breaker. When the breaker is
// Open and still cooling down, the call fails fast with a circuit_open
// error without invoking op.
func (h *Handler) Guarded(ctx context.Context, name string, op func(ctx context.Context) error) error {
	b := h.registry.Get(name)

	if !b.CanExecute() {
		err := errs.New(errs.ErrorTypeCircuitOpen, errs.SeverityMedium, name,
			fmt.Sprintf("circuit breaker %q is open", name))
		h.Handle(ctx, err)
		return err
	}

	err := op(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// GuardedWithRetry composes the retry policy inside the breaker guard:
// one guarded call is one retried sequence, and the breaker records the
// final outcome. Exhausting all attempts records a high-severity error.
func (h *Handler) GuardedWithRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	return h.Guarded(ctx, name, func(ctx context.Context) error {
		err := h.retrier.Do(ctx, func() error { return op(ctx) })
		if err != nil {
			h.Handle(ctx, errs.Wrap(err, errs.TypeOf(err), errs.SeverityHigh, name,
				"operation failed after retries"))
		}
		return err
	})
}

// Handle records an error into the bounded history and alerts on
// high/critical severity. Lower severities are recorded only.
func (h *Handler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	h.history.Add(err)

	severity := errs.SeverityOf(err)
	kind := errs.TypeOf(err)

	fields := map[string]interface{}{
		"type":     string(kind),
		"severity": severity.String(),
	}

	switch severity {
	case errs.SeverityHigh, errs.SeverityCritical:
		h.logger.ErrorWithFields(err.Error(), fields)
		if h.notifier != nil {
			key := fmt.Sprintf("%s:%s", kind, severity)
			h.notifier.Notify(ctx, key, "marketwatcher error", err.Error(), severity.String(), map[string]string{
				"type": string(kind),
			})
		}
	case errs.SeverityMedium:
		h.logger.WarnWithFields(err.Error(), fields)
	default:
		h.logger.DebugWithFields(err.Error(), fields)
	}
}

// History exposes the bounded error history.
func (h *Handler) History() *errs.History {
	return h.history
}

// Registry exposes the breaker registry.
func (h *Handler) Registry() *breaker.Registry {
	return h.registry
}

// Health derives the aggregate status: any open breaker or recent
// critical error degrades, sustained high-severity error volume goes
// critical.
func (h *Handler) Health() Health {
	now := time.Now()
	open := h.registry.OpenCount()
	recentHigh := h.history.CountSince(now.Add(-15*time.Minute), errs.SeverityHigh)
	recentCritical := h.history.CountSince(now.Add(-15*time.Minute), errs.SeverityCritical)

	status := HealthHealthy
	switch {
	case recentCritical > 0 || (open > 0 && recentHigh >= 5):
		status = HealthCritical
	case open > 0 || recentHigh > 0:
		status = HealthDegraded
	}

	return Health{
		Status:       status,
		OpenBreakers: open,
		RecentErrors: recentHigh,
		Breakers:     h.registry.Snapshots(),
		ErrorStats:   h.history.Stats(),
		CheckedAt:    now,
	}
}
