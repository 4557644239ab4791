package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketwatcher/pkg/config"
	errs "marketwatcher/pkg/errors"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/ratelimit"
	"marketwatcher/pkg/retry"
)

// State is the scanner lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Paused
	Errored
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Extractor produces the current entity set from the account view. The
// orchestrator implements it on top of the driven browser session.
type Extractor interface {
	Extract(ctx context.Context) ([]Entity, error)
}

// SessionControl lets a manual scan bring the underlying session up and
// down when the polling loop is idle.
type SessionControl interface {
	Ensure(ctx context.Context) error
	Release(ctx context.Context) error
}

// Callbacks receive classified scan outcomes. Failures inside a
// callback are caught and logged; they never abort the loop.
type Callbacks struct {
	OnAdded   func(entity Entity)
	OnChanged func(old, new Entity, changes []string)
	OnRemoved func(entity Entity)
	OnError   func(err error)
}

// Scanner polls the account view, diffs it against the persisted
// known-entity map, and reports added/changed/removed entities.
type Scanner struct {
	cfg       config.ScannerConfig
	extractor Extractor
	session   SessionControl
	limiter   ratelimit.Limiter
	detector  *Detector
	cache     *Cache
	callbacks Callbacks
	logger    logger.Logger

	mu         sync.Mutex
	state      State
	paused     bool
	errorCount int
	lastResult *ScanResult
	cancel     context.CancelFunc
	done       chan struct{}

	// scanMu is the single in-flight guard: a manual scan and the loop
	// must never race the known-entity map.
	scanMu sync.Mutex
	known  map[string]*entry
}

// New creates a scanner. session may be nil when the caller manages the
// session lifecycle itself.
func New(cfg config.ScannerConfig, extractor Extractor, session SessionControl,
	limiter ratelimit.Limiter, cache *Cache, callbacks Callbacks, log logger.Logger) *Scanner {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scanner{
		cfg:       cfg,
		extractor: extractor,
		session:   session,
		limiter:   limiter,
		detector:  NewDetector(cfg.RemovedGrace),
		cache:     cache,
		callbacks: callbacks,
		logger:    log,
		state:     Stopped,
		known:     cache.Load(),
	}
}

// Start launches the polling loop. The interval is clamped to the
// configured minimum so the request rate against the target stays
// bounded no matter what the caller asks for.
func (s *Scanner) Start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return fmt.Errorf("scanner already started (state %s)", s.state)
	}

	if interval < s.cfg.MinInterval {
		s.logger.WarnWithFields("scan interval clamped to minimum", map[string]interface{}{
			"requested": interval.String(),
			"minimum":   s.cfg.MinInterval.String(),
		})
		interval = s.cfg.MinInterval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = Running
	s.paused = false

	go s.run(loopCtx, interval)

	s.logger.InfoWithFields("scanner started", map[string]interface{}{
		"interval": interval.String(),
	})
	return nil
}

// Stop requests a cooperative shutdown and waits for the in-flight scan
// to finish, followed by a final cache flush.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.logger.Info("scanner stopped")
}

// Pause suspends scanning without tearing down the loop. The flag is
// honored whatever the loop is doing, including an error backoff.
func (s *Scanner) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	if s.state == Running || s.state == Errored {
		s.state = Paused
	}
}

// Resume reverses Pause.
func (s *Scanner) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	if s.state == Paused {
		s.state = Running
	}
}

// State returns the current lifecycle state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns the most recent scan result, or nil.
func (s *Scanner) LastResult() *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// ErrorCount returns the number of failed scan ticks since start.
func (s *Scanner) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCount
}

// ManualScan performs one synchronous scan outside the loop's cadence,
// bringing the session up and down when the loop is idle. Concurrent
// manual and scheduled scans serialize on the in-flight guard.
func (s *Scanner) ManualScan(ctx context.Context) (*ScanResult, error) {
	s.mu.Lock()
	idle := s.state == Stopped
	s.mu.Unlock()

	if idle && s.session != nil {
		if err := s.session.Ensure(ctx); err != nil {
			return nil, fmt.Errorf("failed to start session for manual scan: %w", err)
		}
		defer func() {
			if err := s.session.Release(ctx); err != nil {
				s.logger.WithError(err).Warn("failed to release session after manual scan")
			}
		}()
	}

	result, err := s.scanOnce(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// run is the polling loop. Cancellation is checked at the loop top and
// inside every wait; in-flight work always completes first.
func (s *Scanner) run(ctx context.Context, interval time.Duration) {
	defer func() {
		s.scanMu.Lock()
		if err := s.cache.Save(s.known); err != nil {
			s.logger.WithError(err).Warn("final cache flush failed")
		}
		s.scanMu.Unlock()

		s.mu.Lock()
		s.state = Stopped
		s.cancel = nil
		close(s.done)
		s.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		paused := s.paused
		s.mu.Unlock()

		if paused || !s.withinActiveHours(time.Now()) {
			if err := retry.Wait(ctx, minDuration(interval, time.Minute)); err != nil {
				return
			}
			continue
		}

		_, err := s.scanOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			s.mu.Lock()
			s.errorCount++
			s.state = Errored
			s.mu.Unlock()

			s.dispatchError(err)
			s.logger.WithError(err).Error("scan failed, backing off")

			// Back off instead of tight-looping a failing target.
			backoff := minDuration(interval*2, s.cfg.BackoffCap)
			if err := retry.Wait(ctx, backoff); err != nil {
				return
			}

			s.mu.Lock()
			if s.state == Errored {
				s.state = Running
			}
			s.mu.Unlock()
			continue
		}

		if err := retry.Wait(ctx, interval); err != nil {
			return
		}
	}
}

// scanOnce runs a single scan under the in-flight guard: acquire the
// rate limiter, extract, diff, persist, dispatch.
func (s *Scanner) scanOnce(ctx context.Context) (*ScanResult, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	start := time.Now()

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	entities, err := s.extractor.Extract(ctx)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeScan, errs.SeverityMedium, "scan",
			"failed to extract entity set")
	}

	result := s.detector.Diff(s.known, entities)
	result.DurationMs = time.Since(start).Milliseconds()

	// Persist before dispatching so a callback crash can't lose state.
	if err := s.cache.Save(s.known); err != nil {
		result.Errors = append(result.Errors, err.Error())
		s.logger.WithError(err).Warn("failed to persist scanner cache")
	}

	s.dispatch(&result)

	s.mu.Lock()
	s.lastResult = &result
	s.mu.Unlock()

	s.logger.InfoWithFields("scan completed", map[string]interface{}{
		"added":       len(result.Added),
		"changed":     len(result.Changed),
		"removed":     len(result.Removed),
		"duration_ms": result.DurationMs,
	})

	return &result, nil
}

// dispatch invokes the registered callbacks, containing any panic.
func (s *Scanner) dispatch(result *ScanResult) {
	for _, e := range result.Added {
		if s.callbacks.OnAdded != nil {
			s.safeInvoke("on_added", func() { s.callbacks.OnAdded(e) })
		}
	}
	for _, c := range result.Changed {
		if s.callbacks.OnChanged != nil {
			change := c
			s.safeInvoke("on_changed", func() {
				s.callbacks.OnChanged(change.Old, change.New, change.Fields)
			})
		}
	}
	for _, e := range result.Removed {
		if s.callbacks.OnRemoved != nil {
			s.safeInvoke("on_removed", func() { s.callbacks.OnRemoved(e) })
		}
	}
}

func (s *Scanner) dispatchError(err error) {
	if s.callbacks.OnError != nil {
		s.safeInvoke("on_error", func() { s.callbacks.OnError(err) })
	}
}

func (s *Scanner) safeInvoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorWithFields("callback panicked", map[string]interface{}{
				"callback": name,
				"panic":    fmt.Sprintf("%v", r),
			})
		}
	}()
	fn()
}

// withinActiveHours reports whether now falls inside the configured
// hour window. An empty window (start == end) means always active; a
// start after the end wraps past midnight.
func (s *Scanner) withinActiveHours(now time.Time) bool {
	start, end := s.cfg.ActiveHoursStart, s.cfg.ActiveHoursEnd
	if start == end {
		return true
	}

	hour := now.In(s.cfg.ActiveHoursLocation()).Hour()
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
