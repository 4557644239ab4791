package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marketwatcher/pkg/alerts"
	"marketwatcher/pkg/antidetect"
	"marketwatcher/pkg/breaker"
	"marketwatcher/pkg/browser"
	"marketwatcher/pkg/config"
	"marketwatcher/pkg/errorhandler"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/ratelimit"
	"marketwatcher/pkg/retry"
	"marketwatcher/pkg/scanner"
	"marketwatcher/pkg/session"
	"marketwatcher/pkg/vault"
)

const (
	breakerPageLoad    = "page_load"
	breakerSendMessage = "send_message"
)

// Status is the orchestrator lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Report is the aggregate state exposed to the status command.
type Report struct {
	Status   Status              `json:"status"`
	Session  session.Info        `json:"session"`
	Scanner  string              `json:"scanner"`
	LastScan *scanner.ScanResult `json:"last_scan,omitempty"`
	Health   errorhandler.Health `json:"health"`
}

// Scraper wires the browser driver, evasion layer, session manager,
// scanner and error handling into one orchestrated unit.
type Scraper struct {
	cfg       *config.Config
	driver    browser.Driver
	evasion   *antidetect.Manager
	sim       *antidetect.Simulator
	session   *session.Manager
	handler   *errorhandler.Handler
	limiter   ratelimit.Limiter
	extractor *listingExtractor
	scanner   *scanner.Scanner
	notifier  *alerts.Notifier
	logger    logger.Logger

	mu     sync.Mutex
	status Status
	bc     browser.Context
	fp     *antidetect.Fingerprint
}

// New assembles a Scraper from configuration. The driver and vault
// store are injected so tests can substitute fakes.
func New(cfg *config.Config, driver browser.Driver, store *vault.BlobStore,
	notifier *alerts.Notifier, log logger.Logger) (*Scraper, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	registry := breaker.NewRegistryFromConfig(cfg.Breakers)
	retrier := retry.NewRetrier(&retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
			Factor:     cfg.Retry.Factor,
			JitterLow:  0.5,
			JitterHigh: 1.0,
		},
		RetryIf: retry.DefaultRetryIf,
		Logger:  log,
	})
	handler := errorhandler.New(registry, retrier, notifier, log)

	evasion := antidetect.NewManager(rng, log)
	sim := evasion.Simulator()
	sess := session.NewManager(cfg.Session, cfg.Target, cfg.Vault, store, handler, sim, rng, log)

	s := &Scraper{
		cfg:       cfg,
		driver:    driver,
		evasion:   evasion,
		sim:       sim,
		session:   sess,
		handler:   handler,
		limiter:   ratelimit.NewSlidingWindow(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window),
		extractor: newListingExtractor(cfg.Target.Selectors, log),
		notifier:  notifier,
		logger:    log,
		status:    StatusStopped,
	}

	cache, err := scanner.NewCache(cfg.Scanner.CachePath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open scanner cache: %w", err)
	}
	s.scanner = scanner.New(cfg.Scanner, s, s, s.limiter, cache, s.changeCallbacks(), log)

	return s, nil
}

// Start brings the session up and launches the scanner loop.
func (s *Scraper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusStopped {
		s.mu.Unlock()
		return fmt.Errorf("scraper already started (status %s)", s.status)
	}
	s.status = StatusStarting
	s.mu.Unlock()

	if err := s.Ensure(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusStopped
		s.mu.Unlock()
		return err
	}

	if err := s.scanner.Start(ctx, s.cfg.Scanner.Interval); err != nil {
		return err
	}

	s.mu.Lock()
	s.status = StatusRunning
	s.mu.Unlock()

	s.logger.Info("scraper running")
	return nil
}

// Stop winds everything down in dependency order: scanner loop first,
// then the browser context, then the driver.
func (s *Scraper) Stop() {
	s.mu.Lock()
	if s.status == StatusStopped || s.status == StatusStopping {
		s.mu.Unlock()
		return
	}
	s.status = StatusStopping
	s.mu.Unlock()

	s.scanner.Stop()

	if err := s.Release(context.Background()); err != nil {
		s.logger.WithError(err).Warn("failed to close browser context")
	}
	if err := s.driver.Close(); err != nil {
		s.logger.WithError(err).Warn("failed to close browser driver")
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()

	s.logger.Info("scraper stopped")
}

// Ensure establishes an authenticated browser session, creating the
// fingerprinted context on first use. Idempotent while the session is
// valid. Implements the scanner's session control.
func (s *Scraper) Ensure(ctx context.Context) error {
	s.mu.Lock()
	bc := s.bc
	s.mu.Unlock()

	if bc == nil {
		s.mu.Lock()
		if s.fp == nil {
			fp, err := s.evasion.NewFingerprint()
			if err != nil {
				s.mu.Unlock()
				return err
			}
			s.fp = fp
		}
		fp := s.fp
		s.mu.Unlock()

		fresh, err := s.evasion.ConfigureContext(ctx, s.driver, fp)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.bc = fresh
		bc = fresh
		s.mu.Unlock()
	}

	if _, err := s.session.Authenticate(ctx, bc); err != nil {
		return err
	}
	return nil
}

// Release closes the browser context. The session manager keeps its
// vaulted cookies, so the next Ensure can restore without credentials.
func (s *Scraper) Release(ctx context.Context) error {
	s.mu.Lock()
	bc := s.bc
	s.bc = nil
	s.mu.Unlock()

	if bc == nil {
		return nil
	}
	return bc.Close()
}

// Extract implements the scanner's extractor: load the account page
// behind the page_load breaker and read the listing set.
func (s *Scraper) Extract(ctx context.Context) ([]scanner.Entity, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	bc := s.bc
	s.mu.Unlock()

	var entities []scanner.Entity
	err := s.handler.GuardedWithRetry(ctx, breakerPageLoad, func(ctx context.Context) error {
		page, err := bc.NewPage(ctx)
		if err != nil {
			return err
		}
		defer page.Close()

		if err := page.Goto(ctx, s.cfg.Target.AccountURL); err != nil {
			return err
		}
		if err := page.WaitForSelector(ctx, s.cfg.Target.Selectors.ListingItem); err != nil {
			s.captureFailure(ctx, page, "extract")
			return err
		}

		entities, err = s.extractor.extract(ctx, page)
		if err != nil {
			s.captureFailure(ctx, page, "extract")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.session.Touch()
	return entities, nil
}

// OpenListing navigates a fresh page to a listing URL behind the
// page_load breaker. The caller owns the returned page and must close
// it.
func (s *Scraper) OpenListing(ctx context.Context, listingURL string) (browser.Page, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	bc := s.bc
	s.mu.Unlock()

	var page browser.Page
	err := s.handler.Guarded(ctx, breakerPageLoad, func(ctx context.Context) error {
		p, err := bc.NewPage(ctx)
		if err != nil {
			return err
		}
		if err := p.Goto(ctx, listingURL); err != nil {
			p.Close()
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.session.Touch()
	return page, nil
}

// SendMessage opens a listing and sends a message through its contact
// form with human-like input. No retry wraps the send: a duplicated
// message is worse than a failed one.
func (s *Scraper) SendMessage(ctx context.Context, listingURL, message string) error {
	page, err := s.OpenListing(ctx, listingURL)
	if err != nil {
		return err
	}
	defer page.Close()

	sel := s.cfg.Target.Selectors

	return s.handler.Guarded(ctx, breakerSendMessage, func(ctx context.Context) error {
		if err := page.WaitForSelector(ctx, sel.MessageInput); err != nil {
			s.captureFailure(ctx, page, "send_message")
			return err
		}

		if err := s.sim.HumanType(ctx, page, sel.MessageInput, message); err != nil {
			return err
		}
		if err := page.Click(ctx, sel.MessageSend); err != nil {
			s.captureFailure(ctx, page, "send_message")
			return err
		}

		s.session.Touch()
		s.logger.InfoWithFields("message sent", map[string]interface{}{
			"listing": listingURL,
		})
		return nil
	})
}

// Screenshot captures the current account page to the given path, a
// diagnostic for inspecting what the site is actually serving us.
func (s *Scraper) Screenshot(ctx context.Context, path string) error {
	if err := s.Ensure(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	bc := s.bc
	s.mu.Unlock()

	page, err := bc.NewPage(ctx)
	if err != nil {
		return err
	}
	defer page.Close()

	if err := page.Goto(ctx, s.cfg.Target.AccountURL); err != nil {
		return err
	}
	return page.Screenshot(ctx, path)
}

// ManualScan runs one scan outside the loop cadence.
func (s *Scraper) ManualScan(ctx context.Context) (*scanner.ScanResult, error) {
	return s.scanner.ManualScan(ctx)
}

// Session returns the session manager, used by the auth command.
func (s *Scraper) Session() *session.Manager {
	return s.session
}

// Report aggregates the state the status command prints.
func (s *Scraper) Report() Report {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	return Report{
		Status:   status,
		Session:  s.session.Info(),
		Scanner:  s.scanner.State().String(),
		LastScan: s.scanner.LastResult(),
		Health:   s.handler.Health(),
	}
}

// Health exposes the aggregate health view.
func (s *Scraper) Health() errorhandler.Health {
	return s.handler.Health()
}

// changeCallbacks logs every detected change and routes alerts through
// the notifier.
func (s *Scraper) changeCallbacks() scanner.Callbacks {
	return scanner.Callbacks{
		OnAdded: func(e scanner.Entity) {
			s.logger.InfoWithFields("listing added", map[string]interface{}{
				"id":    e.ID,
				"title": e.Title,
			})
			s.notify("listing:added", "listing added", fmt.Sprintf("%s (%s)", e.Title, e.Price), e.ID)
		},
		OnChanged: func(old, new scanner.Entity, changes []string) {
			s.logger.InfoWithFields("listing changed", map[string]interface{}{
				"id":      new.ID,
				"changes": changes,
			})
			s.notify("listing:changed", "listing changed", fmt.Sprintf("%s: %v", new.Title, changes), new.ID)
		},
		OnRemoved: func(e scanner.Entity) {
			s.logger.InfoWithFields("listing removed", map[string]interface{}{
				"id":    e.ID,
				"title": e.Title,
			})
			s.notify("listing:removed", "listing removed", e.Title, e.ID)
		},
		OnError: func(err error) {
			s.handler.Handle(context.Background(), err)
		},
	}
}

func (s *Scraper) notify(key, title, message, id string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.Background(), key, title, message, "info", map[string]string{
		"listing_id": id,
	})
}

// captureFailure writes a full-page screenshot for post-mortem
// diagnosis. Failure to capture never masks the original error.
func (s *Scraper) captureFailure(ctx context.Context, page browser.Page, op string) {
	dir := s.cfg.Browser.ScreenshotDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.WithError(err).Debug("failed to create screenshot directory")
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", op, time.Now().Format("20060102_150405")))
	if err := page.Screenshot(ctx, path); err != nil {
		s.logger.WithError(err).Debug("failed to capture failure screenshot")
		return
	}

	s.logger.InfoWithFields("failure screenshot captured", map[string]interface{}{
		"path": path,
		"op":   op,
	})
}
