package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marketwatcher/pkg/config"
	errs "marketwatcher/pkg/errors"
	"marketwatcher/pkg/logger"
)

type fakeExtractor struct {
	mu      sync.Mutex
	results [][]Entity
	err     error
	calls   int
}

func (f *fakeExtractor) Extract(ctx context.Context) ([]Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return result, nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow() bool                       { return true }
func (allowAllLimiter) Acquire(ctx context.Context) error { return ctx.Err() }
func (allowAllLimiter) Reset()                            {}

type fakeSession struct {
	mu       sync.Mutex
	ensures  int
	releases int
}

func (f *fakeSession) Ensure(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return nil
}

func (f *fakeSession) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

// overlapExtractor holds each extraction open long enough to observe
// whether two scans ever run concurrently.
type overlapExtractor struct {
	mu       sync.Mutex
	hold     time.Duration
	inFlight int
	maxSeen  int
	calls    int
}

func (f *overlapExtractor) Extract(ctx context.Context) ([]Entity, error) {
	f.mu.Lock()
	f.inFlight++
	f.calls++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(f.hold)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return nil, nil
}

func testScannerConfig(t *testing.T) config.ScannerConfig {
	return config.ScannerConfig{
		Interval:     5 * time.Minute,
		MinInterval:  time.Minute,
		BackoffCap:   30 * time.Minute,
		RemovedGrace: 24 * time.Hour,
		CachePath:    filepath.Join(t.TempDir(), "cache.json"),
	}
}

func newTestScanner(t *testing.T, cfg config.ScannerConfig, extractor Extractor,
	sess SessionControl, callbacks Callbacks) *Scanner {
	t.Helper()
	cache, err := NewCache(cfg.CachePath, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return New(cfg, extractor, sess, allowAllLimiter{}, cache, callbacks, logger.Nop())
}

func TestManualScanReportsChangesAndPersists(t *testing.T) {
	cfg := testScannerConfig(t)
	extractor := &fakeExtractor{results: [][]Entity{
		{{ID: "1", Title: "Bike", Price: "100", Status: "active"}},
	}}

	var added []Entity
	callbacks := Callbacks{
		OnAdded: func(e Entity) { added = append(added, e) },
	}

	s := newTestScanner(t, cfg, extractor, nil, callbacks)

	result, err := s.ManualScan(context.Background())
	if err != nil {
		t.Fatalf("Manual scan failed: %v", err)
	}
	if len(result.Added) != 1 || result.Added[0].ID != "1" {
		t.Errorf("Expected entity 1 added, got %v", result.Added)
	}
	if len(added) != 1 {
		t.Errorf("Expected OnAdded callback once, got %d", len(added))
	}
	if result.ID == "" {
		t.Error("Expected a scan result ID")
	}

	// A second scanner over the same cache must resume, not re-add.
	s2 := newTestScanner(t, cfg, &fakeExtractor{results: [][]Entity{
		{{ID: "1", Title: "Bike", Price: "100", Status: "active"}},
	}}, nil, Callbacks{})

	again, err := s2.ManualScan(context.Background())
	if err != nil {
		t.Fatalf("Second manual scan failed: %v", err)
	}
	if len(again.Added) != 0 {
		t.Errorf("Expected no re-added entities after reload, got %v", again.Added)
	}
}

func TestManualScanStartsSessionWhenIdle(t *testing.T) {
	cfg := testScannerConfig(t)
	sess := &fakeSession{}
	s := newTestScanner(t, cfg, &fakeExtractor{}, sess, Callbacks{})

	if _, err := s.ManualScan(context.Background()); err != nil {
		t.Fatalf("Manual scan failed: %v", err)
	}

	if sess.ensures != 1 || sess.releases != 1 {
		t.Errorf("Expected one Ensure and one Release, got %d/%d", sess.ensures, sess.releases)
	}
}

func TestManualScanWrapsExtractorError(t *testing.T) {
	cfg := testScannerConfig(t)
	extractor := &fakeExtractor{err: errors.New("selector vanished")}
	s := newTestScanner(t, cfg, extractor, nil, Callbacks{})

	_, err := s.ManualScan(context.Background())
	if err == nil {
		t.Fatal("Expected an error")
	}
	if errs.TypeOf(err) != errs.ErrorTypeScan {
		t.Errorf("Expected scan-typed error, got %s", errs.TypeOf(err))
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	cfg := testScannerConfig(t)
	extractor := &fakeExtractor{results: [][]Entity{
		{{ID: "1", Title: "Bike", Price: "100", Status: "active"}},
	}}
	callbacks := Callbacks{
		OnAdded: func(Entity) { panic("callback bug") },
	}
	s := newTestScanner(t, cfg, extractor, nil, callbacks)

	result, err := s.ManualScan(context.Background())
	if err != nil {
		t.Fatalf("Expected the scan to survive a panicking callback, got %v", err)
	}
	if len(result.Added) != 1 {
		t.Errorf("Expected the result to still report the addition, got %v", result.Added)
	}
}

func TestStartRejectsDoubleStart(t *testing.T) {
	cfg := testScannerConfig(t)
	cfg.MinInterval = 10 * time.Millisecond
	s := newTestScanner(t, cfg, &fakeExtractor{}, nil, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(ctx, 10*time.Millisecond); err == nil {
		t.Error("Expected second Start to fail")
	}
	s.Stop()

	if s.State() != Stopped {
		t.Errorf("Expected Stopped after Stop, got %s", s.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	cfg := testScannerConfig(t)
	s := newTestScanner(t, cfg, &fakeExtractor{}, nil, Callbacks{})

	// Stop before Start must not block or panic.
	s.Stop()

	ctx := context.Background()
	if err := s.Start(ctx, time.Minute); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Stop()
	s.Stop()
}

func TestManualScanSerializesWithLoop(t *testing.T) {
	cfg := testScannerConfig(t)
	cfg.MinInterval = 5 * time.Millisecond
	extractor := &overlapExtractor{hold: 30 * time.Millisecond}
	s := newTestScanner(t, cfg, extractor, nil, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ManualScan(context.Background()); err != nil {
				t.Errorf("Manual scan failed: %v", err)
			}
		}()
	}
	wg.Wait()
	s.Stop()

	extractor.mu.Lock()
	defer extractor.mu.Unlock()
	if extractor.maxSeen != 1 {
		t.Errorf("Expected manual and scheduled scans to serialize, saw %d in flight", extractor.maxSeen)
	}
	if extractor.calls < 3 {
		t.Errorf("Expected at least the 3 manual scans to run, got %d", extractor.calls)
	}
}

func TestPauseDuringErrorBackoffSticks(t *testing.T) {
	cfg := testScannerConfig(t)
	cfg.MinInterval = 10 * time.Millisecond
	cfg.BackoffCap = 40 * time.Millisecond
	extractor := &fakeExtractor{err: errors.New("site down")}
	s := newTestScanner(t, cfg, extractor, nil, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The first scan fails immediately, putting the loop in its error
	// backoff. A pause issued now must survive the backoff ending.
	time.Sleep(5 * time.Millisecond)
	s.Pause()
	if s.State() != Paused {
		t.Errorf("Expected Paused, got %s", s.State())
	}

	// Let the backoff window pass before sampling.
	time.Sleep(30 * time.Millisecond)

	extractor.mu.Lock()
	baseline := extractor.calls
	extractor.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	extractor.mu.Lock()
	after := extractor.calls
	extractor.mu.Unlock()

	if after != baseline {
		t.Errorf("Expected no scans while paused, got %d more", after-baseline)
	}
	s.Stop()
}

func TestPauseBlocksScans(t *testing.T) {
	cfg := testScannerConfig(t)
	cfg.MinInterval = 10 * time.Millisecond
	extractor := &fakeExtractor{}
	s := newTestScanner(t, cfg, extractor, nil, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Pause()
	if s.State() != Paused {
		t.Errorf("Expected Paused, got %s", s.State())
	}

	// Let a tick that raced the pause finish before sampling.
	time.Sleep(30 * time.Millisecond)

	extractor.mu.Lock()
	baseline := extractor.calls
	extractor.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	extractor.mu.Lock()
	after := extractor.calls
	extractor.mu.Unlock()

	if after != baseline {
		t.Errorf("Expected no scans while paused, got %d more", after-baseline)
	}

	s.Resume()
	if s.State() != Running {
		t.Errorf("Expected Running after Resume, got %s", s.State())
	}
	s.Stop()
}
