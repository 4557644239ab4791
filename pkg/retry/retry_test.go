package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	errs "marketwatcher/pkg/errors"
	"marketwatcher/pkg/logger"
)

func TestExponentialBackoffRaw(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay: 1 * time.Second,
		MaxDelay:  60 * time.Second,
		Factor:    2.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{1, 1 * time.Second, "First attempt"},
		{2, 2 * time.Second, "Second attempt"},
		{3, 4 * time.Second, "Third attempt"},
		{7, 60 * time.Second, "Seventh attempt (capped at max)"},
		{0, 0, "Zeroth attempt"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			if got := backoff.Raw(test.attempt); got != test.expected {
				t.Errorf("Expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestExponentialBackoffJitterRange(t *testing.T) {
	backoff := DefaultExponentialBackoff().WithRand(rand.New(rand.NewSource(1)))

	for attempt := 1; attempt <= 5; attempt++ {
		raw := backoff.Raw(attempt)
		for i := 0; i < 50; i++ {
			delay := backoff.NextDelay(attempt)
			if delay < raw/2 || delay >= raw {
				t.Fatalf("Attempt %d: delay %v outside [%v, %v)", attempt, delay, raw/2, raw)
			}
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Logger:      logger.Nop(),
	}

	if err := Do(context.Background(), op, cfg); err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustionRecordsRetryCount(t *testing.T) {
	typed := errs.New(errs.ErrorTypeNetwork, errs.SeverityMedium, "fetch", "connection refused")
	attempts := 0
	op := func() error {
		attempts++
		return typed
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Logger:      logger.Nop(),
	}

	err := Do(context.Background(), op, cfg)
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !strings.Contains(err.Error(), "max retry attempts (3) exceeded") {
		t.Errorf("Expected exhaustion message, got %q", err.Error())
	}
	if typed.RetryCount != 3 {
		t.Errorf("Expected RetryCount 3, got %d", typed.RetryCount)
	}
	if !errs.Is(err, typed) {
		t.Error("Expected the wrapped error to unwrap to the original")
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	authErr := errs.New(errs.ErrorTypeAuth, errs.SeverityHigh, "login", "bad credentials")
	attempts := 0
	op := func() error {
		attempts++
		return authErr
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Logger:      logger.Nop(),
	}

	err := Do(context.Background(), op, cfg)
	if !errs.Is(err, authErr) {
		t.Errorf("Expected the auth error back, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected a single attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Second},
		RetryIf:     func(error) bool { return true },
		Logger:      logger.Nop(),
	}

	err := Do(ctx, func() error { return errors.New("boom") }, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(context.Background(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	}, &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(error) bool { return true },
		Logger:      logger.Nop(),
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"network error", errs.New(errs.ErrorTypeNetwork, errs.SeverityMedium, "op", "net"), true},
		{"timeout error", errs.New(errs.ErrorTypeTimeout, errs.SeverityMedium, "op", "slow"), true},
		{"auth error", errs.New(errs.ErrorTypeAuth, errs.SeverityHigh, "op", "denied"), false},
		{"circuit open", errs.New(errs.ErrorTypeCircuitOpen, errs.SeverityMedium, "op", "open"), false},
		{"plain error", errors.New("unclassified"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := DefaultRetryIf(test.err); got != test.expected {
				t.Errorf("Expected %v, got %v", test.expected, got)
			}
		})
	}
}
