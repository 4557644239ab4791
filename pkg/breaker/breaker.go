package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// Closed admits all calls and counts failures.
	Closed State = iota
	// Open fast-fails all calls until the cooldown elapses.
	Open
	// HalfOpen admits trial calls and watches for recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of a breaker, exposed for health checks.
type Snapshot struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	LastFailureTime  time.Time `json:"last_failure_time"`
	StateChangedTime time.Time `json:"state_changed_time"`
}

// Breaker isolates one operation class behind a state machine:
// Closed -> (failures >= failureThreshold) -> Open;
// Open -> (elapsed >= timeout) -> HalfOpen;
// HalfOpen -> (successes >= successThreshold) -> Closed;
// any HalfOpen failure -> Open with the cooldown timer reset.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	stateChanged time.Time
	probing      bool

	now func() time.Time
}

// New creates a breaker for one operation class.
func New(name string, failureThreshold, successThreshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            Closed,
		stateChanged:     time.Now(),
		now:              time.Now,
	}
}

// CanExecute reports whether a call may proceed. When an Open breaker's
// cooldown has elapsed it transitions to HalfOpen and admits exactly one
// probe; further callers are rejected until that probe reports back.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.stateChanged) >= b.timeout {
			b.transition(HalfOpen)
			b.probing = true
			return true
		}
		return false
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.transition(Closed)
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.lastFailure = b.now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		// One bad probe sends us straight back to Open with a fresh timer.
		b.transition(Open)
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to Closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:             b.name,
		State:            b.state.String(),
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		LastFailureTime:  b.lastFailure,
		StateChangedTime: b.stateChanged,
	}
}

// transition moves to a new state. Caller holds the lock.
func (b *Breaker) transition(to State) {
	b.state = to
	b.stateChanged = b.now()
	switch to {
	case Closed:
		b.failureCount = 0
		b.successCount = 0
	case Open:
		b.successCount = 0
	case HalfOpen:
		b.successCount = 0
	}
	b.probing = false
}
