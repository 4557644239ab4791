package breaker

import (
	"sync"
	"time"

	"marketwatcher/pkg/config"
)

// Registry holds the named breakers, one per guarded operation class.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults config.BreakerConfig
}

// NewRegistry creates a registry. Breakers for unknown names are created
// on demand with the given defaults.
func NewRegistry(defaults config.BreakerConfig) *Registry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 5
	}
	if defaults.SuccessThreshold <= 0 {
		defaults.SuccessThreshold = 2
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = time.Minute
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// NewRegistryFromConfig creates a registry pre-populated with the
// configured operation classes.
func NewRegistryFromConfig(cfg config.BreakersConfig) *Registry {
	r := NewRegistry(cfg.PageLoad)
	r.Configure("login", cfg.Login)
	r.Configure("page_load", cfg.PageLoad)
	r.Configure("send_message", cfg.SendMessage)
	return r
}

// Configure installs (or replaces) a breaker for a named operation class.
func (r *Registry) Configure(name string, cfg config.BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[name] = New(name, cfg.FailureThreshold, cfg.SuccessThreshold, cfg.Timeout)
}

// Get returns the breaker for a name, creating one with the registry
// defaults when missing.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.defaults.FailureThreshold, r.defaults.SuccessThreshold, r.defaults.Timeout)
		r.breakers[name] = b
	}
	return b
}

// Snapshots returns a point-in-time view of every registered breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// OpenCount returns the number of breakers currently not Closed.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, b := range r.breakers {
		if b.State() != Closed {
			n++
		}
	}
	return n
}
