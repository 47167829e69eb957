package safety

import "sync"

// Registry manages a named set of circuit breakers, one per guarded tool.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults BreakerConfig
}

// NewRegistry creates a registry that lazily creates breakers using
// defaults on first access.
func NewRegistry(defaults BreakerConfig) *Registry {
	defaults.applyDefaults()
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the named breaker, creating it with the registry defaults if
// it does not yet exist.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// GetWithConfig returns the named breaker, creating it with a caller-chosen
// config if it does not yet exist. An existing breaker is returned
// unmodified.
func (r *Registry) GetWithConfig(name string, config BreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	config.Name = name
	cb := NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Stats reports every breaker's current counters.
func (r *Registry) Stats() []BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]BreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	return stats
}

// OpenCircuits lists the names of breakers currently open.
func (r *Registry) OpenCircuits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for name, cb := range r.breakers {
		if cb.State() == StateOpen {
			open = append(open, name)
		}
	}
	return open
}

// ResetAll forces every breaker in the registry back to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// DefaultRegistry is the process-wide breaker registry used by the tool
// executor when no per-test registry is wired in.
var DefaultRegistry = NewRegistry(BreakerConfig{})

// GetCircuitBreaker returns a breaker from DefaultRegistry.
func GetCircuitBreaker(name string) *CircuitBreaker {
	return DefaultRegistry.Get(name)
}
