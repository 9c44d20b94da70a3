package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is the name→Provider lookup C7 dispatches through. It used to
// drive its own provider-iteration/failover loop; that responsibility now
// belongs to internal/domain/failover.Coordinator, which calls one
// specific (backend, model, key) attempt at a time through Dispatcher
// (dispatch.go). Registry is left owning what a registry should own:
// provider bookkeeping, per-provider circuit breakers, and latency stats
// for the /models and status surfaces.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	stats     map[string]*providerStats
	breakers  map[string]*CircuitBreaker
	logger    *zap.Logger
}

type providerStats struct {
	TotalCalls   int64
	FailureCount int64
	LastLatency  time.Duration
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		stats:     make(map[string]*providerStats),
		breakers:  make(map[string]*CircuitBreaker),
		logger:    logger.With(zap.String("component", "llm-registry")),
	}
}

// Register adds or replaces a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	r.stats[p.Name()] = &providerStats{}
	r.breakers[p.Name()] = NewCircuitBreaker(5, 30*time.Second)
	r.logger.Info("LLM provider registered",
		zap.String("name", p.Name()),
		zap.Strings("models", p.Models()),
	)
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Allow reports whether name's circuit breaker currently permits a call.
// An unknown name is always allowed (nothing to protect against yet).
func (r *Registry) Allow(name string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return cb.Allow()
}

// RecordResult updates latency/failure stats and the circuit breaker for
// name after a dispatch attempt.
func (r *Registry) RecordResult(name string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[name]; ok {
		s.TotalCalls++
		s.LastLatency = latency
		if err != nil {
			s.FailureCount++
		}
	}
	if cb, ok := r.breakers[name]; ok {
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
	}
}

// ListProviders returns names, status, and performance stats of every
// registered provider, used by the /models debug surface.
func (r *Registry) ListProviders(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []ProviderStatus
	for name, p := range r.providers {
		ps := ProviderStatus{
			Name:      name,
			Models:    p.Models(),
			Available: p.IsAvailable(ctx),
		}
		if s, ok := r.stats[name]; ok {
			ps.TotalCalls = s.TotalCalls
			ps.FailureCount = s.FailureCount
			ps.LastLatencyMs = float64(s.LastLatency) / float64(time.Millisecond)
		}
		if cb, ok := r.breakers[name]; ok {
			ps.CircuitState = cb.State().String()
		}
		result = append(result, ps)
	}
	return result
}

// ProviderStatus describes a provider's current state and performance.
type ProviderStatus struct {
	Name          string   `json:"name"`
	Models        []string `json:"models"`
	Available     bool     `json:"available"`
	TotalCalls    int64    `json:"total_calls"`
	FailureCount  int64    `json:"failure_count"`
	LastLatencyMs float64  `json:"last_latency_ms"`
	CircuitState  string   `json:"circuit_state"`
}
