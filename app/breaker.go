package app

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/domain/breaker"
	"github.com/engadi/gateway/ports"
)

// BreakerRegistry holds one breaker per upstream service. All state is
// process-local and rebuilt closed on restart.
type BreakerRegistry struct {
	cfg    breaker.Config
	clock  ports.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	machines map[string]breaker.Machine
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg breaker.Config, clock ports.Clock, logger zerolog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With().Str("service", "breaker").Logger(),
		machines: make(map[string]breaker.Machine),
	}
}

// Allow reports whether a dispatch to the service may proceed.
func (r *BreakerRegistry) Allow(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[service]
	if !ok {
		m = breaker.New()
	}
	next, allowed := m.Allow(r.cfg, r.clock.Now())
	if next.State != m.State {
		r.logger.Warn().Str("target_service", service).
			Str("from", string(m.State)).Str("to", string(next.State)).
			Msg("breaker state change")
	}
	r.machines[service] = next
	return allowed
}

// RecordSuccess reports a dispatch that returned status < 500.
func (r *BreakerRegistry) RecordSuccess(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.machines[service]
	if m.State == "" {
		m = breaker.New()
	}
	next := m.RecordSuccess(r.cfg)
	if next.State != m.State {
		r.logger.Info().Str("target_service", service).
			Str("from", string(m.State)).Str("to", string(next.State)).
			Msg("breaker state change")
	}
	r.machines[service] = next
}

// RecordFailure reports a connect error, timeout, or upstream 5xx.
func (r *BreakerRegistry) RecordFailure(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.machines[service]
	if m.State == "" {
		m = breaker.New()
	}
	next := m.RecordFailure(r.cfg, r.clock.Now())
	if next.State != m.State {
		r.logger.Warn().Str("target_service", service).
			Str("from", string(m.State)).Str("to", string(next.State)).
			Int("failures", m.Failures+1).
			Msg("breaker state change")
	}
	r.machines[service] = next
}

// ReleaseProbe reports a dispatch that ended without an upstream
// verdict, returning a held half_open probe slot.
func (r *BreakerRegistry) ReleaseProbe(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[service]
	if !ok {
		return
	}
	r.machines[service] = m.ReleaseProbe()
}

// State reports the service's breaker position.
func (r *BreakerRegistry) State(service string) breaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[service]
	if !ok {
		return breaker.StateClosed
	}
	return m.State
}

// Reset forces the service's breaker closed and zeroes its counters.
func (r *BreakerRegistry) Reset(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[service] = breaker.New()
	r.logger.Info().Str("target_service", service).Msg("breaker reset")
}

// States snapshots every tracked breaker's position.
func (r *BreakerRegistry) States() map[string]breaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]breaker.State, len(r.machines))
	for svc, m := range r.machines {
		out[svc] = m.State
	}
	return out
}
