// Package breaker provides the circuit breaker state machine.
// All transitions are pure - callers own locking and the clock.
package breaker

import "time"

// State is the breaker's position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// Machine is the breaker state for one upstream service. The zero value
// is a closed breaker with clean counters.
type Machine struct {
	State         State
	Failures      int
	Successes     int
	OpenedAt      time.Time
	ProbeInFlight bool
}

// New returns a closed breaker.
func New() Machine {
	return Machine{State: StateClosed}
}

// Allow decides whether a dispatch may proceed and returns the state
// after the decision. An open breaker whose timeout has elapsed moves to
// half_open and admits exactly one probe; further requests are refused
// until that probe reports back.
func (m Machine) Allow(cfg Config, now time.Time) (Machine, bool) {
	switch m.State {
	case StateOpen:
		if now.Sub(m.OpenedAt) < cfg.OpenTimeout {
			return m, false
		}
		m.State = StateHalfOpen
		m.Successes = 0
		m.ProbeInFlight = true
		return m, true
	case StateHalfOpen:
		if m.ProbeInFlight {
			return m, false
		}
		m.ProbeInFlight = true
		return m, true
	default:
		return m, true
	}
}

// RecordSuccess reports a dispatch that completed with status < 500.
func (m Machine) RecordSuccess(cfg Config) Machine {
	switch m.State {
	case StateHalfOpen:
		m.ProbeInFlight = false
		m.Successes++
		if m.Successes >= cfg.SuccessThreshold {
			return New()
		}
		return m
	case StateClosed:
		m.Failures = 0
		return m
	default:
		// A success landing on an open breaker belongs to a dispatch
		// admitted before the trip; it changes nothing.
		return m
	}
}

// ReleaseProbe returns the half_open probe slot without recording an
// outcome. Used when a dispatch ended with no upstream verdict: the
// client canceled or the request never left the gateway. Without this
// an abandoned probe would hold the slot forever.
func (m Machine) ReleaseProbe() Machine {
	if m.State == StateHalfOpen {
		m.ProbeInFlight = false
	}
	return m
}

// RecordFailure reports a connect error, timeout, or upstream 5xx.
func (m Machine) RecordFailure(cfg Config, now time.Time) Machine {
	switch m.State {
	case StateHalfOpen:
		return Machine{State: StateOpen, OpenedAt: now}
	case StateClosed:
		m.Failures++
		if m.Failures >= cfg.FailureThreshold {
			return Machine{State: StateOpen, OpenedAt: now}
		}
		return m
	default:
		return m
	}
}
