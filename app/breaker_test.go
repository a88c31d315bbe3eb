package app_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/app"
	"github.com/engadi/gateway/domain/breaker"
)

func newRegistry(t *testing.T) (*app.BreakerRegistry, *fakeClock) {
	t.Helper()
	clock := newFakeClock(t0)
	cfg := breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
	return app.NewBreakerRegistry(cfg, clock, zerolog.Nop()), clock
}

func TestBreakerRegistry_TripAndRecover(t *testing.T) {
	reg, clock := newRegistry(t)

	if !reg.Allow("users") {
		t.Fatal("fresh breaker refused dispatch")
	}
	if reg.State("users") != breaker.StateClosed {
		t.Fatalf("State = %s, want closed", reg.State("users"))
	}

	for i := 0; i < 3; i++ {
		reg.RecordFailure("users")
	}
	if reg.State("users") != breaker.StateOpen {
		t.Fatalf("State = %s after threshold failures, want open", reg.State("users"))
	}
	if reg.Allow("users") {
		t.Fatal("open breaker allowed dispatch")
	}

	clock.Advance(30 * time.Second)
	if !reg.Allow("users") {
		t.Fatal("half-open probe refused after timeout")
	}
	if reg.Allow("users") {
		t.Fatal("second concurrent probe admitted")
	}

	reg.RecordSuccess("users")
	if !reg.Allow("users") {
		t.Fatal("second probe refused after first succeeded")
	}
	reg.RecordSuccess("users")
	if reg.State("users") != breaker.StateClosed {
		t.Fatalf("State = %s after success threshold, want closed", reg.State("users"))
	}
}

func TestBreakerRegistry_AbandonedProbeReleasesSlot(t *testing.T) {
	reg, clock := newRegistry(t)

	for i := 0; i < 3; i++ {
		reg.RecordFailure("users")
	}
	clock.Advance(30 * time.Second)
	if !reg.Allow("users") {
		t.Fatal("half-open probe refused after timeout")
	}

	// The probe's client went away before the upstream answered. The
	// slot must come back or the breaker refuses everything forever.
	reg.ReleaseProbe("users")
	if !reg.Allow("users") {
		t.Fatal("probe slot not released after abandoned dispatch")
	}

	reg.RecordSuccess("users")
	reg.RecordSuccess("users")
	if reg.State("users") != breaker.StateClosed {
		t.Fatalf("State = %s after recovery, want closed", reg.State("users"))
	}
}

func TestBreakerRegistry_ReleaseProbeKeepsFailureStreak(t *testing.T) {
	reg, _ := newRegistry(t)

	reg.RecordFailure("users")
	reg.RecordFailure("users")
	// A dispatch that never reached the upstream says nothing either way.
	reg.ReleaseProbe("users")
	reg.RecordFailure("users")
	if reg.State("users") != breaker.StateOpen {
		t.Fatalf("State = %s, want open: verdictless dispatch reset the streak", reg.State("users"))
	}
}

func TestBreakerRegistry_ServicesAreIndependent(t *testing.T) {
	reg, _ := newRegistry(t)

	for i := 0; i < 3; i++ {
		reg.RecordFailure("orders")
	}
	if reg.Allow("orders") {
		t.Error("tripped service allowed")
	}
	if !reg.Allow("users") {
		t.Error("healthy service refused")
	}
}

func TestBreakerRegistry_Reset(t *testing.T) {
	reg, _ := newRegistry(t)

	for i := 0; i < 3; i++ {
		reg.RecordFailure("users")
	}
	reg.Reset("users")
	if reg.State("users") != breaker.StateClosed {
		t.Fatalf("State = %s after reset, want closed", reg.State("users"))
	}
	if !reg.Allow("users") {
		t.Fatal("reset breaker refused dispatch")
	}
	// The failure streak starts from zero again.
	reg.RecordFailure("users")
	if reg.State("users") != breaker.StateClosed {
		t.Error("single failure tripped a reset breaker")
	}
}

func TestBreakerRegistry_States(t *testing.T) {
	reg, _ := newRegistry(t)
	reg.RecordSuccess("users")
	for i := 0; i < 3; i++ {
		reg.RecordFailure("orders")
	}

	states := reg.States()
	if states["users"] != breaker.StateClosed || states["orders"] != breaker.StateOpen {
		t.Errorf("States = %v", states)
	}
}
