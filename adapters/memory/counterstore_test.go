package memory_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/engadi/gateway/adapters/memory"
	"github.com/engadi/gateway/domain/ratelimit"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rule(id string, limit int64) ratelimit.Rule {
	return ratelimit.Rule{
		ID: id, Name: id, Scope: ratelimit.ScopeGlobal,
		MaxRequests: limit, WindowSeconds: 60, Active: true,
	}
}

func TestAcquireAll_EnforcesLimit(t *testing.T) {
	s := memory.NewCounterStore()
	defer s.Close()

	demands := []ratelimit.Demand{{Key: "r1:g", Rule: rule("r1", 3)}}

	for i := 0; i < 3; i++ {
		if _, ok := s.AcquireAll(demands, t0); !ok {
			t.Fatalf("request %d denied under budget", i+1)
		}
	}
	decisions, ok := s.AcquireAll(demands, t0)
	if ok {
		t.Fatal("allowed over budget")
	}
	if decisions[0].Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", decisions[0].Remaining)
	}
}

func TestAcquireAll_DenyCommitsNothing(t *testing.T) {
	s := memory.NewCounterStore()
	defer s.Close()

	loose := []ratelimit.Demand{{Key: "loose:g", Rule: rule("loose", 100)}}
	both := []ratelimit.Demand{
		loose[0],
		{Key: "tight:g", Rule: rule("tight", 1)},
	}

	if _, ok := s.AcquireAll(both, t0); !ok {
		t.Fatal("first request denied")
	}
	// The tight rule is now exhausted; further paired requests must be
	// denied without consuming the loose rule's budget.
	for i := 0; i < 5; i++ {
		if _, ok := s.AcquireAll(both, t0); ok {
			t.Fatal("allowed past the tight rule")
		}
	}
	decisions, ok := s.AcquireAll(loose, t0)
	if !ok {
		t.Fatal("loose rule denied")
	}
	// One committed earlier, one committing now: 100 - 2 remain.
	if decisions[0].Remaining != 98 {
		t.Errorf("Remaining = %d, want 98 (denied attempts must not consume budget)", decisions[0].Remaining)
	}
}

func TestAcquireAll_ConcurrentNeverOverAdmits(t *testing.T) {
	s := memory.NewCounterStore()
	defer s.Close()

	const limit = 50
	demands := []ratelimit.Demand{{Key: "c:g", Rule: rule("c", limit)}}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, ok := s.AcquireAll(demands, t0); ok {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != limit {
		t.Errorf("admitted %d requests, want exactly %d", got, limit)
	}
}

func TestAcquireAll_WindowRollsOver(t *testing.T) {
	s := memory.NewCounterStore()
	defer s.Close()

	demands := []ratelimit.Demand{{Key: "w:g", Rule: rule("w", 2)}}
	start := t0.Truncate(time.Minute)

	if _, ok := s.AcquireAll(demands, start); !ok {
		t.Fatal("denied under budget")
	}
	if _, ok := s.AcquireAll(demands, start); !ok {
		t.Fatal("denied under budget")
	}
	if _, ok := s.AcquireAll(demands, start); ok {
		t.Fatal("allowed over budget")
	}
	// Two full windows later the old counts have aged out entirely.
	if _, ok := s.AcquireAll(demands, start.Add(2*time.Minute)); !ok {
		t.Fatal("denied after the window rolled over")
	}
}

func TestAcquireAll_EmptyDemandsAllow(t *testing.T) {
	s := memory.NewCounterStore()
	defer s.Close()
	if _, ok := s.AcquireAll(nil, t0); !ok {
		t.Fatal("empty demand set must allow")
	}
}
