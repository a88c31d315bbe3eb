package app_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/engadi/gateway/domain/health"
	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/domain/ratelimit"
	"github.com/engadi/gateway/domain/route"
	"github.com/engadi/gateway/ports"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// seqIDs mints deterministic ids.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

// memRouteStore is an in-memory ports.RouteStore with the active
// pattern uniqueness rule.
type memRouteStore struct {
	mu     sync.Mutex
	routes map[string]route.Route
}

func newMemRouteStore() *memRouteStore {
	return &memRouteStore{routes: make(map[string]route.Route)}
}

func (s *memRouteStore) Create(_ context.Context, r route.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[r.ID]; ok {
		return ports.ErrDuplicate
	}
	for _, have := range s.routes {
		if have.Active && r.Active && have.Pattern == r.Pattern {
			return ports.ErrDuplicate
		}
	}
	s.routes[r.ID] = r
	return nil
}

func (s *memRouteStore) Update(_ context.Context, r route.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[r.ID]; !ok {
		return ports.ErrNotFound
	}
	for id, have := range s.routes {
		if id != r.ID && have.Active && r.Active && have.Pattern == r.Pattern {
			return ports.ErrDuplicate
		}
	}
	s.routes[r.ID] = r
	return nil
}

func (s *memRouteStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[id]; !ok {
		return ports.ErrNotFound
	}
	delete(s.routes, id)
	return nil
}

func (s *memRouteStore) Get(_ context.Context, id string) (route.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[id]
	if !ok {
		return route.Route{}, ports.ErrNotFound
	}
	return r, nil
}

func (s *memRouteStore) List(_ context.Context, activeOnly bool) ([]route.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []route.Route
	for _, r := range s.routes {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// memRuleStore is an in-memory ports.RuleStore with unique names.
type memRuleStore struct {
	mu    sync.Mutex
	rules map[string]ratelimit.Rule
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{rules: make(map[string]ratelimit.Rule)}
}

func (s *memRuleStore) Create(_ context.Context, r ratelimit.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.rules {
		if have.Name == r.Name {
			return ports.ErrDuplicate
		}
	}
	s.rules[r.ID] = r
	return nil
}

func (s *memRuleStore) Update(_ context.Context, r ratelimit.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return ports.ErrNotFound
	}
	s.rules[r.ID] = r
	return nil
}

func (s *memRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ports.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *memRuleStore) Get(_ context.Context, id string) (ratelimit.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return ratelimit.Rule{}, ports.ErrNotFound
	}
	return r, nil
}

func (s *memRuleStore) List(_ context.Context, activeOnly bool) ([]ratelimit.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ratelimit.Rule
	for _, r := range s.rules {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// memHealthStore is an in-memory ports.HealthStore.
type memHealthStore struct {
	mu   sync.Mutex
	recs map[string]health.Record
}

func newMemHealthStore() *memHealthStore {
	return &memHealthStore{recs: make(map[string]health.Record)}
}

func (s *memHealthStore) Upsert(_ context.Context, rec health.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Service] = rec
	return nil
}

func (s *memHealthStore) Get(_ context.Context, service string) (health.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[service]
	if !ok {
		return health.Record{}, ports.ErrNotFound
	}
	return rec, nil
}

func (s *memHealthStore) List(_ context.Context) ([]health.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []health.Record
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

// memLogStore records inserted batches.
type memLogStore struct {
	mu   sync.Mutex
	recs []proxy.LogRecord
}

func (s *memLogStore) Insert(_ context.Context, recs []proxy.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, recs...)
	return nil
}

func (s *memLogStore) all() []proxy.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proxy.LogRecord(nil), s.recs...)
}

func (s *memLogStore) Query(context.Context, ports.LogQuery) ([]proxy.LogRecord, error) {
	return s.all(), nil
}

func (s *memLogStore) Stats(context.Context, time.Time) (ports.TrafficStats, error) {
	return ports.TrafficStats{}, nil
}

func (s *memLogStore) TopEndpoints(context.Context, time.Time, int) ([]ports.EndpointCount, error) {
	return nil, nil
}

func (s *memLogStore) ServiceStats(context.Context, time.Time) ([]ports.ServiceStats, error) {
	return nil, nil
}

func (s *memLogStore) Percentiles(context.Context, time.Time) (ports.Percentiles, error) {
	return ports.Percentiles{}, nil
}

func (s *memLogStore) PurgeBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
