package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/domain/ratelimit"
	"github.com/engadi/gateway/ports"
)

// Verdict is the rate-limit outcome for one request plus the header
// values the response must carry.
type Verdict struct {
	Allowed    bool
	Applied    bool
	Limit      int64
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
	DeniedRule string
}

// RateLimitService owns the rule set and evaluates requests against the
// counter store with test-then-commit semantics.
type RateLimitService struct {
	store    ports.RuleStore
	counters ports.CounterStore
	clock    ports.Clock
	ids      ports.IDGenerator
	logger   zerolog.Logger

	rules atomic.Pointer[[]ratelimit.Compiled]
}

// NewRateLimitService creates a rate-limit service. Reload must run
// before the first Evaluate.
func NewRateLimitService(store ports.RuleStore, counters ports.CounterStore, clock ports.Clock, ids ports.IDGenerator, logger zerolog.Logger) *RateLimitService {
	return &RateLimitService{
		store:    store,
		counters: counters,
		clock:    clock,
		ids:      ids,
		logger:   logger.With().Str("service", "ratelimit").Logger(),
	}
}

// Reload rebuilds the compiled rule snapshot from the store.
func (s *RateLimitService) Reload(ctx context.Context) error {
	rules, err := s.store.List(ctx, true)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	compiled := make([]ratelimit.Compiled, 0, len(rules))
	for _, r := range rules {
		c, err := ratelimit.CompileRule(r)
		if err != nil {
			return fmt.Errorf("compile rule: %w", err)
		}
		compiled = append(compiled, c)
	}
	s.rules.Store(&compiled)
	s.logger.Debug().Int("rules", len(compiled)).Msg("rate limit rules reloaded")
	return nil
}

// Evaluate tests every selecting rule and commits the increments only
// when all allow. A denied request consumes no budget anywhere.
func (s *RateLimitService) Evaluate(sub ratelimit.Subject) Verdict {
	rulesPtr := s.rules.Load()
	if rulesPtr == nil {
		return Verdict{Allowed: true}
	}

	now := s.clock.Now()
	var demands []ratelimit.Demand
	var selected []ratelimit.Compiled
	for _, c := range *rulesPtr {
		if !c.Selects(sub) {
			continue
		}
		demands = append(demands, ratelimit.Demand{Key: c.Key(sub), Rule: c.Rule})
		selected = append(selected, c)
	}
	if len(demands) == 0 {
		return Verdict{Allowed: true}
	}

	decisions, allowed := s.counters.AcquireAll(demands, now)

	v := Verdict{Allowed: allowed, Applied: true}
	if allowed {
		// Report the tightest selected rule: minimum remaining budget.
		min := 0
		for i := range decisions {
			if decisions[i].Remaining < decisions[min].Remaining {
				min = i
			}
		}
		v.Limit = decisions[min].Limit
		v.Remaining = decisions[min].Remaining
		v.Reset = decisions[min].Reset
		return v
	}

	// Report the denying rule that frees a slot last.
	worst := -1
	for i := range decisions {
		if decisions[i].Allowed {
			continue
		}
		if worst < 0 || decisions[i].RetryAfter > decisions[worst].RetryAfter {
			worst = i
		}
	}
	v.Limit = decisions[worst].Limit
	v.Remaining = 0
	v.Reset = decisions[worst].Reset
	v.RetryAfter = decisions[worst].RetryAfter
	v.DeniedRule = selected[worst].Name
	return v
}

// Get retrieves one rule.
func (s *RateLimitService) Get(ctx context.Context, id string) (ratelimit.Rule, error) {
	return s.store.Get(ctx, id)
}

// List returns rules, optionally only active ones.
func (s *RateLimitService) List(ctx context.Context, activeOnly bool) ([]ratelimit.Rule, error) {
	return s.store.List(ctx, activeOnly)
}

// Create validates and stores a new rule, then refreshes the snapshot.
func (s *RateLimitService) Create(ctx context.Context, r ratelimit.Rule) (ratelimit.Rule, error) {
	now := s.clock.Now().UTC()
	r.ID = s.ids.NewID()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := r.Validate(); err != nil {
		return ratelimit.Rule{}, fmt.Errorf("%w: %v", ports.ErrInvalid, err)
	}
	if err := s.store.Create(ctx, r); err != nil {
		return ratelimit.Rule{}, err
	}
	if err := s.Reload(ctx); err != nil {
		return ratelimit.Rule{}, err
	}
	s.logger.Info().Str("rule_id", r.ID).Str("name", r.Name).Msg("rate limit rule created")
	return r, nil
}

// Update replaces a rule's mutable fields and refreshes the snapshot.
func (s *RateLimitService) Update(ctx context.Context, id string, r ratelimit.Rule) (ratelimit.Rule, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return ratelimit.Rule{}, err
	}

	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.clock.Now().UTC()

	if err := r.Validate(); err != nil {
		return ratelimit.Rule{}, fmt.Errorf("%w: %v", ports.ErrInvalid, err)
	}
	if err := s.store.Update(ctx, r); err != nil {
		return ratelimit.Rule{}, err
	}
	if err := s.Reload(ctx); err != nil {
		return ratelimit.Rule{}, err
	}
	s.logger.Info().Str("rule_id", r.ID).Msg("rate limit rule updated")
	return r, nil
}

// Delete removes a rule and refreshes the snapshot.
func (s *RateLimitService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("rule_id", id).Msg("rate limit rule deleted")
	return nil
}
