package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/domain/breaker"
	"github.com/engadi/gateway/domain/health"
	"github.com/engadi/gateway/ports"
)

// HealthServiceConfig holds the probe loop settings. ProbeObserver,
// when set, receives every probe's round-trip time for metrics.
type HealthServiceConfig struct {
	Interval      time.Duration
	Timeout       time.Duration
	ProbeObserver func(service string, rtt time.Duration)
}

// HealthService probes registered upstreams in the background and
// publishes per-service records. It never drives breaker transitions;
// it only mirrors the registry's position into the records it serves.
type HealthService struct {
	store    ports.HealthStore
	breakers *BreakerRegistry
	clock    ports.Clock
	logger   zerolog.Logger
	client   *http.Client
	cfg      HealthServiceConfig
}

// NewHealthService creates a health supervisor.
func NewHealthService(store ports.HealthStore, breakers *BreakerRegistry, clock ports.Clock, logger zerolog.Logger, cfg HealthServiceConfig) *HealthService {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HealthService{
		store:    store,
		breakers: breakers,
		clock:    clock,
		logger:   logger.With().Str("service", "health").Logger(),
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
	}
}

// Register tracks a service if it is not tracked yet. Called on route
// create and on first observed dispatch; existing records are kept.
func (s *HealthService) Register(ctx context.Context, service, baseURL string) error {
	_, err := s.store.Get(ctx, service)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	return s.store.Upsert(ctx, health.NewRecord(service, baseURL, s.clock.Now().UTC()))
}

// Run probes every tracked service on the configured interval until the
// context is done. One probe pass runs immediately on entry.
func (s *HealthService) Run(ctx context.Context) {
	s.probeAll(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeAll(ctx)
		}
	}
}

func (s *HealthService) probeAll(ctx context.Context) {
	recs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list services for probing")
		return
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		s.probe(ctx, rec)
	}
}

func (s *HealthService) probe(ctx context.Context, rec health.Record) {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := s.clock.Now()
	var statusCode int
	reached := false

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rec.BaseURL+"/health", nil)
	if err == nil {
		resp, doErr := s.client.Do(req)
		if doErr == nil {
			statusCode = resp.StatusCode
			reached = true
			resp.Body.Close()
		}
	}
	rtt := s.clock.Now().Sub(start)
	if s.cfg.ProbeObserver != nil {
		s.cfg.ProbeObserver(rec.Service, rtt)
	}

	next := health.Observe(rec, statusCode, rtt, reached, s.clock.Now().UTC())
	next.CircuitOpen = s.breakers.State(rec.Service) == breaker.StateOpen

	if next.Status != rec.Status {
		s.logger.Warn().Str("target_service", rec.Service).
			Str("from", string(rec.Status)).Str("to", string(next.Status)).
			Int("status_code", statusCode).
			Msg("service health change")
	}
	if err := s.store.Upsert(ctx, next); err != nil {
		s.logger.Error().Err(err).Str("target_service", rec.Service).Msg("persist health record")
	}
}

// List returns every tracked service with the live breaker position
// mirrored in.
func (s *HealthService) List(ctx context.Context) ([]health.Record, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].CircuitOpen = s.breakers.State(recs[i].Service) == breaker.StateOpen
	}
	return recs, nil
}

// Get returns one service's record with the live breaker position.
func (s *HealthService) Get(ctx context.Context, service string) (health.Record, error) {
	rec, err := s.store.Get(ctx, service)
	if err != nil {
		return health.Record{}, err
	}
	rec.CircuitOpen = s.breakers.State(service) == breaker.StateOpen
	return rec, nil
}

// Aggregate folds all tracked services into one gateway-wide status.
func (s *HealthService) Aggregate(ctx context.Context) (health.Status, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return health.StatusUnknown, err
	}
	return health.Aggregate(recs), nil
}

// Reset clears a service's probe counters and forces its breaker
// closed.
func (s *HealthService) Reset(ctx context.Context, service string) error {
	rec, err := s.store.Get(ctx, service)
	if err != nil {
		return err
	}
	s.breakers.Reset(service)
	next := health.ResetCounters(rec, s.clock.Now().UTC())
	next.CircuitOpen = false
	return s.store.Upsert(ctx, next)
}
