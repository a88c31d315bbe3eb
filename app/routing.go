// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/domain/route"
	"github.com/engadi/gateway/ports"
)

// RoutingService owns the route table: CRUD through the store plus the
// in-memory resolve snapshot the data plane reads.
type RoutingService struct {
	store  ports.RouteStore
	clock  ports.Clock
	ids    ports.IDGenerator
	logger zerolog.Logger

	table atomic.Pointer[route.Table]
}

// NewRoutingService creates a routing service. Reload must run before
// the first Resolve.
func NewRoutingService(store ports.RouteStore, clock ports.Clock, ids ports.IDGenerator, logger zerolog.Logger) *RoutingService {
	return &RoutingService{
		store:  store,
		clock:  clock,
		ids:    ids,
		logger: logger.With().Str("service", "routing").Logger(),
	}
}

// Reload rebuilds the resolve snapshot from the store and swaps it in.
func (s *RoutingService) Reload(ctx context.Context) error {
	routes, err := s.store.List(ctx, true)
	if err != nil {
		return fmt.Errorf("list routes: %w", err)
	}
	tbl, err := route.NewTable(routes)
	if err != nil {
		return fmt.Errorf("build route table: %w", err)
	}
	s.table.Store(tbl)
	s.logger.Debug().Int("routes", tbl.Len()).Msg("route table reloaded")
	return nil
}

// Resolve picks the route for a request from the current snapshot.
func (s *RoutingService) Resolve(path, method string) (route.Route, error) {
	tbl := s.table.Load()
	if tbl == nil {
		return route.Route{}, route.ErrNoRoute
	}
	return tbl.Resolve(path, method)
}

// Get retrieves one route.
func (s *RoutingService) Get(ctx context.Context, id string) (route.Route, error) {
	return s.store.Get(ctx, id)
}

// List returns routes, optionally only active ones.
func (s *RoutingService) List(ctx context.Context, activeOnly bool) ([]route.Route, error) {
	return s.store.List(ctx, activeOnly)
}

// Create validates and stores a new route, then refreshes the snapshot.
// The id and timestamps are server-assigned.
func (s *RoutingService) Create(ctx context.Context, r route.Route) (route.Route, error) {
	now := s.clock.Now().UTC()
	r.ID = s.ids.NewID()
	r.Methods = route.NormalizeMethods(r.Methods)
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := r.Validate(); err != nil {
		return route.Route{}, fmt.Errorf("%w: %v", ports.ErrInvalid, err)
	}
	if err := s.store.Create(ctx, r); err != nil {
		return route.Route{}, err
	}
	if err := s.Reload(ctx); err != nil {
		return route.Route{}, err
	}
	s.logger.Info().Str("route_id", r.ID).Str("pattern", r.Pattern).Msg("route created")
	return r, nil
}

// Update replaces a route's mutable fields and refreshes the snapshot.
func (s *RoutingService) Update(ctx context.Context, id string, r route.Route) (route.Route, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return route.Route{}, err
	}

	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = s.clock.Now().UTC()
	r.Methods = route.NormalizeMethods(r.Methods)

	if err := r.Validate(); err != nil {
		return route.Route{}, fmt.Errorf("%w: %v", ports.ErrInvalid, err)
	}
	if err := s.store.Update(ctx, r); err != nil {
		return route.Route{}, err
	}
	if err := s.Reload(ctx); err != nil {
		return route.Route{}, err
	}
	s.logger.Info().Str("route_id", r.ID).Msg("route updated")
	return r, nil
}

// Delete removes a route and refreshes the snapshot.
func (s *RoutingService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("route_id", id).Msg("route deleted")
	return nil
}
