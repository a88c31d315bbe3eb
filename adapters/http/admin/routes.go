package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/domain/route"
	"github.com/engadi/gateway/ports"
)

// ListRoutes returns all routes, or only active ones with ?active_only=true.
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	routes, err := h.routing.List(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error().Err(err).Msg("list routes")
		writeErr(w, proxy.Internal())
		return
	}
	if routes == nil {
		routes = []route.Route{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

// GetRoute returns one route by id.
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	rt, err := h.routing.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeErr(w, err, "route")
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// CreateRoute creates a route. The id and timestamps are server-assigned.
func (h *Handler) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var in route.Route
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	created, err := h.routing.Create(r.Context(), in)
	if err != nil {
		h.writeMutationErr(w, err, "route")
		return
	}
	if err := h.health.Register(r.Context(), created.TargetService, created.TargetBaseURL); err != nil {
		h.logger.Warn().Err(err).Str("service", created.TargetService).Msg("health registration on route create failed")
	}
	h.logger.Info().Str("route_id", created.ID).Str("pattern", created.Pattern).Msg("route created via admin")
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRoute replaces a route's mutable fields.
func (h *Handler) UpdateRoute(w http.ResponseWriter, r *http.Request) {
	var in route.Route
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	updated, err := h.routing.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeMutationErr(w, err, "route")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRoute removes a route.
func (h *Handler) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.routing.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.storeErr(w, err, "route")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeMutationErr distinguishes uniqueness conflicts, missing rows,
// and validation failures from store errors on create/update paths.
func (h *Handler) writeMutationErr(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, ports.ErrDuplicate):
		conflict(w, what+" conflicts with an existing one")
	case errors.Is(err, ports.ErrNotFound):
		notFound(w, what+" not found")
	case errors.Is(err, ports.ErrInvalid):
		badRequest(w, err.Error())
	default:
		h.logger.Error().Err(err).Str("what", what).Msg("admin mutation failed")
		writeErr(w, proxy.Internal())
	}
}
