// Package admin provides the management API mounted under
// /api/v1/gateway.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/engadi/gateway/adapters/auth"
	"github.com/engadi/gateway/app"
	"github.com/engadi/gateway/config"
	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/ports"
)

// RoleAdmin is the role the management API requires.
const RoleAdmin = "admin"

type contextKey string

const identityKey contextKey = "admin-identity"

// Deps contains dependencies for the admin handler.
type Deps struct {
	Routing  *app.RoutingService
	Limits   *app.RateLimitService
	Health   *app.HealthService
	Logs     ports.LogStore
	Verifier ports.TokenVerifier
	Clock    ports.Clock
	CORS     config.CORSConfig
	Logger   zerolog.Logger
}

// Handler serves the management API.
type Handler struct {
	routing  *app.RoutingService
	limits   *app.RateLimitService
	health   *app.HealthService
	logs     ports.LogStore
	verifier ports.TokenVerifier
	clock    ports.Clock
	logger   zerolog.Logger

	corsMu sync.RWMutex
	cors   config.CORSConfig
}

// NewHandler creates the admin API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		routing:  deps.Routing,
		limits:   deps.Limits,
		health:   deps.Health,
		logs:     deps.Logs,
		verifier: deps.Verifier,
		clock:    deps.Clock,
		cors:     deps.CORS,
		logger:   deps.Logger.With().Str("service", "admin").Logger(),
	}
}

// Router returns the admin API router. Every endpoint requires a valid
// token carrying the admin role.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireAdmin)

	r.Get("/routes", h.ListRoutes)
	r.Post("/routes", h.CreateRoute)
	r.Get("/routes/{id}", h.GetRoute)
	r.Put("/routes/{id}", h.UpdateRoute)
	r.Delete("/routes/{id}", h.DeleteRoute)

	r.Get("/rate-limits", h.ListRules)
	r.Post("/rate-limits", h.CreateRule)
	r.Get("/rate-limits/{id}", h.GetRule)
	r.Put("/rate-limits/{id}", h.UpdateRule)
	r.Delete("/rate-limits/{id}", h.DeleteRule)

	r.Get("/services", h.ListServices)
	r.Get("/services/{name}", h.GetService)
	r.Post("/services/{name}/reset", h.ResetService)

	r.Get("/logs", h.QueryLogs)
	r.Get("/logs/errors", h.QueryErrorLogs)

	r.Get("/metrics", h.TrafficStats)
	r.Get("/health", h.AggregatedHealth)

	r.Get("/stats", h.TrafficStats)
	r.Get("/stats/endpoints", h.TopEndpoints)
	r.Get("/stats/services", h.ServiceStats)
	r.Get("/stats/performance", h.Performance)
	r.Get("/stats/health", h.AggregatedHealth)

	r.Get("/config/cors", h.GetCORS)
	r.Put("/config/cors", h.UpdateCORS)

	return r
}

// requireAdmin rejects callers without a valid admin token. A bad token
// is 401, a valid token without the admin role is 403, and an
// unreachable token service is 503.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.verifier.Verify(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			var aerr *auth.Error
			if errors.As(err, &aerr) && !aerr.Unauthorized() {
				writeErr(w, proxy.AuthUnavailable())
				return
			}
			writeErr(w, proxy.Unauthorized("admin token required"))
			return
		}
		if !id.HasRole(RoleAdmin) {
			writeErr(w, proxy.Forbidden())
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerIdentity returns the authenticated admin from the context.
func CallerIdentity(ctx context.Context) (proxy.Identity, bool) {
	id, ok := ctx.Value(identityKey).(proxy.Identity)
	return id, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, perr *proxy.Error) {
	writeJSON(w, perr.Status, map[string]any{
		"error": map[string]any{
			"code":    perr.Code,
			"message": perr.Message,
			"details": perr.Details,
		},
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{"code": "VALIDATION_ERROR", "message": msg},
	})
}

func conflict(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusConflict, map[string]any{
		"error": map[string]any{"code": "DUPLICATE", "message": msg},
	})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]any{"code": "NOT_FOUND", "message": msg},
	})
}

// storeErr maps store failures onto HTTP responses for write paths.
func (h *Handler) storeErr(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		notFound(w, what+" not found")
	case errors.Is(err, ports.ErrDuplicate):
		conflict(w, what+" already exists")
	default:
		h.logger.Error().Err(err).Str("what", what).Msg("admin store error")
		writeErr(w, proxy.Internal())
	}
}
