package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engadi/gateway/domain/health"
	"github.com/engadi/gateway/domain/proxy"
)

// ListServices returns the tracked upstream services with their health
// and breaker position.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	recs, err := h.health.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list services")
		writeErr(w, proxy.Internal())
		return
	}
	if recs == nil {
		recs = []health.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": recs})
}

// GetService returns one tracked service.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	rec, err := h.health.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.storeErr(w, err, "service")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ResetService clears a service's breaker and health counters.
func (h *Handler) ResetService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.health.Reset(r.Context(), name); err != nil {
		h.storeErr(w, err, "service")
		return
	}
	h.logger.Info().Str("target_service", name).Msg("service reset via admin")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
