package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/engadi/gateway/domain/proxy"
)

const (
	defaultStatsHours = 24
	maxStatsHours     = 168
)

// statsWindow resolves the ?hours= parameter, clamped to [1, 168].
func (h *Handler) statsWindow(r *http.Request) (time.Time, int, bool) {
	hours := defaultStatsHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStatsHours {
			return time.Time{}, 0, false
		}
		hours = n
	}
	since := h.clock.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return since, hours, true
}

// TrafficStats returns windowed traffic totals.
func (h *Handler) TrafficStats(w http.ResponseWriter, r *http.Request) {
	since, hours, ok := h.statsWindow(r)
	if !ok {
		badRequest(w, "hours must be within [1, 168]")
		return
	}
	stats, err := h.logs.Stats(r.Context(), since)
	if err != nil {
		h.logger.Error().Err(err).Msg("traffic stats")
		writeErr(w, proxy.Internal())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hours": hours, "stats": stats})
}

// TopEndpoints ranks endpoints by request count over the window.
func (h *Handler) TopEndpoints(w http.ResponseWriter, r *http.Request) {
	since, hours, ok := h.statsWindow(r)
	if !ok {
		badRequest(w, "hours must be within [1, 168]")
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			badRequest(w, "limit must be within [1, 100]")
			return
		}
		limit = n
	}
	endpoints, err := h.logs.TopEndpoints(r.Context(), since, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("top endpoints")
		writeErr(w, proxy.Internal())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hours": hours, "endpoints": endpoints})
}

// ServiceStats breaks traffic down per upstream service.
func (h *Handler) ServiceStats(w http.ResponseWriter, r *http.Request) {
	since, hours, ok := h.statsWindow(r)
	if !ok {
		badRequest(w, "hours must be within [1, 168]")
		return
	}
	stats, err := h.logs.ServiceStats(r.Context(), since)
	if err != nil {
		h.logger.Error().Err(err).Msg("service stats")
		writeErr(w, proxy.Internal())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hours": hours, "services": stats})
}

// Performance returns response-time percentiles over the window.
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	since, hours, ok := h.statsWindow(r)
	if !ok {
		badRequest(w, "hours must be within [1, 168]")
		return
	}
	pct, err := h.logs.Percentiles(r.Context(), since)
	if err != nil {
		h.logger.Error().Err(err).Msg("performance stats")
		writeErr(w, proxy.Internal())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hours": hours, "percentiles": pct})
}

// AggregatedHealth folds every tracked service into one status.
func (h *Handler) AggregatedHealth(w http.ResponseWriter, r *http.Request) {
	status, err := h.health.Aggregate(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("aggregate health")
		writeErr(w, proxy.Internal())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}
