package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/domain/ratelimit"
)

// ListRules returns rate-limit rules, optionally only active ones.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	rules, err := h.limits.List(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error().Err(err).Msg("list rules")
		writeErr(w, proxy.Internal())
		return
	}
	if rules == nil {
		rules = []ratelimit.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// GetRule returns one rule by id.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.limits.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeErr(w, err, "rate limit rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates a rate-limit rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in ratelimit.Rule
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	created, err := h.limits.Create(r.Context(), in)
	if err != nil {
		h.writeMutationErr(w, err, "rate limit rule")
		return
	}
	h.logger.Info().Str("rule_id", created.ID).Str("name", created.Name).Msg("rate limit rule created via admin")
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRule replaces a rule's mutable fields.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var in ratelimit.Rule
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	updated, err := h.limits.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeMutationErr(w, err, "rate limit rule")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.limits.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.storeErr(w, err, "rate limit rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
