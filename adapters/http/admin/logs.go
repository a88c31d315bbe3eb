package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/ports"
)

// QueryLogs returns request log rows filtered by the query parameters:
// method, path_contains, service, user_id, status_code, start, end
// (RFC 3339), limit, offset.
func (h *Handler) QueryLogs(w http.ResponseWriter, r *http.Request) {
	q, err := parseLogQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	h.serveLogs(w, r, q)
}

// QueryErrorLogs returns recent failed requests: 5xx responses and
// requests that never produced one.
func (h *Handler) QueryErrorLogs(w http.ResponseWriter, r *http.Request) {
	q, err := parseLogQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	q.ErrorsOnly = true
	h.serveLogs(w, r, q)
}

func (h *Handler) serveLogs(w http.ResponseWriter, r *http.Request, q ports.LogQuery) {
	recs, err := h.logs.Query(r.Context(), q)
	if err != nil {
		h.logger.Error().Err(err).Msg("query logs")
		writeErr(w, proxy.Internal())
		return
	}
	if recs == nil {
		recs = []proxy.LogRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": recs})
}

type queryError string

func (e queryError) Error() string { return string(e) }

func parseLogQuery(r *http.Request) (ports.LogQuery, error) {
	params := r.URL.Query()
	q := ports.LogQuery{
		Method:       params.Get("method"),
		PathContains: params.Get("path_contains"),
		Service:      params.Get("service"),
		UserID:       params.Get("user_id"),
	}

	if v := params.Get("status_code"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			return q, queryError("status_code must be an integer")
		}
		q.StatusCode = code
	}
	if v := params.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, queryError("start must be RFC 3339")
		}
		q.Start = t
	}
	if v := params.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, queryError("end must be RFC 3339")
		}
		q.End = t
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return q, queryError("limit must be within [1, 1000]")
		}
		q.Limit = n
	}
	if v := params.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, queryError("offset must be >= 0")
		}
		q.Offset = n
	}
	return q, nil
}
