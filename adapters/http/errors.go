package http

import (
	"encoding/json"
	"net/http"

	"github.com/engadi/gateway/domain/proxy"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      proxy.Code     `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// writeError writes the gateway's uniform JSON error envelope.
func writeError(w http.ResponseWriter, requestID string, err *proxy.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:      err.Code,
			Message:   err.Message,
			RequestID: requestID,
			Details:   err.Details,
		},
	})
}
