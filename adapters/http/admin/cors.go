package admin

import (
	"encoding/json"
	"net/http"

	"github.com/engadi/gateway/config"
)

// GetCORS returns the active CORS settings.
func (h *Handler) GetCORS(w http.ResponseWriter, r *http.Request) {
	h.corsMu.RLock()
	cors := h.cors
	h.corsMu.RUnlock()
	writeJSON(w, http.StatusOK, corsView(cors))
}

// UpdateCORS replaces the runtime CORS settings. The change lasts until
// restart; the config file stays the durable source.
func (h *Handler) UpdateCORS(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Origins          []string `json:"origins"`
		Methods          []string `json:"methods"`
		Headers          []string `json:"headers"`
		AllowCredentials bool     `json:"allow_credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	h.corsMu.Lock()
	h.cors = config.CORSConfig{
		Origins:          in.Origins,
		Methods:          in.Methods,
		Headers:          in.Headers,
		AllowCredentials: in.AllowCredentials,
	}
	cors := h.cors
	h.corsMu.Unlock()

	h.logger.Info().Strs("origins", cors.Origins).Msg("cors settings updated via admin")
	writeJSON(w, http.StatusOK, corsView(cors))
}

func corsView(c config.CORSConfig) map[string]any {
	origins := c.Origins
	if origins == nil {
		origins = []string{}
	}
	methods := c.Methods
	if methods == nil {
		methods = []string{}
	}
	headers := c.Headers
	if headers == nil {
		headers = []string{}
	}
	return map[string]any{
		"origins":           origins,
		"methods":           methods,
		"headers":           headers,
		"allow_credentials": c.AllowCredentials,
	}
}
