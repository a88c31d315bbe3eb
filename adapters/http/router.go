package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/engadi/gateway/config"
)

// RouterDeps wires the top-level HTTP surface.
type RouterDeps struct {
	Gateway *GatewayHandler
	Admin   http.Handler
	// Ready reports whether the gateway can serve traffic. A nil func
	// means always ready.
	Ready   func(ctx context.Context) error
	Metrics http.Handler
	CORS    config.CORSConfig
	Logger  zerolog.Logger
}

// NewRouter builds the gateway's HTTP router: operational endpoints,
// the admin API, and the proxy catch-all for everything else.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(newLoggingMiddleware(deps.Logger))

	if len(deps.CORS.Origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORS.Origins,
			AllowedMethods:   deps.CORS.Methods,
			AllowedHeaders:   deps.CORS.Headers,
			AllowCredentials: deps.CORS.AllowCredentials,
			MaxAge:           300,
		}))
	}

	r.Get("/health", liveness)
	r.Get("/live", liveness)
	r.Get("/ready", readiness(deps.Ready))
	r.Get("/health/live", liveness)
	r.Get("/health/ready", readiness(deps.Ready))

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	if deps.Admin != nil {
		r.Mount("/api/v1/gateway", deps.Admin)
	}

	// Everything else is proxy traffic.
	r.NotFound(deps.Gateway.ServeHTTP)
	r.MethodNotAllowed(deps.Gateway.ServeHTTP)

	return r
}

func liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func readiness(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// newLoggingMiddleware logs requests at debug level. The data plane
// writes its own info-level record per request, so this exists for
// admin and operational traffic during debugging.
func newLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" ||
				r.URL.Path == "/live" || r.URL.Path == "/ready" {
				return
			}
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
