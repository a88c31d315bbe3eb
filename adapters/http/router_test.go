package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/domain/route"
)

// Operational endpoints belong to the gateway itself. Even a catch-all
// proxy route must never shadow them.
func TestRouter_ReservedPathsNeverProxied(t *testing.T) {
	f := newGatewayFixture(t, GatewayConfig{})
	f.addRoute(t, route.Route{Pattern: "/*"})

	router := NewRouter(RouterDeps{
		Gateway: f.handler,
		Logger:  zerolog.Nop(),
	})

	reserved := []string{"/live", "/ready", "/health", "/health/live", "/health/ready", "/metrics"}
	for _, path := range reserved {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}
	if n := f.dispatcher.callCount(); n != 0 {
		t.Fatalf("dispatcher called %d times for operational paths, want 0", n)
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/anything", nil))
	if f.dispatcher.callCount() != 1 {
		t.Error("proxy catch-all not reached for ordinary traffic")
	}
}

func TestRouter_ReadinessReflectsCheck(t *testing.T) {
	f := newGatewayFixture(t, GatewayConfig{})

	fail := errors.New("store unreachable")
	router := NewRouter(RouterDeps{
		Gateway: f.handler,
		Ready:   func(ctx context.Context) error { return fail },
		Logger:  zerolog.Nop(),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "unavailable" {
		t.Errorf("body = %v", body)
	}

	// Liveness stays up regardless of the readiness check.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("liveness status = %d, want 200", w.Code)
	}
}
