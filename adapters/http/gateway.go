package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/engadi/gateway/adapters/auth"
	"github.com/engadi/gateway/adapters/metrics"
	"github.com/engadi/gateway/app"
	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/domain/ratelimit"
	"github.com/engadi/gateway/domain/route"
	"github.com/engadi/gateway/ports"
)

// GatewayConfig holds the data-plane toggles the handler consults per
// request.
type GatewayConfig struct {
	RateLimitEnabled bool
	BreakerEnabled   bool
	MaxInFlight      int
	TrustedProxies   []*net.IPNet
}

// ParseTrustedProxies parses CIDR strings for GatewayConfig.
func ParseTrustedProxies(cidrs []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ipnet)
	}
	return out, nil
}

// GatewayDeps wires the handler's collaborators.
type GatewayDeps struct {
	Routing    *app.RoutingService
	Limits     *app.RateLimitService
	Breakers   *app.BreakerRegistry
	Health     *app.HealthService
	Verifier   ports.TokenVerifier
	Dispatcher ports.Dispatcher
	Sink       *app.LogSink
	Clock      ports.Clock
	IDs        ports.IDGenerator
	Metrics    *metrics.Collector
	Logger     zerolog.Logger
}

// GatewayHandler runs the proxy pipeline: resolve, authenticate, rate
// limit, breaker check, dispatch. Every request produces exactly one
// log record.
type GatewayHandler struct {
	deps GatewayDeps
	cfg  GatewayConfig

	inFlight chan struct{}
}

// NewGatewayHandler creates the data-plane handler.
func NewGatewayHandler(deps GatewayDeps, cfg GatewayConfig) *GatewayHandler {
	h := &GatewayHandler{
		deps: deps,
		cfg:  cfg,
	}
	h.deps.Logger = deps.Logger.With().Str("service", "gateway").Logger()
	if cfg.MaxInFlight > 0 {
		h.inFlight = make(chan struct{}, cfg.MaxInFlight)
	}
	return h
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := h.deps.IDs.NewID()
	clientIP := h.clientIP(r)

	rec := proxy.LogRecord{
		RequestID: requestID,
		Method:    r.Method,
		Path:      r.URL.Path,
		ClientIP:  clientIP,
		CreatedAt: h.deps.Clock.Now().UTC(),
	}

	if h.deps.Metrics != nil {
		h.deps.Metrics.RequestsInFlight.Inc()
		defer h.deps.Metrics.RequestsInFlight.Dec()
	}

	if h.inFlight != nil {
		select {
		case h.inFlight <- struct{}{}:
			defer func() { <-h.inFlight }()
		default:
			h.finish(w, r, &rec, start, proxy.Overloaded(), "overloaded")
			return
		}
	}

	rt, err := h.deps.Routing.Resolve(r.URL.Path, r.Method)
	if err != nil {
		var mna *route.MethodNotAllowedError
		if errors.As(err, &mna) {
			w.Header().Set("Allow", strings.Join(mna.Allowed, ", "))
			h.finish(w, r, &rec, start, proxy.MethodNotAllowed(mna.Allowed), "method_not_allowed")
			return
		}
		h.finish(w, r, &rec, start, proxy.NotFound(r.URL.Path), "route_not_found")
		return
	}
	rec.MatchedRouteID = rt.ID
	rec.TargetService = rt.TargetService

	identity, perr := h.authenticate(r, rt)
	if perr != nil {
		h.finish(w, r, &rec, start, perr, "auth_failed")
		return
	}
	if identity != nil {
		rec.UserID = identity.UserID
	}

	if h.cfg.RateLimitEnabled && h.deps.Limits != nil {
		sub := ratelimit.Subject{
			ClientIP: clientIP,
			RouteID:  rt.ID,
			Path:     r.URL.Path,
		}
		if identity != nil {
			sub.UserID = identity.UserID
		}
		verdict := h.deps.Limits.Evaluate(sub)
		if verdict.Applied {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(verdict.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(verdict.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(verdict.Reset.Unix(), 10))
		}
		if !verdict.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(verdict.RetryAfter.Seconds())))
			if h.deps.Metrics != nil {
				h.deps.Metrics.RateLimitHits.WithLabelValues(verdict.DeniedRule).Inc()
			}
			h.finish(w, r, &rec, start, proxy.RateLimited(verdict.DeniedRule, verdict.RetryAfter), "rate_limited:"+verdict.DeniedRule)
			return
		}
	}

	useBreaker := h.cfg.BreakerEnabled && rt.CircuitBreakerEnabled && h.deps.Breakers != nil
	if useBreaker && !h.deps.Breakers.Allow(rt.TargetService) {
		h.observeBreaker(rt.TargetService)
		h.finish(w, r, &rec, start, proxy.CircuitOpen(rt.TargetService), "circuit_open")
		return
	}

	if h.deps.Health != nil {
		h.registerService(rt)
	}

	res := h.deps.Dispatcher.Dispatch(w, r, rt, identity, requestID, clientIP)

	if useBreaker {
		switch {
		case res.Canceled:
			// Client abandonment says nothing about upstream health; a
			// half_open probe slot still has to come back.
			h.deps.Breakers.ReleaseProbe(rt.TargetService)
		case res.Failure:
			h.deps.Breakers.RecordFailure(rt.TargetService)
		case res.StatusCode != 0:
			h.deps.Breakers.RecordSuccess(rt.TargetService)
		default:
			// No response and no failure means the request never
			// produced an upstream verdict.
			h.deps.Breakers.ReleaseProbe(rt.TargetService)
		}
		h.observeBreaker(rt.TargetService)
	}

	rec.ErrorMessage = res.ErrorMessage
	switch {
	case res.StatusCode != 0:
		rec.StatusCode = res.StatusCode
		if res.Canceled {
			rec.StatusCode = proxy.StatusClientClosed
		}
		h.finishRelayed(r, &rec, start)
	case res.Canceled:
		rec.StatusCode = proxy.StatusClientClosed
		h.finishRelayed(r, &rec, start)
	case res.Timeout:
		h.finish(w, r, &rec, start, proxy.UpstreamTimeout(rt.TargetService), res.ErrorMessage)
	default:
		h.finish(w, r, &rec, start, proxy.UpstreamUnavailable(rt.TargetService), res.ErrorMessage)
	}
}

// authenticate verifies the caller when the route demands it. On public
// routes a present token is still verified best-effort so the identity
// propagates upstream, but a bad token does not block the request.
func (h *GatewayHandler) authenticate(r *http.Request, rt route.Route) (*proxy.Identity, *proxy.Error) {
	authz := r.Header.Get("Authorization")

	if !rt.AuthRequired {
		if authz == "" {
			return nil, nil
		}
		id, err := h.deps.Verifier.Verify(r.Context(), authz)
		if err != nil {
			return nil, nil
		}
		return &id, nil
	}

	id, err := h.deps.Verifier.Verify(r.Context(), authz)
	if err == nil {
		return &id, nil
	}

	var aerr *auth.Error
	if errors.As(err, &aerr) {
		if h.deps.Metrics != nil {
			h.deps.Metrics.AuthFailures.WithLabelValues(string(aerr.Kind)).Inc()
		}
		if !aerr.Unauthorized() {
			return nil, proxy.AuthUnavailable()
		}
		return nil, proxy.Unauthorized(aerr.Reason())
	}
	return nil, proxy.Unauthorized("invalid token")
}

// registerService ensures the health supervisor tracks the upstream the
// first time traffic reaches it.
func (h *GatewayHandler) registerService(rt route.Route) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.deps.Health.Register(ctx, rt.TargetService, rt.TargetBaseURL); err != nil {
		h.deps.Logger.Warn().Err(err).Str("target_service", rt.TargetService).Msg("service registration failed")
	}
}

func (h *GatewayHandler) observeBreaker(service string) {
	if h.deps.Metrics == nil {
		return
	}
	state := h.deps.Breakers.State(service)
	h.deps.Metrics.BreakerState.WithLabelValues(service).Set(metrics.BreakerStateValue(string(state)))
}

// finish writes a gateway-originated error response and records the
// request. Not used once upstream bytes have reached the client.
func (h *GatewayHandler) finish(w http.ResponseWriter, r *http.Request, rec *proxy.LogRecord, start time.Time, perr *proxy.Error, errMsg string) {
	rec.StatusCode = perr.Status
	rec.ErrorMessage = errMsg
	writeError(w, rec.RequestID, perr)
	h.finishRelayed(r, rec, start)
}

// finishRelayed records metrics and the log row for a finished request.
func (h *GatewayHandler) finishRelayed(r *http.Request, rec *proxy.LogRecord, start time.Time) {
	elapsed := time.Since(start)
	rec.ResponseTimeMs = float64(elapsed.Microseconds()) / 1000.0

	if h.deps.Metrics != nil {
		status := strconv.Itoa(rec.StatusCode)
		service := rec.TargetService
		if service == "" {
			service = "none"
		}
		h.deps.Metrics.RequestsTotal.WithLabelValues(rec.Method, status, service).Inc()
		h.deps.Metrics.RequestDuration.WithLabelValues(rec.Method, status).Observe(elapsed.Seconds())
	}

	evt := h.deps.Logger.Info()
	if rec.StatusCode >= 500 {
		evt = h.deps.Logger.Warn()
	}
	evt.
		Str("request_id", rec.RequestID).
		Str("method", rec.Method).
		Str("path", rec.Path).
		Str("client_ip", rec.ClientIP).
		Int("status", rec.StatusCode).
		Float64("response_time_ms", rec.ResponseTimeMs)
	if rec.TargetService != "" {
		evt.Str("target_service", rec.TargetService)
	}
	if rec.ErrorMessage != "" {
		evt.Str("error", rec.ErrorMessage)
	}
	evt.Msg("request")

	if h.deps.Sink != nil {
		h.deps.Sink.Record(*rec)
	}
}

// clientIP determines the caller address. X-Forwarded-For is honored
// only when the socket peer is inside a trusted proxy range; the
// rightmost entry outside the trusted set is the client.
func (h *GatewayHandler) clientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if len(h.cfg.TrustedProxies) == 0 || !h.trusted(peer) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(parts[i])
		if hop == "" {
			continue
		}
		if !h.trusted(hop) {
			return hop
		}
	}
	// Every hop is a trusted proxy, so the leftmost is the origin.
	return strings.TrimSpace(parts[0])
}

func (h *GatewayHandler) trusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipnet := range h.cfg.TrustedProxies {
		if ipnet.Contains(parsed) {
			return true
		}
	}
	return false
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
