// Package http provides the HTTP surface of the gateway: the proxy
// pipeline, the upstream dispatcher, and the admin API.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/engadi/gateway/adapters/metrics"
	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/domain/route"
	"github.com/engadi/gateway/ports"
)

const (
	// Bodies up to this size are buffered so a failed attempt can be
	// retried. Larger bodies stream through and are never retried.
	maxRetryBodyBytes = 1 << 20

	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// Headers that must not cross the proxy boundary in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Dispatcher forwards matched requests to their upstream service.
type Dispatcher struct {
	client         *http.Client
	defaultTimeout time.Duration
	defaultRetries int
	metrics        *metrics.Collector
	logger         zerolog.Logger
}

// DispatcherConfig contains configuration for the dispatcher.
type DispatcherConfig struct {
	DefaultTimeout  time.Duration
	DefaultRetries  int
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// NewDispatcher creates an upstream dispatcher. Timeouts are applied
// per attempt through request contexts, so the shared client carries
// none of its own.
func NewDispatcher(cfg DispatcherConfig, collector *metrics.Collector, logger zerolog.Logger) *Dispatcher {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableCompression:  true,
	}

	return &Dispatcher{
		client:         &http.Client{Transport: transport},
		defaultTimeout: cfg.DefaultTimeout,
		defaultRetries: cfg.DefaultRetries,
		metrics:        collector,
		logger:         logger.With().Str("service", "dispatcher").Logger(),
	}
}

// Close releases idle upstream connections.
func (d *Dispatcher) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// Dispatch forwards the request to the route's upstream, streaming the
// response back to the client. The returned result reports what the
// caller should record: the upstream status if a response was relayed,
// or a failure classification if nothing was written.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, rt route.Route, id *proxy.Identity, requestID, clientIP string) ports.DispatchResult {
	timeout := rt.Timeout()
	if timeout == 0 {
		timeout = d.defaultTimeout
	}
	retries := rt.RetryCount
	if retries == 0 {
		retries = d.defaultRetries
	}

	// Buffer small bodies so failed attempts can be replayed. A body
	// that exceeds the buffer streams through on a single attempt.
	var bodyBuf []byte
	retriable := true
	if r.Body != nil && r.Body != http.NoBody {
		buf, err := io.ReadAll(io.LimitReader(r.Body, maxRetryBodyBytes+1))
		if err != nil {
			return ports.DispatchResult{
				Canceled:     r.Context().Err() != nil,
				ErrorMessage: fmt.Sprintf("read request body: %v", err),
			}
		}
		if len(buf) > maxRetryBodyBytes {
			rest := r.Body
			r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), rest))
			retriable = false
		} else {
			bodyBuf = buf
		}
	}

	target, err := d.buildTargetURL(rt, r.URL)
	if err != nil {
		return ports.DispatchResult{ErrorMessage: err.Error()}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseDelay
	bo.MaxInterval = retryMaxDelay

	var lastErr error
	for attempt := 0; ; attempt++ {
		res, err := d.attempt(w, r, rt, id, requestID, clientIP, target, bodyBuf, retriable)
		if err == nil {
			return res
		}
		lastErr = err

		if r.Context().Err() != nil {
			return ports.DispatchResult{Canceled: true, ErrorMessage: lastErr.Error()}
		}
		if attempt >= retries || !d.shouldRetry(r.Method, err, retriable) {
			break
		}
		if d.metrics != nil {
			d.metrics.UpstreamRetries.Inc()
		}
		d.logger.Debug().
			Str("request_id", requestID).
			Str("target_service", rt.TargetService).
			Int("attempt", attempt+1).
			Err(err).
			Msg("retrying upstream dispatch")

		select {
		case <-time.After(bo.NextBackOff()):
		case <-r.Context().Done():
			return ports.DispatchResult{Canceled: true, ErrorMessage: lastErr.Error()}
		}
	}

	res := ports.DispatchResult{Failure: true, ErrorMessage: lastErr.Error()}
	if isTimeoutErr(lastErr) {
		res.Timeout = true
	}
	if d.metrics != nil {
		kind := "connect"
		if res.Timeout {
			kind = "timeout"
		}
		d.metrics.UpstreamErrors.WithLabelValues(rt.TargetService, kind).Inc()
	}
	return res
}

// attempt performs one upstream round trip. It only writes to the
// client once response headers have arrived, which keeps earlier
// failed attempts invisible to the caller.
func (d *Dispatcher) attempt(w http.ResponseWriter, r *http.Request, rt route.Route, id *proxy.Identity, requestID, clientIP, target string, bodyBuf []byte, buffered bool) (ports.DispatchResult, error) {
	timeout := rt.Timeout()
	if timeout == 0 {
		timeout = d.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	var body io.Reader
	if buffered {
		if len(bodyBuf) > 0 {
			body = bytes.NewReader(bodyBuf)
		}
	} else {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return ports.DispatchResult{}, fmt.Errorf("create upstream request: %w", err)
	}
	if buffered {
		req.ContentLength = int64(len(bodyBuf))
	}
	d.prepareHeaders(req, r, id, requestID, clientIP)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return ports.DispatchResult{}, err
	}
	defer resp.Body.Close()

	upstreamTime := time.Since(start)
	if d.metrics != nil {
		d.metrics.UpstreamDuration.
			WithLabelValues(rt.TargetService, strconv.Itoa(resp.StatusCode)).
			Observe(upstreamTime.Seconds())
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set("X-Gateway-Request-ID", requestID)
	w.WriteHeader(resp.StatusCode)

	written, copyErr := io.Copy(w, resp.Body)
	res := ports.DispatchResult{
		StatusCode:   resp.StatusCode,
		BytesWritten: written,
		UpstreamTime: upstreamTime,
		Failure:      resp.StatusCode >= 500,
	}
	if copyErr != nil {
		// Headers are already out; report the truncation instead of
		// attempting a second response.
		res.ErrorMessage = fmt.Sprintf("copy response: %v", copyErr)
		res.Canceled = r.Context().Err() != nil
	}
	return res, nil
}

func (d *Dispatcher) buildTargetURL(rt route.Route, u *url.URL) (string, error) {
	base, err := url.Parse(rt.TargetBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse target base URL: %w", err)
	}
	target := *base
	target.Path = base.Path + u.EscapedPath()
	target.RawPath = ""
	target.RawQuery = u.RawQuery
	return target.String(), nil
}

// prepareHeaders copies the inbound headers onto the upstream request,
// strips hop-by-hop and spoofable gateway headers, and injects the
// gateway's own.
func (d *Dispatcher) prepareHeaders(req *http.Request, r *http.Request, id *proxy.Identity, requestID, clientIP string) {
	for k, vv := range r.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for _, h := range hopByHopHeaders {
		req.Header.Del(h)
	}
	// Inbound X-Gateway-* headers are never trusted.
	for k := range req.Header {
		if strings.HasPrefix(k, "X-Gateway-") {
			req.Header.Del(k)
		}
	}

	req.Header.Set("X-Gateway-Request-ID", requestID)
	if id != nil {
		req.Header.Set("X-Gateway-User-ID", id.UserID)
		if id.Email != "" {
			req.Header.Set("X-Gateway-User-Email", id.Email)
		}
		if roles := id.RolesHeader(); roles != "" {
			req.Header.Set("X-Gateway-User-Roles", roles)
		}
	}

	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		req.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	if r.Host != "" {
		req.Host = r.Host
	}
}

func copyResponseHeaders(dst http.Header, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// shouldRetry reports whether a failed attempt may be repeated. Dial
// failures are safe for any method because the connection was never
// established. A reset or timeout can arrive after the upstream already
// received the request, so those are replayed only for idempotent
// methods. Nothing is retried when the body is not replayable.
func (d *Dispatcher) shouldRetry(method string, err error, retriable bool) bool {
	if !retriable {
		return false
	}
	if isDialErr(err) {
		return true
	}
	if !isIdempotent(method) {
		return false
	}
	return isConnectErr(err) || isTimeoutErr(err)
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete, http.MethodTrace:
		return true
	}
	return false
}

// isDialErr reports failures from before any byte reached the wire:
// refused connections, dial errors, unresolvable names.
func isDialErr(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// isConnectErr additionally covers resets, which may land after the
// request was fully written.
func isConnectErr(err error) bool {
	return isDialErr(err) || errors.Is(err, syscall.ECONNRESET)
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ ports.Dispatcher = (*Dispatcher)(nil)
