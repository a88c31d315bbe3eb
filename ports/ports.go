// Package ports defines the interfaces between the application core and
// its adapters. Implementations live under adapters/.
package ports

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/engadi/gateway/domain/health"
	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/domain/ratelimit"
	"github.com/engadi/gateway/domain/route"
)

var (
	// ErrNotFound is returned by stores when the row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by stores on a uniqueness violation.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalid marks input rejected by domain validation, as opposed
	// to a store failure.
	ErrInvalid = errors.New("invalid input")
)

// Clock abstracts time for testable window and breaker logic.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints opaque unique identifiers.
type IDGenerator interface {
	NewID() string
}

// RouteStore persists route records.
type RouteStore interface {
	Create(ctx context.Context, r route.Route) error
	Update(ctx context.Context, r route.Route) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (route.Route, error)
	List(ctx context.Context, activeOnly bool) ([]route.Route, error)
}

// RuleStore persists rate-limit rules.
type RuleStore interface {
	Create(ctx context.Context, r ratelimit.Rule) error
	Update(ctx context.Context, r ratelimit.Rule) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (ratelimit.Rule, error)
	List(ctx context.Context, activeOnly bool) ([]ratelimit.Rule, error)
}

// HealthStore persists per-service health records.
type HealthStore interface {
	Upsert(ctx context.Context, rec health.Record) error
	Get(ctx context.Context, service string) (health.Record, error)
	List(ctx context.Context) ([]health.Record, error)
}

// LogQuery filters a request-log scan. Zero values mean "no filter".
type LogQuery struct {
	Method       string
	PathContains string
	Service      string
	UserID       string
	StatusCode   int
	// ErrorsOnly keeps rows with a 5xx status or no status at all.
	ErrorsOnly bool
	Start      time.Time
	End        time.Time
	Limit      int
	Offset     int
}

// TrafficStats summarizes request volume over a window.
type TrafficStats struct {
	Total             int64            `json:"total_requests"`
	Errors            int64            `json:"error_requests"`
	ErrorRate         float64          `json:"error_rate"`
	RequestsPerSecond float64          `json:"requests_per_second"`
	AvgResponseTimeMs float64          `json:"avg_response_time_ms"`
	ByStatusClass     map[string]int64 `json:"by_status_class"`
}

// EndpointCount is one row of the top-endpoints ranking.
type EndpointCount struct {
	Method            string  `json:"method"`
	Path              string  `json:"path"`
	Count             int64   `json:"count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// ServiceStats summarizes traffic to one upstream service.
type ServiceStats struct {
	Service           string  `json:"service"`
	Count             int64   `json:"count"`
	Errors            int64   `json:"errors"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Percentiles holds response-time quantiles in milliseconds.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// LogStore persists request logs and answers analytics queries.
type LogStore interface {
	Insert(ctx context.Context, recs []proxy.LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]proxy.LogRecord, error)
	Stats(ctx context.Context, since time.Time) (TrafficStats, error)
	TopEndpoints(ctx context.Context, since time.Time, n int) ([]EndpointCount, error)
	ServiceStats(ctx context.Context, since time.Time) ([]ServiceStats, error)
	Percentiles(ctx context.Context, since time.Time) (Percentiles, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CounterStore holds rate-limit counters. AcquireAll evaluates every
// demand against its bucket and commits the increments only when all of
// them allow; the whole operation is atomic with respect to concurrent
// acquisitions touching the same keys.
type CounterStore interface {
	AcquireAll(demands []ratelimit.Demand, now time.Time) ([]ratelimit.Decision, bool)
}

// TokenVerifier turns an Authorization header value into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, authorization string) (proxy.Identity, error)
}

// DispatchResult reports how a proxied dispatch ended. StatusCode is
// zero when no response reached the client, in which case Timeout and
// Canceled classify the failure for the caller to report.
type DispatchResult struct {
	StatusCode   int
	BytesWritten int64
	UpstreamTime time.Duration
	Failure      bool
	Timeout      bool
	Canceled     bool
	ErrorMessage string
}

// Dispatcher forwards a request to the resolved upstream and streams
// the response to the client.
type Dispatcher interface {
	Dispatch(w http.ResponseWriter, r *http.Request, rt route.Route, id *proxy.Identity, requestID, clientIP string) DispatchResult
}
