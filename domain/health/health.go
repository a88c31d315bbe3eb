// Package health provides upstream health classification and aggregation.
package health

import "time"

// Status is a service's probe-derived health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Record is the tracked state for one upstream service.
type Record struct {
	Service           string    `json:"service"`
	BaseURL           string    `json:"base_url"`
	Status            Status    `json:"status"`
	LastCheckedAt     time.Time `json:"last_checked_at"`
	LastStatusCode    int       `json:"last_status_code"`
	SuccessCount      int64     `json:"success_count"`
	ErrorCount        int64     `json:"error_count"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	CircuitOpen       bool      `json:"circuit_open"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewRecord registers a service that has never been probed.
func NewRecord(service, baseURL string, now time.Time) Record {
	return Record{
		Service:   service,
		BaseURL:   baseURL,
		Status:    StatusUnknown,
		UpdatedAt: now,
	}
}

// Observe folds one probe outcome into the record. A 200 marks the
// service healthy; any other response marks it degraded; no response at
// all marks it unhealthy. Response-time samples feed a running average
// over successful probes.
func Observe(r Record, statusCode int, rtt time.Duration, reached bool, now time.Time) Record {
	r.LastCheckedAt = now
	r.UpdatedAt = now

	if !reached {
		r.Status = StatusUnhealthy
		r.LastStatusCode = 0
		r.ErrorCount++
		return r
	}

	r.LastStatusCode = statusCode
	if statusCode == 200 {
		ms := float64(rtt) / float64(time.Millisecond)
		r.AvgResponseTimeMs = (r.AvgResponseTimeMs*float64(r.SuccessCount) + ms) / float64(r.SuccessCount+1)
		r.SuccessCount++
		r.Status = StatusHealthy
		return r
	}
	r.ErrorCount++
	r.Status = StatusDegraded
	return r
}

// ResetCounters clears the accumulated probe counters, keeping identity
// and the last observed status.
func ResetCounters(r Record, now time.Time) Record {
	r.SuccessCount = 0
	r.ErrorCount = 0
	r.AvgResponseTimeMs = 0
	r.UpdatedAt = now
	return r
}

// Aggregate folds per-service statuses into one gateway-wide status:
// healthy when every service is healthy, degraded when at least one is
// healthy and none unhealthy, otherwise unhealthy. No tracked services
// means unknown.
func Aggregate(records []Record) Status {
	if len(records) == 0 {
		return StatusUnknown
	}
	var healthy, unhealthy int
	for _, r := range records {
		switch r.Status {
		case StatusHealthy:
			healthy++
		case StatusUnhealthy:
			unhealthy++
		}
	}
	switch {
	case healthy == len(records):
		return StatusHealthy
	case healthy > 0 && unhealthy == 0:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}
