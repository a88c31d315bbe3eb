// Package route provides route records and priority-based resolution.
package route

import (
	"fmt"
	"strings"
	"time"

	"github.com/engadi/gateway/domain/pattern"
)

// MethodWildcard in a route's method set accepts every HTTP method.
const MethodWildcard = "*"

// Route binds a URL pattern to an upstream and its dispatch policy.
type Route struct {
	ID                    string    `json:"id"`
	Pattern               string    `json:"pattern"`
	Methods               []string  `json:"methods"`
	TargetService         string    `json:"target_service"`
	TargetBaseURL         string    `json:"target_base_url"`
	AuthRequired          bool      `json:"auth_required"`
	Priority              int       `json:"priority"`
	TimeoutMs             int       `json:"timeout_ms"`
	RetryCount            int       `json:"retry_count"`
	CircuitBreakerEnabled bool      `json:"circuit_breaker_enabled"`
	Active                bool      `json:"active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// AllowsMethod reports whether the route accepts the given method.
func (r Route) AllowsMethod(method string) bool {
	for _, m := range r.Methods {
		if m == MethodWildcard || m == method {
			return true
		}
	}
	return false
}

// Timeout returns the per-attempt dispatch timeout.
func (r Route) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// NormalizeMethods uppercases and deduplicates a method set, preserving
// first-seen order. A set containing "*" collapses to the wildcard.
func NormalizeMethods(methods []string) []string {
	seen := make(map[string]bool, len(methods))
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		if m == MethodWildcard {
			return []string{MethodWildcard}
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Validate checks a route record before it is persisted.
func (r Route) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("route id is required")
	}
	if _, err := pattern.Compile(r.Pattern); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}
	if len(r.Methods) == 0 {
		return fmt.Errorf("at least one method is required")
	}
	if r.TargetService == "" {
		return fmt.Errorf("target_service is required")
	}
	if r.TargetBaseURL == "" {
		return fmt.Errorf("target_base_url is required")
	}
	if strings.HasSuffix(r.TargetBaseURL, "/") {
		return fmt.Errorf("target_base_url must not end with /")
	}
	if !strings.HasPrefix(r.TargetBaseURL, "http://") && !strings.HasPrefix(r.TargetBaseURL, "https://") {
		return fmt.Errorf("target_base_url must be an absolute http(s) URL")
	}
	if r.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must be >= 0")
	}
	if r.RetryCount < 0 {
		return fmt.Errorf("retry_count must be >= 0")
	}
	return nil
}
