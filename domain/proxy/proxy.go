// Package proxy holds the data-plane value types: caller identity, the
// request log record, and the client-facing error taxonomy.
package proxy

import (
	"fmt"
	"strings"
	"time"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RolesHeader renders the role list for the upstream identity header.
func (i Identity) RolesHeader() string {
	return strings.Join(i.Roles, ",")
}

// LogRecord is one append-only request log row.
type LogRecord struct {
	RequestID      string    `json:"request_id"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	MatchedRouteID string    `json:"matched_route_id,omitempty"`
	TargetService  string    `json:"target_service,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	ClientIP       string    `json:"client_ip"`
	StatusCode     int       `json:"status_code,omitempty"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// StatusClientClosed is logged when the client went away before the
// response completed.
const StatusClientClosed = 499

// Code identifies an error class in client-facing bodies.
type Code string

const (
	CodeRouteNotFound       Code = "ROUTE_NOT_FOUND"
	CodeMethodNotAllowed    Code = "METHOD_NOT_ALLOWED"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeCircuitOpen         Code = "CIRCUIT_OPEN"
	CodeUpstreamTimeout     Code = "UPSTREAM_TIMEOUT"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeAuthUnavailable     Code = "AUTH_UNAVAILABLE"
	CodeOverloaded          Code = "OVERLOADED"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is a pipeline error destined for the client. It carries the
// HTTP status and the body fields of the uniform error shape.
type Error struct {
	Status  int
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NotFound(path string) *Error {
	return &Error{Status: 404, Code: CodeRouteNotFound, Message: "no route matches " + path}
}

func MethodNotAllowed(allowed []string) *Error {
	return &Error{
		Status:  405,
		Code:    CodeMethodNotAllowed,
		Message: "method not allowed",
		Details: map[string]any{"allowed": allowed},
	}
}

func Unauthorized(reason string) *Error {
	return &Error{Status: 401, Code: CodeUnauthorized, Message: reason}
}

func Forbidden() *Error {
	return &Error{Status: 403, Code: CodeForbidden, Message: "admin role required"}
}

func RateLimited(rule string, retryAfter time.Duration) *Error {
	return &Error{
		Status:  429,
		Code:    CodeRateLimited,
		Message: "rate limit exceeded",
		Details: map[string]any{"rule": rule, "retry_after_seconds": int(retryAfter.Seconds())},
	}
}

func CircuitOpen(service string) *Error {
	return &Error{
		Status:  503,
		Code:    CodeCircuitOpen,
		Message: "upstream circuit is open",
		Details: map[string]any{"service": service},
	}
}

func UpstreamTimeout(service string) *Error {
	return &Error{Status: 504, Code: CodeUpstreamTimeout, Message: "upstream " + service + " timed out"}
}

func UpstreamUnavailable(service string) *Error {
	return &Error{Status: 502, Code: CodeUpstreamUnavailable, Message: "upstream " + service + " is unavailable"}
}

func AuthUnavailable() *Error {
	return &Error{Status: 503, Code: CodeAuthUnavailable, Message: "token verification is temporarily unavailable"}
}

func Overloaded() *Error {
	return &Error{Status: 503, Code: CodeOverloaded, Message: "gateway is at capacity"}
}

func Internal() *Error {
	return &Error{Status: 500, Code: CodeInternal, Message: "internal error"}
}
