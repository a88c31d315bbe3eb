// Package ratelimit provides rate-limit rules and sliding-window math.
// All functions are pure - counters live behind ports.CounterStore.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/engadi/gateway/domain/pattern"
)

// Scope selects what a rule's counter is keyed on.
type Scope string

const (
	ScopePerUser     Scope = "per_user"
	ScopePerIP       Scope = "per_ip"
	ScopePerEndpoint Scope = "per_endpoint"
	ScopeGlobal      Scope = "global"
)

// ValidScope reports whether s is a known scope.
func ValidScope(s Scope) bool {
	switch s {
	case ScopePerUser, ScopePerIP, ScopePerEndpoint, ScopeGlobal:
		return true
	}
	return false
}

// Rule is a rate-limit rule. Pattern is optional; an empty pattern
// applies the rule to every proxied path.
type Rule struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Scope         Scope     `json:"scope"`
	Pattern       string    `json:"pattern,omitempty"`
	MaxRequests   int64     `json:"max_requests"`
	WindowSeconds int       `json:"window_seconds"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Window returns the rule's window length.
func (r Rule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Validate checks a rule before it is persisted.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !ValidScope(r.Scope) {
		return fmt.Errorf("unknown scope %q", r.Scope)
	}
	if r.Pattern != "" {
		if _, err := pattern.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}
	if r.MaxRequests < 1 {
		return fmt.Errorf("max_requests must be >= 1")
	}
	if r.WindowSeconds < 1 {
		return fmt.Errorf("window_seconds must be >= 1")
	}
	return nil
}

// Subject identifies the request attributes a rule can key on.
type Subject struct {
	UserID   string
	ClientIP string
	RouteID  string
	Path     string
}

// Compiled is a rule with its pattern compiled for matching.
type Compiled struct {
	Rule
	pat    pattern.Pattern
	hasPat bool
}

// CompileRule prepares a rule for per-request selection.
func CompileRule(r Rule) (Compiled, error) {
	c := Compiled{Rule: r}
	if r.Pattern != "" {
		p, err := pattern.Compile(r.Pattern)
		if err != nil {
			return Compiled{}, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		c.pat, c.hasPat = p, true
	}
	return c, nil
}

// Selects reports whether the rule applies to the request. A per_user
// rule never selects an anonymous request.
func (c Compiled) Selects(s Subject) bool {
	if !c.Active {
		return false
	}
	if c.Scope == ScopePerUser && s.UserID == "" {
		return false
	}
	if c.hasPat && !c.pat.Match(s.Path) {
		return false
	}
	return true
}

// Key derives the counter key for a selecting rule.
func (c Compiled) Key(s Subject) string {
	switch c.Scope {
	case ScopePerUser:
		return c.ID + ":u:" + s.UserID
	case ScopePerIP:
		return c.ID + ":ip:" + s.ClientIP
	case ScopePerEndpoint:
		if s.RouteID != "" {
			return c.ID + ":ep:" + s.RouteID
		}
		return c.ID + ":ep:" + s.Path
	default:
		return c.ID + ":g"
	}
}
