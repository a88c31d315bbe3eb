package route

import (
	"errors"
	"fmt"
	"sort"

	"github.com/engadi/gateway/domain/pattern"
)

// ErrNoRoute is returned by Resolve when no active pattern matches the path.
var ErrNoRoute = errors.New("no route matches path")

// MethodNotAllowedError is returned when at least one pattern matched the
// path but none of the matching routes accept the request method.
type MethodNotAllowedError struct {
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method not allowed, allowed: %v", e.Allowed)
}

type entry struct {
	route Route
	pat   pattern.Pattern
}

// Table is an immutable resolution snapshot over a set of active routes.
// Entries are kept in precedence order so Resolve returns the first
// method-accepting match.
type Table struct {
	entries []entry
}

// NewTable compiles the active routes into a resolution snapshot.
// Inactive routes are skipped; a route whose pattern fails to compile is
// rejected so a bad record cannot silently vanish from the table.
func NewTable(routes []Route) (*Table, error) {
	t := &Table{entries: make([]entry, 0, len(routes))}
	for _, r := range routes {
		if !r.Active {
			continue
		}
		p, err := pattern.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.ID, err)
		}
		t.entries = append(t.entries, entry{route: r, pat: p})
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i].route, t.entries[j].route
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.Pattern < b.Pattern
	})
	return t, nil
}

// Len reports the number of resolvable routes in the snapshot.
func (t *Table) Len() int { return len(t.entries) }

// Resolve picks the route for a request. It returns ErrNoRoute when no
// pattern matches, and *MethodNotAllowedError when patterns match but
// none accept the method.
func (t *Table) Resolve(path, method string) (Route, error) {
	var (
		pathMatched bool
		allowed     []string
	)
	for _, e := range t.entries {
		if !e.pat.Match(path) {
			continue
		}
		if e.route.AllowsMethod(method) {
			return e.route, nil
		}
		pathMatched = true
		allowed = appendMethods(allowed, e.route.Methods)
	}
	if pathMatched {
		sort.Strings(allowed)
		return Route{}, &MethodNotAllowedError{Allowed: allowed}
	}
	return Route{}, ErrNoRoute
}

func appendMethods(dst, methods []string) []string {
next:
	for _, m := range methods {
		for _, have := range dst {
			if have == m {
				continue next
			}
		}
		dst = append(dst, m)
	}
	return dst
}
