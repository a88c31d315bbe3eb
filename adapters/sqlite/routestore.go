package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/engadi/gateway/domain/route"
	"github.com/engadi/gateway/ports"
)

// RouteStore implements ports.RouteStore using SQLite.
type RouteStore struct {
	db *DB
}

var _ ports.RouteStore = (*RouteStore)(nil)

// NewRouteStore creates a new SQLite route store.
func NewRouteStore(db *DB) *RouteStore {
	return &RouteStore{db: db}
}

const routeColumns = `id, pattern, methods, target_service, target_base_url,
	       auth_required, priority, timeout_ms, retry_count,
	       circuit_breaker_enabled, active, created_at, updated_at`

// Get retrieves a route by ID.
func (s *RouteStore) Get(ctx context.Context, id string) (route.Route, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+routeColumns+`
		FROM routes
		WHERE id = ?
	`, id)
	return scanRoute(row)
}

// List returns routes ordered by priority. With activeOnly set, only
// rows that can appear in the resolve table are returned.
func (s *RouteStore) List(ctx context.Context, activeOnly bool) ([]route.Route, error) {
	q := `
		SELECT ` + routeColumns + `
		FROM routes
		ORDER BY priority DESC, pattern ASC
	`
	if activeOnly {
		q = `
		SELECT ` + routeColumns + `
		FROM routes
		WHERE active = 1
		ORDER BY priority DESC, pattern ASC
	`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []route.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// Create stores a new route.
func (s *RouteStore) Create(ctx context.Context, r route.Route) error {
	methodsJSON, err := json.Marshal(r.Methods)
	if err != nil {
		return fmt.Errorf("marshal methods: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routes (`+routeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Pattern, string(methodsJSON), r.TargetService, r.TargetBaseURL,
		r.AuthRequired, r.Priority, r.TimeoutMs, r.RetryCount,
		r.CircuitBreakerEnabled, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	return mapWriteErr(err)
}

// Update replaces an existing route.
func (s *RouteStore) Update(ctx context.Context, r route.Route) error {
	methodsJSON, err := json.Marshal(r.Methods)
	if err != nil {
		return fmt.Errorf("marshal methods: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE routes
		SET pattern = ?, methods = ?, target_service = ?, target_base_url = ?,
		    auth_required = ?, priority = ?, timeout_ms = ?, retry_count = ?,
		    circuit_breaker_enabled = ?, active = ?, updated_at = ?
		WHERE id = ?
	`,
		r.Pattern, string(methodsJSON), r.TargetService, r.TargetBaseURL,
		r.AuthRequired, r.Priority, r.TimeoutMs, r.RetryCount,
		r.CircuitBreakerEnabled, r.Active, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// Delete removes a route by ID.
func (s *RouteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM routes WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoute(row rowScanner) (route.Route, error) {
	var r route.Route
	var methodsJSON string
	err := row.Scan(
		&r.ID, &r.Pattern, &methodsJSON, &r.TargetService, &r.TargetBaseURL,
		&r.AuthRequired, &r.Priority, &r.TimeoutMs, &r.RetryCount,
		&r.CircuitBreakerEnabled, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return route.Route{}, ports.ErrNotFound
	}
	if err != nil {
		return route.Route{}, err
	}
	if err := json.Unmarshal([]byte(methodsJSON), &r.Methods); err != nil {
		return route.Route{}, fmt.Errorf("unmarshal methods: %w", err)
	}
	return r, nil
}
