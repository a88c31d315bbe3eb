package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/engadi/gateway/domain/ratelimit"
	"github.com/engadi/gateway/ports"
)

// RuleStore implements ports.RuleStore using SQLite.
type RuleStore struct {
	db *DB
}

var _ ports.RuleStore = (*RuleStore)(nil)

// NewRuleStore creates a new SQLite rate-limit rule store.
func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db}
}

const ruleColumns = `id, name, scope, pattern, max_requests, window_seconds,
	       active, created_at, updated_at`

// Get retrieves a rule by ID.
func (s *RuleStore) Get(ctx context.Context, id string) (ratelimit.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rate_limit_rules
		WHERE id = ?
	`, id)
	return scanRule(row)
}

// List returns rules ordered by name.
func (s *RuleStore) List(ctx context.Context, activeOnly bool) ([]ratelimit.Rule, error) {
	q := `
		SELECT ` + ruleColumns + `
		FROM rate_limit_rules
		ORDER BY name ASC
	`
	if activeOnly {
		q = `
		SELECT ` + ruleColumns + `
		FROM rate_limit_rules
		WHERE active = 1
		ORDER BY name ASC
	`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []ratelimit.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Create stores a new rule.
func (s *RuleStore) Create(ctx context.Context, r ratelimit.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limit_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Name, string(r.Scope), nullString(r.Pattern),
		r.MaxRequests, r.WindowSeconds, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	return mapWriteErr(err)
}

// Update replaces an existing rule.
func (s *RuleStore) Update(ctx context.Context, r ratelimit.Rule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rate_limit_rules
		SET name = ?, scope = ?, pattern = ?, max_requests = ?,
		    window_seconds = ?, active = ?, updated_at = ?
		WHERE id = ?
	`,
		r.Name, string(r.Scope), nullString(r.Pattern),
		r.MaxRequests, r.WindowSeconds, r.Active, r.UpdatedAt, r.ID,
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

// Delete removes a rule by ID.
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rate_limit_rules WHERE id = ?", id)
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

func scanRule(row rowScanner) (ratelimit.Rule, error) {
	var r ratelimit.Rule
	var pat sql.NullString
	var scope string
	err := row.Scan(
		&r.ID, &r.Name, &scope, &pat,
		&r.MaxRequests, &r.WindowSeconds, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ratelimit.Rule{}, ports.ErrNotFound
	}
	if err != nil {
		return ratelimit.Rule{}, err
	}
	r.Scope = ratelimit.Scope(scope)
	r.Pattern = pat.String
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
