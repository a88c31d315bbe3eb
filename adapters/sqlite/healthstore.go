package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/engadi/gateway/domain/health"
	"github.com/engadi/gateway/ports"
)

// HealthStore implements ports.HealthStore using SQLite.
type HealthStore struct {
	db *DB
}

var _ ports.HealthStore = (*HealthStore)(nil)

// NewHealthStore creates a new SQLite service health store.
func NewHealthStore(db *DB) *HealthStore {
	return &HealthStore{db: db}
}

const healthColumns = `service_name, base_url, status, last_checked_at,
	       last_status_code, success_count, error_count,
	       avg_response_time_ms, circuit_open, updated_at`

// Upsert inserts or replaces the record for one service.
func (s *HealthStore) Upsert(ctx context.Context, rec health.Record) error {
	var lastChecked any
	if !rec.LastCheckedAt.IsZero() {
		lastChecked = rec.LastCheckedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_health (`+healthColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service_name) DO UPDATE SET
			base_url = excluded.base_url,
			status = excluded.status,
			last_checked_at = excluded.last_checked_at,
			last_status_code = excluded.last_status_code,
			success_count = excluded.success_count,
			error_count = excluded.error_count,
			avg_response_time_ms = excluded.avg_response_time_ms,
			circuit_open = excluded.circuit_open,
			updated_at = excluded.updated_at
	`,
		rec.Service, rec.BaseURL, string(rec.Status), lastChecked,
		rec.LastStatusCode, rec.SuccessCount, rec.ErrorCount,
		rec.AvgResponseTimeMs, rec.CircuitOpen, rec.UpdatedAt,
	)
	return err
}

// Get retrieves the record for one service.
func (s *HealthStore) Get(ctx context.Context, service string) (health.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+healthColumns+`
		FROM service_health
		WHERE service_name = ?
	`, service)
	return scanHealth(row)
}

// List returns every tracked service ordered by name.
func (s *HealthStore) List(ctx context.Context) ([]health.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+healthColumns+`
		FROM service_health
		ORDER BY service_name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []health.Record
	for rows.Next() {
		rec, err := scanHealth(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanHealth(row rowScanner) (health.Record, error) {
	var rec health.Record
	var status string
	var lastChecked sql.NullTime
	err := row.Scan(
		&rec.Service, &rec.BaseURL, &status, &lastChecked,
		&rec.LastStatusCode, &rec.SuccessCount, &rec.ErrorCount,
		&rec.AvgResponseTimeMs, &rec.CircuitOpen, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return health.Record{}, ports.ErrNotFound
	}
	if err != nil {
		return health.Record{}, err
	}
	rec.Status = health.Status(status)
	if lastChecked.Valid {
		rec.LastCheckedAt = lastChecked.Time
	}
	return rec, nil
}
