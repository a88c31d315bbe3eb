package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/ports"
)

// LogStore implements ports.LogStore using SQLite.
type LogStore struct {
	db *DB
}

var _ ports.LogStore = (*LogStore)(nil)

// NewLogStore creates a new SQLite request log store.
func NewLogStore(db *DB) *LogStore {
	return &LogStore{db: db}
}

// Insert appends a batch of log records in one transaction.
func (s *LogStore) Insert(ctx context.Context, recs []proxy.LogRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO request_logs (
			request_id, method, path, matched_route_id, target_service,
			user_id, client_ip, status_code, response_time_ms,
			error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		var status any
		if rec.StatusCode != 0 {
			status = rec.StatusCode
		}
		_, err := stmt.ExecContext(ctx,
			rec.RequestID, rec.Method, rec.Path,
			nullString(rec.MatchedRouteID), nullString(rec.TargetService),
			nullString(rec.UserID), rec.ClientIP, status,
			rec.ResponseTimeMs, nullString(rec.ErrorMessage), rec.CreatedAt,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert log record: %w", err)
		}
	}
	return tx.Commit()
}

// Query scans logs newest-first with the given filters.
func (s *LogStore) Query(ctx context.Context, q ports.LogQuery) ([]proxy.LogRecord, error) {
	var where []string
	var args []any
	if q.Method != "" {
		where = append(where, "method = ?")
		args = append(args, q.Method)
	}
	if q.PathContains != "" {
		where = append(where, "path LIKE ?")
		args = append(args, "%"+q.PathContains+"%")
	}
	if q.Service != "" {
		where = append(where, "target_service = ?")
		args = append(args, q.Service)
	}
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.StatusCode != 0 {
		where = append(where, "status_code = ?")
		args = append(args, q.StatusCode)
	}
	if q.ErrorsOnly {
		where = append(where, "(status_code >= 500 OR status_code IS NULL)")
	}
	if !q.Start.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Start)
	}
	if !q.End.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, q.End)
	}

	sqlq := `
		SELECT request_id, method, path, matched_route_id, target_service,
		       user_id, client_ip, status_code, response_time_ms,
		       error_message, created_at
		FROM request_logs
	`
	if len(where) > 0 {
		sqlq += " WHERE " + strings.Join(where, " AND ")
	}
	sqlq += " ORDER BY created_at DESC, id DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	sqlq += " LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []proxy.LogRecord
	for rows.Next() {
		var rec proxy.LogRecord
		var routeID, service, userID, errMsg sql.NullString
		var status sql.NullInt64
		err := rows.Scan(
			&rec.RequestID, &rec.Method, &rec.Path, &routeID, &service,
			&userID, &rec.ClientIP, &status, &rec.ResponseTimeMs,
			&errMsg, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.MatchedRouteID = routeID.String
		rec.TargetService = service.String
		rec.UserID = userID.String
		rec.StatusCode = int(status.Int64)
		rec.ErrorMessage = errMsg.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Stats summarizes traffic since the given instant.
func (s *LogStore) Stats(ctx context.Context, since time.Time) (ports.TrafficStats, error) {
	var st ports.TrafficStats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status_code >= 500 OR status_code IS NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(response_time_ms), 0)
		FROM request_logs
		WHERE created_at >= ?
	`, since)
	if err := row.Scan(&st.Total, &st.Errors, &st.AvgResponseTimeMs); err != nil {
		return st, err
	}

	st.ByStatusClass = make(map[string]int64)
	rows, err := s.db.QueryContext(ctx, `
		SELECT status_code / 100, COUNT(*)
		FROM request_logs
		WHERE created_at >= ? AND status_code IS NOT NULL
		GROUP BY status_code / 100
	`, since)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var class int
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return st, err
		}
		st.ByStatusClass[fmt.Sprintf("%dxx", class)] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	if st.Total > 0 {
		st.ErrorRate = float64(st.Errors) / float64(st.Total)
	}
	if window := time.Since(since).Seconds(); window > 0 {
		st.RequestsPerSecond = float64(st.Total) / window
	}
	return st, nil
}

// TopEndpoints ranks (method, path) pairs by request count.
func (s *LogStore) TopEndpoints(ctx context.Context, since time.Time, n int) ([]ports.EndpointCount, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, path, COUNT(*), COALESCE(AVG(response_time_ms), 0)
		FROM request_logs
		WHERE created_at >= ?
		GROUP BY method, path
		ORDER BY COUNT(*) DESC
		LIMIT ?
	`, since, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.EndpointCount
	for rows.Next() {
		var ec ports.EndpointCount
		if err := rows.Scan(&ec.Method, &ec.Path, &ec.Count, &ec.AvgResponseTimeMs); err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

// ServiceStats summarizes traffic per upstream service.
func (s *LogStore) ServiceStats(ctx context.Context, since time.Time) ([]ports.ServiceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_service, COUNT(*),
		       COALESCE(SUM(CASE WHEN status_code >= 500 OR status_code IS NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(response_time_ms), 0)
		FROM request_logs
		WHERE created_at >= ? AND target_service IS NOT NULL
		GROUP BY target_service
		ORDER BY COUNT(*) DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.ServiceStats
	for rows.Next() {
		var ss ports.ServiceStats
		if err := rows.Scan(&ss.Service, &ss.Count, &ss.Errors, &ss.AvgResponseTimeMs); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Percentiles computes exact response-time quantiles over the window.
func (s *LogStore) Percentiles(ctx context.Context, since time.Time) (ports.Percentiles, error) {
	var p ports.Percentiles
	var n int64
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM request_logs WHERE created_at >= ?
	`, since)
	if err := row.Scan(&n); err != nil {
		return p, err
	}
	if n == 0 {
		return p, nil
	}

	quantile := func(q float64) (float64, error) {
		offset := int64(math.Floor(q * float64(n-1)))
		var v float64
		row := s.db.QueryRowContext(ctx, `
			SELECT response_time_ms
			FROM request_logs
			WHERE created_at >= ?
			ORDER BY response_time_ms ASC
			LIMIT 1 OFFSET ?
		`, since, offset)
		if err := row.Scan(&v); err != nil {
			return 0, err
		}
		return v, nil
	}

	var err error
	if p.P50, err = quantile(0.50); err != nil {
		return p, err
	}
	if p.P90, err = quantile(0.90); err != nil {
		return p, err
	}
	if p.P95, err = quantile(0.95); err != nil {
		return p, err
	}
	if p.P99, err = quantile(0.99); err != nil {
		return p, err
	}
	return p, nil
}

// PurgeBefore deletes records older than the cutoff and reports how
// many rows went away.
func (s *LogStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM request_logs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
