// Package repository handles data persistence.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ratewarden/ratewarden/internal/database"
	"github.com/ratewarden/ratewarden/internal/violations"
)

// MaxRecentViolations caps how many rows Recent returns.
const MaxRecentViolations = 1000

// ViolationFilter narrows a Recent query. Zero fields match everything.
type ViolationFilter struct {
	IP    string
	Kind  violations.Kind
	Since time.Time
	Limit int
}

// ViolationRepository is the audit log of refused requests.
type ViolationRepository interface {
	violations.Sink

	// Recent returns the newest violations first.
	Recent(ctx context.Context, filter ViolationFilter) ([]violations.Violation, error)

	// DeleteBefore removes violations older than cutoff and returns the count.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresViolationRepository implements ViolationRepository using PostgreSQL.
type PostgresViolationRepository struct {
	pool *database.Pool
}

// Ensure PostgresViolationRepository implements ViolationRepository
var _ ViolationRepository = (*PostgresViolationRepository)(nil)

// NewPostgresViolationRepository creates a new PostgreSQL-backed violation repository.
func NewPostgresViolationRepository(pool *database.Pool) *PostgresViolationRepository {
	return &PostgresViolationRepository{pool: pool}
}

const insertViolation = `
	INSERT INTO rate_limit_violations
		(id, kind, tag, limit_value, count_value, ip, request_id, method, uri, remote_addr, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING
`

// WriteViolations inserts a batch in one round trip.
func (r *PostgresViolationRepository) WriteViolations(ctx context.Context, batch []violations.Violation) error {
	if len(batch) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, v := range batch {
		b.Queue(insertViolation,
			v.ID, string(v.Kind), v.Tag, v.Limit, v.Count, v.IP,
			v.RequestID, v.Method, v.URI, v.RemoteAddr, v.OccurredAt,
		)
	}

	results := r.pool.SendBatch(ctx, b)
	defer results.Close()

	for range batch {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert violation: %w", err)
		}
	}
	return nil
}

// Recent returns violations matching filter, newest first.
func (r *PostgresViolationRepository) Recent(ctx context.Context, filter ViolationFilter) ([]violations.Violation, error) {
	query, args := buildRecentQuery(filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	out := make([]violations.Violation, 0)
	for rows.Next() {
		var v violations.Violation
		var kind string
		if err := rows.Scan(
			&v.ID, &kind, &v.Tag, &v.Limit, &v.Count, &v.IP,
			&v.RequestID, &v.Method, &v.URI, &v.RemoteAddr, &v.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Kind = violations.Kind(kind)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read violations: %w", err)
	}
	return out, nil
}

// DeleteBefore removes violations that occurred before cutoff.
func (r *PostgresViolationRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_violations WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete violations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck verifies the repository is healthy.
func (r *PostgresViolationRepository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func buildRecentQuery(filter ViolationFilter) (string, []interface{}) {
	query := `
		SELECT id, kind, tag, limit_value, count_value, ip, request_id, method, uri, remote_addr, occurred_at
		FROM rate_limit_violations
		WHERE 1=1`
	var args []interface{}

	if filter.IP != "" {
		args = append(args, filter.IP)
		query += fmt.Sprintf(" AND ip = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > MaxRecentViolations {
		limit = MaxRecentViolations
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	return query, args
}
