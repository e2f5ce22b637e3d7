// Package pgstore provides a PostgreSQL implementation of track.Store, for
// deployments where the monitor host's filesystem is not durable.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/postgres"
	"github.com/linnemanlabs/beacon/internal/track"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/track/pgstore")

//go:embed schema.sql
var schema string

// Store persists tracked violations in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Load reads every tracked violation.
func (s *Store) Load(ctx context.Context) (map[string]track.Violation, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Load", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()
	ctx = postgres.WithOperation(ctx, "load")

	rows, err := s.pool.Query(ctx,
		`SELECT incident_id, ticket_key, status, last_checked_ms FROM tracked_violations`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query tracked_violations: %w", err)
	}
	defer rows.Close()

	state := make(map[string]track.Violation)
	for rows.Next() {
		var id string
		var v track.Violation
		if err := rows.Scan(&id, &v.TicketKey, &v.Status, &v.LastChecked); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan tracked_violations: %w", err)
		}
		state[id] = v
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate tracked_violations: %w", err)
	}

	span.SetAttributes(attribute.Int("beacon.tracked.count", len(state)))
	return state, nil
}

// Put upserts one tracked violation.
func (s *Store) Put(ctx context.Context, incidentID string, v track.Violation) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("beacon.incident.id", incidentID),
	))
	defer span.End()
	ctx = postgres.WithOperation(ctx, "put")

	_, err := s.pool.Exec(ctx, `INSERT INTO tracked_violations (
		incident_id, ticket_key, status, last_checked_ms
	) VALUES ($1, $2, $3, $4)
	ON CONFLICT (incident_id) DO UPDATE SET
		status          = EXCLUDED.status,
		last_checked_ms = EXCLUDED.last_checked_ms`,
		incidentID, v.TicketKey, v.Status, v.LastChecked)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert tracked_violations: %w", err)
	}
	return nil
}

// Flush is a no-op; every Put commits.
func (s *Store) Flush(context.Context) error { return nil }

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() {}
