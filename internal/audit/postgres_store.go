package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/access-engine/go-core/pkg/types"
)

// PostgresStore persists audit events to PostgreSQL for retention and
// offline querying. Registered with lib/pq via the db package.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert inserts a single audit event
func (s *PostgresStore) Insert(ctx context.Context, event Event) error {
	query := `
		INSERT INTO decision_audit_events (
			id, timestamp, subject, object, old_decision, new_decision
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		event.Subject,
		event.Object,
		int32(event.OldDecision),
		int32(event.NewDecision),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple audit events in a single transaction
func (s *PostgresStore) InsertBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decision_audit_events (
			id, timestamp, subject, object, old_decision, new_decision
		) VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		if _, err := stmt.ExecContext(ctx,
			event.ID,
			event.Timestamp,
			event.Subject,
			event.Object,
			int32(event.OldDecision),
			int32(event.NewDecision),
		); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// QuerySince returns events recorded at or after the given time, newest
// first, up to limit.
func (s *PostgresStore) QuerySince(ctx context.Context, since time.Time, limit int) ([]Event, error) {
	query := `
		SELECT id, timestamp, subject, object, old_decision, new_decision
		FROM decision_audit_events
		WHERE timestamp >= $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var oldDecision, newDecision int32
		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&event.Subject,
			&event.Object,
			&oldDecision,
			&newDecision,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.OldDecision = types.Decision(oldDecision)
		event.NewDecision = types.Decision(newDecision)
		events = append(events, event)
	}
	return events, rows.Err()
}
