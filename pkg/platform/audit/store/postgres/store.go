package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "trustgate/pkg/domain"
	audit "trustgate/pkg/platform/audit"
	txcontext "trustgate/pkg/platform/tx"
)

// Store persists the audit trail in PostgreSQL. The table is append-only;
// neither the store nor the schema expose update or delete paths.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the ambient transaction when one is present so audit writes
// commit atomically with the state transition they describe.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes one audit event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := audit.AuditEvent(event.Action).Category()

	query := `
		INSERT INTO audit_events (id, category, occurred_at, request_id, subject_id, actor_id, action, outcome, reason, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		string(category),
		event.Timestamp,
		uuid.UUID(event.RequestID),
		uuid.UUID(event.SubjectID),
		event.ActorID,
		event.Action,
		event.Outcome,
		event.Reason,
		event.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListByRequest returns the trail for one verification request, oldest first.
func (s *Store) ListByRequest(ctx context.Context, requestID id.RequestID) ([]audit.Event, error) {
	query := `
		SELECT category, occurred_at, request_id, subject_id, actor_id, action, outcome, reason, correlation_id
		FROM audit_events
		WHERE request_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("list audit events by request: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the most recent N events across all requests, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT category, occurred_at, request_id, subject_id, actor_id, action, outcome, reason, correlation_id
		FROM audit_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event               audit.Event
			category            string
			requestID, subjectID uuid.UUID
		)
		if err := rows.Scan(
			&category,
			&event.Timestamp,
			&requestID,
			&subjectID,
			&event.ActorID,
			&event.Action,
			&event.Outcome,
			&event.Reason,
			&event.CorrelationID,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.RequestID = id.RequestID(requestID)
		event.SubjectID = id.SubjectID(subjectID)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
