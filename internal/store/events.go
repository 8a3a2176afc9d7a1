package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Event origins and sync statuses. An event's status only ever moves
// PENDING→SYNCED, PENDING→FAILED, FAILED→SYNCED or FAILED→FAILED.
const (
	OriginTrigger = "TRIGGER"
	OriginReplay  = "REPLAY"

	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"

	StatusPending = "PENDING"
	StatusSynced  = "SYNCED"
	StatusFailed  = "FAILED"
)

// ChangeEvent is one captured ward mutation, queued for outbound sync
// when its origin is TRIGGER.
type ChangeEvent struct {
	ID            string
	WardID        sql.NullInt64
	WardCode      string
	EventType     string
	TriggerBy     string
	OldData       sql.NullString
	NewData       sql.NullString
	SyncStatus    string
	RetryCount    int
	LastAttemptAt sql.NullString
	ErrorMessage  sql.NullString
	CreatedAt     string
}

const eventColumns = `id, ward_id, ward_code, event_type, trigger_by, old_data, new_data,
	sync_status, retry_count, last_attempt_at, error_message, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*ChangeEvent, error) {
	var e ChangeEvent
	if err := row.Scan(&e.ID, &e.WardID, &e.WardCode, &e.EventType, &e.TriggerBy,
		&e.OldData, &e.NewData, &e.SyncStatus, &e.RetryCount,
		&e.LastAttemptAt, &e.ErrorMessage, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// PendingEvents returns TRIGGER-origin events still awaiting a successful
// push, oldest first. FAILED events are included: they are retried every
// cycle until they succeed.
func (s *Store) PendingEvents(ctx context.Context) ([]ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM wards_events
		WHERE trigger_by = ? AND sync_status IN (?, ?)
		ORDER BY created_at, rowid
	`, OriginTrigger, StatusPending, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []ChangeEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// ListEvents returns the full audit trail, oldest first.
func (s *Store) ListEvents(ctx context.Context) ([]ChangeEvent, error) {
	// rowid breaks created_at ties in insertion order.
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM wards_events ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []ChangeEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// MarkEventSynced records a successful remote acknowledgment. A SYNCED
// status never regresses, so the guard is belt-and-braces against a
// duplicate acknowledgment.
func (s *Store) MarkEventSynced(ctx context.Context, eventID string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE wards_events
			SET sync_status = ?,
			    retry_count = retry_count + 1,
			    last_attempt_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'),
			    error_message = NULL
			WHERE id = ? AND sync_status != ?
		`, StatusSynced, eventID, StatusSynced)
		if err != nil {
			return fmt.Errorf("failed to mark event synced: %w", err)
		}
		return nil
	})
}

// MarkEventFailed records a failed push attempt and retains the error for
// inspection. The event stays eligible for the next cycle.
func (s *Store) MarkEventFailed(ctx context.Context, eventID, message string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE wards_events
			SET sync_status = ?,
			    retry_count = retry_count + 1,
			    last_attempt_at = strftime('%Y-%m-%dT%H:%M:%fZ','now'),
			    error_message = ?
			WHERE id = ? AND sync_status != ?
		`, StatusFailed, message, eventID, StatusSynced)
		if err != nil {
			return fmt.Errorf("failed to mark event failed: %w", err)
		}
		return nil
	})
}
