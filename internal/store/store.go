// Package store implements the local spatial store for wards and notes on
// SQLite, together with the change-event log and the version ledger used
// by the synchronizers. All ward mutations go through Store methods, each
// of which runs in a single transaction so the capture triggers commit or
// roll back together with the row change.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Sentinel outcomes for queries that found nothing. These are defined
// empty results, not failures.
var (
	ErrRegionNotFound = errors.New("region not found")
	ErrNoteNotFound   = errors.New("note not found")
)

// Store owns the SQLite database holding wards, notes, the event log and
// the version ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// SQLite allows a single writer; serialize mutations to avoid
	// SQLITE_BUSY from concurrent replay groups.
	writeMu sync.Mutex
}

// Open opens (or creates) the database at path, installs the spatial
// function layer, creates the schema and the ward capture triggers.
// Use ":memory:" for an in-memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	registerDriver()

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers at the pool level instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for tests and read-only query surfaces.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initialize() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS wards (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			ward         TEXT NOT NULL,
			county       TEXT NOT NULL DEFAULT '',
			subcounty    TEXT NOT NULL DEFAULT '',
			ward_code    TEXT NOT NULL DEFAULT '',
			county_code  INTEGER NOT NULL DEFAULT 0,
			geometry     TEXT,    -- native geometry literal (GeoJSON, SRID 4326), NULL allowed
			min_lat      REAL,
			max_lat      REAL,
			min_lng      REAL,
			max_lng      REAL
		)`,

		`CREATE TABLE IF NOT EXISTS notes (
			id          TEXT PRIMARY KEY,  -- client-generated UUID, never reassigned
			title       TEXT NOT NULL,
			content     TEXT NOT NULL DEFAULT '',
			quick_copy  TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'draft',
			priority    TEXT NOT NULL DEFAULT 'normal',
			tags        TEXT NOT NULL DEFAULT '',  -- comma-delimited
			geometry    TEXT,  -- native point literal, NULL for ungeotagged notes
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Append-only audit log of every ward mutation, populated by the
		// capture triggers. Never deleted.
		`CREATE TABLE IF NOT EXISTS wards_events (
			id              TEXT PRIMARY KEY,
			ward_id         INTEGER,             -- NULL only while an insert has no assigned id
			ward_code       TEXT NOT NULL DEFAULT '',
			event_type      TEXT NOT NULL CHECK (event_type IN ('INSERT','UPDATE','DELETE')),
			trigger_by      TEXT NOT NULL CHECK (trigger_by IN ('TRIGGER','REPLAY')),
			old_data        TEXT,                -- row snapshot before change, NULL for INSERT
			new_data        TEXT,                -- row snapshot after change, NULL for DELETE
			sync_status     TEXT NOT NULL DEFAULT 'PENDING' CHECK (sync_status IN ('PENDING','SYNCED','FAILED')),
			retry_count     INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TEXT,
			error_message   TEXT,
			created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Version ledger: one row per remote change batch applied locally.
		// max(version) is the resume cursor for the next pull.
		`CREATE TABLE IF NOT EXISTS wards_updates (
			id          TEXT PRIMARY KEY,
			version     INTEGER NOT NULL UNIQUE,
			data        TEXT NOT NULL,  -- JSON {"changes":[...]} as received
			description TEXT NOT NULL DEFAULT '',
			created_by  TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Device-local sync state (one row). apply_mode=1 while remote
		// changes are being replayed so the triggers tag events REPLAY.
		`CREATE TABLE IF NOT EXISTS _ward_sync_state (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			client_id  TEXT NOT NULL,
			apply_mode INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// The state row must exist before any trigger fires or replay runs.
	if _, err := s.db.Exec(`
		INSERT INTO _ward_sync_state (id, client_id, apply_mode)
		SELECT 1, '', 0
		WHERE NOT EXISTS (SELECT 1 FROM _ward_sync_state WHERE id = 1)
	`); err != nil {
		return fmt.Errorf("failed to seed sync state: %w", err)
	}

	// Reset apply_mode in case the app crashed mid-replay; otherwise every
	// local edit would be mislabeled REPLAY forever.
	if _, err := s.db.Exec(`UPDATE _ward_sync_state SET apply_mode = 0 WHERE apply_mode = 1`); err != nil {
		return fmt.Errorf("failed to reset apply mode: %w", err)
	}

	return s.createWardTriggers()
}

// EnsureClientID returns the persistent device client id, generating and
// storing one on first call.
func (s *Store) EnsureClientID(ctx context.Context) (string, error) {
	var clientID string
	err := s.db.QueryRowContext(ctx, `SELECT client_id FROM _ward_sync_state WHERE id = 1`).Scan(&clientID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to query client id: %w", err)
	}
	if clientID == "" {
		clientID = uuid.New().String()
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO _ward_sync_state (id, client_id, apply_mode) VALUES (1, ?, 0)
			ON CONFLICT (id) DO UPDATE SET client_id = excluded.client_id
		`, clientID); err != nil {
			return "", fmt.Errorf("failed to persist client id: %w", err)
		}
	}
	return clientID, nil
}

// setApplyModeInTx flips the trigger origin tag for the duration of a
// replay transaction.
func setApplyModeInTx(ctx context.Context, tx *sql.Tx, mode int) error {
	if _, err := tx.ExecContext(ctx, `UPDATE _ward_sync_state SET apply_mode = ? WHERE id = 1`, mode); err != nil {
		return fmt.Errorf("failed to set apply mode: %w", err)
	}
	return nil
}

// withWriteTx runs fn inside a write transaction under the store's write
// lock. Rollback is automatic if fn or Commit fails.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
