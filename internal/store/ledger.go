package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// VersionBatch is one remote change batch recorded after its changes were
// applied locally. Rows are append-only: never mutated, never deleted.
type VersionBatch struct {
	ID          string
	Version     int64
	Data        string // JSON {"changes":[...]} exactly as received
	Description string
	CreatedBy   string
	CreatedAt   string
}

// MaxVersion returns the highest applied batch version, 0 when the ledger
// is empty. This is the resume cursor for the next pull.
func (s *Store) MaxVersion(ctx context.Context) (int64, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM wards_updates`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read ledger watermark: %w", err)
	}
	return version.Int64, nil
}

// AppendVersion records one applied batch. The UNIQUE constraint on
// version keeps the ledger strictly increasing even if two pull cycles
// were ever to race.
func (s *Store) AppendVersion(ctx context.Context, b *VersionBatch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wards_updates (id, version, data, description, created_by)
			VALUES (?, ?, ?, ?, ?)
		`, b.ID, b.Version, b.Data, b.Description, b.CreatedBy)
		if err != nil {
			return fmt.Errorf("failed to append ledger version %d: %w", b.Version, err)
		}
		return nil
	})
}

// ListVersions returns the ledger oldest first (for inspection and tests).
func (s *Store) ListVersions(ctx context.Context) ([]VersionBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, data, description, created_by, created_at
		FROM wards_updates ORDER BY version
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var batches []VersionBatch
	for rows.Next() {
		var b VersionBatch
		if err := rows.Scan(&b.ID, &b.Version, &b.Data, &b.Description, &b.CreatedBy, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger: %w", err)
	}
	return batches, nil
}
