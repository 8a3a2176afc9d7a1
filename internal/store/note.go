package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tigawanna/geo-notes-sub000/internal/geom"
)

// Note is a user-authored, optionally geotagged piece of content.
// Notes are local-only: they never enter the sync subsystem.
type Note struct {
	ID        string
	Title     string
	Content   string
	QuickCopy string
	Status    string
	Priority  string
	Tags      string // comma-delimited
	Geometry  geom.Literal
	CreatedAt string
	UpdatedAt string
}

// NoteDistance pairs a note with its distance from a query point.
type NoteDistance struct {
	Note
	DistanceMeters float64
}

// NoteCursor is the resume position for nearest-note pagination. The
// ordering is by distance, so the cursor carries the last seen distance
// alongside the last seen id; the pair grows monotonically down the
// result order.
type NoteCursor struct {
	DistanceMeters float64
	LastID         string
}

const noteColumns = `id, title, content, quick_copy, status, priority, tags, geometry, created_at, updated_at`

func scanNote(row interface{ Scan(...any) error }) (*Note, error) {
	var n Note
	var geometry sql.NullString
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &n.QuickCopy, &n.Status, &n.Priority,
		&n.Tags, &geometry, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if geometry.Valid {
		n.Geometry = geom.Literal(geometry.String)
	}
	return &n, nil
}

// CreateNote stores a new note, assigning a client-generated UUID when
// n.ID is empty. A point geometry, when present, is validated first.
func (s *Store) CreateNote(ctx context.Context, n *Note) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	geometry, err := notePointArg(n.Geometry)
	if err != nil {
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notes (id, title, content, quick_copy, status, priority, tags, geometry)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, n.ID, n.Title, n.Content, n.QuickCopy, n.Status, n.Priority, n.Tags, geometry)
		if err != nil {
			return fmt.Errorf("failed to insert note: %w", err)
		}
		return nil
	})
}

// UpdateNote rewrites a note's mutable fields.
func (s *Store) UpdateNote(ctx context.Context, n *Note) error {
	geometry, err := notePointArg(n.Geometry)
	if err != nil {
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE notes
			SET title = ?, content = ?, quick_copy = ?, status = ?, priority = ?, tags = ?, geometry = ?,
			    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE id = ?
		`, n.Title, n.Content, n.QuickCopy, n.Status, n.Priority, n.Tags, geometry, n.ID)
		if err != nil {
			return fmt.Errorf("failed to update note: %w", err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read update result: %w", err)
		}
		if count == 0 {
			return ErrNoteNotFound
		}
		return nil
	})
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete note: %w", err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read delete result: %w", err)
		}
		if count == 0 {
			return ErrNoteNotFound
		}
		return nil
	})
}

// GetNote loads one note by id.
func (s *Store) GetNote(ctx context.Context, id string) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query note: %w", err)
	}
	return n, nil
}

// SearchNotes returns notes whose title or content matches the term,
// geometry-less notes included. An empty term lists everything.
func (s *Store) SearchNotes(ctx context.Context, term string) ([]Note, error) {
	pattern := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE ? = '' OR title LIKE ? OR content LIKE ?
		ORDER BY updated_at DESC, id
	`, term, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}

// FindNearestNotes returns one page of geotagged notes ordered by
// distance from the query point, resuming after cursor (nil for the first
// page). The returned cursor is nil when the last page was reached.
func (s *Store) FindNearestNotes(ctx context.Context, lat, lng float64, limit int, cursor *NoteCursor) ([]NoteDistance, *NoteCursor, error) {
	if err := geom.ValidateCoords(lat, lng); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		return nil, nil, nil
	}
	afterDistance := -1.0
	afterID := ""
	if cursor != nil {
		afterDistance = cursor.DistanceMeters
		afterID = cursor.LastID
	}
	// Alias in a subquery: SQLite cannot reference a SELECT alias from WHERE.
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+noteColumns+`,
			       geo_distance(?, ?, geo_point_lat(geometry), geo_point_lng(geometry)) AS distance
			FROM notes
			WHERE geometry IS NOT NULL
		)
		WHERE distance > ? OR (distance = ? AND id > ?)
		ORDER BY distance ASC, id ASC
		LIMIT ?
	`, lat, lng, afterDistance, afterDistance, afterID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed nearest-notes query: %w", err)
	}
	defer rows.Close()

	var results []NoteDistance
	for rows.Next() {
		var nd NoteDistance
		var geometry sql.NullString
		if err := rows.Scan(&nd.ID, &nd.Title, &nd.Content, &nd.QuickCopy, &nd.Status, &nd.Priority,
			&nd.Tags, &geometry, &nd.CreatedAt, &nd.UpdatedAt, &nd.DistanceMeters); err != nil {
			return nil, nil, fmt.Errorf("failed to scan nearest note: %w", err)
		}
		if geometry.Valid {
			nd.Geometry = geom.Literal(geometry.String)
		}
		results = append(results, nd)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating nearest notes: %w", err)
	}

	var next *NoteCursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &NoteCursor{DistanceMeters: last.DistanceMeters, LastID: last.ID}
	}
	return results, next, nil
}

// notePointArg validates that a note geometry, when present, is a single
// well-formed point.
func notePointArg(lit geom.Literal) (any, error) {
	if lit == nil {
		return nil, nil
	}
	lat, lng, err := geom.PointCoords(lit)
	if err != nil {
		return nil, err
	}
	if err := geom.ValidateCoords(lat, lng); err != nil {
		return nil, err
	}
	normalized, err := geom.EncodePoint(lat, lng)
	if err != nil {
		return nil, err
	}
	return string(normalized), nil
}
