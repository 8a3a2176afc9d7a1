package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tigawanna/geo-notes-sub000/internal/geom"
)

// Region is an administrative ward polygon row.
type Region struct {
	ID         int64
	Ward       string
	County     string
	Subcounty  string
	WardCode   string
	CountyCode int64
	Geometry   geom.Literal // nil when the ward has no geometry
	MinLat     float64
	MaxLat     float64
	MinLng     float64
	MaxLng     float64
}

// RegionDistance pairs a region with its distance from a query point.
type RegionDistance struct {
	Region
	DistanceMeters float64
}

const regionColumns = `id, ward, county, subcounty, ward_code, county_code, geometry, min_lat, max_lat, min_lng, max_lng`

func scanRegion(row interface{ Scan(...any) error }) (*Region, error) {
	var r Region
	var geometry sql.NullString
	var minLat, maxLat, minLng, maxLng sql.NullFloat64
	if err := row.Scan(&r.ID, &r.Ward, &r.County, &r.Subcounty, &r.WardCode, &r.CountyCode,
		&geometry, &minLat, &maxLat, &minLng, &maxLng); err != nil {
		return nil, err
	}
	if geometry.Valid {
		r.Geometry = geom.Literal(geometry.String)
	}
	r.MinLat, r.MaxLat = minLat.Float64, maxLat.Float64
	r.MinLng, r.MaxLng = minLng.Float64, maxLng.Float64
	return &r, nil
}

// regionWriteArgs validates the geometry literal, recomputes the bounding
// box and returns the column/value lists shared by insert and update.
func regionWriteArgs(r *Region) (cols []string, vals []any, err error) {
	var geometry any
	var minLat, maxLat, minLng, maxLng any
	if r.Geometry != nil {
		lit, err := normalizeGeometry(r.Geometry)
		if err != nil {
			return nil, nil, err
		}
		bMinLat, bMaxLat, bMinLng, bMaxLng, err := geom.Bounds(lit)
		if err != nil {
			return nil, nil, err
		}
		geometry = string(lit)
		minLat, maxLat, minLng, maxLng = bMinLat, bMaxLat, bMinLng, bMaxLng
		r.Geometry = lit
		r.MinLat, r.MaxLat, r.MinLng, r.MaxLng = bMinLat, bMaxLat, bMinLng, bMaxLng
	}
	cols = []string{"ward", "county", "subcounty", "ward_code", "county_code", "geometry", "min_lat", "max_lat", "min_lng", "max_lng"}
	vals = []any{r.Ward, r.County, r.Subcounty, r.WardCode, r.CountyCode, geometry, minLat, maxLat, minLng, maxLng}
	return cols, vals, nil
}

// normalizeGeometry routes a literal through the geometry constructor so
// only valid canonical GeoJSON is stored.
func normalizeGeometry(lit geom.Literal) (geom.Literal, error) {
	g, err := geom.DecodeToGeoJSON(lit)
	if err != nil {
		return nil, err
	}
	out, err := g.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", geom.ErrInvalidGeometry, err)
	}
	return geom.Literal(out), nil
}

// UpsertRegion inserts r when r.ID is zero (assigning the new id into r)
// and updates the addressed row otherwise. Performed as a local edit: the
// capture triggers record a TRIGGER-origin event in the same transaction.
func (s *Store) UpsertRegion(ctx context.Context, r *Region) error {
	cols, vals, err := regionWriteArgs(r)
	if err != nil {
		return err
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if r.ID == 0 {
			query := fmt.Sprintf("INSERT INTO wards (%s) VALUES (%s)",
				strings.Join(cols, ", "), placeholders(len(cols)))
			res, err := tx.ExecContext(ctx, query, vals...)
			if err != nil {
				return fmt.Errorf("failed to insert ward: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read assigned ward id: %w", err)
			}
			r.ID = id
			return nil
		}

		sets := make([]string, len(cols))
		for i, col := range cols {
			sets[i] = col + " = ?"
		}
		query := fmt.Sprintf("UPDATE wards SET %s WHERE id = ?", strings.Join(sets, ", "))
		res, err := tx.ExecContext(ctx, query, append(vals, r.ID)...)
		if err != nil {
			return fmt.Errorf("failed to update ward: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read update result: %w", err)
		}
		if n == 0 {
			return ErrRegionNotFound
		}
		return nil
	})
}

// DeleteRegion removes a ward as a local edit.
func (s *Store) DeleteRegion(ctx context.Context, id int64) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM wards WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete ward: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read delete result: %w", err)
		}
		if n == 0 {
			return ErrRegionNotFound
		}
		return nil
	})
}

// GetRegion loads one ward by id.
func (s *Store) GetRegion(ctx context.Context, id int64) (*Region, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+regionColumns+` FROM wards WHERE id = ?`, id)
	r, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ward: %w", err)
	}
	return r, nil
}

// ListRegions returns all wards, geometry-less rows included.
func (s *Store) ListRegions(ctx context.Context) ([]Region, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+regionColumns+` FROM wards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wards: %w", err)
	}
	defer rows.Close()

	var regions []Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ward: %w", err)
		}
		regions = append(regions, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wards: %w", err)
	}
	return regions, nil
}

// FindContainingRegion returns the ward whose polygon contains the point.
// Geometry-less wards never match. Wards are assumed non-overlapping, but
// if several match the first wins. ErrRegionNotFound is a defined empty
// outcome, distinct from a query error.
func (s *Store) FindContainingRegion(ctx context.Context, lat, lng float64) (*Region, error) {
	if err := geom.ValidateCoords(lat, lng); err != nil {
		return nil, err
	}
	// Coarse bbox filter first; geo_contains runs the exact test.
	row := s.db.QueryRowContext(ctx, `
		SELECT `+regionColumns+` FROM wards
		WHERE geometry IS NOT NULL
		  AND min_lat <= ? AND max_lat >= ?
		  AND min_lng <= ? AND max_lng >= ?
		  AND geo_contains(geometry, ?, ?)
		ORDER BY id
		LIMIT 1
	`, lat, lat, lng, lng, lat, lng)
	r, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed containment query: %w", err)
	}
	return r, nil
}

// FindNearestRegions returns up to limit wards ordered by geodesic
// distance from the query point to each ward's centroid. Centroid
// distance is cheap and stable for very large polygons; boundary distance
// would be more accurate but costlier.
func (s *Store) FindNearestRegions(ctx context.Context, lat, lng float64, limit int) ([]RegionDistance, error) {
	if err := geom.ValidateCoords(lat, lng); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+regionColumns+`,
		       geo_distance(?, ?, geo_centroid_lat(geometry), geo_centroid_lng(geometry)) AS distance
		FROM wards
		WHERE geometry IS NOT NULL
		ORDER BY distance ASC, id ASC
		LIMIT ?
	`, lat, lng, limit)
	if err != nil {
		return nil, fmt.Errorf("failed nearest-wards query: %w", err)
	}
	defer rows.Close()

	var results []RegionDistance
	for rows.Next() {
		var rd RegionDistance
		var geometry sql.NullString
		var minLat, maxLat, minLng, maxLng sql.NullFloat64
		if err := rows.Scan(&rd.ID, &rd.Ward, &rd.County, &rd.Subcounty, &rd.WardCode, &rd.CountyCode,
			&geometry, &minLat, &maxLat, &minLng, &maxLng, &rd.DistanceMeters); err != nil {
			return nil, fmt.Errorf("failed to scan nearest ward: %w", err)
		}
		if geometry.Valid {
			rd.Geometry = geom.Literal(geometry.String)
		}
		rd.MinLat, rd.MaxLat = minLat.Float64, maxLat.Float64
		rd.MinLng, rd.MaxLng = minLng.Float64, maxLng.Float64
		results = append(results, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nearest wards: %w", err)
	}
	return results, nil
}

// Replay entry points. Each commits the row change and its REPLAY event
// in one transaction; apply_mode is tx-local so concurrent local edits
// are never mislabeled.

// ReplayCreate inserts a ward from a remote change payload and returns
// the assigned id.
func (s *Store) ReplayCreate(ctx context.Context, fields map[string]any) (int64, error) {
	cols, vals, err := replayArgs(fields)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := setApplyModeInTx(ctx, tx, 1); err != nil {
			return err
		}
		query := fmt.Sprintf("INSERT INTO wards (%s) VALUES (%s)",
			strings.Join(cols, ", "), placeholders(len(cols)))
		res, err := tx.ExecContext(ctx, query, vals...)
		if err != nil {
			return fmt.Errorf("failed to replay ward create: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read replayed ward id: %w", err)
		}
		return setApplyModeInTx(ctx, tx, 0)
	})
	return id, err
}

// ReplayUpdate applies remote field values to the addressed ward.
// Updating a ward that never arrived locally is not an error: replay is
// idempotent and the row may have been deleted by a later change.
func (s *Store) ReplayUpdate(ctx context.Context, wardID int64, fields map[string]any) error {
	cols, vals, err := replayArgs(fields)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := setApplyModeInTx(ctx, tx, 1); err != nil {
			return err
		}
		sets := make([]string, len(cols))
		for i, col := range cols {
			sets[i] = col + " = ?"
		}
		query := fmt.Sprintf("UPDATE wards SET %s WHERE id = ?", strings.Join(sets, ", "))
		if _, err := tx.ExecContext(ctx, query, append(vals, wardID)...); err != nil {
			return fmt.Errorf("failed to replay ward update: %w", err)
		}
		return setApplyModeInTx(ctx, tx, 0)
	})
}

// ReplayDelete removes the addressed ward. Deleting an absent row is a
// no-op for the same idempotence reason.
func (s *Store) ReplayDelete(ctx context.Context, wardID int64) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if err := setApplyModeInTx(ctx, tx, 1); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM wards WHERE id = ?`, wardID); err != nil {
			return fmt.Errorf("failed to replay ward delete: %w", err)
		}
		return setApplyModeInTx(ctx, tx, 0)
	})
}

// replayArgs turns a remote payload (already renamed to local columns by
// the wire mapping) into column/value lists, validating geometry and
// recomputing the bbox when geometry is present.
func replayArgs(fields map[string]any) (cols []string, vals []any, err error) {
	allowed := map[string]struct{}{}
	for _, c := range wardTrackedColumns {
		allowed[c] = struct{}{}
	}
	for _, col := range wardTrackedColumns { // deterministic column order
		val, ok := fields[col]
		if !ok {
			continue
		}
		if col == "geometry" && val != nil {
			text, ok := val.(string)
			if !ok {
				return nil, nil, fmt.Errorf("%w: geometry payload must be GeoJSON text", geom.ErrInvalidGeometry)
			}
			lit, err := normalizeGeometry(geom.Literal(text))
			if err != nil {
				return nil, nil, err
			}
			minLat, maxLat, minLng, maxLng, err := geom.Bounds(lit)
			if err != nil {
				return nil, nil, err
			}
			cols = append(cols, "geometry", "min_lat", "max_lat", "min_lng", "max_lng")
			vals = append(vals, string(lit), minLat, maxLat, minLng, maxLng)
			continue
		}
		cols = append(cols, col)
		vals = append(vals, val)
	}
	for name := range fields {
		if _, ok := allowed[name]; !ok {
			return nil, nil, fmt.Errorf("unknown ward field %q in remote payload", name)
		}
	}
	return cols, vals, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
