package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tigawanna/geo-notes-sub000/internal/geom"
)

// rectangle builds a polygon literal covering [minLat,maxLat]x[minLng,maxLng].
func rectangle(t *testing.T, minLat, maxLat, minLng, maxLng float64) geom.Literal {
	t.Helper()
	lit, err := geom.EncodePolygon([][][2]float64{{
		{minLat, minLng}, {minLat, maxLng}, {maxLat, maxLng}, {maxLat, minLng},
	}})
	require.NoError(t, err)
	return lit
}

func TestUpsertRegionInsertAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Region{
		Ward:       "Kasarani",
		County:     "Nairobi",
		Subcounty:  "Kasarani",
		WardCode:   "1447",
		CountyCode: 47,
		Geometry:   rectangle(t, -1.30, -1.20, 36.80, 36.90),
	}
	require.NoError(t, s.UpsertRegion(ctx, r))
	require.NotZero(t, r.ID)

	// Bounding box was derived from the geometry.
	require.InDelta(t, -1.30, r.MinLat, 1e-9)
	require.InDelta(t, -1.20, r.MaxLat, 1e-9)
	require.InDelta(t, 36.80, r.MinLng, 1e-9)
	require.InDelta(t, 36.90, r.MaxLng, 1e-9)

	loaded, err := s.GetRegion(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "Kasarani", loaded.Ward)
	require.Equal(t, "1447", loaded.WardCode)
	require.NotNil(t, loaded.Geometry)

	loaded.County = "Nairobi City"
	require.NoError(t, s.UpsertRegion(ctx, loaded))

	again, err := s.GetRegion(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "Nairobi City", again.County)
}

func TestUpsertRegionMissingRow(t *testing.T) {
	s := newTestStore(t)

	err := s.UpsertRegion(context.Background(), &Region{ID: 9999, Ward: "Ghost"})
	require.ErrorIs(t, err, ErrRegionNotFound)
}

func TestUpsertRegionRejectsInvalidGeometry(t *testing.T) {
	s := newTestStore(t)

	err := s.UpsertRegion(context.Background(), &Region{
		Ward:     "Broken",
		Geometry: geom.Literal(`{"type":"Polygon"`),
	})
	require.ErrorIs(t, err, geom.ErrInvalidGeometry)
}

func TestDeleteRegion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Region{Ward: "Kasarani"}
	require.NoError(t, s.UpsertRegion(ctx, r))

	require.NoError(t, s.DeleteRegion(ctx, r.ID))
	_, err := s.GetRegion(ctx, r.ID)
	require.ErrorIs(t, err, ErrRegionNotFound)

	require.ErrorIs(t, s.DeleteRegion(ctx, r.ID), ErrRegionNotFound)
}

func TestFindContainingRegion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kasarani := &Region{Ward: "Kasarani", Geometry: rectangle(t, -1.30, -1.20, 36.80, 36.90)}
	require.NoError(t, s.UpsertRegion(ctx, kasarani))
	langata := &Region{Ward: "Langata", Geometry: rectangle(t, -1.40, -1.31, 36.70, 36.79)}
	require.NoError(t, s.UpsertRegion(ctx, langata))
	// A ward without geometry can never contain a point.
	require.NoError(t, s.UpsertRegion(ctx, &Region{Ward: "Pending Survey"}))

	found, err := s.FindContainingRegion(ctx, -1.25, 36.85)
	require.NoError(t, err)
	require.Equal(t, kasarani.ID, found.ID)

	found, err = s.FindContainingRegion(ctx, -1.35, 36.75)
	require.NoError(t, err)
	require.Equal(t, langata.ID, found.ID)

	// Inside no ward: a defined empty outcome, not a query error.
	_, err = s.FindContainingRegion(ctx, 0, 0)
	require.ErrorIs(t, err, ErrRegionNotFound)

	_, err = s.FindContainingRegion(ctx, 95, 36.85)
	require.ErrorIs(t, err, geom.ErrInvalidGeometry)
}

func TestFindNearestRegions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	near := &Region{Ward: "Near", Geometry: rectangle(t, -1.30, -1.20, 36.80, 36.90)}
	require.NoError(t, s.UpsertRegion(ctx, near))
	mid := &Region{Ward: "Mid", Geometry: rectangle(t, -1.40, -1.31, 36.80, 36.90)}
	require.NoError(t, s.UpsertRegion(ctx, mid))
	far := &Region{Ward: "Far", Geometry: rectangle(t, -2.00, -1.90, 36.80, 36.90)}
	require.NoError(t, s.UpsertRegion(ctx, far))
	require.NoError(t, s.UpsertRegion(ctx, &Region{Ward: "No Geometry"}))

	// Query from the centroid of "Near".
	results, err := s.FindNearestRegions(ctx, -1.25, 36.85, 10)
	require.NoError(t, err)
	require.Len(t, results, 3, "geometry-less wards are excluded")
	require.Equal(t, []string{"Near", "Mid", "Far"}, []string{results[0].Ward, results[1].Ward, results[2].Ward})
	require.InDelta(t, 0, results[0].DistanceMeters, 1.0)
	require.Less(t, results[0].DistanceMeters, results[1].DistanceMeters)
	require.Less(t, results[1].DistanceMeters, results[2].DistanceMeters)

	// Limit truncates the ranking.
	results, err = s.FindNearestRegions(ctx, -1.25, 36.85, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "Near", results[0].Ward)

	results, err = s.FindNearestRegions(ctx, -1.25, 36.85, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestReplayCreateUpdateDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lit := rectangle(t, -1.30, -1.20, 36.80, 36.90)
	id, err := s.ReplayCreate(ctx, map[string]any{
		"ward":        "Kasarani",
		"county":      "Nairobi",
		"ward_code":   "1447",
		"county_code": float64(47), // JSON numbers decode as float64
		"geometry":    string(lit),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	r, err := s.GetRegion(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Kasarani", r.Ward)
	require.Equal(t, int64(47), r.CountyCode)
	// The bbox was recomputed from the replayed geometry.
	require.InDelta(t, -1.30, r.MinLat, 1e-9)
	require.InDelta(t, 36.90, r.MaxLng, 1e-9)

	require.NoError(t, s.ReplayUpdate(ctx, id, map[string]any{"county": "Nairobi City"}))
	r, err = s.GetRegion(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Nairobi City", r.County)

	// Updating or deleting a row that never arrived is not an error.
	require.NoError(t, s.ReplayUpdate(ctx, 9999, map[string]any{"county": "Nowhere"}))
	require.NoError(t, s.ReplayDelete(ctx, 9999))

	require.NoError(t, s.ReplayDelete(ctx, id))
	_, err = s.GetRegion(ctx, id)
	require.ErrorIs(t, err, ErrRegionNotFound)
}

func TestReplayRejectsUnknownField(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReplayCreate(context.Background(), map[string]any{
		"ward":     "Kasarani",
		"altitude": 1600,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "altitude")
}

func TestReplayRejectsInvalidGeometry(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReplayCreate(context.Background(), map[string]any{
		"ward":     "Broken",
		"geometry": `{"type":"Polygon"`,
	})
	require.ErrorIs(t, err, geom.ErrInvalidGeometry)
}
