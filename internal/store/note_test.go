package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tigawanna/geo-notes-sub000/internal/geom"
)

func point(t *testing.T, lat, lng float64) geom.Literal {
	t.Helper()
	lit, err := geom.EncodePoint(lat, lng)
	require.NoError(t, err)
	return lit
}

func TestNoteCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Note{
		Title:    "Water meter reading",
		Content:  "Meter 44451, reading 02471",
		Status:   "active",
		Priority: "high",
		Tags:     "utilities,home",
		Geometry: point(t, -1.2206, 36.8985),
	}
	require.NoError(t, s.CreateNote(ctx, n))
	require.NotEmpty(t, n.ID, "client-generated id assigned")

	loaded, err := s.GetNote(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, "Water meter reading", loaded.Title)
	require.Equal(t, "utilities,home", loaded.Tags)
	require.NotEmpty(t, loaded.CreatedAt)

	lat, lng, err := geom.PointCoords(loaded.Geometry)
	require.NoError(t, err)
	require.InDelta(t, -1.2206, lat, 1e-9)
	require.InDelta(t, 36.8985, lng, 1e-9)

	loaded.Content = "Meter replaced"
	loaded.Geometry = nil
	require.NoError(t, s.UpdateNote(ctx, loaded))

	again, err := s.GetNote(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, "Meter replaced", again.Content)
	require.Nil(t, again.Geometry, "geotag can be removed")

	require.NoError(t, s.DeleteNote(ctx, n.ID))
	_, err = s.GetNote(ctx, n.ID)
	require.ErrorIs(t, err, ErrNoteNotFound)
	require.ErrorIs(t, s.DeleteNote(ctx, n.ID), ErrNoteNotFound)
	require.ErrorIs(t, s.UpdateNote(ctx, again), ErrNoteNotFound)
}

func TestCreateNoteRejectsInvalidGeometry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateNote(ctx, &Note{Title: "Bad", Geometry: geom.Literal(`{"oops"`)})
	require.ErrorIs(t, err, geom.ErrInvalidGeometry)

	// A polygon is not a valid note geotag.
	err = s.CreateNote(ctx, &Note{Title: "Bad", Geometry: rectangle(t, -1.3, -1.2, 36.8, 36.9)})
	require.ErrorIs(t, err, geom.ErrInvalidGeometry)
}

func TestSearchNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNote(ctx, &Note{Title: "Shopping list", Content: "milk, bread"}))
	require.NoError(t, s.CreateNote(ctx, &Note{Title: "Plumber", Content: "fix kitchen sink", Geometry: point(t, -1.25, 36.85)}))

	// Geometry-less notes are searchable like any other.
	notes, err := s.SearchNotes(ctx, "milk")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, "Shopping list", notes[0].Title)

	notes, err = s.SearchNotes(ctx, "Plumber")
	require.NoError(t, err)
	require.Len(t, notes, 1)

	notes, err = s.SearchNotes(ctx, "")
	require.NoError(t, err)
	require.Len(t, notes, 2)

	notes, err = s.SearchNotes(ctx, "no such term")
	require.NoError(t, err)
	require.Empty(t, notes)
}

func TestFindNearestNotesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Five geotagged notes at strictly increasing distance from the origin
	// point, plus one without a geotag.
	origin := [2]float64{-1.2206, 36.8985}
	for i, offset := range []float64{0, 0.01, 0.02, 0.03, 0.04} {
		n := &Note{
			ID:       string(rune('a' + i)),
			Title:    "note",
			Geometry: point(t, origin[0]+offset, origin[1]),
		}
		require.NoError(t, s.CreateNote(ctx, n))
	}
	require.NoError(t, s.CreateNote(ctx, &Note{Title: "no geotag"}))

	page1, cursor, err := s.FindNearestNotes(ctx, origin[0], origin[1], 2, nil)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotNil(t, cursor)
	require.Equal(t, "a", page1[0].ID)
	require.Equal(t, "b", page1[1].ID)
	require.LessOrEqual(t, page1[0].DistanceMeters, page1[1].DistanceMeters)

	page2, cursor, err := s.FindNearestNotes(ctx, origin[0], origin[1], 2, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotNil(t, cursor)
	require.Equal(t, "c", page2[0].ID)
	require.Equal(t, "d", page2[1].ID)

	// Short final page: the geotag-less note never appears.
	page3, cursor, err := s.FindNearestNotes(ctx, origin[0], origin[1], 2, cursor)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.Equal(t, "e", page3[0].ID)
	require.Nil(t, cursor)
}

func TestFindNearestNotesDistanceTies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two notes at the exact same location: the id orders the tie, and the
	// cursor must not skip or repeat either across pages.
	for _, id := range []string{"tie-b", "tie-a"} {
		require.NoError(t, s.CreateNote(ctx, &Note{ID: id, Title: "tie", Geometry: point(t, -1.25, 36.85)}))
	}

	page1, cursor, err := s.FindNearestNotes(ctx, -1.25, 36.85, 1, nil)
	require.NoError(t, err)
	require.Len(t, page1, 1)
	require.Equal(t, "tie-a", page1[0].ID)
	require.NotNil(t, cursor)

	page2, cursor, err := s.FindNearestNotes(ctx, -1.25, 36.85, 1, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	require.Equal(t, "tie-b", page2[0].ID)
	require.NotNil(t, cursor, "full page: one more query needed to see the end")

	page3, cursor, err := s.FindNearestNotes(ctx, -1.25, 36.85, 1, cursor)
	require.NoError(t, err)
	require.Empty(t, page3)
	require.Nil(t, cursor)
}

func TestFindNearestNotesValidatesQueryPoint(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.FindNearestNotes(context.Background(), 91, 0, 10, nil)
	require.ErrorIs(t, err, geom.ErrInvalidGeometry)
}
