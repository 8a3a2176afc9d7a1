package syncer

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tigawanna/geo-notes-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// newTestSyncer wires a syncer to an httptest server standing in for the
// remote collection API.
func newTestSyncer(t *testing.T, st *store.Store, handler http.Handler) *Syncer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(st, srv.URL, "device-test", nil, 5*time.Second, slog.Default())
}
