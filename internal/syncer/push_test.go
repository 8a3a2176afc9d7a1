package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tigawanna/geo-notes-sub000/internal/store"
)

func TestPushAllEventsDrainsLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRegion(ctx, &store.Region{Ward: "Kasarani", WardCode: "1447"}))
	require.NoError(t, st.UpsertRegion(ctx, &store.Region{Ward: "Langata", WardCode: "1394"}))

	var mu sync.Mutex
	var received []wireEvent
	var paths []string
	s := newTestSyncer(t, st, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt wireEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	result, err := s.PushAllEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, PushResult{Total: 2, Synced: 2}, result)
	require.Len(t, received, 2)
	for _, p := range paths {
		require.Equal(t, "POST /api/collections/wards_events/records", p)
	}
	for _, evt := range received {
		require.Equal(t, "INSERT", evt.EventType)
		require.Equal(t, "device-test", evt.ClientID)
		require.NotNil(t, evt.NewData)
	}

	// Everything acknowledged: the next cycle has nothing to send.
	result, err = s.PushAllEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, PushResult{}, result)

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	for _, e := range events {
		require.Equal(t, store.StatusSynced, e.SyncStatus)
	}
}

func TestPushPartialFailureAndRetry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRegion(ctx, &store.Region{Ward: "Keep A", WardCode: "1"}))
	require.NoError(t, st.UpsertRegion(ctx, &store.Region{Ward: "Reject Me", WardCode: "2"}))
	require.NoError(t, st.UpsertRegion(ctx, &store.Region{Ward: "Keep B", WardCode: "3"}))

	var rejecting atomic.Bool
	rejecting.Store(true)
	var requests atomic.Int64
	s := newTestSyncer(t, st, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var evt wireEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if rejecting.Load() && evt.WardCode == "2" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(errorBody{
				Status:  http.StatusBadRequest,
				Message: "Failed to create record.",
				Data:    map[string]map[string]string{"ward_code": {"code": "validation_invalid", "message": "Invalid value."}},
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	// One event fails; its siblings are unaffected.
	result, err := s.PushAllEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, PushResult{Total: 3, Synced: 2, Failed: 1}, result)
	require.Equal(t, int64(3), requests.Load())

	pending, err := st.PendingEvents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, store.StatusFailed, pending[0].SyncStatus)
	require.Contains(t, pending[0].ErrorMessage.String, "remote rejected")
	require.Contains(t, pending[0].ErrorMessage.String, "ward_code")

	// Next cycle retries only the failed event.
	rejecting.Store(false)
	requests.Store(0)
	result, err = s.PushAllEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, PushResult{Total: 1, Synced: 1}, result)
	require.Equal(t, int64(1), requests.Load())

	pending, err = st.PendingEvents(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPushInvalidEventNeverSent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// A corrupted snapshot cannot become valid by resending it.
	_, err := st.DB().Exec(`
		INSERT INTO wards_events (id, ward_id, ward_code, event_type, trigger_by, old_data, new_data, sync_status)
		VALUES ('evt-corrupt', 1, '1447', 'INSERT', 'TRIGGER', NULL, 'not json', 'PENDING')
	`)
	require.NoError(t, err)

	var requests atomic.Int64
	s := newTestSyncer(t, st, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	result, err := s.PushAllEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, PushResult{Total: 1, Invalid: 1}, result)
	require.Zero(t, requests.Load(), "invalid events never reach the network")

	events, err := st.ListEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, events[0].SyncStatus)
	require.Contains(t, events[0].ErrorMessage.String, "validation:")
}

func TestPushWithoutSyncURL(t *testing.T) {
	st := newTestStore(t)

	s := New(st, "", "device-test", nil, time.Second, slog.Default())
	_, err := s.PushAllEvents(context.Background())
	require.ErrorIs(t, err, ErrNoSyncURL)
}

func TestPushSendsBearerToken(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRegion(ctx, &store.Region{Ward: "Kasarani"}))

	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	token := func(ctx context.Context) (string, error) { return "test-token", nil }
	s := New(st, srv.URL, "device-test", token, time.Second, slog.Default())

	_, err := s.PushAllEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, "Bearer test-token", header.Load())
}
