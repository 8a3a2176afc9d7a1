package syncer

import (
	"encoding/json"
	"fmt"

	"github.com/tigawanna/geo-notes-sub000/internal/store"
)

// Remote wire shapes for the collection-style REST API. The server speaks
// snake_case; local columns are enumerated in wardFieldMap below, which is
// the single source of truth for renaming in both directions.

// wireEvent is one outbound change event in wire shape
// (POST /api/collections/wards_events/records).
type wireEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	WardID    *int64          `json:"ward_id"`
	WardCode  string          `json:"ward_code"`
	OldData   json.RawMessage `json:"old_data"`
	NewData   json.RawMessage `json:"new_data"`
	TriggerBy string          `json:"trigger_by"`
	Timestamp string          `json:"timestamp"`
	ClientID  string          `json:"client_id"`
}

// updatesListResponse is one page of remote change batches
// (GET /api/collections/wards_updates/records).
type updatesListResponse struct {
	Page       int            `json:"page"`
	PerPage    int            `json:"perPage"`
	TotalPages int            `json:"totalPages"`
	TotalItems int            `json:"totalItems"`
	Items      []updateRecord `json:"items"`
}

type updateRecord struct {
	ID          string    `json:"id"`
	Version     int64     `json:"version"`
	Data        batchData `json:"data"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	Created     string    `json:"created"`
	Updated     string    `json:"updated"`
}

type batchData struct {
	Changes []remoteChange `json:"changes"`
}

// remoteChange is one change descriptor inside a batch. Its event_type
// vocabulary is CREATE/UPDATE/DELETE (the ledger side), unlike the event
// log's INSERT/UPDATE/DELETE.
type remoteChange struct {
	EventType string         `json:"event_type"`
	WardID    *int64         `json:"ward_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// errorBody is the server's non-2xx response shape.
type errorBody struct {
	Status  int                          `json:"status"`
	Message string                       `json:"message"`
	Data    map[string]map[string]string `json:"data"`
}

const (
	remoteCreate = "CREATE"
	remoteUpdate = "UPDATE"
	remoteDelete = "DELETE"
)

// fieldMapping renames one ward attribute between the remote payload and
// the local column.
type fieldMapping struct {
	remote string
	local  string
}

// wardFieldMap enumerates every ward attribute the remote may carry.
var wardFieldMap = []fieldMapping{
	{remote: "ward", local: "ward"},
	{remote: "county", local: "county"},
	{remote: "sub_county", local: "subcounty"},
	{remote: "ward_code", local: "ward_code"},
	{remote: "county_code", local: "county_code"},
	{remote: "geometry", local: "geometry"},
}

// mapRemoteFields renames a remote change payload to local columns.
// Unrecognized remote fields are dropped (the server may gain attributes
// before clients do); the caller logs them.
func mapRemoteFields(data map[string]any) (fields map[string]any, unknown []string) {
	byRemote := make(map[string]string, len(wardFieldMap))
	for _, m := range wardFieldMap {
		byRemote[m.remote] = m.local
	}
	fields = make(map[string]any, len(data))
	for name, val := range data {
		local, ok := byRemote[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		fields[local] = val
	}
	return fields, unknown
}

// eventToWire translates an event-log row to its wire shape.
func eventToWire(e *store.ChangeEvent, clientID string) *wireEvent {
	w := &wireEvent{
		EventID:   e.ID,
		EventType: e.EventType,
		WardCode:  e.WardCode,
		TriggerBy: e.TriggerBy,
		Timestamp: e.CreatedAt,
		ClientID:  clientID,
	}
	if e.WardID.Valid {
		id := e.WardID.Int64
		w.WardID = &id
	}
	if e.OldData.Valid {
		w.OldData = json.RawMessage(e.OldData.String)
	}
	if e.NewData.Valid {
		w.NewData = json.RawMessage(e.NewData.String)
	}
	return w
}

// validate enforces the outbound schema. A violation is permanent for
// that event: the payload will never become valid by resending it.
func (w *wireEvent) validate() error {
	if w.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if w.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	switch w.EventType {
	case store.EventInsert:
		if w.OldData != nil || w.NewData == nil {
			return fmt.Errorf("INSERT event requires new_data only")
		}
	case store.EventUpdate:
		if w.OldData == nil || w.NewData == nil {
			return fmt.Errorf("UPDATE event requires both old_data and new_data")
		}
	case store.EventDelete:
		if w.OldData == nil || w.NewData != nil {
			return fmt.Errorf("DELETE event requires old_data only")
		}
	default:
		return fmt.Errorf("unknown event_type %q", w.EventType)
	}
	if w.TriggerBy != store.OriginTrigger {
		return fmt.Errorf("only TRIGGER-origin events are pushed, got %q", w.TriggerBy)
	}
	if !json.Valid(orNull(w.OldData)) || !json.Valid(orNull(w.NewData)) {
		return fmt.Errorf("row snapshot is not valid JSON")
	}
	return nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return json.RawMessage("null")
	}
	return raw
}
