package store

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// wardTrackedColumns are the columns whose changes are worth an event.
// The bbox columns are derived from geometry and intentionally left out
// of the diff clause so recomputing them never produces log noise.
var wardTrackedColumns = []string{"ward", "county", "subcounty", "ward_code", "county_code", "geometry"}

// wardSnapshotColumns are the columns captured in old/new row snapshots.
var wardSnapshotColumns = []string{"id", "ward", "county", "subcounty", "ward_code", "county_code", "geometry", "min_lat", "max_lat", "min_lng", "max_lng"}

// uuidExpr generates a v4-style UUID inside SQLite, so the trigger can
// assign event ids without a round trip to Go.
const uuidExpr = `lower(hex(randomblob(4))) || '-' || lower(hex(randomblob(2))) || '-4' ||
		substr(lower(hex(randomblob(2))),2) || '-' || substr('89ab', abs(random()) % 4 + 1, 1) ||
		substr(lower(hex(randomblob(2))),2) || '-' || lower(hex(randomblob(6)))`

// triggerData feeds the trigger DDL templates.
type triggerData struct {
	UUIDExpr    string
	OriginExpr  string
	StatusExpr  string
	NewSnapshot string
	OldSnapshot string
	DiffClause  string
}

// Origin is derived from apply_mode at fire time: 1 means the row change
// came from replaying a remote batch. Replayed events are born SYNCED so
// the push synchronizer never echoes them back to the server.
const (
	originExpr = `CASE COALESCE((SELECT apply_mode FROM _ward_sync_state WHERE id = 1), 0)
		WHEN 1 THEN 'REPLAY' ELSE 'TRIGGER' END`
	statusExpr = `CASE COALESCE((SELECT apply_mode FROM _ward_sync_state WHERE id = 1), 0)
		WHEN 1 THEN 'SYNCED' ELSE 'PENDING' END`
)

const insertTriggerTemplate = `CREATE TRIGGER IF NOT EXISTS trg_wards_ai
AFTER INSERT ON wards
BEGIN
	INSERT INTO wards_events (id, ward_id, ward_code, event_type, trigger_by, old_data, new_data, sync_status)
	VALUES (
		{{.UUIDExpr}},
		NEW.id, NEW.ward_code, 'INSERT',
		{{.OriginExpr}},
		NULL,
		{{.NewSnapshot}},
		{{.StatusExpr}}
	);
END`

const updateTriggerTemplate = `CREATE TRIGGER IF NOT EXISTS trg_wards_au
AFTER UPDATE ON wards
WHEN {{.DiffClause}}
BEGIN
	INSERT INTO wards_events (id, ward_id, ward_code, event_type, trigger_by, old_data, new_data, sync_status)
	VALUES (
		{{.UUIDExpr}},
		NEW.id, NEW.ward_code, 'UPDATE',
		{{.OriginExpr}},
		{{.OldSnapshot}},
		{{.NewSnapshot}},
		{{.StatusExpr}}
	);
END`

// The DELETE trigger runs BEFORE removal: the OLD snapshot source is gone
// afterwards.
const deleteTriggerTemplate = `CREATE TRIGGER IF NOT EXISTS trg_wards_bd
BEFORE DELETE ON wards
BEGIN
	INSERT INTO wards_events (id, ward_id, ward_code, event_type, trigger_by, old_data, new_data, sync_status)
	VALUES (
		{{.UUIDExpr}},
		OLD.id, OLD.ward_code, 'DELETE',
		{{.OriginExpr}},
		{{.OldSnapshot}},
		NULL,
		{{.StatusExpr}}
	);
END`

// buildSnapshotExpr renders a json_object() call snapshotting a ward row.
func buildSnapshotExpr(prefix string) string {
	pairs := make([]string, 0, len(wardSnapshotColumns))
	for _, col := range wardSnapshotColumns {
		pairs = append(pairs, fmt.Sprintf("'%s', %s.%s", col, prefix, col))
	}
	return fmt.Sprintf("json_object(%s)", strings.Join(pairs, ", "))
}

// buildDiffClause renders the WHEN clause that suppresses no-op updates.
// "IS NOT" compares NULLs correctly where "<>" would not.
func buildDiffClause() string {
	terms := make([]string, 0, len(wardTrackedColumns))
	for _, col := range wardTrackedColumns {
		terms = append(terms, fmt.Sprintf("OLD.%s IS NOT NEW.%s", col, col))
	}
	return strings.Join(terms, " OR ")
}

// createWardTriggers installs the event-capture triggers on the wards
// table. Every mutation path shares them, so capture cannot be bypassed.
func (s *Store) createWardTriggers() error {
	data := triggerData{
		UUIDExpr:    uuidExpr,
		OriginExpr:  originExpr,
		StatusExpr:  statusExpr,
		NewSnapshot: buildSnapshotExpr("NEW"),
		OldSnapshot: buildSnapshotExpr("OLD"),
		DiffClause:  buildDiffClause(),
	}

	templates := []struct {
		name     string
		template string
	}{
		{"insert", insertTriggerTemplate},
		{"update", updateTriggerTemplate},
		{"delete", deleteTriggerTemplate},
	}

	for _, tmpl := range templates {
		t, err := template.New(tmpl.name).Parse(tmpl.template)
		if err != nil {
			return fmt.Errorf("failed to parse %s trigger template: %w", tmpl.name, err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return fmt.Errorf("failed to render %s trigger template: %w", tmpl.name, err)
		}
		if _, err := s.db.Exec(buf.String()); err != nil {
			return fmt.Errorf("failed to create %s trigger: %w", tmpl.name, err)
		}
	}
	return nil
}
