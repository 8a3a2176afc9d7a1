package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/tigawanna/geo-notes-sub000/internal/store"
)

// PullResult summarizes one pull cycle.
type PullResult struct {
	NoNewChanges    bool // remote had nothing past the watermark; a success, not an error
	BatchesFetched  int
	ChangesReplayed int
	Watermark       int64 // ledger max version after the cycle
}

// versionedChange is one flattened change carrying its batch version so
// per-ward groups can be ordered.
type versionedChange struct {
	version int64
	change  remoteChange
}

// PullAndReplayEvents fetches every remote change batch newer than the
// local watermark, replays the changes into the store and appends one
// ledger row with the highest applied version. Cycles are mutually
// exclusive per device. Changes that target the same ward are applied
// sequentially in version order; different wards replay concurrently.
func (s *Syncer) PullAndReplayEvents(ctx context.Context) (PullResult, error) {
	var result PullResult
	if s.baseURL == "" {
		return result, ErrNoSyncURL
	}

	s.pullMu.Lock()
	defer s.pullMu.Unlock()

	cursor, err := s.store.MaxVersion(ctx)
	if err != nil {
		return result, err
	}
	result.Watermark = cursor

	page, err := s.fetchUpdates(ctx, cursor)
	if err != nil {
		return result, err
	}
	if len(page.Items) == 0 {
		result.NoNewChanges = true
		return result, nil
	}
	result.BatchesFetched = len(page.Items)

	// Items arrive sorted descending by version; flatten ascending so
	// replay order matches production order.
	items := append([]updateRecord(nil), page.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].Version < items[j].Version })

	var flattened []versionedChange
	for _, item := range items {
		if item.Version <= cursor {
			// The filter excludes these server-side; skip defensively anyway
			// since re-applying an already-ledgered version is the one thing
			// idempotence cannot fully cover for CREATE.
			continue
		}
		for _, ch := range item.Data.Changes {
			flattened = append(flattened, versionedChange{version: item.Version, change: ch})
		}
	}

	groups := groupByWard(flattened)
	groupErrs := make([]error, len(groups))
	var wg sync.WaitGroup
	for i := range groups {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			groupErrs[i] = s.replayGroup(ctx, groups[i])
		}(i)
	}
	wg.Wait()

	applied := 0
	for i, group := range groups {
		if groupErrs[i] == nil {
			applied += len(group)
		}
	}
	result.ChangesReplayed = applied
	s.cntReplayed.Add(ctx, int64(applied))

	if err := errors.Join(groupErrs...); err != nil {
		// Ledger not advanced: the next cycle re-pulls the same versions.
		return result, fmt.Errorf("replay failed: %w", err)
	}

	highest := items[len(items)-1].Version
	ledgerData, err := marshalLedgerData(flattened)
	if err != nil {
		return result, err
	}
	if err := s.appendLedger(ctx, highest, ledgerData, len(items)); err != nil {
		return result, err
	}

	result.Watermark = highest
	s.cntPulls.Add(ctx, 1)
	s.logger.Info("pull cycle complete",
		"batches", result.BatchesFetched, "changes", result.ChangesReplayed,
		"watermark", result.Watermark)
	return result, nil
}

// fetchUpdates requests all batches past the cursor, newest first,
// without a total count.
func (s *Syncer) fetchUpdates(ctx context.Context, cursor int64) (*updatesListResponse, error) {
	q := url.Values{}
	q.Set("filter", "(version>"+strconv.FormatInt(cursor, 10)+")")
	q.Set("sort", "-version")
	q.Set("skipTotal", "true")
	endpoint := s.baseURL + "/api/collections/wards_updates/records?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeRemoteError(resp)
	}

	var page updatesListResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode updates response: %w", err)
	}
	return &page, nil
}

// groupByWard partitions flattened changes so every change targeting the
// same ward lands in one group, preserving version order within it.
// CREATE changes without a ward id key by ward code so a CREATE and a
// follow-up UPDATE in adjacent batches still serialize.
func groupByWard(changes []versionedChange) [][]versionedChange {
	index := make(map[string]int)
	var groups [][]versionedChange
	for _, vc := range changes {
		key := groupKey(vc)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], vc)
	}
	return groups
}

func groupKey(vc versionedChange) string {
	if vc.change.WardID != nil {
		return "id:" + strconv.FormatInt(*vc.change.WardID, 10)
	}
	if code, ok := vc.change.Data["ward_code"].(string); ok && code != "" {
		return "code:" + code
	}
	if name, ok := vc.change.Data["ward"].(string); ok && name != "" {
		return "ward:" + name
	}
	// No stable identity: isolate the change in its own group.
	return "v:" + strconv.FormatInt(vc.version, 10)
}

// replayGroup applies one ward's changes strictly in ascending version order.
func (s *Syncer) replayGroup(ctx context.Context, group []versionedChange) error {
	sort.SliceStable(group, func(i, j int) bool { return group[i].version < group[j].version })
	for _, vc := range group {
		if err := s.replayChange(ctx, vc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) replayChange(ctx context.Context, vc versionedChange) error {
	ch := vc.change
	switch ch.EventType {
	case remoteCreate:
		fields, unknown := mapRemoteFields(ch.Data)
		if len(unknown) > 0 {
			s.logger.Warn("ignoring unknown remote ward fields", "version", vc.version, "fields", unknown)
		}
		id, err := s.store.ReplayCreate(ctx, fields)
		if err != nil {
			return fmt.Errorf("version %d CREATE: %w", vc.version, err)
		}
		s.logger.Debug("replayed ward create", "version", vc.version, "ward_id", id)
		return nil

	case remoteUpdate:
		if ch.WardID == nil {
			return fmt.Errorf("version %d UPDATE without ward_id", vc.version)
		}
		fields, unknown := mapRemoteFields(ch.Data)
		if len(unknown) > 0 {
			s.logger.Warn("ignoring unknown remote ward fields", "version", vc.version, "fields", unknown)
		}
		if err := s.store.ReplayUpdate(ctx, *ch.WardID, fields); err != nil {
			return fmt.Errorf("version %d UPDATE ward %d: %w", vc.version, *ch.WardID, err)
		}
		return nil

	case remoteDelete:
		if ch.WardID == nil {
			return fmt.Errorf("version %d DELETE without ward_id", vc.version)
		}
		if err := s.store.ReplayDelete(ctx, *ch.WardID); err != nil {
			return fmt.Errorf("version %d DELETE ward %d: %w", vc.version, *ch.WardID, err)
		}
		return nil

	default:
		return fmt.Errorf("version %d: unknown change type %q", vc.version, ch.EventType)
	}
}

// appendLedger records the cycle's outcome. Written only after every
// replay committed, so a ledger row always implies its changes landed.
func (s *Syncer) appendLedger(ctx context.Context, version int64, data string, batches int) error {
	return s.store.AppendVersion(ctx, &store.VersionBatch{
		Version:     version,
		Data:        data,
		Description: fmt.Sprintf("applied %d remote batches", batches),
		CreatedBy:   s.clientID,
	})
}

func marshalLedgerData(changes []versionedChange) (string, error) {
	flat := make([]remoteChange, 0, len(changes))
	for _, vc := range changes {
		flat = append(flat, vc.change)
	}
	data, err := json.Marshal(batchData{Changes: flat})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger data: %w", err)
	}
	return string(data), nil
}
