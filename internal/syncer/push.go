package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// PushResult summarizes one push cycle. Per-event failures are outcomes,
// not errors: they stay FAILED in the log and are retried next cycle.
type PushResult struct {
	Total   int // events eligible this cycle
	Synced  int // acknowledged by the remote
	Failed  int // transport or remote-rejected
	Invalid int // failed outbound validation; never sent
}

// PushAllEvents drains TRIGGER-origin PENDING/FAILED events to the
// remote. All valid events are sent concurrently and independently; one
// event's failure never cancels its siblings. The call itself only fails
// when it cannot begin at all.
func (s *Syncer) PushAllEvents(ctx context.Context) (PushResult, error) {
	var result PushResult
	if s.baseURL == "" {
		return result, ErrNoSyncURL
	}

	events, err := s.store.PendingEvents(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load pending events: %w", err)
	}
	result.Total = len(events)
	if len(events) == 0 {
		return result, nil
	}

	// Validate first. An invalid payload is permanently invalid; it is
	// marked FAILED with the validation message and never sent, so the
	// next cycle re-fails it locally without network traffic.
	type outbound struct {
		eventID string
		wire    *wireEvent
	}
	var sendable []outbound
	for i := range events {
		e := &events[i]
		w := eventToWire(e, s.clientID)
		if err := w.validate(); err != nil {
			result.Invalid++
			s.cntInvalid.Add(ctx, 1)
			s.logger.Warn("event failed outbound validation", "event_id", e.ID, "error", err)
			if markErr := s.store.MarkEventFailed(ctx, e.ID, "validation: "+err.Error()); markErr != nil {
				return result, fmt.Errorf("failed to mark invalid event: %w", markErr)
			}
			continue
		}
		sendable = append(sendable, outbound{eventID: e.ID, wire: w})
	}

	// Settle all sends; collect every outcome.
	sendErrs := make([]error, len(sendable))
	var wg sync.WaitGroup
	for i := range sendable {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sendErrs[i] = s.sendEvent(ctx, sendable[i].wire)
		}(i)
	}
	wg.Wait()

	for i, out := range sendable {
		if sendErr := sendErrs[i]; sendErr != nil {
			result.Failed++
			s.cntFailed.Add(ctx, 1)
			s.logger.Warn("event push failed", "event_id", out.eventID, "error", sendErr)
			if err := s.store.MarkEventFailed(ctx, out.eventID, sendErr.Error()); err != nil {
				return result, fmt.Errorf("failed to mark failed event: %w", err)
			}
			continue
		}
		result.Synced++
		s.cntPushed.Add(ctx, 1)
		if err := s.store.MarkEventSynced(ctx, out.eventID); err != nil {
			return result, fmt.Errorf("failed to mark synced event: %w", err)
		}
	}

	s.logger.Info("push cycle complete",
		"total", result.Total, "synced", result.Synced,
		"failed", result.Failed, "invalid", result.Invalid)
	return result, ctx.Err()
}

// sendEvent POSTs one event to the collection endpoint.
func (s *Syncer) sendEvent(ctx context.Context, w *wireEvent) error {
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	url := s.baseURL + "/api/collections/wards_events/records"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := s.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return decodeRemoteError(resp)
}

// authorize attaches the bearer token when a token source is configured.
func (s *Syncer) authorize(ctx context.Context, req *http.Request) error {
	if s.token == nil {
		return nil
	}
	token, err := s.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// decodeRemoteError turns a non-2xx collection API response into an error
// retaining the server's field-level diagnostics when present.
func decodeRemoteError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case resp.StatusCode == http.StatusBadRequest && len(body.Data) > 0:
			return fmt.Errorf("remote rejected (status %d): %v", resp.StatusCode, body.Data)
		case body.Message != "":
			return fmt.Errorf("remote error (status %d): %s", resp.StatusCode, body.Message)
		}
	}
	return fmt.Errorf("remote error (status %d): %s", resp.StatusCode, string(raw))
}
