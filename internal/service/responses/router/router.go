// Package router implements the Event Router: one instance per active run,
// enforcing strict sequence monotonicity and projecting run status from
// the status-projection table below.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

// statusByEventType is the fixed status-projection table; event types
// absent from this map pass through without a status change.
var statusByEventType = map[string]string{
	"response.queued":      models.StatusQueued,
	"response.created":     models.StatusInProgress,
	"response.in_progress": models.StatusInProgress,
	"response.completed":   models.StatusCompleted,
	"response.failed":      models.StatusFailed,
	"response.cancelled":   models.StatusCancelled,
	"response.incomplete":  models.StatusIncomplete,
}

// Router tracks one run's last-seen sequence and projects its status into
// the archive as events arrive.
type Router struct {
	mu           sync.Mutex
	runID        string
	archive      responses.Archive
	lastSequence int64
}

// New constructs a router for runID against archive, starting from
// lastSequence (0 for a fresh run, or the archive's current tail sequence
// when resuming).
func New(runID string, archive responses.Archive, lastSequence int64) *Router {
	return &Router{runID: runID, archive: archive, lastSequence: lastSequence}
}

// RawEvent is the shape HandleEvent accepts before it is archived: a type
// tag and the full raw payload, from which HandleEvent reads the provider's
// sequence number (the archive stores the payload verbatim).
type RawEvent struct {
	Type    string
	Payload []byte
}

// HandleEvent extracts and validates the event's sequence number, appends
// it to the archive, and projects run status for status-bearing and
// terminal event types.
func (r *Router) HandleEvent(ctx context.Context, raw RawEvent) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sequence, err := extractSequence(raw.Payload)
	if err != nil {
		return nil, err
	}
	if sequence <= r.lastSequence {
		if sequence == r.lastSequence {
			return nil, fmt.Errorf("run %s sequence %d: %w", r.runID, sequence, domain.ErrSequenceAlreadyRecorded)
		}
		return nil, fmt.Errorf("run %s sequence %d: %w", r.runID, sequence, domain.ErrStaleSequence)
	}

	event, err := r.archive.RecordEvent(ctx, responses.RecordEventInput{
		RunID:    r.runID,
		Sequence: &sequence,
		Type:     raw.Type,
		Payload:  raw.Payload,
	})
	if err != nil {
		return nil, err
	}

	if status, ok := statusByEventType[raw.Type]; ok {
		update := responses.UpdateStatusInput{RunID: r.runID, Status: status}
		if models.IsTerminal(status) {
			if result := gjson.GetBytes(raw.Payload, "response"); result.Exists() {
				var res models.Result
				if jsonErr := json.Unmarshal([]byte(result.Raw), &res); jsonErr == nil {
					update.Result = &res
				}
			}
		}
		if _, err := r.archive.UpdateStatus(ctx, update); err != nil {
			return nil, err
		}
	}

	r.lastSequence = sequence
	return event, nil
}

// LastSequence returns the router's current high-water mark.
func (r *Router) LastSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSequence
}

// extractSequence pulls the event's sequence number, preferring
// sequence_number over alternate spellings, per the router's contract.
func extractSequence(payload []byte) (int64, error) {
	text := string(payload)
	for _, path := range []string{"sequence_number", "sequence", "seq"} {
		v := gjson.Get(text, path)
		if v.Exists() && v.Type == gjson.Number {
			n := v.Int()
			if n > 0 {
				return n, nil
			}
			return 0, fmt.Errorf("sequence %d is not positive: %w", n, domain.ErrInvalidSequence)
		}
	}
	return 0, fmt.Errorf("missing sequence number: %w", domain.ErrInvalidSequence)
}
