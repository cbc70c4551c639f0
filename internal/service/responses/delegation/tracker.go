// Package delegation implements the Delegation Tracker: it observes
// function-call-arguments and output-item completion events, correlates
// them by call id, and mirrors the resulting records through to the
// archive when the archive opts into DelegationAware.
package delegation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

// Tracker mirrors delegation state in-process, keyed by run id then call
// id, and writes through to the archive when it supports DelegationAware.
type Tracker struct {
	mu      sync.Mutex
	archive responses.Archive
	runs    map[string]map[string]*models.Delegation
}

// New constructs a delegation tracker backed by archive.
func New(archive responses.Archive) *Tracker {
	return &Tracker{
		archive: archive,
		runs:    make(map[string]map[string]*models.Delegation),
	}
}

func (t *Tracker) delegationsFor(runID string) map[string]*models.Delegation {
	m, ok := t.runs[runID]
	if !ok {
		m = make(map[string]*models.Delegation)
		t.runs[runID] = m
	}
	return m
}

// ApplyEvent folds one routed event into delegation state. Event types
// outside the two it cares about are ignored.
func (t *Tracker) ApplyEvent(ctx context.Context, runID string, event models.Event) error {
	switch event.Type {
	case "response.function_call_arguments.done":
		return t.applyArgumentsDone(ctx, runID, event)
	case "response.output_item.done":
		return t.applyOutputItemDone(ctx, runID, event)
	default:
		return nil
	}
}

func (t *Tracker) applyArgumentsDone(ctx context.Context, runID string, event models.Event) error {
	text := string(event.Payload)

	callID := firstNonEmpty(gjson.Get(text, "call_id").String(), gjson.Get(text, "item_id").String())
	if callID == "" {
		callID = uuid.NewString()
	}
	toolName := firstNonEmpty(gjson.Get(text, "name").String(), gjson.Get(text, "function.name").String(), "unknown_tool")

	var args json.RawMessage
	if argsField := gjson.Get(text, "arguments"); argsField.Exists() {
		if argsField.Type == gjson.String && json.Valid([]byte(argsField.String())) {
			args = json.RawMessage(argsField.String())
		} else {
			args = json.RawMessage(argsField.Raw)
		}
	}

	t.mu.Lock()
	delegations := t.delegationsFor(runID)
	delegation, ok := delegations[callID]
	if !ok {
		delegation = &models.Delegation{
			CallID:      callID,
			ToolName:    toolName,
			RequestedAt: time.Now().UTC(),
			Status:      models.DelegationRequested,
			Arguments:   args,
		}
		delegations[callID] = delegation
	} else {
		delegation.ToolName = toolName
		delegation.Arguments = args
	}
	out := delegation.Clone()
	t.mu.Unlock()

	return t.writeThrough(ctx, runID, out)
}

func (t *Tracker) applyOutputItemDone(ctx context.Context, runID string, event models.Event) error {
	text := string(event.Payload)
	item := gjson.Get(text, "item")
	if !item.Exists() || item.Get("type").String() != "tool_call" {
		return nil
	}

	callID := firstNonEmpty(item.Get("call_id").String(), item.Get("id").String())
	if callID == "" {
		return nil
	}
	toolName := firstNonEmpty(item.Get("name").String(), "unknown_tool")
	status := models.DelegationCompleted
	if item.Get("status").String() == "failed" {
		status = models.DelegationFailed
	}

	t.mu.Lock()
	delegations := t.delegationsFor(runID)
	delegation, ok := delegations[callID]
	if !ok {
		delegation = &models.Delegation{
			CallID:      callID,
			ToolName:    toolName,
			RequestedAt: time.Now().UTC(),
			Status:      models.DelegationRequested,
		}
		delegations[callID] = delegation
	}
	now := time.Now().UTC()
	delegation.Status = status
	delegation.CompletedAt = &now
	if output := item.Get("output"); output.Exists() {
		delegation.Output = json.RawMessage(output.Raw)
	}
	out := delegation.Clone()
	t.mu.Unlock()

	return t.writeThrough(ctx, runID, out)
}

func (t *Tracker) writeThrough(ctx context.Context, runID string, delegation models.Delegation) error {
	aware, ok := t.archive.(responses.DelegationAware)
	if !ok {
		return nil
	}
	if delegation.Status == models.DelegationRequested {
		_, err := aware.RecordDelegation(ctx, runID, delegation)
		return err
	}
	update := responses.DelegationUpdate{
		Status:      delegation.Status,
		Output:      delegation.Output,
		CompletedAt: delegation.CompletedAt,
	}
	_, err := aware.UpdateDelegation(ctx, runID, delegation.CallID, update)
	return err
}

// Delegations returns a defensive copy of every delegation tracked for
// runID, in no particular order.
func (t *Tracker) Delegations(runID string) []models.Delegation {
	t.mu.Lock()
	defer t.mu.Unlock()
	delegations := t.runs[runID]
	out := make([]models.Delegation, 0, len(delegations))
	for _, d := range delegations {
		out = append(out, d.Clone())
	}
	return out
}

// Evict drops a run's in-process delegation state, called by the
// coordinator once a run reaches a terminal status.
func (t *Tracker) Evict(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, runID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
