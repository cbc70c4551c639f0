// Package memoryarchive is a purely in-memory Archive implementation: the
// interchangeable backend for tests and ephemeral deployments. State is
// guarded by one mutex per run plus a coarser lock over the run index
// itself, mirroring the per-run-mutex pattern the Run Coordinator uses for
// its own in-process state.
package memoryarchive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

type runEntry struct {
	mu   sync.Mutex
	run  *models.Run
	line []models.Event
}

// Archive is the in-memory responses.Archive. It additionally implements
// Prunable, Rollbackable, SafetyAware, DelegationAware, and ModerationAware,
// so callers that type-assert for those capabilities find them present. It
// does not implement Exportable.
type Archive struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

// New constructs an empty in-memory archive.
func New() *Archive {
	return &Archive{runs: make(map[string]*runEntry)}
}

var _ responses.Archive = (*Archive)(nil)
var _ responses.Rollbackable = (*Archive)(nil)
var _ responses.SafetyAware = (*Archive)(nil)
var _ responses.DelegationAware = (*Archive)(nil)
var _ responses.ModerationAware = (*Archive)(nil)
var _ responses.Prunable = (*Archive)(nil)

func (a *Archive) entry(runID string) (*runEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.runs[runID]
	return e, ok
}

func (a *Archive) StartRun(ctx context.Context, input responses.StartRunInput) (*models.Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.runs[input.RunID]; exists {
		return nil, fmt.Errorf("run %s: %w", input.RunID, domain.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	run := &models.Run{
		RunID:          input.RunID,
		Request:        input.Request,
		ConversationID: input.ConversationID,
		Metadata:       input.Metadata.Clone(),
		Status:         models.StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
		TraceID:        input.TraceID,
		Safety:         input.Safety,
	}
	a.runs[input.RunID] = &runEntry{run: run}
	return run.Clone(), nil
}

func (a *Archive) RecordEvent(ctx context.Context, input responses.RecordEventInput) (*models.Event, error) {
	e, ok := a.entry(input.RunID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", input.RunID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	last := int64(0)
	if n := len(e.line); n > 0 {
		last = e.line[n-1].Sequence
	}
	seq := last + 1
	if input.Sequence != nil {
		seq = *input.Sequence
		if seq <= last {
			return nil, fmt.Errorf("run %s sequence %d: %w", input.RunID, seq, domain.ErrSequenceAlreadyRecorded)
		}
	}

	occurred := input.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	event := models.Event{
		RunID:      input.RunID,
		Sequence:   seq,
		Type:       input.Type,
		Payload:    input.Payload,
		OccurredAt: occurred,
	}
	e.line = append(e.line, event)
	out := event.Clone()
	return &out, nil
}

func (a *Archive) UpdateStatus(ctx context.Context, input responses.UpdateStatusInput) (*models.Run, error) {
	e, ok := a.entry(input.RunID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", input.RunID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.Status = input.Status
	e.run.UpdatedAt = time.Now().UTC()
	if input.Result != nil {
		result := *input.Result
		e.run.Result = &result
	}
	return e.run.Clone(), nil
}

func (a *Archive) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	e, ok := a.entry(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run.Clone(), nil
}

func (a *Archive) GetTimeline(ctx context.Context, runID string) (*models.Timeline, error) {
	e, ok := a.entry(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Event, len(e.line))
	copy(out, e.line)
	return &models.Timeline{RunID: runID, Events: out}, nil
}

func (a *Archive) ListRuns(ctx context.Context) ([]models.Run, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Run, 0, len(a.runs))
	for _, e := range a.runs {
		e.mu.Lock()
		out = append(out, *e.run.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (a *Archive) DeleteRun(ctx context.Context, runID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.runs[runID]; !ok {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	delete(a.runs, runID)
	return nil
}

func (a *Archive) SnapshotAt(ctx context.Context, runID string, sequence int64) (*models.TimelineSnapshot, error) {
	e, ok := a.entry(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(runID, e.line, sequence), nil
}

func snapshotLocked(runID string, line []models.Event, sequence int64) *models.TimelineSnapshot {
	kept := make([]models.Event, 0, len(line))
	for _, ev := range line {
		if ev.Sequence <= sequence {
			kept = append(kept, ev)
		}
	}
	status := projectStatus(kept)
	return &models.TimelineSnapshot{
		Timeline:        models.Timeline{RunID: runID, Events: kept},
		ProjectedStatus: status,
	}
}

// projectStatus derives the status implied by the last terminal-or-status
// event in a truncated line, defaulting to in_progress when none remains.
func projectStatus(line []models.Event) string {
	status := models.StatusInProgress
	for _, ev := range line {
		switch ev.Type {
		case "response.queued":
			status = models.StatusQueued
		case "response.created", "response.in_progress":
			status = models.StatusInProgress
		case "response.completed":
			status = models.StatusCompleted
		case "response.failed":
			status = models.StatusFailed
		case "response.cancelled":
			status = models.StatusCancelled
		case "response.incomplete":
			status = models.StatusIncomplete
		}
	}
	return status
}

func (a *Archive) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for id, e := range a.runs {
		e.mu.Lock()
		before := e.run.UpdatedAt
		e.mu.Unlock()
		if before.Before(cutoff) {
			delete(a.runs, id)
			removed++
		}
	}
	return removed, nil
}

func (a *Archive) Rollback(ctx context.Context, runID string, input responses.RollbackInput) (*models.TimelineSnapshot, error) {
	e, ok := a.entry(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	target, err := resolveRollbackTarget(e.line, input)
	if err != nil {
		return nil, err
	}

	kept := make([]models.Event, 0, len(e.line))
	for _, ev := range e.line {
		if ev.Sequence <= target {
			kept = append(kept, ev)
		}
	}
	status := projectStatus(kept)

	marker := models.Event{
		RunID:    runID,
		Sequence: target + 1,
		Type:     "responses.rollback",
		Payload:  rollbackMarkerPayload(input.Operator, input.Reason),
		OccurredAt: time.Now().UTC(),
	}
	kept = append(kept, marker)

	e.line = kept
	e.run.Status = status
	e.run.UpdatedAt = time.Now().UTC()
	if status != models.StatusCompleted && status != models.StatusFailed &&
		status != models.StatusCancelled && status != models.StatusIncomplete {
		e.run.Result = nil
	}

	return &models.TimelineSnapshot{
		Timeline:        models.Timeline{RunID: runID, Events: append([]models.Event{}, kept...)},
		ProjectedStatus: status,
	}, nil
}

func resolveRollbackTarget(line []models.Event, input responses.RollbackInput) (int64, error) {
	if input.Sequence != nil {
		return *input.Sequence, nil
	}
	if input.ToolCallID != "" {
		for _, ev := range line {
			if containsCallID(ev.Payload, input.ToolCallID) {
				return ev.Sequence, nil
			}
		}
		return 0, fmt.Errorf("tool call %s not found: %w", input.ToolCallID, domain.ErrValidation)
	}
	return 0, fmt.Errorf("rollback requires sequence or toolCallId: %w", domain.ErrValidation)
}

func (a *Archive) UpdateSafety(ctx context.Context, runID string, input responses.UpdateSafetyInput) (*models.Safety, error) {
	e, ok := a.entry(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Safety == nil {
		e.run.Safety = &models.Safety{}
	}
	e.run.Safety.RefusalCount += input.RefusalDelta
	if input.LastRefusalAt != nil {
		t := *input.LastRefusalAt
		e.run.Safety.LastRefusalAt = &t
	}
	e.run.UpdatedAt = time.Now().UTC()
	return e.run.Safety.Clone(), nil
}

func (a *Archive) AddModeratorNote(ctx context.Context, runID string, note models.ModeratorNote) (*models.ModeratorNote, error) {
	e, ok := a.entry(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Safety == nil {
		e.run.Safety = &models.Safety{}
	}
	e.run.Safety.ModeratorNotes = append(e.run.Safety.ModeratorNotes, note)
	e.run.UpdatedAt = time.Now().UTC()
	return &note, nil
}

func (a *Archive) RecordDelegation(ctx context.Context, runID string, delegation models.Delegation) (*models.Delegation, error) {
	e, ok := a.entry(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.run.Delegations {
		if d.CallID == delegation.CallID {
			return nil, fmt.Errorf("delegation %s: %w", delegation.CallID, domain.ErrAlreadyExists)
		}
	}
	e.run.Delegations = append(e.run.Delegations, delegation)
	e.run.UpdatedAt = time.Now().UTC()
	out := delegation.Clone()
	return &out, nil
}

func (a *Archive) UpdateDelegation(ctx context.Context, runID, callID string, update responses.DelegationUpdate) (*models.Delegation, error) {
	e, ok := a.entry(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.run.Delegations {
		if e.run.Delegations[i].CallID == callID {
			d := &e.run.Delegations[i]
			d.Status = update.Status
			if update.Output != nil {
				d.Output = update.Output
			}
			if update.CompletedAt != nil {
				t := *update.CompletedAt
				d.CompletedAt = &t
			}
			e.run.UpdatedAt = time.Now().UTC()
			out := d.Clone()
			return &out, nil
		}
	}
	return nil, fmt.Errorf("delegation %s: %w", callID, domain.ErrNotFound)
}
