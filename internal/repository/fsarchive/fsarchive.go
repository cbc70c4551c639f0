// Package fsarchive is the filesystem-backed Archive implementation: each
// run occupies baseDir/<runId>/ with run.json and events.json. Reads
// tolerate a run directory that does not exist yet (ENOENT), and writes
// create parent directories lazily and land via write-to-temp-then-rename
// so a reader never observes a partially written file.
package fsarchive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

// Archive is the filesystem-backed responses.Archive. It additionally
// implements Prunable, Exportable, Rollbackable, SafetyAware,
// DelegationAware, and ModerationAware.
type Archive struct {
	baseDir      string
	coldStoreDir string
	exportDir    string

	mu    sync.Mutex // guards the per-run lock map itself
	locks map[string]*sync.Mutex
}

// Config configures a filesystem Archive.
type Config struct {
	BaseDir      string
	ColdStoreDir string
	ExportDir    string
}

// New constructs a filesystem-backed archive rooted at cfg.BaseDir.
func New(cfg Config) *Archive {
	return &Archive{
		baseDir:      cfg.BaseDir,
		coldStoreDir: cfg.ColdStoreDir,
		exportDir:    cfg.ExportDir,
		locks:        make(map[string]*sync.Mutex),
	}
}

var _ responses.Archive = (*Archive)(nil)
var _ responses.Rollbackable = (*Archive)(nil)
var _ responses.SafetyAware = (*Archive)(nil)
var _ responses.DelegationAware = (*Archive)(nil)
var _ responses.ModerationAware = (*Archive)(nil)
var _ responses.Prunable = (*Archive)(nil)
var _ responses.Exportable = (*Archive)(nil)

func (a *Archive) runLock(runID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[runID] = l
	}
	return l
}

func (a *Archive) runDir(runID string) string {
	return filepath.Join(a.baseDir, runID)
}

func (a *Archive) runFilePath(runID string) string {
	return filepath.Join(a.runDir(runID), "run.json")
}

func (a *Archive) eventsFilePath(runID string) string {
	return filepath.Join(a.runDir(runID), "events.json")
}

// onDiskRun is run.json's shape: timestamps as RFC3339-milli strings.
type onDiskRun struct {
	RunID          string            `json:"run_id"`
	Request        models.Request    `json:"request"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       models.Metadata   `json:"metadata,omitempty"`
	Status         string            `json:"status"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	TraceID        string            `json:"trace_id,omitempty"`
	Result         *models.Result    `json:"result,omitempty"`
	Safety         *models.Safety    `json:"safety,omitempty"`
	Delegations    []models.Delegation `json:"delegations,omitempty"`
}

func toOnDisk(r *models.Run) onDiskRun {
	return onDiskRun{
		RunID:          r.RunID,
		Request:        r.Request,
		ConversationID: r.ConversationID,
		Metadata:       r.Metadata,
		Status:         r.Status,
		CreatedAt:      models.FormatTime(r.CreatedAt),
		UpdatedAt:      models.FormatTime(r.UpdatedAt),
		TraceID:        r.TraceID,
		Result:         r.Result,
		Safety:         r.Safety,
		Delegations:    r.Delegations,
	}
}

func fromOnDisk(d onDiskRun) (*models.Run, error) {
	created, err := models.ParseTime(d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updated, err := models.ParseTime(d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &models.Run{
		RunID:          d.RunID,
		Request:        d.Request,
		ConversationID: d.ConversationID,
		Metadata:       d.Metadata,
		Status:         d.Status,
		CreatedAt:      created,
		UpdatedAt:      updated,
		TraceID:        d.TraceID,
		Result:         d.Result,
		Safety:         d.Safety,
		Delegations:    d.Delegations,
	}, nil
}

// onDiskEvent is events.json's per-element shape.
type onDiskEvent struct {
	Sequence   int64           `json:"sequence"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt string          `json:"occurred_at"`
}

func eventsToOnDisk(events []models.Event) []onDiskEvent {
	out := make([]onDiskEvent, len(events))
	for i, e := range events {
		out[i] = onDiskEvent{Sequence: e.Sequence, Type: e.Type, Payload: e.Payload, OccurredAt: models.FormatTime(e.OccurredAt)}
	}
	return out
}

func eventsFromOnDisk(runID string, in []onDiskEvent) ([]models.Event, error) {
	out := make([]models.Event, len(in))
	for i, d := range in {
		occurred, err := models.ParseTime(d.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		out[i] = models.Event{RunID: runID, Sequence: d.Sequence, Type: d.Type, Payload: d.Payload, OccurredAt: occurred}
	}
	return out, nil
}

// writeJSONAtomic writes data to path via a sibling temp file, then renames
// it into place so readers never see a partial write.
func writeJSONAtomic(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return true, nil
}

func (a *Archive) loadRun(runID string) (*models.Run, error) {
	var d onDiskRun
	ok, err := readJSON(a.runFilePath(runID), &d)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrIOFailure)
	}
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return fromOnDisk(d)
}

func (a *Archive) loadEvents(runID string) ([]models.Event, error) {
	var d []onDiskEvent
	ok, err := readJSON(a.eventsFilePath(runID), &d)
	if err != nil {
		return nil, fmt.Errorf("events %s: %w", runID, domain.ErrIOFailure)
	}
	if !ok {
		return []models.Event{}, nil
	}
	return eventsFromOnDisk(runID, d)
}

func (a *Archive) saveRun(r *models.Run) error {
	if err := writeJSONAtomic(a.runFilePath(r.RunID), toOnDisk(r)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return nil
}

func (a *Archive) saveEvents(runID string, events []models.Event) error {
	if err := writeJSONAtomic(a.eventsFilePath(runID), eventsToOnDisk(events)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return nil
}

func (a *Archive) StartRun(ctx context.Context, input responses.StartRunInput) (*models.Run, error) {
	lock := a.runLock(input.RunID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(a.runFilePath(input.RunID)); err == nil {
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
	if err := a.saveRun(run); err != nil {
		return nil, err
	}
	if err := a.saveEvents(input.RunID, nil); err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

func (a *Archive) RecordEvent(ctx context.Context, input responses.RecordEventInput) (*models.Event, error) {
	lock := a.runLock(input.RunID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := a.loadRun(input.RunID); err != nil {
		return nil, err
	}
	events, err := a.loadEvents(input.RunID)
	if err != nil {
		return nil, err
	}

	last := int64(0)
	if n := len(events); n > 0 {
		last = events[n-1].Sequence
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
	event := models.Event{RunID: input.RunID, Sequence: seq, Type: input.Type, Payload: input.Payload, OccurredAt: occurred}
	events = append(events, event)
	if err := a.saveEvents(input.RunID, events); err != nil {
		return nil, err
	}
	out := event.Clone()
	return &out, nil
}

func (a *Archive) UpdateStatus(ctx context.Context, input responses.UpdateStatusInput) (*models.Run, error) {
	lock := a.runLock(input.RunID)
	lock.Lock()
	defer lock.Unlock()

	run, err := a.loadRun(input.RunID)
	if err != nil {
		return nil, err
	}
	run.Status = input.Status
	run.UpdatedAt = time.Now().UTC()
	if input.Result != nil {
		result := *input.Result
		run.Result = &result
	}
	if err := a.saveRun(run); err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

func (a *Archive) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()
	run, err := a.loadRun(runID)
	if err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

func (a *Archive) GetTimeline(ctx context.Context, runID string) (*models.Timeline, error) {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()
	if _, err := a.loadRun(runID); err != nil {
		return nil, err
	}
	events, err := a.loadEvents(runID)
	if err != nil {
		return nil, err
	}
	return &models.Timeline{RunID: runID, Events: events}, nil
}

func (a *Archive) ListRuns(ctx context.Context) ([]models.Run, error) {
	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.Run{}, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	out := make([]models.Run, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := a.GetRun(ctx, entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (a *Archive) DeleteRun(ctx context.Context, runID string) error {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()
	if _, err := a.loadRun(runID); err != nil {
		return err
	}
	if err := os.RemoveAll(a.runDir(runID)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return nil
}

func (a *Archive) SnapshotAt(ctx context.Context, runID string, sequence int64) (*models.TimelineSnapshot, error) {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()
	if _, err := a.loadRun(runID); err != nil {
		return nil, err
	}
	events, err := a.loadEvents(runID)
	if err != nil {
		return nil, err
	}
	return snapshot(runID, events, sequence), nil
}

func snapshot(runID string, events []models.Event, sequence int64) *models.TimelineSnapshot {
	kept := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.Sequence <= sequence {
			kept = append(kept, ev)
		}
	}
	return &models.TimelineSnapshot{Timeline: models.Timeline{RunID: runID, Events: kept}, ProjectedStatus: projectStatus(kept)}
}

func projectStatus(events []models.Event) string {
	status := models.StatusInProgress
	for _, ev := range events {
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
	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		run, err := a.GetRun(ctx, runID)
		if err != nil {
			continue
		}
		if !run.UpdatedAt.Before(cutoff) {
			continue
		}
		lock := a.runLock(runID)
		lock.Lock()
		if a.coldStoreDir != "" {
			dest := filepath.Join(a.coldStoreDir, runID)
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err == nil {
				_ = os.Rename(a.runDir(runID), dest)
			}
		} else {
			_ = os.RemoveAll(a.runDir(runID))
		}
		lock.Unlock()
		removed++
	}
	return removed, nil
}

func (a *Archive) ExportRun(ctx context.Context, runID string) (string, error) {
	lock := a.runLock(runID)
	lock.Lock()
	run, err := a.loadRun(runID)
	if err != nil {
		lock.Unlock()
		return "", err
	}
	events, err := a.loadEvents(runID)
	lock.Unlock()
	if err != nil {
		return "", err
	}

	doc := struct {
		Run    onDiskRun     `json:"run"`
		Events []onDiskEvent `json:"events"`
	}{Run: toOnDisk(run), Events: eventsToOnDisk(events)}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}

	if err := os.MkdirAll(a.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	dest := filepath.Join(a.exportDir, runID+".json.gz")
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, gz.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return dest, nil
}

func (a *Archive) Rollback(ctx context.Context, runID string, input responses.RollbackInput) (*models.TimelineSnapshot, error) {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := a.loadRun(runID)
	if err != nil {
		return nil, err
	}
	events, err := a.loadEvents(runID)
	if err != nil {
		return nil, err
	}

	target, err := resolveRollbackTarget(events, input)
	if err != nil {
		return nil, err
	}

	kept := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.Sequence <= target {
			kept = append(kept, ev)
		}
	}
	status := projectStatus(kept)
	marker := models.Event{
		RunID:      runID,
		Sequence:   target + 1,
		Type:       "responses.rollback",
		Payload:    rollbackMarkerPayload(input.Operator, input.Reason),
		OccurredAt: time.Now().UTC(),
	}
	kept = append(kept, marker)

	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	if !models.IsTerminal(status) {
		run.Result = nil
	}

	if err := a.saveEvents(runID, kept); err != nil {
		return nil, err
	}
	if err := a.saveRun(run); err != nil {
		return nil, err
	}

	return &models.TimelineSnapshot{Timeline: models.Timeline{RunID: runID, Events: kept}, ProjectedStatus: status}, nil
}

func (a *Archive) UpdateSafety(ctx context.Context, runID string, input responses.UpdateSafetyInput) (*models.Safety, error) {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := a.loadRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Safety == nil {
		run.Safety = &models.Safety{}
	}
	run.Safety.RefusalCount += input.RefusalDelta
	if input.LastRefusalAt != nil {
		t := *input.LastRefusalAt
		run.Safety.LastRefusalAt = &t
	}
	run.UpdatedAt = time.Now().UTC()
	if err := a.saveRun(run); err != nil {
		return nil, err
	}
	return run.Safety.Clone(), nil
}

func (a *Archive) AddModeratorNote(ctx context.Context, runID string, note models.ModeratorNote) (*models.ModeratorNote, error) {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := a.loadRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Safety == nil {
		run.Safety = &models.Safety{}
	}
	run.Safety.ModeratorNotes = append(run.Safety.ModeratorNotes, note)
	run.UpdatedAt = time.Now().UTC()
	if err := a.saveRun(run); err != nil {
		return nil, err
	}
	return &note, nil
}

func (a *Archive) RecordDelegation(ctx context.Context, runID string, delegation models.Delegation) (*models.Delegation, error) {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := a.loadRun(runID)
	if err != nil {
		return nil, err
	}
	for _, d := range run.Delegations {
		if d.CallID == delegation.CallID {
			return nil, fmt.Errorf("delegation %s: %w", delegation.CallID, domain.ErrAlreadyExists)
		}
	}
	run.Delegations = append(run.Delegations, delegation)
	run.UpdatedAt = time.Now().UTC()
	if err := a.saveRun(run); err != nil {
		return nil, err
	}
	out := delegation.Clone()
	return &out, nil
}

func (a *Archive) UpdateDelegation(ctx context.Context, runID, callID string, update responses.DelegationUpdate) (*models.Delegation, error) {
	lock := a.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := a.loadRun(runID)
	if err != nil {
		return nil, err
	}
	for i := range run.Delegations {
		if run.Delegations[i].CallID == callID {
			d := &run.Delegations[i]
			d.Status = update.Status
			if update.Output != nil {
				d.Output = update.Output
			}
			if update.CompletedAt != nil {
				t := *update.CompletedAt
				d.CompletedAt = &t
			}
			run.UpdatedAt = time.Now().UTC()
			if err := a.saveRun(run); err != nil {
				return nil, err
			}
			out := d.Clone()
			return &out, nil
		}
	}
	return nil, fmt.Errorf("delegation %s: %w", callID, domain.ErrNotFound)
}
