// Package incident implements the Incident Log: a file-backed JSON array
// of incident records with dedup-merge-into-open-incident semantics,
// using a write-to-temp-then-rename pattern for durable single-file
// state.
package incident

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
)

// Log is the file-backed Incident Log. Reads and writes are serialized
// behind a single mutex; callers must tolerate the log occasionally
// lagging live-memory views under concurrent access.
type Log struct {
	mu   sync.Mutex
	path string
}

// New constructs an incident log persisted at path (typically
// baseDir/incidents.json).
func New(path string) *Log {
	return &Log{path: path}
}

func (l *Log) load() ([]models.Incident, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.Incident{}, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	var incidents []models.Incident
	if err := json.Unmarshal(data, &incidents); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return incidents, nil
}

func (l *Log) save(incidents []models.Incident) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	data, err := json.MarshalIndent(incidents, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", domain.ErrIOFailure, err)
	}
	return nil
}

// RecordIncident opens a new incident for input.RunID, unless an open
// incident already exists for that run, in which case previously-missing
// metadata fields are merged into it instead.
func (l *Log) RecordIncident(input models.RecordIncidentInput) (*models.Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	incidents, err := l.load()
	if err != nil {
		return nil, err
	}

	for i := range incidents {
		inc := &incidents[i]
		if inc.RunID == input.RunID && inc.Status == models.IncidentOpen {
			mergeMetadata(inc, input)
			if err := l.save(incidents); err != nil {
				return nil, err
			}
			out := *inc
			return &out, nil
		}
	}

	incident := models.Incident{
		ID:         uuid.NewString(),
		RunID:      input.RunID,
		Status:     models.IncidentOpen,
		Type:       input.Type,
		Sequence:   input.Sequence,
		OccurredAt: input.OccurredAt,
		TenantID:   input.TenantID,
		Model:      input.Model,
		RequestID:  input.RequestID,
		TraceID:    input.TraceID,
		Reason:     input.Reason,
	}
	incidents = append(incidents, incident)
	if err := l.save(incidents); err != nil {
		return nil, err
	}
	return &incident, nil
}

func mergeMetadata(inc *models.Incident, input models.RecordIncidentInput) {
	if inc.TenantID == "" {
		inc.TenantID = input.TenantID
	}
	if inc.Model == "" {
		inc.Model = input.Model
	}
	if inc.RequestID == "" {
		inc.RequestID = input.RequestID
	}
	if inc.TraceID == "" {
		inc.TraceID = input.TraceID
	}
	if inc.Reason == "" {
		inc.Reason = input.Reason
	}
}

// ResolveIncident flips status to resolved and stamps resolvedAt.
// Resolving an already-resolved incident is a no-op.
func (l *Log) ResolveIncident(id string, input models.ResolveIncidentInput) (*models.Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	incidents, err := l.load()
	if err != nil {
		return nil, err
	}
	for i := range incidents {
		if incidents[i].ID == id {
			if incidents[i].Status == models.IncidentResolved {
				out := incidents[i]
				return &out, nil
			}
			resolve(&incidents[i], input)
			if err := l.save(incidents); err != nil {
				return nil, err
			}
			out := incidents[i]
			return &out, nil
		}
	}
	return nil, fmt.Errorf("incident %s: %w", id, domain.ErrNotFound)
}

// ResolveIncidentsByRun resolves every open incident for runID, used by
// Retry.
func (l *Log) ResolveIncidentsByRun(runID string, input models.ResolveIncidentInput) ([]models.Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	incidents, err := l.load()
	if err != nil {
		return nil, err
	}
	var resolved []models.Incident
	changed := false
	for i := range incidents {
		if incidents[i].RunID == runID && incidents[i].Status == models.IncidentOpen {
			resolve(&incidents[i], input)
			resolved = append(resolved, incidents[i])
			changed = true
		}
	}
	if changed {
		if err := l.save(incidents); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func resolve(inc *models.Incident, input models.ResolveIncidentInput) {
	inc.Status = models.IncidentResolved
	inc.Resolution = &models.Resolution{
		ResolvedAt:  time.Now().UTC(),
		ResolvedBy:  input.ResolvedBy,
		Notes:       input.Notes,
		Disposition: input.Disposition,
		LinkedRunID: input.LinkedRunID,
	}
}

// List returns incidents, optionally filtered by status ("" = all).
func (l *Log) List(status string) ([]models.Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	incidents, err := l.load()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return incidents, nil
	}
	out := incidents[:0]
	for _, inc := range incidents {
		if inc.Status == status {
			out = append(out, inc)
		}
	}
	return out, nil
}

// Open returns all currently open incidents.
func (l *Log) Open() ([]models.Incident, error) {
	return l.List(models.IncidentOpen)
}
