package memoryarchive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

func startTestRun(t *testing.T, a *Archive, runID string) *models.Run {
	t.Helper()
	run, err := a.StartRun(context.Background(), responses.StartRunInput{
		RunID:    runID,
		Request:  models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
		Metadata: models.Metadata{"tenant_id": "tenant-a"},
	})
	if err != nil {
		t.Fatalf("unexpected error starting run: %v", err)
	}
	return run
}

func TestStartRunRejectsDuplicateRunID(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")
	_, err := a.StartRun(context.Background(), responses.StartRunInput{RunID: "run_1", Request: models.Request{Model: "m", Input: json.RawMessage(`"x"`)}})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRecordEventAssignsSequentialNumbers(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")

	first, err := a.RecordEvent(context.Background(), responses.RecordEventInput{RunID: "run_1", Type: "response.created", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Sequence != 1 {
		t.Fatalf("expected first sequence 1, got %d", first.Sequence)
	}

	second, err := a.RecordEvent(context.Background(), responses.RecordEventInput{RunID: "run_1", Type: "response.completed", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Sequence != 2 {
		t.Fatalf("expected second sequence 2, got %d", second.Sequence)
	}
}

func TestRecordEventRejectsStaleSequence(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")
	seq := int64(1)
	if _, err := a.RecordEvent(context.Background(), responses.RecordEventInput{RunID: "run_1", Sequence: &seq, Type: "response.created", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := a.RecordEvent(context.Background(), responses.RecordEventInput{RunID: "run_1", Sequence: &seq, Type: "response.created", Payload: []byte(`{}`)})
	if !errors.Is(err, domain.ErrSequenceAlreadyRecorded) {
		t.Fatalf("expected ErrSequenceAlreadyRecorded, got %v", err)
	}
}

func TestRecordEventUnknownRun(t *testing.T) {
	a := New()
	_, err := a.RecordEvent(context.Background(), responses.RecordEventInput{RunID: "missing", Type: "response.created", Payload: []byte(`{}`)})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRunReturnsAClone(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")
	run, err := a.GetRun(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run.Metadata["tenant_id"] = "mutated"

	again, err := a.GetRun(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Metadata["tenant_id"] != "tenant-a" {
		t.Fatal("expected GetRun to return an independent clone, mutation leaked into the archive")
	}
}

func TestRollbackTruncatesEventsAndProjectsStatus(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")
	for _, evType := range []string{"response.created", "response.in_progress", "response.completed"} {
		if _, err := a.RecordEvent(context.Background(), responses.RecordEventInput{RunID: "run_1", Type: evType, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("unexpected error recording %s: %v", evType, err)
		}
	}

	seq := int64(2)
	snapshot, err := a.Rollback(context.Background(), "run_1", responses.RollbackInput{Sequence: &seq, Operator: "operator-1", Reason: "bad output"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.ProjectedStatus != models.StatusInProgress {
		t.Fatalf("expected projected status in_progress after truncating before completion, got %q", snapshot.ProjectedStatus)
	}

	timeline, err := a.GetTimeline(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(timeline.Events) != 3 {
		t.Fatalf("expected 2 kept events plus 1 rollback marker, got %d", len(timeline.Events))
	}
	if timeline.Events[len(timeline.Events)-1].Type != "responses.rollback" {
		t.Fatalf("expected last event to be a rollback marker, got %q", timeline.Events[len(timeline.Events)-1].Type)
	}
}

func TestRollbackRequiresSequenceOrToolCallID(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")
	_, err := a.Rollback(context.Background(), "run_1", responses.RollbackInput{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRecordDelegationRejectsDuplicateCallID(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")
	delegation := models.Delegation{CallID: "call_1", ToolName: "lookup_order", Status: "pending"}
	if _, err := a.RecordDelegation(context.Background(), "run_1", delegation); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := a.RecordDelegation(context.Background(), "run_1", delegation)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdateDelegationUnknownCallID(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")
	_, err := a.UpdateDelegation(context.Background(), "run_1", "missing", responses.DelegationUpdate{Status: "completed"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneOlderThanRemovesStaleRuns(t *testing.T) {
	a := New()
	startTestRun(t, a, "run_1")
	removed, err := a.PruneOlderThan(context.Background(), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 run pruned, got %d", removed)
	}
	if _, err := a.GetRun(context.Background(), "run_1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected pruned run to be gone, got err=%v", err)
	}
}
