package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
	"meridian/internal/repository/memoryarchive"
)

func newTestArchive(t *testing.T, runID string) *memoryarchive.Archive {
	t.Helper()
	archive := memoryarchive.New()
	_, err := archive.StartRun(context.Background(), responses.StartRunInput{
		RunID:   runID,
		Request: models.Request{Model: "claude-3", Input: json.RawMessage(`"hi"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error starting run: %v", err)
	}
	return archive
}

func TestHandleEventRecordsAndProjectsStatus(t *testing.T) {
	archive := newTestArchive(t, "run_1")
	router := New("run_1", archive, 0)

	event, err := router.HandleEvent(context.Background(), RawEvent{
		Type:    "response.created",
		Payload: []byte(`{"sequence_number":1}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", event.Sequence)
	}

	run, err := archive.GetRun(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != models.StatusInProgress {
		t.Fatalf("expected status in_progress, got %q", run.Status)
	}
}

func TestHandleEventRejectsStaleSequence(t *testing.T) {
	archive := newTestArchive(t, "run_1")
	router := New("run_1", archive, 5)

	_, err := router.HandleEvent(context.Background(), RawEvent{
		Type:    "response.created",
		Payload: []byte(`{"sequence_number":3}`),
	})
	if !errors.Is(err, domain.ErrStaleSequence) {
		t.Fatalf("expected ErrStaleSequence, got %v", err)
	}
}

func TestHandleEventRejectsAlreadyRecordedSequence(t *testing.T) {
	archive := newTestArchive(t, "run_1")
	router := New("run_1", archive, 5)

	_, err := router.HandleEvent(context.Background(), RawEvent{
		Type:    "response.created",
		Payload: []byte(`{"sequence_number":5}`),
	})
	if !errors.Is(err, domain.ErrSequenceAlreadyRecorded) {
		t.Fatalf("expected ErrSequenceAlreadyRecorded, got %v", err)
	}
}

func TestHandleEventRejectsMissingSequence(t *testing.T) {
	archive := newTestArchive(t, "run_1")
	router := New("run_1", archive, 0)

	_, err := router.HandleEvent(context.Background(), RawEvent{Type: "response.created", Payload: []byte(`{}`)})
	if !errors.Is(err, domain.ErrInvalidSequence) {
		t.Fatalf("expected ErrInvalidSequence, got %v", err)
	}
}

func TestHandleEventRejectsNonPositiveSequence(t *testing.T) {
	archive := newTestArchive(t, "run_1")
	router := New("run_1", archive, 0)

	_, err := router.HandleEvent(context.Background(), RawEvent{Type: "response.created", Payload: []byte(`{"sequence_number":0}`)})
	if !errors.Is(err, domain.ErrInvalidSequence) {
		t.Fatalf("expected ErrInvalidSequence, got %v", err)
	}
}

func TestHandleEventCapturesTerminalResult(t *testing.T) {
	archive := newTestArchive(t, "run_1")
	router := New("run_1", archive, 0)

	payload := []byte(`{"sequence_number":1,"response":{"id":"resp_1","status":"completed","usage":{"total_tokens":42}}}`)
	if _, err := router.HandleEvent(context.Background(), RawEvent{Type: "response.completed", Payload: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run, err := archive.GetRun(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != models.StatusCompleted {
		t.Fatalf("expected status completed, got %q", run.Status)
	}
	if run.Result == nil || run.Result.Usage == nil || run.Result.Usage.TotalTokens != 42 {
		t.Fatalf("expected usage to be captured from the terminal event, got %+v", run.Result)
	}
}

func TestLastSequenceAdvances(t *testing.T) {
	archive := newTestArchive(t, "run_1")
	router := New("run_1", archive, 0)

	if _, err := router.HandleEvent(context.Background(), RawEvent{Type: "response.created", Payload: []byte(`{"sequence_number":1}`)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if router.LastSequence() != 1 {
		t.Fatalf("expected last sequence 1, got %d", router.LastSequence())
	}
}
