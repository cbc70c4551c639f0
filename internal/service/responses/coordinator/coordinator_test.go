package coordinator

import (
	"context"
	"encoding/json"
	"testing"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
	"meridian/internal/modelregistry"
	"meridian/internal/repository/memoryarchive"
	"meridian/internal/service/responses/conversation"
	"meridian/internal/service/responses/history"
	"meridian/internal/service/responses/provider"
	"meridian/internal/service/responses/tools"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	registry, err := modelregistry.New(modelregistry.ModelInfo{ContextWindowTokens: 8000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(Config{
		Archive:             memoryarchive.New(),
		HistoryPlanner:      history.New(),
		ConversationManager: conversation.New(conversation.NewMemoryStore()),
		ToolRegistry:        tools.New(),
		Provider:            provider.NewStub(),
		ModelRegistry:       registry,
		DefaultPolicy:       models.ConversationPolicy{Strategy: models.PolicyStateless},
		DefaultContextWindow: 8000,
		ToolConstraints:      ToolConstraints{MinToolCalls: 1, MaxToolCalls: 10},
	})
}

func TestStartRunCompletesSynchronousRun(t *testing.T) {
	c := newTestCoordinator(t)
	result, err := c.StartRun(context.Background(), responses.StartRunOptions{
		RunID:    "run_1",
		TenantID: "tenant-a",
		Request:  models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Run.RunID != "run_1" {
		t.Fatalf("expected run_1, got %q", result.Run.RunID)
	}

	run, err := c.GetRun(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != models.StatusCompleted {
		t.Fatalf("expected completed status after synchronous run, got %q", run.Status)
	}
}

func TestStartRunRejectsInvalidRequest(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.StartRun(context.Background(), responses.StartRunOptions{
		RunID:    "run_1",
		TenantID: "tenant-a",
		Request:  models.Request{Model: "", Input: json.RawMessage(`"hello"`)},
	})
	if err == nil {
		t.Fatal("expected an error for a request missing its model")
	}
}

func TestStartRunRejectsMaxToolCallsOutOfRange(t *testing.T) {
	c := newTestCoordinator(t)
	tooMany := 100
	_, err := c.StartRun(context.Background(), responses.StartRunOptions{
		RunID:        "run_1",
		TenantID:     "tenant-a",
		Request:      models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
		MaxToolCalls: &tooMany,
	})
	if err == nil {
		t.Fatal("expected an error for a maxToolCalls value outside the configured range")
	}
}

func TestStartRunBackgroundLeavesRunQueuedAndRegistersBuffer(t *testing.T) {
	c := newTestCoordinator(t)
	result, err := c.StartRun(context.Background(), responses.StartRunOptions{
		RunID:      "run_1",
		TenantID:   "tenant-a",
		Request:    models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
		Background: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Run.Status != models.StatusQueued {
		t.Fatalf("expected a background run to remain queued, got %q", result.Run.Status)
	}
	if _, ok := c.GetBuffer("run_1"); !ok {
		t.Fatal("expected a streaming buffer to be registered for the run")
	}
}

func TestHandleEventUnknownRunReturnsError(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.HandleEvent(context.Background(), models.Event{RunID: "missing", Type: "response.output_text.delta", Payload: json.RawMessage(`{"sequence_number":1}`)})
	if err == nil {
		t.Fatal("expected an error handling an event for an unregistered run")
	}
}

func TestHandleEventEvictsRunStateOnTerminalStatus(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.StartRun(context.Background(), responses.StartRunOptions{
		RunID:      "run_1",
		TenantID:   "tenant-a",
		Request:    models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
		Background: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := []byte(`{"sequence_number":1,"response":{"id":"resp_1","status":"completed","output":[]}}`)
	if err := c.HandleEvent(context.Background(), models.Event{RunID: "run_1", Type: "response.completed", Payload: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := c.GetBuffer("run_1"); ok {
		t.Fatal("expected the run's in-process state to be evicted after a terminal status")
	}
}

func TestResyncFromArchiveRebuildsBuffer(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.StartRun(context.Background(), responses.StartRunOptions{
		RunID:    "run_1",
		TenantID: "tenant-a",
		Request:  models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.ResyncFromArchive(context.Background(), "run_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.GetBuffer("run_1"); !ok {
		t.Fatal("expected ResyncFromArchive to register a streaming buffer")
	}
}

func TestGetBufferUnknownRun(t *testing.T) {
	c := newTestCoordinator(t)
	if _, ok := c.GetBuffer("nope"); ok {
		t.Fatal("expected no buffer for an unknown run")
	}
}
