package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
	modelregistry "meridian/internal/modelregistry"
	"meridian/internal/repository/memoryarchive"
	"meridian/internal/service/responses/conversation"
	"meridian/internal/service/responses/coordinator"
	"meridian/internal/service/responses/delegation"
	"meridian/internal/service/responses/history"
	"meridian/internal/service/responses/incident"
	"meridian/internal/service/responses/ops"
	"meridian/internal/service/responses/provider"
	"meridian/internal/service/responses/ratelimit"
	"meridian/internal/service/responses/tools"
)

func newTestHandler(t *testing.T) (*ResponsesHandler, *memoryarchive.Archive, *coordinator.Coordinator) {
	t.Helper()
	archive := memoryarchive.New()
	registry, err := modelregistry.New(modelregistry.ModelInfo{ContextWindowTokens: 8000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coord := coordinator.New(coordinator.Config{
		Archive:              archive,
		HistoryPlanner:       history.New(),
		ConversationManager:  conversation.New(conversation.NewMemoryStore()),
		ToolRegistry:         tools.New(),
		Provider:             provider.NewStub(),
		ModelRegistry:        registry,
		DefaultPolicy:        models.ConversationPolicy{Strategy: models.PolicyStateless},
		DefaultContextWindow: 8000,
		ToolConstraints:      coordinator.ToolConstraints{MinToolCalls: 1, MaxToolCalls: 10},
	})
	incidentLog := incident.New(t.TempDir() + "/incidents.json")
	opsSvc := ops.New(ops.Config{Archive: archive, Coordinator: coord, IncidentLog: incidentLog, DefaultCostPer1KTokens: 0.002})
	delegationTracker := delegation.New(archive)
	rateLimits := ratelimit.New()

	h := NewResponsesHandler(archive, coord, opsSvc, incidentLog, delegationTracker, rateLimits)
	return h, archive, coord
}

func newTestFiberApp(h *ResponsesHandler) *fiber.App {
	app := fiber.New()
	h.RegisterRoutes(app.Group("/api"))
	return app
}

func TestListRunsEmpty(t *testing.T) {
	h, _, _ := newTestHandler(t)
	app := newTestFiberApp(h)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/responses/runs", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Runs []models.RunSummary `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body.Runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(body.Runs))
	}
}

func TestGetRunReturnsBufferedOutput(t *testing.T) {
	h, _, coord := newTestHandler(t)
	app := newTestFiberApp(h)

	_, err := coord.StartRun(context.Background(), responses.StartRunOptions{
		RunID:    "run_1",
		TenantID: "tenant-a",
		Request:  models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/responses/runs/run_1", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body runDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Run == nil || body.Run.RunID != "run_1" {
		t.Fatalf("expected run_1 in response, got %+v", body.Run)
	}
	if len(body.BufferedMessages) != 1 {
		t.Fatalf("expected 1 buffered message, got %d: %+v", len(body.BufferedMessages), body.BufferedMessages)
	}
	if body.BufferedMessages[0].Text != "stub response for model claude-3" {
		t.Fatalf("expected stub reply text, got %q", body.BufferedMessages[0].Text)
	}
}

// TestGetRunRebuildsBufferAfterEviction exercises the resync-on-miss path:
// a completed run's in-process state is evicted once handleEvent records
// its terminal status, so GetRun must rebuild the buffer from the archive
// rather than return it empty.
func TestGetRunRebuildsBufferAfterEviction(t *testing.T) {
	h, _, coord := newTestHandler(t)
	app := newTestFiberApp(h)

	_, err := coord.StartRun(context.Background(), responses.StartRunOptions{
		RunID:    "run_2",
		TenantID: "tenant-a",
		Request:  models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := coord.GetBuffer("run_2"); ok {
		t.Fatal("expected the completed run's in-process buffer to already be evicted")
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/responses/runs/run_2", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body runDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body.BufferedMessages) != 1 {
		t.Fatalf("expected resync to rebuild 1 buffered message, got %d", len(body.BufferedMessages))
	}
}

func TestGetRunUnknownReturns404(t *testing.T) {
	h, _, _ := newTestHandler(t)
	app := newTestFiberApp(h)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/responses/runs/missing", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSummaryEndpointReturnsEmptySummary(t *testing.T) {
	h, _, _ := newTestHandler(t)
	app := newTestFiberApp(h)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/responses/ops/summary", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestPruneEndpointRejectsNonPositiveDays(t *testing.T) {
	h, _, _ := newTestHandler(t)
	app := newTestFiberApp(h)

	req := httptest.NewRequest(http.MethodPost, "/api/responses/ops/prune", strings.NewReader(`{"days":0}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRollbackEndpointRejectsMissingSelector(t *testing.T) {
	h, _, coord := newTestHandler(t)
	app := newTestFiberApp(h)

	_, err := coord.StartRun(context.Background(), responses.StartRunOptions{
		RunID:    "run_1",
		TenantID: "tenant-a",
		Request:  models.Request{Model: "claude-3", Input: json.RawMessage(`"hello"`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/responses/runs/run_1/rollback", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for a rollback with neither sequence nor tool call id, got %d", resp.StatusCode)
	}
}
