package handler

import (
	"github.com/gofiber/fiber/v2"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
	"meridian/internal/service/responses/delegation"
	"meridian/internal/service/responses/incident"
	"meridian/internal/service/responses/ops"
	"meridian/internal/service/responses/ratelimit"
)

// ResponsesHandler wires the admin HTTP surface onto the Run Coordinator
// and Operations Service; it holds no business logic of its own beyond
// request parsing and response shaping.
type ResponsesHandler struct {
	archive     responses.Archive
	coordinator responses.RunCoordinator
	ops         *ops.Service
	incidents   *incident.Log
	delegations *delegation.Tracker
	rateLimits  *ratelimit.Tracker
}

// NewResponsesHandler constructs the admin handler from its collaborators.
func NewResponsesHandler(
	archive responses.Archive,
	coordinator responses.RunCoordinator,
	operations *ops.Service,
	incidents *incident.Log,
	delegations *delegation.Tracker,
	rateLimits *ratelimit.Tracker,
) *ResponsesHandler {
	return &ResponsesHandler{
		archive:     archive,
		coordinator: coordinator,
		ops:         operations,
		incidents:   incidents,
		delegations: delegations,
		rateLimits:  rateLimits,
	}
}

// RegisterRoutes mounts the admin API under the given router group.
func (h *ResponsesHandler) RegisterRoutes(api fiber.Router) {
	runs := api.Group("/responses/runs")
	runs.Get("", h.ListRuns)
	runs.Get("/:id", h.GetRun)
	runs.Post("/:id/retry", h.RetryRun)
	runs.Post("/:id/rollback", h.RollbackRun)
	runs.Post("/:id/moderation-notes", h.AddModeratorNote)
	runs.Post("/:id/export", h.ExportRun)

	opsGroup := api.Group("/responses/ops")
	opsGroup.Get("/summary", h.Summary)
	opsGroup.Get("/incidents", h.ListIncidents)
	opsGroup.Post("/incidents/:id/resolve", h.ResolveIncident)
	opsGroup.Post("/prune", h.Prune)
}

// ListRuns handles GET /responses/runs.
func (h *ResponsesHandler) ListRuns(c *fiber.Ctx) error {
	runs, err := h.archive.ListRuns(c.Context())
	if err != nil {
		return handleError(c, err)
	}
	summaries := make([]models.RunSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, runs[i].Summarize())
	}
	return c.JSON(fiber.Map{"runs": summaries})
}

// runDetailResponse is the payload for GET /responses/runs/:id.
type runDetailResponse struct {
	Run              *models.Run               `json:"run"`
	Events           []models.Event            `json:"events"`
	BufferedMessages []models.BufferedMessage  `json:"bufferedMessages"`
	Reasoning        []models.ReasoningSummary `json:"reasoning"`
	Refusals         []string                  `json:"refusals"`
	OutputAudio      []models.AudioSegment     `json:"outputAudio"`
	OutputImages     []models.ImageResult      `json:"outputImages"`
	InputTranscripts []models.AudioSegment     `json:"inputTranscripts"`
	Delegations      []models.Delegation       `json:"delegations"`
	RateLimits       *models.TenantSummary     `json:"rateLimits,omitempty"`
	Incidents        []models.Incident         `json:"incidents"`
}

// GetRun handles GET /responses/runs/:id.
func (h *ResponsesHandler) GetRun(c *fiber.Ctx) error {
	runID := c.Params("id")

	run, err := h.coordinator.GetRun(c.Context(), runID)
	if err != nil {
		return handleError(c, err)
	}
	timeline, err := h.coordinator.GetTimeline(c.Context(), runID)
	if err != nil {
		return handleError(c, err)
	}

	resp := runDetailResponse{
		Run:         run,
		Events:      timeline.Events,
		Delegations: run.Delegations,
	}

	buffer, ok := h.coordinator.GetBuffer(runID)
	if !ok {
		// No live in-process state (the run finished and was evicted, or
		// this process never saw it start). Rebuild it from the archived
		// timeline/result so completed runs still expose their buffered
		// artifacts.
		if err := h.coordinator.ResyncFromArchive(c.Context(), runID); err == nil {
			buffer, ok = h.coordinator.GetBuffer(runID)
		}
	}
	if ok {
		resp.BufferedMessages = buffer.Messages()
		resp.Reasoning = buffer.ReasoningSummaries()
		resp.Refusals = buffer.Refusals()
		resp.OutputAudio = buffer.AudioSegments()
		resp.OutputImages = buffer.Images()
		resp.InputTranscripts = buffer.InputTranscripts()
	}

	if h.rateLimits != nil {
		if summary, ok := h.rateLimits.TenantSummary(run.Metadata["tenant_id"]); ok {
			resp.RateLimits = &summary
		}
	}

	if h.incidents != nil {
		all, err := h.incidents.List("")
		if err != nil {
			return handleError(c, err)
		}
		for _, inc := range all {
			if inc.RunID == runID {
				resp.Incidents = append(resp.Incidents, inc)
			}
		}
	}

	return c.JSON(resp)
}

type retryRunRequest struct {
	TenantID   string          `json:"tenantId"`
	Metadata   models.Metadata `json:"metadata"`
	Background bool            `json:"background"`
}

// RetryRun handles POST /responses/runs/:id/retry.
func (h *ResponsesHandler) RetryRun(c *fiber.Ctx) error {
	var body retryRunRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.ops.Retry(c.Context(), responses.RetryInput{
		RunID:      c.Params("id"),
		TenantID:   body.TenantID,
		Metadata:   body.Metadata,
		Background: body.Background,
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(result.Run.Summarize())
}

type rollbackRunRequest struct {
	Sequence   *int64 `json:"sequence"`
	ToolCallID string `json:"toolCallId"`
	Operator   string `json:"operator"`
	Reason     string `json:"reason"`
}

// RollbackRun handles POST /responses/runs/:id/rollback.
func (h *ResponsesHandler) RollbackRun(c *fiber.Ctx) error {
	var body rollbackRunRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	snapshot, err := h.ops.Rollback(c.Context(), responses.RollbackInput{
		RunID:      c.Params("id"),
		Sequence:   body.Sequence,
		ToolCallID: body.ToolCallID,
		Operator:   body.Operator,
		Reason:     body.Reason,
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(snapshot)
}

type moderatorNoteRequest struct {
	Reviewer    string `json:"reviewer"`
	Note        string `json:"note"`
	Disposition string `json:"disposition"`
}

// AddModeratorNote handles POST /responses/runs/:id/moderation-notes.
func (h *ResponsesHandler) AddModeratorNote(c *fiber.Ctx) error {
	var body moderatorNoteRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	note, err := h.ops.AddModeratorNote(c.Context(), c.Params("id"), models.ModeratorNote{
		Reviewer:    body.Reviewer,
		Note:        body.Note,
		Disposition: body.Disposition,
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(note)
}

// ExportRun handles POST /responses/runs/:id/export.
func (h *ResponsesHandler) ExportRun(c *fiber.Ctx) error {
	path, err := h.ops.Export(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"path": path})
}

// Summary handles GET /responses/ops/summary.
func (h *ResponsesHandler) Summary(c *fiber.Ctx) error {
	summary, err := h.ops.Summary(c.Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(summary)
}

// ListIncidents handles GET /responses/ops/incidents?status=open|resolved.
func (h *ResponsesHandler) ListIncidents(c *fiber.Ctx) error {
	status := c.Query("status")
	incidents, err := h.incidents.List(status)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"incidents": incidents})
}

type resolveIncidentRequest struct {
	ResolvedBy  string `json:"resolvedBy"`
	Notes       string `json:"notes"`
	Disposition string `json:"disposition"`
	LinkedRunID string `json:"linkedRunId"`
}

// ResolveIncident handles POST /responses/ops/incidents/:id/resolve.
func (h *ResponsesHandler) ResolveIncident(c *fiber.Ctx) error {
	var body resolveIncidentRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	resolved, err := h.incidents.ResolveIncident(c.Params("id"), models.ResolveIncidentInput{
		ResolvedBy:  body.ResolvedBy,
		Notes:       body.Notes,
		Disposition: body.Disposition,
		LinkedRunID: body.LinkedRunID,
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(resolved)
}

type pruneRequest struct {
	Days int `json:"days"`
}

// Prune handles POST /responses/ops/prune.
func (h *ResponsesHandler) Prune(c *fiber.Ctx) error {
	var body pruneRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	count, err := h.ops.Prune(c.Context(), body.Days)
	if err != nil {
		return handleError(c, err)
	}

	summary, err := h.ops.Summary(c.Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "pruned": count, "summary": summary})
}
