// Package coordinator implements the Run Coordinator: the top-level
// orchestrator binding the History Planner, Conversation State Manager,
// Tool Registry, Archive, Event Router, Streaming Buffer, and the
// safety/incident/delegation hooks into one StartRun/HandleEvent surface.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
	"meridian/internal/modelregistry"
	"meridian/internal/service/responses/delegation"
	"meridian/internal/service/responses/incident"
	"meridian/internal/service/responses/ratelimit"
	"meridian/internal/service/responses/router"
	"meridian/internal/service/responses/streaming"
)

// ToolConstraints bounds the options.MaxToolCalls range StartRun's
// validation enforces.
type ToolConstraints struct {
	MinToolCalls int
	MaxToolCalls int
}

// Config bundles the Coordinator's fixed collaborators and tunables.
type Config struct {
	Archive               responses.Archive
	HistoryPlanner        responses.HistoryPlanner
	ConversationManager   responses.ConversationStateManager
	ToolRegistry          responses.ToolRegistry
	Provider              responses.ProviderClient
	RateLimitTracker      RateLimitCapturer
	// RateLimiter, when set, is consulted before each synchronous
	// provider call; a tenant over its proactive budget is rejected
	// without reaching the provider at all.
	RateLimiter           *ratelimit.Limiter
	IncidentLog           *incident.Log
	DelegationTracker     *delegation.Tracker
	ModelRegistry         *modelregistry.Registry
	DefaultPolicy         models.ConversationPolicy
	DefaultContextWindow  int
	ToolConstraints       ToolConstraints
}

// RateLimitCapturer is the subset of ratelimit.Tracker the coordinator
// needs to capture rate-limit headers after a synchronous Create call.
type RateLimitCapturer interface {
	Capture(headers models.Headers, tenantID string) models.RateLimitSnapshot
}

type runState struct {
	mu     sync.Mutex
	router *router.Router
	buffer *streaming.Buffer
	span   *span
}

// Coordinator is the default RunCoordinator implementation.
type Coordinator struct {
	cfg Config

	runsMu sync.Mutex
	runs   map[string]*runState
}

// New constructs a Coordinator from cfg.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg, runs: make(map[string]*runState)}
}

var _ responses.RunCoordinator = (*Coordinator)(nil)

// StartRun plans history, resolves conversation state, builds the tool
// payload, validates the assembled request, opens the run in the archive,
// and — for a foreground call — invokes the provider and folds its result
// back through handleEvent before returning.
func (c *Coordinator) StartRun(ctx context.Context, opts responses.StartRunOptions) (*responses.StartRunResult, error) {
	policy := opts.Policy
	var historyPlan *models.HistoryPlan

	// Step 1: history plan, possibly forcing vendor policy.
	if opts.History != nil {
		modelInfo := c.cfg.ModelRegistry.Get(opts.Request.Model)
		input := *opts.History
		if input.ContextWindowTokens == 0 {
			input.ContextWindowTokens = modelInfo.ContextWindowTokens
			if input.ContextWindowTokens == 0 {
				input.ContextWindowTokens = c.cfg.DefaultContextWindow
			}
		}
		plan := c.cfg.HistoryPlanner.Plan(input)
		historyPlan = &plan
		if plan.Strategy == models.HistoryVendor && opts.Policy == nil {
			policy = &models.ConversationPolicy{Strategy: models.PolicyVendor, TTLSeconds: c.cfg.DefaultPolicy.TTLSeconds}
		}
	}
	if policy == nil {
		policy = &c.cfg.DefaultPolicy
	}

	// Step 2: conversation state.
	convCtx, err := c.cfg.ConversationManager.Resolve(ctx, models.ConversationContextInput{
		TenantID:               opts.TenantID,
		RunID:                  opts.RunID,
		ExistingConversationID: opts.ExistingConversationID,
		PreviousResponseID:     opts.PreviousResponseID,
		Policy:                 *policy,
	})
	if err != nil {
		return nil, err
	}

	// Step 3: merge metadata and speech metadata.
	metadata := make(models.Metadata)
	for k, v := range opts.Request.Metadata {
		metadata[k] = v
	}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	if opts.Speech != nil {
		applySpeechMetadata(metadata, opts.Speech)
	}

	req := opts.Request
	req.Metadata = metadata
	req.Conversation = convCtx.Conversation
	req.Store = convCtx.StoreFlag
	req.PreviousResponseID = convCtx.PreviousResponseID
	if opts.MaxToolCalls != nil {
		req.MaxToolCalls = opts.MaxToolCalls
	}
	req.ToolChoice = opts.ToolChoice
	if opts.Safety != nil && opts.Safety.HashedIdentifier != "" {
		req.SafetyIdentifier = opts.Safety.HashedIdentifier
	}

	// Step 4: tool payload + constraint validation.
	tools, err := c.cfg.ToolRegistry.BuildToolPayload(opts.Tools)
	if err != nil {
		return nil, err
	}
	req.Tools = tools
	if err := c.validateToolConstraints(opts, tools); err != nil {
		return nil, err
	}

	// Step 5: validate the assembled request.
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}

	// Step 6: start the trace span.
	runSpan := newSpan(opts.RunID, opts.TenantID, req.Model, convCtx.StoreFlag, convCtx.Conversation)
	traceID := uuid.NewString()

	// Step 7: open the run in the archive.
	run, err := c.cfg.Archive.StartRun(ctx, responses.StartRunInput{
		RunID:          opts.RunID,
		Request:        req,
		ConversationID: convCtx.Conversation,
		Metadata:       metadata,
		TraceID:        traceID,
		Safety:         opts.Safety,
	})
	if err != nil {
		return nil, err
	}

	// Step 8: register router + buffer.
	state := &runState{
		router: router.New(opts.RunID, c.cfg.Archive, 0),
		buffer: streaming.New(),
		span:   runSpan,
	}
	c.runsMu.Lock()
	c.runs[opts.RunID] = state
	c.runsMu.Unlock()

	// Step 9: synchronous (non-background) provider call.
	if !opts.Background {
		if c.cfg.RateLimiter != nil && !c.cfg.RateLimiter.Allow(opts.TenantID) {
			return nil, fmt.Errorf("tenant %s: %w", opts.TenantID, domain.ErrUpstreamFailure)
		}

		result, headers, err := c.cfg.Provider.Create(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, domain.ErrUpstreamFailure)
		}
		if c.cfg.RateLimitTracker != nil {
			c.cfg.RateLimitTracker.Capture(headers, opts.TenantID)
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal provider result: %w", err)
		}
		payload, _ := sjson.SetRawBytes([]byte(`{}`), "response", resultJSON)
		payload, _ = sjson.SetBytes(payload, "sequence_number", 1)

		if _, err := c.handleEvent(ctx, models.Event{
			RunID:      opts.RunID,
			Type:       "response.completed",
			Payload:    payload,
			OccurredAt: time.Now().UTC(),
		}); err != nil {
			return nil, err
		}

		state.mu.Lock()
		_ = state.buffer.SeedFromResult(*result)
		state.mu.Unlock()
	}

	return &responses.StartRunResult{
		Run:         run,
		Request:     req,
		Context:     convCtx,
		HistoryPlan: historyPlan,
	}, nil
}

func (c *Coordinator) validateToolConstraints(opts responses.StartRunOptions, tools []models.ToolPayload) error {
	if opts.MaxToolCalls != nil {
		if *opts.MaxToolCalls < c.cfg.ToolConstraints.MinToolCalls || *opts.MaxToolCalls > c.cfg.ToolConstraints.MaxToolCalls {
			return fmt.Errorf("maxToolCalls must be in [%d,%d]: %w", c.cfg.ToolConstraints.MinToolCalls, c.cfg.ToolConstraints.MaxToolCalls, domain.ErrValidation)
		}
	}
	if len(opts.ToolChoice) == 0 {
		return nil
	}
	choice := gjson.ParseBytes(opts.ToolChoice)
	if choice.Type == gjson.String && choice.String() == "required" && len(tools) == 0 {
		return fmt.Errorf("toolChoice=required but no tools configured: %w", domain.ErrValidation)
	}
	if gjson.GetBytes(opts.ToolChoice, "type").String() == "function" {
		name := gjson.GetBytes(opts.ToolChoice, "function.name").String()
		found := false
		for _, included := range opts.Tools.Include {
			if included == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("toolChoice names function %q not in tools.include: %w", name, domain.ErrValidation)
		}
	}
	return nil
}

func applySpeechMetadata(metadata models.Metadata, speech *models.SpeechOptions) {
	if speech.Mode != "" {
		metadata["speech_mode"] = speech.Mode
	}
	if speech.InputFormat != "" {
		metadata["speech_input_format"] = speech.InputFormat
	}
	if speech.Transcription {
		metadata["speech_transcription"] = models.SpeechTranscriptionEnabled
	} else {
		metadata["speech_transcription"] = models.SpeechTranscriptionDisabled
	}
	if speech.TranscriptionModel != "" {
		metadata["speech_transcription_model"] = speech.TranscriptionModel
	}
}

// HandleEvent implements responses.RunCoordinator, discarding the stored
// event header that handleEvent returns for StartRun's own use.
func (c *Coordinator) HandleEvent(ctx context.Context, event models.Event) error {
	_, err := c.handleEvent(ctx, event)
	return err
}

// handleEvent dispatches one event through the run's router, streaming
// buffer, and best-effort safety/incident/delegation hooks, in that fixed
// order. Router errors propagate; later-stage failures are logged, not
// raised.
func (c *Coordinator) handleEvent(ctx context.Context, event models.Event) (*models.Event, error) {
	c.runsMu.Lock()
	state, ok := c.runs[event.RunID]
	c.runsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("run %s: %w", event.RunID, domain.ErrNotFound)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	stored, err := state.router.HandleEvent(ctx, router.RawEvent{Type: event.Type, Payload: event.Payload})
	if err != nil {
		return nil, err
	}

	if err := state.buffer.ApplyEvent(*stored); err != nil {
		slog.Warn("streaming buffer apply event failed", "run_id", event.RunID, "error", err)
	}

	if event.Type == "response.refusal.done" {
		c.runSafetyHook(ctx, event.RunID)
	}

	run, err := c.cfg.Archive.GetRun(ctx, event.RunID)
	if err != nil {
		slog.Warn("coordinator: get run after event failed", "run_id", event.RunID, "error", err)
		return stored, nil
	}

	c.runIncidentHook(ctx, run, stored.Sequence)
	if c.cfg.DelegationTracker != nil {
		if err := c.cfg.DelegationTracker.ApplyEvent(ctx, event.RunID, *stored); err != nil {
			slog.Warn("delegation tracker apply event failed", "run_id", event.RunID, "error", err)
		}
	}

	if models.IsTerminal(run.Status) {
		state.span.finalize(run.Status)
		c.evict(event.RunID)
	}

	return stored, nil
}

func (c *Coordinator) runSafetyHook(ctx context.Context, runID string) {
	aware, ok := c.cfg.Archive.(responses.SafetyAware)
	if !ok {
		return
	}
	now := time.Now().UTC()
	if _, err := aware.UpdateSafety(ctx, runID, responses.UpdateSafetyInput{RefusalDelta: 1, LastRefusalAt: &now}); err != nil {
		slog.Warn("safety hook update failed", "run_id", runID, "error", err)
	}
}

func (c *Coordinator) runIncidentHook(ctx context.Context, run *models.Run, sequence int64) {
	if c.cfg.IncidentLog == nil {
		return
	}
	switch run.Status {
	case models.StatusFailed, models.StatusIncomplete:
		incidentType := models.IncidentFailed
		if run.Status == models.StatusIncomplete {
			incidentType = models.IncidentIncomplete
		}
		_, err := c.cfg.IncidentLog.RecordIncident(models.RecordIncidentInput{
			RunID:      run.RunID,
			Type:       incidentType,
			Sequence:   sequence,
			OccurredAt: time.Now().UTC(),
			TenantID:   run.Metadata["tenant_id"],
			Model:      run.Request.Model,
			TraceID:    run.TraceID,
		})
		if err != nil {
			slog.Warn("incident hook record failed", "run_id", run.RunID, "error", err)
		}
	case models.StatusCompleted:
		if _, err := c.cfg.IncidentLog.ResolveIncidentsByRun(run.RunID, models.ResolveIncidentInput{
			ResolvedBy:  "system",
			Disposition: models.ResolutionManual,
		}); err != nil {
			slog.Warn("incident hook resolve failed", "run_id", run.RunID, "error", err)
		}
	}
}

func (c *Coordinator) evict(runID string) {
	c.runsMu.Lock()
	delete(c.runs, runID)
	c.runsMu.Unlock()
	if c.cfg.DelegationTracker != nil {
		c.cfg.DelegationTracker.Evict(runID)
	}
}

// ResyncFromArchive rebuilds a run's in-process router/buffer state by
// walking the archived timeline and seeding the buffer from the persisted
// result, used after rollback or a process restart.
func (c *Coordinator) ResyncFromArchive(ctx context.Context, runID string) error {
	timeline, err := c.cfg.Archive.GetTimeline(ctx, runID)
	if err != nil {
		return err
	}
	run, err := c.cfg.Archive.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	buffer := streaming.New()
	for _, event := range timeline.Events {
		_ = buffer.ApplyEvent(event)
	}
	if run.Result != nil {
		_ = buffer.SeedFromResult(*run.Result)
	}

	state := &runState{
		router: router.New(runID, c.cfg.Archive, timeline.LastSequence()),
		buffer: buffer,
		span:   newSpan(runID, run.Metadata["tenant_id"], run.Request.Model, run.ConversationID != "", run.ConversationID),
	}

	c.runsMu.Lock()
	c.runs[runID] = state
	c.runsMu.Unlock()
	return nil
}

// GetRun delegates to the archive.
func (c *Coordinator) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return c.cfg.Archive.GetRun(ctx, runID)
}

// GetTimeline delegates to the archive.
func (c *Coordinator) GetTimeline(ctx context.Context, runID string) (*models.Timeline, error) {
	return c.cfg.Archive.GetTimeline(ctx, runID)
}

// GetBuffer returns the live streaming buffer for an in-flight run.
func (c *Coordinator) GetBuffer(runID string) (responses.StreamingBuffer, bool) {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	state, ok := c.runs[runID]
	if !ok {
		return nil, false
	}
	return state.buffer, true
}
