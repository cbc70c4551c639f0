package responses

import (
	"context"
	"encoding/json"

	models "meridian/internal/domain/models/responses"
)

// StartRunOptions is the input to RunCoordinator.StartRun, carrying the
// full option set a run can be started with.
type StartRunOptions struct {
	RunID    string
	TenantID string
	Request  models.Request

	// Policy is nil when the caller wants the coordinator's configured
	// default conversation policy.
	Policy *models.ConversationPolicy

	Metadata               models.Metadata
	Background             bool
	PreviousResponseID     string
	ExistingConversationID string

	Tools models.BuildToolPayloadInput

	// History is nil when the caller doesn't want a history plan computed
	// (step 1 of StartRun is then skipped entirely).
	History *models.HistoryPlanInput

	MaxToolCalls *int
	ToolChoice   json.RawMessage

	Safety *models.Safety
	Speech *models.SpeechOptions
}

// StartRunResult is what StartRun returns: the validated request that was
// sent, the resolved conversation context, and the history plan if one was
// computed.
type StartRunResult struct {
	Run         *models.Run
	Request     models.Request
	Context     *models.ConversationContext
	HistoryPlan *models.HistoryPlan
}

// RunCoordinator is the top-level orchestrator: it resolves conversation
// state, plans history, builds the tool payload, invokes the provider,
// folds the resulting event stream into the run's archive and streaming
// buffer, and projects run status. One RunCoordinator instance is shared
// across runs; per-run state is guarded internally by a per-run mutex keyed
// on runId.
type RunCoordinator interface {
	// StartRun begins a new run and records it as queued. For a foreground
	// run (Background false) it then calls ProviderClient.Create and routes
	// the result as a response.completed event before returning, so the run
	// is already terminal on return. A background run returns still queued,
	// with no provider call made; its events arrive through HandleEvent and
	// callers observe progress by polling GetRun.
	StartRun(ctx context.Context, opts StartRunOptions) (*StartRunResult, error)

	// HandleEvent folds one event into the run's router state and
	// streaming buffer, enforcing strict sequence monotonicity.
	HandleEvent(ctx context.Context, event models.Event) error

	// ResyncFromArchive rebuilds in-memory router/buffer state for runId
	// from the archive's timeline, used after a process restart or when
	// resuming a run with no live in-process state.
	ResyncFromArchive(ctx context.Context, runID string) error

	GetRun(ctx context.Context, runID string) (*models.Run, error)
	GetTimeline(ctx context.Context, runID string) (*models.Timeline, error)
	GetBuffer(runID string) (StreamingBuffer, bool)
}
