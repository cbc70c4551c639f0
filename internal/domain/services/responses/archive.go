// Package responses declares the interfaces the Responses Run Coordinator
// and its dependencies are built against. Concrete implementations live
// under internal/service/responses/... and internal/repository/....
package responses

import (
	"context"
	"time"

	models "meridian/internal/domain/models/responses"
)

// StartRunInput is the input to Archive.StartRun.
type StartRunInput struct {
	RunID          string
	Request        models.Request
	ConversationID string
	Metadata       models.Metadata
	TraceID        string
	Safety         *models.Safety
}

// RecordEventInput is the input to Archive.RecordEvent. Sequence is nil when
// the caller wants the archive to assign last+1.
type RecordEventInput struct {
	RunID      string
	Sequence   *int64
	Type       string
	Payload    []byte
	OccurredAt time.Time
}

// UpdateStatusInput is the input to Archive.UpdateStatus. Result is only
// stored when non-nil; otherwise the run's existing result is left alone.
type UpdateStatusInput struct {
	RunID  string
	Status string
	Result *models.Result
}

// Archive is the required capability every backend implements: append-only
// event recording, run status projection, and basic lookups. Optional
// capabilities (pruning, export, rollback, safety, delegations, moderation)
// are separate sub-interfaces a backend opts into. Callers type-assert for
// them at the point of use, on every call (the Operations Service and the
// Run Coordinator's safety hook); the result is not cached at construction.
type Archive interface {
	StartRun(ctx context.Context, input StartRunInput) (*models.Run, error)
	RecordEvent(ctx context.Context, input RecordEventInput) (*models.Event, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Run, error)
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	GetTimeline(ctx context.Context, runID string) (*models.Timeline, error)
	ListRuns(ctx context.Context) ([]models.Run, error)
	DeleteRun(ctx context.Context, runID string) error
	SnapshotAt(ctx context.Context, runID string, sequence int64) (*models.TimelineSnapshot, error)
}

// Prunable is implemented by backends that can remove or cold-storage runs
// older than a cutoff.
type Prunable interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Exportable is implemented by backends that can serialize a run to a
// durable artifact and return its location.
type Exportable interface {
	ExportRun(ctx context.Context, runID string) (string, error)
}

// RollbackInput identifies the rollback target by Sequence or by
// ToolCallID. When both are set, Sequence is used; when neither is set, the
// backends fail with ErrValidation. RunID is read by
// OperationsService.Rollback; Rollbackable.Rollback takes the run id as a
// separate argument and ignores this field.
type RollbackInput struct {
	RunID      string
	Sequence   *int64
	ToolCallID string
	Operator   string
	Reason     string
}

// Rollbackable is implemented by backends that support truncating a run's
// event log to a prefix and re-deriving status/result.
type Rollbackable interface {
	Rollback(ctx context.Context, runID string, input RollbackInput) (*models.TimelineSnapshot, error)
}

// UpdateSafetyInput is the input to SafetyAware.UpdateSafety.
type UpdateSafetyInput struct {
	RefusalDelta  int
	LastRefusalAt *time.Time
}

// SafetyAware is implemented by backends that track per-run safety state.
type SafetyAware interface {
	UpdateSafety(ctx context.Context, runID string, input UpdateSafetyInput) (*models.Safety, error)
	AddModeratorNote(ctx context.Context, runID string, note models.ModeratorNote) (*models.ModeratorNote, error)
}

// DelegationAware is implemented by backends that persist tool-call
// delegation records.
type DelegationAware interface {
	RecordDelegation(ctx context.Context, runID string, delegation models.Delegation) (*models.Delegation, error)
	UpdateDelegation(ctx context.Context, runID string, callID string, update DelegationUpdate) (*models.Delegation, error)
}

// DelegationUpdate carries the fields UpdateDelegation may change.
type DelegationUpdate struct {
	Status      string
	Output      []byte
	CompletedAt *time.Time
}

// ModerationAware is a narrower view of SafetyAware exposed to callers (such
// as the Operations Service) that only need to attach notes, not mutate
// refusal counters.
type ModerationAware interface {
	AddModeratorNote(ctx context.Context, runID string, note models.ModeratorNote) (*models.ModeratorNote, error)
}
