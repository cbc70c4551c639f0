// Package responses holds the data model for the Responses Run Coordinator:
// run records, the append-only event timeline, safety/delegation/incident
// state, rate-limit snapshots, and the policy/plan types that steer a run.
package responses

import "time"

// Run status values. queued is re-enterable only via an explicit
// response.queued event; once terminal, only Rollback can move a run back
// to in_progress.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusIncomplete = "incomplete"
)

// IsTerminal reports whether status is one of the run's terminal states.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusIncomplete:
		return true
	default:
		return false
	}
}

// Metadata is a free-form string map attached to a run. Known keys include
// "tenant_id" and "region"; callers may add others.
type Metadata map[string]string

// Clone returns a defensive copy so callers can't mutate archive state
// through a returned map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Run is the top-level record for one model invocation and its full event
// timeline. Only the Archive mutates a Run, and only via StartRun,
// UpdateStatus, UpdateSafety, AddModeratorNote, RecordDelegation,
// UpdateDelegation, or Rollback.
type Run struct {
	RunID          string
	Request        Request
	ConversationID string // empty when none was assigned
	Metadata       Metadata
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	TraceID        string // empty when absent
	Result         *Result
	Safety         *Safety
	Delegations    []Delegation
}

// Clone returns a deep-enough copy for safe return from Archive getters.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Metadata = r.Metadata.Clone()
	if r.Result != nil {
		res := *r.Result
		clone.Result = &res
	}
	if r.Safety != nil {
		clone.Safety = r.Safety.Clone()
	}
	if r.Delegations != nil {
		clone.Delegations = make([]Delegation, len(r.Delegations))
		copy(clone.Delegations, r.Delegations)
	}
	return &clone
}

// RunSummary is the trimmed projection returned by ListRuns and the admin
// API's run-list endpoint.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Tenant         string    `json:"tenant_id,omitempty"`
}

// Summarize projects a Run down to a RunSummary.
func (r *Run) Summarize() RunSummary {
	return RunSummary{
		RunID:          r.RunID,
		Status:         r.Status,
		ConversationID: r.ConversationID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		Tenant:         r.Metadata["tenant_id"],
	}
}
