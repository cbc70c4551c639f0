package responses

import "time"

// Incident statuses.
const (
	IncidentOpen     = "open"
	IncidentResolved = "resolved"
)

// Incident types.
const (
	IncidentFailed     = "failed"
	IncidentIncomplete = "incomplete"
)

// Resolution dispositions.
const (
	ResolutionRetry     = "retry"
	ResolutionDismissed = "dismissed"
	ResolutionEscalated = "escalated"
	ResolutionManual    = "manual"
)

// Resolution records how and by whom an incident was closed.
type Resolution struct {
	ResolvedAt   time.Time `json:"resolved_at"`
	ResolvedBy   string    `json:"resolved_by"`
	Notes        string    `json:"notes,omitempty"`
	Disposition  string    `json:"disposition"`
	LinkedRunID  string    `json:"linked_run_id,omitempty"`
}

// Incident records a failed or incomplete run for operator review. At most
// one open incident exists per runId at any time; later failures merge
// metadata into the existing open incident instead of opening a new one.
type Incident struct {
	ID         string      `json:"id"`
	RunID      string      `json:"run_id"`
	Status     string      `json:"status"`
	Type       string      `json:"type"`
	Sequence   int64       `json:"sequence"`
	OccurredAt time.Time   `json:"occurred_at"`
	TenantID   string      `json:"tenant_id,omitempty"`
	Model      string      `json:"model,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// RecordIncidentInput is the input to IncidentLog.RecordIncident.
type RecordIncidentInput struct {
	RunID      string
	Type       string
	Sequence   int64
	OccurredAt time.Time
	TenantID   string
	Model      string
	RequestID  string
	TraceID    string
	Reason     string
}

// ResolveIncidentInput is the input to IncidentLog.ResolveIncident /
// ResolveIncidentsByRun.
type ResolveIncidentInput struct {
	ResolvedBy  string
	Notes       string
	Disposition string
	LinkedRunID string
}
