package responses

import (
	"context"
	"time"

	models "meridian/internal/domain/models/responses"
)

// Summary is the rollup returned by OperationsService.Summary.
type Summary struct {
	TotalRuns           int                    `json:"total_runs"`
	StatusCounts        map[string]int         `json:"status_counts"`
	FailuresLast24h     int                    `json:"failures_last_24h"`
	LastRunAt           *time.Time             `json:"last_run_at,omitempty"`
	TotalTokens         int                    `json:"total_tokens"`
	AverageTokensPerRun float64                `json:"average_tokens_per_run"`
	EstimatedCostUSD    float64                `json:"estimated_cost_usd"`
	TotalRefusals       int                    `json:"total_refusals"`
	PerTenant           []TenantRollup         `json:"per_tenant"`
	RecentRuns          []models.RunSummary    `json:"recent_runs"`
	OpenIncidents       []models.Incident      `json:"open_incidents"`
	RateLimits          []models.TenantSummary `json:"rate_limits"`
}

// TenantRollup is one tenant's slice of Summary, sorted into the parent
// Summary by TotalTokens descending.
type TenantRollup struct {
	TenantID    string   `json:"tenant_id"`
	RunCount    int      `json:"run_count"`
	TotalTokens int      `json:"total_tokens"`
	Refusals    int      `json:"refusals"`
	CostUSD     float64  `json:"cost_usd"`
	Regions     []string `json:"regions,omitempty"`
	LastRunAt   time.Time `json:"last_run_at"`
}

// RetryInput is the input to OperationsService.Retry. TenantID, when empty,
// defaults to the original run's metadata tenant_id/tenantId, then
// "default".
type RetryInput struct {
	RunID      string
	TenantID   string
	Metadata   models.Metadata
	Background bool
}

// OperationsService implements the admin-facing run lifecycle operations:
// fleet summary, retry, rollback, export, and moderator annotation. It sits
// above RunCoordinator and Archive, never mutating either's invariants
// directly.
type OperationsService interface {
	Summary(ctx context.Context) (*Summary, error)
	Retry(ctx context.Context, input RetryInput) (*StartRunResult, error)
	Rollback(ctx context.Context, input RollbackInput) (*models.TimelineSnapshot, error)
	Export(ctx context.Context, runID string) (string, error)
	AddModeratorNote(ctx context.Context, runID string, note models.ModeratorNote) (*models.ModeratorNote, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
