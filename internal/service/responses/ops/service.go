// Package ops implements the Operations Service: fleet summary, retry,
// rollback, export, and moderator annotation, sitting above the Run
// Coordinator and Archive.
package ops

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
	"meridian/internal/modelregistry"
	"meridian/internal/service/responses/incident"
)

// RateLimitSummarizer is the subset of ratelimit.Tracker the Operations
// Service needs for its fleet summary.
type RateLimitSummarizer interface {
	GetTenantSummaries() []models.TenantSummary
}

// Config bundles the Operations Service's collaborators.
type Config struct {
	Archive       responses.Archive
	Coordinator   responses.RunCoordinator
	IncidentLog   *incident.Log
	RateLimits    RateLimitSummarizer
	ModelRegistry *modelregistry.Registry

	// DefaultCostPer1KTokens is used for any model with no registry entry.
	DefaultCostPer1KTokens float64
}

// Service is the default OperationsService implementation.
type Service struct {
	cfg Config
}

// New constructs an Operations Service from cfg.
func New(cfg Config) *Service {
	return &Service{cfg: cfg}
}

var _ responses.OperationsService = (*Service)(nil)

const recentRunsLimit = 10

// Summary computes the fleet-wide rollup across all archived runs.
func (s *Service) Summary(ctx context.Context) (*responses.Summary, error) {
	runs, err := s.cfg.Archive.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	summary := &responses.Summary{
		TotalRuns:    len(runs),
		StatusCounts: make(map[string]int),
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	tenantRollups := make(map[string]*responses.TenantRollup)
	tenantRegions := make(map[string]map[string]bool)

	for i := range runs {
		run := &runs[i]
		summary.StatusCounts[run.Status]++

		if summary.LastRunAt == nil || run.UpdatedAt.After(*summary.LastRunAt) {
			t := run.UpdatedAt
			summary.LastRunAt = &t
		}
		if run.UpdatedAt.After(cutoff) && (run.Status == models.StatusFailed || run.Status == models.StatusIncomplete) {
			summary.FailuresLast24h++
		}

		tokens := 0
		if run.Result != nil && run.Result.Usage != nil {
			tokens = run.Result.Usage.TotalTokens
		}
		summary.TotalTokens += tokens

		refusals := 0
		if run.Safety != nil {
			refusals = run.Safety.RefusalCount
		}
		summary.TotalRefusals += refusals

		tenantID := run.Metadata["tenant_id"]
		if tenantID == "" {
			tenantID = "default"
		}
		rollup, ok := tenantRollups[tenantID]
		if !ok {
			rollup = &responses.TenantRollup{TenantID: tenantID}
			tenantRollups[tenantID] = rollup
			tenantRegions[tenantID] = make(map[string]bool)
		}
		rollup.RunCount++
		rollup.TotalTokens += tokens
		rollup.Refusals += refusals
		rollup.CostUSD += s.estimateCost(run.Request.Model, tokens)
		if run.UpdatedAt.After(rollup.LastRunAt) {
			rollup.LastRunAt = run.UpdatedAt
		}
		if region := run.Metadata["region"]; region != "" {
			tenantRegions[tenantID][region] = true
		}
	}

	if summary.TotalRuns > 0 {
		summary.AverageTokensPerRun = float64(summary.TotalTokens) / float64(summary.TotalRuns)
	}

	rollups := make([]responses.TenantRollup, 0, len(tenantRollups))
	for tenantID, rollup := range tenantRollups {
		regions := tenantRegions[tenantID]
		if len(regions) > 0 {
			rollup.Regions = make([]string, 0, len(regions))
			for region := range regions {
				rollup.Regions = append(rollup.Regions, region)
			}
			sort.Strings(rollup.Regions)
		}
		rollup.CostUSD = roundTo(rollup.CostUSD, 6)
		summary.EstimatedCostUSD += rollup.CostUSD
		rollups = append(rollups, *rollup)
	}
	sort.Slice(rollups, func(i, j int) bool { return rollups[i].TotalTokens > rollups[j].TotalTokens })
	summary.PerTenant = rollups
	summary.EstimatedCostUSD = roundTo(summary.EstimatedCostUSD, 6)

	sort.Slice(runs, func(i, j int) bool { return runs[i].UpdatedAt.After(runs[j].UpdatedAt) })
	recentCount := recentRunsLimit
	if len(runs) < recentCount {
		recentCount = len(runs)
	}
	summary.RecentRuns = make([]models.RunSummary, 0, recentCount)
	for i := 0; i < recentCount; i++ {
		summary.RecentRuns = append(summary.RecentRuns, runs[i].Summarize())
	}

	if s.cfg.IncidentLog != nil {
		open, err := s.cfg.IncidentLog.Open()
		if err != nil {
			return nil, err
		}
		summary.OpenIncidents = open
	}
	if s.cfg.RateLimits != nil {
		summary.RateLimits = s.cfg.RateLimits.GetTenantSummaries()
	}

	return summary, nil
}

func (s *Service) estimateCost(model string, tokens int) float64 {
	costPer1K := s.cfg.DefaultCostPer1KTokens
	if s.cfg.ModelRegistry != nil {
		if info := s.cfg.ModelRegistry.Get(model); info.CostPer1KTokens > 0 {
			costPer1K = info.CostPer1KTokens
		}
	}
	return (float64(tokens) / 1000.0) * costPer1K
}

func roundTo(v float64, decimals int) float64 {
	mult := math.Pow(10, float64(decimals))
	return math.Round(v*mult) / mult
}

// Retry loads the original run, builds a fresh run from its request, and
// resolves any open incidents for the original run on success.
func (s *Service) Retry(ctx context.Context, input responses.RetryInput) (*responses.StartRunResult, error) {
	original, err := s.cfg.Archive.GetRun(ctx, input.RunID)
	if err != nil {
		return nil, err
	}

	tenantID := input.TenantID
	if tenantID == "" {
		tenantID = original.Metadata["tenant_id"]
	}
	if tenantID == "" {
		tenantID = original.Metadata["tenantId"]
	}
	if tenantID == "" {
		tenantID = "default"
	}

	metadata := make(models.Metadata)
	for k, v := range input.Metadata {
		metadata[k] = v
	}
	metadata["retried_from"] = input.RunID

	result, err := s.cfg.Coordinator.StartRun(ctx, responses.StartRunOptions{
		RunID:      uuid.NewString(),
		TenantID:   tenantID,
		Request:    original.Request,
		Policy:     &models.ConversationPolicy{Strategy: models.PolicyStateless},
		Metadata:   metadata,
		Background: input.Background,
	})
	if err != nil {
		return nil, err
	}

	if s.cfg.IncidentLog != nil {
		if _, err := s.cfg.IncidentLog.ResolveIncidentsByRun(input.RunID, models.ResolveIncidentInput{
			ResolvedBy:  "system",
			Disposition: models.ResolutionRetry,
			LinkedRunID: result.Run.RunID,
		}); err != nil {
			return nil, fmt.Errorf("resolve incidents for retried run: %w", err)
		}
	}

	return result, nil
}

// Rollback delegates to the archive's Rollbackable capability and then
// resyncs the coordinator's in-process state for the run.
func (s *Service) Rollback(ctx context.Context, input responses.RollbackInput) (*models.TimelineSnapshot, error) {
	rollbackable, ok := s.cfg.Archive.(responses.Rollbackable)
	if !ok {
		return nil, fmt.Errorf("archive does not support rollback: %w", domain.ErrUnsupported)
	}

	snapshot, err := rollbackable.Rollback(ctx, input.RunID, responses.RollbackInput{
		Sequence:   input.Sequence,
		ToolCallID: input.ToolCallID,
		Operator:   input.Operator,
		Reason:     input.Reason,
	})
	if err != nil {
		return nil, err
	}

	if err := s.cfg.Coordinator.ResyncFromArchive(ctx, input.RunID); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Export delegates to the archive's Exportable capability.
func (s *Service) Export(ctx context.Context, runID string) (string, error) {
	exportable, ok := s.cfg.Archive.(responses.Exportable)
	if !ok {
		return "", fmt.Errorf("archive does not support export: %w", domain.ErrUnsupported)
	}
	return exportable.ExportRun(ctx, runID)
}

// AddModeratorNote delegates to the archive's ModerationAware capability.
func (s *Service) AddModeratorNote(ctx context.Context, runID string, note models.ModeratorNote) (*models.ModeratorNote, error) {
	moderation, ok := s.cfg.Archive.(responses.ModerationAware)
	if !ok {
		return nil, fmt.Errorf("archive does not support moderator notes: %w", domain.ErrUnsupported)
	}
	return moderation.AddModeratorNote(ctx, runID, note)
}

// PruneOlderThan delegates to the archive's Prunable capability. days <= 0
// is the caller's responsibility to reject before calling; this computes
// cutoff from an already-resolved time.
func (s *Service) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	prunable, ok := s.cfg.Archive.(responses.Prunable)
	if !ok {
		return 0, fmt.Errorf("archive does not support pruning: %w", domain.ErrUnsupported)
	}
	return prunable.PruneOlderThan(ctx, cutoff)
}

// Prune computes cutoff = now - days*86400s and prunes, rejecting
// non-positive day counts.
func (s *Service) Prune(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("days must be positive: %w", domain.ErrValidation)
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return s.PruneOlderThan(ctx, cutoff)
}
