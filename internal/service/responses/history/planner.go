// Package history implements the History Planner: it decides between the
// vendor and replay conversation-history strategies and computes any event
// trimming the replay strategy requires.
package history

import (
	"fmt"
	"math"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

// DenseThreshold is the default event-count floor at or above which a dense,
// large-context run is pushed to the vendor strategy instead of replay.
const DenseThreshold = 500

// Planner implements the History Planner.
type Planner struct {
	denseThreshold int
}

// New constructs a History Planner using the default dense threshold.
func New() *Planner {
	return &Planner{denseThreshold: DenseThreshold}
}

// NewWithThreshold constructs a History Planner with a custom dense
// threshold, mainly for tests.
func NewWithThreshold(denseThreshold int) *Planner {
	return &Planner{denseThreshold: denseThreshold}
}

var _ responses.HistoryPlanner = (*Planner)(nil)

// Plan decides the strategy in fixed branching order: disabled truncation
// overflow forces vendor, dense+large-context runs prefer vendor,
// everything else replays (trimming if still over budget).
func (p *Planner) Plan(input models.HistoryPlanInput) models.HistoryPlan {
	if input.Truncation == models.TruncationDisabled && input.EstimatedTokens > input.ContextWindowTokens {
		return models.HistoryPlan{
			Strategy: models.HistoryVendor,
			Warnings: []string{"truncation disabled and estimated tokens exceed the model's context window; falling back to vendor-managed history"},
		}
	}

	if input.Preference != "prefer_replay" &&
		input.EventCount >= p.denseThreshold &&
		input.EstimatedTokens > int(0.6*float64(input.ContextWindowTokens)) {
		return models.HistoryPlan{Strategy: models.HistoryVendor}
	}

	plan := models.HistoryPlan{Strategy: models.HistoryReplay}
	if input.EstimatedTokens > input.ContextWindowTokens {
		eventCount := input.EventCount
		if eventCount <= 0 {
			eventCount = 1
		}
		tokensPerEvent := float64(input.EstimatedTokens) / float64(eventCount)
		excessTokens := input.EstimatedTokens - input.ContextWindowTokens
		trim := input.EventCount
		if tokensPerEvent > 0 {
			trim = int(math.Ceil(float64(excessTokens) / tokensPerEvent))
		}
		if trim > input.EventCount {
			trim = input.EventCount
		}
		plan.TrimmedEvents = trim
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("trimmed %d of %d events to fit the model's context window", trim, input.EventCount))
	}
	return plan
}
