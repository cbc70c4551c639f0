package responses

import (
	models "meridian/internal/domain/models/responses"
)

// HistoryPlanner decides between the vendor and replay history strategies
// for a run and computes any trimming the replay strategy requires.
type HistoryPlanner interface {
	Plan(input models.HistoryPlanInput) models.HistoryPlan
}
