package responses

import (
	models "meridian/internal/domain/models/responses"
)

// StreamingBuffer accumulates a single run's output items as events arrive,
// keyed internally by item id, and exposes defensive-copy getters. One
// instance is owned per in-flight run by the Run Coordinator.
type StreamingBuffer interface {
	// ApplyEvent folds one parsed event into the buffer's accumulated state.
	// Unknown event types are ignored rather than erroring, since the event
	// model is an open set.
	ApplyEvent(event models.Event) error

	// SeedFromResult replaces the buffer's state with what a terminal
	// Result implies, used when resuming a run from archive without having
	// observed every intermediate event (ResyncFromArchive).
	SeedFromResult(result models.Result) error

	Messages() []models.BufferedMessage
	ReasoningSummaries() []models.ReasoningSummary
	AudioSegments() []models.AudioSegment
	InputTranscripts() []models.AudioSegment
	Images() []models.ImageResult
	Refusals() []string
}
