package responses

import (
	"context"

	models "meridian/internal/domain/models/responses"
)

// ProviderClient is the boundary to the upstream model provider. The Run
// Coordinator calls only Create; both providers implement StreamEvents, but
// no component in this module consumes its channels.
type ProviderClient interface {
	// Create issues a single Responses request and returns its terminal
	// Result along with the raw response headers the Rate-Limit Tracker
	// parses.
	Create(ctx context.Context, req models.Request) (*models.Result, models.Headers, error)

	// StreamEvents issues a streaming Responses request and returns a
	// channel of raw server-sent-event payloads (one []byte per event, the
	// "data:" line contents, already stripped of SSE framing) in delivery
	// order. The channel is closed when the stream ends or ctx is
	// cancelled; a send-side error is reported on the returned error
	// channel.
	StreamEvents(ctx context.Context, req models.Request) (<-chan []byte, <-chan error, error)
}
