package responses

import (
	"context"

	models "meridian/internal/domain/models/responses"
)

// ToolRegistry holds caller-registered function tools and builds the
// ordered tool payload list ProviderClient.Create sends upstream.
type ToolRegistry interface {
	Register(ctx context.Context, tool models.FunctionTool) error
	Get(name string) (models.FunctionTool, bool)
	BuildToolPayload(input models.BuildToolPayloadInput) ([]models.ToolPayload, error)
}
