// Package tools implements the Tool Registry: caller-registered function
// tools plus the ordered tool-payload builder that feeds
// ProviderClient.Create.
package tools

import (
	"context"
	"fmt"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

// Registry is the in-process Tool Registry. One instance is shared across
// runs; registered tools are process-lifetime, not per-run.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]models.FunctionTool
}

// New constructs an empty tool registry.
func New() *Registry {
	return &Registry{tools: make(map[string]models.FunctionTool)}
}

var _ responses.ToolRegistry = (*Registry)(nil)

// Register adds a function tool, failing if the name is empty or already
// registered.
func (r *Registry) Register(ctx context.Context, tool models.FunctionTool) error {
	if err := validation.ValidateStruct(&tool,
		validation.Field(&tool.Name, validation.Required),
	); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q: %w", tool.Name, domain.ErrAlreadyExists)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns a registered function tool by name.
func (r *Registry) Get(name string) (models.FunctionTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// BuildToolPayload produces the ordered tool list: built-ins first (in
// input order, restricted to the closed built-in set), then registered
// function tools in include order.
func (r *Registry) BuildToolPayload(input models.BuildToolPayloadInput) ([]models.ToolPayload, error) {
	payload := make([]models.ToolPayload, 0, len(input.Builtin)+len(input.Include))

	for _, builtin := range input.Builtin {
		if !models.BuiltinToolNames[builtin] {
			return nil, fmt.Errorf("unknown builtin %q: %w", builtin, domain.ErrUnknownBuiltin)
		}
		payload = append(payload, models.ToolPayload{Type: builtin})
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range input.Include {
		tool, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q: %w", name, domain.ErrUnknownTool)
		}
		payload = append(payload, models.ToolPayload{
			Type: "function",
			Function: &models.FunctionSchema{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	return payload, nil
}
