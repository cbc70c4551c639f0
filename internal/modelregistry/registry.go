// Package modelregistry holds the per-model registry the History Planner
// and Operations Service consult for context window size and cost
// estimation: an embedded YAML file trimmed to the fields this system
// needs (context window, cost per 1k tokens, tool support).
package modelregistry

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var configFile embed.FS

// ModelInfo is one model's registry entry.
type ModelInfo struct {
	ContextWindowTokens int     `yaml:"context_window_tokens"`
	CostPer1KTokens     float64 `yaml:"cost_per_1k_tokens"`
	SupportsTools       bool    `yaml:"supports_tools"`
}

type document struct {
	Models map[string]ModelInfo `yaml:"models"`
}

// Registry is a read-only, process-lifetime model registry. It is safe for
// concurrent use; models are loaded once at construction and never mutated.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]ModelInfo
	fallback ModelInfo
}

// New loads the embedded model registry. fallback is returned by Get for
// any model id with no explicit entry (e.g. a newly released model this
// registry hasn't been updated for yet).
func New(fallback ModelInfo) (*Registry, error) {
	data, err := configFile.ReadFile("models.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded model registry: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse embedded model registry: %w", err)
	}
	return &Registry{models: doc.Models, fallback: fallback}, nil
}

// Get returns the registry entry for model, or the configured fallback if
// the model is unknown.
func (r *Registry) Get(model string) ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.models[model]; ok {
		return info
	}
	return r.fallback
}
