package modelregistry

import "testing"

func TestGetReturnsKnownModel(t *testing.T) {
	registry, err := New(ModelInfo{ContextWindowTokens: 8000, CostPer1KTokens: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info := registry.Get("claude-sonnet-4-5-20250929")
	if info.ContextWindowTokens != 200000 {
		t.Fatalf("expected context window 200000, got %d", info.ContextWindowTokens)
	}
	if info.CostPer1KTokens != 0.003 {
		t.Fatalf("expected cost 0.003, got %v", info.CostPer1KTokens)
	}
}

func TestGetFallsBackForUnknownModel(t *testing.T) {
	fallback := ModelInfo{ContextWindowTokens: 8000, CostPer1KTokens: 0.01, SupportsTools: false}
	registry, err := New(fallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info := registry.Get("some-future-model-id")
	if info != fallback {
		t.Fatalf("expected fallback %+v for unknown model, got %+v", fallback, info)
	}
}
