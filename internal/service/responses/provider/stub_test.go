package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	models "meridian/internal/domain/models/responses"
)

func TestStubCreateReturnsCompletedResult(t *testing.T) {
	stub := NewStub()
	result, headers, err := stub.Create(context.Background(), models.Request{Model: "claude-3", Input: json.RawMessage(`"hi"`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.StatusCompleted {
		t.Fatalf("expected completed status, got %q", result.Status)
	}
	if len(result.Output) != 1 {
		t.Fatalf("expected one output item, got %d", len(result.Output))
	}
	if headers["x-ratelimit-limit-requests"] == "" {
		t.Fatal("expected rate-limit headers to be populated")
	}
}

func TestStubStreamEventsEmitsExpectedLifecycle(t *testing.T) {
	stub := NewStub()
	events, errs, err := stub.StreamEvents(context.Background(), models.Request{Model: "claude-3", Input: json.RawMessage(`"hi"`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var types []string
	for ev := range events {
		types = append(types, gjson.GetBytes(ev, "type").String())
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	expected := []string{
		"response.output_item.added",
		"response.output_text.delta",
		"response.output_text.done",
		"response.completed",
	}
	if len(types) != len(expected) {
		t.Fatalf("expected %d events, got %d (%v)", len(expected), len(types), types)
	}
	for i, want := range expected {
		if types[i] != want {
			t.Fatalf("event %d: expected %q, got %q", i, want, types[i])
		}
	}
}

func TestStubStreamEventsSequenceNumbersIncrease(t *testing.T) {
	stub := NewStub()
	events, errs, err := stub.StreamEvents(context.Background(), models.Request{Model: "claude-3", Input: json.RawMessage(`"hi"`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var last int64
	for ev := range events {
		seq := gjson.GetBytes(ev, "sequence_number").Int()
		if seq <= last {
			t.Fatalf("expected strictly increasing sequence numbers, got %d after %d", seq, last)
		}
		last = seq
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
}
