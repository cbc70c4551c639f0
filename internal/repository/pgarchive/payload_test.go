package pgarchive

import (
	"encoding/json"
	"testing"
)

func TestContainsCallIDMatchesTopLevelField(t *testing.T) {
	payload := json.RawMessage(`{"call_id":"call_1"}`)
	if !containsCallID(payload, "call_1") {
		t.Fatal("expected a top-level call_id match")
	}
	if containsCallID(payload, "call_2") {
		t.Fatal("expected no match for a different call id")
	}
}

func TestContainsCallIDMatchesNestedItemField(t *testing.T) {
	payload := json.RawMessage(`{"item":{"call_id":"call_1"}}`)
	if !containsCallID(payload, "call_1") {
		t.Fatal("expected a nested item.call_id match")
	}
}

func TestContainsCallIDHandlesEmptyPayload(t *testing.T) {
	if containsCallID(nil, "call_1") {
		t.Fatal("expected no match for an empty payload")
	}
}

func TestRollbackMarkerPayloadEncodesOperatorAndReason(t *testing.T) {
	payload := rollbackMarkerPayload("operator-1", "manual correction")
	var decoded struct {
		Operator string `json:"operator"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Operator != "operator-1" || decoded.Reason != "manual correction" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}
