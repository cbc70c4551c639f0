package fsarchive

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"meridian/internal/domain"
	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

func containsCallID(payload json.RawMessage, callID string) bool {
	if len(payload) == 0 {
		return false
	}
	text := string(payload)
	for _, path := range []string{"call_id", "item.call_id", "response.call_id"} {
		if gjson.Get(text, path).String() == callID {
			return true
		}
	}
	return false
}

func rollbackMarkerPayload(operator, reason string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "operator", operator)
	doc, _ = sjson.Set(doc, "reason", reason)
	return json.RawMessage(doc)
}

func resolveRollbackTarget(events []models.Event, input responses.RollbackInput) (int64, error) {
	if input.Sequence != nil {
		return *input.Sequence, nil
	}
	if input.ToolCallID != "" {
		for _, ev := range events {
			if containsCallID(ev.Payload, input.ToolCallID) {
				return ev.Sequence, nil
			}
		}
		return 0, fmt.Errorf("tool call %s not found: %w", input.ToolCallID, domain.ErrValidation)
	}
	return 0, fmt.Errorf("rollback requires sequence or toolCallId: %w", domain.ErrValidation)
}
