package memoryarchive

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// containsCallID reports whether a raw event payload references callID at
// any of the call-id spellings providers use across event types.
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

// rollbackMarkerPayload builds the synthetic responses.rollback event's
// payload, opaque to every consumer except the admin API that renders it.
func rollbackMarkerPayload(operator, reason string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "operator", operator)
	doc, _ = sjson.Set(doc, "reason", reason)
	return json.RawMessage(doc)
}
