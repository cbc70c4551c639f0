package pgarchive

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
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
