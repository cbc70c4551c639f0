package streaming

import (
	"encoding/json"

	"github.com/tidwall/sjson"
)

// wrapItem builds a response.output_item.added payload around a raw output
// item, the shape ApplyEvent's handleOutputItemAdded expects.
func wrapItem(itemJSON string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.SetRaw(doc, "item", itemJSON)
	return json.RawMessage(doc)
}

func itemPayload(itemID, field, value string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "item_id", itemID)
	doc, _ = sjson.Set(doc, field, value)
	return json.RawMessage(doc)
}

func refusalPayload(refusal string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "refusal", refusal)
	return json.RawMessage(doc)
}

func reasoningPayload(itemID, text string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "item_id", itemID)
	doc, _ = sjson.Set(doc, "part.type", "summary_text")
	doc, _ = sjson.Set(doc, "part.text", text)
	return json.RawMessage(doc)
}

func audioDeltaPayload(itemID, audioB64 string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "item_id", itemID)
	doc, _ = sjson.Set(doc, "delta", audioB64)
	return json.RawMessage(doc)
}

func audioDonePayload(itemID, format string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "item_id", itemID)
	doc, _ = sjson.Set(doc, "format", format)
	return json.RawMessage(doc)
}

func transcriptDonePayload(itemID, transcript string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "item_id", itemID)
	doc, _ = sjson.Set(doc, "transcript", transcript)
	return json.RawMessage(doc)
}
