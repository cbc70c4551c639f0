// Package provider implements ProviderClient: a deterministic in-memory
// stub used when RESPONSES_RUNTIME_MODE=stub, and a real client translating
// to/from the Anthropic Messages API otherwise.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

// Stub is a deterministic ProviderClient that replies with a single
// assistant message reading "stub response for model <model>", without
// calling any upstream provider, so the coordinator and handlers are
// exercisable without a live API credential. Its StreamEvents emits only
// the message-text events (output_item.added, output_text.delta,
// output_text.done, response.completed); it emits no reasoning, refusal,
// audio, or image events.
type Stub struct{}

// NewStub constructs a stub provider client.
func NewStub() *Stub {
	return &Stub{}
}

var _ responses.ProviderClient = (*Stub)(nil)

func (s *Stub) reply(req models.Request) (string, string) {
	itemID := fmt.Sprintf("msg_%s", uuid.NewString())
	text := fmt.Sprintf("stub response for model %s", req.Model)
	return itemID, text
}

func stubMessage(itemID, text string) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "type", "message")
	doc, _ = sjson.Set(doc, "id", itemID)
	doc, _ = sjson.Set(doc, "role", "assistant")
	doc, _ = sjson.Set(doc, "content.0.type", "output_text")
	doc, _ = sjson.Set(doc, "content.0.text", text)
	return json.RawMessage(doc)
}

// Create synthesizes a terminal Result without emitting intermediate
// events; used for the non-streaming (background=false, no live stream)
// path.
func (s *Stub) Create(ctx context.Context, req models.Request) (*models.Result, models.Headers, error) {
	itemID, text := s.reply(req)
	result := &models.Result{
		ID:     fmt.Sprintf("resp_%s", uuid.NewString()),
		Status: models.StatusCompleted,
		Output: []json.RawMessage{stubMessage(itemID, text)},
		Usage:  &models.Usage{TotalTokens: len(text) / 4},
		Model:  req.Model,
	}
	headers := models.Headers{
		"x-ratelimit-limit-requests":     "5000",
		"x-ratelimit-remaining-requests": "4999",
		"x-ratelimit-limit-tokens":       "200000",
		"x-ratelimit-remaining-tokens":   "199500",
		"x-request-id":                   uuid.NewString(),
		"openai-processing-ms":           "42",
	}
	return result, headers, nil
}

// StreamEvents synthesizes the same reply as a sequence of
// output_item.added / output_text.delta / output_text.done /
// response.completed events.
func (s *Stub) StreamEvents(ctx context.Context, req models.Request) (<-chan []byte, <-chan error, error) {
	events := make(chan []byte, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		itemID, text := s.reply(req)
		seq := int64(0)
		send := func(eventType, doc string) bool {
			seq++
			doc, _ = sjson.Set(doc, "sequence_number", seq)
			doc, _ = sjson.Set(doc, "type", eventType)
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return false
			case events <- []byte(doc):
				return true
			}
		}

		itemDoc := `{}`
		itemDoc, _ = sjson.Set(itemDoc, "item_id", itemID)
		itemDoc, _ = sjson.Set(itemDoc, "item.type", "message")
		itemDoc, _ = sjson.Set(itemDoc, "item.role", "assistant")
		itemDoc, _ = sjson.Set(itemDoc, "item.id", itemID)
		if !send("response.output_item.added", itemDoc) {
			return
		}

		deltaDoc := `{}`
		deltaDoc, _ = sjson.Set(deltaDoc, "item_id", itemID)
		deltaDoc, _ = sjson.Set(deltaDoc, "delta", text)
		if !send("response.output_text.delta", deltaDoc) {
			return
		}

		doneDoc := `{}`
		doneDoc, _ = sjson.Set(doneDoc, "item_id", itemID)
		doneDoc, _ = sjson.Set(doneDoc, "text", text)
		if !send("response.output_text.done", doneDoc) {
			return
		}

		result, _, err := s.Create(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		completedDoc := `{}`
		completedDoc, _ = sjson.Set(completedDoc, "response.id", result.ID)
		completedDoc, _ = sjson.Set(completedDoc, "response.status", result.Status)
		completedDoc, _ = sjson.Set(completedDoc, "response.model", result.Model)
		if result.Usage != nil {
			completedDoc, _ = sjson.Set(completedDoc, "response.usage.total_tokens", result.Usage.TotalTokens)
		}
		for i, item := range result.Output {
			completedDoc, _ = sjson.SetRaw(completedDoc, fmt.Sprintf("response.output.%d", i), string(item))
		}
		send("response.completed", completedDoc)
	}()

	return events, errs, nil
}
