package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

// AnthropicClient is the live ProviderClient backed by the Anthropic
// Messages API. The Responses event vocabulary (output_item.added,
// output_text.delta, ...) this system speaks has no upstream equivalent in
// that API, so each Anthropic stream event is translated into its closest
// Responses analogue as it arrives.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient constructs a live provider client, failing if apiKey
// is empty.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &client}, nil
}

var _ responses.ProviderClient = (*AnthropicClient)(nil)

func (c *AnthropicClient) buildParams(req models.Request) (anthropic.MessageNewParams, error) {
	var userText string
	if gjson.ValidBytes(req.Input) {
		if v := gjson.GetBytes(req.Input, "text"); v.Exists() {
			userText = v.String()
		} else {
			userText = string(req.Input)
		}
	} else {
		userText = string(req.Input)
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userText)),
		},
	}, nil
}

// Create issues a single non-streaming Messages call and adapts the result
// into a Responses-shaped Result.
func (c *AnthropicClient) Create(ctx context.Context, req models.Request) (*models.Result, models.Headers, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, nil, err
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic create: %w", err)
	}

	result := &models.Result{
		ID:     message.ID,
		Status: models.StatusCompleted,
		Model:  string(message.Model),
		Usage: &models.Usage{
			TotalTokens: int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
	if output := messageToOutputItem(message); output != nil {
		result.Output = []json.RawMessage{output}
	}

	headers := models.Headers{
		"x-request-id": uuid.NewString(),
	}
	return result, headers, nil
}

func messageToOutputItem(message *anthropic.Message) json.RawMessage {
	doc := `{}`
	doc, _ = sjson.Set(doc, "type", "message")
	doc, _ = sjson.Set(doc, "id", message.ID)
	doc, _ = sjson.Set(doc, "role", "assistant")
	idx := 0
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			doc, _ = sjson.Set(doc, fmt.Sprintf("content.%d.type", idx), "output_text")
			doc, _ = sjson.Set(doc, fmt.Sprintf("content.%d.text", idx), variant.Text)
			idx++
		}
	}
	return json.RawMessage(doc)
}

// StreamEvents issues a streaming Messages call and translates each
// Anthropic stream event into the nearest Responses event.
func (c *AnthropicClient) StreamEvents(ctx context.Context, req models.Request) (<-chan []byte, <-chan error, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan []byte, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		itemID := fmt.Sprintf("msg_%s", uuid.NewString())
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

		stream := c.client.Messages.NewStreaming(ctx, params)
		message := anthropic.Message{}
		announced := false

		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				errs <- fmt.Errorf("accumulate anthropic stream event: %w", err)
				return
			}

			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if !announced {
					itemDoc := `{}`
					itemDoc, _ = sjson.Set(itemDoc, "item_id", itemID)
					itemDoc, _ = sjson.Set(itemDoc, "item.type", "message")
					itemDoc, _ = sjson.Set(itemDoc, "item.role", "assistant")
					itemDoc, _ = sjson.Set(itemDoc, "item.id", itemID)
					if !send("response.output_item.added", itemDoc) {
						return
					}
					announced = true
				}
			case anthropic.ContentBlockDeltaEvent:
				if e.Delta.Type == "text_delta" && e.Delta.Text != "" {
					deltaDoc := `{}`
					deltaDoc, _ = sjson.Set(deltaDoc, "item_id", itemID)
					deltaDoc, _ = sjson.Set(deltaDoc, "delta", e.Delta.Text)
					if !send("response.output_text.delta", deltaDoc) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("anthropic stream: %w", err)
			return
		}

		fullText := extractText(&message)
		doneDoc := `{}`
		doneDoc, _ = sjson.Set(doneDoc, "item_id", itemID)
		doneDoc, _ = sjson.Set(doneDoc, "text", fullText)
		if !send("response.output_text.done", doneDoc) {
			return
		}

		completedDoc := `{}`
		completedDoc, _ = sjson.Set(completedDoc, "response.id", message.ID)
		completedDoc, _ = sjson.Set(completedDoc, "response.status", models.StatusCompleted)
		completedDoc, _ = sjson.Set(completedDoc, "response.model", string(message.Model))
		completedDoc, _ = sjson.Set(completedDoc, "response.usage.total_tokens", int(message.Usage.InputTokens+message.Usage.OutputTokens))
		completedDoc, _ = sjson.SetRaw(completedDoc, "response.output.0", string(messageToOutputItem(&message)))
		send("response.completed", completedDoc)
	}()

	return events, errs, nil
}

func extractText(message *anthropic.Message) string {
	var text string
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	return text
}
