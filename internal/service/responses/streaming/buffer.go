// Package streaming implements the StreamingBuffer: an in-memory
// accumulator that stitches a run's event stream into coherent multi-modal
// outputs, keyed by item id in first-seen order. It accumulates on each
// delta and flushes on the item's boundary event, tracking many
// concurrently open item accumulators rather than one current-block
// cursor, since the Responses event stream interleaves items by id rather
// than delivering one block at a time.
package streaming

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

type messageAccumulator struct {
	itemID string
	text   strings.Builder
	done   string
	hasDone bool
}

type audioAccumulator struct {
	itemID         string
	audio          strings.Builder
	format         string
	transcript     strings.Builder
	doneTranscript string
	hasDoneTranscript bool
}

type imageAccumulator struct {
	itemID        string
	lastPartial   string
	b64JSON       string
	imageURL      string
	background    *string
	size          string
	createdAt     string
	hasCompletion bool
}

// Buffer is the default StreamingBuffer implementation. It is not
// thread-safe on its own terms beyond its internal mutex: callers are
// expected to serialize ApplyEvent per run anyway (the Run Coordinator's
// per-run mutex), but the mutex here guards getters called concurrently
// with the admin API reading a live run.
type Buffer struct {
	mu sync.Mutex

	messageOrder []string
	messages     map[string]*messageAccumulator

	reasoning []models.ReasoningSummary
	refusals  []string

	outputAudioOrder []string
	outputAudio      map[string]*audioAccumulator

	inputAudioOrder []string
	inputAudio      map[string]*audioAccumulator

	imageOrder []string
	images     map[string]*imageAccumulator
}

// New constructs an empty streaming buffer for one run.
func New() *Buffer {
	return &Buffer{
		messages:    make(map[string]*messageAccumulator),
		outputAudio: make(map[string]*audioAccumulator),
		inputAudio:  make(map[string]*audioAccumulator),
		images:      make(map[string]*imageAccumulator),
	}
}

var _ responses.StreamingBuffer = (*Buffer)(nil)

// ApplyEvent folds one event into buffer state. Malformed or unknown
// payloads are ignored rather than erroring, per the Streaming Buffer's
// tolerance contract.
func (b *Buffer) ApplyEvent(event models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := string(event.Payload)
	switch event.Type {
	case "response.output_item.added":
		b.handleOutputItemAdded(text)
	case "response.output_text.delta":
		b.handleOutputTextDelta(text)
	case "response.output_text.done":
		b.handleOutputTextDone(text)
	case "response.reasoning_summary_part.done":
		b.handleReasoningSummaryPartDone(text)
	case "response.refusal.done":
		b.handleRefusalDone(text)
	case "response.output_audio.delta":
		b.handleAudioDelta(text, b.outputAudio, &b.outputAudioOrder)
	case "response.output_audio.done":
		b.handleAudioDone(text, b.outputAudio)
	case "response.output_audio_transcript.delta":
		b.handleTranscriptDelta(text, b.outputAudio, &b.outputAudioOrder)
	case "response.output_audio_transcript.done":
		b.handleTranscriptDone(text, b.outputAudio, &b.outputAudioOrder)
	case "conversation.item.input_audio_transcription.delta":
		b.handleTranscriptDelta(text, b.inputAudio, &b.inputAudioOrder)
	case "conversation.item.input_audio_transcription.done":
		b.handleTranscriptDone(text, b.inputAudio, &b.inputAudioOrder)
	case "response.image_generation_call.partial_image":
		b.handleImagePartial(text)
	case "response.image_generation_call.completed":
		b.handleImageCompleted(text)
	}
	return nil
}

func (b *Buffer) handleOutputItemAdded(payload string) {
	item := gjson.Get(payload, "item")
	if item.Type != gjson.JSON {
		return
	}
	if item.Get("type").String() != "message" || item.Get("role").String() != "assistant" {
		return
	}
	id := item.Get("id").String()
	if id == "" {
		return
	}
	if _, ok := b.messages[id]; ok {
		return
	}
	b.messages[id] = &messageAccumulator{itemID: id}
	b.messageOrder = append(b.messageOrder, id)
}

func (b *Buffer) handleOutputTextDelta(payload string) {
	id := gjson.Get(payload, "item_id").String()
	if id == "" {
		return
	}
	acc, ok := b.messages[id]
	if !ok {
		acc = &messageAccumulator{itemID: id}
		b.messages[id] = acc
		b.messageOrder = append(b.messageOrder, id)
	}
	acc.text.WriteString(gjson.Get(payload, "delta").String())
}

func (b *Buffer) handleOutputTextDone(payload string) {
	id := gjson.Get(payload, "item_id").String()
	if id == "" {
		return
	}
	acc, ok := b.messages[id]
	if !ok {
		acc = &messageAccumulator{itemID: id}
		b.messages[id] = acc
		b.messageOrder = append(b.messageOrder, id)
	}
	if v := gjson.Get(payload, "text"); v.Exists() {
		acc.done = v.String()
		acc.hasDone = true
	}
}

func (b *Buffer) handleReasoningSummaryPartDone(payload string) {
	part := gjson.Get(payload, "part")
	if part.Get("type").String() != "summary_text" {
		return
	}
	b.reasoning = append(b.reasoning, models.ReasoningSummary{
		ItemID: gjson.Get(payload, "item_id").String(),
		Text:   part.Get("text").String(),
	})
}

func (b *Buffer) handleRefusalDone(payload string) {
	if v := gjson.Get(payload, "refusal"); v.Exists() {
		b.refusals = append(b.refusals, v.String())
	}
}

func (b *Buffer) handleAudioDelta(payload string, store map[string]*audioAccumulator, order *[]string) {
	id := gjson.Get(payload, "item_id").String()
	if id == "" {
		return
	}
	acc, ok := store[id]
	if !ok {
		acc = &audioAccumulator{itemID: id}
		store[id] = acc
		*order = append(*order, id)
	}
	acc.audio.WriteString(gjson.Get(payload, "delta").String())
	if v := gjson.Get(payload, "format"); v.Exists() {
		acc.format = v.String()
	}
}

func (b *Buffer) handleAudioDone(payload string, store map[string]*audioAccumulator) {
	id := gjson.Get(payload, "item_id").String()
	if id == "" {
		return
	}
	acc, ok := store[id]
	if !ok {
		return
	}
	if v := gjson.Get(payload, "format"); v.Exists() {
		acc.format = v.String()
	}
}

func (b *Buffer) handleTranscriptDelta(payload string, store map[string]*audioAccumulator, order *[]string) {
	id := gjson.Get(payload, "item_id").String()
	if id == "" {
		return
	}
	acc, ok := store[id]
	if !ok {
		acc = &audioAccumulator{itemID: id}
		store[id] = acc
		*order = append(*order, id)
	}
	acc.transcript.WriteString(gjson.Get(payload, "delta").String())
}

func (b *Buffer) handleTranscriptDone(payload string, store map[string]*audioAccumulator, order *[]string) {
	id := gjson.Get(payload, "item_id").String()
	if id == "" {
		return
	}
	acc, ok := store[id]
	if !ok {
		acc = &audioAccumulator{itemID: id}
		store[id] = acc
		*order = append(*order, id)
	}
	if v := gjson.Get(payload, "transcript"); v.Exists() {
		acc.doneTranscript = v.String()
		acc.hasDoneTranscript = true
	}
}

func (b *Buffer) handleImagePartial(payload string) {
	id := gjson.Get(payload, "item_id").String()
	if id == "" {
		return
	}
	acc, ok := b.images[id]
	if !ok {
		acc = &imageAccumulator{itemID: id}
		b.images[id] = acc
		b.imageOrder = append(b.imageOrder, id)
	}
	if v := gjson.Get(payload, "partial_image_b64"); v.Exists() {
		acc.lastPartial = v.String()
	}
}

func (b *Buffer) handleImageCompleted(payload string) {
	id := gjson.Get(payload, "item_id").String()
	if id == "" {
		return
	}
	acc, ok := b.images[id]
	if !ok {
		acc = &imageAccumulator{itemID: id}
		b.images[id] = acc
		b.imageOrder = append(b.imageOrder, id)
	}
	acc.hasCompletion = true
	if v := gjson.Get(payload, "b64_json"); v.Exists() {
		acc.b64JSON = v.String()
	}
	if v := gjson.Get(payload, "image_url"); v.Exists() {
		acc.imageURL = v.String()
	}
	if v := gjson.Get(payload, "background"); v.Exists() {
		if v.Type == gjson.Null {
			acc.background = nil
		} else {
			s := v.String()
			acc.background = &s
		}
	}
	if v := gjson.Get(payload, "size"); v.Exists() {
		acc.size = v.String()
	}
	if v := gjson.Get(payload, "created_at"); v.Exists() {
		acc.createdAt = models.FormatTime(time.Unix(v.Int(), 0))
	}
}

// SeedFromResult replays a persisted Result into synthetic events so a
// rehydrated buffer matches what live streaming would have produced.
func (b *Buffer) SeedFromResult(result models.Result) error {
	b.mu.Lock()
	b.messageOrder = nil
	b.messages = make(map[string]*messageAccumulator)
	b.reasoning = nil
	b.refusals = nil
	b.outputAudioOrder = nil
	b.outputAudio = make(map[string]*audioAccumulator)
	b.inputAudioOrder = nil
	b.inputAudio = make(map[string]*audioAccumulator)
	b.imageOrder = nil
	b.images = make(map[string]*imageAccumulator)
	b.mu.Unlock()

	for _, item := range result.Output {
		text := string(item)
		itemType := gjson.Get(text, "type").String()
		id := gjson.Get(text, "id").String()

		switch itemType {
		case "message":
			if gjson.Get(text, "role").String() != "assistant" {
				continue
			}
			_ = b.ApplyEvent(syntheticEvent("response.output_item.added", wrapItem(text)))
			for _, content := range gjson.Get(text, "content").Array() {
				if content.Get("type").String() == "output_text" {
					_ = b.ApplyEvent(syntheticEvent("response.output_text.done", itemPayload(id, "text", content.Get("text").String())))
				} else if content.Get("type").String() == "refusal" {
					_ = b.ApplyEvent(syntheticEvent("response.refusal.done", refusalPayload(content.Get("refusal").String())))
				}
			}
		case "reasoning":
			for _, part := range gjson.Get(text, "summary").Array() {
				_ = b.ApplyEvent(syntheticEvent("response.reasoning_summary_part.done", reasoningPayload(id, part.Get("text").String())))
			}
		case "output_audio":
			_ = b.ApplyEvent(syntheticEvent("response.output_audio.delta", audioDeltaPayload(id, gjson.Get(text, "audio").String())))
			_ = b.ApplyEvent(syntheticEvent("response.output_audio.done", audioDonePayload(id, gjson.Get(text, "format").String())))
			if transcript := gjson.Get(text, "transcript").String(); transcript != "" {
				_ = b.ApplyEvent(syntheticEvent("response.output_audio_transcript.done", transcriptDonePayload(id, transcript)))
			}
		}
	}
	return nil
}

func (b *Buffer) Messages() []models.BufferedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.BufferedMessage, 0, len(b.messageOrder))
	for _, id := range b.messageOrder {
		acc := b.messages[id]
		text := acc.text.String()
		if acc.hasDone {
			text = acc.done
		}
		out = append(out, models.BufferedMessage{ItemID: id, Text: text})
	}
	return out
}

func (b *Buffer) ReasoningSummaries() []models.ReasoningSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ReasoningSummary, len(b.reasoning))
	copy(out, b.reasoning)
	return out
}

func (b *Buffer) Refusals() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.refusals))
	copy(out, b.refusals)
	return out
}

func (b *Buffer) AudioSegments() []models.AudioSegment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return collectAudio(b.outputAudioOrder, b.outputAudio)
}

// InputTranscripts returns input-audio transcription segments, excluding
// any with an empty transcript, per the Streaming Buffer's contract.
func (b *Buffer) InputTranscripts() []models.AudioSegment {
	b.mu.Lock()
	defer b.mu.Unlock()
	segments := collectAudio(b.inputAudioOrder, b.inputAudio)
	out := segments[:0]
	for _, s := range segments {
		if s.Transcript != "" {
			out = append(out, s)
		}
	}
	return out
}

func collectAudio(order []string, store map[string]*audioAccumulator) []models.AudioSegment {
	out := make([]models.AudioSegment, 0, len(order))
	for _, id := range order {
		acc := store[id]
		transcript := acc.transcript.String()
		if acc.hasDoneTranscript {
			transcript = acc.doneTranscript
		}
		out = append(out, models.AudioSegment{
			ItemID:      id,
			AudioBase64: acc.audio.String(),
			Format:      acc.format,
			Transcript:  transcript,
		})
	}
	return out
}

func (b *Buffer) Images() []models.ImageResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ImageResult, 0, len(b.imageOrder))
	for _, id := range b.imageOrder {
		acc := b.images[id]
		b64 := acc.b64JSON
		if b64 == "" {
			b64 = acc.lastPartial
		}
		out = append(out, models.ImageResult{
			ItemID:     id,
			B64JSON:    b64,
			ImageURL:   acc.imageURL,
			Background: acc.background,
			Size:       acc.size,
			CreatedAt:  acc.createdAt,
		})
	}
	return out
}

func syntheticEvent(eventType string, payload json.RawMessage) models.Event {
	return models.Event{Type: eventType, Payload: payload, OccurredAt: time.Time{}}
}
