package responses

import "encoding/json"

// Request is the payload sent to ProviderClient.Create. The upstream
// provider's exact schema is treated as opaque past these required fields;
// Input and the tool/output payloads are carried as raw JSON so the router
// and streaming buffer can match on a finite set of known shapes while
// passing everything else through untouched.
type Request struct {
	Model              string            `json:"model"`
	Input              json.RawMessage   `json:"input"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Tools              []ToolPayload     `json:"tools,omitempty"`
	ToolChoice         json.RawMessage   `json:"tool_choice,omitempty"`
	MaxToolCalls       *int              `json:"max_tool_calls,omitempty"`
	Conversation       string            `json:"conversation,omitempty"`
	Store              bool              `json:"store,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	SafetyIdentifier   string            `json:"safety_identifier,omitempty"`
}

// Result is the payload ProviderClient.Create returns alongside Headers.
type Result struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Output []json.RawMessage `json:"output,omitempty"`
	Usage  *Usage            `json:"usage,omitempty"`
	Model  string            `json:"model,omitempty"`
}

// Usage carries token accounting from a provider result.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// Headers is the string-keyed header map ProviderClient.Create returns
// alongside a Result; recognized names are parsed by the rate-limit tracker.
type Headers map[string]string

// Validate enforces the minimal required shape of a Request: a model and a
// non-empty input payload. Deeper validation of input/tool shapes is the
// provider's concern, since that schema is explicitly opaque to this system.
func (r Request) Validate() error {
	if r.Model == "" {
		return errRequestField("model")
	}
	if len(r.Input) == 0 {
		return errRequestField("input")
	}
	return nil
}

func errRequestField(field string) error {
	return &validationError{field: field}
}

type validationError struct {
	field string
}

func (e *validationError) Error() string {
	return "missing required request field: " + e.field
}
