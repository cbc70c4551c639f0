package responses

import "encoding/json"

// Built-in tool names the Tool Registry accepts in BuildToolPayload's
// builtin list.
const (
	BuiltinWebSearch      = "web_search"
	BuiltinFileSearch     = "file_search"
	BuiltinCodeInterpreter = "code_interpreter"
	BuiltinComputer       = "computer"
	BuiltinMCP            = "mcp"
)

// BuiltinToolNames is the closed set BuildToolPayload accepts for builtins.
var BuiltinToolNames = map[string]bool{
	BuiltinWebSearch:       true,
	BuiltinFileSearch:      true,
	BuiltinCodeInterpreter: true,
	BuiltinComputer:        true,
	BuiltinMCP:             true,
}

// FunctionTool is a caller-registered function tool definition.
type FunctionTool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolPayload is one entry in the ordered tool list sent to the provider:
// either a built-in (Type set to its name, Function nil) or a registered
// function tool (Type "function", Function populated).
type ToolPayload struct {
	Type     string          `json:"type"`
	Function *FunctionSchema `json:"function,omitempty"`
}

// FunctionSchema is the wire shape of a function tool inside ToolPayload.
type FunctionSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// BuildToolPayloadInput selects which builtins and which registered
// function tools (by name, in order) to include.
type BuildToolPayloadInput struct {
	Builtin []string
	Include []string
}
