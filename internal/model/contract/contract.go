package contract

type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Images     []ImagePart `json:"images,omitempty"`
	Name       string      `json:"name,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
}

// ImagePart is an inline base64 image attached to a user message.
type ImagePart struct {
	MIME   string `json:"mime"`
	Data   string `json:"data"`
	Detail string `json:"detail,omitempty"`
}

type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []ToolDef `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// PromptRequest is a single-shot text completion without chat structure.
type PromptRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type CompletionResponse struct {
	Content   string      `json:"content"`
	ToolCalls []*ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

// Float32 returns a pointer to v.
func Float32(v float32) *float32 {
	return &v
}

// ToolChoice values understood by every provider. Any other non-empty value
// names the single tool the model must call.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// ForcedTool reports the tool name a ToolChoice pins, if any.
func ForcedTool(choice string) (string, bool) {
	switch choice {
	case "", ToolChoiceAuto, ToolChoiceRequired, ToolChoiceNone:
		return "", false
	default:
		return choice, true
	}
}
