package model

const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
)

// GenerationParams are the sampling settings sent with every request.
type GenerationParams struct {
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the first choice of a non-streaming chat completion.
type Completion struct {
	ID           string
	Content      string
	FinishReason string
	ToolCalls    []ToolCall
	Usage        Usage
}

// WantsTools reports whether the server ended the turn to request tool calls.
func (c *Completion) WantsTools() bool {
	return c != nil && c.FinishReason == FinishReasonToolCalls && len(c.ToolCalls) > 0
}
