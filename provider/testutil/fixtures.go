package testutil

import (
	"encoding/json"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"lmchat/model"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		{
			Role:      model.RoleSystem,
			Content:   "You are a helpful assistant.",
			Timestamp: time.Now(),
		},
		{
			Role:      model.RoleUser,
			Content:   "Hello, how are you?",
			Timestamp: time.Now(),
		},
		{
			Role:      model.RoleAssistant,
			Content:   "I'm doing well, thank you!",
			Timestamp: time.Now(),
		},
		{
			Role:      model.RoleUser,
			Content:   "Can you help me with a task?",
			Timestamp: time.Now(),
		},
	}
}

// SingleUserMessage returns a single user message for simple tests
func SingleUserMessage(content string) []model.Message {
	return []model.Message{model.UserMessage(content)}
}

// TestMCPTools returns sample tool declarations for testing
func TestMCPTools() []mcptypes.Tool {
	return []mcptypes.Tool{
		mcptypes.NewTool("get_weather",
			mcptypes.WithDescription("Get the current weather for a location"),
			mcptypes.WithString("location",
				mcptypes.Required(),
				mcptypes.Description("The city and state, e.g. San Francisco, CA"),
			),
		),
		mcptypes.NewTool("calculate",
			mcptypes.WithDescription("Evaluate a mathematical expression"),
			mcptypes.WithString("expression",
				mcptypes.Required(),
				mcptypes.Description("The expression to evaluate"),
			),
		),
	}
}

// ToolCallCompletion builds a completion that requests the given calls.
func ToolCallCompletion(calls ...model.ToolCall) *model.Completion {
	return &model.Completion{
		ID:           "chatcmpl-tools",
		FinishReason: model.FinishReasonToolCalls,
		ToolCalls:    calls,
	}
}

// StopCompletion builds a completion that answers without tools.
func StopCompletion(content string) *model.Completion {
	return &model.Completion{
		ID:           "chatcmpl-stop",
		Content:      content,
		FinishReason: model.FinishReasonStop,
	}
}

// SSEBody renders tokens as a chat-completions event stream ending in [DONE].
func SSEBody(tokens ...string) string {
	var b strings.Builder
	for _, tok := range tokens {
		frame := map[string]any{
			"choices": []any{
				map[string]any{"index": 0, "delta": map[string]any{"content": tok}},
			},
		}
		data, _ := json.Marshal(frame)
		b.WriteString("data: ")
		b.Write(data)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}
