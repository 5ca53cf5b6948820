package model

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message in the conversation.
//
// ToolCalls is only set on assistant messages and ToolCallID only on tool
// messages. Images holds local file paths, http(s) URLs or data URLs.
type Message struct {
	Role       string
	Content    string
	Images     []string
	ToolCalls  []ToolCall
	ToolCallID string
	Timestamp  time.Time // Not sent to the server
}

// ToolCall is a function invocation requested by the model. Arguments is the
// encoded JSON string exactly as the server produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// HasImages reports whether any message in the batch carries image references.
func HasImages(messages []Message) bool {
	for _, msg := range messages {
		if len(msg.Images) > 0 {
			return true
		}
	}
	return false
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

func UserMessage(content string, images ...string) Message {
	return Message{Role: RoleUser, Content: content, Images: images, Timestamp: time.Now()}
}

// AssistantToolCallMessage records the tool calls of one decision round.
func AssistantToolCallMessage(content string, calls []ToolCall) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: append([]ToolCall(nil), calls...),
		Timestamp: time.Now(),
	}
}

func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Timestamp: time.Now()}
}
