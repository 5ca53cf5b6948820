package provider

import (
	"encoding/json"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"lmchat/model"
)

// chatRequest is the body POSTed to /v1/chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

// wireMessage.Content is a string, a []contentPart for multimodal messages,
// or nil for assistant messages that only carry tool calls.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name string `json:"name"`
	// Arguments is a JSON-encoded string per the OpenAI API. Some local
	// servers send a bare object instead, so it is kept raw on decode.
	Arguments json.RawMessage `json:"arguments"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role      string         `json:"role"`
			Content   *string        `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// convertToWireMessages converts model messages to the chat-completions wire
// format. Messages with images become content parts, but only when the batch
// contains images at all; otherwise every message passes through as plain text.
func convertToWireMessages(messages []model.Message) []wireMessage {
	multimodal := model.HasImages(messages)

	result := make([]wireMessage, len(messages))
	for i, msg := range messages {
		wm := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}

		if len(msg.ToolCalls) > 0 {
			wm.ToolCalls = convertToWireToolCalls(msg.ToolCalls)
			if msg.Content == "" {
				wm.Content = nil
			}
		}

		if multimodal && len(msg.Images) > 0 {
			wm.Content = buildContentParts(msg.Content, msg.Images)
		}

		result[i] = wm
	}
	return result
}

// convertToWireToolCalls echoes tool calls back to the server verbatim.
func convertToWireToolCalls(calls []model.ToolCall) []wireToolCall {
	if len(calls) == 0 {
		return nil
	}

	result := make([]wireToolCall, len(calls))
	for i, call := range calls {
		args := call.Arguments
		if args == "" {
			args = "{}"
		}
		encoded, _ := json.Marshal(args)
		result[i] = wireToolCall{
			ID:   call.ID,
			Type: "function",
			Function: wireFunctionCall{
				Name:      call.Name,
				Arguments: encoded,
			},
		}
	}
	return result
}

// convertFromWireToolCalls converts tool calls received from the server,
// keeping arguments as the encoded string.
func convertFromWireToolCalls(calls []wireToolCall) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	result := make([]model.ToolCall, len(calls))
	for i, call := range calls {
		result[i] = model.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: argumentsString(call.Function.Arguments),
		}
	}
	return result
}

func argumentsString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// convertMCPToolsToWire converts tool declarations to the OpenAI function
// tool format:
//
//	{
//	  "type": "function",
//	  "function": {
//	    "name": "web_search",
//	    "description": "Search the web",
//	    "parameters": {"type": "object", "properties": {...}, "required": [...]}
//	  }
//	}
func convertMCPToolsToWire(tools []mcptypes.Tool) []wireTool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]wireTool, len(tools))
	for i, tool := range tools {
		schemaType := tool.InputSchema.Type
		if schemaType == "" {
			schemaType = "object"
		}
		properties := tool.InputSchema.Properties
		if properties == nil {
			properties = map[string]any{}
		}

		params := map[string]any{
			"type":       schemaType,
			"properties": properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}
		if tool.InputSchema.Defs != nil {
			params["$defs"] = tool.InputSchema.Defs
		}

		result[i] = wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

func (r *chatResponse) toCompletion() *model.Completion {
	c := &model.Completion{ID: r.ID}
	if r.Usage != nil {
		c.Usage = model.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	if len(r.Choices) == 0 {
		return c
	}

	choice := r.Choices[0]
	c.FinishReason = choice.FinishReason
	if choice.Message.Content != nil {
		c.Content = *choice.Message.Content
	}
	c.ToolCalls = convertFromWireToolCalls(choice.Message.ToolCalls)
	return c
}
