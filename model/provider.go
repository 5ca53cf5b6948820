package model

import (
	"context"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"lmchat/stream"
)

// Transport is the part of the chat-completions client the tool loop needs.
//
// This interface is defined in the model package (not provider package) so the
// orchestrator and test mocks can depend on it without importing the HTTP
// implementation.
type Transport interface {
	// CompleteWithTools performs one non-streaming exchange with tool declarations.
	CompleteWithTools(ctx context.Context, messages []Message, tools []mcptypes.Tool, params GenerationParams) (*Completion, error)

	// Stream starts a streaming exchange without tool declarations.
	Stream(ctx context.Context, messages []Message, params GenerationParams) (*stream.Decoder, error)
}

// ToolDispatcher resolves tool calls by name. Execute never fails: every
// problem, including unknown names, is reported in the returned text.
type ToolDispatcher interface {
	Declarations() []mcptypes.Tool
	Execute(ctx context.Context, name string, args map[string]any) string
}
