package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// maxToolNameLen is the function-name limit of the chat-completions API.
const maxToolNameLen = 64

// NamespacedToolName joins server and tool names with an underscore and
// replaces characters the chat-completions API rejects in function names.
func NamespacedToolName(server, tool string) string {
	name := sanitizeName(server) + "_" + sanitizeName(tool)
	if len(name) > maxToolNameLen {
		name = name[:maxToolNameLen]
	}
	return name
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

// NamespaceTool returns a copy of the declaration renamed for the registry.
// A missing description is filled in so the model knows where it came from.
func NamespaceTool(server string, tool mcptypes.Tool) mcptypes.Tool {
	namespaced := tool
	namespaced.Name = NamespacedToolName(server, tool.Name)
	if namespaced.Description == "" {
		namespaced.Description = fmt.Sprintf("%s tool from the %s MCP server", tool.Name, server)
	}
	if namespaced.InputSchema.Type == "" {
		namespaced.InputSchema.Type = "object"
	}
	return namespaced
}

// FlattenResult converts a tool result to the text placed in the tool
// message. Text items are joined with newlines; other content is encoded
// as JSON. A result flagged IsError is returned as an error carrying the
// same text.
func FlattenResult(result *mcptypes.CallToolResult) (string, error) {
	if result == nil {
		return "", errors.New("empty tool result")
	}

	parts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcptypes.TextContent:
			parts = append(parts, c.Text)
		case *mcptypes.TextContent:
			parts = append(parts, c.Text)
		default:
			data, err := json.Marshal(content)
			if err != nil {
				parts = append(parts, fmt.Sprintf("[unencodable %T content]", content))
				continue
			}
			parts = append(parts, string(data))
		}
	}

	if len(parts) == 0 && result.StructuredContent != nil {
		if data, err := json.Marshal(result.StructuredContent); err == nil {
			parts = append(parts, string(data))
		}
	}

	text := strings.Join(parts, "\n")
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}
