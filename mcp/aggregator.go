package mcp

import (
	"context"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	globalconfig "lmchat/config"
	"lmchat/tools"
)

// ToolAggregator exposes the tools of every running server through a
// tools.Registry.
type ToolAggregator struct {
	processManager *ProcessManager
}

func NewToolAggregator(pm *ProcessManager) *ToolAggregator {
	return &ToolAggregator{
		processManager: pm,
	}
}

// RegisterTools adds each server's tools to the registry as
// <server>_<tool>. Tools whose names collide with an existing entry are
// skipped and logged. Returns the number of tools registered.
func (ta *ToolAggregator) RegisterTools(registry *tools.Registry) int {
	count := 0
	for _, server := range ta.processManager.Servers() {
		serverTools, err := ta.processManager.GetTools(server)
		if err != nil {
			continue
		}

		for _, tool := range serverTools {
			decl := NamespaceTool(server, tool)
			if err := registry.Register(decl, ta.executor(server, tool.Name)); err != nil {
				if globalconfig.DebugLog != nil {
					globalconfig.DebugLog.Printf("[MCP] Skipping tool %s from '%s': %v", tool.Name, server, err)
				}
				continue
			}
			count++
		}
	}
	return count
}

func (ta *ToolAggregator) executor(server, toolName string) tools.Executor {
	return tools.ExecutorFunc(func(ctx context.Context, args map[string]any) (string, error) {
		result, err := ta.ExecuteTool(ctx, server, toolName, args)
		if err != nil {
			return "", err
		}
		return FlattenResult(result)
	})
}

// ExecuteTool calls a tool on the named server using its original name.
func (ta *ToolAggregator) ExecuteTool(ctx context.Context, server, toolName string, args map[string]any) (*mcptypes.CallToolResult, error) {
	client, err := ta.processManager.GetClient(server)
	if err != nil {
		return nil, err
	}

	result, err := client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: %w", server, err)
	}
	return result, nil
}
