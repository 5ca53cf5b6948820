// Package mcp connects to external Model Context Protocol servers and offers
// their tools to the model alongside the built-in ones.
//
// Servers are configured as [[mcp_servers]] entries: a command (spawned and
// spoken to over stdio) or a URL (streamable HTTP). Their tools appear in
// the registry as <server>_<tool>.
package mcp

import (
	"context"

	globalconfig "lmchat/config"
	"lmchat/tools"
)

type Client struct {
	processManager *ProcessManager
	aggregator     *ToolAggregator
}

func NewClient() *Client {
	pm := NewProcessManager()
	return &Client{
		processManager: pm,
		aggregator:     NewToolAggregator(pm),
	}
}

// StartAll starts every configured server. A server that fails to start is
// logged and skipped; the returned errors describe each failure.
func (c *Client) StartAll(ctx context.Context, servers []globalconfig.MCPServerConfig) []error {
	var errs []error
	for _, cfg := range servers {
		if err := c.processManager.StartServer(ctx, cfg); err != nil {
			if globalconfig.DebugLog != nil {
				globalconfig.DebugLog.Printf("[MCP] %v", err)
			}
			errs = append(errs, err)
		}
	}
	return errs
}

// RegisterTools adds the tools of all running servers to the registry.
func (c *Client) RegisterTools(registry *tools.Registry) int {
	return c.aggregator.RegisterTools(registry)
}

func (c *Client) Servers() []string {
	return c.processManager.Servers()
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.processManager.Shutdown(ctx)
}
