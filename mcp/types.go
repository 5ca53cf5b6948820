package mcp

import (
	"os/exec"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ServerProcess is one connected MCP server.
type ServerProcess struct {
	Name      string
	Process   *exec.Cmd // nil for remote servers
	Client    *client.Client
	Tools     []mcptypes.Tool
	Running   bool
	IsRemote  bool
	ServerURL string
}
