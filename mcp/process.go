package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	globalconfig "lmchat/config"
)

const (
	protocolVersion = "2025-06-18"
	clientName      = "lmchat"
	clientVersion   = "1.0.0"
	startTimeout    = 30 * time.Second
	closeTimeout    = time.Second
)

// ProcessManager owns the connections to the configured MCP servers.
type ProcessManager struct {
	processes map[string]*ServerProcess
	order     []string
	mu        sync.RWMutex
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		processes: make(map[string]*ServerProcess),
	}
}

// ValidateServerConfig checks that exactly one of command or url is set.
func ValidateServerConfig(cfg globalconfig.MCPServerConfig) error {
	switch {
	case cfg.Name == "":
		return errors.New("mcp server name is required")
	case cfg.Command == "" && cfg.URL == "":
		return fmt.Errorf("mcp server %s: either command or url is required", cfg.Name)
	case cfg.Command != "" && cfg.URL != "":
		return fmt.Errorf("mcp server %s: command and url are mutually exclusive", cfg.Name)
	}
	return nil
}

// StartServer connects to one server, initializes the session and caches
// its tool list.
func (pm *ProcessManager) StartServer(ctx context.Context, cfg globalconfig.MCPServerConfig) error {
	if err := ValidateServerConfig(cfg); err != nil {
		return err
	}

	pm.mu.RLock()
	proc := pm.processes[cfg.Name]
	pm.mu.RUnlock()
	if proc != nil && proc.Running {
		return fmt.Errorf("mcp server %s already running", cfg.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	var (
		mcpClient   *client.Client
		capturedCmd *exec.Cmd
		err         error
	)
	isRemote := cfg.URL != ""
	if isRemote {
		mcpClient, err = createStreamableHTTPClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to mcp server %s: %w", cfg.Name, err)
		}
	} else {
		mcpClient, capturedCmd, err = createLocalClient(cfg)
		if err != nil {
			return fmt.Errorf("failed to start mcp server %s: %w", cfg.Name, err)
		}
	}

	if err := pm.attach(ctx, cfg.Name, mcpClient, capturedCmd, cfg.URL); err != nil {
		mcpClient.Close()
		return err
	}
	return nil
}

// attach initializes an already started client and records it.
func (pm *ProcessManager) attach(ctx context.Context, name string, mcpClient *client.Client, cmd *exec.Cmd, serverURL string) error {
	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize mcp server %s: %w", name, err)
	}

	toolsResult, err := mcpClient.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools for mcp server %s: %w", name, err)
	}

	pm.mu.Lock()
	if _, seen := pm.processes[name]; !seen {
		pm.order = append(pm.order, name)
	}
	pm.processes[name] = &ServerProcess{
		Name:      name,
		Process:   cmd,
		Client:    mcpClient,
		Tools:     toolsResult.Tools,
		Running:   true,
		IsRemote:  serverURL != "",
		ServerURL: serverURL,
	}
	pm.mu.Unlock()

	if globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Printf("[MCP] Server '%s' ready with %d tools", name, len(toolsResult.Tools))
	}
	return nil
}

// Servers returns the names of running servers in start order.
func (pm *ProcessManager) Servers() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.order))
	for _, name := range pm.order {
		if proc := pm.processes[name]; proc != nil && proc.Running {
			names = append(names, name)
		}
	}
	return names
}

func (pm *ProcessManager) GetClient(name string) (*client.Client, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	proc, exists := pm.processes[name]
	if !exists || !proc.Running {
		return nil, fmt.Errorf("mcp server %s not running", name)
	}
	return proc.Client, nil
}

func (pm *ProcessManager) GetTools(name string) ([]mcptypes.Tool, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	proc, exists := pm.processes[name]
	if !exists || !proc.Running {
		return nil, fmt.Errorf("mcp server %s not running", name)
	}
	return proc.Tools, nil
}

// StopServer closes the client and, for local servers whose close hangs,
// kills the process.
func (pm *ProcessManager) StopServer(ctx context.Context, name string) error {
	pm.mu.Lock()
	proc, exists := pm.processes[name]
	if !exists {
		pm.mu.Unlock()
		return fmt.Errorf("mcp server %s not found", name)
	}
	proc.Running = false
	delete(pm.processes, name)
	for i, n := range pm.order {
		if n == name {
			pm.order = append(pm.order[:i], pm.order[i+1:]...)
			break
		}
	}
	pm.mu.Unlock()

	clientClosed := false
	if proc.Client != nil {
		closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
		defer cancel()

		closeDone := make(chan error, 1)
		go func() {
			closeDone <- proc.Client.Close()
		}()

		select {
		case err := <-closeDone:
			if err != nil {
				if globalconfig.DebugLog != nil {
					globalconfig.DebugLog.Printf("[MCP] StopServer: Error closing client for '%s': %v", name, err)
				}
			} else {
				clientClosed = true
			}
		case <-closeCtx.Done():
			if globalconfig.DebugLog != nil {
				globalconfig.DebugLog.Printf("[MCP] StopServer: Close timeout for '%s'", name)
			}
		}
	}

	if !clientClosed && !proc.IsRemote && proc.Process != nil && proc.Process.Process != nil {
		if globalconfig.DebugLog != nil {
			globalconfig.DebugLog.Printf("[MCP] StopServer: Killing process for '%s' (PID: %d)", name, proc.Process.Process.Pid)
		}
		if err := proc.Process.Process.Kill(); err != nil && globalconfig.DebugLog != nil {
			globalconfig.DebugLog.Printf("[MCP] StopServer: Error killing process for '%s': %v", name, err)
		}
	}

	if globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Printf("[MCP] StopServer: '%s' stopped", name)
	}
	return nil
}

// Shutdown stops every server in parallel.
func (pm *ProcessManager) Shutdown(ctx context.Context) error {
	pm.mu.RLock()
	names := append([]string(nil), pm.order...)
	pm.mu.RUnlock()

	if globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Printf("[MCP] Shutdown: Stopping %d servers", len(names))
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := pm.StopServer(ctx, name); err != nil {
				errChan <- err
			}
		}(name)
	}
	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// createStreamableHTTPClient connects to a remote server. Env entries are
// sent as HTTP headers.
func createStreamableHTTPClient(ctx context.Context, cfg globalconfig.MCPServerConfig) (*client.Client, error) {
	var opts []transport.StreamableHTTPCOption
	if len(cfg.Env) > 0 {
		headers := make(map[string]string, len(cfg.Env))
		for key, value := range cfg.Env {
			headers[key] = value
		}
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	// The transport must be started before Initialize.
	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start HTTP transport: %w", err)
	}

	if globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Printf("[MCP] Started streamable HTTP transport for %s at %s", cfg.Name, cfg.URL)
	}
	return mcpClient, nil
}

// createLocalClient spawns a stdio server and returns its command as well.
func createLocalClient(cfg globalconfig.MCPServerConfig) (*client.Client, *exec.Cmd, error) {
	var capturedCmd *exec.Cmd

	if globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Printf("[MCP] Starting '%s': %s %v", cfg.Name, cfg.Command, cfg.Args)
	}

	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		capturedCmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		globalconfig.ExpandPath(cfg.Command),
		envList(cfg.Env),
		cfg.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		return nil, nil, err
	}

	if capturedCmd != nil && capturedCmd.Process != nil && globalconfig.DebugLog != nil {
		globalconfig.DebugLog.Printf("[MCP] Started '%s' with PID %d", cfg.Name, capturedCmd.Process.Pid)
	}
	return mcpClient, capturedCmd, nil
}

// envList keeps the current environment (PATH in particular) and appends
// the configured overrides.
func envList(envMap map[string]string) []string {
	env := os.Environ()
	for k, v := range envMap {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
