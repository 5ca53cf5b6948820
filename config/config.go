package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type ServerConfig struct {
	Provider string `toml:"provider"`
	BaseURL  string `toml:"base_url"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key,omitempty"`
}

type GenerationConfig struct {
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

type ToolsConfig struct {
	Enabled    bool   `toml:"enabled"`
	SearXNGURL string `toml:"searxng_url"`
	MaxRounds  int    `toml:"max_rounds"`
}

// MCPServerConfig describes one external MCP server whose tools are offered
// to the model. Either Command (stdio) or URL (streamable HTTP) must be set.
type MCPServerConfig struct {
	Name    string            `toml:"name"`
	Command string            `toml:"command,omitempty"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
	URL     string            `toml:"url,omitempty"`
}

type UserConfig struct {
	Server       ServerConfig      `toml:"server"`
	Generation   GenerationConfig  `toml:"generation"`
	Tools        ToolsConfig       `toml:"tools"`
	MCPServers   []MCPServerConfig `toml:"mcp_servers"`
	SystemPrompt string            `toml:"system_prompt,omitempty"`
}

type Config struct {
	DataDirectory string
	Server        ServerConfig
	Generation    GenerationConfig
	Tools         ToolsConfig
	MCPServers    []MCPServerConfig
	SystemPrompt  string
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyUserConfig(userCfg *UserConfig) {
	c.Server = userCfg.Server
	c.Generation = userCfg.Generation
	c.Tools = userCfg.Tools
	c.MCPServers = userCfg.MCPServers
	c.SystemPrompt = userCfg.SystemPrompt
}

func (c *Config) applyEnvOverrides() {
	if provider := os.Getenv("LMCHAT_PROVIDER"); provider != "" {
		c.Server.Provider = provider
	}
	if baseURL := os.Getenv("LMCHAT_BASE_URL"); baseURL != "" {
		c.Server.BaseURL = baseURL
	}
	if model := os.Getenv("LMCHAT_MODEL"); model != "" {
		c.Server.Model = model
	}
	if apiKey := os.Getenv("LMCHAT_API_KEY"); apiKey != "" {
		c.Server.APIKey = apiKey
	}
	if searx := os.Getenv("LMCHAT_SEARXNG_URL"); searx != "" {
		c.Tools.SearXNGURL = searx
	}
	if maxTokens := os.Getenv("LMCHAT_MAX_TOKENS"); maxTokens != "" {
		if n, err := strconv.Atoi(maxTokens); err == nil && n > 0 {
			c.Generation.MaxTokens = n
		}
	}
}

// applyDefaults fills zero values left by hand-edited config files.
func (c *Config) applyDefaults() {
	defaults := DefaultUserConfig()
	if c.Server.Provider == "" {
		c.Server.Provider = defaults.Server.Provider
	}
	if c.Server.Model == "" {
		c.Server.Model = defaults.Server.Model
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = defaults.Generation.MaxTokens
	}
	if c.Tools.MaxRounds <= 0 {
		c.Tools.MaxRounds = defaults.Tools.MaxRounds
	}
}

func CheckDebug() bool {
	debug := os.Getenv("LMCHAT_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: prompts and tool output end up in the log
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (LMCHAT_DEBUG=%s) ===", os.Getenv("LMCHAT_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

// Load reads the system settings and the user config, creating both from
// templates when missing, then applies environment overrides.
func Load() (*Config, error) {
	cfg := &Config{
		DataDirectory: DefaultSystemConfig().DataDirectory,
	}

	if dataDir := os.Getenv("LMCHAT_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	} else {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return cfg, nil
}
