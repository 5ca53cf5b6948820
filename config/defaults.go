package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/lmchat",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Server: ServerConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "llama3.1:latest",
		},
		Generation: GenerationConfig{
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Tools: ToolsConfig{
			Enabled:    true,
			SearXNGURL: "http://localhost:8888",
			MaxRounds:  3,
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# lmchat System Configuration
# Location: ~/.config/lmchat/settings.toml
# This file uses TOML format: https://toml.io

# Directory where the user config and debug log are stored
data_directory = "~/.local/share/lmchat"
`
}

func GenerateUserConfigTemplate() string {
	return `# lmchat User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Optional system prompt prepended to every turn
system_prompt = ""

[server]
# One of: ollama, lmstudio, llamacpp, vllm, openai
provider = "ollama"

# Server root URL (the /v1/chat/completions path is appended)
base_url = "http://localhost:11434"

model = "llama3.1:latest"

# Only needed when the server sits behind an auth proxy
api_key = ""

[generation]
temperature = 0.7
max_tokens = 2048

[tools]
# Let the model call tools before answering
enabled = true

# SearXNG instance used by the web_search tool (JSON output must be enabled)
searxng_url = "http://localhost:8888"

# Decision rounds per turn (1-3)
max_rounds = 3

# External MCP servers, one block per server:
#
# [[mcp_servers]]
# name = "files"
# command = "npx"
# args = ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
#
# [[mcp_servers]]
# name = "remote"
# url = "http://localhost:3001/mcp"
`
}
