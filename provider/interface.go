// Package provider is the HTTP client for locally hosted model servers that
// expose the OpenAI chat-completions API (Ollama, LM Studio, llama.cpp, vLLM
// and anything else speaking the same protocol).
//
// # Exchanges
//
// A Client performs three kinds of exchange against
// {BaseURL}/v1/chat/completions:
//   - Complete: plain non-streaming completion (300s limit; local hardware can be slow)
//   - CompleteWithTools: non-streaming completion with tool declarations (60s limit)
//   - Stream: streaming completion without tools, decoded by stream.Decoder
//     (no client-side limit; the caller supervises liveness through its context)
//
// Model listing (10s limit) uses the native Ollama API for the ollama type and
// the OpenAI models endpoint for every other type.
//
// # Errors
//
// Timeouts, refused connections, unreachable hosts, non-2xx statuses and empty
// streaming bodies are reported as *TransportError, whose message already
// names the endpoint and provider. Anything else is returned as is.
//
// # Usage
//
//	c, err := provider.NewClient(provider.Config{
//	    Type:    provider.ProviderTypeOllama,
//	    BaseURL: "http://localhost:11434",
//	    Model:   "llama3.1",
//	})
//	if err != nil {
//	    // handle error
//	}
//	dec, err := c.Stream(ctx, messages, params)
package provider

import (
	"fmt"
	"strings"
)

// ProviderType identifies the server implementation behind the endpoint.
type ProviderType string

const (
	ProviderTypeOllama   ProviderType = "ollama"
	ProviderTypeLMStudio ProviderType = "lmstudio"
	ProviderTypeLlamaCpp ProviderType = "llamacpp"
	ProviderTypeVLLM     ProviderType = "vllm"
	ProviderTypeOpenAI   ProviderType = "openai"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // Optional; sent as a Bearer token when set
}

type typeInfo struct {
	label      string
	defaultURL string
}

var providerTypes = map[ProviderType]typeInfo{
	ProviderTypeOllama:   {label: "Ollama", defaultURL: "http://localhost:11434"},
	ProviderTypeLMStudio: {label: "LM Studio", defaultURL: "http://localhost:1234"},
	ProviderTypeLlamaCpp: {label: "llama.cpp", defaultURL: "http://localhost:8080"},
	ProviderTypeVLLM:     {label: "vLLM", defaultURL: "http://localhost:8000"},
	ProviderTypeOpenAI:   {label: "OpenAI-compatible server"},
}

// ParseProviderType converts a config provider ID to a ProviderType.
func ParseProviderType(id string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "ollama":
		return ProviderTypeOllama, nil
	case "lmstudio", "lm-studio", "lm studio":
		return ProviderTypeLMStudio, nil
	case "llamacpp", "llama.cpp", "llama-cpp":
		return ProviderTypeLlamaCpp, nil
	case "vllm":
		return ProviderTypeVLLM, nil
	case "openai", "openai-compatible", "":
		return ProviderTypeOpenAI, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", id)
	}
}

// Label returns the human-readable provider name used in error messages.
func (t ProviderType) Label() string {
	if info, ok := providerTypes[t]; ok {
		return info.label
	}
	return string(t)
}

// normalizeBaseURL strips trailing slashes and a trailing /v1 so the client
// can append the versioned path itself.
func normalizeBaseURL(t ProviderType, baseURL string) (string, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = providerTypes[t].defaultURL
	}
	if baseURL == "" {
		return "", fmt.Errorf("%s requires a base URL", t.Label())
	}

	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	baseURL = strings.TrimRight(baseURL, "/")

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return "", fmt.Errorf("invalid %s URL %q: scheme must be http or https", t.Label(), baseURL)
	}
	return baseURL, nil
}
