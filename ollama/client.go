// Package ollama wraps the native Ollama API for the operations the
// OpenAI-compatible endpoint does not cover well: listing installed models
// with their sizes and checking reachability.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

type Client struct {
	client  *api.Client
	baseURL string
}

type ModelInfo struct {
	Name     string
	Size     int64  // Bytes on disk; zero when the server does not report it
	Provider string // Provider type that served the listing
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &Client{
		client:  api.NewClient(parsedURL, httpClient),
		baseURL: baseURL,
	}, nil
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = ModelInfo{
			Name:     m.Name,
			Size:     m.Size,
			Provider: "ollama",
		}
	}

	return models, nil
}

// Ping checks that the server answers the version endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.Version(ctx)
	return err
}

// toolCallingModels tracks which model families handle tool calling
// reliably. Consulted only to warn; tools are offered regardless.
var toolCallingModels = map[string]bool{
	"qwen":      true,
	"llama3.1":  true,
	"llama3.2":  true,
	"llama3.3":  true,
	"mistral":   true,
	"command-r": true,
	"nemotron":  true,
	"granite3":  true,

	"llama3-gradient": false,
	"llama3":          false,
	"phi":             false,
	"gemma":           false,
	"codellama":       false,
	"deepseek":        false,
}

// orderedPrefixes is checked most specific first so "llama3.2" is not
// matched as generic "llama3".
var orderedPrefixes = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"llama3-gradient",
	"command-r", "qwen", "mistral", "nemotron", "granite3",
	"codellama",
	"llama3",
	"deepseek", "phi", "gemma",
}

// ModelSupportsToolCalling reports whether a model name belongs to a family
// known to support tool calling. Unknown families report false.
func ModelSupportsToolCalling(modelName string) bool {
	modelName = strings.ToLower(modelName)
	if i := strings.LastIndex(modelName, "/"); i >= 0 {
		modelName = modelName[i+1:]
	}

	for _, prefix := range orderedPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			return toolCallingModels[prefix]
		}
	}

	return false
}
