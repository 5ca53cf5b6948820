package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"lmchat/config"
	"lmchat/ollama"
)

// ListModels returns the models the server can serve.
//
// Ollama is asked through its native API (which also reports sizes); every
// other provider type through the OpenAI models endpoint.
func (c *Client) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	ctx, cancel, timeout := withLimit(ctx, c.timeouts.ListModels)
	defer cancel()

	var (
		models []ollama.ModelInfo
		err    error
	)
	if c.providerType == ProviderTypeOllama {
		models, err = c.listOllamaModels(ctx)
	} else {
		models, err = c.listOpenAIModels(ctx)
	}

	if err != nil {
		if classified, ok := c.classify(err, timeout); ok {
			return nil, classified
		}
		return nil, fmt.Errorf("failed to list %s models at %s: %w", c.label, c.baseURL, err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] Listed %d models from %s", len(models), c.label)
	}
	return models, nil
}

func (c *Client) listOllamaModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	client, err := ollama.NewClient(c.baseURL, c.httpClient)
	if err != nil {
		return nil, err
	}
	return client.ListModels(ctx)
}

func (c *Client) listOpenAIModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	opts := []option.RequestOption{
		option.WithBaseURL(c.baseURL + "/v1/"),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	}
	if c.apiKey != "" {
		opts = append(opts, option.WithAPIKey(c.apiKey))
	} else {
		// Local servers ignore the key, but the SDK always sends one.
		opts = append(opts, option.WithAPIKey("local"))
	}
	client := openai.NewClient(opts...)

	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]ollama.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		result = append(result, ollama.ModelInfo{
			Name:     m.ID,
			Provider: string(c.providerType),
		})
	}
	return result, nil
}

// Ping checks that the server is reachable. Ollama answers its version
// endpoint; other servers are asked for their model list.
func (c *Client) Ping(ctx context.Context) error {
	if c.providerType != ProviderTypeOllama {
		_, err := c.ListModels(ctx)
		return err
	}

	ctx, cancel, timeout := withLimit(ctx, c.timeouts.ListModels)
	defer cancel()

	client, err := ollama.NewClient(c.baseURL, c.httpClient)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		if classified, ok := c.classify(err, timeout); ok {
			return classified
		}
		return fmt.Errorf("%s ping failed: %w", c.label, err)
	}
	return nil
}
