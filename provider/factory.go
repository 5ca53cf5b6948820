package provider

import (
	"fmt"

	"lmchat/config"
	"lmchat/model"
)

// NewClientFromConfig creates the client for the configured server.
//
// Returns an error if:
//   - The provider type is unknown
//   - The base URL is missing (generic openai type) or not http(s)
func NewClientFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	providerType, err := ParseProviderType(cfg.Server.Provider)
	if err != nil {
		return nil, err
	}

	c, err := NewClient(Config{
		Type:    providerType,
		BaseURL: cfg.Server.BaseURL,
		Model:   cfg.Server.Model,
		APIKey:  cfg.Server.APIKey,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", providerType.Label(), err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] Initialized %s client at %s (model: %s)", c.label, c.baseURL, c.model)
	}
	return c, nil
}

// GenerationParamsFromConfig returns the sampling settings from config.
func GenerationParamsFromConfig(cfg *config.Config) model.GenerationParams {
	return model.GenerationParams{
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
	}
}
