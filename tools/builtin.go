package tools

import (
	"fmt"
	"net/http"

	"lmchat/config"
)

// RegisterBuiltins adds web_search and fetch_url. web_search is skipped when
// no SearXNG URL is configured.
func RegisterBuiltins(r *Registry, cfg config.ToolsConfig, client *http.Client) error {
	if cfg.SearXNGURL != "" {
		ws := NewWebSearch(cfg.SearXNGURL, client)
		if err := r.Register(ws.Declaration(), ws); err != nil {
			return fmt.Errorf("failed to register %s: %w", WebSearchToolName, err)
		}
	} else if config.DebugLog != nil {
		config.DebugLog.Printf("[Tools] No searxng_url configured; %s disabled", WebSearchToolName)
	}

	fetch := NewFetchURL(client)
	if err := r.Register(fetch.Declaration(), fetch); err != nil {
		return fmt.Errorf("failed to register %s: %w", FetchURLToolName, err)
	}
	return nil
}
