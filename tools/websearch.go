package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"lmchat/config"
)

const (
	WebSearchToolName  = "web_search"
	webSearchTimeout   = 15 * time.Second
	defaultResultCount = 5
	maxResultCount     = 10
)

// WebSearch queries a SearXNG instance through its JSON API.
type WebSearch struct {
	baseURL string
	client  *http.Client
}

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func NewWebSearch(baseURL string, client *http.Client) *WebSearch {
	if client == nil {
		client = &http.Client{}
	}
	return &WebSearch{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (w *WebSearch) Declaration() mcptypes.Tool {
	return mcptypes.NewTool(WebSearchToolName,
		mcptypes.WithDescription("Search the web and return the top results with title, URL and snippet"),
		mcptypes.WithString("query",
			mcptypes.Required(),
			mcptypes.Description("The search query"),
		),
		mcptypes.WithNumber("max_results",
			mcptypes.Description(fmt.Sprintf("Number of results to return (default %d, at most %d)", defaultResultCount, maxResultCount)),
		),
	)
}

func (w *WebSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}
	limit := intArg(args, "max_results", defaultResultCount, 1, maxResultCount)

	ctx, cancel := context.WithTimeout(ctx, webSearchTimeout)
	defer cancel()

	endpoint := w.baseURL + "/search?" + url.Values{
		"q":      {query},
		"format": {"json"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Tools] web_search %q (max %d) via %s", query, limit, w.baseURL)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("search server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode search results: %w", err)
	}

	return formatResults(query, out, limit), nil
}

func formatResults(query string, out searxResponse, limit int) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range out.Results {
		if i == limit {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, strings.TrimSpace(r.Title), r.URL)
		if snippet := strings.Join(strings.Fields(r.Content), " "); snippet != "" {
			fmt.Fprintf(&b, "   %s\n", snippet)
		}
	}
	return b.String()
}
