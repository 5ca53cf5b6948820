package tools

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/mattn/go-runewidth"
	"golang.org/x/net/html"

	"lmchat/config"
)

const (
	FetchURLToolName = "fetch_url"
	fetchTimeout     = 15 * time.Second
	maxFetchBytes    = 1 << 20
	defaultTextWidth = 8000
	truncatedMarker  = "\n[truncated]"
)

// FetchURL downloads a web page and returns its readable text.
type FetchURL struct {
	client   *http.Client
	maxWidth int
}

func NewFetchURL(client *http.Client) *FetchURL {
	if client == nil {
		client = &http.Client{}
	}
	return &FetchURL{
		client:   client,
		maxWidth: defaultTextWidth,
	}
}

func (f *FetchURL) Declaration() mcptypes.Tool {
	return mcptypes.NewTool(FetchURLToolName,
		mcptypes.WithDescription("Fetch a web page and return its text content"),
		mcptypes.WithString("url",
			mcptypes.Required(),
			mcptypes.Description("The http or https URL to fetch"),
		),
	)
}

func (f *FetchURL) Execute(ctx context.Context, args map[string]any) (string, error) {
	raw, err := stringArg(args, "url")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: must be an absolute http or https URL", raw)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Tools] fetch_url %s", u)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%s returned HTTP %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	text := string(body)
	if isHTML(resp.Header.Get("Content-Type"), body) {
		text = htmlToText(text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Sprintf("%s returned no readable text.", u), nil
	}

	return truncateText(text, f.maxWidth), nil
}

func isHTML(contentType string, body []byte) bool {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// htmlToText keeps the visible text of a document, one block per line.
func htmlToText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))

	var (
		b    strings.Builder
		skip int
	)
	for {
		switch tt := z.Next(); tt {
		case html.ErrorToken:
			return collapseBlankLines(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template", "svg":
				// A self-closing element has no end tag to balance the count.
				if tt == html.StartTagToken {
					skip++
				}
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript", "template", "svg":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if words := strings.Fields(string(z.Text())); len(words) > 0 {
				b.WriteString(strings.Join(words, " "))
				b.WriteByte(' ')
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncateText(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, truncatedMarker)
}
