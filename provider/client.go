package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"lmchat/config"
	"lmchat/model"
	"lmchat/stream"
)

const chatCompletionsPath = "/v1/chat/completions"

// maxErrorBody bounds how much of a non-2xx response body ends up in an error.
const maxErrorBody = 512

// Timeouts are the hard per-exchange limits. They are never retried.
type Timeouts struct {
	ListModels time.Duration
	WithTools  time.Duration
	Plain      time.Duration
}

var DefaultTimeouts = Timeouts{
	ListModels: 10 * time.Second,
	WithTools:  60 * time.Second,
	Plain:      300 * time.Second,
}

// Client talks to one OpenAI-compatible model server. It holds no
// per-conversation state; every call is a single request/response exchange.
type Client struct {
	providerType ProviderType
	label        string
	baseURL      string
	model        string
	apiKey       string
	httpClient   *http.Client
	timeouts     Timeouts
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client. It must not set Client.Timeout,
// which would cut off long streaming responses.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		c.timeouts = t
	}
}

// NewClient creates a client for the given provider configuration.
//
// Returns an error if the provider type is unknown or the base URL is invalid.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if _, ok := providerTypes[cfg.Type]; !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}

	baseURL, err := normalizeBaseURL(cfg.Type, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		providerType: cfg.Type,
		label:        cfg.Type.Label(),
		baseURL:      baseURL,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{},
		timeouts:     DefaultTimeouts,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Complete performs a plain non-streaming completion.
func (c *Client) Complete(ctx context.Context, messages []model.Message, params model.GenerationParams) (*model.Completion, error) {
	return c.complete(ctx, messages, nil, params, c.timeouts.Plain)
}

// CompleteWithTools performs a non-streaming completion offering the given tools.
func (c *Client) CompleteWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, params model.GenerationParams) (*model.Completion, error) {
	return c.complete(ctx, messages, tools, params, c.timeouts.WithTools)
}

// Stream starts a streaming completion and returns a decoder over its body.
// No timeout is applied: the returned decoder keeps reading until the server
// finishes or ctx is cancelled. Tools are never sent on this path.
func (c *Client) Stream(ctx context.Context, messages []model.Message, params model.GenerationParams) (*stream.Decoder, error) {
	req := c.buildRequest(messages, nil, params, true)

	resp, err := c.post(ctx, req, 0)
	if err != nil {
		return nil, err
	}

	if resp.Body == nil || resp.Body == http.NoBody || resp.ContentLength == 0 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, c.emptyStreamError()
	}

	// Chunked bodies have no length; peek to tell "no data at all" apart
	// from a stream that has simply not produced its first frame yet.
	br := bufio.NewReader(resp.Body)
	if _, err := br.Peek(1); err != nil {
		resp.Body.Close()
		if errors.Is(err, io.EOF) {
			return nil, c.emptyStreamError()
		}
		if classified, ok := c.classify(err, 0); ok {
			return nil, classified
		}
		return nil, fmt.Errorf("failed to read stream from %s: %w", c.label, err)
	}

	return stream.NewDecoder(&streamBody{Reader: br, Closer: resp.Body, client: c}), nil
}

// withLimit bounds ctx by the client's own limit. The returned timeout is
// the limit that can fire: zero when limit is unset or the caller's deadline
// comes first, so errors never blame a limit that did not apply.
func withLimit(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc, time.Duration) {
	if limit <= 0 {
		return ctx, func() {}, 0
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= limit {
		return ctx, func() {}, 0
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	return ctx, cancel, limit
}

// streamBody is the peeked response body. Read errors after the first byte
// (cancellation, dropped connections) are classified like any other
// transport failure.
type streamBody struct {
	*bufio.Reader
	io.Closer
	client *Client
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.Reader.Read(p)
	if err != nil && err != io.EOF {
		if classified, ok := b.client.classify(err, 0); ok {
			err = classified
		}
	}
	return n, err
}

func (c *Client) emptyStreamError() error {
	return &TransportError{
		Kind:     KindEmptyStreamBody,
		Endpoint: c.baseURL,
		Provider: c.label,
		Err:      ErrEmptyStreamBody,
	}
}

func (c *Client) complete(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, params model.GenerationParams, limit time.Duration) (*model.Completion, error) {
	ctx, cancel, timeout := withLimit(ctx, limit)
	defer cancel()

	req := c.buildRequest(messages, tools, params, false)

	resp, err := c.post(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if classified, ok := c.classify(err, timeout); ok {
			return nil, classified
		}
		return nil, fmt.Errorf("failed to decode response from %s: %w", c.label, err)
	}

	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response from %s at %s", c.label, c.baseURL)
	}

	completion := out.toCompletion()
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] Completion %s: finish_reason=%s, %d chars, %d tool calls",
			completion.ID, completion.FinishReason, len(completion.Content), len(completion.ToolCalls))
	}
	return completion, nil
}

func (c *Client) buildRequest(messages []model.Message, tools []mcptypes.Tool, params model.GenerationParams, streaming bool) chatRequest {
	return chatRequest{
		Model:       c.model,
		Messages:    convertToWireMessages(messages),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      streaming,
		Tools:       convertMCPToolsToWire(tools),
	}
}

// post sends the request and returns a response with a 2xx status. The
// caller owns the response body.
func (c *Client) post(ctx context.Context, body chatRequest, timeout time.Duration) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] POST %s (model=%s, messages=%d, tools=%d, stream=%v)",
			c.baseURL+chatCompletionsPath, body.Model, len(body.Messages), len(body.Tools), body.Stream)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if classified, ok := c.classify(err, timeout); ok {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Provider] Request failed: %v", classified)
			}
			return nil, classified
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			Kind:       KindHTTPStatus,
			Endpoint:   c.baseURL,
			Provider:   c.label,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			Err:        ErrHTTPStatus,
		}
	}

	return resp, nil
}

// GetModel returns the model name sent with every request.
func (c *Client) GetModel() string {
	return c.model
}

// SetModel changes the model for subsequent requests.
func (c *Client) SetModel(model string) {
	c.model = model
}

// Label returns the human-readable provider name.
func (c *Client) Label() string {
	return c.label
}

// BaseURL returns the normalized server root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}
