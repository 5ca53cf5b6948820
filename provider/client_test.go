package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lmchat/model"
	"lmchat/provider/testutil"
	"lmchat/stream"
)

// newTestClient starts a server with the given handler and returns a client
// pointed at it.
func newTestClient(t *testing.T, providerType ProviderType, handler http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{Type: providerType, BaseURL: srv.URL + "/v1/", Model: "test-model"}, opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, srv
}

func decodeRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("failed to decode request body: %v", err)
	}
	return body
}

func TestCompleteWithToolsRequestShape(t *testing.T) {
	var body map[string]any
	var path, auth string

	c, _ := newTestClient(t, ProviderTypeLMStudio, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		body = decodeRequest(t, r)
		io.WriteString(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`)
	})

	params := model.GenerationParams{Temperature: 0.2, MaxTokens: 64}
	got, err := c.CompleteWithTools(context.Background(), testutil.SingleUserMessage("hi"), testutil.TestMCPTools(), params)
	if err != nil {
		t.Fatalf("CompleteWithTools() error = %v", err)
	}

	if path != "/v1/chat/completions" {
		t.Errorf("path = %q, want /v1/chat/completions", path)
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want none without API key", auth)
	}
	if body["model"] != "test-model" {
		t.Errorf("model = %v", body["model"])
	}
	if body["stream"] != false {
		t.Errorf("stream = %v, want false", body["stream"])
	}
	if body["temperature"] != 0.2 {
		t.Errorf("temperature = %v, want 0.2", body["temperature"])
	}
	if body["max_tokens"] != float64(64) {
		t.Errorf("max_tokens = %v, want 64", body["max_tokens"])
	}

	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 2 {
		t.Fatalf("tools = %v, want 2 declarations", body["tools"])
	}
	first := tools[0].(map[string]any)
	if first["type"] != "function" {
		t.Errorf("tools[0].type = %v", first["type"])
	}
	fn := first["function"].(map[string]any)
	if fn["name"] != "get_weather" {
		t.Errorf("tools[0].function.name = %v", fn["name"])
	}
	if fn["parameters"].(map[string]any)["type"] != "object" {
		t.Errorf("tools[0].function.parameters.type = %v", fn["parameters"])
	}

	if got.Content != "done" || got.FinishReason != model.FinishReasonStop {
		t.Errorf("completion = %+v", got)
	}
}

func TestCompleteSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Type: ProviderTypeVLLM, BaseURL: srv.URL, Model: "m", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := c.Complete(context.Background(), testutil.SingleUserMessage("hi"), model.GenerationParams{}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", auth)
	}
}

func TestCompleteWithToolsParsesToolCalls(t *testing.T) {
	c, _ := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"id": "chatcmpl-9",
			"choices": [{
				"message": {"role": "assistant", "content": "", "tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"location\":\"Paris\"}"}}
				]},
				"finish_reason": "tool_calls"
			}]
		}`)
	})

	got, err := c.CompleteWithTools(context.Background(), testutil.SingleUserMessage("weather?"), testutil.TestMCPTools(), model.GenerationParams{})
	if err != nil {
		t.Fatalf("CompleteWithTools() error = %v", err)
	}
	if !got.WantsTools() {
		t.Fatal("WantsTools() = false, want true")
	}
	want := model.ToolCall{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`}
	if got.ToolCalls[0] != want {
		t.Errorf("tool call = %+v, want %+v", got.ToolCalls[0], want)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	c, _ := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"x","choices":[]}`)
	})

	_, err := c.Complete(context.Background(), testutil.SingleUserMessage("hi"), model.GenerationParams{})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("error = %v, want no choices error", err)
	}
}

func TestHTTPStatusError(t *testing.T) {
	c, srv := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model \"test-model\" not found"}`, http.StatusNotFound)
	})

	_, err := c.CompleteWithTools(context.Background(), testutil.SingleUserMessage("hi"), nil, model.GenerationParams{})
	if !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("error = %v, want ErrHTTPStatus", err)
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *TransportError", err)
	}
	if te.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", te.StatusCode)
	}
	if !strings.Contains(te.Body, "not found") {
		t.Errorf("Body = %q, want server message", te.Body)
	}
	if !strings.Contains(err.Error(), srv.URL) || !strings.Contains(err.Error(), "Ollama") {
		t.Errorf("message %q should name endpoint and provider", err.Error())
	}
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{Type: ProviderTypeLlamaCpp, BaseURL: url, Model: "m"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Complete(context.Background(), testutil.SingleUserMessage("hi"), model.GenerationParams{})
	if !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("error = %v, want ErrConnectionRefused", err)
	}
	if !strings.Contains(err.Error(), url) || !strings.Contains(err.Error(), "llama.cpp") {
		t.Errorf("message %q should name endpoint and provider", err.Error())
	}
}

func TestNetworkUnreachable(t *testing.T) {
	c, err := NewClient(Config{Type: ProviderTypeOpenAI, BaseURL: "http://lmchat-test.invalid:1234", Model: "m"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Complete(context.Background(), testutil.SingleUserMessage("hi"), model.GenerationParams{})
	if !errors.Is(err, ErrNetworkUnreachable) {
		t.Fatalf("error = %v, want ErrNetworkUnreachable", err)
	}
}

func TestTimeout(t *testing.T) {
	c, _ := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, WithTimeouts(Timeouts{ListModels: time.Second, WithTools: 50 * time.Millisecond, Plain: time.Second}))

	_, err := c.CompleteWithTools(context.Background(), testutil.SingleUserMessage("hi"), nil, model.GenerationParams{})
	if !errors.Is(err, ErrTransportTimeout) {
		t.Fatalf("error = %v, want ErrTransportTimeout", err)
	}

	var te *TransportError
	if errors.As(err, &te) && te.Timeout != 50*time.Millisecond {
		t.Errorf("Timeout = %v, want 50ms", te.Timeout)
	}
}

func TestCallerDeadlineIsNotReportedAsClientLimit(t *testing.T) {
	c, _ := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.CompleteWithTools(ctx, testutil.SingleUserMessage("hi"), nil, model.GenerationParams{})
	if !errors.Is(err, ErrTransportTimeout) {
		t.Fatalf("error = %v, want ErrTransportTimeout", err)
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if te.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0 when the caller's deadline fired", te.Timeout)
	}
	if strings.Contains(err.Error(), "did not respond within") {
		t.Errorf("error %q blames the client limit", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, should unwrap to context.DeadlineExceeded", err)
	}
}

func TestCancelledContextIsTimeoutKind(t *testing.T) {
	c, _ := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, testutil.SingleUserMessage("hi"), model.GenerationParams{})
	if !errors.Is(err, ErrTransportTimeout) {
		t.Errorf("error = %v, want ErrTransportTimeout", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, should still unwrap to context.Canceled", err)
	}
}

func TestStream(t *testing.T) {
	var body map[string]any
	c, _ := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		body = decodeRequest(t, r)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range strings.SplitAfter(testutil.SSEBody("Hel", "lo", " world"), "\n\n") {
			io.WriteString(w, part)
			flusher.Flush()
		}
	})

	dec, err := c.Stream(context.Background(), testutil.SingleUserMessage("hi"), model.GenerationParams{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	text, err := stream.Collect(dec)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}

	if body["stream"] != true {
		t.Errorf("stream = %v, want true", body["stream"])
	}
	if _, ok := body["tools"]; ok {
		t.Error("streaming request must not carry tools")
	}
}

func TestStreamCancelledMidBody(t *testing.T) {
	c, srv := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"first"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dec, err := c.Stream(ctx, testutil.SingleUserMessage("hi"), model.GenerationParams{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer dec.Close()

	token, err := dec.Next()
	if err != nil || token != "first" {
		t.Fatalf("Next() = %q, %v; want first token", token, err)
	}

	cancel()
	_, err = dec.Next()

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v (%T), want *TransportError", err, err)
	}
	if !errors.Is(err, ErrTransportTimeout) {
		t.Errorf("error = %v, want ErrTransportTimeout", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, should still unwrap to context.Canceled", err)
	}
	if msg := err.Error(); !strings.Contains(msg, srv.URL) || !strings.Contains(msg, "Ollama") {
		t.Errorf("error %q should name endpoint and provider", msg)
	}
}

func TestStreamEmptyBody(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name:    "no body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
		},
		{
			name: "flushed headers then nothing",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusOK)
				w.(http.Flusher).Flush()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, ProviderTypeOllama, tt.handler)

			_, err := c.Stream(context.Background(), testutil.SingleUserMessage("hi"), model.GenerationParams{})
			if !errors.Is(err, ErrEmptyStreamBody) {
				t.Errorf("error = %v, want ErrEmptyStreamBody", err)
			}
		})
	}
}

func TestMultimodalRequest(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "cat.png")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if err := os.WriteFile(imgPath, png, 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}

	var body map[string]any
	c, _ := newTestClient(t, ProviderTypeOllama, func(w http.ResponseWriter, r *http.Request) {
		body = decodeRequest(t, r)
		io.WriteString(w, `{"choices":[{"message":{"content":"a cat"},"finish_reason":"stop"}]}`)
	})

	messages := []model.Message{
		model.SystemMessage("describe images"),
		model.UserMessage("what is this?", imgPath, filepath.Join(dir, "missing.jpg")),
	}
	if _, err := c.Complete(context.Background(), messages, model.GenerationParams{}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	wireMsgs := body["messages"].([]any)
	if sys := wireMsgs[0].(map[string]any); sys["content"] != "describe images" {
		t.Errorf("system content = %v, want plain string", sys["content"])
	}

	parts, ok := wireMsgs[1].(map[string]any)["content"].([]any)
	if !ok {
		t.Fatalf("user content = %v, want content parts", wireMsgs[1])
	}
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want text + image + placeholder", len(parts))
	}

	text := parts[0].(map[string]any)
	if text["type"] != "text" || text["text"] != "what is this?" {
		t.Errorf("part 0 = %v", text)
	}

	img := parts[1].(map[string]any)
	url := img["image_url"].(map[string]any)["url"].(string)
	if img["type"] != "image_url" || !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("part 1 = %v, want png data URL", img)
	}

	placeholder := parts[2].(map[string]any)
	if placeholder["type"] != "text" || placeholder["text"] != "[image unavailable: missing.jpg]" {
		t.Errorf("part 2 = %v, want placeholder", placeholder)
	}
}

func TestSetModel(t *testing.T) {
	c, err := NewClient(Config{Type: ProviderTypeOllama, Model: "llama3.1"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.SetModel("qwen2.5")
	if c.GetModel() != "qwen2.5" {
		t.Errorf("GetModel() = %q, want qwen2.5", c.GetModel())
	}
	if c.BaseURL() != "http://localhost:11434" {
		t.Errorf("BaseURL() = %q, want Ollama default", c.BaseURL())
	}
}
