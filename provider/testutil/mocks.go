package testutil

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"lmchat/model"
	"lmchat/stream"
)

// TransportCall records one exchange made against a MockTransport.
type TransportCall struct {
	Messages []model.Message
	Tools    []mcptypes.Tool
	Params   model.GenerationParams
	Stream   bool
}

// MockTransport implements model.Transport for testing. CompleteWithTools
// answers from Completions in order; Stream answers with an SSE body built
// from StreamTokens.
type MockTransport struct {
	// Configurable responses
	Completions  []*model.Completion
	CompleteErr  error // Returned instead of a completion once set
	StreamTokens []string
	StreamErr    error

	// CompleteWithToolsFunc and StreamFunc override the scripted behavior.
	CompleteWithToolsFunc func(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, params model.GenerationParams) (*model.Completion, error)
	StreamFunc            func(ctx context.Context, messages []model.Message, params model.GenerationParams) (*stream.Decoder, error)

	mu    sync.Mutex
	calls []TransportCall
	next  int
}

// NewMockTransport creates a transport that returns the given completions
// one per CompleteWithTools call.
func NewMockTransport(completions ...*model.Completion) *MockTransport {
	return &MockTransport{
		Completions:  completions,
		StreamTokens: []string{"Mock ", "answer"},
	}
}

func (m *MockTransport) CompleteWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, params model.GenerationParams) (*model.Completion, error) {
	m.record(TransportCall{Messages: messages, Tools: tools, Params: params})

	if m.CompleteWithToolsFunc != nil {
		return m.CompleteWithToolsFunc(ctx, messages, tools, params)
	}
	if m.CompleteErr != nil {
		return nil, m.CompleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next >= len(m.Completions) {
		return nil, fmt.Errorf("mock transport: no completion scripted for call %d", m.next+1)
	}
	c := m.Completions[m.next]
	m.next++
	return c, nil
}

func (m *MockTransport) Stream(ctx context.Context, messages []model.Message, params model.GenerationParams) (*stream.Decoder, error) {
	m.record(TransportCall{Messages: messages, Params: params, Stream: true})

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, messages, params)
	}
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	return stream.NewDecoder(io.NopCloser(strings.NewReader(SSEBody(m.StreamTokens...)))), nil
}

// Calls returns every recorded exchange in order.
func (m *MockTransport) Calls() []TransportCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransportCall(nil), m.calls...)
}

// StreamCalls returns only the streaming exchanges.
func (m *MockTransport) StreamCalls() []TransportCall {
	var out []TransportCall
	for _, c := range m.Calls() {
		if c.Stream {
			out = append(out, c)
		}
	}
	return out
}

// DecisionCalls returns only the CompleteWithTools exchanges.
func (m *MockTransport) DecisionCalls() []TransportCall {
	var out []TransportCall
	for _, c := range m.Calls() {
		if !c.Stream {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockTransport) record(call TransportCall) {
	call.Messages = append([]model.Message(nil), call.Messages...)
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}
