// Package orchestrator runs one chat turn with tool use.
//
// A turn alternates between decision rounds, in which the server is offered
// the tool declarations and may ask for tool calls, and execution of those
// calls through the tool dispatcher. After at most MaxRounds decisions the
// turn ends with a single streaming request without tools, so the model has
// to answer in plain language.
//
//	DECIDING -> EXECUTING -> DECIDING ... -> FINALIZING -> DONE
//
// Transport failures abort the turn. Tool failures never do: they are
// returned to the model as tool messages.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/mattn/go-runewidth"

	"lmchat/config"
	"lmchat/model"
	"lmchat/stream"
)

// MaxRounds bounds the decision rounds of one turn.
const MaxRounds = 3

type EventKind int

const (
	EventRoundStarted EventKind = iota + 1
	EventToolCallStarted
	EventToolCallFinished
	EventFinalizing
)

func (k EventKind) String() string {
	switch k {
	case EventRoundStarted:
		return "round started"
	case EventToolCallStarted:
		return "tool call started"
	case EventToolCallFinished:
		return "tool call finished"
	case EventFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event reports progress to an observer. Call is set for tool call events
// and Result only for EventToolCallFinished.
type Event struct {
	TurnID string
	Kind   EventKind
	Round  int
	Call   model.ToolCall
	Result string
}

// Turn is the outcome of Run.
type Turn struct {
	ID string

	// Stream yields the final answer. The caller must drain or close it.
	Stream *stream.Decoder

	// Messages is the list sent with the finalization request: the input
	// messages followed by every assistant and tool message of the rounds.
	Messages []model.Message

	// ToolMessages holds only the synthesized assistant and tool messages,
	// in order.
	ToolMessages []model.Message

	// Rounds is the number of decision requests made.
	Rounds int
}

type Orchestrator struct {
	transport model.Transport
	tools     model.ToolDispatcher
	maxRounds int
	observer  func(Event)
}

type Option func(*Orchestrator)

// WithMaxRounds lowers the decision round budget. Values outside
// 1..MaxRounds select MaxRounds.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 || n > MaxRounds {
			n = MaxRounds
		}
		o.maxRounds = n
	}
}

// WithObserver registers a callback for progress events. It is called
// synchronously from Run.
func WithObserver(fn func(Event)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// New creates an orchestrator. tools may be nil, in which case every turn
// goes straight to the final answer.
func New(transport model.Transport, tools model.ToolDispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: transport,
		tools:     tools,
		maxRounds: MaxRounds,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one turn. The input slice is not modified.
func (o *Orchestrator) Run(ctx context.Context, messages []model.Message, params model.GenerationParams) (*Turn, error) {
	turn := &Turn{
		ID:       uuid.NewString(),
		Messages: append(make([]model.Message, 0, len(messages)+4), messages...),
	}

	decls := o.declarations()
	if len(decls) == 0 && config.DebugLog != nil {
		config.DebugLog.Printf("[Orchestrator] %s: no tools declared, finalizing directly", turn.ID)
	}

	wantsTools := len(decls) > 0
	for wantsTools && turn.Rounds < o.maxRounds {
		turn.Rounds++
		o.emit(Event{TurnID: turn.ID, Kind: EventRoundStarted, Round: turn.Rounds})

		completion, err := o.transport.CompleteWithTools(ctx, turn.Messages, decls, params)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Orchestrator] %s: round %d failed: %v", turn.ID, turn.Rounds, err)
			}
			return nil, err
		}

		wantsTools = completion.WantsTools()
		if !wantsTools {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Orchestrator] %s: round %d finished with %q, no tools requested",
					turn.ID, turn.Rounds, completion.FinishReason)
			}
			break
		}

		calls := assignCallIDs(completion.ToolCalls)
		assistant := model.AssistantToolCallMessage(completion.Content, calls)
		turn.Messages = append(turn.Messages, assistant)
		turn.ToolMessages = append(turn.ToolMessages, assistant)

		if config.DebugLog != nil {
			config.DebugLog.Printf("[Orchestrator] %s: round %d requested %d tool calls", turn.ID, turn.Rounds, len(calls))
		}

		for _, call := range calls {
			result := o.execute(ctx, turn, call)
			msg := model.ToolResultMessage(call.ID, result)
			turn.Messages = append(turn.Messages, msg)
			turn.ToolMessages = append(turn.ToolMessages, msg)
		}
	}

	if wantsTools && config.DebugLog != nil {
		config.DebugLog.Printf("[Orchestrator] %s: round budget of %d exhausted", turn.ID, o.maxRounds)
	}

	o.emit(Event{TurnID: turn.ID, Kind: EventFinalizing, Round: turn.Rounds})

	dec, err := o.transport.Stream(ctx, turn.Messages, params)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Orchestrator] %s: finalization failed: %v", turn.ID, err)
		}
		return nil, err
	}
	turn.Stream = dec

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Orchestrator] %s: finalizing after %d rounds with %d messages",
			turn.ID, turn.Rounds, len(turn.Messages))
	}
	return turn, nil
}

func (o *Orchestrator) declarations() []mcptypes.Tool {
	if o.tools == nil {
		return nil
	}
	return o.tools.Declarations()
}

// execute runs one call and returns the text for its tool message.
func (o *Orchestrator) execute(ctx context.Context, turn *Turn, call model.ToolCall) string {
	o.emit(Event{TurnID: turn.ID, Kind: EventToolCallStarted, Round: turn.Rounds, Call: call})

	var result string
	args, err := decodeArguments(call.Arguments)
	if err != nil {
		result = fmt.Sprintf("error: invalid arguments for %s: %v", call.Name, err)
	} else {
		result = o.tools.Execute(ctx, call.Name, args)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Orchestrator] %s: %s(%s) -> %s",
			turn.ID, call.Name, preview(call.Arguments), preview(result))
	}

	o.emit(Event{TurnID: turn.ID, Kind: EventToolCallFinished, Round: turn.Rounds, Call: call, Result: result})
	return result
}

func (o *Orchestrator) emit(e Event) {
	if o.observer != nil {
		o.observer(e)
	}
}

// decodeArguments decodes the encoded argument object. An empty string or
// JSON null means no arguments.
func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// assignCallIDs fills in ids some local servers omit, so every tool message
// can still be paired with its call.
func assignCallIDs(calls []model.ToolCall) []model.ToolCall {
	out := append([]model.ToolCall(nil), calls...)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
		}
	}
	return out
}

const previewWidth = 80

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, previewWidth, "...")
}
