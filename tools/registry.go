// Package tools holds the named tools the model may call during a chat turn.
//
// A Registry pairs each tool declaration (the JSON-schema description sent to
// the server) with the executor that runs it. Execution never fails from the
// caller's point of view: unknown names, executor errors and executor panics
// all come back as text the model can read and react to.
package tools

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"lmchat/config"
)

// Executor runs one tool invocation.
type Executor interface {
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, args map[string]any) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f(ctx, args)
}

var (
	ErrEmptyName     = errors.New("tool name is empty")
	ErrDuplicateTool = errors.New("tool already registered")
	ErrNilExecutor   = errors.New("tool executor is nil")
	ErrSchemaType    = errors.New("tool input schema must be of type object")
)

type entry struct {
	decl mcptypes.Tool
	exec Executor
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]entry),
	}
}

// Register adds a tool. A declaration without a schema type is treated as
// an object schema.
func (r *Registry) Register(decl mcptypes.Tool, exec Executor) error {
	if decl.Name == "" {
		return ErrEmptyName
	}
	if exec == nil {
		return fmt.Errorf("%w: %s", ErrNilExecutor, decl.Name)
	}
	switch decl.InputSchema.Type {
	case "":
		decl.InputSchema.Type = "object"
	case "object":
	default:
		return fmt.Errorf("%w: %s has %q", ErrSchemaType, decl.Name, decl.InputSchema.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[decl.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, decl.Name)
	}
	r.tools[decl.Name] = entry{decl: decl, exec: exec}
	r.order = append(r.order, decl.Name)

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Tools] Registered %s", decl.Name)
	}
	return nil
}

// Declarations returns the tool declarations in registration order.
func (r *Registry) Declarations() []mcptypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]mcptypes.Tool, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].decl)
	}
	return decls
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Execute runs the named tool and returns its output. Failures of any kind
// are returned as text starting with "error:".
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		result = fmt.Sprintf("error: unknown tool %q", name)
		if suggestion := r.closestName(name); suggestion != "" {
			result += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Tools] %s", result)
		}
		return result
	}

	defer func() {
		if p := recover(); p != nil {
			result = fmt.Sprintf("error: %s panicked: %v", name, p)
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Tools] %s", result)
			}
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	out, err := e.exec.Execute(ctx, maps.Clone(args))
	if err != nil {
		result = fmt.Sprintf("error: %s failed: %v", name, err)
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Tools] %s", result)
		}
		return result
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Tools] %s returned %d bytes: %s", name, len(out), preview(out))
	}
	return out
}

func (r *Registry) closestName(name string) string {
	names := r.Names()
	if len(names) == 0 || name == "" {
		return ""
	}

	matches := fuzzy.Find(name, names)
	if len(matches) > 0 {
		return matches[0].Str
	}

	// fuzzy only matches in-order subsequences of the target; retry with
	// the roles swapped so "web_search_tool" still finds "web_search".
	for _, candidate := range names {
		if len(fuzzy.Find(candidate, []string{name})) > 0 {
			return candidate
		}
	}
	return ""
}

const previewWidth = 120

func preview(s string) string {
	return runewidth.Truncate(s, previewWidth, "...")
}
