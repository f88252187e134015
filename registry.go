package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/qri-io/jsonschema"
)

// Handler executes one tool call. Arguments arrive as the raw JSON value
// validated against the tool's input schema; the returned raw JSON value is
// checked against the output schema before it reaches the client. Handlers
// may block on external I/O and must honor ctx cancellation at their next
// suspension point.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Tool describes a named, schema-typed operation. Descriptors are immutable
// once registered.
type Tool struct {
	Name        string
	Description string
	// InputSchema validates call arguments. A nil schema accepts anything.
	InputSchema *jsonschema.Schema
	// OutputSchema validates handler results. A nil schema accepts anything.
	OutputSchema *jsonschema.Schema
	Handler     Handler
}

// Registry maps tool names to their descriptors. Registration happens before
// serving; afterwards the table is read-mostly and safe for concurrent
// lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register publishes a tool descriptor, making it visible to discovery and
// dispatch. It returns ErrDuplicateTool if the name is already taken.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s: handler must not be nil", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[tool.Name]; ok {
		return fmt.Errorf("tool %s: %w", tool.Name, ErrDuplicateTool)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)

	return nil
}

// RegisterAll publishes every given descriptor, stopping at the first
// failure.
func (r *Registry) RegisterAll(tools ...Tool) error {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the descriptor registered under name. The returned error
// carries the unknown_tool kind when the name is absent.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, &CallError{
			Kind:    ErrorKindUnknownTool,
			Message: fmt.Sprintf("tool %q is not registered", name),
		}
	}
	return tool, nil
}

// Tools returns a restartable iterator over the registered descriptors in
// registration order.
func (r *Registry) Tools() iter.Seq[Tool] {
	return func(yield func(Tool) bool) {
		r.mu.RLock()
		names := make([]string, len(r.order))
		copy(names, r.order)
		r.mu.RUnlock()

		for _, name := range names {
			r.mu.RLock()
			tool := r.tools[name]
			r.mu.RUnlock()
			if !yield(tool) {
				return
			}
		}
	}
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// listing builds the discovery snapshot for the wire.
func (r *Registry) listing() ToolList {
	list := ToolList{Tools: []ToolInfo{}}
	for tool := range r.Tools() {
		info := ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if tool.InputSchema != nil {
			bs, err := json.Marshal(tool.InputSchema)
			if err == nil {
				info.InputSchema = bs
			}
		}
		if tool.OutputSchema != nil {
			bs, err := json.Marshal(tool.OutputSchema)
			if err == nil {
				info.OutputSchema = bs
			}
		}
		list.Tools = append(list.Tools, info)
	}
	return list
}
