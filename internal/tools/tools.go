// Package tools holds the catalog of tools offered to the model and
// dispatches the model's calls to them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler executes a tool call and returns the raw result payload.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Tool is a callable tool in the function-calling shape the LLM
// providers expect.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	// InputSchema is the schema as the server declared it. Arguments
	// are validated against it rather than against Parameters.
	InputSchema map[string]any `json:"-"`

	Handler Handler `json:"-"`
}

// Definition returns the tool as a function-calling definition:
// {"type":"function","function":{"name","description","parameters"}}.
func (t *Tool) Definition() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		},
	}
}

// Registry holds the available tools in registration order.
type Registry struct {
	tools map[string]*Tool
	order []string

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t

	r.mu.Lock()
	delete(r.schemas, t.Name)
	r.mu.Unlock()
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// List returns the registered tools in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns every tool as a function-calling definition, in
// registration order.
func (r *Registry) Definitions() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name].Definition())
	}
	return result
}

// Filter returns a registry limited by include and exclude lists.
// A non-empty include list wins; otherwise excluded names are dropped.
// Names that match no tool are ignored.
func (r *Registry) Filter(include, exclude []string) *Registry {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	out := NewRegistry()
	for _, name := range r.order {
		if len(include) > 0 {
			if !includeSet[name] {
				continue
			}
		} else if excludeSet[name] {
			continue
		}
		out.Register(r.tools[name])
	}
	return out
}

// Execute validates args against the tool's input schema and runs the
// tool's handler. A schema that cannot be compiled does not block the
// call; the server gets to judge the arguments instead.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if tool.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := r.Validate(name, args); err != nil && !errors.Is(err, ErrSchema) {
		return nil, err
	}
	return tool.Handler(ctx, args)
}

// toSet converts a string slice to a set for O(1) lookups.
func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
