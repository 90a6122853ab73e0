package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks args against the named tool's input schema. The
// compiled schema is cached per tool until the tool is re-registered.
// Tools without a schema accept any JSON object.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	tool := r.Get(name)
	if tool == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArguments, name, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return fmt.Errorf("%w: %s: arguments must be a JSON object", ErrInvalidArguments, name)
	}

	schema, err := r.compiled(tool)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArguments, name, err)
	}
	return nil
}

func (r *Registry) compiled(tool *Tool) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.schemas[tool.Name]; ok {
		return s, nil
	}

	if len(tool.InputSchema) == 0 {
		r.schemas[tool.Name] = nil
		return nil, nil
	}

	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchema, tool.Name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchema, tool.Name, err)
	}
	s, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchema, tool.Name, err)
	}
	r.schemas[tool.Name] = s
	return s, nil
}
