package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/nugget/relay/internal/mcp"
)

func decodeSchema(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	return m
}

func TestFromDescriptor(t *testing.T) {
	schema := decodeSchema(t, `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"options": {
				"type": "object",
				"properties": {"depth": {"type": "integer", "minimum": 1}}
			},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["path"]
	}`)

	tool := FromDescriptor(mcp.ToolDescriptor{
		Name:        "list_files",
		Description: "List files",
		InputSchema: schema,
	})

	if tool.Name != "list_files" || tool.Description != "List files" {
		t.Errorf("tool = %q / %q", tool.Name, tool.Description)
	}

	required, ok := tool.Parameters["required"].([]string)
	if !ok {
		t.Fatalf("required = %T, want []string", tool.Parameters["required"])
	}
	props := tool.Parameters["properties"].(map[string]any)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(required, keys) {
		t.Errorf("required = %v, want property keys %v", required, keys)
	}

	// Everything except required survives unchanged.
	for k, v := range schema {
		if k == "required" {
			continue
		}
		if !reflect.DeepEqual(tool.Parameters[k], v) {
			t.Errorf("parameters[%q] = %v, want %v", k, tool.Parameters[k], v)
		}
	}
}

func TestFromDescriptorNoAliasing(t *testing.T) {
	schema := decodeSchema(t, `{"type":"object","properties":{"q":{"type":"string"}}}`)
	tool := FromDescriptor(mcp.ToolDescriptor{Name: "search", InputSchema: schema})

	props := tool.Parameters["properties"].(map[string]any)
	props["q"].(map[string]any)["type"] = "number"

	orig := schema["properties"].(map[string]any)["q"].(map[string]any)["type"]
	if orig != "string" {
		t.Errorf("descriptor schema modified: type = %v", orig)
	}
	if _, ok := schema["required"]; ok {
		t.Error("descriptor schema gained a required key")
	}
}

func TestFromDescriptorDefaults(t *testing.T) {
	tests := []struct {
		name         string
		schema       map[string]any
		wantType     any
		wantRequired []string
	}{
		{name: "nil schema", schema: nil, wantType: "object", wantRequired: []string{}},
		{name: "no properties", schema: map[string]any{"type": "object"}, wantType: "object", wantRequired: []string{}},
		{name: "missing type", schema: map[string]any{"properties": map[string]any{"b": map[string]any{}, "a": map[string]any{}}}, wantType: "object", wantRequired: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := FromDescriptor(mcp.ToolDescriptor{Name: "t", InputSchema: tt.schema})
			if tool.Parameters["type"] != tt.wantType {
				t.Errorf("type = %v, want %v", tool.Parameters["type"], tt.wantType)
			}
			if got := tool.Parameters["required"]; !reflect.DeepEqual(got, tt.wantRequired) {
				t.Errorf("required = %#v, want %#v", got, tt.wantRequired)
			}
			if tool.Description != DefaultDescription {
				t.Errorf("description = %q, want %q", tool.Description, DefaultDescription)
			}
		})
	}
}

type fakeCaller struct {
	calls []string
	args  []string
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	f.calls = append(f.calls, name)
	f.args = append(f.args, string(args))
	return json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`), nil
}

func TestCatalog(t *testing.T) {
	caller := &fakeCaller{}
	descs := []mcp.ToolDescriptor{
		{Name: "read", InputSchema: map[string]any{"type": "object", "properties": map[string]any{"path": map[string]any{"type": "string"}}}},
		{Name: "write", Description: "Write a file"},
	}

	r := Catalog(caller, descs)
	if got := r.Names(); !reflect.DeepEqual(got, []string{"read", "write"}) {
		t.Fatalf("Names() = %v", got)
	}

	if _, err := r.Execute(context.Background(), "read", json.RawMessage(`{"path":"/tmp"}`)); err != nil {
		t.Fatalf("Execute(read): %v", err)
	}
	if _, err := r.Execute(context.Background(), "write", nil); err != nil {
		t.Fatalf("Execute(write): %v", err)
	}

	if !reflect.DeepEqual(caller.calls, []string{"read", "write"}) {
		t.Errorf("calls = %v", caller.calls)
	}
	if !reflect.DeepEqual(caller.args, []string{`{"path":"/tmp"}`, `{}`}) {
		t.Errorf("args = %v", caller.args)
	}
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name: "weather",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
				"days": map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []any{"city"},
		},
	})
	r.Register(&Tool{Name: "bare"})

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr error
	}{
		{name: "valid", tool: "weather", args: `{"city":"Austin","days":3}`},
		{name: "missing required", tool: "weather", args: `{"days":3}`, wantErr: ErrInvalidArguments},
		{name: "wrong type", tool: "weather", args: `{"city":5}`, wantErr: ErrInvalidArguments},
		{name: "below minimum", tool: "weather", args: `{"city":"Austin","days":0}`, wantErr: ErrInvalidArguments},
		{name: "not json", tool: "weather", args: `{city`, wantErr: ErrInvalidArguments},
		{name: "not an object", tool: "weather", args: `["Austin"]`, wantErr: ErrInvalidArguments},
		{name: "no schema", tool: "bare", args: `{"anything":true}`},
		{name: "unknown tool", tool: "nope", args: `{}`, wantErr: ErrUnknownTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.tool, json.RawMessage(tt.args))
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecuteSkipsBrokenSchema(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(&Tool{
		Name:        "odd",
		InputSchema: map[string]any{"type": 12},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			called = true
			return json.RawMessage(`null`), nil
		},
	})

	if err := r.Validate("odd", json.RawMessage(`{}`)); !errors.Is(err, ErrSchema) {
		t.Errorf("Validate() = %v, want ErrSchema", err)
	}
	if _, err := r.Execute(context.Background(), "odd", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Error("handler not called")
	}
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name:        "strict",
		InputSchema: map[string]any{"type": "object", "required": []any{"id"}},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			t.Error("handler called with invalid arguments")
			return nil, nil
		},
	})

	_, err := r.Execute(context.Background(), "strict", json.RawMessage(`{}`))
	if !errors.Is(err, ErrInvalidArguments) {
		t.Errorf("Execute() = %v, want ErrInvalidArguments", err)
	}
}
