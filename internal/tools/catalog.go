package tools

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/nugget/relay/internal/mcp"
)

// DefaultDescription is used for tools the server left undescribed.
const DefaultDescription = "No description provided"

// Caller invokes a tool on an MCP server. *mcp.Session satisfies it.
type Caller interface {
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
}

// FromDescriptor converts an MCP tool descriptor into a function
// definition. The descriptor is not modified; parameters are a deep
// copy of its input schema with "required" set to every declared
// property name, sorted.
func FromDescriptor(d mcp.ToolDescriptor) Tool {
	params, _ := deepCopy(d.InputSchema).(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	params["required"] = RequiredProperties(d.InputSchema)

	desc := d.Description
	if desc == "" {
		desc = DefaultDescription
	}

	return Tool{
		Name:        d.Name,
		Description: desc,
		Parameters:  params,
		InputSchema: d.InputSchema,
	}
}

// RequiredProperties returns the sorted property names declared by
// schema. A schema without properties yields an empty, non-nil slice.
func RequiredProperties(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog builds a registry from descriptors, in server order, with
// each tool's handler proxying to caller.
func Catalog(caller Caller, descs []mcp.ToolDescriptor) *Registry {
	r := NewRegistry()
	for _, d := range descs {
		t := FromDescriptor(d)
		name := d.Name
		t.Handler = func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return caller.CallTool(ctx, name, args)
		}
		r.Register(&t)
	}
	return r
}

// deepCopy clones the maps and slices of a decoded JSON value.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return val
	}
}
