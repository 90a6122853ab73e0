package tools

import "errors"

var (
	// ErrUnknownTool is returned when a call targets a tool that is not
	// in the registry: filtered out by configuration or never offered by
	// the server.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments means the model's arguments are not a JSON
	// object or do not satisfy the tool's input schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrSchema means the server's input schema could not be compiled.
	ErrSchema = errors.New("unusable tool input schema")
)
