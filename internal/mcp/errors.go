package mcp

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package matches one of
// these with errors.Is.
var (
	ErrProcessStart       = errors.New("mcp: process start failed")
	ErrTransportWrite     = errors.New("mcp: transport write failed")
	ErrTransportClosed    = errors.New("mcp: transport closed")
	ErrHandshake          = errors.New("mcp: handshake failed")
	ErrProtocolOrder      = errors.New("mcp: protocol order violation")
	ErrToolList           = errors.New("mcp: tools/list failed")
	ErrToolCall           = errors.New("mcp: tool call failed")
	ErrMalformedResponse  = errors.New("mcp: malformed response")
	errMissingResult      = errors.New("response has no result")
	errUnexpectedResponse = errors.New("response id does not match request")
)

// ToolCallError reports a failed tools/call exchange. It matches both
// ErrToolCall and the underlying cause, so callers can still detect
// ErrTransportClosed through it.
type ToolCallError struct {
	Tool string
	Err  error
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("call tool %s: %v", e.Tool, e.Err)
}

// Unwrap exposes the category and the cause to errors.Is and errors.As.
func (e *ToolCallError) Unwrap() []error {
	return []error{ErrToolCall, e.Err}
}

// IsFatal reports whether err leaves the session unusable: the transport
// is gone or the subprocess never started.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, ErrTransportWrite) ||
		errors.Is(err, ErrProcessStart)
}
