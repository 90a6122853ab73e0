package mcp

import "context"

// LineTransport is a bidirectional newline-delimited channel to an MCP
// server. Implementations are used by one Session at a time and need
// not support concurrent reads or concurrent writes.
type LineTransport interface {
	// SendLine writes line followed by a newline. It fails with
	// ErrTransportWrite when the stream is closed.
	SendLine(ctx context.Context, line []byte) error

	// ReadLine blocks until one line is available and returns it
	// without the trailing newline. End of stream, or a context that
	// ends while waiting, fails with ErrTransportClosed.
	ReadLine(ctx context.Context) ([]byte, error)

	// Close shuts the channel down and releases its resources.
	Close() error
}
