// Package mcp implements the client side of the Model Context Protocol
// over a subprocess's standard input and output.
//
// The package has two layers. A LineTransport owns the channel: the
// stdio implementation spawns the tool server, writes one JSON object
// per line to its stdin, reads one line at a time from its stdout and
// drains stderr into the logger. A Session speaks JSON-RPC 2.0 on top
// of it: it numbers requests from 1, enforces the initialize handshake
// before anything else, and exposes tools/list and tools/call.
//
// Exchanges are strictly sequential. Each request is written and the
// next reply line is read before another request may start, so replies
// are correlated by position and then checked against the request ID.
package mcp
