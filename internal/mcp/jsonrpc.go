package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonrpcVersion is the JSON-RPC protocol version used by MCP.
const jsonrpcVersion = "2.0"

// Standard JSON-RPC error codes used when answering server requests.
const codeMethodNotFound = -32601

// Request is a JSON-RPC 2.0 request message.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

// NewRequest creates a JSON-RPC 2.0 request with the given method and params.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
		ID:      id,
	}
}

// Notification is a JSON-RPC 2.0 notification: no ID, no reply.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification creates a JSON-RPC 2.0 notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// Response is a JSON-RPC 2.0 response message. A well-formed response
// carries exactly one of Result or Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// hasResult reports whether the response carries a non-null result.
func (r *Response) hasResult() bool {
	trimmed := bytes.TrimSpace(r.Result)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// serverRequest is a request sent by the server to the client.
type serverRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// errorReply answers a server request the client cannot serve.
type errorReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   RPCError        `json:"error"`
}

// incoming classifies one line read from the server.
type incoming struct {
	response     *Response
	notification string         // method of a server notification
	request      *serverRequest // server-to-client request
}

// decodeLine parses one line from the server. Anything that is not a
// JSON object, or is an empty object, is ErrMalformedResponse.
func decodeLine(line []byte) (incoming, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return incoming{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(fields) == 0 {
		return incoming{}, fmt.Errorf("%w: empty object", ErrMalformedResponse)
	}

	_, hasID := fields["id"]
	if rawMethod, ok := fields["method"]; ok {
		var method string
		if err := json.Unmarshal(rawMethod, &method); err != nil {
			return incoming{}, fmt.Errorf("%w: method: %v", ErrMalformedResponse, err)
		}
		if !hasID {
			return incoming{notification: method}, nil
		}
		return incoming{request: &serverRequest{ID: fields["id"], Method: method}}, nil
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return incoming{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !hasID {
		return incoming{}, fmt.Errorf("%w: response without id", ErrMalformedResponse)
	}
	return incoming{response: &resp}, nil
}
