package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ClientInfo identifies relay to the server during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo is what the server advertises in its initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor is an MCP tool as returned by tools/list.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

type toolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// sessionState tracks the handshake.
type sessionState int

const (
	stateNew sessionState = iota
	stateReady
	stateFailed // handshake started but did not complete
	stateClosed
)

// SessionConfig tunes a Session.
type SessionConfig struct {
	// CallTimeout bounds one request/response exchange. Zero waits
	// until the transport answers or closes.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// Session is a JSON-RPC 2.0 client for one MCP server. It owns the
// request counter and the handshake state; exchanges are serialized.
type Session struct {
	transport LineTransport
	logger    *slog.Logger
	timeout   time.Duration

	mu       sync.Mutex
	nextID   int64
	state    sessionState
	server   ServerInfo
	protocol string
}

// NewSession creates a session over transport. The transport must
// already be connected; the first call must be Initialize.
func NewSession(transport LineTransport, cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		transport: transport,
		logger:    logger,
		timeout:   cfg.CallTimeout,
		nextID:    1,
	}
}

// Initialize performs the MCP handshake: the initialize request, then
// the notifications/initialized notification. It must be the first
// call on a session and may only succeed once.
func (s *Session) Initialize(ctx context.Context, client ClientInfo, protocolVersion string) (ServerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateNew:
	case stateFailed:
		return ServerInfo{}, fmt.Errorf("%w: previous handshake failed", ErrHandshake)
	default:
		return ServerInfo{}, fmt.Errorf("%w: initialize called twice", ErrProtocolOrder)
	}

	// The initialize request consumes an id and may reach the server, so
	// any failure from here on leaves the session unusable.
	s.state = stateFailed

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      client,
	}

	raw, err := s.exchange(ctx, "initialize", params)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ServerInfo{}, fmt.Errorf("%w: decode initialize result: %v", ErrHandshake, err)
	}

	if err := s.notify(ctx, "notifications/initialized", nil); err != nil {
		return ServerInfo{}, fmt.Errorf("%w: send initialized notification: %w", ErrHandshake, err)
	}

	s.state = stateReady
	s.server = result.ServerInfo
	s.protocol = result.ProtocolVersion

	s.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)
	return result.ServerInfo, nil
}

// ListTools calls tools/list and returns the server's tool descriptors.
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready("tools/list"); err != nil {
		return nil, err
	}

	raw, err := s.exchange(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrToolList, err)
	}

	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decode result: %v", ErrToolList, err)
	}

	s.logger.Info("discovered MCP tools", "count", len(result.Tools))
	return result.Tools, nil
}

// CallTool invokes a tool through tools/call and returns the raw result
// payload. Any failure is a *ToolCallError.
func (s *Session) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready("tools/call"); err != nil {
		return nil, &ToolCallError{Tool: name, Err: err}
	}

	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}

	start := time.Now()
	raw, err := s.exchange(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, &ToolCallError{Tool: name, Err: err}
	}

	s.logger.Debug("MCP tool call complete",
		"tool", name,
		"elapsed", time.Since(start),
		"result_bytes", len(raw),
	)
	return raw, nil
}

// Ping checks that the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready("ping"); err != nil {
		return err
	}
	_, err := s.exchange(ctx, "ping", nil)
	return err
}

// Server returns the server identity recorded by Initialize.
func (s *Session) Server() ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// ProtocolVersion returns the protocol version the server answered with.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocol
}

// Close ends the session and closes its transport.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	s.logger.Info("closing MCP session")
	return s.transport.Close()
}

// ready checks that the handshake has completed. Caller must hold s.mu.
func (s *Session) ready(method string) error {
	switch s.state {
	case stateReady:
		return nil
	case stateClosed:
		return fmt.Errorf("%w: session closed", ErrTransportClosed)
	case stateFailed:
		return fmt.Errorf("%w: %s after failed handshake", ErrHandshake, method)
	default:
		return fmt.Errorf("%w: %s before initialize", ErrProtocolOrder, method)
	}
}

// exchange sends one request and reads lines until its reply arrives.
// Server notifications are logged and skipped and server requests are
// refused; anything else must be the reply to this request. Caller
// must hold s.mu.
func (s *Session) exchange(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	id := s.nextID
	s.nextID++

	data, err := json.Marshal(NewRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	if err := s.transport.SendLine(ctx, data); err != nil {
		return nil, err
	}

	for {
		line, err := s.transport.ReadLine(ctx)
		if err != nil {
			return nil, err
		}

		msg, err := decodeLine(line)
		if err != nil {
			s.logger.Debug("malformed MCP reply", "method", method, "id", id, "line", string(line))
			return nil, err
		}

		switch {
		case msg.notification != "":
			s.logger.Debug("skipping MCP server notification", "method", msg.notification)
			continue
		case msg.request != nil:
			if err := s.refuse(ctx, msg.request); err != nil {
				return nil, err
			}
			continue
		}

		resp := msg.response
		if resp.ID != id {
			return nil, fmt.Errorf("%w: %w (got %d, want %d)", ErrMalformedResponse, errUnexpectedResponse, resp.ID, id)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		if !resp.hasResult() {
			return nil, errMissingResult
		}
		return resp.Result, nil
	}
}

// notify sends a notification. Notifications never consume a request ID.
// Caller must hold s.mu.
func (s *Session) notify(ctx context.Context, method string, params any) error {
	data, err := json.Marshal(NewNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", method, err)
	}
	return s.transport.SendLine(ctx, data)
}

// refuse answers a server-to-client request with "method not found";
// relay advertises no client capabilities. Caller must hold s.mu.
func (s *Session) refuse(ctx context.Context, req *serverRequest) error {
	s.logger.Debug("refusing MCP server request", "method", req.Method)
	data, err := json.Marshal(errorReply{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
		Error: RPCError{
			Code:    codeMethodNotFound,
			Message: "method not found: " + req.Method,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal error reply: %w", err)
	}
	return s.transport.SendLine(ctx, data)
}
