package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/buildinfo"
	"github.com/nugget/relay/internal/config"
	"github.com/nugget/relay/internal/llm"
	"github.com/nugget/relay/internal/mcp"
	"github.com/nugget/relay/internal/tools"
	"github.com/nugget/relay/internal/usage"
)

// connection is a ready MCP session and the tool catalog built from it.
type connection struct {
	session *mcp.Session
	server  mcp.ServerInfo
	tools   *tools.Registry
}

// Close ends the session and stops the server subprocess.
func (c *connection) Close() error {
	return c.session.Close()
}

// connect launches the configured server, performs the handshake and
// discovers the tool catalog. On error the subprocess is already stopped.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*connection, error) {
	command, args := cfg.Server.ServerCommand()

	transport := mcp.NewStdioTransport(mcp.StdioConfig{
		Command: command,
		Args:    args,
		Env:     cfg.Server.Env,
		Dir:     cfg.Server.Dir,
		Logger:  logger.With("component", "transport"),
	})
	if err := transport.Start(ctx); err != nil {
		return nil, err
	}

	session := mcp.NewSession(transport, mcp.SessionConfig{
		CallTimeout: cfg.Server.CallTimeout,
		Logger:      logger.With("component", "session"),
	})

	server, err := session.Initialize(ctx, mcp.ClientInfo{
		Name:    buildinfo.ClientName,
		Version: buildinfo.Version,
	}, cfg.Server.ProtocolVersion)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("connect to %s: %w", command, err)
	}

	descs, err := session.ListTools(ctx)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}

	catalog := tools.Catalog(session, descs).Filter(cfg.Server.IncludeTools, cfg.Server.ExcludeTools)
	logger.Info("connected to MCP server",
		"server", server.Name,
		"version", server.Version,
		"tools", catalog.Len(),
	)

	return &connection{session: session, server: server, tools: catalog}, nil
}

// pingTimeout bounds the startup reachability check of the model endpoint.
const pingTimeout = 5 * time.Second

// newLoop builds the completion client and the conversation loop. When a
// data directory is configured, usage is recorded to its ledger. The
// returned cleanup function must be called when the loop is done.
func newLoop(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry *tools.Registry) (*agent.Loop, func(), error) {
	client, err := llm.New(cfg.LLM, logger.With("component", "llm"))
	if err != nil {
		return nil, nil, err
	}

	// An unreachable endpoint is not fatal here; completions retry.
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn("model endpoint not reachable", "provider", cfg.LLM.Provider, "error", err)
	}
	cancel()

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("generate session id: %w", err)
	}

	loop := agent.NewLoop(logger.With("component", "agent"), client, registry, agent.Config{
		Model:         cfg.LLM.Model,
		Provider:      cfg.LLM.Provider,
		SessionID:     sessionID.String(),
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxAttempts:   cfg.Agent.MaxAttempts,
		RetryDelay:    cfg.Agent.RetryDelay,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		TruncateLen:   cfg.Agent.TruncateLen,
	})

	store, err := openUsage(cfg)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return loop, func() {}, nil
	}
	loop.SetRecorder(store)
	return loop, func() { store.Close() }, nil
}

// openUsage opens the usage ledger, or returns nil when no data
// directory is configured.
func openUsage(cfg *config.Config) (*usage.Store, error) {
	path := cfg.UsageDBPath()
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := usage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	return store, nil
}

// usageWindow returns the reporting window ending now.
func usageWindow(days int) (time.Time, time.Time) {
	end := time.Now()
	return end.AddDate(0, 0, -days), end
}
