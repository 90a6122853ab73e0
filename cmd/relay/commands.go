package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/config"
)

// runChat runs the interactive conversation until "quit", end of input
// or cancellation.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}

	conn, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	loop, cleanup, err := newLoop(ctx, cfg, logger, conn.tools)
	if err != nil {
		return err
	}
	defer cleanup()

	con := newConsole(stdin, stdout, stdout)
	loop.SetEventHandler(con.event)
	if cfg.Agent.ConfirmTools {
		loop.SetApprover(con.approve)
	}

	fmt.Fprintf(stdout, "Connected to %s with tools: %s\n", serverLabel(conn), strings.Join(conn.tools.Names(), ", "))
	fmt.Fprintln(stdout, "Type your message, or \"quit\" to exit.")

	for {
		fmt.Fprint(stdout, "> ")
		line, err := con.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				fmt.Fprintln(stdout)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		answer, err := loop.Turn(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, agent.ErrToolRoundLimit) {
				fmt.Fprintf(stdout, "(%v)\n", err)
				continue
			}
			return fmt.Errorf("chat: %w", err)
		}
		fmt.Fprintln(stdout, answer)
	}
}

// runAsk answers a single question. Tool progress goes to stderr so that
// stdout carries only the answer.
func runAsk(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options, question string) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}

	conn, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	loop, cleanup, err := newLoop(ctx, cfg, logger, conn.tools)
	if err != nil {
		return err
	}
	defer cleanup()

	con := newConsole(stdin, stderr, stderr)
	loop.SetEventHandler(con.event)
	if cfg.Agent.ConfirmTools {
		loop.SetApprover(con.approve)
	}

	answer, err := loop.Turn(ctx, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, answer)
	return nil
}

// runTools prints the catalog the model would see.
func runTools(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	cfg, logger, err := setup(stderr, opts)
	if err != nil {
		return err
	}

	conn, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(conn.tools.Definitions())
	}

	fmt.Fprintf(stdout, "%s: %d tools\n", serverLabel(conn), conn.tools.Len())
	for _, t := range conn.tools.List() {
		fmt.Fprintf(stdout, "  %s\n", t.Name)
		fmt.Fprintf(stdout, "      %s\n", t.Description)
		props, _ := t.Parameters["properties"].(map[string]any)
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			typ := "any"
			if p, ok := props[name].(map[string]any); ok {
				if s, ok := p["type"].(string); ok {
					typ = s
				}
			}
			fmt.Fprintf(stdout, "      - %s (%s)\n", name, typ)
		}
	}
	return nil
}

// runUsage reports the usage ledger for the last days.
func runUsage(ctx context.Context, stdout, stderr io.Writer, opts options, days int) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	store, err := openUsage(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("usage: data_dir is not configured")
	}
	defer store.Close()

	start, end := usageWindow(days)
	total, err := store.Summary(ctx, start, end)
	if err != nil {
		return err
	}
	byModel, err := store.SummaryByModel(ctx, start, end)
	if err != nil {
		return err
	}
	toolStats, err := store.ToolStats(ctx, start, end)
	if err != nil {
		return err
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"days":     days,
			"total":    total,
			"by_model": byModel,
			"tools":    toolStats,
		})
	}

	fmt.Fprintf(stdout, "Last %d days: %d completions, %d input tokens, %d output tokens\n",
		days, total.TotalRecords, total.TotalInputTokens, total.TotalOutputTokens)
	for _, model := range sortedKeys(byModel) {
		s := byModel[model]
		fmt.Fprintf(stdout, "  %-24s %6d completions %10d in %10d out\n",
			model, s.TotalRecords, s.TotalInputTokens, s.TotalOutputTokens)
	}
	if len(toolStats) > 0 {
		fmt.Fprintln(stdout, "Tools:")
	}
	for _, name := range sortedKeys(toolStats) {
		s := toolStats[name]
		fmt.Fprintf(stdout, "  %-24s %6d calls %4d failed %10s total\n",
			name, s.Calls, s.Failures, s.Total)
	}
	return nil
}

func serverLabel(c *connection) string {
	if c.server.Version == "" {
		return c.server.Name
	}
	return c.server.Name + " " + c.server.Version
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
