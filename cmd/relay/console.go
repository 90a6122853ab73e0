package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/llm"
)

// resultPreview is how much of a tool result the console echoes.
const resultPreview = 100

type lineResult struct {
	text string
	err  error
}

// console owns stdin. A single reader goroutine feeds lines so that a
// blocked read never outlives a cancelled prompt and the approval prompt
// shares the same input stream as the conversation.
type console struct {
	out    io.Writer // answers and prompts
	status io.Writer // tool call progress
	lines  chan lineResult
}

func newConsole(in io.Reader, out, status io.Writer) *console {
	c := &console{
		out:    out,
		status: status,
		lines:  make(chan lineResult),
	}
	go c.scan(in)
	return c
}

func (c *console) scan(in io.Reader) {
	defer close(c.lines)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		c.lines <- lineResult{text: sc.Text()}
	}
	if err := sc.Err(); err != nil {
		c.lines <- lineResult{err: err}
	}
}

// readLine waits for the next input line. It returns io.EOF once input
// is exhausted.
func (c *console) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return r.text, r.err
	}
}

// approve asks before a tool call runs. An empty answer or "y" approves.
func (c *console) approve(ctx context.Context, call llm.ToolCall) (bool, error) {
	fmt.Fprintf(c.out, "Run %s %s? [Y/n] ", call.Name, call.Arguments)
	line, err := c.readLine(ctx)
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// event prints tool call progress.
func (c *console) event(e agent.Event) {
	switch e.Kind {
	case agent.KindToolCallStart:
		fmt.Fprintf(c.status, "→ %s %s\n", e.Call.Name, e.Call.Arguments)
	case agent.KindToolCallDone:
		status := "ok"
		if e.Failed {
			status = "failed"
		}
		preview := strings.Join(strings.Fields(e.Output), " ")
		fmt.Fprintf(c.status, "← %s %s: %s\n", e.Call.Name, status, agent.Truncate(preview, resultPreview))
	}
}
