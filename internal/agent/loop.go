// Package agent implements the conversation loop that drives the model
// and resolves its tool calls through the MCP session.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/relay/internal/llm"
	"github.com/nugget/relay/internal/mcp"
	"github.com/nugget/relay/internal/usage"
)

var (
	// ErrCompletion means the model could not be reached within the
	// configured number of attempts. It ends the session.
	ErrCompletion = errors.New("completion failed")

	// ErrToolRoundLimit means the model kept requesting tools past the
	// configured number of rounds in one turn.
	ErrToolRoundLimit = errors.New("tool round limit reached")
)

// State is the position of the loop in a turn.
type State int32

const (
	StateAwaitingUserInput State = iota
	StateRequestingCompletion
	StateExecutingTools
	StateIdle
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingUserInput:
		return "awaiting_user_input"
	case StateRequestingCompletion:
		return "requesting_completion"
	case StateExecutingTools:
		return "executing_tools"
	case StateIdle:
		return "idle"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Executor runs tool calls and describes the available tools.
// *tools.Registry satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
	Definitions() []map[string]any
}

// Recorder receives usage for each completion and tool call.
// *usage.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, rec usage.Record) error
	RecordToolCall(ctx context.Context, rec usage.ToolCall) error
}

// Approver is asked before each tool call. Returning false declines
// the call; the model is told it was declined.
type Approver func(ctx context.Context, call llm.ToolCall) (bool, error)

// EventKind identifies a loop event.
type EventKind int

const (
	// KindToolCallStart fires before a tool is invoked.
	KindToolCallStart EventKind = iota

	// KindToolCallDone fires when a tool result has been recorded.
	KindToolCallDone

	// KindAnswer fires when the model produces its final answer.
	KindAnswer
)

// Event reports loop progress to the console.
type Event struct {
	Kind EventKind

	// Call is set for tool events.
	Call llm.ToolCall

	// Output and Failed are set for KindToolCallDone.
	Output string
	Failed bool

	// Text is set for KindAnswer.
	Text string
}

// EventHandler receives loop events.
type EventHandler func(Event)

// Config tunes a Loop.
type Config struct {
	Model         string
	Provider      string
	SessionID     string
	SystemPrompt  string
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxToolRounds int // 0 = unlimited
	TruncateLen   int
}

// Loop is the conversation loop. Turns are serialized; all completions
// and tool calls within a turn are strictly sequential.
type Loop struct {
	logger   *slog.Logger
	llm      llm.Client
	tools    Executor
	cfg      Config
	history  *History
	onEvent  EventHandler
	approve  Approver
	recorder Recorder

	mu    sync.Mutex // serializes turns
	state atomic.Int32
	batch int
	fatal error
}

// NewLoop creates a loop. The system prompt, if any, becomes the first
// history entry.
func NewLoop(logger *slog.Logger, client llm.Client, tools Executor, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	l := &Loop{
		logger:  logger,
		llm:     client,
		tools:   tools,
		cfg:     cfg,
		history: NewHistory(cfg.TruncateLen),
	}
	if cfg.SystemPrompt != "" {
		l.history.Append(SystemText{Text: cfg.SystemPrompt})
	}
	return l
}

// SetEventHandler installs the event callback.
func (l *Loop) SetEventHandler(fn EventHandler) { l.onEvent = fn }

// SetApprover installs the tool-call approval hook.
func (l *Loop) SetApprover(fn Approver) { l.approve = fn }

// SetRecorder installs the usage recorder.
func (l *Loop) SetRecorder(r Recorder) { l.recorder = r }

// State returns the current loop state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// History returns a copy of the authoritative conversation record.
func (l *Loop) History() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history.Entries()
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Turn runs one outer turn: the user's text goes to the model, tool
// calls are resolved batch by batch, and the model's final text is
// returned. ErrCompletion and transport failures are fatal: the loop
// refuses further turns.
func (l *Loop) Turn(ctx context.Context, userText string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fatal != nil {
		return "", l.fatal
	}

	l.history.Append(UserText{Text: userText})

	resp, err := l.complete(ctx, 0)
	if err != nil {
		return "", l.fail(err)
	}

	for rounds := 0; ; rounds++ {
		l.history.Append(AssistantText{Text: resp.Message.Content})

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			l.setState(StateIdle)
			l.emit(Event{Kind: KindAnswer, Text: resp.Message.Content})
			l.setState(StateAwaitingUserInput)
			return resp.Message.Content, nil
		}

		if l.cfg.MaxToolRounds > 0 && rounds >= l.cfg.MaxToolRounds {
			l.logger.Warn("tool round limit reached", "rounds", rounds, "pending_calls", len(calls))
			l.setState(StateAwaitingUserInput)
			return resp.Message.Content, fmt.Errorf("%w: %d rounds", ErrToolRoundLimit, rounds)
		}

		l.batch++
		l.setState(StateExecutingTools)
		for _, call := range calls {
			if err := l.runTool(ctx, call, l.batch); err != nil {
				return "", l.fail(err)
			}
		}

		resp, err = l.complete(ctx, l.batch)
		if err != nil {
			return "", l.fail(err)
		}
	}
}

func (l *Loop) fail(err error) error {
	l.fatal = err
	l.setState(StateFailed)
	l.logger.Error("conversation loop stopped", "error", err)
	return err
}

func (l *Loop) emit(e Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}

// complete requests a completion, retrying failures with a fixed delay.
func (l *Loop) complete(ctx context.Context, batch int) (*llm.ChatResponse, error) {
	l.setState(StateRequestingCompletion)

	msgs := l.history.Messages(batch)
	defs := l.tools.Definitions()

	var lastErr error
	attempts := 0
	for attempts < l.cfg.MaxAttempts {
		attempts++

		resp, err := l.llm.Chat(ctx, l.cfg.Model, msgs, defs)
		if err == nil && resp == nil {
			err = errors.New("empty response")
		}
		if err == nil {
			l.recordCompletion(ctx, resp, attempts)
			return resp, nil
		}

		lastErr = err
		l.logger.Warn("completion request failed",
			"attempt", attempts,
			"max_attempts", l.cfg.MaxAttempts,
			"error", err,
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrCompletion, attempts, ctxErr)
		}
		if attempts == l.cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(l.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrCompletion, attempts, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrCompletion, attempts, lastErr)
}

// runTool resolves one tool call and records it. Only errors that leave
// the session unusable are returned; everything else becomes a failed
// result the model can react to.
func (l *Loop) runTool(ctx context.Context, call llm.ToolCall, batch int) error {
	if call.ID == "" {
		call.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if call.Arguments == "" {
		call.Arguments = "{}"
	}

	l.history.Append(ToolCallRecord{
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Batch:     batch,
	})
	l.emit(Event{Kind: KindToolCallStart, Call: call})

	log := l.logger.With("tool", call.Name, "call_id", call.ID)
	log.Debug("tool call", "arguments", call.Arguments)

	start := time.Now()
	output, failed, err := l.invoke(ctx, call)
	elapsed := time.Since(start)
	if err != nil {
		l.recordToolCall(ctx, call, elapsed, true, err.Error())
		return err
	}

	l.history.Append(ToolResultRecord{
		CallID: call.ID,
		Name:   call.Name,
		Output: output,
		Failed: failed,
		Batch:  batch,
	})

	log.Info("tool call complete", "elapsed", elapsed, "failed", failed, "result_len", len(output))
	l.emit(Event{Kind: KindToolCallDone, Call: call, Output: output, Failed: failed})

	errText := ""
	if failed {
		errText = Truncate(output, 200)
	}
	l.recordToolCall(ctx, call, elapsed, failed, errText)
	return nil
}

func (l *Loop) invoke(ctx context.Context, call llm.ToolCall) (output string, failed bool, err error) {
	if l.approve != nil {
		ok, err := l.approve(ctx, call)
		if err != nil {
			return "", true, fmt.Errorf("approve tool call %s: %w", call.Name, err)
		}
		if !ok {
			return "error: tool call declined by user", true, nil
		}
	}

	raw, err := l.tools.Execute(ctx, call.Name, call.ArgumentsJSON())
	if err != nil {
		if mcp.IsFatal(err) {
			return "", true, err
		}
		l.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		return "error: " + err.Error(), true, nil
	}

	text, isError := mcp.ResultText(raw)
	if !isError {
		if kind, msg, ok := mcp.DetectError(text); ok {
			l.logger.Debug("tool output reports an error", "tool", call.Name, "kind", kind, "message", msg)
			isError = true
		}
	}
	return text, isError, nil
}

func (l *Loop) recordCompletion(ctx context.Context, resp *llm.ChatResponse, attempts int) {
	if l.recorder == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = l.cfg.Model
	}
	err := l.recorder.Record(ctx, usage.Record{
		SessionID:    l.cfg.SessionID,
		Model:        model,
		Provider:     l.cfg.Provider,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Attempts:     attempts,
	})
	if err != nil {
		l.logger.Warn("failed to record usage", "error", err)
	}
}

func (l *Loop) recordToolCall(ctx context.Context, call llm.ToolCall, elapsed time.Duration, failed bool, errText string) {
	if l.recorder == nil {
		return
	}
	err := l.recorder.RecordToolCall(context.WithoutCancel(ctx), usage.ToolCall{
		SessionID: l.cfg.SessionID,
		CallID:    call.ID,
		Tool:      call.Name,
		Duration:  elapsed,
		Failed:    failed,
		Error:     errText,
	})
	if err != nil {
		l.logger.Warn("failed to record tool call", "error", err)
	}
}
