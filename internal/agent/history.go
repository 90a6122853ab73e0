package agent

import (
	"github.com/nugget/relay/internal/llm"
)

// DefaultTruncateLen is the number of characters of an older tool
// result that is resent to the model.
const DefaultTruncateLen = 100

// Entry is one record in the conversation history. The set of entry
// types is closed: SystemText, UserText, AssistantText, ToolCallRecord
// and ToolResultRecord.
type Entry interface {
	entry()
}

// SystemText is the developer/system prompt.
type SystemText struct {
	Text string
}

// UserText is one line of user input.
type UserText struct {
	Text string
}

// AssistantText is the text part of a completion. It is recorded even
// when empty so that the tool calls that follow it have an owner.
type AssistantText struct {
	Text string
}

// ToolCallRecord is a tool call requested by the model.
type ToolCallRecord struct {
	CallID    string
	Name      string
	Arguments string
	Batch     int
}

// ToolResultRecord is the outcome of a tool call. Output is the full
// result; Truncated is the short form resent once the batch is over.
type ToolResultRecord struct {
	CallID    string
	Name      string
	Output    string
	Truncated string
	Failed    bool
	Batch     int
}

func (SystemText) entry()       {}
func (UserText) entry()         {}
func (AssistantText) entry()    {}
func (ToolCallRecord) entry()   {}
func (ToolResultRecord) entry() {}

// Truncate returns the first n characters of s, or s unchanged when it
// is not longer than n.
func Truncate(s string, n int) string {
	if n < 0 {
		return s
	}
	// Fast path: byte length bounds rune count.
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// History is the append-only conversation record.
type History struct {
	entries     []Entry
	truncateLen int
}

// NewHistory creates an empty history. truncateLen <= 0 selects
// DefaultTruncateLen.
func NewHistory(truncateLen int) *History {
	if truncateLen <= 0 {
		truncateLen = DefaultTruncateLen
	}
	return &History{truncateLen: truncateLen}
}

// Append adds an entry. ToolResultRecords get their Truncated form
// filled in when it is empty.
func (h *History) Append(e Entry) {
	if r, ok := e.(ToolResultRecord); ok && r.Truncated == "" {
		r.Truncated = Truncate(r.Output, h.truncateLen)
		e = r
	}
	h.entries = append(h.entries, e)
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the authoritative record.
func (h *History) Entries() []Entry {
	return append([]Entry(nil), h.entries...)
}

// Messages builds the view resent to the model. Tool results from
// currentBatch are sent in full; results from any other batch are sent
// in truncated form. An AssistantText and the ToolCallRecords of the
// batch that follows it become a single assistant message, placed
// ahead of that batch's tool results.
func (h *History) Messages(currentBatch int) []llm.Message {
	msgs := make([]llm.Message, 0, len(h.entries))
	open, openBatch := -1, -1 // assistant message collecting tool calls

	for _, e := range h.entries {
		switch v := e.(type) {
		case SystemText:
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: v.Text})
			open = -1
		case UserText:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: v.Text})
			open = -1
		case AssistantText:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: v.Text})
			open, openBatch = len(msgs)-1, -1
		case ToolCallRecord:
			if open < 0 || (openBatch >= 0 && openBatch != v.Batch) {
				msgs = append(msgs, llm.Message{Role: llm.RoleAssistant})
				open = len(msgs) - 1
			}
			openBatch = v.Batch
			msgs[open].ToolCalls = append(msgs[open].ToolCalls, llm.ToolCall{
				ID:        v.CallID,
				Name:      v.Name,
				Arguments: v.Arguments,
			})
		case ToolResultRecord:
			content := v.Truncated
			if v.Batch == currentBatch {
				content = v.Output
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: v.CallID})
		}
	}
	return msgs
}
