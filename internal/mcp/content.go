package mcp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ContentBlock is a single content item in a tools/call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the decoded payload of a tools/call result.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ResultText renders a raw tools/call result as text for the model.
// Text blocks are joined with newlines and other blocks become inline
// markers such as "[image]". A payload without content blocks is
// returned verbatim. isError reports the server's isError flag.
func ResultText(raw json.RawMessage) (text string, isError bool) {
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil || len(result.Content) == 0 {
		return string(raw), result.IsError
	}
	return extractText(result.Content), result.IsError
}

// extractText joins all text content blocks into a single string.
func extractText(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}

// errorTextRe matches "SomethingError: message" up to the first escaped
// newline or the end of the line.
var errorTextRe = regexp.MustCompile(`(?im)(.*error): (.*?)(\\n|$)`)

// DetectError looks for an error report inside tool output or a stderr
// line, as many servers report failures in plain text rather than
// through isError.
func DetectError(text string) (kind, message string, ok bool) {
	m := errorTextRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
