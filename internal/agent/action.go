package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the structured payload the model emits to pick a capability.
type Action struct {
	Thoughts []string       `json:"thoughts"`
	Headline string         `json:"headline"`
	ToolName string         `json:"tool_name"`
	ToolArgs map[string]any `json:"tool_args"`
}

// MalformedActionError marks a payload the parser could not recover. It is
// routed back to the model as a corrective nudge, never to the recovery
// pipeline.
type MalformedActionError struct {
	Reason string
}

func (e *MalformedActionError) Error() string {
	return "malformed action: " + e.Reason
}

// ParseAction extracts an Action from the model's raw output. The payload
// may be wrapped in prose or a fenced code block and may contain trailing
// commas; all of these are repaired before unmarshalling.
func ParseAction(text string) (*Action, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &MalformedActionError{Reason: "empty response"}
	}

	candidate := stripCodeFence(text)
	candidate = extractJSONObject(candidate)
	if candidate == "" {
		return nil, &MalformedActionError{Reason: "no JSON object found"}
	}

	var action Action
	if err := json.Unmarshal([]byte(candidate), &action); err != nil {
		repaired := removeTrailingCommas(candidate)
		if err := json.Unmarshal([]byte(repaired), &action); err != nil {
			return nil, &MalformedActionError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
	}

	if action.ToolName == "" {
		return nil, &MalformedActionError{Reason: "missing tool_name"}
	}
	if action.ToolArgs == nil {
		action.ToolArgs = map[string]any{}
	}
	return &action, nil
}

// stripCodeFence unwraps the first fenced block when the payload arrived
// inside one.
func stripCodeFence(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return text
	}
	rest := text[start+3:]
	// Drop an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end != -1 {
		return rest[:end]
	}
	return rest
}

// extractJSONObject returns the first balanced top-level JSON object in
// text, respecting string literals and escapes.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// removeTrailingCommas drops commas that directly precede a closing brace
// or bracket, outside string literals.
func removeTrailingCommas(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			sb.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' && inString {
			sb.WriteByte(c)
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			sb.WriteByte(c)
			continue
		}
		if c == ',' && !inString {
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r') {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
