package agent

import (
	"errors"
	"testing"
)

func TestParseActionPlain(t *testing.T) {
	a, err := ParseAction(`{"thoughts": ["check the file"], "headline": "Reading config", "tool_name": "read_file", "tool_args": {"path": "/etc/hosts"}}`)
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	if a.ToolName != "read_file" {
		t.Errorf("ToolName = %q", a.ToolName)
	}
	if a.Headline != "Reading config" {
		t.Errorf("Headline = %q", a.Headline)
	}
	if len(a.Thoughts) != 1 || a.Thoughts[0] != "check the file" {
		t.Errorf("Thoughts = %v", a.Thoughts)
	}
	if a.ToolArgs["path"] != "/etc/hosts" {
		t.Errorf("ToolArgs = %v", a.ToolArgs)
	}
}

func TestParseActionWrappedInProse(t *testing.T) {
	text := `Sure, I'll list the directory now.

{"thoughts": [], "headline": "Listing", "tool_name": "list_dir", "tool_args": {"path": "."}}

Let me know if that helps.`
	a, err := ParseAction(text)
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	if a.ToolName != "list_dir" {
		t.Errorf("ToolName = %q", a.ToolName)
	}
}

func TestParseActionFencedBlock(t *testing.T) {
	text := "Here's my action:\n```json\n{\"tool_name\": \"response\", \"tool_args\": {\"text\": \"done\"}}\n```"
	a, err := ParseAction(text)
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	if a.ToolName != "response" {
		t.Errorf("ToolName = %q", a.ToolName)
	}
}

func TestParseActionTrailingCommas(t *testing.T) {
	text := `{"thoughts": ["a", "b",], "tool_name": "exec", "tool_args": {"command": "ls",},}`
	a, err := ParseAction(text)
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	if a.ToolName != "exec" || a.ToolArgs["command"] != "ls" {
		t.Errorf("parsed %+v", a)
	}
}

func TestParseActionBracesInsideStrings(t *testing.T) {
	text := `{"tool_name": "response", "tool_args": {"text": "use {curly} braces and a \" quote"}}`
	a, err := ParseAction(text)
	if err != nil {
		t.Fatalf("ParseAction: %v", err)
	}
	if a.ToolArgs["text"] != `use {curly} braces and a " quote` {
		t.Errorf("text arg = %v", a.ToolArgs["text"])
	}
}

func TestParseActionMalformed(t *testing.T) {
	cases := []string{
		"",
		"just prose, no JSON at all",
		`{"tool_name": }`,
		`{"headline": "missing name", "tool_args": {}}`,
		"{unclosed",
	}
	for _, text := range cases {
		_, err := ParseAction(text)
		var malformed *MalformedActionError
		if !errors.As(err, &malformed) {
			t.Errorf("ParseAction(%q) err = %v, want MalformedActionError", text, err)
		}
	}
}

func TestParseActionDefaultsArgs(t *testing.T) {
	a, err := ParseAction(`{"tool_name": "response"}`)
	if err != nil {
		t.Fatal(err)
	}
	if a.ToolArgs == nil {
		t.Error("ToolArgs not defaulted")
	}
}
