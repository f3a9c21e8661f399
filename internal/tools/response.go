package tools

import (
	"context"
)

// ResponseTool delivers the agent's final answer. It is the only
// capability that terminates a turn.
type ResponseTool struct{}

// NewResponseTool creates the terminal response tool.
func NewResponseTool() *ResponseTool {
	return &ResponseTool{}
}

func (t *ResponseTool) Name() string { return "response" }

func (t *ResponseTool) Description() string {
	return "Deliver your final answer to the user and end the turn. Use this when the task is complete."
}

func (t *ResponseTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The final reply shown to the user",
			},
		},
		"required": []string{"text"},
	}
}

func (t *ResponseTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	text := GetString(args, "text", "")
	return &Result{Output: text, Terminal: true}, nil
}
