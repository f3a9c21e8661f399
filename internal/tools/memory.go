package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/RelayClaw/RelayClaw/internal/memory"
)

// RememberTool saves a fact to the shared memory store.
type RememberTool struct {
	store *memory.Store
}

// NewRememberTool creates the remember tool.
func NewRememberTool(store *memory.Store) *RememberTool {
	return &RememberTool{store: store}
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Save a fact to long-term memory so it survives across conversations."
}

func (t *RememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember",
			},
			"area": map[string]any{
				"type":        "string",
				"description": "Optional memory area (default: main)",
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	content := GetString(args, "content", "")
	area := GetString(args, "area", "main")
	if content == "" {
		return &Result{Output: "Error: content is required", IsError: true}, nil
	}
	id, err := t.store.Save(ctx, area, content)
	if err != nil {
		return nil, fmt.Errorf("remember: %w", err)
	}
	return &Result{Output: fmt.Sprintf("Remembered (id %d).", id)}, nil
}

// RecallTool searches the memory store.
type RecallTool struct {
	store *memory.Store
}

// NewRecallTool creates the recall tool.
func NewRecallTool(store *memory.Store) *RecallTool {
	return &RecallTool{store: store}
}

func (t *RecallTool) Name() string { return "recall" }

func (t *RecallTool) Description() string {
	return "Search long-term memory for facts matching a query."
}

func (t *RecallTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Terms to search for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of facts to return (default: 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *RecallTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query := GetString(args, "query", "")
	limit := GetInt(args, "limit", 5)
	if query == "" {
		return &Result{Output: "Error: query is required", IsError: true}, nil
	}
	facts, err := t.store.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	if len(facts) == 0 {
		return &Result{Output: "No memories match: " + query}, nil
	}
	var sb strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&sb, "[%d] %s\n", f.ID, f.Content)
	}
	return &Result{Output: strings.TrimRight(sb.String(), "\n")}, nil
}

// ForgetTool deletes a fact by id.
type ForgetTool struct {
	store *memory.Store
}

// NewForgetTool creates the forget tool.
func NewForgetTool(store *memory.Store) *ForgetTool {
	return &ForgetTool{store: store}
}

func (t *ForgetTool) Name() string { return "forget" }

func (t *ForgetTool) Description() string {
	return "Delete a fact from long-term memory by its id."
}

func (t *ForgetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "integer",
				"description": "The id of the fact to forget",
			},
		},
		"required": []string{"id"},
	}
}

func (t *ForgetTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	id := GetInt(args, "id", 0)
	if id == 0 {
		return &Result{Output: "Error: id is required", IsError: true}, nil
	}
	ok, err := t.store.Delete(ctx, int64(id))
	if err != nil {
		return nil, fmt.Errorf("forget: %w", err)
	}
	if !ok {
		return &Result{Output: fmt.Sprintf("No memory with id %d.", id), IsError: true}, nil
	}
	return &Result{Output: fmt.Sprintf("Forgot memory %d.", id)}, nil
}
