// Package tools provides the capability framework and implementations for
// the agent.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Result is what a capability hands back to the dispatcher.
type Result struct {
	// Output is the text appended to history as the tool-result turn.
	Output string
	// IsError marks the output as a failure description.
	IsError bool
	// Terminal true ends the turn; the output becomes the agent's reply.
	// Exactly one registered tool sets it under normal operation.
	Terminal bool
}

// Tool is the interface that all agent capabilities must implement.
type Tool interface {
	// Name returns the capability identifier the model uses to select it.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool arguments.
	Parameters() map[string]any
	// Execute runs the capability with the given arguments. A returned
	// error means the capability itself failed and is routed to the
	// recovery pipeline; expected problems (missing file, bad argument)
	// should instead come back as a Result with IsError set.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// UntrustedSource is an optional interface for capabilities that fetch
// external content. Their output is wrapped in untrusted-data delimiters
// before it reaches history.
type UntrustedSource interface {
	Tool
	Untrusted() bool
}

// IsUntrusted reports whether a tool's output must be wrapped.
func IsUntrusted(t Tool) bool {
	if u, ok := t.(UntrustedSource); ok {
		return u.Untrusted()
	}
	return false
}

// Registry manages capability registration and lookup. It is populated
// once at startup and read-only afterwards.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	result := make([]Tool, 0, len(r.tools))
	for _, name := range r.Names() {
		result = append(result, r.tools[name])
	}
	return result
}

// Manifest renders a prompt section describing every capability: name,
// description, and argument schema.
func (r *Registry) Manifest() string {
	var sb strings.Builder
	for _, tool := range r.List() {
		sb.WriteString(fmt.Sprintf("### %s\n%s\n", tool.Name(), tool.Description()))
		if params := tool.Parameters(); params != nil {
			if props, ok := params["properties"].(map[string]any); ok && len(props) > 0 {
				keys := make([]string, 0, len(props))
				for k := range props {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				sb.WriteString("Arguments: " + strings.Join(keys, ", ") + "\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// GetString extracts a string argument with a default value.
func GetString(args map[string]any, key string, defaultVal string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int argument with a default value.
func GetInt(args map[string]any, key string, defaultVal int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool argument with a default value.
func GetBool(args map[string]any, key string, defaultVal bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
