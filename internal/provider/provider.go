// Package provider implements LLM provider interfaces and clients.
package provider

import (
	"context"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/hooks"
)

// LLMProvider is the interface for LLM API clients. The runtime treats the
// model as a black-box request/response function with cost metadata.
type LLMProvider interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UtilityCaller makes cheap one-shot calls to a smaller model, used for
// side work like remedy suggestions. It reuses the main provider with a
// different model name.
type UtilityCaller struct {
	Provider LLMProvider
	Model    string
	// Hooks, when set, fires the util_model_call points around each call.
	Hooks *hooks.Runner
}

// Call sends a single system+user exchange to the utility model.
func (u *UtilityCaller) Call(ctx context.Context, system, user string) (string, error) {
	model := u.Model
	if model == "" {
		model = u.Provider.DefaultModel()
	}

	if u.Hooks != nil {
		u.Hooks.Fire(ctx, hooks.UtilModelCallBefore, "", map[string]any{
			"model":   model,
			"content": user,
		})
	}
	start := time.Now()
	resp, err := u.Provider.Chat(ctx, &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Model:       model,
		MaxTokens:   512,
		Temperature: 0,
	})
	if u.Hooks != nil {
		payload := map[string]any{
			"model":       model,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			payload["error"] = err.Error()
		} else {
			payload["content"] = resp.Content
		}
		u.Hooks.Fire(ctx, hooks.UtilModelCallAfter, "", payload)
	}
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
