// Package hooks implements the extension hook runner: named lifecycle
// points with ordered handlers, per-handler error isolation, and a mutable
// payload slot space shared along the handler chain.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Point names a position in the runtime lifecycle where handlers may
// observe or modify behavior.
type Point string

// The fixed hook point enumeration. The registry is populated once at
// process startup and read-only afterwards. ResponseStreamChunk and
// ErrorFormat are transport-side points: a streaming adapter fires the
// former as chunks arrive, and a channel fires the latter when rendering
// a delivery failure. The bundled CLI/Slack adapters deliver complete
// replies and leave both unfired.
const (
	AgentInit                Point = "agent_init"
	MonologueStart           Point = "monologue_start"
	MonologueEnd             Point = "monologue_end"
	MessageLoopStart         Point = "message_loop_start"
	MessageLoopEnd           Point = "message_loop_end"
	MessageLoopPromptsBefore Point = "message_loop_prompts_before"
	MessageLoopPromptsAfter  Point = "message_loop_prompts_after"
	SystemPrompt             Point = "system_prompt"
	BeforeMainLLMCall        Point = "before_main_llm_call"
	AfterMainLLMCall         Point = "after_main_llm_call"
	UtilModelCallBefore      Point = "util_model_call_before"
	UtilModelCallAfter       Point = "util_model_call_after"
	ToolExecuteBefore        Point = "tool_execute_before"
	ToolExecuteAfter         Point = "tool_execute_after"
	ResponseStreamChunk      Point = "response_stream_chunk"
	HistoryAdd               Point = "history_add"
	HistoryTrim              Point = "history_trim"
	Intervention             Point = "intervention"
	RepeatNudge              Point = "repeat_nudge"
	CheckpointSaved          Point = "checkpoint_saved"
	CheckpointRestored       Point = "checkpoint_restored"
	ErrorFormat              Point = "error_format"
	ReplyFormat              Point = "reply_format"
	ProcessChainEnd          Point = "process_chain_end"
)

// Event carries hook-specific data through a handler chain. Payload is the
// mutable slot space: a handler may read and replace named slots, and later
// handlers see mutations made by earlier ones.
type Event struct {
	Point        Point
	Conversation string
	Payload      map[string]any
	// Errs collects handler failures in invocation order. The runner never
	// stops on one, but callers with veto semantics (tool_execute_before)
	// inspect it.
	Errs []error
}

// String returns a string slot, or empty when absent or mistyped.
func (e *Event) String(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// HandlerFunc is the uniform handler interface. Synchronous handlers
// implement it directly; asynchronous work is adapted through Async so the
// runner has one dispatch path.
type HandlerFunc func(ctx context.Context, ev *Event) error

// Async adapts a handler to run on its own goroutine. The runner still
// awaits its result, so ordering and slot semantics are preserved; the
// handler itself may block on I/O without holding the caller's stack.
func Async(fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, ev *Event) error {
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic: %v", r)
				}
			}()
			done <- fn(ctx, ev)
		}()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type registration struct {
	name string
	fn   HandlerFunc
}

// Runner dispatches events to registered handlers in registration order.
type Runner struct {
	mu       sync.RWMutex
	handlers map[Point][]registration
}

// NewRunner creates an empty hook runner.
func NewRunner() *Runner {
	return &Runner{handlers: make(map[Point][]registration)}
}

// Register appends a named handler for a hook point. Handlers run in
// registration order.
func (r *Runner) Register(p Point, name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[p] = append(r.handlers[p], registration{name: name, fn: fn})
}

// HandlerCount returns the number of handlers registered for a point.
func (r *Runner) HandlerCount(p Point) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[p])
}

// Fire invokes every handler for the point in order. Each handler is
// individually isolated: a panic or returned error is logged with the hook
// name and handler identity, and the remaining handlers still run. The
// event (with any slot mutations) is returned to the caller.
func (r *Runner) Fire(ctx context.Context, p Point, conversation string, payload map[string]any) *Event {
	if payload == nil {
		payload = make(map[string]any)
	}
	ev := &Event{Point: p, Conversation: conversation, Payload: payload}

	r.mu.RLock()
	regs := r.handlers[p]
	r.mu.RUnlock()

	for _, reg := range regs {
		if err := invoke(ctx, reg, ev); err != nil {
			slog.Error("Hook handler failed", "hook", string(p), "handler", reg.name, "error", err)
			ev.Errs = append(ev.Errs, fmt.Errorf("%s: %w", reg.name, err))
		}
	}
	return ev
}

func invoke(ctx context.Context, reg registration, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return reg.fn(ctx, ev)
}
