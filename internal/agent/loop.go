// Package agent implements the autonomous conversation loop: prompt
// assembly, model calls, capability dispatch, repeat detection,
// checkpointing and budget enforcement.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/checkpoint"
	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/hooks"
	"github.com/RelayClaw/RelayClaw/internal/provider"
	"github.com/RelayClaw/RelayClaw/internal/provider/middleware"
	"github.com/RelayClaw/RelayClaw/internal/session"
	"github.com/RelayClaw/RelayClaw/internal/tools"
)

// StepKind is the outcome of one inner-loop iteration.
type StepKind int

const (
	// StepContinue loops again.
	StepContinue StepKind = iota
	// StepTerminal ends the turn with a reply for the user.
	StepTerminal
	// StepIntervened restarts the inner loop with new user input.
	StepIntervened
	// StepBudgetExceeded ends the turn because a hard budget was hit.
	StepBudgetExceeded
)

// StepResult carries the iteration outcome and, for terminal kinds, the
// reply text.
type StepResult struct {
	Kind  StepKind
	Reply string
}

// Payload marker used to render synthetic turns (repeat nudges,
// corrective nudges) as system messages in the prompt.
const payloadRoleOverride = "role_override"

// Runtime bundles the collaborators one controller needs. Registries and
// stores are shared across conversations; everything is read-mostly after
// startup.
type Runtime struct {
	Config      *config.Config
	Chain       *middleware.Chain
	Registry    *tools.Registry
	Hooks       *hooks.Runner
	Guard       *Guard
	Repeat      *RepeatDetector
	Dispatcher  *Dispatcher
	Checkpoints *checkpoint.Manager
	Sanitizer   *middleware.OutputSanitizer
	Log         *slog.Logger
}

// Controller runs turns for a single conversation. One controller per
// conversation id; no internal parallelism within a turn.
type Controller struct {
	rt *Runtime
}

// NewController creates a loop controller over a shared runtime.
func NewController(rt *Runtime) *Controller {
	if rt.Log == nil {
		rt.Log = slog.Default()
	}
	return &Controller{rt: rt}
}

// RunTurn executes one full turn: the user message goes into history, the
// inner loop runs until a terminal result, a hard budget stop, or a
// critical failure. The returned string is the sanitized reply.
func (c *Controller) RunTurn(ctx context.Context, tc *TurnContext, userMessage string) (string, error) {
	rt := c.rt
	rt.Hooks.Fire(ctx, hooks.MonologueStart, tc.Conversation, map[string]any{
		"trace_id": tc.TraceID,
		"content":  userMessage,
	})

	if userMessage != "" {
		c.appendTurn(ctx, tc, session.Turn{Role: session.RoleUser, Content: userMessage})
	}

	var reply string
	for {
		step := c.step(ctx, tc)
		switch step.Kind {
		case StepContinue, StepIntervened:
			continue
		case StepTerminal, StepBudgetExceeded:
			reply = step.Reply
		}
		break
	}

	reply = c.sanitize(ctx, tc, reply)
	c.appendTurn(ctx, tc, session.Turn{Role: session.RoleAgent, Content: reply,
		Payload: map[string]any{"final": true}})

	rt.Checkpoints.Clear(ctx, tc.Conversation)
	rt.Hooks.Fire(ctx, hooks.ProcessChainEnd, tc.Conversation, map[string]any{
		"trace_id":   tc.TraceID,
		"iterations": tc.Iteration,
	})
	rt.Hooks.Fire(ctx, hooks.MonologueEnd, tc.Conversation, map[string]any{
		"trace_id": tc.TraceID,
		"content":  reply,
	})
	return reply, nil
}

// step is one inner-loop iteration: budget pre-check, prompt assembly,
// model call, action parse, dispatch, intervention check.
func (c *Controller) step(ctx context.Context, tc *TurnContext) StepResult {
	rt := c.rt

	rt.Guard.CheckSubsystems(rt.Hooks != nil, rt.Log != nil)
	verdict, evicted := rt.Guard.Check(tc)
	if evicted > 0 {
		rt.Hooks.Fire(ctx, hooks.HistoryTrim, tc.Conversation, map[string]any{
			"evicted": evicted,
		})
	}
	switch verdict {
	case GuardIterationsExceeded:
		return StepResult{Kind: StepBudgetExceeded,
			Reply: budgetReply("iteration limit", rt.Guard.MaxIterations)}
	case GuardTimeoutExceeded:
		return StepResult{Kind: StepBudgetExceeded,
			Reply: budgetReply("time limit", int(rt.Guard.Timeout.Seconds()))}
	}

	rt.Hooks.Fire(ctx, hooks.MessageLoopStart, tc.Conversation, map[string]any{
		"iteration": tc.Iteration,
	})

	content, err := c.callModel(ctx, tc)
	if err != nil {
		rt.Log.Error("model call failed", "conversation", tc.Conversation, "error", err)
		return StepResult{Kind: StepTerminal,
			Reply: "I'm sorry, I couldn't reach the language model and had to stop."}
	}

	c.appendTurn(ctx, tc, session.Turn{Role: session.RoleAgent, Content: content})

	if rt.Config.Loop.RepeatDetection && rt.Repeat.Check(tc.History) {
		c.appendTurn(ctx, tc, session.Turn{
			Role:    session.RoleUser,
			Content: repeatNudge,
			Payload: map[string]any{payloadRoleOverride: "system"},
		})
		rt.Hooks.Fire(ctx, hooks.RepeatNudge, tc.Conversation, map[string]any{
			"iteration": tc.Iteration,
			"content":   content,
			"trace_id":  tc.TraceID,
		})
		rt.Log.Info("repeat detected, nudge injected",
			"conversation", tc.Conversation, "iteration", tc.Iteration)
	}

	action, err := ParseAction(content)
	if err != nil {
		c.appendCorrectiveNudge(ctx, tc, err)
		return c.endIteration(ctx, tc)
	}

	res, critical, err := rt.Dispatcher.Dispatch(ctx, tc, action)
	if err != nil {
		var malformed *MalformedActionError
		if errors.As(err, &malformed) {
			c.appendCorrectiveNudge(ctx, tc, err)
			return c.endIteration(ctx, tc)
		}
		rt.Log.Error("dispatch failed", "conversation", tc.Conversation, "error", err)
		c.appendTurn(ctx, tc, session.Turn{Role: session.RoleToolResult,
			Content: "Error: " + err.Error()})
		return c.endIteration(ctx, tc)
	}
	if critical != nil {
		return StepResult{Kind: StepTerminal,
			Reply: fmt.Sprintf("I'm sorry — I ran into an unrecoverable %s failure (%s) and had to stop.",
				critical.Category, critical.Capability)}
	}

	if res.Terminal {
		return StepResult{Kind: StepTerminal, Reply: res.Output}
	}

	c.appendTurn(ctx, tc, session.Turn{Role: session.RoleToolResult, Content: res.Output,
		Payload: map[string]any{"tool": action.ToolName, "is_error": res.IsError}})

	return c.endIteration(ctx, tc)
}

// endIteration runs the boundary work shared by every non-terminal path:
// intervention consumption, loop-end hooks, checkpoint cadence.
func (c *Controller) endIteration(ctx context.Context, tc *TurnContext) StepResult {
	rt := c.rt

	kind := StepContinue
	if msg := tc.DrainIntervention(); msg != nil {
		c.appendTurn(ctx, tc, session.Turn{Role: session.RoleUser, Content: msg.Content,
			Payload: map[string]any{"intervention": true}})
		rt.Hooks.Fire(ctx, hooks.Intervention, tc.Conversation, map[string]any{
			"content":  msg.Content,
			"sender":   msg.SenderID,
			"trace_id": tc.TraceID,
		})
		rt.Log.Info("intervention consumed",
			"conversation", tc.Conversation, "iteration", tc.Iteration)
		kind = StepIntervened
	}

	rt.Hooks.Fire(ctx, hooks.MessageLoopEnd, tc.Conversation, map[string]any{
		"iteration": tc.Iteration,
	})

	tc.Iteration++
	if rt.Config.Loop.CheckpointEnabled {
		if rt.Checkpoints.OnIteration(ctx, tc.Conversation, tc.Iteration, tc.History, tc.Scratch) {
			rt.Hooks.Fire(ctx, hooks.CheckpointSaved, tc.Conversation, map[string]any{
				"iteration": tc.Iteration,
				"trace_id":  tc.TraceID,
			})
		}
	}
	return StepResult{Kind: kind}
}

// callModel assembles the prompt, runs the middleware chain, and fires
// the model-call hooks around it.
func (c *Controller) callModel(ctx context.Context, tc *TurnContext) (string, error) {
	rt := c.rt

	rt.Hooks.Fire(ctx, hooks.MessageLoopPromptsBefore, tc.Conversation, nil)

	systemPrompt := c.systemPrompt(ctx, tc)
	messages := []provider.Message{{Role: "system", Content: systemPrompt}}
	for _, turn := range tc.History.Snapshot() {
		messages = append(messages, provider.Message{
			Role:    promptRole(turn),
			Content: turn.Content,
		})
	}

	rt.Hooks.Fire(ctx, hooks.MessageLoopPromptsAfter, tc.Conversation, map[string]any{
		"message_count": len(messages),
	})

	req := &provider.ChatRequest{
		Messages:    messages,
		Model:       rt.Config.Model.Name,
		MaxTokens:   rt.Config.Model.MaxTokens,
		Temperature: rt.Config.Model.Temperature,
	}
	meta := middleware.NewRequestMeta(req.Model)
	meta.Channel, _ = splitConversation(tc.Conversation)

	rt.Hooks.Fire(ctx, hooks.BeforeMainLLMCall, tc.Conversation, map[string]any{
		"model":     req.Model,
		"iteration": tc.Iteration,
		"trace_id":  tc.TraceID,
	})
	start := time.Now()
	resp, err := rt.Chain.Process(ctx, req, meta)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	rt.Hooks.Fire(ctx, hooks.AfterMainLLMCall, tc.Conversation, map[string]any{
		"model":       req.Model,
		"iteration":   tc.Iteration,
		"content":     resp.Content,
		"duration_ms": time.Since(start).Milliseconds(),
		"trace_id":    tc.TraceID,
	})
	return resp.Content, nil
}

// systemPrompt builds the base prompt and lets system_prompt handlers
// replace it through the slot.
func (c *Controller) systemPrompt(ctx context.Context, tc *TurnContext) string {
	var sb strings.Builder
	sb.WriteString("You are RelayClaw, an autonomous assistant. Work in steps.\n")
	sb.WriteString("Respond with exactly one JSON object per message:\n")
	sb.WriteString(`{"thoughts": ["..."], "headline": "...", "tool_name": "...", "tool_args": {...}}`)
	sb.WriteString("\n\nWhen the task is complete, use the response capability to deliver your answer.\n\n")
	sb.WriteString("## Capabilities\n\n")
	sb.WriteString(c.rt.Registry.Manifest())

	ev := c.rt.Hooks.Fire(ctx, hooks.SystemPrompt, tc.Conversation, map[string]any{
		"system_prompt": sb.String(),
	})
	return ev.String("system_prompt")
}

// appendCorrectiveNudge tells the model its last payload was unusable.
// Malformed actions never reach the recovery pipeline.
func (c *Controller) appendCorrectiveNudge(ctx context.Context, tc *TurnContext, parseErr error) {
	c.rt.Log.Warn("malformed action",
		"conversation", tc.Conversation,
		"iteration", tc.Iteration,
		"error", parseErr)
	c.appendTurn(ctx, tc, session.Turn{
		Role: session.RoleUser,
		Content: fmt.Sprintf(
			"Your last message could not be executed (%v). Respond with a single JSON object: "+
				`{"thoughts": [...], "headline": "...", "tool_name": "...", "tool_args": {...}} `+
				"using one of the listed capabilities.", parseErr),
		Payload: map[string]any{payloadRoleOverride: "system"},
	})
}

func (c *Controller) appendTurn(ctx context.Context, tc *TurnContext, t session.Turn) {
	tc.History.AppendTurn(t)
	c.rt.Hooks.Fire(ctx, hooks.HistoryAdd, tc.Conversation, map[string]any{
		"role":    t.Role,
		"content": t.Content,
	})
}

// sanitize runs the reply through the output sanitizer before delivery.
func (c *Controller) sanitize(ctx context.Context, tc *TurnContext, reply string) string {
	ev := c.rt.Hooks.Fire(ctx, hooks.ReplyFormat, tc.Conversation, map[string]any{
		"reply": reply,
	})
	if r := ev.String("reply"); r != "" {
		reply = r
	}
	if c.rt.Sanitizer == nil {
		return reply
	}
	meta := middleware.NewRequestMeta(c.rt.Config.Model.Name)
	return c.rt.Sanitizer.SanitizeText(reply, meta)
}

// promptRole maps a history turn to the wire role the provider expects.
// Synthetic nudge turns carry a role override so the model sees them as
// system messages.
func promptRole(t session.Turn) string {
	if o, ok := t.Payload[payloadRoleOverride].(string); ok && o != "" {
		return o
	}
	switch t.Role {
	case session.RoleSystem:
		return "system"
	case session.RoleAgent:
		return "assistant"
	default:
		return "user"
	}
}

func splitConversation(key string) (channel, chatID string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func budgetReply(what string, limit int) string {
	return fmt.Sprintf(
		"I'm sorry — I hit the %s for this turn (%d) before finishing. Here is my partial progress; ask me to continue if you'd like.",
		what, limit)
}
