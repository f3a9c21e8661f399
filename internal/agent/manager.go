package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/hooks"
	"github.com/RelayClaw/RelayClaw/internal/session"
)

// Manager consumes the inbound bus and runs one controller per
// conversation. Concurrent conversations share only the runtime's
// registries and stores.
type Manager struct {
	rt       *Runtime
	bus      *bus.MessageBus
	sessions *session.Manager

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager wires the runtime to the message bus.
func NewManager(rt *Runtime, b *bus.MessageBus, sessions *session.Manager) *Manager {
	return &Manager{
		rt:          rt,
		bus:         b,
		sessions:    sessions,
		controllers: make(map[string]*Controller),
	}
}

// Run consumes inbound messages until the context is cancelled. Each
// conversation turn runs on its own goroutine; the bus routes mid-turn
// messages for a busy conversation into its intervention queue.
func (m *Manager) Run(ctx context.Context) error {
	m.rt.Hooks.Fire(ctx, hooks.AgentInit, "", nil)
	m.rt.Log.Info("agent loop started")

	for {
		msg, err := m.bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}

		// Claim the turn slot before spawning so a burst of messages for
		// one conversation can never start concurrent turns. A failed
		// claim means a turn is in flight; re-publishing routes the
		// message into that turn's intervention queue.
		interventions, release, ok := m.bus.BeginTurn(msg.ConversationKey())
		if !ok {
			m.bus.PublishInbound(msg)
			continue
		}
		go m.handle(ctx, msg, interventions, release)
	}
}

func (m *Manager) handle(ctx context.Context, msg *bus.InboundMessage, interventions <-chan *bus.InboundMessage, release func()) {
	key := msg.ConversationKey()
	traceID := msg.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	defer release()

	hist := m.sessions.GetOrCreate(key)
	tc := NewTurnContext(key, traceID, hist, interventions)

	// A surviving checkpoint means the previous turn was interrupted;
	// resume from its iteration count instead of starting fresh.
	if m.rt.Config.Loop.CheckpointEnabled {
		if iter, scratch, ok := m.rt.Checkpoints.Restore(ctx, key, hist); ok {
			tc.Iteration = iter
			if scratch != nil {
				tc.Scratch = scratch
			}
			m.rt.Hooks.Fire(ctx, hooks.CheckpointRestored, key, map[string]any{
				"iteration": iter,
				"trace_id":  traceID,
			})
		}
	}

	reply, err := m.controller(key).RunTurn(ctx, tc, msg.Content)
	if err != nil {
		m.rt.Log.Error("turn failed", "conversation", key, "error", err)
		reply = "I'm sorry, something went wrong while processing your message."
	}

	if err := m.sessions.Save(hist); err != nil {
		m.rt.Log.Error("session save failed", "conversation", key, "error", err)
	}

	m.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		TraceID: traceID,
		Content: reply,
	})
}

func (m *Manager) controller(key string) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[key]; ok {
		return c
	}
	c := NewController(m.rt)
	m.controllers[key] = c
	return c
}
