package agent

import (
	"time"

	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/selfheal"
	"github.com/RelayClaw/RelayClaw/internal/session"
)

// TurnContext carries the mutable state of one conversation turn through
// the inner loop. It is confined to a single goroutine; only the
// intervention channel is written from outside.
type TurnContext struct {
	Conversation string
	TraceID      string
	History      *session.History
	// Interventions receives messages that arrived for this conversation
	// while the turn was executing. Consumed only at iteration boundaries.
	Interventions <-chan *bus.InboundMessage
	// Scratch is free-form turn state persisted into checkpoints.
	Scratch map[string]string

	Iteration int
	StartedAt time.Time
	Warned    bool

	Heal *selfheal.TurnState
}

// NewTurnContext prepares the state for a fresh turn.
func NewTurnContext(conversation, traceID string, hist *session.History, interventions <-chan *bus.InboundMessage) *TurnContext {
	return &TurnContext{
		Conversation:  conversation,
		TraceID:       traceID,
		History:       hist,
		Interventions: interventions,
		Scratch:       map[string]string{},
		StartedAt:     time.Now(),
		Heal:          selfheal.NewTurnState(),
	}
}

// DrainIntervention returns the oldest pending intervention without
// blocking, or nil when none is queued.
func (tc *TurnContext) DrainIntervention() *bus.InboundMessage {
	select {
	case msg := <-tc.Interventions:
		return msg
	default:
		return nil
	}
}
