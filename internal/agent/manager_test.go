package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/checkpoint"
	"github.com/RelayClaw/RelayClaw/internal/session"
	"github.com/RelayClaw/RelayClaw/internal/tools"
)

func TestManagerHandlesTurnEndToEnd(t *testing.T) {
	f := newFixture(t, []string{responseAction("hi there")})

	b := bus.NewMessageBus()
	sessions := session.NewManager(t.TempDir())
	m := NewManager(f.rt, b, sessions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	go b.DispatchOutbound(ctx)

	replies := make(chan *bus.OutboundMessage, 1)
	b.Subscribe("cli", func(msg *bus.OutboundMessage) { replies <- msg })

	b.PublishInbound(&bus.InboundMessage{
		Channel: "cli", ChatID: "alice", SenderID: "alice", Content: "hello",
	})

	select {
	case msg := <-replies:
		if msg.Content != "hi there" {
			t.Errorf("reply = %q", msg.Content)
		}
		if msg.ChatID != "alice" {
			t.Errorf("ChatID = %q", msg.ChatID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply within timeout")
	}
}

func TestManagerSerializesBurstForOneConversation(t *testing.T) {
	gate := make(chan struct{})
	slow := &fakeTool{name: "slow", execute: func(context.Context, map[string]any) (*tools.Result, error) {
		<-gate
		return &tools.Result{Output: "slow done"}, nil
	}}
	f := newFixture(t, []string{
		actionJSON("slow", `{}`),
		responseAction("handled both"),
	}, slow)

	b := bus.NewMessageBus()
	sessions := session.NewManager(t.TempDir())
	m := NewManager(f.rt, b, sessions)

	// Both messages queue before the manager starts; the second must not
	// spawn a second concurrent turn on the same history.
	b.PublishInbound(&bus.InboundMessage{
		Channel: "cli", ChatID: "carol", SenderID: "carol", Content: "start",
	})
	b.PublishInbound(&bus.InboundMessage{
		Channel: "cli", ChatID: "carol", SenderID: "carol", Content: "also this",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	go b.DispatchOutbound(ctx)

	replies := make(chan *bus.OutboundMessage, 2)
	b.Subscribe("cli", func(msg *bus.OutboundMessage) { replies <- msg })

	// Wait for the manager to drain the inbound queue, then let the
	// blocked first iteration finish.
	for i := 0; i < 100 && b.InboundSize() > 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)

	select {
	case msg := <-replies:
		if msg.Content != "handled both" {
			t.Errorf("reply = %q", msg.Content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply within timeout")
	}

	hist := sessions.GetOrCreate(bus.ConversationKey("cli", "carol"))
	found := false
	for _, turn := range hist.Snapshot() {
		if iv, _ := turn.Payload["intervention"].(bool); iv && turn.Content == "also this" {
			found = true
		}
	}
	if !found {
		t.Error("second message not absorbed as an intervention of the running turn")
	}
}

func TestManagerRestoresCheckpointIteration(t *testing.T) {
	spin := &fakeTool{name: "spin", execute: func(context.Context, map[string]any) (*tools.Result, error) {
		return &tools.Result{Output: "spun"}, nil
	}}
	f := newFixture(t, []string{actionJSON("spin", `{}`)}, spin)
	f.rt.Config.Loop.CheckpointEnabled = true
	f.rt.Config.Loop.MaxIterations = 25
	f.rt.Guard.MaxIterations = 25

	store, err := checkpoint.OpenStore(filepath.Join(t.TempDir(), "cp.db"), 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	f.rt.Checkpoints = checkpoint.NewManager(store, 5, f.rt.Log)

	// Simulate an interrupted turn: a snapshot at iteration 24 survives.
	key := bus.ConversationKey("cli", "bob")
	if err := store.Save(context.Background(), &checkpoint.Checkpoint{
		Conversation: key,
		Iteration:    24,
		Turns:        []session.Turn{{Role: session.RoleUser, Content: "long task"}},
	}); err != nil {
		t.Fatal(err)
	}

	b := bus.NewMessageBus()
	sessions := session.NewManager(t.TempDir())
	m := NewManager(f.rt, b, sessions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	go b.DispatchOutbound(ctx)

	replies := make(chan *bus.OutboundMessage, 1)
	b.Subscribe("cli", func(msg *bus.OutboundMessage) { replies <- msg })

	b.PublishInbound(&bus.InboundMessage{
		Channel: "cli", ChatID: "bob", SenderID: "bob", Content: "continue",
	})

	select {
	case msg := <-replies:
		// Resumed at 24 of 25: one more iteration, then the budget ends it.
		if !strings.Contains(msg.Content, "iteration limit") {
			t.Errorf("reply = %q, want budget message", msg.Content)
		}
		if f.provider.calls != 1 {
			t.Errorf("provider calls = %d, want 1 after resume near cap", f.provider.calls)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply within timeout")
	}
}
