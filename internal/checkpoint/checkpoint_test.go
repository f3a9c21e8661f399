package checkpoint

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/RelayClaw/RelayClaw/internal/session"
)

func openTestStore(t *testing.T, keep int) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "checkpoints.db"), keep)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaveAndLatestRoundTrip(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	cp := &Checkpoint{
		Conversation: "cli:alice",
		Iteration:    4,
		Turns: []session.Turn{
			{Role: session.RoleSystem, Content: "you are an agent"},
			{Role: session.RoleUser, Content: "hello"},
			{Role: session.RoleAgent, Content: "working on it"},
		},
		Scratch: map[string]string{"phase": "gathering"},
	}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Latest(ctx, "cli:alice")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got == nil {
		t.Fatal("Latest returned nil")
	}
	if got.Iteration != 4 {
		t.Errorf("Iteration = %d, want 4", got.Iteration)
	}
	if len(got.Turns) != 3 || got.Turns[2].Content != "working on it" {
		t.Errorf("Turns = %+v", got.Turns)
	}
	if got.Scratch["phase"] != "gathering" {
		t.Errorf("Scratch = %v", got.Scratch)
	}
}

func TestLatestUnknownConversation(t *testing.T) {
	s := openTestStore(t, 3)
	got, err := s.Latest(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		cp := &Checkpoint{
			Conversation: "cli:bob",
			Iteration:    i,
			Turns:        []session.Turn{{Role: session.RoleUser, Content: "x"}},
		}
		if err := s.Save(ctx, cp); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Count(ctx, "cli:bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2 after prune", n)
	}
	got, _ := s.Latest(ctx, "cli:bob")
	if got.Iteration != 5 {
		t.Errorf("Latest.Iteration = %d, want 5", got.Iteration)
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	cp := &Checkpoint{Conversation: "cli:c", Iteration: 1,
		Turns: []session.Turn{{Role: session.RoleUser, Content: "x"}}}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx, "cli:c"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Latest(ctx, "cli:c")
	if got != nil {
		t.Error("snapshot survived Clear")
	}
}

func TestManagerCadence(t *testing.T) {
	s := openTestStore(t, 3)
	m := NewManager(s, 3, quietLogger())
	ctx := context.Background()

	hist := session.New("cli:d")
	hist.Append(session.RoleUser, "go")

	if m.OnIteration(ctx, "cli:d", 1, hist, nil) {
		t.Error("iteration 1 should not checkpoint")
	}
	if m.OnIteration(ctx, "cli:d", 2, hist, nil) {
		t.Error("iteration 2 should not checkpoint")
	}
	if !m.OnIteration(ctx, "cli:d", 3, hist, nil) {
		t.Error("iteration 3 should checkpoint")
	}
	if m.OnIteration(ctx, "cli:d", 4, hist, nil) {
		t.Error("counter should reset after a save")
	}
}

func TestManagerDisabled(t *testing.T) {
	m := NewManager(nil, 0, quietLogger())
	hist := session.New("cli:e")
	if m.OnIteration(context.Background(), "cli:e", 1, hist, nil) {
		t.Error("disabled manager checkpointed")
	}
}

func TestManagerRestoreReplaysHistory(t *testing.T) {
	s := openTestStore(t, 3)
	m := NewManager(s, 1, quietLogger())
	ctx := context.Background()

	hist := session.New("cli:f")
	hist.Append(session.RoleSystem, "prompt")
	hist.Append(session.RoleUser, "task")
	hist.Append(session.RoleAgent, "step one")

	if !m.OnIteration(ctx, "cli:f", 7, hist, map[string]string{"k": "v"}) {
		t.Fatal("expected checkpoint at interval 1")
	}

	fresh := session.New("cli:f")
	iter, scratch, ok := m.Restore(ctx, "cli:f", fresh)
	if !ok {
		t.Fatal("Restore found nothing")
	}
	if iter != 7 {
		t.Errorf("resumed iteration = %d, want 7", iter)
	}
	if scratch["k"] != "v" {
		t.Errorf("scratch = %v", scratch)
	}
	if fresh.Len() != 3 {
		t.Errorf("restored %d turns, want 3", fresh.Len())
	}
}

func TestManagerRestoreEmpty(t *testing.T) {
	s := openTestStore(t, 3)
	m := NewManager(s, 5, quietLogger())
	hist := session.New("cli:g")
	if _, _, ok := m.Restore(context.Background(), "cli:g", hist); ok {
		t.Error("Restore reported a snapshot for a fresh conversation")
	}
}
