package agent

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/config"
	"github.com/RelayClaw/RelayClaw/internal/session"
)

func testGuard(cfg config.LoopConfig) *Guard {
	return NewGuard(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGuardIterationCap(t *testing.T) {
	g := testGuard(config.LoopConfig{MaxIterations: 5, TimeoutSeconds: 300, HistoryCap: 100})
	tc := NewTurnContext("cli:test", "trace", session.New("cli:test"), nil)

	tc.Iteration = 4
	if v, _ := g.Check(tc); v != GuardOK {
		t.Errorf("iteration 4 verdict = %v", v)
	}
	tc.Iteration = 5
	if v, _ := g.Check(tc); v != GuardIterationsExceeded {
		t.Errorf("iteration 5 verdict = %v", v)
	}
}

func TestGuardWarnsOnce(t *testing.T) {
	g := testGuard(config.LoopConfig{MaxIterations: 10, TimeoutSeconds: 300, IterationWarnMargin: 3})
	tc := NewTurnContext("cli:test", "trace", session.New("cli:test"), nil)

	tc.Iteration = 7
	g.Check(tc)
	if !tc.Warned {
		t.Error("warn flag not set inside margin")
	}
}

func TestGuardTimeout(t *testing.T) {
	g := testGuard(config.LoopConfig{MaxIterations: 100, TimeoutSeconds: 1})
	tc := NewTurnContext("cli:test", "trace", session.New("cli:test"), nil)
	tc.StartedAt = time.Now().Add(-2 * time.Second)

	if v, _ := g.Check(tc); v != GuardTimeoutExceeded {
		t.Errorf("verdict = %v, want timeout", v)
	}
}

func TestGuardTrimsHistory(t *testing.T) {
	g := testGuard(config.LoopConfig{MaxIterations: 100, TimeoutSeconds: 300, HistoryCap: 4})
	hist := session.New("cli:test")
	hist.Append(session.RoleSystem, "prompt")
	for i := 0; i < 9; i++ {
		hist.Append(session.RoleUser, "msg")
	}
	tc := NewTurnContext("cli:test", "trace", hist, nil)

	v, evicted := g.Check(tc)
	if v != GuardOK {
		t.Fatalf("verdict = %v", v)
	}
	if evicted != 6 {
		t.Errorf("evicted = %d, want 6", evicted)
	}
	if hist.Len() != 4 {
		t.Errorf("len = %d, want 4", hist.Len())
	}
	if hist.Snapshot()[0].Role != session.RoleSystem {
		t.Error("system turn evicted by trim")
	}
}
