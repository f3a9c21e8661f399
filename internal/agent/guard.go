package agent

import (
	"log/slog"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/config"
)

// GuardVerdict is the outcome of the pre-iteration budget check.
type GuardVerdict int

const (
	GuardOK GuardVerdict = iota
	GuardIterationsExceeded
	GuardTimeoutExceeded
)

// Guard enforces the turn budgets at every iteration boundary. Hard
// violations (iterations, wall clock) end the turn; the history cap and
// subsystem checks self-correct or degrade log-only.
type Guard struct {
	MaxIterations int
	WarnMargin    int
	Timeout       time.Duration
	HistoryCap    int
	log           *slog.Logger
}

// NewGuard builds a guard from the loop config.
func NewGuard(cfg config.LoopConfig, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		MaxIterations: cfg.MaxIterations,
		WarnMargin:    cfg.IterationWarnMargin,
		Timeout:       cfg.Timeout(),
		HistoryCap:    cfg.HistoryCap,
		log:           log,
	}
}

// Check runs the budget pre-check for the iteration about to start.
// trimmed handlers (history_trim hook) are notified by the caller using
// the returned eviction count.
func (g *Guard) Check(tc *TurnContext) (GuardVerdict, int) {
	if tc.Iteration >= g.MaxIterations {
		g.log.Warn("iteration budget exhausted",
			"conversation", tc.Conversation,
			"iteration", tc.Iteration,
			"max", g.MaxIterations)
		return GuardIterationsExceeded, 0
	}
	if !tc.Warned && g.WarnMargin > 0 && tc.Iteration >= g.MaxIterations-g.WarnMargin {
		tc.Warned = true
		g.log.Warn("approaching iteration budget",
			"conversation", tc.Conversation,
			"iteration", tc.Iteration,
			"max", g.MaxIterations)
	}

	if g.Timeout > 0 && time.Since(tc.StartedAt) >= g.Timeout {
		g.log.Warn("turn wall-clock budget exhausted",
			"conversation", tc.Conversation,
			"elapsed", time.Since(tc.StartedAt).Round(time.Second),
			"timeout", g.Timeout)
		return GuardTimeoutExceeded, 0
	}

	evicted := 0
	if g.HistoryCap > 0 {
		if evicted = tc.History.TrimToCap(g.HistoryCap); evicted > 0 {
			g.log.Info("history trimmed",
				"conversation", tc.Conversation,
				"evicted", evicted,
				"cap", g.HistoryCap)
		}
	}
	return GuardOK, evicted
}

// CheckSubsystems verifies required collaborators are present. Missing
// ones degrade log-only; the loop keeps running.
func (g *Guard) CheckSubsystems(haveHooks, haveLogger bool) {
	if !haveHooks {
		g.log.Error("hook runner missing, extensions disabled")
	}
	if !haveLogger {
		slog.Error("logger missing, falling back to default")
	}
}
