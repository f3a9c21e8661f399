package checkpoint

import (
	"context"
	"log/slog"
	"sync"

	"github.com/RelayClaw/RelayClaw/internal/session"
)

// Manager drives checkpoint cadence for running turns. A snapshot is
// taken every interval completed iterations; save failures are logged
// and never interrupt the loop.
type Manager struct {
	store    *Store
	interval int
	log      *slog.Logger

	mu    sync.Mutex
	since map[string]int
}

// NewManager creates a checkpoint manager. interval <= 0 disables
// periodic snapshots (manual Save/Restore still work).
func NewManager(store *Store, interval int, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:    store,
		interval: interval,
		log:      log,
		since:    make(map[string]int),
	}
}

// OnIteration records a completed iteration and snapshots the turn when
// the cadence is due. Returns true when a checkpoint was written.
func (m *Manager) OnIteration(ctx context.Context, conversation string, iteration int, hist *session.History, scratch map[string]string) bool {
	if m.interval <= 0 || m.store == nil {
		return false
	}

	m.mu.Lock()
	m.since[conversation]++
	due := m.since[conversation] >= m.interval
	if due {
		m.since[conversation] = 0
	}
	m.mu.Unlock()

	if !due {
		return false
	}

	cp := &Checkpoint{
		Conversation: conversation,
		Iteration:    iteration,
		Turns:        hist.Snapshot(),
		Scratch:      scratch,
	}
	if err := m.store.Save(ctx, cp); err != nil {
		m.log.Error("checkpoint save failed", "conversation", conversation, "error", err)
		return false
	}
	m.log.Info("checkpoint saved",
		"conversation", conversation,
		"iteration", iteration,
		"turns", len(cp.Turns))
	return true
}

// Restore loads the newest snapshot for a conversation and replays it
// into the history. It returns the iteration to resume from, and false
// when no snapshot exists.
func (m *Manager) Restore(ctx context.Context, conversation string, hist *session.History) (int, map[string]string, bool) {
	if m.store == nil {
		return 0, nil, false
	}
	cp, err := m.store.Latest(ctx, conversation)
	if err != nil {
		m.log.Error("checkpoint restore failed", "conversation", conversation, "error", err)
		return 0, nil, false
	}
	if cp == nil {
		return 0, nil, false
	}
	hist.Replace(cp.Turns)
	m.log.Info("checkpoint restored",
		"conversation", conversation,
		"iteration", cp.Iteration,
		"turns", len(cp.Turns))
	return cp.Iteration, cp.Scratch, true
}

// Clear drops all snapshots for a conversation and resets its cadence
// counter.
func (m *Manager) Clear(ctx context.Context, conversation string) {
	m.mu.Lock()
	delete(m.since, conversation)
	m.mu.Unlock()
	if m.store == nil {
		return
	}
	if err := m.store.Clear(ctx, conversation); err != nil {
		m.log.Error("checkpoint clear failed", "conversation", conversation, "error", err)
	}
}
