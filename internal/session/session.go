// Package session provides conversation history management.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Turn roles. A system turn, when present, is always first and survives
// every trim.
const (
	RoleSystem     = "system"
	RoleUser       = "user"
	RoleAgent      = "agent"
	RoleToolResult = "tool-result"
)

// Turn is one entry in the conversation history.
type Turn struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// History is the ordered sequence of turns for one conversation.
type History struct {
	Key       string         `json:"key"`
	Turns     []Turn         `json:"turns"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	mu        sync.RWMutex
}

// New creates an empty history with the given conversation key.
func New(key string) *History {
	now := time.Now()
	return &History{
		Key:       key,
		Turns:     []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
}

// Append adds a turn. A system turn is only accepted while the history is
// empty; appending one later is silently rewritten to position zero update.
func (h *History) Append(role, content string) {
	h.AppendTurn(Turn{Role: role, Content: content})
}

// AppendTurn adds a fully specified turn.
func (h *History) AppendTurn(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if t.Role == RoleSystem && len(h.Turns) > 0 {
		if h.Turns[0].Role == RoleSystem {
			h.Turns[0] = t
			h.UpdatedAt = time.Now()
			return
		}
		h.Turns = append([]Turn{t}, h.Turns...)
		h.UpdatedAt = time.Now()
		return
	}
	h.Turns = append(h.Turns, t)
	h.UpdatedAt = time.Now()
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Turns)
}

// Snapshot returns a copy of all turns.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.Turns))
	copy(out, h.Turns)
	return out
}

// Replace swaps the full turn sequence, used when restoring a checkpoint.
func (h *History) Replace(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Turns = make([]Turn, len(turns))
	copy(h.Turns, turns)
	h.UpdatedAt = time.Now()
}

// TrimToCap evicts the oldest non-system turns until the history fits the
// cap. Returns the number of evicted turns. The leading system turn is
// never evicted.
func (h *History) TrimToCap(cap int) int {
	if cap < 1 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.Turns) <= cap {
		return 0
	}
	evict := len(h.Turns) - cap

	if len(h.Turns) > 0 && h.Turns[0].Role == RoleSystem {
		kept := make([]Turn, 0, cap)
		kept = append(kept, h.Turns[0])
		kept = append(kept, h.Turns[1+evict:]...)
		h.Turns = kept
	} else {
		h.Turns = append([]Turn{}, h.Turns[evict:]...)
	}
	h.UpdatedAt = time.Now()
	return evict
}

// LastAgentOutputs returns up to k most recent agent turn contents, newest
// first. Used by the repeat detector.
func (h *History) LastAgentOutputs(k int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, k)
	for i := len(h.Turns) - 1; i >= 0 && len(out) < k; i-- {
		if h.Turns[i].Role == RoleAgent {
			out = append(out, h.Turns[i].Content)
		}
	}
	return out
}

// Manager manages history persistence.
type Manager struct {
	sessionsDir string
	cache       map[string]*History
	mu          sync.RWMutex
}

// NewManager creates a manager persisting under stateDir/sessions.
func NewManager(stateDir string) *Manager {
	sessionsDir := filepath.Join(stateDir, "sessions")
	os.MkdirAll(sessionsDir, 0o755)

	return &Manager{
		sessionsDir: sessionsDir,
		cache:       make(map[string]*History),
	}
}

// GetOrCreate returns an existing history or creates a new one.
func (m *Manager) GetOrCreate(key string) *History {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.cache[key]; ok {
		return h
	}
	h := m.load(key)
	if h == nil {
		h = New(key)
	}
	m.cache[key] = h
	return h
}

// Save persists a history to disk as JSON lines: one metadata line, then
// one line per turn.
func (m *Manager) Save(h *History) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.sessionPath(h.Key)

	h.mu.RLock()
	defer h.mu.RUnlock()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer file.Close()

	meta := map[string]any{
		"_type":      "metadata",
		"created_at": h.CreatedAt.Format(time.RFC3339),
		"updated_at": h.UpdatedAt.Format(time.RFC3339),
		"metadata":   h.Metadata,
	}
	metaLine, _ := json.Marshal(meta)
	file.WriteString(string(metaLine) + "\n")

	for _, turn := range h.Turns {
		line, _ := json.Marshal(turn)
		file.WriteString(string(line) + "\n")
	}

	m.cache[h.Key] = h
	return nil
}

// Delete removes a history from cache and disk.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, key)
	if err := os.Remove(m.sessionPath(key)); err != nil {
		return false
	}
	return true
}

func (m *Manager) load(key string) *History {
	file, err := os.Open(m.sessionPath(key))
	if err != nil {
		return nil
	}
	defer file.Close()

	h := New(key)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var meta struct {
				Type      string         `json:"_type"`
				CreatedAt string         `json:"created_at"`
				Metadata  map[string]any `json:"metadata"`
			}
			if json.Unmarshal(line, &meta) == nil && meta.Type == "metadata" {
				if ts, err := time.Parse(time.RFC3339, meta.CreatedAt); err == nil {
					h.CreatedAt = ts
				}
				if meta.Metadata != nil {
					h.Metadata = meta.Metadata
				}
				continue
			}
		}
		var turn Turn
		if json.Unmarshal(line, &turn) == nil && turn.Role != "" {
			h.Turns = append(h.Turns, turn)
		}
	}
	return h
}

func (m *Manager) sessionPath(key string) string {
	safe := strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(key)
	return filepath.Join(m.sessionsDir, safe+".jsonl")
}
