// Package checkpoint persists conversation snapshots so an interrupted
// turn can resume after a restart without losing loop progress.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/RelayClaw/RelayClaw/internal/session"
)

// Checkpoint is one persisted snapshot of a running turn.
type Checkpoint struct {
	ID           int64             `json:"id"`
	Conversation string            `json:"conversation"`
	Iteration    int               `json:"iteration"`
	Turns        []session.Turn    `json:"turns"`
	Scratch      map[string]string `json:"scratch,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Store is a sqlite-backed checkpoint log. Each conversation keeps its
// most recent snapshots; older ones are pruned on save.
type Store struct {
	db   *sql.DB
	keep int
}

// OpenStore opens (or creates) the checkpoint database at path. keep is
// the number of snapshots retained per conversation.
func OpenStore(path string, keep int) (*Store, error) {
	if keep <= 0 {
		keep = 3
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint db pragma: %w", err)
	}
	s := &Store{db: db, keep: keep}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			history TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_conv
			ON checkpoints(conversation_id, id DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a snapshot and prunes old ones beyond the retention count.
func (s *Store) Save(ctx context.Context, cp *Checkpoint) error {
	historyJSON, err := json.Marshal(cp.Turns)
	if err != nil {
		return fmt.Errorf("marshal checkpoint history: %w", err)
	}
	scratch := cp.Scratch
	if scratch == nil {
		scratch = map[string]string{}
	}
	scratchJSON, err := json.Marshal(scratch)
	if err != nil {
		return fmt.Errorf("marshal checkpoint context: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (conversation_id, iteration, history, context, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		cp.Conversation, cp.Iteration, string(historyJSON), string(scratchJSON), time.Now())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	cp.ID, _ = res.LastInsertId()

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE conversation_id = ? AND id NOT IN (
			SELECT id FROM checkpoints WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		)`, cp.Conversation, cp.Conversation, s.keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot for a conversation, or nil when the
// conversation has none.
func (s *Store) Latest(ctx context.Context, conversation string) (*Checkpoint, error) {
	var (
		cp          Checkpoint
		historyJSON string
		scratchJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, iteration, history, context, created_at
		 FROM checkpoints WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT 1`, conversation).
		Scan(&cp.ID, &cp.Conversation, &cp.Iteration, &historyJSON, &scratchJSON, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &cp.Turns); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint history: %w", err)
	}
	if err := json.Unmarshal([]byte(scratchJSON), &cp.Scratch); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint context: %w", err)
	}
	return &cp, nil
}

// Count returns the number of snapshots stored for a conversation.
func (s *Store) Count(ctx context.Context, conversation string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE conversation_id = ?`, conversation).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count checkpoints: %w", err)
	}
	return n, nil
}

// Clear removes all snapshots for a conversation. Called when a turn
// completes normally.
func (s *Store) Clear(ctx context.Context, conversation string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE conversation_id = ?`, conversation)
	if err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}
