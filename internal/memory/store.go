// Package memory provides the persistent key-fact store shared by
// conversations, plus the learned-fix table used by the recovery pipeline.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Fact is one stored piece of information.
type Fact struct {
	ID        int64     `json:"id"`
	Area      string    `json:"area"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LearnedFix is a remedy that previously resolved a failure fingerprint.
type LearnedFix struct {
	Fingerprint string    `json:"fingerprint"`
	Remedy      string    `json:"remedy"`
	HitCount    int       `json:"hit_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is a sqlite-backed fact store. Save/Search/Delete are individually
// atomic and safe to call concurrently from multiple conversation turns.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			area TEXT NOT NULL DEFAULT 'main',
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_facts_area ON facts(area);
		CREATE TABLE IF NOT EXISTS learned_fixes (
			fingerprint TEXT PRIMARY KEY,
			remedy TEXT NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate memory db: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a fact and returns its id.
func (s *Store) Save(ctx context.Context, area, content string) (int64, error) {
	if area == "" {
		area = "main"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (area, content, created_at) VALUES (?, ?, ?)`,
		area, content, time.Now())
	if err != nil {
		return 0, fmt.Errorf("save fact: %w", err)
	}
	return res.LastInsertId()
}

// Search returns facts whose content matches the query, newest first.
// Matching is token-wise LIKE: every whitespace-separated term must appear.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	where := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)+1)
	for _, term := range terms {
		where = append(where, "content LIKE ?")
		args = append(args, "%"+term+"%")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, area, content, created_at FROM facts WHERE `+
			strings.Join(where, " AND ")+
			` ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Area, &f.Content, &f.CreatedAt); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Delete removes a fact by id. Returns true when a row was deleted.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete fact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetFix returns the learned fix for a fingerprint, or nil when unknown.
// A hit bumps the usage counter.
func (s *Store) GetFix(ctx context.Context, fingerprint string) (*LearnedFix, error) {
	var fix LearnedFix
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, remedy, hit_count, created_at FROM learned_fixes WHERE fingerprint = ?`,
		fingerprint).Scan(&fix.Fingerprint, &fix.Remedy, &fix.HitCount, &fix.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fix: %w", err)
	}
	_, _ = s.db.ExecContext(ctx,
		`UPDATE learned_fixes SET hit_count = hit_count + 1 WHERE fingerprint = ?`, fingerprint)
	return &fix, nil
}

// PutFix persists a remedy for a fingerprint, replacing any earlier one.
func (s *Store) PutFix(ctx context.Context, fingerprint, remedy string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learned_fixes (fingerprint, remedy, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET remedy = excluded.remedy`,
		fingerprint, remedy, time.Now())
	if err != nil {
		return fmt.Errorf("put fix: %w", err)
	}
	return nil
}
