package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps pending interrupts in a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, ttl time.Duration) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("checkpoint db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS pending_interrupts (
			thread_id TEXT PRIMARY KEY,
			interrupt_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			created_at_utc TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SavePending(ctx context.Context, p Pending) error {
	if err := validate(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_interrupts (thread_id, interrupt_id, content, created_at_utc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			interrupt_id = excluded.interrupt_id,
			content = excluded.content,
			created_at_utc = excluded.created_at_utc`,
		p.ThreadID, p.InterruptID, string(p.Content), p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save pending interrupt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Pending(ctx context.Context, threadID string) (*Pending, error) {
	var (
		p         Pending
		content   string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT thread_id, interrupt_id, content, created_at_utc FROM pending_interrupts WHERE thread_id = ?",
		threadID,
	).Scan(&p.ThreadID, &p.InterruptID, &content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pending interrupt: %w", err)
	}

	p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse pending interrupt time: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(p.CreatedAt) > s.ttl {
		if err := s.ClearPending(ctx, threadID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	if content != "" {
		p.Content = []byte(content)
	}
	return &p, nil
}

func (s *SQLiteStore) ClearPending(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_interrupts WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("clear pending interrupt: %w", err)
	}
	return nil
}
