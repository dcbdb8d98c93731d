package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one completed fetch attempt, success or failure.
type Entry struct {
	ID        int64
	Channel   string
	ChatID    string
	SenderID  string
	Locator   string
	Format    string
	Title     string
	SizeBytes int64
	Delivered bool
	FailCause string
	CreatedAt time.Time
}

// Store keeps per-chat fetch history in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and its directory) if needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode keeps the control loop from blocking on writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS fetches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		locator TEXT NOT NULL,
		format TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		delivered INTEGER NOT NULL,
		fail_cause TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fetches_chat ON fetches(channel, chat_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Add records one finished fetch.
func (s *Store) Add(ctx context.Context, e Entry) error {
	query := `
	INSERT INTO fetches (channel, chat_id, sender_id, locator, format, title, size_bytes, delivered, fail_cause, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		e.Channel, e.ChatID, e.SenderID, e.Locator, e.Format,
		e.Title, e.SizeBytes, e.Delivered, e.FailCause, created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert fetch record: %w", err)
	}
	return nil
}

// Recent returns the newest entries for a chat, newest first.
func (s *Store) Recent(ctx context.Context, channel, chatID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
	SELECT id, channel, chat_id, sender_id, locator, format, title, size_bytes, delivered, fail_cause, created_at
	FROM fetches WHERE channel = ? AND chat_id = ?
	ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, channel, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query fetch history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(
			&e.ID, &e.Channel, &e.ChatID, &e.SenderID, &e.Locator, &e.Format,
			&e.Title, &e.SizeBytes, &e.Delivered, &e.FailCause, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan fetch row: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetch history: %w", err)
	}
	return entries, nil
}

// Prune drops entries older than the cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM fetches WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("prune fetch history: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
