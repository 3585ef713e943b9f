// Package store persists chats, messages, assistants and file uploads in
// SQLite. It implements the message repository used by composition, the
// upload lookup used by the file resolver and the assistant lookup used by
// the prompt provider.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"chatcompose/internal/compose"
	"chatcompose/internal/files"
	"chatcompose/internal/logging"
	"chatcompose/internal/prompt"
)

// Queries slower than this are logged as warnings.
const defaultSlowQuery = 100 * time.Millisecond

// Store is a SQLite-backed store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

var (
	_ compose.MessageRepository = (*Store)(nil)
	_ files.UploadLookup        = (*Store)(nil)
	_ prompt.AssistantLookup    = (*Store)(nil)
)

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	log := logging.Get(logging.CategoryStore)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		assistant_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id),
		previous_message_id TEXT REFERENCES messages(id),
		raw_message TEXT NOT NULL,
		generation_input TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
	CREATE INDEX IF NOT EXISTS idx_messages_previous ON messages(previous_message_id);

	CREATE TABLE IF NOT EXISTS file_uploads (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		storage_provider_id TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assistants (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		prompt_external TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assistant_files (
		assistant_id TEXT NOT NULL REFERENCES assistants(id),
		file_upload_id TEXT NOT NULL REFERENCES file_uploads(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (assistant_id, file_upload_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
