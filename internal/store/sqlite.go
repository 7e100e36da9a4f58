package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/chatvault-io/chatvault/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id      TEXT PRIMARY KEY,
	title   TEXT NOT NULL DEFAULT '',
	format  TEXT NOT NULL,
	created TEXT NOT NULL,
	updated TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated);
CREATE INDEX IF NOT EXISTS idx_conversations_title   ON conversations(title);
`

// SQLite keeps one row per conversation, with the canonical JSON document in
// the payload column and a few columns broken out for ordering. SaveAll is a
// single transaction that swaps the archive wholesale.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and if needed creates) the database at path. Any
// failure here makes the caller fall back to the blob backend, so the whole
// setup runs eagerly instead of on first query.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent readers while a writer is active;
	// busy_timeout reduces SQLITE_BUSY errors under contention.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) SaveAll(ctx context.Context, convs []model.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTransactionAborted, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("%w: clear table: %v", ErrTransactionAborted, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversations (id, title, format, created, updated, payload)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", ErrTransactionAborted, err)
	}
	defer stmt.Close()

	for _, conv := range convs {
		payload, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("%w: encode conversation %s: %v", ErrTransactionAborted, conv.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			conv.ID, conv.Title, string(conv.Format),
			conv.Created.ISO(), conv.Updated.ISO(), string(payload),
		)
		if err != nil {
			return fmt.Errorf("%w: insert conversation %s: %v", ErrTransactionAborted, conv.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransactionAborted, err)
	}
	return nil
}

func (s *SQLite) LoadAll(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM conversations ORDER BY updated DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	var corrupted []string
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		var conv model.Conversation
		if err := json.Unmarshal([]byte(payload), &conv); err != nil {
			s.logger.Warn("dropping unreadable conversation record",
				"id", id,
				"error", fmt.Errorf("%w: %v", ErrCorruptedRecord, err),
			)
			corrupted = append(corrupted, id)
			continue
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	rows.Close()

	// Self-healing: unreadable rows are removed so they stop resurfacing
	// on every load.
	for _, id := range corrupted {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
			s.logger.Warn("failed to erase corrupted record", "id", id, "error", err)
		}
	}

	return convs, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	return nil
}

func (s *SQLite) SizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("read database size: %w", err)
	}
	return size, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
