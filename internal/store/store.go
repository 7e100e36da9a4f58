// Package store persists canonical conversations. Two backends implement
// the same contract: a single-file JSON blob with a hard size quota, and a
// SQLite database that replaces its contents transactionally. The backend
// is probed once at startup; SQLite wins whenever its driver initializes.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/chatvault-io/chatvault/internal/model"
)

var (
	// ErrQuotaExceeded means a blob write was refused because the encoded
	// payload would pass the size cap. Nothing is written.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrTransactionAborted means a SQLite replace-all rolled back; the
	// previous contents are intact.
	ErrTransactionAborted = errors.New("storage transaction aborted")
	// ErrCorruptedRecord labels stored data that no longer parses. It is
	// never returned from LoadAll: corrupted records are erased and logged,
	// and loading carries on with whatever is readable.
	ErrCorruptedRecord = errors.New("corrupted record")
)

// Store is the persistence contract shared by both backends. SaveAll
// replaces the full archive; LoadAll returns it. Implementations are free
// to order LoadAll results however they like, the repository re-indexes by
// id anyway.
type Store interface {
	Name() string
	SaveAll(ctx context.Context, convs []model.Conversation) error
	LoadAll(ctx context.Context) ([]model.Conversation, error)
	Clear(ctx context.Context) error
	SizeBytes(ctx context.Context) (int64, error)
	Close() error
}

// Open selects the storage backend for dir, preferring SQLite and falling
// back to the blob file when the driver cannot initialize. When SQLite
// takes over a machine that previously ran on the blob backend, the blob's
// contents move across once and the blob file is cleared; the move never
// runs in reverse. blobQuota caps blob writes, 0 meaning DefaultBlobQuota.
func Open(ctx context.Context, dir string, blobQuota int64, logger *slog.Logger) (Store, error) {
	blobPath := filepath.Join(dir, "conversations.json")

	sq, err := OpenSQLite(ctx, filepath.Join(dir, "chatvault.db"), logger)
	if err != nil {
		logger.Warn("sqlite backend unavailable, using blob file", "error", err)
		return NewBlob(blobPath, blobQuota, logger)
	}

	if err := migrateBlob(ctx, blobPath, sq, logger); err != nil {
		logger.Warn("blob migration failed, blob contents kept for the next run", "error", err)
	}
	return sq, nil
}

// migrateBlob runs the one-shot blob-to-SQLite migration. It only fires
// when the SQLite side is empty and the blob has data: a blob that
// reappears after a successful migration is ignored rather than merged.
func migrateBlob(ctx context.Context, blobPath string, sq *SQLite, logger *slog.Logger) error {
	existing, err := sq.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("inspect sqlite: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	blob, err := NewBlob(blobPath, 0, logger)
	if err != nil {
		return fmt.Errorf("open blob: %w", err)
	}
	legacy, err := blob.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	if len(legacy) == 0 {
		return nil
	}

	if err := sq.SaveAll(ctx, legacy); err != nil {
		return fmt.Errorf("copy into sqlite: %w", err)
	}
	if err := blob.Clear(ctx); err != nil {
		return fmt.Errorf("clear blob: %w", err)
	}

	logger.Info("migrated blob storage into sqlite", "conversations", len(legacy))
	return nil
}
