package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chatvault-io/chatvault/internal/model"
)

// DefaultBlobQuota is the write cap for the blob backend.
const DefaultBlobQuota = 5 << 20 // 5 MiB

// Blob stores the whole archive as one JSON array in a single file. Writes
// are all-or-nothing: the encoded payload is checked against the quota, then
// written to a temp file and renamed into place.
type Blob struct {
	path   string
	quota  int64
	logger *slog.Logger
}

// NewBlob opens a blob store at path. A quota of 0 means DefaultBlobQuota.
func NewBlob(path string, quota int64, logger *slog.Logger) (*Blob, error) {
	if quota <= 0 {
		quota = DefaultBlobQuota
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Blob{path: path, quota: quota, logger: logger}, nil
}

func (b *Blob) Name() string { return "blob" }

func (b *Blob) SaveAll(ctx context.Context, convs []model.Conversation) error {
	if convs == nil {
		convs = []model.Conversation{}
	}
	data, err := json.Marshal(convs)
	if err != nil {
		return fmt.Errorf("encode blob: %w", err)
	}
	if int64(len(data)) > b.quota {
		return fmt.Errorf("%w: %d bytes over a %d byte quota", ErrQuotaExceeded, len(data), b.quota)
	}
	if err := atomicWriteFile(b.path, data); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (b *Blob) LoadAll(ctx context.Context) ([]model.Conversation, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var convs []model.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		// An unreadable blob is erased so the next save starts clean.
		b.logger.Warn("erasing unreadable blob file",
			"path", b.path,
			"error", fmt.Errorf("%w: %v", ErrCorruptedRecord, err),
		)
		if rmErr := os.Remove(b.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("erase corrupted blob: %w", rmErr)
		}
		return nil, nil
	}
	return convs, nil
}

func (b *Blob) Clear(ctx context.Context) error {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

func (b *Blob) SizeBytes(ctx context.Context) (int64, error) {
	info, err := os.Stat(b.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	return info.Size(), nil
}

func (b *Blob) Close() error { return nil }

// atomicWriteFile writes data to a temp file in the same directory, syncs
// it, and renames it over path. A crash mid-write leaves the old file
// untouched.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".blob-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
