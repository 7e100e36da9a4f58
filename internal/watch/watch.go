// Package watch keeps an inbox directory under observation and archives
// export files dropped into it. Processed files move to done/, failed
// ones to failed/, so the inbox root only ever holds work in flight.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chatvault-io/chatvault/internal/ingest"
)

const (
	doneDir   = "done"
	failedDir = "failed"

	pollInterval = 250 * time.Millisecond
)

// Watcher ingests export files as they land in an inbox directory.
type Watcher struct {
	inbox  string
	runner *ingest.Runner
	logger *slog.Logger

	// Debounce is how long the inbox must stay quiet before a sweep.
	// Large exports are often copied in several chunks; sweeping too
	// early would archive a half-written file.
	Debounce time.Duration
}

// New creates a watcher over inbox.
func New(inbox string, runner *ingest.Runner, logger *slog.Logger) *Watcher {
	return &Watcher{
		inbox:    inbox,
		runner:   runner,
		logger:   logger,
		Debounce: 2 * time.Second,
	}
}

// Run watches the inbox until ctx is done. Files already sitting in the
// inbox are archived before the watch starts.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.inbox, filepath.Join(w.inbox, doneDir), filepath.Join(w.inbox, failedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create inbox dir %s: %w", dir, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.inbox); err != nil {
		return fmt.Errorf("watch %s: %w", w.inbox, err)
	}

	w.logger.Info("watching inbox", "dir", w.inbox, "debounce", w.Debounce)
	w.sweep(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastEvent time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) && isExport(ev.Name) {
				lastEvent = time.Now()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watch error", "error", err)
		case <-ticker.C:
			if lastEvent.IsZero() || time.Since(lastEvent) < w.Debounce {
				continue
			}
			lastEvent = time.Time{}
			w.sweep(ctx)
		}
	}
}

// sweep archives every export file in the inbox root and moves it out.
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		w.logger.Warn("failed to read inbox", "dir", w.inbox, "error", err)
		return
	}

	for _, e := range entries {
		if e.IsDir() || !isExport(e.Name()) {
			continue
		}
		path := filepath.Join(w.inbox, e.Name())
		if res := w.runner.IngestFile(ctx, path, true); res.Err != nil {
			w.moveTo(path, failedDir)
		} else {
			w.moveTo(path, doneDir)
		}
	}
}

func (w *Watcher) moveTo(path, subdir string) {
	dest := filepath.Join(w.inbox, subdir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(dest, ext), time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, dest); err != nil {
		w.logger.Warn("failed to move processed file", "path", path, "error", err)
	}
}

func isExport(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".zip":
		return true
	}
	return false
}
