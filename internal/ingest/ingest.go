// Package ingest feeds chat exports into the archive. It accepts bare
// JSON files, zipped export bundles, whole directories of either, and
// remote URLs, funneling every input through format detection and
// normalization into the repository.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatvault-io/chatvault/internal/archive"
	"github.com/chatvault-io/chatvault/internal/format"
	"github.com/chatvault-io/chatvault/internal/model"
	"github.com/chatvault-io/chatvault/internal/normalize"
	"github.com/chatvault-io/chatvault/internal/repository"
)

// Config holds one ingest run's inputs.
type Config struct {
	Paths   []string // files or directories holding .json / .zip exports
	URL     string   // optional remote export to fetch
	Persist bool     // write the merged archive through to storage
}

// Result records the outcome for a single input.
type Result struct {
	Source string          // file path or URL
	Format model.FormatTag // detected format, when detection succeeded
	Found  int             // conversations present in the input
	Added  int             // conversations new to the archive
	Err    error
}

// Report aggregates the results of one run.
type Report struct {
	Results []Result
}

// Found returns the total conversations seen across all inputs.
func (rep *Report) Found() int {
	n := 0
	for _, res := range rep.Results {
		n += res.Found
	}
	return n
}

// Added returns the total conversations merged into the archive.
func (rep *Report) Added() int {
	n := 0
	for _, res := range rep.Results {
		n += res.Added
	}
	return n
}

// Failed returns how many inputs errored.
func (rep *Report) Failed() int {
	n := 0
	for _, res := range rep.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Summary renders the report for terminal output.
func (rep *Report) Summary() string {
	var sb strings.Builder
	for _, res := range rep.Results {
		if res.Err != nil {
			fmt.Fprintf(&sb, "  %s: error: %v\n", res.Source, res.Err)
			continue
		}
		fmt.Fprintf(&sb, "  %s [%s]: %d found, %d added\n", res.Source, res.Format, res.Found, res.Added)
	}
	fmt.Fprintf(&sb, "Total: %d found, %d added, %d failed\n", rep.Found(), rep.Added(), rep.Failed())
	return sb.String()
}

// Runner drives ingest runs against one repository.
type Runner struct {
	repo   *repository.Repository
	client *http.Client
	logger *slog.Logger
}

// NewRunner creates an ingest runner.
func NewRunner(repo *repository.Repository, logger *slog.Logger) *Runner {
	return &Runner{
		repo:   repo,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Run ingests every configured input. Inputs fail independently: a
// malformed file is recorded in the report and the run moves on.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Report, error) {
	files, err := discoverFiles(cfg.Paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 && cfg.URL == "" {
		return nil, fmt.Errorf("nothing to ingest")
	}

	rep := &Report{}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return rep, ctx.Err()
		default:
		}
		rep.Results = append(rep.Results, r.IngestFile(ctx, path, cfg.Persist))
	}

	if cfg.URL != "" {
		rep.Results = append(rep.Results, r.ingestURL(ctx, cfg.URL, cfg.Persist))
	}

	r.logger.Info("ingest complete",
		"inputs", len(rep.Results),
		"found", rep.Found(),
		"added", rep.Added(),
		"errors", rep.Failed(),
	)
	return rep, nil
}

// IngestFile reads one export file, unwrapping bundles, and merges its
// conversations into the archive.
func (r *Runner) IngestFile(ctx context.Context, path string, persist bool) Result {
	var data []byte
	var err error
	if archive.IsBundle(path) {
		data, err = archive.ExtractPayload(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		r.logger.Warn("failed to read export", "path", path, "error", err)
		return Result{Source: path, Err: err}
	}
	return r.IngestBytes(ctx, path, data, persist)
}

func (r *Runner) ingestURL(ctx context.Context, rawURL string, persist bool) Result {
	data, err := r.fetch(ctx, rawURL)
	if err != nil {
		r.logger.Warn("failed to fetch export", "url", rawURL, "error", err)
		return Result{Source: rawURL, Err: err}
	}
	return r.IngestBytes(ctx, rawURL, data, persist)
}

// IngestBytes runs one in-memory payload through detection and
// normalization into the archive. source only labels logs and results.
func (r *Runner) IngestBytes(ctx context.Context, source string, data []byte, persist bool) Result {
	res := Result{Source: source}

	tag, err := format.Detect(data)
	if err != nil {
		r.logger.Warn("unrecognized export", "source", source, "error", err)
		res.Err = err
		return res
	}
	res.Format = tag

	convs, err := normalize.Normalize(tag, data)
	if err != nil {
		r.logger.Warn("failed to normalize export", "source", source, "format", tag, "error", err)
		res.Err = err
		return res
	}
	res.Found = len(convs)

	added, err := r.repo.SaveConversations(ctx, convs, persist)
	if err != nil {
		r.logger.Error("failed to save conversations", "source", source, "error", err)
		res.Err = err
		return res
	}
	res.Added = added

	r.logger.Info("export ingested",
		"source", source,
		"format", tag,
		"found", res.Found,
		"added", added,
	)
	return res
}

func (r *Runner) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch export: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// discoverFiles expands directories into the export files they hold.
// Explicit file paths must exist; directories may be empty.
func discoverFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		walkErr := filepath.Walk(p, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // skip unreadable entries
			}
			if info.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext == ".json" || ext == ".zip" {
				files = append(files, path)
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("walk %s: %w", p, walkErr)
		}
	}
	return files, nil
}
