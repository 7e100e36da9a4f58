package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chatvault-io/chatvault/internal/api"
	"github.com/chatvault-io/chatvault/internal/config"
	"github.com/chatvault-io/chatvault/internal/export"
	"github.com/chatvault-io/chatvault/internal/ingest"
	"github.com/chatvault-io/chatvault/internal/model"
	"github.com/chatvault-io/chatvault/internal/repository"
	"github.com/chatvault-io/chatvault/internal/store"
	"github.com/chatvault-io/chatvault/internal/watch"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatvault",
		Short: "Archive chat exports from ChatGPT, Claude, and Open WebUI",
		Long: `ChatVault normalizes chat platform exports into one canonical archive.
Conversations merge by id, so re-importing the same export is always safe.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newListCmd(),
		newExportCmd(),
		newClearCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

// vault bundles what every command needs once the archive is open.
type vault struct {
	cfg    config.Config
	logger *slog.Logger
	repo   *repository.Repository
}

// openVault wires config, storage, and the repository for one command.
// The returned cleanup closes the store.
func openVault(ctx context.Context) (*vault, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogging(cfg.LogLevel)

	st, err := store.Open(ctx, cfg.DataDir, cfg.BlobQuota, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	repo, err := repository.New(ctx, st, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	v := &vault{cfg: cfg, logger: logger, repo: repo}
	cleanup := func() {
		if err := repo.Close(); err != nil {
			logger.Warn("failed to close storage", "error", err)
		}
	}
	return v, cleanup, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and inbox watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			v, cleanup, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			v.logger.Info("chatvault starting",
				"port", v.cfg.Port,
				"backend", v.repo.Backend(),
				"conversations", v.repo.Count(),
			)

			runner := ingest.NewRunner(v.repo, v.logger)

			var wg sync.WaitGroup
			if v.cfg.InboxDir != "" {
				w := watch.New(v.cfg.InboxDir, runner, v.logger)
				w.Debounce = time.Duration(v.cfg.WatchDebounceSeconds) * time.Second
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := w.Run(ctx); err != nil {
						v.logger.Error("inbox watcher stopped", "error", err)
					}
				}()
			}

			err = api.NewServer(v.cfg.Port, v.repo, runner, v.logger).Run(ctx)
			stop()
			wg.Wait()

			v.logger.Info("chatvault stopped")
			return err
		},
	}
}

func newImportCmd() *cobra.Command {
	var (
		url     string
		dryRun  bool
		persist bool
	)
	cmd := &cobra.Command{
		Use:   "import [file|dir ...]",
		Short: "Import chat exports into the archive",
		Long: `Import merges platform exports into the archive. Inputs may be .json
files, .zip export bundles, or directories of either. Exports fetched
with --url are previewed in memory only; pass --persist to keep them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && url == "" {
				return fmt.Errorf("nothing to import: pass files, directories, or --url")
			}
			if dryRun && persist {
				return fmt.Errorf("--dry-run and --persist conflict")
			}

			save := true
			switch {
			case dryRun:
				save = false
			case persist:
				save = true
			case url != "" && len(args) == 0:
				save = false
			}

			ctx := cmd.Context()
			v, cleanup, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := ingest.NewRunner(v.repo, v.logger).Run(ctx, ingest.Config{
				Paths:   args,
				URL:     url,
				Persist: save,
			})
			if err != nil {
				return err
			}

			fmt.Print(rep.Summary())
			if !save {
				fmt.Println("Dry run: nothing was written to storage.")
			}
			if rep.Failed() > 0 {
				return fmt.Errorf("%d of %d inputs failed", rep.Failed(), len(rep.Results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "fetch an export from a URL")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "merge in memory only, write nothing")
	cmd.Flags().BoolVar(&persist, "persist", false, "persist URL imports too")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived conversations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, cleanup, err := openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			convs := v.repo.LoadConversations()
			if len(convs) == 0 {
				fmt.Println("The archive is empty.")
				return nil
			}
			for _, c := range convs {
				title := c.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %-10s %4d msgs  %s\n",
					c.Updated.Format("2006-01-02"), c.Format, len(c.Messages), title)
			}
			fmt.Printf("\n%d conversations (%s backend)\n", len(convs), v.repo.Backend())
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		out        string
		formatName string
		id         string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the archive as JSON or Markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, cleanup, err := openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			convs := v.repo.LoadConversations()
			if id != "" {
				c, ok := v.repo.Conversation(id)
				if !ok {
					return fmt.Errorf("no conversation %q", id)
				}
				convs = []model.Conversation{c}
			}

			var data []byte
			switch formatName {
			case "json":
				if data, err = export.JSON(convs); err != nil {
					return err
				}
			case "markdown", "md":
				var sb strings.Builder
				for i, c := range convs {
					if i > 0 {
						sb.WriteString("\n---\n\n")
					}
					sb.WriteString(export.Markdown(c))
				}
				data = []byte(sb.String())
			default:
				return fmt.Errorf("unknown format %q (want json or markdown)", formatName)
			}

			if out == "" || out == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("Wrote %d conversations to %s\n", len(convs), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&formatName, "format", "json", "output format: json or markdown")
	cmd.Flags().StringVar(&id, "id", "", "export a single conversation")
	return cmd
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase the entire archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, cleanup, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if !yes {
				fmt.Printf("This erases all %d archived conversations. Type 'yes' to continue: ", v.repo.Count())
				var answer string
				fmt.Scanln(&answer)
				if strings.ToLower(strings.TrimSpace(answer)) != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			if err := v.repo.ClearConversations(ctx); err != nil {
				return err
			}
			fmt.Println("Archive cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show archive and storage details",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, cleanup, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			size, err := v.repo.StorageSize(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Backend:        %s\n", v.repo.Backend())
			fmt.Printf("Conversations:  %d\n", v.repo.Count())
			fmt.Printf("Storage used:   %s\n", humanize.Bytes(uint64(size)))
			fmt.Printf("Data dir:       %s\n", v.cfg.DataDir)
			if v.cfg.InboxDir != "" {
				fmt.Printf("Inbox:          %s\n", v.cfg.InboxDir)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatvault %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func setupLogging(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr so exported JSON on stdout stays parseable.
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
