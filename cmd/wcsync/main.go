package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/wcsync/internal/app"
	"github.com/schaermu/wcsync/internal/changeset"
	"github.com/schaermu/wcsync/internal/config"
	wcsync "github.com/schaermu/wcsync/internal/sync"
	"github.com/schaermu/wcsync/internal/wcpath"
	"github.com/schaermu/wcsync/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Status flags
	statusDepth   string
	statusShallow bool
	statusSets    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wcsync",
	Short: "Track the sync state of a Git working copy against its remote",
	Long: `wcsync compares a Git working copy with the branch it tracks and classifies
every resource as incoming, outgoing, conflicting or unchanged.

It can print the state once or run as a long-running daemon that refreshes on
GitHub push events and local filesystem changes.`,
	SilenceUsage: true,
}

var statusCmd = &cobra.Command{
	Use:   "status [path...]",
	Short: "Refresh and print the sync state of the working copy",
	Long: `Status fetches the remote, compares it with the working copy and prints every
resource that is not in sync.

Paths are workspace paths ("/src/main.go") or filesystem paths inside the
working copy. Without paths the whole working copy is refreshed.`,
	RunE: runStatus,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve starts a long-running HTTP server that listens for GitHub webhook events
and refreshes the working copy when the tracked branch is updated.

With serve.watch_workspace enabled, local filesystem changes are reclassified
as they happen.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wcsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/wcsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Status command flags
	statusCmd.Flags().StringVar(&statusDepth, "depth", "", "refresh depth (zero, one, infinite); defaults to refresh.depth")
	statusCmd.Flags().BoolVar(&statusShallow, "shallow", false, "use cached remote state only, without fetching")
	statusCmd.Flags().BoolVar(&statusSets, "changesets", false, "group incoming changes by revision")

	// Add commands
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	roots, err := resolveRoots(cfg.Workspace.Root, args)
	if err != nil {
		return err
	}
	req := a.Request(roots)
	if statusDepth != "" {
		if req.Depth, err = wcpath.ParseDepth(statusDepth); err != nil {
			return err
		}
	}
	if statusShallow {
		req.Deep = false
	}

	res, err := a.Refresh(ctx, req)
	if err != nil {
		return err
	}

	var sets []changeset.Set
	if statusSets {
		a.Changes.AddIncoming(ctx, res.Records)
		sets = a.Changes.Sets()
	}
	printStatus(cmd.OutOrStdout(), res, sets)

	if err := res.Err(); err != nil {
		logger.Error("refresh incomplete", "error", err)
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := webhook.NewServer(cfg, webhook.RefresherFunc(a.RefreshWorkspace), logger.With("component", "webhook"))
	if err != nil {
		return err
	}

	go a.CollectChanges(ctx)
	if cfg.Serve.WatchWorkspace {
		go func() {
			if err := a.Watch(ctx, cfg.Serve.Debounce); err != nil {
				logger.Error("workspace watcher stopped", "error", err)
			}
		}()
	}

	return server.Start(ctx)
}

// resolveRoots turns command line arguments into workspace paths.
// Filesystem paths inside the working copy win; other absolute arguments are
// taken as workspace paths.
func resolveRoots(root string, args []string) ([]wcpath.Path, error) {
	roots := make([]wcpath.Path, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		rel, err := filepath.Rel(root, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			roots = append(roots, wcpath.Parse(filepath.ToSlash(rel)))
			continue
		}
		if strings.HasPrefix(arg, "/") {
			roots = append(roots, wcpath.Parse(arg))
			continue
		}
		return nil, fmt.Errorf("path %s is outside the working copy %s", arg, root)
	}
	return wcpath.Dedupe(roots), nil
}

func printStatus(w io.Writer, res *wcsync.Result, sets []changeset.Set) {
	if len(res.Records) == 0 {
		_, _ = fmt.Fprintln(w, "working copy is in sync")
	}
	for _, rec := range res.Records {
		if rev := rec.Revision(); rev >= 0 {
			_, _ = fmt.Fprintf(w, "%-22s %s (r%d)\n", rec.Kind, rec.Path, rev)
		} else {
			_, _ = fmt.Fprintf(w, "%-22s %s\n", rec.Kind, rec.Path)
		}
	}
	for _, set := range sets {
		_, _ = fmt.Fprintf(w, "\n%s\n", set.Name)
		for _, p := range set.Paths() {
			_, _ = fmt.Fprintf(w, "  %s\n", p)
		}
	}
	if res.Cancelled {
		_, _ = fmt.Fprintln(w, "refresh was cancelled, results are partial")
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs go to stderr, stdout carries command output.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "wcsync", "config.yaml")
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"root", cfg.Workspace.Root,
		"remote", cfg.Remote.Name,
		"url", cfg.Remote.URL,
		"ref", cfg.Remote.Ref,
		"auth", cfg.AuthMethod())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
