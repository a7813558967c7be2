// Package app wires the configured workspace, git providers, cache, engine
// and collectors together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/wcsync/internal/cache"
	"github.com/schaermu/wcsync/internal/changeset"
	"github.com/schaermu/wcsync/internal/config"
	"github.com/schaermu/wcsync/internal/git"
	"github.com/schaermu/wcsync/internal/notify"
	wcsync "github.com/schaermu/wcsync/internal/sync"
	"github.com/schaermu/wcsync/internal/wcpath"
	"github.com/schaermu/wcsync/internal/workspace"
)

// App is a fully wired working copy.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Lister  *workspace.Lister
	Local   *git.LocalProvider
	Remote  *git.RemoteProvider
	Cache   *cache.Cache
	Engine  *wcsync.Engine
	Events  *notify.Broadcaster
	Changes *changeset.Collector

	changes <-chan notify.Event
}

// New prepares the workspace, cloning it first when it does not exist yet,
// and wires all components.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	root := cfg.Workspace.Root
	client := git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
	if err := client.EnsureClone(ctx, cfg.Remote.URL, cfg.Remote.Ref, root); err != nil {
		return nil, fmt.Errorf("failed to prepare workspace: %w", err)
	}

	filter := workspace.NewFilter(cfg.Workspace.InternalDirs, cfg.Workspace.Ignore)
	lister := workspace.NewLister(root, filter)
	local := git.NewLocalProvider(client, root, cfg.TrackingRef(), logger.With("component", "local"))
	remote := git.NewRemoteProvider(client, root, git.RemoteOptions{
		Remote:        cfg.Remote.Name,
		TrackingRef:   cfg.TrackingRef(),
		FetchInterval: cfg.Remote.FetchInterval,
	}, logger.With("component", "remote"))

	c := cache.New(workspace.MultiLister{lister, local})
	events := notify.NewBroadcaster()

	engine := wcsync.NewEngine(wcsync.Options{
		BatchSize:        cfg.Refresh.BatchSize,
		FetchConcurrency: cfg.Refresh.FetchConcurrency,
		Retry:            cfg.Refresh.Retry,
	}, wcsync.Deps{
		Cache:  c,
		Scope:  filter,
		Local:  local,
		Remote: remote,
		Sink:   events,
	}, logger.With("component", "engine"))

	collector := changeset.NewCollector(logger.With("component", "changeset"), changeset.WithCommentSource(remote))

	return &App{
		cfg:     cfg,
		logger:  logger,
		Lister:  lister,
		Local:   local,
		Remote:  remote,
		Cache:   c,
		Engine:  engine,
		Events:  events,
		Changes: collector,
		changes: events.Subscribe(notify.DefaultBuffer),
	}, nil
}

// Request builds a refresh request for roots using the configured depth and
// mode. No roots means the whole workspace.
func (a *App) Request(roots []wcpath.Path) wcsync.Request {
	return wcsync.Request{
		Roots: roots,
		Depth: a.cfg.RefreshDepth(),
		Deep:  a.cfg.DeepRefresh(),
	}
}

// Refresh reloads the local state and refreshes roots.
func (a *App) Refresh(ctx context.Context, req wcsync.Request) (*wcsync.Result, error) {
	if err := a.Local.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to read local state: %w", err)
	}
	return a.Engine.Refresh(ctx, req)
}

// RefreshWorkspace refreshes roots, or the whole workspace when roots is
// empty, with the configured settings. Fetch failures are reported as an
// error.
func (a *App) RefreshWorkspace(ctx context.Context, roots []wcpath.Path) error {
	res, err := a.Refresh(ctx, a.Request(roots))
	if err != nil {
		return err
	}
	a.logger.Info("workspace refreshed",
		"roots", len(roots),
		"records", len(res.Records),
		"changed", len(res.Changed),
		"fetched", res.Fetched)
	return res.Err()
}

// LocalChanged reloads the local state and reclassifies paths.
func (a *App) LocalChanged(ctx context.Context, paths []wcpath.Path) {
	if err := a.Local.Reload(ctx); err != nil {
		a.logger.Warn("failed to read local state", "error", err)
		return
	}
	a.Engine.ResourcesStateChanged(ctx, paths)
}

// CollectChanges feeds refresh notifications into the change set collector
// until ctx is done or the app is closed. Notifications published before the
// call are buffered.
func (a *App) CollectChanges(ctx context.Context) {
	a.Changes.Run(ctx, a.changes)
}

// Watch reports local filesystem changes to the engine until ctx is done.
func (a *App) Watch(ctx context.Context, quiet time.Duration) error {
	w := workspace.NewWatcher(a.Lister, quiet, a.logger.With("component", "watcher"))
	return w.Run(ctx, a.LocalChanged)
}

// Close closes every notification subscription.
func (a *App) Close() {
	a.Events.Close()
}
