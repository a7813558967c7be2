// Package sync reconciles live local status with cached remote status and
// reports the resulting sync records.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/schaermu/wcsync/internal/cache"
	"github.com/schaermu/wcsync/internal/compare"
	"github.com/schaermu/wcsync/internal/metrics"
	"github.com/schaermu/wcsync/internal/notify"
	"github.com/schaermu/wcsync/internal/retry"
	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/syncinfo"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// ScopeFilter decides which resources take part in synchronization.
type ScopeFilter interface {
	IsSupervised(p wcpath.Path) bool
}

// LocalStatusProvider reads the live status of a working-copy resource.
type LocalStatusProvider interface {
	LocalStatus(ctx context.Context, p wcpath.Path) (status.LocalStatus, error)
}

// RemoteStatusProvider fetches repository-side status for resources below
// roots. Only resources with something to report are returned.
type RemoteStatusProvider interface {
	FetchStatuses(ctx context.Context, roots []wcpath.Path, depth wcpath.Depth) ([]status.Snapshot, error)
}

// Options tunes remote fetching.
type Options struct {
	BatchSize        int // roots per fetch call
	FetchConcurrency int // fetch calls in flight per refresh
	Retry            retry.Config
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		BatchSize:        64,
		FetchConcurrency: 4,
		Retry:            retry.DefaultConfig(),
	}
}

// Deps are the collaborators of an Engine. Cache, Scope, Local and Remote are
// required; Sink may be nil.
type Deps struct {
	Cache      *cache.Cache
	Scope      ScopeFilter
	Local      LocalStatusProvider
	Remote     RemoteStatusProvider
	Sink       notify.Sink
	Comparator compare.Comparator
}

// Engine computes sync records for a working copy.
type Engine struct {
	opts   Options
	cache  *cache.Cache
	scope  ScopeFilter
	local  LocalStatusProvider
	remote RemoteStatusProvider
	sink   notify.Sink
	cmp    compare.Comparator
	logger *slog.Logger

	pending *pendingSet
	flight  singleflight.Group

	fetchMu sync.Mutex
	fetches map[string]*sharedFetch // keyed like flight
}

// NewEngine creates a new sync engine
func NewEngine(opts Options, deps Deps, logger *slog.Logger) *Engine {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = def.FetchConcurrency
	}
	if opts.Retry.MaxAttempts < 0 {
		opts.Retry = def.Retry
	}
	return &Engine{
		opts:    opts,
		cache:   deps.Cache,
		scope:   deps.Scope,
		local:   deps.Local,
		remote:  deps.Remote,
		sink:    deps.Sink,
		cmp:     deps.Comparator,
		logger:  logger,
		pending: newPendingSet(),
		fetches: make(map[string]*sharedFetch),
	}
}

// refreshRun carries the state of a single Refresh call.
type refreshRun struct {
	req        Request
	res        *Result
	batch      *notify.Batch
	candidates map[wcpath.Path]struct{}
}

func (r *refreshRun) candidate(paths ...wcpath.Path) {
	for _, p := range paths {
		r.candidates[p] = struct{}{}
	}
}

// Refresh classifies every supervised resource within the request's scope.
// Deep requests fetch remote statuses first and write them to the cache.
// At most one event is published per call, after all cache writes of the
// call. Fetch failures are reported in the result, not as an error; the
// error is ErrCancelled if ctx was done before any work started.
func (e *Engine) Refresh(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	start := time.Now()
	req.Roots = normalizeRoots(req.Roots)
	run := &refreshRun{
		req:        req,
		res:        &Result{},
		batch:      notify.NewBatch(e.sink),
		candidates: make(map[wcpath.Path]struct{}),
	}

	e.logger.Debug("refresh started", "roots", req.Roots, "depth", req.Depth, "deep", req.Deep)

	e.recheckPending(ctx, run)

	if req.Deep {
		e.fetch(ctx, run)
	}

	if run.res.Cancelled {
		// Committed writes are still announced, just without records.
		for p := range run.candidates {
			run.batch.Add(p)
		}
	} else {
		e.classifyScope(ctx, run)
	}

	run.res.Changed = run.batch.Event().Paths
	run.batch.Flush()

	metrics.RecordRefresh(req.Deep, time.Since(start))
	for _, rec := range run.res.Records {
		metrics.RecordSyncRecord(rec.Kind.String())
	}

	e.logger.Info("refresh completed",
		"roots", len(req.Roots),
		"deep", req.Deep,
		"records", len(run.res.Records),
		"changed", len(run.res.Changed),
		"fetched", run.res.Fetched,
		"failed_batches", len(run.res.Failed),
		"cancelled", run.res.Cancelled,
		"duration", time.Since(start))

	return run.res, nil
}

// RefreshAsync runs Refresh on its own goroutine. The returned channel
// receives exactly one outcome and is then closed.
func (e *Engine) RefreshAsync(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		res, err := e.Refresh(ctx, req)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// classifyScope classifies every resource in scope, folding the records of
// changed resources into the run's event.
func (e *Engine) classifyScope(ctx context.Context, run *refreshRun) {
	visited := make(map[wcpath.Path]struct{})

	for _, p := range e.scopeOf(run.req.Roots, run.req.Depth) {
		if ctx.Err() != nil {
			run.res.Cancelled = true
			break
		}
		visited[p] = struct{}{}
		rec, err := e.classify(ctx, p)
		if errors.Is(err, errUnsupervised) {
			delete(run.candidates, p)
			continue
		}
		if err != nil {
			if _, changed := run.candidates[p]; changed {
				run.batch.Add(p)
			}
			continue
		}
		if e.trackDeletion(rec) {
			run.candidate(p)
		}
		if rec.Kind != syncinfo.Unchanged {
			run.res.Records = append(run.res.Records, rec)
		}
		if _, changed := run.candidates[p]; changed {
			e.announce(run.batch, rec)
		}
	}

	// Candidates outside the enumerated scope, e.g. stale entries that were
	// dropped from the cache and no longer exist on disk.
	for p := range run.candidates {
		if _, ok := visited[p]; ok {
			continue
		}
		if run.res.Cancelled || ctx.Err() != nil {
			run.batch.Add(p)
			continue
		}
		rec, err := e.classify(ctx, p)
		switch {
		case err == nil:
			e.announce(run.batch, rec)
		case !errors.Is(err, errUnsupervised):
			run.batch.Add(p)
		}
	}

	sort.Slice(run.res.Records, func(i, j int) bool {
		return wcpath.Compare(run.res.Records[i].Path, run.res.Records[j].Path) < 0
	})
}

// announce adds rec to the event unless nothing is known about the resource
// on either side.
func (e *Engine) announce(batch *notify.Batch, rec syncinfo.Record) {
	if rec.Remote == nil && !rec.Local.Versioned && !rec.Local.Exists {
		return
	}
	if rec.Kind == syncinfo.Unchanged {
		batch.Add(rec.Path)
		return
	}
	batch.AddRecords(rec)
}

// errUnsupervised is returned by classify for resources outside the
// supervised scope, including linked resources.
var errUnsupervised = errors.New("resource is not supervised")

// classify computes the record for a single resource. It fails with
// errUnsupervised for resources outside the supervised scope and with the
// provider's error when the local status cannot be read.
func (e *Engine) classify(ctx context.Context, p wcpath.Path) (syncinfo.Record, error) {
	if !e.scope.IsSupervised(p) {
		return syncinfo.Record{}, errUnsupervised
	}
	local, err := e.local.LocalStatus(ctx, p)
	if err != nil {
		e.logger.Warn("failed to read local status", "path", p, "error", err)
		return syncinfo.Record{}, fmt.Errorf("failed to read local status of %s: %w", p, err)
	}
	if local.Linked {
		return syncinfo.Record{}, errUnsupervised
	}

	rec := syncinfo.Record{Path: p, Local: local}
	if snap, ok := e.cache.Get(p); ok {
		rec.Remote = &snap
	}
	rec.Kind = Classify(local, rec.Remote, e.cmp)
	return rec, nil
}

// trackDeletion records outgoing deletions of resources that are gone from
// disk. It reports whether the pending-deletion table changed.
func (e *Engine) trackDeletion(rec syncinfo.Record) bool {
	if rec.Kind == syncinfo.OutgoingDeletion && !rec.Local.Exists {
		return e.pending.add(rec.Path)
	}
	return false
}

// recheckPending drops pending deletions within the request's scope that
// were restored or committed since they were recorded.
func (e *Engine) recheckPending(ctx context.Context, run *refreshRun) {
	for _, root := range run.req.Roots {
		for _, p := range e.pending.within(root, run.req.Depth) {
			if e.settleDeletion(ctx, p) {
				run.candidate(p)
				run.batch.Add(p)
			}
		}
	}
}

// settleDeletion removes p from the pending-deletion table when the resource
// exists again or is no longer versioned.
func (e *Engine) settleDeletion(ctx context.Context, p wcpath.Path) bool {
	local, err := e.local.LocalStatus(ctx, p)
	if err != nil {
		e.logger.Warn("failed to recheck pending deletion", "path", p, "error", err)
		return false
	}
	if local.Exists || !local.Versioned {
		return e.pending.remove(p)
	}
	return false
}

// scopeOf enumerates the resources depth includes below roots: the roots,
// their cached and locally known descendants, and pending deletions.
// Parents come first.
func (e *Engine) scopeOf(roots []wcpath.Path, depth wcpath.Depth) []wcpath.Path {
	seen := make(map[wcpath.Path]struct{})
	var out []wcpath.Path
	add := func(p wcpath.Path) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, root := range roots {
		add(root)
		for _, p := range e.cache.Descendants(root, depth) {
			add(p)
		}
		for _, p := range e.pending.within(root, depth) {
			add(p)
		}
	}
	wcpath.SortParentFirst(out)
	return out
}

// SyncInfo classifies a single resource. It reports false for resources
// outside the supervised scope.
func (e *Engine) SyncInfo(ctx context.Context, p wcpath.Path) (syncinfo.Record, bool) {
	rec, err := e.classify(ctx, p)
	return rec, err == nil
}

// Members returns the supervised direct children of p, whether cached or
// only known locally.
func (e *Engine) Members(p wcpath.Path) []wcpath.Path {
	var out []wcpath.Path
	for _, child := range e.cache.Descendants(p, wcpath.DepthOne) {
		if e.scope.IsSupervised(child) {
			out = append(out, child)
		}
	}
	for _, child := range e.pending.within(p, wcpath.DepthOne) {
		if child != p && !containsPath(out, child) {
			out = append(out, child)
		}
	}
	wcpath.Sort(out)
	return out
}

// ClearRemoteStatuses drops the cached snapshots below roots and announces
// the removed paths in a single reset event.
func (e *Engine) ClearRemoteStatuses(roots []wcpath.Path) []wcpath.Path {
	batch := notify.NewBatch(e.sink)
	var removed []wcpath.Path
	for _, root := range normalizeRoots(roots) {
		removed = append(removed, e.cache.Invalidate(root, wcpath.DepthInfinite)...)
	}
	batch.Add(removed...)
	batch.MarkReset()
	batch.Flush()

	e.logger.Info("cleared remote statuses", "roots", len(roots), "removed", len(removed))
	return removed
}

// ResourcesStateChanged is called when local resources changed outside a
// refresh. Pending deletions among paths and their descendants are rechecked
// and the supervised paths are announced in one event.
func (e *Engine) ResourcesStateChanged(ctx context.Context, paths []wcpath.Path) {
	batch := notify.NewBatch(e.sink)
	for _, p := range wcpath.Dedupe(paths) {
		for _, pending := range e.pending.within(p, wcpath.DepthInfinite) {
			if pending != p {
				if e.settleDeletion(ctx, pending) {
					batch.Add(pending)
				}
			}
		}
		if e.pending.contains(p) && e.settleDeletion(ctx, p) {
			batch.Add(p)
		}
		rec, err := e.classify(ctx, p)
		if errors.Is(err, errUnsupervised) {
			continue
		}
		if err != nil {
			batch.Add(p)
			continue
		}
		e.trackDeletion(rec)
		e.announce(batch, rec)
	}
	batch.Flush()
}

// IsSynchronized reports whether remote statuses were ever fetched.
func (e *Engine) IsSynchronized() bool {
	return e.cache.ContainsAny()
}

// PendingDeletions returns the locally deleted resources whose deletion has
// not been committed, sorted.
func (e *Engine) PendingDeletions() []wcpath.Path {
	return e.pending.list()
}

func normalizeRoots(roots []wcpath.Path) []wcpath.Path {
	if len(roots) == 0 {
		return []wcpath.Path{wcpath.Root}
	}
	return wcpath.Dedupe(roots)
}

func containsPath(paths []wcpath.Path, p wcpath.Path) bool {
	for _, q := range paths {
		if q == p {
			return true
		}
	}
	return false
}
