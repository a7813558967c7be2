package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/wcsync/internal/metrics"
	"github.com/schaermu/wcsync/internal/retry"
	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// fetch requests remote statuses for the run's roots in batches and writes
// them to the cache. Paths whose cached value changed become candidates.
func (e *Engine) fetch(ctx context.Context, run *refreshRun) {
	depth := run.req.Depth

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.FetchConcurrency)

	for _, roots := range chunk(run.req.Roots, e.opts.BatchSize) {
		roots := roots
		if ctx.Err() != nil {
			mu.Lock()
			run.res.Cancelled = true
			mu.Unlock()
			break
		}

		g.Go(func() error {
			snaps, err := e.fetchBatch(ctx, roots, depth)
			if err != nil {
				mu.Lock()
				defer mu.Unlock()
				if ctx.Err() != nil {
					run.res.Cancelled = true
					return nil
				}
				e.logger.Warn("remote status fetch failed", "roots", roots, "depth", depth, "error", err)
				run.res.Failed = append(run.res.Failed, FetchFailure{
					Roots: roots,
					Depth: depth,
					Err:   fmt.Errorf("%w: %w", ErrFetchFailed, err),
				})
				return nil
			}

			changed := e.apply(roots, depth, snaps)

			mu.Lock()
			run.res.Fetched += len(snaps)
			run.candidate(changed...)
			mu.Unlock()
			return nil
		})
	}

	// Batch goroutines record their failures in the result.
	_ = g.Wait()

	sort.Slice(run.res.Failed, func(i, j int) bool {
		return wcpath.Compare(run.res.Failed[i].Roots[0], run.res.Failed[j].Roots[0]) < 0
	})
}

// fetchBatch fetches one batch with retries. Identical batches requested by
// concurrent refreshes share a single provider call. The shared call runs
// until every refresh waiting on it has returned, so cancelling one refresh
// never fails another.
func (e *Engine) fetchBatch(ctx context.Context, roots []wcpath.Path, depth wcpath.Depth) ([]status.Snapshot, error) {
	key := batchKey(roots, depth)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sf := e.joinFetch(ctx, key)
		ch := e.flight.DoChan(key, func() (any, error) {
			start := time.Now()
			snaps, err := retry.DoWithResult(sf.ctx, e.opts.Retry, func() ([]status.Snapshot, error) {
				return e.remote.FetchStatuses(sf.ctx, roots, depth)
			})
			metrics.RecordFetch(time.Since(start), err == nil)
			return snaps, err
		})

		select {
		case <-ctx.Done():
			e.leaveFetch(key, sf)
			return nil, ctx.Err()
		case res := <-ch:
			e.leaveFetch(key, sf)
			if res.Err != nil {
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					// Joined a call whose waiters all left before it finished.
					e.flight.Forget(key)
					continue
				}
				return nil, res.Err
			}
			if res.Shared {
				e.logger.Debug("joined in-flight fetch", "roots", roots, "depth", depth)
			}
			return res.Val.([]status.Snapshot), nil
		}
	}
}

// sharedFetch is the context of a provider call shared by concurrent
// refreshes. It is cancelled when its last waiter leaves.
type sharedFetch struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (e *Engine) joinFetch(ctx context.Context, key string) *sharedFetch {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	sf, ok := e.fetches[key]
	if !ok {
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		sf = &sharedFetch{ctx: sctx, cancel: cancel}
		e.fetches[key] = sf
	}
	sf.waiters++
	return sf
}

func (e *Engine) leaveFetch(key string, sf *sharedFetch) {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	sf.waiters--
	if sf.waiters > 0 {
		return
	}
	sf.cancel()
	if e.fetches[key] == sf {
		delete(e.fetches, key)
	}
}

// apply writes fetched snapshots to the cache, parents first, and drops
// cached entries under roots the provider no longer reports. It returns the
// paths whose cached state changed.
func (e *Engine) apply(roots []wcpath.Path, depth wcpath.Depth, snaps []status.Snapshot) []wcpath.Path {
	ordered := make([]status.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if !includedBy(roots, depth, s.Path) {
			e.logger.Debug("ignoring snapshot outside fetch scope", "path", s.Path)
			continue
		}
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := ordered[i].Path.SegmentCount(), ordered[j].Path.SegmentCount()
		if ci != cj {
			return ci < cj
		}
		return wcpath.Compare(ordered[i].Path, ordered[j].Path) < 0
	})

	reported := make(map[wcpath.Path]struct{}, len(ordered))
	var changed []wcpath.Path
	for _, s := range ordered {
		reported[s.Path] = struct{}{}
		var prev *status.Snapshot
		if cached, ok := e.cache.Get(s.Path); ok {
			prev = &cached
		}
		if e.cache.Put(s.Path, reconcile(prev, s)) {
			changed = append(changed, s.Path)
		}
	}

	var stale []wcpath.Path
	e.cache.Traverse(roots, depth, func(p wcpath.Path, _ status.Snapshot) {
		if _, ok := reported[p]; !ok {
			stale = append(stale, p)
		}
	})
	for _, p := range stale {
		changed = append(changed, e.cache.Invalidate(p, wcpath.DepthZero)...)
	}
	return changed
}

func includedBy(roots []wcpath.Path, depth wcpath.Depth, p wcpath.Path) bool {
	for _, root := range roots {
		if depth.Includes(root, p) {
			return true
		}
	}
	return false
}

func chunk(paths []wcpath.Path, size int) [][]wcpath.Path {
	if size <= 0 {
		size = len(paths)
	}
	var out [][]wcpath.Path
	for len(paths) > size {
		out = append(out, paths[:size:size])
		paths = paths[size:]
	}
	if len(paths) > 0 {
		out = append(out, paths)
	}
	return out
}

func batchKey(roots []wcpath.Path, depth wcpath.Depth) string {
	var sb strings.Builder
	sb.WriteString(depth.String())
	for _, r := range roots {
		sb.WriteByte(0)
		sb.WriteString(r.String())
	}
	return sb.String()
}
