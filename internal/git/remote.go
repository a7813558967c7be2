package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/schaermu/wcsync/internal/retry"
	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// RemoteOptions configures a RemoteProvider.
type RemoteOptions struct {
	// Remote is the remote fetched before diffing, e.g. "origin".
	Remote string
	// TrackingRef is the ref incoming changes are read from, e.g.
	// "origin/main".
	TrackingRef string
	// FetchInterval is the minimum time between fetches. Zero fetches on
	// every call and a negative interval never fetches.
	FetchInterval time.Duration
}

// RemoteProvider reports the changes on the tracking ref that the work tree
// has not merged yet. Each changed path is reported once with the metadata
// of the last commit that touched it.
type RemoteProvider struct {
	client Client
	dir    string
	opts   RemoteOptions
	logger *slog.Logger
	revs   *revisions

	fetchMu   sync.Mutex
	lastFetch time.Time
}

// NewRemoteProvider creates a provider for the work tree at dir.
func NewRemoteProvider(client Client, dir string, opts RemoteOptions, logger *slog.Logger) *RemoteProvider {
	return &RemoteProvider{
		client: client,
		dir:    dir,
		opts:   opts,
		logger: logger,
		revs:   newRevisions(client, dir),
	}
}

// FetchStatuses returns remote snapshots for every incoming change below
// roots within depth. Changes deeper than depth are reported as a
// modification of their ancestor directory at the depth boundary.
func (p *RemoteProvider) FetchStatuses(ctx context.Context, roots []wcpath.Path, depth wcpath.Depth) ([]status.Snapshot, error) {
	if err := p.maybeFetch(ctx); err != nil {
		return nil, err
	}

	ref, err := p.client.ResolveRef(ctx, p.dir, p.opts.TrackingRef)
	if err != nil {
		return nil, err
	}
	head, err := p.client.ResolveRef(ctx, p.dir, "HEAD")
	if err != nil {
		return nil, err
	}
	base, err := p.client.MergeBase(ctx, p.dir, head, ref)
	if err != nil {
		return nil, err
	}
	if base == ref {
		// Nothing on the tracking ref that HEAD does not have.
		return nil, nil
	}

	specs := make([]string, 0, len(roots))
	for _, root := range roots {
		rel, _ := wcpath.Root.Rel(root)
		specs = append(specs, pathspec(relOrEmpty(rel)))
	}
	changes, err := p.client.DiffRaw(ctx, p.dir, base, ref, specs)
	if err != nil {
		return nil, err
	}

	found, err := p.collect(ctx, roots, depth, base, ref, changes)
	if err != nil {
		return nil, err
	}

	revRange := base + ".." + ref
	snaps := make([]status.Snapshot, 0, len(found))
	for path, s := range found {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, _ := wcpath.Root.Rel(path)
		commit, rev, err := p.revs.lastChange(ctx, revRange, relOrEmpty(rel))
		if err != nil {
			return nil, fmt.Errorf("failed to annotate %s: %w", path, err)
		}
		s.Path = path
		s.Revision = rev
		s.Author = commit.Author
		s.Date = commit.Date
		s.Comment = commit.Subject
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool { return wcpath.Compare(snaps[i].Path, snaps[j].Path) < 0 })

	p.logger.Debug("read incoming changes", "roots", roots, "depth", depth, "base", base, "ref", ref, "count", len(snaps))
	return snaps, nil
}

// Comment returns the full commit message of an incoming revision seen by
// an earlier FetchStatuses call.
func (p *RemoteProvider) Comment(ctx context.Context, revision int64) (string, error) {
	hash, ok := p.revs.hash(revision)
	if !ok {
		return "", WrapErrorf(ErrUnknownRevision, "revision %d", revision)
	}
	return p.client.CommitMessage(ctx, p.dir, hash)
}

// collect turns raw changes into snapshots keyed by path. Directories that
// appear or vanish with their contents are reported too.
func (p *RemoteProvider) collect(ctx context.Context, roots []wcpath.Path, depth wcpath.Depth, base, ref string, changes []Change) (map[wcpath.Path]status.Snapshot, error) {
	found := make(map[wcpath.Path]status.Snapshot)
	// Collapsed directories rank lowest, then directory additions and
	// deletions, then file changes.
	rank := make(map[wcpath.Path]int)
	put := func(path wcpath.Path, s status.Snapshot, r int) {
		if prev, ok := rank[path]; ok && prev > r {
			return
		}
		found[path] = s
		rank[path] = r
	}

	var baseDirs, refDirs map[string]struct{}
	for _, c := range changes {
		path := wcpath.Parse(c.Path)
		root, ok := containingRoot(roots, path)
		if !ok {
			continue
		}

		if depth.Includes(root, path) {
			put(path, status.Snapshot{Kind: c.Kind(), Node: c.Node()}, 2)
		} else {
			boundary := ancestorAt(path, root.SegmentCount()+int(depth))
			put(boundary, status.Snapshot{Kind: status.KindModified, Node: status.NodeDir}, 0)
		}

		var (
			dirs map[string]struct{}
			kind status.Kind
			err  error
		)
		switch c.Status {
		case 'A':
			if baseDirs == nil {
				if baseDirs, err = p.treeDirs(ctx, base); err != nil {
					return nil, err
				}
			}
			dirs, kind = baseDirs, status.KindAdded
		case 'D':
			if refDirs == nil {
				if refDirs, err = p.treeDirs(ctx, ref); err != nil {
					return nil, err
				}
			}
			dirs, kind = refDirs, status.KindDeleted
		default:
			continue
		}
		for dir := path.Parent(); root.Contains(dir) && !dir.IsRoot(); dir = dir.Parent() {
			rel, _ := wcpath.Root.Rel(dir)
			if _, ok := dirs[rel]; ok {
				break
			}
			if !depth.Includes(root, dir) {
				continue
			}
			put(dir, status.Snapshot{Kind: kind, Node: status.NodeDir}, 1)
		}
	}
	return found, nil
}

// treeDirs returns every directory recorded in rev.
func (p *RemoteProvider) treeDirs(ctx context.Context, rev string) (map[string]struct{}, error) {
	entries, err := p.client.LsTree(ctx, p.dir, rev)
	if err != nil {
		return nil, err
	}
	dirs := make(map[string]struct{})
	for _, e := range entries {
		for dir := wcpath.Parse(e.Path).Parent(); !dir.IsRoot(); dir = dir.Parent() {
			rel, _ := wcpath.Root.Rel(dir)
			if _, ok := dirs[rel]; ok {
				break
			}
			dirs[rel] = struct{}{}
		}
	}
	return dirs, nil
}

// maybeFetch fetches the remote unless the last fetch is recent enough.
// Unreachable remotes are reported as retryable.
func (p *RemoteProvider) maybeFetch(ctx context.Context) error {
	if p.opts.FetchInterval < 0 || p.opts.Remote == "" {
		return nil
	}

	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	if !p.lastFetch.IsZero() && time.Since(p.lastFetch) < p.opts.FetchInterval {
		return nil
	}

	start := time.Now()
	if err := p.client.Fetch(ctx, p.dir, p.opts.Remote); err != nil {
		if errors.Is(err, ErrRemoteUnreachable) {
			return retry.Retryable(err)
		}
		return err
	}
	p.lastFetch = time.Now()
	p.logger.Debug("fetched remote", "remote", p.opts.Remote, "duration", time.Since(start))
	return nil
}

// containingRoot returns the root that contains path.
func containingRoot(roots []wcpath.Path, path wcpath.Path) (wcpath.Path, bool) {
	for _, root := range roots {
		if root.Contains(path) {
			return root, true
		}
	}
	return "", false
}

// ancestorAt returns the ancestor of path that has n segments.
func ancestorAt(path wcpath.Path, n int) wcpath.Path {
	for path.SegmentCount() > n {
		path = path.Parent()
	}
	return path
}

// relOrEmpty maps the "." returned for the root onto "".
func relOrEmpty(rel string) string {
	if rel == "." {
		return ""
	}
	return rel
}
