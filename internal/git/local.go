package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// snapshot is the version-control state of the work tree captured by
// Reload. Paths are relative to the work tree top level.
type snapshot struct {
	base     string // merge base of HEAD and the tracking ref, "" without commits
	index    map[string]IndexEntry
	baseTree map[string]TreeEntry
	dirs     map[string]struct{} // directories with indexed files
	baseDirs map[string]struct{} // directories in the base tree
	status   map[string]StatusEntry
	outgoing map[string]Change // committed on HEAD since base
	children map[wcpath.Path]map[wcpath.Path]struct{}
	revision map[string]int64
}

// LocalProvider reads the live state of work-tree resources. Version
// control metadata is captured by Reload; the disk is consulted on every
// call.
//
// Revisions are measured against the merge base with the tracking ref, so
// commits made on HEAD but not yet pushed count as local modifications.
type LocalProvider struct {
	client      Client
	dir         string
	trackingRef string
	logger      *slog.Logger
	revs        *revisions

	mu   sync.RWMutex
	snap *snapshot
}

// NewLocalProvider creates a provider for the work tree at dir.
func NewLocalProvider(client Client, dir, trackingRef string, logger *slog.Logger) *LocalProvider {
	return &LocalProvider{
		client:      client,
		dir:         dir,
		trackingRef: trackingRef,
		logger:      logger,
		revs:        newRevisions(client, dir),
	}
}

// Reload captures the current index, status and base tree. It must be
// called before the first LocalStatus and whenever the work tree may have
// changed.
func (p *LocalProvider) Reload(ctx context.Context) error {
	prefix, err := p.client.ShowPrefix(ctx, p.dir)
	if err != nil {
		return err
	}
	if prefix != "" {
		return WrapErrorf(ErrNotTopLevel, "%s is %q below the top level", p.dir, prefix)
	}

	snap := &snapshot{
		index:    make(map[string]IndexEntry),
		baseTree: make(map[string]TreeEntry),
		dirs:     make(map[string]struct{}),
		baseDirs: make(map[string]struct{}),
		status:   make(map[string]StatusEntry),
		outgoing: make(map[string]Change),
		children: make(map[wcpath.Path]map[wcpath.Path]struct{}),
		revision: make(map[string]int64),
	}

	if snap.base, err = p.mergeBase(ctx); err != nil {
		return err
	}

	entries, err := p.client.LsFiles(ctx, p.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		// Unmerged paths have several stages; keep the highest.
		if prev, ok := snap.index[e.Path]; !ok || e.Stage > prev.Stage {
			snap.index[e.Path] = e
		}
		snap.link(e.Path, snap.dirs)
	}

	if snap.base != "" {
		tree, err := p.client.LsTree(ctx, p.dir, snap.base)
		if err != nil {
			return err
		}
		for _, e := range tree {
			snap.baseTree[e.Path] = e
			snap.link(e.Path, snap.baseDirs)
		}

		changes, err := p.client.DiffRaw(ctx, p.dir, snap.base, "HEAD", []string{"."})
		if err != nil {
			return err
		}
		for _, c := range changes {
			snap.outgoing[c.Path] = c
		}
	}

	st, err := p.client.Status(ctx, p.dir)
	if err != nil {
		return err
	}
	for _, e := range st {
		snap.status[e.Path] = e
	}

	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()

	p.logger.Debug("reloaded work tree state",
		"dir", p.dir, "base", snap.base, "indexed", len(snap.index), "status_entries", len(snap.status))
	return nil
}

// mergeBase returns the merge base of HEAD and the tracking ref. Without a
// resolvable tracking ref HEAD itself is the base; without commits there is
// no base at all.
func (p *LocalProvider) mergeBase(ctx context.Context) (string, error) {
	head, err := p.client.ResolveRef(ctx, p.dir, "HEAD")
	if errors.Is(err, ErrUnknownRevision) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if p.trackingRef == "" {
		return head, nil
	}
	ref, err := p.client.ResolveRef(ctx, p.dir, p.trackingRef)
	if errors.Is(err, ErrUnknownRevision) {
		p.logger.Debug("tracking ref not found, comparing against HEAD", "ref", p.trackingRef)
		return head, nil
	}
	if err != nil {
		return "", err
	}
	base, err := p.client.MergeBase(ctx, p.dir, head, ref)
	if errors.Is(err, ErrNoMergeBase) {
		return head, nil
	}
	return base, err
}

// link records rel and all its ancestors in the child index and adds the
// ancestors to dirs.
func (s *snapshot) link(rel string, dirs map[string]struct{}) {
	child := wcpath.Parse(rel)
	for !child.IsRoot() {
		parent := child.Parent()
		kids, ok := s.children[parent]
		if !ok {
			kids = make(map[wcpath.Path]struct{})
			s.children[parent] = kids
		}
		kids[child] = struct{}{}
		if !parent.IsRoot() {
			prel, _ := wcpath.Root.Rel(parent)
			if _, seen := dirs[prel]; seen {
				return
			}
			dirs[prel] = struct{}{}
		}
		child = parent
	}
}

func (p *LocalProvider) current(ctx context.Context) (*snapshot, error) {
	p.mu.RLock()
	snap := p.snap
	p.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap, nil
}

// LocalStatus returns the state of the resource at path.
func (p *LocalProvider) LocalStatus(ctx context.Context, path wcpath.Path) (status.LocalStatus, error) {
	snap, err := p.current(ctx)
	if err != nil {
		return status.LocalStatus{}, err
	}

	rel := ""
	if !path.IsRoot() {
		rel, _ = wcpath.Root.Rel(path)
	}
	ls := status.LocalStatus{Path: path, Revision: status.InvalidRevision}

	info, err := os.Lstat(filepath.Join(p.dir, filepath.FromSlash(rel)))
	switch {
	case err == nil:
		ls.Exists = true
		ls.DiskNode = diskNode(info.Mode())
		ls.Linked = info.Mode()&fs.ModeSymlink != 0
	case errors.Is(err, fs.ErrNotExist):
	default:
		return status.LocalStatus{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	entry, hasStatus := snap.status[rel]
	ls.Ignored = snap.ignored(rel)

	indexed, inIndex := snap.index[rel]
	based, inBase := snap.baseTree[rel]
	_, isDir := snap.dirs[rel]
	_, wasDir := snap.baseDirs[rel]

	switch {
	case rel == "":
		ls.Versioned = true
		ls.Node = status.NodeDir
	case inIndex || inBase:
		ls.Versioned = true
		ls.Added = inIndex && !inBase
		ls.Deleted = inBase && !inIndex
		if inIndex {
			ls.Node = indexed.Node()
			ls.Conflicted = indexed.Stage > 0
		} else {
			ls.Node = based.Node()
		}
	case isDir || wasDir:
		ls.Versioned = true
		ls.Node = status.NodeDir
		ls.Added = isDir && !wasDir
		ls.Deleted = wasDir && !isDir
	}

	if hasStatus {
		ls.Conflicted = ls.Conflicted || entry.Conflicted()
		ls.Modified = entry.Modified()
	}
	if ls.Conflicted {
		// Both sides added the path; the conflict is what matters.
		ls.Added = false
	}
	if c, ok := snap.outgoing[rel]; ok && (c.Status == 'M' || c.Status == 'T') {
		ls.Modified = true
	}
	if ls.Versioned && (rel == "" || inBase || wasDir) {
		ls.Revision, err = p.revision(ctx, snap, rel)
		if err != nil {
			return status.LocalStatus{}, err
		}
	}
	return ls, nil
}

// ignored reports whether rel or one of its ancestors is ignored.
func (s *snapshot) ignored(rel string) bool {
	for p := wcpath.Parse(rel); !p.IsRoot(); p = p.Parent() {
		r, _ := wcpath.Root.Rel(p)
		if e, ok := s.status[r]; ok && e.Ignored() {
			return true
		}
	}
	return false
}

// revision returns the revision of the last base commit touching rel.
func (p *LocalProvider) revision(ctx context.Context, snap *snapshot, rel string) (int64, error) {
	if snap.base == "" {
		return status.InvalidRevision, nil
	}

	p.mu.RLock()
	rev, ok := snap.revision[rel]
	p.mu.RUnlock()
	if ok {
		return rev, nil
	}

	_, rev, err := p.revs.lastChange(ctx, snap.base, rel)
	if err != nil {
		return status.InvalidRevision, err
	}

	p.mu.Lock()
	snap.revision[rel] = rev
	p.mu.Unlock()
	return rev, nil
}

// KnownChildren returns the immediate children of path recorded in the
// index or the base tree. Paths only present on disk are not included.
func (p *LocalProvider) KnownChildren(path wcpath.Path) []wcpath.Path {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return nil
	}
	kids := p.snap.children[path]
	out := make([]wcpath.Path, 0, len(kids))
	for k := range kids {
		out = append(out, k)
	}
	wcpath.Sort(out)
	return out
}

func diskNode(mode fs.FileMode) status.NodeKind {
	switch {
	case mode&fs.ModeSymlink != 0:
		return status.NodeSymlink
	case mode.IsDir():
		return status.NodeDir
	}
	return status.NodeFile
}
