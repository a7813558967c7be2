// Package cache provides the hierarchical remote status cache.
//
// Entries are keyed by working-copy path. A parent to children index is
// maintained alongside the entries so that subtree queries do not scan the
// whole map. Intermediate paths without an entry are kept in the index as
// long as they have indexed descendants.
package cache

import (
	"sync"

	"github.com/schaermu/wcsync/internal/metrics"
	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// Lister reports resources known locally, whether or not they were ever
// fetched from the repository.
type Lister interface {
	KnownChildren(p wcpath.Path) []wcpath.Path
}

type entry struct {
	snap status.Snapshot
	fp   status.Fingerprint
}

// Cache maps resource paths to remote status snapshots.
type Cache struct {
	lister Lister

	mu       sync.RWMutex
	entries  map[wcpath.Path]entry
	children map[wcpath.Path]map[wcpath.Path]struct{}
}

// New creates an empty cache. lister may be nil, in which case
// AllDescendants reports cached descendants only.
func New(lister Lister) *Cache {
	return &Cache{
		lister:   lister,
		entries:  make(map[wcpath.Path]entry),
		children: make(map[wcpath.Path]map[wcpath.Path]struct{}),
	}
}

// Get returns a copy of the snapshot cached for p.
func (c *Cache) Get(p wcpath.Path) (status.Snapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[p]
	c.mu.RUnlock()

	metrics.RecordCacheLookup(ok)
	if !ok {
		return status.Snapshot{}, false
	}
	return e.snap, true
}

// Put stores s for p and reports whether the stored value changed. Storing
// an identical snapshot twice reports false the second time.
func (c *Cache) Put(p wcpath.Path, s status.Snapshot) bool {
	s.Path = p
	fp := s.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, existed := c.entries[p]
	if existed && prev.fp == fp {
		return false
	}
	c.entries[p] = entry{snap: s, fp: fp}
	if !existed {
		c.link(p)
		metrics.AddCacheEntries(1)
	}
	return true
}

// Invalidate removes the entries for p within depth and returns the removed
// paths.
func (c *Cache) Invalidate(p wcpath.Path, depth wcpath.Depth) []wcpath.Path {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []wcpath.Path
	c.walk(p, depth, func(cur wcpath.Path) {
		if _, ok := c.entries[cur]; ok {
			removed = append(removed, cur)
		}
	})
	for _, cur := range removed {
		delete(c.entries, cur)
	}
	for i := len(removed) - 1; i >= 0; i-- {
		c.prune(removed[i])
	}

	if len(removed) > 0 {
		metrics.AddCacheEntries(-len(removed))
		metrics.RecordInvalidation(len(removed))
	}
	wcpath.SortParentFirst(removed)
	return removed
}

// Members returns the direct children of p that have cached entries.
func (c *Cache) Members(p wcpath.Path) []wcpath.Path {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []wcpath.Path
	for child := range c.children[p] {
		if _, ok := c.entries[child]; ok {
			out = append(out, child)
		}
	}
	wcpath.Sort(out)
	return out
}

// AllDescendants returns every strict descendant of p that is either cached
// or known to the local lister. A cache miss does not imply a resource has
// no children, hence the union.
func (c *Cache) AllDescendants(p wcpath.Path) []wcpath.Path {
	return c.Descendants(p, wcpath.DepthInfinite)
}

// Descendants is AllDescendants bounded by depth. The lister is only asked
// for the children of paths above the bound, so DepthOne costs a single
// KnownChildren call.
func (c *Cache) Descendants(p wcpath.Path, depth wcpath.Depth) []wcpath.Path {
	if depth == wcpath.DepthZero {
		return nil
	}
	seen := make(map[wcpath.Path]struct{})

	c.mu.RLock()
	c.walk(p, depth, func(cur wcpath.Path) {
		if cur == p {
			return
		}
		if _, ok := c.entries[cur]; ok {
			seen[cur] = struct{}{}
		}
	})
	c.mu.RUnlock()

	if c.lister != nil {
		// The lister may hit the filesystem, so it runs without the lock.
		base := p.SegmentCount()
		queue := []wcpath.Path{p}
		visited := map[wcpath.Path]struct{}{p: {}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if depth != wcpath.DepthInfinite && cur.SegmentCount()-base >= int(depth) {
				continue
			}
			for _, child := range c.lister.KnownChildren(cur) {
				if !p.IsAncestorOf(child) || !depth.Includes(p, child) {
					continue
				}
				if _, ok := visited[child]; ok {
					continue
				}
				visited[child] = struct{}{}
				seen[child] = struct{}{}
				queue = append(queue, child)
			}
		}
	}

	out := make([]wcpath.Path, 0, len(seen))
	for cur := range seen {
		out = append(out, cur)
	}
	wcpath.SortParentFirst(out)
	return out
}

// ContainsAny reports whether the cache has ever been populated and still
// holds at least one entry.
func (c *Cache) ContainsAny() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) > 0
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Visitor is called for each entry visited by Traverse.
type Visitor func(p wcpath.Path, s status.Snapshot)

// Traverse calls visit for every cached entry that lies within depth below
// one of roots. Entries are copied under the read lock; visit runs without
// it and may call back into the cache. An entry reachable from several roots
// is visited once.
func (c *Cache) Traverse(roots []wcpath.Path, depth wcpath.Depth, visit Visitor) {
	type item struct {
		p wcpath.Path
		s status.Snapshot
	}
	var items []item
	seen := make(map[wcpath.Path]struct{})

	c.mu.RLock()
	for _, root := range roots {
		c.walk(root, depth, func(cur wcpath.Path) {
			e, ok := c.entries[cur]
			if !ok {
				return
			}
			if _, dup := seen[cur]; dup {
				return
			}
			seen[cur] = struct{}{}
			items = append(items, item{p: cur, s: e.snap})
		})
	}
	c.mu.RUnlock()

	for _, it := range items {
		visit(it.p, it.s)
	}
}

// walk visits p and its indexed descendants within depth, parents first.
// Must be called with the lock held.
func (c *Cache) walk(p wcpath.Path, depth wcpath.Depth, fn func(wcpath.Path)) {
	fn(p)
	if depth == wcpath.DepthZero {
		return
	}
	next := depth
	if depth != wcpath.DepthInfinite {
		next = depth - 1
	}
	for child := range c.children[p] {
		c.walk(child, next, fn)
	}
}

// link registers p and its missing ancestors in the child index.
// Must be called with the write lock held.
func (c *Cache) link(p wcpath.Path) {
	for cur := p; !cur.IsRoot(); cur = cur.Parent() {
		parent := cur.Parent()
		set, ok := c.children[parent]
		if !ok {
			set = make(map[wcpath.Path]struct{})
			c.children[parent] = set
		}
		if _, linked := set[cur]; linked {
			return
		}
		set[cur] = struct{}{}
	}
}

// prune unlinks p from the index when it has neither an entry nor children,
// then repeats for its ancestors. Must be called with the write lock held.
func (c *Cache) prune(p wcpath.Path) {
	for cur := p; !cur.IsRoot(); cur = cur.Parent() {
		if _, ok := c.entries[cur]; ok {
			return
		}
		if len(c.children[cur]) > 0 {
			return
		}
		delete(c.children, cur)
		parent := cur.Parent()
		set := c.children[parent]
		delete(set, cur)
		if len(set) == 0 {
			delete(c.children, parent)
		}
	}
}
