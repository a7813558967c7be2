package sync

import (
	"sync"

	"github.com/schaermu/wcsync/internal/metrics"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// pendingSet tracks resources deleted locally whose deletion has not been
// committed yet. They stay visible to refreshes even though neither the disk
// nor the cache knows them any more.
type pendingSet struct {
	mu    sync.Mutex
	paths map[wcpath.Path]struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{paths: make(map[wcpath.Path]struct{})}
}

// add reports whether p was not tracked before.
func (s *pendingSet) add(p wcpath.Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paths[p]; ok {
		return false
	}
	s.paths[p] = struct{}{}
	metrics.SetPendingDeletions(len(s.paths))
	return true
}

func (s *pendingSet) remove(p wcpath.Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paths[p]; !ok {
		return false
	}
	delete(s.paths, p)
	metrics.SetPendingDeletions(len(s.paths))
	return true
}

func (s *pendingSet) contains(p wcpath.Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paths[p]
	return ok
}

// within returns the tracked paths that depth includes below root, sorted.
func (s *pendingSet) within(root wcpath.Path, depth wcpath.Depth) []wcpath.Path {
	s.mu.Lock()
	var out []wcpath.Path
	for p := range s.paths {
		if depth.Includes(root, p) {
			out = append(out, p)
		}
	}
	s.mu.Unlock()
	wcpath.Sort(out)
	return out
}

func (s *pendingSet) list() []wcpath.Path {
	return s.within(wcpath.Root, wcpath.DepthInfinite)
}
