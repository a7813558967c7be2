package git

import (
	"context"
	"sync"

	"github.com/schaermu/wcsync/internal/status"
)

// revisions memoizes commit hash to revision number lookups. Both
// directions are kept so that a revision number can be turned back into a
// commit, e.g. to read its full message.
type revisions struct {
	client Client
	dir    string

	mu       sync.Mutex
	byHash   map[string]int64
	byNumber map[int64]string
}

func newRevisions(client Client, dir string) *revisions {
	return &revisions{
		client:   client,
		dir:      dir,
		byHash:   make(map[string]int64),
		byNumber: make(map[int64]string),
	}
}

// number returns the revision number of hash.
func (r *revisions) number(ctx context.Context, hash string) (int64, error) {
	r.mu.Lock()
	n, ok := r.byHash[hash]
	r.mu.Unlock()
	if ok {
		return n, nil
	}

	n, err := r.client.RevisionNumber(ctx, r.dir, hash)
	if err != nil {
		return status.InvalidRevision, err
	}

	r.mu.Lock()
	r.byHash[hash] = n
	r.byNumber[n] = hash
	r.mu.Unlock()
	return n, nil
}

// hash returns the commit recorded for revision number n.
func (r *revisions) hash(n int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byNumber[n]
	return h, ok
}

// lastChange returns the commit in revRange that last touched rel together
// with its revision number.
func (r *revisions) lastChange(ctx context.Context, revRange, rel string) (Commit, int64, error) {
	commit, err := r.client.LastCommit(ctx, r.dir, revRange, rel)
	if err != nil {
		return Commit{}, status.InvalidRevision, err
	}
	if commit.IsZero() {
		return commit, status.InvalidRevision, nil
	}
	n, err := r.number(ctx, commit.Hash)
	if err != nil {
		return Commit{}, status.InvalidRevision, err
	}
	return commit, n, nil
}
