package webhook

import (
	"github.com/schaermu/wcsync/internal/notify"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// GitHub lists at most this many commits in a push payload.
const maxListedCommits = 20

// pushCommit lists the files touched by one commit of a push.
type pushCommit struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// ChangedRoots returns the directories containing the files touched by the
// push. It reports false when the payload may not list every change: for
// created, deleted or forced refs and for pushes with a truncated commit
// list.
func (e GitHubPushEvent) ChangedRoots() ([]wcpath.Path, bool) {
	if e.Created || e.Deleted || e.Forced {
		return nil, false
	}
	if len(e.Commits) == 0 || len(e.Commits) >= maxListedCommits {
		return nil, false
	}

	var roots []wcpath.Path
	for _, c := range e.Commits {
		for _, files := range [][]string{c.Added, c.Removed, c.Modified} {
			for _, f := range files {
				roots = append(roots, wcpath.Parse(f).Parent())
			}
		}
	}
	if len(roots) == 0 {
		return nil, false
	}
	return notify.Reduce(roots), true
}

// refreshQueue accumulates the roots requested while a refresh is debounced
// or running. A full request absorbs every scoped one.
type refreshQueue struct {
	queued bool
	full   bool
	roots  []wcpath.Path
}

func (q *refreshQueue) add(roots []wcpath.Path, full bool) {
	q.queued = true
	if full || q.full {
		q.full = true
		q.roots = nil
		return
	}
	q.roots = append(q.roots, roots...)
}

// take empties the queue. Nil roots with ok set request the whole
// workspace.
func (q *refreshQueue) take() (roots []wcpath.Path, ok bool) {
	if !q.queued {
		return nil, false
	}
	if !q.full {
		roots = notify.Reduce(q.roots)
	}
	*q = refreshQueue{}
	return roots, true
}
