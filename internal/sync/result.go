package sync

import (
	"errors"
	"fmt"

	"github.com/schaermu/wcsync/internal/syncinfo"
	"github.com/schaermu/wcsync/internal/wcpath"
)

var (
	// ErrCancelled is returned by Refresh when the context was done before
	// any work started.
	ErrCancelled = errors.New("refresh cancelled")
	// ErrFetchFailed marks a remote status fetch that failed for a batch.
	ErrFetchFailed = errors.New("remote status fetch failed")
)

// Request describes one refresh.
type Request struct {
	// Roots are the resources to refresh. Empty means the whole working copy.
	Roots []wcpath.Path
	// Depth bounds the refresh below each root. The zero value refreshes
	// the roots only.
	Depth wcpath.Depth
	// Deep fetches remote statuses for the roots before classifying.
	// Otherwise only cached snapshots are used.
	Deep bool
}

// FetchFailure describes a fetch batch that could not be completed. Cached
// entries under its roots were left untouched.
type FetchFailure struct {
	Roots []wcpath.Path
	Depth wcpath.Depth
	Err   error // wraps ErrFetchFailed
}

func (f FetchFailure) Error() string {
	return fmt.Sprintf("fetch %v (depth %s): %v", f.Roots, f.Depth, f.Err)
}

func (f FetchFailure) Unwrap() error {
	return f.Err
}

// Result is the outcome of a refresh.
type Result struct {
	// Records holds every non-unchanged record in scope, sorted by path.
	Records []syncinfo.Record
	// Changed is the reduced set of paths announced to the sink.
	Changed []wcpath.Path
	// Fetched counts the snapshots received from the remote provider.
	Fetched int
	// Failed lists the fetch batches that failed.
	Failed []FetchFailure
	// Cancelled is set when the context was done part way through.
	Cancelled bool
}

// Err joins the fetch failures, or returns nil if every batch succeeded.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Counts tallies the records by classification.
func (r *Result) Counts() map[syncinfo.Classification]int {
	out := make(map[syncinfo.Classification]int)
	for _, rec := range r.Records {
		out[rec.Kind]++
	}
	return out
}

// Outcome carries the result of an asynchronous refresh.
type Outcome struct {
	Result *Result
	Err    error
}
