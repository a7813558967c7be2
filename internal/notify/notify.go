// Package notify delivers resource change notifications produced by the sync
// engine.
package notify

import (
	"sync"

	"github.com/schaermu/wcsync/internal/syncinfo"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// Event announces that the sync state of resources changed.
type Event struct {
	// Paths is the reduced set of changed resources. Consumers refreshing a
	// path are expected to re-examine its descendants too.
	Paths []wcpath.Path
	// Records holds the sync records computed for the changed resources.
	Records []syncinfo.Record
	// Reset tells consumers to drop everything they derived from earlier
	// events, e.g. after remote statuses were cleared.
	Reset bool
}

// Empty reports whether the event carries nothing worth delivering.
func (e Event) Empty() bool {
	return len(e.Paths) == 0 && len(e.Records) == 0 && !e.Reset
}

// Sink receives change events.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Reduce returns the minimal subset of paths such that every input path is
// contained in some output path. Duplicates are dropped and the result is
// sorted.
func Reduce(paths []wcpath.Path) []wcpath.Path {
	if len(paths) == 0 {
		return nil
	}
	sorted := wcpath.Dedupe(paths)
	wcpath.SortParentFirst(sorted)

	var out []wcpath.Path
	for _, p := range sorted {
		covered := false
		for _, kept := range out {
			if kept.Contains(p) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	wcpath.Sort(out)
	return out
}

// Batch buffers the changes of a single refresh call and publishes them as
// one event. A Batch is safe for concurrent use by the fetch workers of that
// call.
type Batch struct {
	sink Sink

	mu      sync.Mutex
	paths   []wcpath.Path
	records map[wcpath.Path]syncinfo.Record
	reset   bool
	flushed bool
}

// NewBatch creates a batch publishing to sink. A nil sink discards events.
func NewBatch(sink Sink) *Batch {
	return &Batch{sink: sink, records: make(map[wcpath.Path]syncinfo.Record)}
}

// Add records changed paths.
func (b *Batch) Add(paths ...wcpath.Path) {
	b.mu.Lock()
	b.paths = append(b.paths, paths...)
	b.mu.Unlock()
}

// AddRecords records sync records; their paths count as changed. A later
// record for the same path replaces the earlier one.
func (b *Batch) AddRecords(records ...syncinfo.Record) {
	b.mu.Lock()
	for _, r := range records {
		b.records[r.Path] = r
		b.paths = append(b.paths, r.Path)
	}
	b.mu.Unlock()
}

// MarkReset flags the event as a reset.
func (b *Batch) MarkReset() {
	b.mu.Lock()
	b.reset = true
	b.mu.Unlock()
}

// Event returns the event the batch would publish.
func (b *Batch) Event() Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eventLocked()
}

func (b *Batch) eventLocked() Event {
	ev := Event{Paths: Reduce(b.paths), Reset: b.reset}
	if len(b.records) > 0 {
		keys := make([]wcpath.Path, 0, len(b.records))
		for p := range b.records {
			keys = append(keys, p)
		}
		wcpath.Sort(keys)
		ev.Records = make([]syncinfo.Record, 0, len(keys))
		for _, p := range keys {
			ev.Records = append(ev.Records, b.records[p])
		}
	}
	return ev
}

// Flush publishes the buffered changes. Only the first call publishes; an
// empty batch publishes nothing. It reports whether an event was published.
func (b *Batch) Flush() bool {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		return false
	}
	b.flushed = true
	ev := b.eventLocked()
	b.mu.Unlock()

	if ev.Empty() || b.sink == nil {
		return false
	}
	b.sink.Publish(ev)
	return true
}
