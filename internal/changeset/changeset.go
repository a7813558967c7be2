// Package changeset groups incoming sync records into change sets keyed by
// repository revision.
package changeset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/wcsync/internal/metrics"
	"github.com/schaermu/wcsync/internal/notify"
	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/syncinfo"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// CommentSource looks up the commit message of a revision.
type CommentSource interface {
	Comment(ctx context.Context, revision int64) (string, error)
}

// Set is a named group of incoming records sharing one revision.
type Set struct {
	Revision int64
	Name     string
	Author   string
	Date     time.Time
	Comment  string
	Records  []syncinfo.Record // sorted by path
}

// Paths returns the paths of the records in the set.
func (s Set) Paths() []wcpath.Path {
	out := make([]wcpath.Path, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Path
	}
	return out
}

type bucket struct {
	revision int64
	author   string
	date     time.Time
	comment  string
	name     string
	records  map[wcpath.Path]syncinfo.Record
}

func (b *bucket) fill(snap *status.Snapshot) {
	if b.author == "" {
		b.author = snap.Author
	}
	if b.date.IsZero() {
		b.date = snap.Date
	}
	if b.comment == "" {
		b.comment = snap.Comment
	}
}

// rebuildName derives the display name from the fields known so far. It is
// idempotent.
func (b *bucket) rebuildName() {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[r%d]", b.revision)
	if !b.date.IsZero() {
		sb.WriteString(" ")
		sb.WriteString(b.date.UTC().Format("2006-01-02 15:04:05"))
	}
	if b.author != "" {
		sb.WriteString(" ")
		sb.WriteString(b.author)
	}
	if b.comment != "" {
		sb.WriteString(": ")
		sb.WriteString(firstLine(b.comment))
	}
	b.name = sb.String()
}

func (b *bucket) snapshot() Set {
	s := Set{
		Revision: b.revision,
		Name:     b.name,
		Author:   b.author,
		Date:     b.date,
		Comment:  b.comment,
		Records:  make([]syncinfo.Record, 0, len(b.records)),
	}
	for _, r := range b.records {
		s.Records = append(s.Records, r)
	}
	sort.Slice(s.Records, func(i, j int) bool {
		return wcpath.Compare(s.Records[i].Path, s.Records[j].Path) < 0
	})
	return s
}

// Collector buckets incoming sync records by revision. Buckets are never
// split; once created, a bucket lives until RemoveAll.
type Collector struct {
	logger   *slog.Logger
	comments CommentSource

	mu      sync.Mutex
	buckets map[int64]*bucket
	memo    map[int64]string
}

// Option configures a Collector.
type Option func(*Collector)

// WithCommentSource back-fills comments that are missing from snapshots.
func WithCommentSource(src CommentSource) Option {
	return func(c *Collector) { c.comments = src }
}

// NewCollector creates an empty collector.
func NewCollector(logger *slog.Logger, opts ...Option) *Collector {
	c := &Collector{
		logger:  logger,
		buckets: make(map[int64]*bucket),
		memo:    make(map[int64]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddIncoming adds the incoming records among records to their revision
// buckets. Records without a remote snapshot or revision are ignored.
func (c *Collector) AddIncoming(ctx context.Context, records []syncinfo.Record) {
	var missing []int64

	c.mu.Lock()
	for _, r := range records {
		if !r.Kind.IsIncoming() || r.Remote == nil || r.Remote.Revision == status.InvalidRevision {
			continue
		}
		rev := r.Remote.Revision
		b, ok := c.buckets[rev]
		if !ok {
			b = &bucket{revision: rev, records: make(map[wcpath.Path]syncinfo.Record)}
			c.buckets[rev] = b
		}
		b.records[r.Path] = r
		b.fill(r.Remote)
		if b.comment == "" {
			if memo, ok := c.memo[rev]; ok {
				b.comment = memo
			} else if c.comments != nil {
				missing = append(missing, rev)
			}
		}
		b.rebuildName()
	}
	n := len(c.buckets)
	c.mu.Unlock()

	metrics.SetChangeSetsActive(n)

	// Comment lookups may shell out, so they run without the lock.
	for _, rev := range dedupeRevisions(missing) {
		comment, err := c.comments.Comment(ctx, rev)
		if err != nil {
			c.logger.Warn("failed to look up revision comment", "revision", rev, "error", err)
			continue
		}
		c.mu.Lock()
		c.memo[rev] = comment
		if b, ok := c.buckets[rev]; ok && b.comment == "" {
			b.comment = comment
			b.rebuildName()
		}
		c.mu.Unlock()
	}
}

// RemoveAll drops every bucket and the memoized comments.
func (c *Collector) RemoveAll() {
	c.mu.Lock()
	c.buckets = make(map[int64]*bucket)
	c.memo = make(map[int64]string)
	c.mu.Unlock()
	metrics.SetChangeSetsActive(0)
}

// Sets returns all change sets, newest revision first.
func (c *Collector) Sets() []Set {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Set, 0, len(c.buckets))
	for _, b := range c.buckets {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision > out[j].Revision })
	return out
}

// Set returns the change set of revision rev.
func (c *Collector) Set(rev int64) (Set, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[rev]
	if !ok {
		return Set{}, false
	}
	return b.snapshot(), true
}

// Run drains events until ctx is done or events is closed. Reset events clear
// the collector before their records are added.
func (c *Collector) Run(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Reset {
				c.RemoveAll()
			}
			c.AddIncoming(ctx, ev.Records)
		}
	}
}

func dedupeRevisions(revs []int64) []int64 {
	seen := make(map[int64]struct{}, len(revs))
	out := revs[:0]
	for _, r := range revs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
