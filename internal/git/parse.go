package git

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/schaermu/wcsync/internal/status"
)

const (
	modeSymlink = "120000"
	modeGitlink = "160000"
)

// Change is one entry of a raw diff.
type Change struct {
	Path    string
	Status  byte // A, M, D or T
	OldMode string
	NewMode string
}

// Kind maps the diff status letter onto a remote change kind.
func (c Change) Kind() status.Kind {
	switch c.Status {
	case 'A':
		return status.KindAdded
	case 'D':
		return status.KindDeleted
	case 'T':
		return status.KindReplaced
	case 'U':
		return status.KindConflicted
	}
	return status.KindModified
}

// Node returns the node kind on the side that still exists.
func (c Change) Node() status.NodeKind {
	mode := c.NewMode
	if c.Status == 'D' {
		mode = c.OldMode
	}
	return nodeForMode(mode)
}

// Commit identifies one commit and its metadata.
type Commit struct {
	Hash    string
	Author  string
	Date    time.Time
	Subject string
}

// IsZero reports whether no commit was found.
func (c Commit) IsZero() bool {
	return c.Hash == ""
}

// StatusEntry is one porcelain v1 status line.
type StatusEntry struct {
	Path     string
	X, Y     byte
	OrigPath string
}

// Untracked reports a "??" entry.
func (e StatusEntry) Untracked() bool { return e.X == '?' && e.Y == '?' }

// Ignored reports a "!!" entry.
func (e StatusEntry) Ignored() bool { return e.X == '!' && e.Y == '!' }

// Conflicted reports an unmerged entry.
func (e StatusEntry) Conflicted() bool {
	if e.X == 'U' || e.Y == 'U' {
		return true
	}
	return (e.X == 'A' && e.Y == 'A') || (e.X == 'D' && e.Y == 'D')
}

// Added reports a file staged for addition.
func (e StatusEntry) Added() bool { return e.X == 'A' && !e.Conflicted() }

// Deleted reports a file staged for deletion.
func (e StatusEntry) Deleted() bool { return e.X == 'D' && !e.Conflicted() }

// Modified reports content, type or rename changes in the index or work tree.
func (e StatusEntry) Modified() bool {
	if e.Untracked() || e.Ignored() || e.Conflicted() {
		return false
	}
	return strings.ContainsAny(string([]byte{e.X, e.Y}), "MTRC")
}

// IndexEntry is one line of ls-files --stage.
type IndexEntry struct {
	Path  string
	Mode  string
	Stage int
}

// Node returns the recorded node kind.
func (e IndexEntry) Node() status.NodeKind { return nodeForMode(e.Mode) }

// TreeEntry is one line of ls-tree.
type TreeEntry struct {
	Path string
	Mode string
}

// Node returns the recorded node kind.
func (e TreeEntry) Node() status.NodeKind { return nodeForMode(e.Mode) }

func nodeForMode(mode string) status.NodeKind {
	switch mode {
	case "", "000000":
		return status.NodeNone
	case modeSymlink:
		return status.NodeSymlink
	case modeGitlink:
		return status.NodeDir
	}
	return status.NodeFile
}

// splitZ splits NUL-terminated records, dropping the empty tail.
func splitZ(out []byte) []string {
	out = bytes.TrimRight(out, "\x00\n")
	if len(out) == 0 {
		return nil
	}
	return strings.Split(string(out), "\x00")
}

// parseDiffRaw parses `diff --raw -z` output: a ":meta" record followed by
// the path record.
func parseDiffRaw(out []byte) ([]Change, error) {
	fields := splitZ(out)
	var changes []Change
	for i := 0; i < len(fields); i++ {
		meta := fields[i]
		if !strings.HasPrefix(meta, ":") || i+1 >= len(fields) {
			return nil, WrapErrorf(ErrMalformedOutput, "diff record %q", meta)
		}
		parts := strings.Fields(meta[1:])
		if len(parts) != 5 || parts[4] == "" {
			return nil, WrapErrorf(ErrMalformedOutput, "diff record %q", meta)
		}
		i++
		changes = append(changes, Change{
			Path:    fields[i],
			Status:  parts[4][0],
			OldMode: parts[0],
			NewMode: parts[1],
		})
	}
	return changes, nil
}

// parseStatus parses `status --porcelain=v1 -z` output. Rename and copy
// entries are followed by a record holding the original path.
func parseStatus(out []byte) ([]StatusEntry, error) {
	fields := splitZ(out)
	var entries []StatusEntry
	for i := 0; i < len(fields); i++ {
		rec := fields[i]
		if len(rec) < 4 || rec[2] != ' ' {
			return nil, WrapErrorf(ErrMalformedOutput, "status record %q", rec)
		}
		e := StatusEntry{X: rec[0], Y: rec[1], Path: strings.TrimSuffix(rec[3:], "/")}
		if e.X == 'R' || e.X == 'C' {
			if i+1 >= len(fields) {
				return nil, WrapErrorf(ErrMalformedOutput, "status record %q lacks original path", rec)
			}
			i++
			e.OrigPath = fields[i]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// parseLsFiles parses `ls-files --stage -z`: "mode hash stage\tpath".
func parseLsFiles(out []byte) ([]IndexEntry, error) {
	var entries []IndexEntry
	for _, rec := range splitZ(out) {
		meta, path, ok := strings.Cut(rec, "\t")
		parts := strings.Fields(meta)
		if !ok || len(parts) != 3 {
			return nil, WrapErrorf(ErrMalformedOutput, "index record %q", rec)
		}
		stage, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, WrapErrorf(ErrMalformedOutput, "index stage %q", parts[2])
		}
		entries = append(entries, IndexEntry{Path: path, Mode: parts[0], Stage: stage})
	}
	return entries, nil
}

// parseLsTree parses `ls-tree -r -z`: "mode type hash\tpath".
func parseLsTree(out []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	for _, rec := range splitZ(out) {
		meta, path, ok := strings.Cut(rec, "\t")
		parts := strings.Fields(meta)
		if !ok || len(parts) != 3 {
			return nil, WrapErrorf(ErrMalformedOutput, "tree record %q", rec)
		}
		entries = append(entries, TreeEntry{Path: path, Mode: parts[0]})
	}
	return entries, nil
}

// parseCommit parses "%H%x00%an%x00%at%x00%s". Empty output yields a zero
// Commit.
func parseCommit(out []byte) (Commit, error) {
	s := strings.TrimRight(string(out), "\n")
	if s == "" {
		return Commit{}, nil
	}
	parts := strings.SplitN(s, "\x00", 4)
	if len(parts) != 4 {
		return Commit{}, WrapErrorf(ErrMalformedOutput, "commit record %q", s)
	}
	secs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Commit{}, WrapErrorf(ErrMalformedOutput, "commit timestamp %q", parts[2])
	}
	return Commit{
		Hash:    parts[0],
		Author:  parts[1],
		Date:    time.Unix(secs, 0).UTC(),
		Subject: parts[3],
	}, nil
}
