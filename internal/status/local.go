package status

import (
	"strconv"
	"strings"

	"github.com/schaermu/wcsync/internal/wcpath"
)

// LocalStatus is the live working-copy state of one resource. It is always
// read fresh from a provider and never cached.
type LocalStatus struct {
	Path       wcpath.Path
	Versioned  bool // known to version control, including scheduled additions
	Ignored    bool
	Added      bool // scheduled for addition
	Deleted    bool // scheduled for deletion
	Modified   bool // content or property changes against the base revision
	Conflicted bool // unresolved local conflict
	Exists     bool // present on disk
	Linked     bool // symbolic or linked resource
	Revision   int64
	Node       NodeKind // kind recorded by version control metadata
	DiskNode   NodeKind // kind found on disk
}

// Unversioned reports whether the resource is outside version control.
func (l LocalStatus) Unversioned() bool {
	return !l.Versioned
}

// New reports whether the resource is an unversioned, non-ignored file or
// directory present on disk.
func (l LocalStatus) New() bool {
	return !l.Versioned && !l.Ignored && l.Exists
}

// Missing reports whether a versioned resource vanished from disk without
// being scheduled for deletion.
func (l LocalStatus) Missing() bool {
	return l.Versioned && !l.Exists && !l.Deleted
}

// Gone reports whether the resource is deleted locally, scheduled or not.
func (l LocalStatus) Gone() bool {
	return l.Versioned && (l.Deleted || !l.Exists)
}

// String renders a compact flag summary, e.g. "versioned,modified@12".
func (l LocalStatus) String() string {
	var flags []string
	add := func(ok bool, name string) {
		if ok {
			flags = append(flags, name)
		}
	}
	add(l.Versioned, "versioned")
	add(l.New(), "new")
	add(l.Ignored, "ignored")
	add(l.Added, "added")
	add(l.Deleted, "deleted")
	add(l.Modified, "modified")
	add(l.Conflicted, "conflicted")
	add(l.Linked, "linked")
	add(!l.Exists, "absent")
	if len(flags) == 0 {
		flags = append(flags, "unversioned")
	}
	s := strings.Join(flags, ",")
	if l.Revision != InvalidRevision {
		s += "@" + strconv.FormatInt(l.Revision, 10)
	}
	return s
}
