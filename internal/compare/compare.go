// Package compare decides whether a local resource and a remote variant are
// the same version.
package compare

import (
	"github.com/schaermu/wcsync/internal/status"
)

// Comparator compares local resources with cached remote snapshots. The zero
// value is ready to use.
type Comparator struct{}

// Compare reports whether local and remote describe the same version: the
// local resource exists, is not obstructed, and its base revision equals the
// remote revision.
func (Comparator) Compare(local status.LocalStatus, remote status.Snapshot) bool {
	if !local.Exists || Obstructed(local, &remote) {
		return false
	}
	return local.Revision == remote.Revision
}

// CompareSnapshots reports whether two remote snapshots carry the same kind
// and revision.
func (Comparator) CompareSnapshots(a, b status.Snapshot) bool {
	return a.Kind == b.Kind && a.Revision == b.Revision
}

// IsThreeWay is always true: base, local and remote all take part in
// classification.
func (Comparator) IsThreeWay() bool {
	return true
}

// Obstructed reports whether the on-disk type of a local resource conflicts
// with the type recorded by version control or by a present remote snapshot,
// e.g. a versioned file replaced by a directory.
func Obstructed(local status.LocalStatus, remote *status.Snapshot) bool {
	if !local.Exists || local.DiskNode == status.NodeNone {
		return false
	}
	if local.Versioned && !local.Added && local.Node != status.NodeNone && local.Node != local.DiskNode {
		return true
	}
	if remote != nil && remote.Exists() && remote.Node != status.NodeNone && remote.Node != local.DiskNode {
		return true
	}
	return false
}
