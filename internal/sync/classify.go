package sync

import (
	"github.com/schaermu/wcsync/internal/compare"
	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/syncinfo"
)

// Classify derives the sync classification of a resource from its live local
// status and its cached remote snapshot (nil when absent). It has no side
// effects: the same inputs always produce the same classification.
//
// An absent snapshot for a versioned resource means the repository holds the
// same version as the working copy.
func Classify(local status.LocalStatus, remote *status.Snapshot, cmp compare.Comparator) syncinfo.Classification {
	if compare.Obstructed(local, remote) {
		return syncinfo.Obstructed
	}

	if local.Unversioned() && (remote == nil || remote.Kind == status.KindNone) {
		return syncinfo.Unchanged
	}

	localDirty := local.Modified || local.Added || local.Conflicted

	if remote != nil && remote.Kind == status.KindDeleted {
		if !local.Exists || local.Deleted {
			return syncinfo.Unchanged
		}
		if localDirty {
			return syncinfo.Conflicting
		}
		return syncinfo.IncomingDeletion
	}

	if local.Gone() {
		return syncinfo.OutgoingDeletion
	}

	if local.Unversioned() {
		if local.Exists {
			return syncinfo.Conflicting
		}
		return syncinfo.IncomingAddition
	}

	if local.Added {
		if remote == nil || remote.Kind == status.KindNone {
			return syncinfo.OutgoingAddition
		}
		return syncinfo.Conflicting
	}

	if local.Conflicted || (remote != nil && remote.Kind == status.KindConflicted) {
		return syncinfo.Conflicting
	}

	remoteChanged := remote != nil && remote.Kind != status.KindNone && !cmp.Compare(local, *remote)
	switch {
	case local.Modified && remoteChanged:
		return syncinfo.Conflicting
	case local.Modified:
		return syncinfo.OutgoingModification
	case remoteChanged:
		return syncinfo.IncomingModification
	default:
		return syncinfo.Unchanged
	}
}

// reconcile folds a freshly fetched snapshot into what was cached before.
// A path that was deleted and is now added again is reported as replaced,
// and stays replaced until the repository reports something else.
func reconcile(prev *status.Snapshot, next status.Snapshot) status.Snapshot {
	if prev == nil || next.Kind != status.KindAdded {
		return next
	}
	if prev.Kind == status.KindDeleted || prev.Kind == status.KindReplaced {
		next.Kind = status.KindReplaced
	}
	return next
}
