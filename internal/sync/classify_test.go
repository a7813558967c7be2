package sync

import (
	"context"
	"testing"

	"github.com/schaermu/wcsync/internal/compare"
	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/syncinfo"
)

func remoteSnap(kind status.Kind, rev int64) *status.Snapshot {
	return &status.Snapshot{Kind: kind, Node: status.NodeFile, Revision: rev}
}

func classifyCases() []struct {
	name   string
	local  status.LocalStatus
	remote *status.Snapshot
	want   syncinfo.Classification
} {
	file := versionedFile("/p/f", 5)

	modified := file
	modified.Modified = true

	added := status.LocalStatus{Path: "/p/f", Versioned: true, Added: true, Exists: true, Revision: status.InvalidRevision, DiskNode: status.NodeFile}

	conflicted := file
	conflicted.Conflicted = true

	gone := file
	gone.Exists = false
	gone.DiskNode = status.NodeNone

	scheduled := file
	scheduled.Deleted = true

	unversioned := status.LocalStatus{Path: "/p/f", Exists: true, DiskNode: status.NodeFile, Revision: status.InvalidRevision}
	absent := status.LocalStatus{Path: "/p/f", Revision: status.InvalidRevision}

	replacedByDir := file
	replacedByDir.DiskNode = status.NodeDir

	return []struct {
		name   string
		local  status.LocalStatus
		remote *status.Snapshot
		want   syncinfo.Classification
	}{
		{"nothing known", absent, nil, syncinfo.Unchanged},
		{"unversioned without remote", unversioned, nil, syncinfo.Unchanged},
		{"clean without remote", file, nil, syncinfo.Unchanged},
		{"clean at remote revision", file, remoteSnap(status.KindModified, 5), syncinfo.Unchanged},
		{"remote modified", file, remoteSnap(status.KindModified, 6), syncinfo.IncomingModification},
		{"remote replaced", file, remoteSnap(status.KindReplaced, 6), syncinfo.IncomingModification},
		{"local modified", modified, nil, syncinfo.OutgoingModification},
		{"local modified at remote revision", modified, remoteSnap(status.KindModified, 5), syncinfo.OutgoingModification},
		{"both modified", modified, remoteSnap(status.KindModified, 6), syncinfo.Conflicting},
		{"remote deleted", file, remoteSnap(status.KindDeleted, 6), syncinfo.IncomingDeletion},
		{"remote deleted, local modified", modified, remoteSnap(status.KindDeleted, 6), syncinfo.Conflicting},
		{"deleted on both sides", gone, remoteSnap(status.KindDeleted, 6), syncinfo.Unchanged},
		{"missing locally", gone, nil, syncinfo.OutgoingDeletion},
		{"missing locally, remote modified", gone, remoteSnap(status.KindModified, 10), syncinfo.OutgoingDeletion},
		{"scheduled for deletion", scheduled, nil, syncinfo.OutgoingDeletion},
		{"remote added", absent, remoteSnap(status.KindAdded, 7), syncinfo.IncomingAddition},
		{"remote added over unversioned file", unversioned, remoteSnap(status.KindAdded, 7), syncinfo.Conflicting},
		{"local added", added, nil, syncinfo.OutgoingAddition},
		{"added on both sides", added, remoteSnap(status.KindAdded, 7), syncinfo.Conflicting},
		{"local conflict", conflicted, nil, syncinfo.Conflicting},
		{"remote conflict", file, remoteSnap(status.KindConflicted, 5), syncinfo.Conflicting},
		{"file replaced by directory", replacedByDir, nil, syncinfo.Obstructed},
		{"obstruction overrides deletion", replacedByDir, remoteSnap(status.KindDeleted, 6), syncinfo.Obstructed},
	}
}

func TestClassify(t *testing.T) {
	var cmp compare.Comparator
	for _, tt := range classifyCases() {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.local, tt.remote, cmp); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	var cmp compare.Comparator
	cases := classifyCases()

	first := make([]syncinfo.Classification, len(cases))
	for i, tt := range cases {
		first[i] = Classify(tt.local, tt.remote, cmp)
	}
	// Evaluate again in reverse order; results must not depend on history.
	for i := len(cases) - 1; i >= 0; i-- {
		if got := Classify(cases[i].local, cases[i].remote, cmp); got != first[i] {
			t.Errorf("%s: got %s on second evaluation, want %s", cases[i].name, got, first[i])
		}
	}
}

func TestClassifyDoesNotDependOnCacheState(t *testing.T) {
	// The same (local, remote) pair classifies identically no matter what
	// else the engine has seen.
	local := versionedFile("/p/f", 3)
	remote := status.Snapshot{Kind: status.KindModified, Node: status.NodeFile, Revision: 4}

	f := newFixture(t, nil, Options{})
	f.local.set(local)
	f.cache.Put("/p/f", remote)
	first, _ := f.engine.SyncInfo(context.Background(), "/p/f")

	g := newFixture(t, nil, Options{})
	g.local.set(local)
	g.cache.Put("/p/other", status.Snapshot{Kind: status.KindAdded, Revision: 9})
	g.cache.Put("/p/f", status.Snapshot{Kind: status.KindDeleted, Revision: 2})
	g.cache.Put("/p/f", remote)
	second, _ := g.engine.SyncInfo(context.Background(), "/p/f")

	if first.Kind != second.Kind || first.Kind != syncinfo.IncomingModification {
		t.Errorf("expected incoming modification twice, got %s and %s", first.Kind, second.Kind)
	}
}

func TestReconcile(t *testing.T) {
	deleted := status.Snapshot{Kind: status.KindDeleted, Revision: 3}
	replaced := status.Snapshot{Kind: status.KindReplaced, Revision: 4}
	added := status.Snapshot{Kind: status.KindAdded, Revision: 4}

	if got := reconcile(nil, added); got.Kind != status.KindAdded {
		t.Errorf("cold add: got %s", got.Kind)
	}
	if got := reconcile(&deleted, added); got.Kind != status.KindReplaced {
		t.Errorf("delete then add: got %s", got.Kind)
	}
	if got := reconcile(&replaced, added); got.Kind != status.KindReplaced {
		t.Errorf("replacement must be sticky: got %s", got.Kind)
	}
	if got := reconcile(&added, deleted); got.Kind != status.KindDeleted {
		t.Errorf("add then delete: got %s", got.Kind)
	}
}
