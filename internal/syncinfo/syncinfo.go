// Package syncinfo defines sync records, the classified result of comparing
// local and remote status for one resource.
package syncinfo

import (
	"fmt"

	"github.com/schaermu/wcsync/internal/status"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// Classification is the sync state of a resource.
type Classification int

const (
	Unchanged Classification = iota
	OutgoingAddition
	OutgoingModification
	OutgoingDeletion
	IncomingAddition
	IncomingModification
	IncomingDeletion
	Conflicting
	Obstructed
)

var classificationNames = [...]string{
	"unchanged",
	"outgoing-addition",
	"outgoing-modification",
	"outgoing-deletion",
	"incoming-addition",
	"incoming-modification",
	"incoming-deletion",
	"conflicting",
	"obstructed",
}

// String implements fmt.Stringer.
func (c Classification) String() string {
	if c >= 0 && int(c) < len(classificationNames) {
		return classificationNames[c]
	}
	return fmt.Sprintf("classification(%d)", int(c))
}

// IsIncoming reports whether the change originates in the repository.
func (c Classification) IsIncoming() bool {
	return c == IncomingAddition || c == IncomingModification || c == IncomingDeletion
}

// IsOutgoing reports whether the change originates in the working copy.
func (c Classification) IsOutgoing() bool {
	return c == OutgoingAddition || c == OutgoingModification || c == OutgoingDeletion
}

// IsDeletion reports whether the change removes the resource on either side.
func (c Classification) IsDeletion() bool {
	return c == OutgoingDeletion || c == IncomingDeletion
}

// Record is the sync state of one resource.
type Record struct {
	Path   wcpath.Path
	Local  status.LocalStatus
	Remote *status.Snapshot // nil when nothing is known about the remote side
	Kind   Classification
}

// Revision returns the remote revision of the record, or
// status.InvalidRevision when there is no remote snapshot.
func (r Record) Revision() int64 {
	if r.Remote == nil {
		return status.InvalidRevision
	}
	return r.Remote.Revision
}

// String renders the record as "<kind> <path>".
func (r Record) String() string {
	return r.Kind.String() + " " + r.Path.String()
}
