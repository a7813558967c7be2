// Package status defines the local and remote status records the sync engine
// reconciles.
package status

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/schaermu/wcsync/internal/wcpath"
)

// InvalidRevision marks an unknown revision (unversioned or not yet committed).
const InvalidRevision int64 = -1

// Kind is the remote change kind reported for a resource.
type Kind int

const (
	KindNone Kind = iota
	KindAdded
	KindModified
	KindDeleted
	KindConflicted
	KindReplaced
)

var kindNames = [...]string{"none", "added", "modified", "deleted", "conflicted", "replaced"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindNames) && k >= 0 {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(i), nil
		}
	}
	return KindNone, fmt.Errorf("unknown status kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NodeKind is the type of a resource on disk or in the repository.
type NodeKind int

const (
	NodeNone NodeKind = iota
	NodeFile
	NodeDir
	NodeSymlink
)

var nodeNames = [...]string{"none", "file", "dir", "symlink"}

// String implements fmt.Stringer.
func (n NodeKind) String() string {
	if int(n) < len(nodeNames) && n >= 0 {
		return nodeNames[n]
	}
	return fmt.Sprintf("node(%d)", int(n))
}

// MarshalText implements encoding.TextMarshaler.
func (n NodeKind) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NodeKind) UnmarshalText(b []byte) error {
	for i, name := range nodeNames {
		if strings.EqualFold(string(b), name) {
			*n = NodeKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown node kind %q", string(b))
}

// Snapshot is the last-known remote status of one resource.
type Snapshot struct {
	Path     wcpath.Path `json:"path"`
	Kind     Kind        `json:"kind"`
	Node     NodeKind    `json:"node"`
	Revision int64       `json:"revision"`
	Author   string      `json:"author,omitempty"`
	Date     time.Time   `json:"date,omitempty"`
	Comment  string      `json:"comment,omitempty"`
}

// Fingerprint is a digest of the snapshot's canonical encoding.
type Fingerprint [16]byte

// Fingerprint returns the xxh3-128 digest of the canonical encoding. Two
// snapshots are considered identical iff their fingerprints match.
func (s Snapshot) Fingerprint() Fingerprint {
	return xxh3.Hash128(s.canonical()).Bytes()
}

// canonical encodes every field in a fixed order. Strings are length
// prefixed so that field boundaries can not shift.
func (s Snapshot) canonical() []byte {
	buf := make([]byte, 0, 64+len(s.Path)+len(s.Author)+len(s.Comment))
	buf = appendString(buf, string(s.Path))
	buf = binary.BigEndian.AppendUint16(buf, uint16(s.Kind))
	buf = binary.BigEndian.AppendUint16(buf, uint16(s.Node))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.Revision))
	buf = appendString(buf, s.Author)
	var unix int64
	if !s.Date.IsZero() {
		unix = s.Date.UnixNano()
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(unix))
	buf = appendString(buf, s.Comment)
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Equal reports whether two snapshots have identical content.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Fingerprint() == o.Fingerprint()
}

// Exists reports whether the snapshot describes a resource present in the
// repository.
func (s Snapshot) Exists() bool {
	return s.Kind != KindDeleted
}

// Marshal serializes a snapshot for cross-process sharing.
func Marshal(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot is the inverse of Marshal.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}
