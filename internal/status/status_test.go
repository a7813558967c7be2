package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStable(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Snapshot{Path: "/proj/a.txt", Kind: KindModified, Node: NodeFile, Revision: 10, Author: "alice", Date: date}
	b := a

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.True(t, a.Equal(b))

	b.Author = "bob"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := a
	c.Revision = 11
	assert.False(t, a.Equal(c))
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// Moving bytes between adjacent string fields must change the digest.
	a := Snapshot{Path: "/p", Author: "ab", Comment: "c"}
	b := Snapshot{Path: "/p", Author: "a", Comment: "bc"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestMarshalRoundTrip(t *testing.T) {
	in := Snapshot{
		Path:     "/proj/b.txt",
		Kind:     KindAdded,
		Node:     NodeFile,
		Revision: 7,
		Author:   "carol",
		Date:     time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC),
		Comment:  "add b",
	}

	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"added"`)

	out, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestUnmarshalSnapshotInvalid(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte(`{"kind":"exploded"}`))
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindNone, KindAdded, KindModified, KindDeleted, KindConflicted, KindReplaced} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("bogus")
	assert.Error(t, err)
}

func TestLocalStatusFlags(t *testing.T) {
	missing := LocalStatus{Versioned: true, Exists: false, Revision: 3}
	assert.True(t, missing.Missing())
	assert.True(t, missing.Gone())

	scheduled := LocalStatus{Versioned: true, Deleted: true, Exists: false}
	assert.False(t, scheduled.Missing())
	assert.True(t, scheduled.Gone())

	fresh := LocalStatus{Exists: true, Revision: InvalidRevision}
	assert.True(t, fresh.New())
	assert.True(t, fresh.Unversioned())
	assert.Equal(t, "new", fresh.String())

	ignored := LocalStatus{Exists: true, Ignored: true}
	assert.False(t, ignored.New())

	assert.Equal(t, "versioned,modified@12", LocalStatus{Versioned: true, Modified: true, Exists: true, Revision: 12}.String())
}
