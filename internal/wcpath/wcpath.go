// Package wcpath models working-copy resource paths and refresh depths.
//
// A Path is a rooted, slash-separated sequence of segments. The root of the
// working copy is "/". Paths are comparable and can be used as map keys.
package wcpath

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Root is the working copy root.
const Root Path = "/"

// Path identifies a resource inside a working copy.
type Path string

// Parse cleans s into a canonical Path. Relative input is treated as
// relative to the root.
func Parse(s string) Path {
	s = strings.ReplaceAll(s, "\\", "/")
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return Path(path.Clean(s))
}

// New builds a Path from individual segments.
func New(segments ...string) Path {
	return Parse(strings.Join(segments, "/"))
}

// String implements fmt.Stringer.
func (p Path) String() string {
	return string(p)
}

// IsRoot reports whether p is the working copy root.
func (p Path) IsRoot() bool {
	return p == Root || p == ""
}

// Segments returns the path segments, excluding the root.
func (p Path) Segments() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(strings.TrimPrefix(string(p), "/"), "/")
}

// SegmentCount returns the number of segments below the root.
func (p Path) SegmentCount() int {
	if p.IsRoot() {
		return 0
	}
	return strings.Count(string(p), "/")
}

// Parent returns the parent path. The parent of the root is the root.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return Root
	}
	i := strings.LastIndexByte(string(p), '/')
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Base returns the last segment, or "/" for the root.
func (p Path) Base() string {
	if p.IsRoot() {
		return "/"
	}
	return string(p[strings.LastIndexByte(string(p), '/')+1:])
}

// Join appends name (which may contain slashes) to p.
func (p Path) Join(name string) Path {
	return Parse(string(p) + "/" + name)
}

// Contains reports whether p is an ancestor of other or equal to it.
func (p Path) Contains(other Path) bool {
	if p.IsRoot() {
		return true
	}
	if p == other {
		return true
	}
	return strings.HasPrefix(string(other), string(p)+"/")
}

// IsAncestorOf reports whether p is a strict ancestor of other.
func (p Path) IsAncestorOf(other Path) bool {
	return p != other && !other.IsRoot() && p.Contains(other)
}

// Rel returns other relative to p without a leading slash. It returns an
// error when p does not contain other.
func (p Path) Rel(other Path) (string, error) {
	if !p.Contains(other) {
		return "", fmt.Errorf("%s is not inside %s", other, p)
	}
	if p == other {
		return ".", nil
	}
	if p.IsRoot() {
		return string(other[1:]), nil
	}
	return string(other[len(p)+1:]), nil
}

// Compare orders paths segment by segment so that a parent sorts directly
// before its children.
func Compare(a, b Path) int {
	as, bs := a.Segments(), b.Segments()
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

// Sort sorts paths in place using Compare.
func Sort(paths []Path) {
	sort.Slice(paths, func(i, j int) bool { return Compare(paths[i], paths[j]) < 0 })
}

// SortParentFirst sorts paths so that every ancestor precedes its
// descendants. Writes into a hierarchical index rely on this order.
func SortParentFirst(paths []Path) {
	sort.SliceStable(paths, func(i, j int) bool {
		ci, cj := paths[i].SegmentCount(), paths[j].SegmentCount()
		if ci != cj {
			return ci < cj
		}
		return paths[i] < paths[j]
	})
}

// Dedupe returns paths without duplicates, preserving first occurrence order.
func Dedupe(paths []Path) []Path {
	seen := make(map[Path]struct{}, len(paths))
	out := make([]Path, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
