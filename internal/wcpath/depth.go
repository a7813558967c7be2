package wcpath

import (
	"fmt"
	"strings"
)

// Depth bounds how far below a root an operation reaches.
type Depth int

const (
	// DepthZero covers the root only.
	DepthZero Depth = 0
	// DepthOne covers the root and its immediate children.
	DepthOne Depth = 1
	// DepthInfinite covers the whole subtree.
	DepthInfinite Depth = -1
)

// ParseDepth parses "zero", "one" or "infinite" (also "0", "1", "").
func ParseDepth(s string) (Depth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zero", "0", "empty":
		return DepthZero, nil
	case "one", "1", "immediates", "children":
		return DepthOne, nil
	case "infinite", "infinity", "", "-1":
		return DepthInfinite, nil
	}
	return DepthZero, fmt.Errorf("invalid depth %q (must be zero, one, or infinite)", s)
}

// String implements fmt.Stringer.
func (d Depth) String() string {
	switch d {
	case DepthZero:
		return "zero"
	case DepthOne:
		return "one"
	case DepthInfinite:
		return "infinite"
	}
	return fmt.Sprintf("depth(%d)", int(d))
}

// Includes reports whether p lies within d levels below root.
func (d Depth) Includes(root, p Path) bool {
	if !root.Contains(p) {
		return false
	}
	if d == DepthInfinite {
		return true
	}
	return p.SegmentCount()-root.SegmentCount() <= int(d)
}

// UnmarshalText lets Depth be decoded from configuration files.
func (d *Depth) UnmarshalText(text []byte) error {
	parsed, err := ParseDepth(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Depth) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
