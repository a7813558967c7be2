// Package workspace maps a working copy directory onto resource paths and
// decides which resources are supervised.
package workspace

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/schaermu/wcsync/internal/cache"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// Filter decides which resources take part in synchronization. Version
// control metadata directories and resources matching an ignore pattern
// are not supervised, and neither is anything below them.
type Filter struct {
	internal map[string]struct{}
	ignore   []string
}

// NewFilter creates a filter. Ignore patterns use path.Match syntax and are
// matched against both the resource name and its path relative to the root.
func NewFilter(internalDirs, ignore []string) *Filter {
	f := &Filter{
		internal: make(map[string]struct{}, len(internalDirs)),
		ignore:   ignore,
	}
	for _, d := range internalDirs {
		f.internal[d] = struct{}{}
	}
	return f
}

// IsSupervised reports whether p and all its ancestors pass the filter.
func (f *Filter) IsSupervised(p wcpath.Path) bool {
	if p.IsRoot() {
		return true
	}
	segments := p.Segments()
	for i, seg := range segments {
		if _, ok := f.internal[seg]; ok {
			return false
		}
		rel := strings.Join(segments[:i+1], "/")
		for _, pattern := range f.ignore {
			if ok, _ := path.Match(pattern, seg); ok {
				return false
			}
			if ok, _ := path.Match(pattern, rel); ok {
				return false
			}
		}
	}
	return true
}

// Lister lists resources present on disk below a working copy root.
type Lister struct {
	root   string
	filter *Filter
}

// NewLister creates a lister for the directory root. Unsupervised entries
// are skipped when filter is non-nil.
func NewLister(root string, filter *Filter) *Lister {
	return &Lister{root: root, filter: filter}
}

// Root returns the directory the lister maps onto wcpath.Root.
func (l *Lister) Root() string {
	return l.root
}

// Abs returns the filesystem path of p.
func (l *Lister) Abs(p wcpath.Path) string {
	if p.IsRoot() {
		return l.root
	}
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(p.String(), "/")))
}

// Resolve maps a filesystem path, absolute or relative to the current
// directory, onto a resource path.
func (l *Lister) Resolve(osPath string) (wcpath.Path, error) {
	abs, err := filepath.Abs(osPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", osPath, err)
	}
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the workspace %s", osPath, l.root)
	}
	if rel == "." {
		return wcpath.Root, nil
	}
	return wcpath.Parse(filepath.ToSlash(rel)), nil
}

// KnownChildren returns the supervised entries of the directory p. Missing
// or unreadable directories have no children.
func (l *Lister) KnownChildren(p wcpath.Path) []wcpath.Path {
	entries, err := os.ReadDir(l.Abs(p))
	if err != nil {
		return nil
	}
	out := make([]wcpath.Path, 0, len(entries))
	for _, e := range entries {
		child := p.Join(e.Name())
		if l.filter != nil && !l.filter.IsSupervised(child) {
			continue
		}
		out = append(out, child)
	}
	wcpath.Sort(out)
	return out
}

// MultiLister merges the children reported by several listers.
type MultiLister []cache.Lister

// KnownChildren returns the sorted union of all listers' children.
func (m MultiLister) KnownChildren(p wcpath.Path) []wcpath.Path {
	var all []wcpath.Path
	for _, l := range m {
		all = append(all, l.KnownChildren(p)...)
	}
	all = wcpath.Dedupe(all)
	wcpath.Sort(all)
	return all
}
