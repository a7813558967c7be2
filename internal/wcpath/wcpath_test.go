package wcpath

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Path
	}{
		{"", Root},
		{"/", Root},
		{"proj", "/proj"},
		{"/proj/", "/proj"},
		{"/proj//a.txt", "/proj/a.txt"},
		{"proj/./sub/../a.txt", "/proj/a.txt"},
		{`proj\win\a.txt`, "/proj/win/a.txt"},
	}

	for _, tt := range tests {
		if got := Parse(tt.in); got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSegmentsAndParent(t *testing.T) {
	p := New("proj", "src", "main.go")
	if p != "/proj/src/main.go" {
		t.Fatalf("unexpected path %q", p)
	}
	if got := p.SegmentCount(); got != 3 {
		t.Errorf("SegmentCount = %d, want 3", got)
	}
	if got := p.Parent(); got != "/proj/src" {
		t.Errorf("Parent = %q", got)
	}
	if got := p.Base(); got != "main.go" {
		t.Errorf("Base = %q", got)
	}
	if got := Path("/proj").Parent(); got != Root {
		t.Errorf("Parent of /proj = %q, want root", got)
	}
	if Root.SegmentCount() != 0 || len(Root.Segments()) != 0 {
		t.Error("root must have no segments")
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		a, b     Path
		contains bool
		ancestor bool
	}{
		{"/proj", "/proj/a.txt", true, true},
		{"/proj", "/proj", true, false},
		{"/proj", "/project/a.txt", false, false},
		{Root, "/proj", true, true},
		{"/proj/a.txt", "/proj", false, false},
	}

	for _, tt := range tests {
		if got := tt.a.Contains(tt.b); got != tt.contains {
			t.Errorf("%q.Contains(%q) = %v, want %v", tt.a, tt.b, got, tt.contains)
		}
		if got := tt.a.IsAncestorOf(tt.b); got != tt.ancestor {
			t.Errorf("%q.IsAncestorOf(%q) = %v, want %v", tt.a, tt.b, got, tt.ancestor)
		}
	}
}

func TestRel(t *testing.T) {
	rel, err := Path("/proj").Rel("/proj/src/a.go")
	if err != nil || rel != "src/a.go" {
		t.Fatalf("Rel = %q, %v", rel, err)
	}
	rel, err = Root.Rel("/proj")
	if err != nil || rel != "proj" {
		t.Fatalf("Rel from root = %q, %v", rel, err)
	}
	if _, err := Path("/a").Rel("/b"); err == nil {
		t.Fatal("expected error for unrelated paths")
	}
}

func TestSortParentFirst(t *testing.T) {
	paths := []Path{"/p/a/b", "/p", "/p/a", "/q", "/p/c"}
	SortParentFirst(paths)

	index := make(map[Path]int)
	for i, p := range paths {
		index[p] = i
	}
	for _, p := range paths {
		if p.IsRoot() {
			continue
		}
		if i, ok := index[p.Parent()]; ok && i > index[p] {
			t.Errorf("%s sorted after its child %s", p.Parent(), p)
		}
	}
}

func TestCompare(t *testing.T) {
	paths := []Path{"/p/b", "/p", "/p/a/z", "/p/a"}
	Sort(paths)
	want := []Path{"/p", "/p/a", "/p/a/z", "/p/b"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("Sort = %v, want %v", paths, want)
		}
	}
}

func TestDepthIncludes(t *testing.T) {
	root := Path("/proj")
	tests := []struct {
		depth Depth
		p     Path
		want  bool
	}{
		{DepthZero, "/proj", true},
		{DepthZero, "/proj/a", false},
		{DepthOne, "/proj/a", true},
		{DepthOne, "/proj/a/b", false},
		{DepthInfinite, "/proj/a/b/c", true},
		{DepthInfinite, "/other", false},
	}

	for _, tt := range tests {
		if got := tt.depth.Includes(root, tt.p); got != tt.want {
			t.Errorf("%s.Includes(%s, %s) = %v, want %v", tt.depth, root, tt.p, got, tt.want)
		}
	}
}

func TestParseDepth(t *testing.T) {
	for in, want := range map[string]Depth{"zero": DepthZero, "one": DepthOne, "infinite": DepthInfinite, "": DepthInfinite} {
		got, err := ParseDepth(in)
		if err != nil || got != want {
			t.Errorf("ParseDepth(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDepth("two"); err == nil {
		t.Error("expected error for invalid depth")
	}
}
