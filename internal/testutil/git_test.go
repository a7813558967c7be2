package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCloneSeesCommits(t *testing.T) {
	origin := filepath.Join(t.TempDir(), "origin")
	InitRepo(t, origin, "main")
	first := CommitFile(t, origin, "dir/a.txt", "one\n", "Add a")

	clone := filepath.Join(t.TempDir(), "clone")
	Clone(t, origin, clone)

	got, err := os.ReadFile(filepath.Join(clone, "dir", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one\n" {
		t.Errorf("expected cloned content, got %q", got)
	}
	if head := Git(t, clone, "rev-parse", "HEAD"); head != first {
		t.Errorf("expected HEAD %s, got %s", first, head)
	}

	second := RemoveFile(t, origin, "dir/a.txt", "Remove a")
	if second == first {
		t.Error("expected a new commit for the removal")
	}
}
