package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when no git binary is available.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// Git runs git with args in dir and returns its trimmed output.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// InitRepo creates a repository with an identity configured on the given
// branch.
func InitRepo(t *testing.T, dir, branch string) {
	t.Helper()
	RequireGit(t)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	Git(t, dir, "init", "-b", branch)
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
}

// WriteFile creates or overwrites a file below dir, creating parents.
func WriteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// CommitFile creates or overwrites a file and commits it. It returns the
// new commit hash.
func CommitFile(t *testing.T, repoDir, name, content, msg string) string {
	t.Helper()
	WriteFile(t, repoDir, name, content)
	Git(t, repoDir, "add", name)
	Git(t, repoDir, "commit", "-m", msg)
	return Git(t, repoDir, "rev-parse", "HEAD")
}

// RemoveFile deletes a tracked file and commits the deletion.
func RemoveFile(t *testing.T, repoDir, name, msg string) string {
	t.Helper()
	Git(t, repoDir, "rm", "-q", name)
	Git(t, repoDir, "commit", "-m", msg)
	return Git(t, repoDir, "rev-parse", "HEAD")
}

// Clone clones src into dst and configures an identity.
func Clone(t *testing.T, src, dst string) {
	t.Helper()
	RequireGit(t)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		t.Fatal(err)
	}
	Git(t, filepath.Dir(dst), "clone", "-q", src, dst)
	Git(t, dst, "config", "user.email", "test@test.com")
	Git(t, dst, "config", "user.name", "Test")
}
