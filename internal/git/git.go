// Package git reads working-copy and repository state by shelling out to
// the git command.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Client provides the git operations the status providers rely on.
type Client interface {
	// EnsureClone clones url into destDir on ref unless destDir already
	// holds a repository.
	EnsureClone(ctx context.Context, url, ref, destDir string) error
	// ShowPrefix returns dir's path relative to the top of its work tree.
	ShowPrefix(ctx context.Context, dir string) (string, error)
	// Fetch updates remote-tracking refs of the named remote.
	Fetch(ctx context.Context, dir, remote string) error
	// ResolveRef resolves a revision to a commit hash.
	ResolveRef(ctx context.Context, dir, ref string) (string, error)
	// MergeBase returns the best common ancestor of a and b.
	MergeBase(ctx context.Context, dir, a, b string) (string, error)
	// DiffRaw lists changes between two revisions below paths.
	DiffRaw(ctx context.Context, dir, base, ref string, paths []string) ([]Change, error)
	// LastCommit returns the newest commit in revRange touching path.
	LastCommit(ctx context.Context, dir, revRange, path string) (Commit, error)
	// RevisionNumber returns the number of commits reachable from rev.
	RevisionNumber(ctx context.Context, dir, rev string) (int64, error)
	// CommitMessage returns the full message of rev.
	CommitMessage(ctx context.Context, dir, rev string) (string, error)
	// Status lists work tree and index changes, including ignored paths.
	Status(ctx context.Context, dir string) ([]StatusEntry, error)
	// LsFiles lists index entries.
	LsFiles(ctx context.Context, dir string) ([]IndexEntry, error)
	// LsTree lists the files recorded in rev.
	LsTree(ctx context.Context, dir, rev string) ([]TreeEntry, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// EnsureClone clones the repository if destDir is not a work tree yet.
// Existing checkouts are left untouched; local changes are the point of
// comparison and must never be reset.
func (c *ShellClient) EnsureClone(ctx context.Context, url, ref, destDir string) error {
	if _, err := os.Stat(filepath.Join(destDir, ".git")); err == nil {
		return nil
	}
	if url == "" {
		return WrapErrorf(ErrNotRepository, "%s has no checkout and no remote url is configured", destDir)
	}

	if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	args := []string{"clone", "--quiet"}
	if ref != "" {
		args = append(args, "--branch", strings.TrimPrefix(ref, "refs/heads/"))
	}
	args = append(args, url, destDir)

	cmd := exec.CommandContext(ctx, "git", args...)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if _, err := c.run(ctx, cmd); err != nil {
		return WrapError(err, "git clone failed")
	}
	return nil
}

// ShowPrefix returns dir relative to the top of the work tree, with a
// trailing slash, or "" at the top level.
func (c *ShellClient) ShowPrefix(ctx context.Context, dir string) (string, error) {
	out, err := c.git(ctx, dir, "rev-parse", "--show-prefix")
	if err != nil {
		return "", WrapError(err, "git rev-parse failed")
	}
	return strings.TrimSpace(string(out)), nil
}

// Fetch updates the remote-tracking refs of remote, authenticating against
// the remote's configured url.
func (c *ShellClient) Fetch(ctx context.Context, dir, remote string) error {
	out, err := c.git(ctx, dir, "remote", "get-url", remote)
	if err != nil {
		return WrapErrorf(err, "failed to read url of remote %q", remote)
	}
	url := strings.TrimSpace(string(out))

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "fetch", "--quiet", "--prune", remote)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	if _, err := c.run(ctx, cmd); err != nil {
		return WrapError(err, "git fetch failed")
	}
	return nil
}

// ResolveRef resolves ref to a full commit hash.
func (c *ShellClient) ResolveRef(ctx context.Context, dir, ref string) (string, error) {
	out, err := c.git(ctx, dir, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if ctx.Err() == nil {
			err = ErrUnknownRevision
		}
		return "", WrapErrorf(err, "failed to resolve %q", ref)
	}
	return strings.TrimSpace(string(out)), nil
}

// MergeBase returns the merge base of a and b.
func (c *ShellClient) MergeBase(ctx context.Context, dir, a, b string) (string, error) {
	out, err := c.git(ctx, dir, "merge-base", a, b)
	if err != nil {
		var exitErr *exec.ExitError
		if ctx.Err() == nil && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			err = ErrNoMergeBase
		}
		return "", WrapErrorf(err, "git merge-base %s %s failed", a, b)
	}
	return strings.TrimSpace(string(out)), nil
}

// DiffRaw returns the changes between base and ref below paths. Renames are
// reported as a deletion plus an addition.
func (c *ShellClient) DiffRaw(ctx context.Context, dir, base, ref string, paths []string) ([]Change, error) {
	args := []string{"diff", "--raw", "-z", "--no-renames", "--no-ext-diff", base, ref, "--"}
	args = append(args, paths...)
	out, err := c.git(ctx, dir, args...)
	if err != nil {
		return nil, WrapError(err, "git diff failed")
	}
	changes, err := parseDiffRaw(out)
	if err != nil {
		return nil, WrapError(err, "failed to parse git diff output")
	}
	return changes, nil
}

// LastCommit returns the newest commit in revRange that touched path. A
// zero Commit is returned when no commit in the range touched it.
func (c *ShellClient) LastCommit(ctx context.Context, dir, revRange, path string) (Commit, error) {
	out, err := c.git(ctx, dir, "log", "-1", "--format=%H%x00%an%x00%at%x00%s", revRange, "--", pathspec(path))
	if err != nil {
		return Commit{}, WrapErrorf(err, "git log %s -- %s failed", revRange, path)
	}
	commit, err := parseCommit(out)
	if err != nil {
		return Commit{}, WrapError(err, "failed to parse git log output")
	}
	return commit, nil
}

// RevisionNumber counts the commits reachable from rev. Along any line of
// history the number strictly increases, so it serves as a revision number.
func (c *ShellClient) RevisionNumber(ctx context.Context, dir, rev string) (int64, error) {
	out, err := c.git(ctx, dir, "rev-list", "--count", rev)
	if err != nil {
		return 0, WrapErrorf(err, "git rev-list --count %s failed", rev)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, WrapErrorf(ErrMalformedOutput, "revision count %q", strings.TrimSpace(string(out)))
	}
	return n, nil
}

// CommitMessage returns the full message of rev without trailing newlines.
func (c *ShellClient) CommitMessage(ctx context.Context, dir, rev string) (string, error) {
	out, err := c.git(ctx, dir, "log", "-1", "--format=%B", rev)
	if err != nil {
		return "", WrapErrorf(err, "git log %s failed", rev)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// Status returns porcelain v1 status entries, including ignored paths and
// every untracked file.
func (c *ShellClient) Status(ctx context.Context, dir string) ([]StatusEntry, error) {
	out, err := c.git(ctx, dir, "status", "--porcelain=v1", "-z", "--no-renames", "--ignored=matching", "--untracked-files=all")
	if err != nil {
		return nil, WrapError(err, "git status failed")
	}
	entries, err := parseStatus(out)
	if err != nil {
		return nil, WrapError(err, "failed to parse git status output")
	}
	return entries, nil
}

// LsFiles returns every index entry, one per stage.
func (c *ShellClient) LsFiles(ctx context.Context, dir string) ([]IndexEntry, error) {
	out, err := c.git(ctx, dir, "ls-files", "--stage", "-z")
	if err != nil {
		return nil, WrapError(err, "git ls-files failed")
	}
	entries, err := parseLsFiles(out)
	if err != nil {
		return nil, WrapError(err, "failed to parse git ls-files output")
	}
	return entries, nil
}

// LsTree returns every file recorded in rev.
func (c *ShellClient) LsTree(ctx context.Context, dir, rev string) ([]TreeEntry, error) {
	out, err := c.git(ctx, dir, "ls-tree", "-r", "-z", "--full-tree", rev)
	if err != nil {
		return nil, WrapErrorf(err, "git ls-tree %s failed", rev)
	}
	entries, err := parseLsTree(out)
	if err != nil {
		return nil, WrapError(err, "failed to parse git ls-tree output")
	}
	return entries, nil
}

// git runs a read-only git command in dir and returns its stdout.
func (c *ShellClient) git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_OPTIONAL_LOCKS=0", "LC_ALL=C")
	return c.run(ctx, cmd)
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// The token travels in the environment and a credential helper
		// echoes it, so it never appears in a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "WCSYNC_GIT_TOKEN="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$WCSYNC_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// run executes cmd and returns its stdout. On failure the error carries
// stderr and, when recognizable, a sentinel.
func (c *ShellClient) run(ctx context.Context, cmd *exec.Cmd) ([]byte, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	msg := strings.TrimSpace(stderr.String())
	if sentinel := classify(msg); sentinel != nil {
		return nil, fmt.Errorf("%w: %w: %s", sentinel, err, msg)
	}
	return nil, fmt.Errorf("%w: %s", err, msg)
}

// pathspec turns a workspace-relative path into a literal pathspec. The
// top level is ".".
func pathspec(rel string) string {
	if rel == "" {
		return "."
	}
	return ":(literal)" + rel
}
