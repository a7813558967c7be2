//go:build integration

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/wcsync/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the wcsync binary once and runs it against a scratch
// origin repository and working copy.
type Harness struct {
	t       *testing.T
	binary  string
	Origin  string
	WC      string
	Config  string
	Secret  string
	Address string
}

// NewHarness builds the binary and creates an origin repository with an
// initial commit. The working copy is cloned by the first wcsync run.
func NewHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()
	testutil.RequireGit(t)

	base := t.TempDir()
	h := &Harness{
		t:      t,
		binary: filepath.Join(base, "wcsync"),
		Origin: filepath.Join(base, "origin"),
		WC:     filepath.Join(base, "wc"),
		Config: filepath.Join(base, "config.yaml"),
		Secret: filepath.Join(base, "webhook.secret"),
	}

	if err := h.build(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	testutil.InitRepo(t, h.Origin, "main")
	testutil.CommitFile(t, h.Origin, "README.md", "hello\n", "Initial commit")
	testutil.CommitFile(t, h.Origin, "src/main.go", "package main\n", "Add main")

	if err := os.WriteFile(h.Secret, []byte("integration-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	h.Address = freeAddress(t)
	h.WriteConfig("")
	return h
}

func (h *Harness) build(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/wcsync")
	cmd.Dir = testutil.ProjectRoot(h.t)
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// WriteConfig writes the configuration, appending extra YAML to the serve
// section.
func (h *Harness) WriteConfig(extraServe string) {
	h.t.Helper()
	content := `workspace:
  root: "` + h.WC + `"
remote:
  url: "` + h.Origin + `"
  ref: "main"
  fetch_interval: 0s
serve:
  listen_addr: "` + h.Address + `"
  github_webhook_secret_file: "` + h.Secret + `"
  debounce: 50ms
` + extraServe
	if err := os.WriteFile(h.Config, []byte(content), 0o600); err != nil {
		h.t.Fatal(err)
	}
}

// Run executes wcsync with args and returns its stdout, stderr and exit
// code.
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int) {
	h.t.Helper()
	args = append([]string{"--config", h.Config, "--log-level", "debug"}, args...)
	cmd := exec.CommandContext(ctx, h.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			h.t.Fatalf("run wcsync: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return stdout.String(), stderr.String(), exitCode
}

// MustRun executes wcsync and fails the test on a non-zero exit code.
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode := h.Run(ctx, args...)
	if exitCode != 0 {
		h.t.Fatalf("wcsync %v failed with exit code %d\nstdout: %s\nstderr: %s", args, exitCode, stdout, stderr)
	}
	return stdout
}

// Start runs wcsync in the background. The returned function stops it and
// waits for it to exit.
func (h *Harness) Start(ctx context.Context, args ...string) func() {
	h.t.Helper()
	args = append([]string{"--config", h.Config, "--log-level", "debug"}, args...)
	cmd := exec.Command(h.binary, args...)
	cmd.Stdout = &testWriter{t: h.t, prefix: "[wcsync] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[wcsync] "}
	if err := cmd.Start(); err != nil {
		h.t.Fatalf("start wcsync: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	return func() {
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-done:
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-done
		}
	}
}

// WaitForServer polls the listen address until it accepts connections.
func (h *Harness) WaitForServer(ctx context.Context) {
	h.t.Helper()
	for {
		conn, err := net.DialTimeout("tcp", h.Address, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		select {
		case <-ctx.Done():
			h.t.Fatalf("server at %s did not come up: %v", h.Address, err)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
