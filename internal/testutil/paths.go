package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// ProjectRoot returns the directory holding the module's go.mod, found by
// walking up from this source file.
func ProjectRoot(t testing.TB) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to get caller information")
	}

	for dir := filepath.Dir(filename); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// Fixture returns the path of a file below the project root.
func Fixture(t testing.TB, elem ...string) string {
	t.Helper()
	return filepath.Join(append([]string{ProjectRoot(t)}, elem...)...)
}
