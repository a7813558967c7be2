package git

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotRepository is returned when a directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// ErrNotTopLevel is returned when the workspace root is a subdirectory of a
// work tree rather than its top level.
var ErrNotTopLevel = errors.New("workspace root is not the top level of the work tree")

// ErrUnknownRevision is returned when a revision or ref can not be resolved.
var ErrUnknownRevision = errors.New("unknown revision")

// ErrNoMergeBase is returned when HEAD and the tracking ref share no history.
var ErrNoMergeBase = errors.New("no merge base")

// ErrAuthFailed is returned when the remote rejected the configured
// credentials.
var ErrAuthFailed = errors.New("authentication failed")

// ErrRemoteUnreachable is returned when the remote could not be contacted.
var ErrRemoteUnreachable = errors.New("remote unreachable")

// ErrMalformedOutput is returned when git printed something the parsers do
// not understand.
var ErrMalformedOutput = errors.New("malformed git output")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// classify maps git's stderr onto a sentinel, or returns nil when nothing
// matches.
func classify(stderr string) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "not a git repository"):
		return ErrNotRepository
	case strings.Contains(s, "unknown revision"),
		strings.Contains(s, "bad revision"),
		strings.Contains(s, "needed a single revision"),
		strings.Contains(s, "not a valid object name"),
		strings.Contains(s, "invalid object name"):
		return ErrUnknownRevision
	case strings.Contains(s, "authentication failed"),
		strings.Contains(s, "permission denied"),
		strings.Contains(s, "could not read username"):
		return ErrAuthFailed
	case strings.Contains(s, "could not resolve host"),
		strings.Contains(s, "connection refused"),
		strings.Contains(s, "connection timed out"),
		strings.Contains(s, "does not appear to be a git repository"):
		return ErrRemoteUnreachable
	}
	return nil
}
