package domain

import "errors"

// Fatal configuration errors. These abort the batch before any repository
// is processed; everything else is recorded per-repository and the batch
// continues.
var (
	// ErrGHNotFound indicates the gh CLI is not installed or not on PATH.
	ErrGHNotFound = errors.New("gh CLI not found")

	// ErrEmptyRepoList indicates the repository list yielded no entries
	// while the loader is running in strict mode.
	ErrEmptyRepoList = errors.New("repository list is empty")

	// ErrNoRunFound indicates no run matched the selection policy.
	ErrNoRunFound = errors.New("no runs found")
)

// RunListError wraps a failed or malformed `gh run list` invocation.
type RunListError struct {
	Repo   string // Repository being listed
	Output string // Captured gh output, trimmed
	Err    error  // Underlying error, if any
}

func (e *RunListError) Error() string {
	switch {
	case e.Output != "":
		return "list runs for " + e.Repo + ": " + e.Output
	case e.Err != nil:
		return "list runs for " + e.Repo + ": " + e.Err.Error()
	default:
		return "list runs for " + e.Repo + ": command failed"
	}
}

func (e *RunListError) Unwrap() error {
	return e.Err
}
