// Package domain holds the core types shared across ci-collect.
package domain

import "fmt"

// Run status values as reported by GitHub Actions.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Run conclusion values. An unfinished run has an empty conclusion.
const (
	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
)

// SelectionMode determines how a run is chosen from the inspected list.
type SelectionMode string

const (
	// ModePriority prefers completed+success, then any completed, then
	// the most recent run.
	ModePriority SelectionMode = "priority"

	// ModeSuccessOnly accepts only a run that concluded with success.
	ModeSuccessOnly SelectionMode = "success-only"
)

// ParseSelectionMode validates a mode string from config or flags.
func ParseSelectionMode(s string) (SelectionMode, error) {
	switch SelectionMode(s) {
	case ModePriority, ModeSuccessOnly:
		return SelectionMode(s), nil
	}
	return "", fmt.Errorf("unknown selection mode %q (want %q or %q)", s, ModePriority, ModeSuccessOnly)
}
