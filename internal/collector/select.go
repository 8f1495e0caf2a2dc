package collector

import (
	"strings"

	"github.com/hochfrequenz/ci-collect/internal/domain"
)

// SelectRun chooses one run from the inspected candidates, which arrive
// most-recent first and are never re-sorted. Returns nil when no run
// matches the policy.
//
// Priority mode: completed+success wins, then any completed run, then the
// most recent run regardless of state. Success-only mode: the first run
// that concluded with success, with no fallback.
func SelectRun(runs []domain.WorkflowRun, mode domain.SelectionMode) *domain.WorkflowRun {
	if mode == domain.ModeSuccessOnly {
		for i := range runs {
			if strings.EqualFold(runs[i].Conclusion, domain.ConclusionSuccess) {
				return &runs[i]
			}
		}
		return nil
	}

	var firstCompleted *domain.WorkflowRun
	for i := range runs {
		if runs[i].Status != domain.StatusCompleted {
			continue
		}
		if strings.EqualFold(runs[i].Conclusion, domain.ConclusionSuccess) {
			return &runs[i]
		}
		if firstCompleted == nil {
			firstCompleted = &runs[i]
		}
	}
	if firstCompleted != nil {
		return firstCompleted
	}
	if len(runs) > 0 {
		return &runs[0]
	}
	return nil
}
