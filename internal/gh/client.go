package gh

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/hochfrequenz/ci-collect/internal/domain"
)

// Default number of recent runs inspected per repository.
const DefaultRunsLimit = 30

// runListFields matches the manifest's selected_run summary.
const runListFields = "databaseId,status,conclusion,createdAt,displayTitle,workflowName,htmlUrl"

// Client invokes the gh CLI through a Runner.
type Client struct {
	runner Runner
}

// NewClient creates a Client using the given runner.
func NewClient(runner Runner) *Client {
	return &Client{runner: runner}
}

// EnsureAvailable verifies the gh CLI is installed and runnable.
// Its absence is a fatal configuration error.
func (c *Client) EnsureAvailable(ctx context.Context) error {
	code, out := c.runner.Run(ctx, "gh", "--version")
	if code != 0 {
		return fmt.Errorf("%w: %s", domain.ErrGHNotFound, out)
	}
	return nil
}

// ListRuns returns up to limit most-recent workflow runs for the repository,
// in the order gh reports them (most-recent first). When workflow is
// non-empty it is passed through as a name or file filter.
func (c *Client) ListRuns(ctx context.Context, repo, workflow string, limit int) ([]domain.WorkflowRun, error) {
	if limit <= 0 {
		limit = DefaultRunsLimit
	}

	args := []string{
		"run", "list",
		"-R", repo,
		"--limit", strconv.Itoa(limit),
		"--json", runListFields,
	}
	if workflow != "" {
		args = append(args, "--workflow", workflow)
	}

	code, out := c.runner.Run(ctx, "gh", args...)
	if code != 0 {
		return nil, &domain.RunListError{Repo: repo, Output: out}
	}

	if out == "" {
		out = "[]"
	}
	var runs []domain.WorkflowRun
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		return nil, &domain.RunListError{Repo: repo, Output: "json_parse_failed", Err: err}
	}
	return runs, nil
}

// DownloadRun downloads every artifact of the run into dest, creating the
// directory first. A non-zero exit is an expected outcome (commonly "no
// artifacts attached") and is reported through ok, never as an error; the
// captured output is returned for diagnostics either way.
func (c *Client) DownloadRun(ctx context.Context, repo string, runID int64, dest string) (ok bool, output string, err error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return false, "", fmt.Errorf("create download dir: %w", err)
	}

	code, out := c.runner.Run(ctx, "gh",
		"run", "download", strconv.FormatInt(runID, 10),
		"-R", repo,
		"-D", dest,
	)
	return code == 0, out, nil
}
