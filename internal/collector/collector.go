// Package collector runs one collection batch: list runs, pick one per
// repository, download its artifacts, and write the aggregate manifest.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/ci-collect/internal/domain"
	"github.com/hochfrequenz/ci-collect/internal/gh"
	"github.com/hochfrequenz/ci-collect/internal/repolist"
)

// ManifestName is the manifest file written at the output directory root.
const ManifestName = "manifest.json"

// maxErrorNotes bounds the download output kept in a manifest error string.
// The full output always lands in the per-run download.log.
const maxErrorNotes = 2000

// Options configures a collection batch.
type Options struct {
	ReposFile  string
	OutputDir  string
	Workflow   string               // global workflow filter, may be empty
	Limit      int                  // runs inspected per repository
	Mode       domain.SelectionMode // run selection policy
	StrictList bool                 // error on empty repository list
	KeepOutput bool                 // preserve a pre-existing output directory
	Progress   io.Writer            // per-repository progress lines, may be nil
}

// Result is the outcome of one batch.
type Result struct {
	Manifest      *domain.Manifest
	OutputDir     string
	ArtifactBytes int64 // total size of everything under the output directory
}

// Collector processes repositories strictly sequentially. Per-repository
// failures are recorded on the manifest item and never abort the batch.
type Collector struct {
	client *gh.Client
	opts   Options
}

// New creates a Collector.
func New(client *gh.Client, opts Options) *Collector {
	if opts.Limit <= 0 {
		opts.Limit = gh.DefaultRunsLimit
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModePriority
	}
	return &Collector{client: client, opts: opts}
}

// Run executes the batch. Only configuration errors (gh missing, repos file
// missing, empty list in strict mode) are returned; everything else is
// recorded in the manifest.
func (c *Collector) Run(ctx context.Context) (*Result, error) {
	if err := c.client.EnsureAvailable(ctx); err != nil {
		return nil, err
	}

	reposPath, err := filepath.Abs(c.opts.ReposFile)
	if err != nil {
		return nil, fmt.Errorf("resolve repos file: %w", err)
	}
	outDir, err := filepath.Abs(c.opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}

	entries, err := repolist.Load(reposPath, c.opts.StrictList)
	if err != nil {
		return nil, err
	}

	if !c.opts.KeepOutput {
		if err := os.RemoveAll(outDir); err != nil {
			return nil, fmt.Errorf("clear output dir: %w", err)
		}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	manifest := &domain.Manifest{
		UTCStart:       utcNow(),
		ReposFile:      reposPath,
		WorkflowFilter: c.opts.Workflow,
		Items:          []domain.SelectionItem{},
	}

	for _, entry := range entries {
		item := c.processRepo(ctx, entry, outDir)
		manifest.Items = append(manifest.Items, item)
	}

	manifest.UTCEnd = utcNow()
	if err := writeJSON(filepath.Join(outDir, ManifestName), manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	return &Result{
		Manifest:      manifest,
		OutputDir:     outDir,
		ArtifactBytes: dirSize(outDir),
	}, nil
}

// processRepo walks one repository through its terminal state. All failure
// paths return a finalized item; none of them stop the batch.
func (c *Collector) processRepo(ctx context.Context, entry repolist.Entry, outDir string) domain.SelectionItem {
	workflow := entry.Workflow
	if workflow == "" {
		workflow = c.opts.Workflow
	}

	item := domain.SelectionItem{
		Repo:           entry.Repo,
		WorkflowFilter: workflow,
	}

	runs, err := c.client.ListRuns(ctx, entry.Repo, workflow, c.opts.Limit)
	if err != nil {
		var listErr *domain.RunListError
		msg := err.Error()
		if errors.As(err, &listErr) && listErr.Output != "" {
			msg = listErr.Output
		}
		item.Error = "run_list_failed:" + msg
		c.progressf("%s: %s\n", entry.Repo, item.Error)
		return item
	}

	selected := SelectRun(runs, c.opts.Mode)
	if selected == nil {
		item.Error = "no_runs_found"
		c.progressf("%s: %v\n", entry.Repo, domain.ErrNoRunFound)
		return item
	}
	item.SelectedRun = selected

	runDir := filepath.Join(outDir, SanitizeRepo(entry.Repo), fmt.Sprintf("run_%d", selected.DatabaseID))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		item.Error = "download_failed:" + err.Error()
		return item
	}

	// Per-run metadata is an incremental side artifact; the manifest
	// written after the loop stays authoritative.
	if err := writeJSON(filepath.Join(runDir, "run_meta.json"), selected); err != nil {
		item.Error = "download_failed:" + err.Error()
		return item
	}

	ok, out, err := c.client.DownloadRun(ctx, entry.Repo, selected.DatabaseID, filepath.Join(runDir, "artifacts"))
	if err != nil {
		item.Error = "download_failed:" + err.Error()
		return item
	}

	// download.log is the only place the untruncated output lives, so a
	// failed write is worth a note even when the download itself succeeded.
	if err := writeText(filepath.Join(runDir, "download.log"), out+"\n"); err != nil {
		c.progressf("%s: write download.log: %v\n", entry.Repo, err)
	}

	item.DownloadOK = ok
	if !ok {
		item.Error = "download_failed:" + truncate(out, maxErrorNotes)
		c.progressf("%s: run %d download failed\n", entry.Repo, selected.DatabaseID)
	} else {
		c.progressf("%s: run %d downloaded\n", entry.Repo, selected.DatabaseID)
	}
	return item
}

func (c *Collector) progressf(format string, args ...any) {
	if c.opts.Progress != nil {
		fmt.Fprintf(c.opts.Progress, format, args...)
	}
}

// SanitizeRepo converts owner/name into a filesystem-safe directory name.
func SanitizeRepo(repo string) string {
	return strings.ReplaceAll(repo, "/", "__")
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utcNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// TimestampCompact returns a UTC timestamp safe for filenames.
func TimestampCompact() string {
	return time.Now().UTC().Format("20060102_150405")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func writeText(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
