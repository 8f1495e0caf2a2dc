package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hochfrequenz/ci-collect/internal/domain"
	"github.com/hochfrequenz/ci-collect/internal/gh"
)

type cmdResult struct {
	code int
	out  string
}

// scriptedRunner routes gh invocations to canned per-repository results.
type scriptedRunner struct {
	list     map[string]cmdResult // repo -> gh run list result
	download map[string]cmdResult // repo -> gh run download result
	calls    [][]string
}

func (s *scriptedRunner) Run(ctx context.Context, name string, args ...string) (int, string) {
	argv := append([]string{name}, args...)
	s.calls = append(s.calls, argv)

	if len(args) > 0 && args[0] == "--version" {
		return 0, "gh version 2.40.0"
	}

	repo := argValue(argv, "-R")
	if args[0] == "run" && args[1] == "list" {
		res, ok := s.list[repo]
		if !ok {
			return 0, "[]"
		}
		return res.code, res.out
	}
	if args[0] == "run" && args[1] == "download" {
		res := s.download[repo]
		return res.code, res.out
	}
	return 1, "unexpected command"
}

func (s *scriptedRunner) downloadCalls() int {
	n := 0
	for _, argv := range s.calls {
		if len(argv) > 2 && argv[1] == "run" && argv[2] == "download" {
			n++
		}
	}
	return n
}

func argValue(argv []string, flag string) string {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == flag {
			return argv[i+1]
		}
	}
	return ""
}

func writeRepos(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repos.txt")
	if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runsJSON(runs ...domain.WorkflowRun) string {
	data, _ := json.Marshal(runs)
	return string(data)
}

func newTestCollector(runner *scriptedRunner, opts Options) *Collector {
	return New(gh.NewClient(runner), opts)
}

func TestRun_FullBatch(t *testing.T) {
	runner := &scriptedRunner{
		list: map[string]cmdResult{
			"acme/widgets": {out: runsJSON(
				run(101, "completed", "success"),
			)},
			"acme/broken": {code: 1, out: "HTTP 404: Not Found"},
		},
		download: map[string]cmdResult{
			"acme/widgets": {code: 0, out: "downloaded 3 artifacts"},
		},
	}

	outDir := filepath.Join(t.TempDir(), "out")
	c := newTestCollector(runner, Options{
		ReposFile: writeRepos(t, "acme/widgets\nacme/broken\n"),
		OutputDir: outDir,
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	m := res.Manifest

	if len(m.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(m.Items))
	}
	if m.Items[0].Repo != "acme/widgets" || m.Items[1].Repo != "acme/broken" {
		t.Errorf("items out of input order: %q, %q", m.Items[0].Repo, m.Items[1].Repo)
	}

	first := m.Items[0]
	if first.SelectedRun == nil || first.SelectedRun.DatabaseID != 101 {
		t.Fatalf("Items[0].SelectedRun = %+v, want run 101", first.SelectedRun)
	}
	if !first.DownloadOK || first.Error != "" {
		t.Errorf("Items[0] = ok:%v err:%q, want successful download", first.DownloadOK, first.Error)
	}

	second := m.Items[1]
	if second.SelectedRun != nil {
		t.Errorf("Items[1].SelectedRun = %+v, want nil", second.SelectedRun)
	}
	if !strings.HasPrefix(second.Error, "run_list_failed:") {
		t.Errorf("Items[1].Error = %q, want run_list_failed prefix", second.Error)
	}

	// On-disk layout for the successful repository.
	runDir := filepath.Join(res.OutputDir, "acme__widgets", "run_101")
	for _, f := range []string{"run_meta.json", "download.log"} {
		if _, err := os.Stat(filepath.Join(runDir, f)); err != nil {
			t.Errorf("missing %s: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, "artifacts")); err != nil {
		t.Errorf("missing artifacts dir: %v", err)
	}

	// The manifest on disk matches the returned one.
	data, err := os.ReadFile(filepath.Join(res.OutputDir, ManifestName))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var onDisk domain.Manifest
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if len(onDisk.Items) != 2 {
		t.Errorf("on-disk manifest has %d items, want 2", len(onDisk.Items))
	}
	if onDisk.UTCStart == "" || onDisk.UTCEnd == "" {
		t.Error("manifest timestamps not set")
	}
}

func TestRun_NoRunsFound(t *testing.T) {
	runner := &scriptedRunner{
		list: map[string]cmdResult{"acme/idle": {out: "[]"}},
	}

	c := newTestCollector(runner, Options{
		ReposFile: writeRepos(t, "acme/idle\n"),
		OutputDir: filepath.Join(t.TempDir(), "out"),
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	item := res.Manifest.Items[0]
	if item.SelectedRun != nil {
		t.Errorf("SelectedRun = %+v, want nil", item.SelectedRun)
	}
	if item.Error != "no_runs_found" {
		t.Errorf("Error = %q, want no_runs_found", item.Error)
	}
	if runner.downloadCalls() != 0 {
		t.Errorf("download attempted %d times, want 0", runner.downloadCalls())
	}
}

func TestRun_ListFailureWithoutOutput(t *testing.T) {
	// gh can exit non-zero and print nothing; the repository must still be
	// recorded as a listing failure and the batch must go on.
	runner := &scriptedRunner{
		list: map[string]cmdResult{
			"acme/silent":  {code: 1, out: ""},
			"acme/widgets": {out: runsJSON(run(11, "completed", "success"))},
		},
		download: map[string]cmdResult{
			"acme/widgets": {code: 0, out: "downloaded 1 artifact"},
		},
	}

	c := newTestCollector(runner, Options{
		ReposFile: writeRepos(t, "acme/silent\nacme/widgets\n"),
		OutputDir: filepath.Join(t.TempDir(), "out"),
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	m := res.Manifest

	if len(m.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(m.Items))
	}
	if !strings.HasPrefix(m.Items[0].Error, "run_list_failed:") {
		t.Errorf("Items[0].Error = %q, want run_list_failed prefix", m.Items[0].Error)
	}
	if m.Items[0].Error == "run_list_failed:" {
		t.Error("Items[0].Error carries no detail for a silent gh failure")
	}
	if !m.Items[1].DownloadOK {
		t.Error("Items[1].DownloadOK = false, a silent list failure must not block later repos")
	}
}

func TestRun_DownloadFailureContinues(t *testing.T) {
	runner := &scriptedRunner{
		list: map[string]cmdResult{
			"acme/empty":   {out: runsJSON(run(7, "completed", "success"))},
			"acme/widgets": {out: runsJSON(run(8, "completed", "success"))},
		},
		download: map[string]cmdResult{
			"acme/empty":   {code: 1, out: "no artifacts found"},
			"acme/widgets": {code: 0, out: "downloaded 1 artifact"},
		},
	}

	c := newTestCollector(runner, Options{
		ReposFile: writeRepos(t, "acme/empty\nacme/widgets\n"),
		OutputDir: filepath.Join(t.TempDir(), "out"),
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	m := res.Manifest

	if len(m.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2 despite download failure", len(m.Items))
	}

	failed := m.Items[0]
	if failed.DownloadOK {
		t.Error("Items[0].DownloadOK = true, want false")
	}
	if !strings.Contains(failed.Error, "no artifacts found") {
		t.Errorf("Items[0].Error = %q, want captured output", failed.Error)
	}
	if !m.Items[1].DownloadOK {
		t.Error("Items[1].DownloadOK = false, download failure must not block later repos")
	}
}

func TestRun_TruncatesDownloadNotes(t *testing.T) {
	longOut := strings.Repeat("x", 5000)
	runner := &scriptedRunner{
		list:     map[string]cmdResult{"acme/noisy": {out: runsJSON(run(9, "completed", "success"))}},
		download: map[string]cmdResult{"acme/noisy": {code: 1, out: longOut}},
	}

	outDir := filepath.Join(t.TempDir(), "out")
	c := newTestCollector(runner, Options{
		ReposFile: writeRepos(t, "acme/noisy\n"),
		OutputDir: outDir,
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantLen := len("download_failed:") + maxErrorNotes
	if got := len(res.Manifest.Items[0].Error); got != wantLen {
		t.Errorf("len(Error) = %d, want %d", got, wantLen)
	}

	// The full output still lands in download.log.
	log, err := os.ReadFile(filepath.Join(outDir, "acme__noisy", "run_9", "download.log"))
	if err != nil {
		t.Fatalf("read download.log: %v", err)
	}
	if len(strings.TrimSpace(string(log))) != len(longOut) {
		t.Errorf("download.log holds %d bytes, want the untruncated %d", len(strings.TrimSpace(string(log))), len(longOut))
	}
}

func TestRun_OutputDirHandling(t *testing.T) {
	runner := &scriptedRunner{list: map[string]cmdResult{"acme/idle": {out: "[]"}}}
	outDir := filepath.Join(t.TempDir(), "out")
	stale := filepath.Join(outDir, "stale.txt")

	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(runner, Options{
		ReposFile: writeRepos(t, "acme/idle\n"),
		OutputDir: outDir,
	})
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file survived, default mode must clear the output directory")
	}

	// keep-output preserves prior contents
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	c = newTestCollector(runner, Options{
		ReposFile:  writeRepos(t, "acme/idle\n"),
		OutputDir:  outDir,
		KeepOutput: true,
	})
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Errorf("stale file removed, keep-output must preserve it: %v", err)
	}
}

func TestRun_PerRepoWorkflowOverride(t *testing.T) {
	runner := &scriptedRunner{
		list: map[string]cmdResult{
			"acme/widgets": {out: "[]"},
			"acme/gadgets": {out: "[]"},
		},
	}

	reposPath := filepath.Join(t.TempDir(), "repos.yaml")
	content := "repos:\n  - acme/widgets\n  - repo: acme/gadgets\n    workflow: nightly.yml\n"
	if err := os.WriteFile(reposPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(runner, Options{
		ReposFile: reposPath,
		OutputDir: filepath.Join(t.TempDir(), "out"),
		Workflow:  "ci.yml",
	})
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	workflows := map[string]string{}
	for _, argv := range runner.calls {
		if len(argv) > 2 && argv[1] == "run" && argv[2] == "list" {
			workflows[argValue(argv, "-R")] = argValue(argv, "--workflow")
		}
	}
	if workflows["acme/widgets"] != "ci.yml" {
		t.Errorf("acme/widgets workflow = %q, want global ci.yml", workflows["acme/widgets"])
	}
	if workflows["acme/gadgets"] != "nightly.yml" {
		t.Errorf("acme/gadgets workflow = %q, want override nightly.yml", workflows["acme/gadgets"])
	}
}

func TestRun_GHMissingIsFatal(t *testing.T) {
	runner := &scriptedRunner{}
	// Force --version to fail
	failing := &versionFailRunner{inner: runner}

	c := New(gh.NewClient(failing), Options{
		ReposFile: writeRepos(t, "acme/widgets\n"),
		OutputDir: filepath.Join(t.TempDir(), "out"),
	})

	if _, err := c.Run(context.Background()); err == nil {
		t.Error("Run() = nil error, missing gh must abort the batch")
	}
}

type versionFailRunner struct {
	inner gh.Runner
}

func (v *versionFailRunner) Run(ctx context.Context, name string, args ...string) (int, string) {
	if len(args) > 0 && args[0] == "--version" {
		return -1, "exec: gh: not found"
	}
	return v.inner.Run(ctx, name, args...)
}

func TestRun_DownloadLogWriteFailureNoted(t *testing.T) {
	runner := &scriptedRunner{
		list:     map[string]cmdResult{"acme/widgets": {out: runsJSON(run(101, "completed", "success"))}},
		download: map[string]cmdResult{"acme/widgets": {code: 0, out: "downloaded 1 artifact"}},
	}

	// A directory squatting on the download.log path makes the write fail.
	outDir := filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(filepath.Join(outDir, "acme__widgets", "run_101", "download.log"), 0755); err != nil {
		t.Fatal(err)
	}

	var progress strings.Builder
	c := newTestCollector(runner, Options{
		ReposFile:  writeRepos(t, "acme/widgets\n"),
		OutputDir:  outDir,
		KeepOutput: true,
		Progress:   &progress,
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Manifest.Items[0].DownloadOK {
		t.Error("DownloadOK = false, a failed log write must not fail the download")
	}
	if !strings.Contains(progress.String(), "write download.log") {
		t.Errorf("progress = %q, want a note about the failed download.log write", progress.String())
	}
}

func TestSanitizeRepo(t *testing.T) {
	if got := SanitizeRepo("acme/widgets"); got != "acme__widgets" {
		t.Errorf("SanitizeRepo() = %q, want acme__widgets", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "é" is two bytes; a cut landing inside it must back off so the
	// result stays valid UTF-8.
	s := strings.Repeat("a", 1999) + "é"

	got := truncate(s, maxErrorNotes)
	if len(got) != 1999 {
		t.Errorf("len(truncate()) = %d, want 1999 (backed off the split rune)", len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncate() produced invalid UTF-8")
	}

	if got := truncate("short", maxErrorNotes); got != "short" {
		t.Errorf("truncate(short) = %q, want unchanged", got)
	}
}
