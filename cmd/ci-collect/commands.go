package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/ci-collect/internal/archive"
	"github.com/hochfrequenz/ci-collect/internal/batch"
	"github.com/hochfrequenz/ci-collect/internal/collector"
	"github.com/hochfrequenz/ci-collect/internal/config"
	"github.com/hochfrequenz/ci-collect/internal/domain"
	"github.com/hochfrequenz/ci-collect/internal/gh"
	"github.com/hochfrequenz/ci-collect/internal/history"
	"github.com/hochfrequenz/ci-collect/internal/notify"
)

var (
	reposFile      string
	outDir         string
	workflowFilter string
	zipBundle      bool
	runsLimit      int
	keepOutput     bool
	selectionMode  string
	strictList     bool
	noHistory      bool
	cronExpr       string
	watchList      bool
	historyID      string
	historyLimit   int
)

func init() {
	// collect command
	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection batch",
		RunE:  runCollect,
	}
	addBatchFlags(collectCmd)
	rootCmd.AddCommand(collectCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run collection batches on a cron schedule",
		RunE:  runSchedule,
	}
	addBatchFlags(scheduleCmd)
	scheduleCmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression (5 fields)")
	scheduleCmd.Flags().BoolVar(&watchList, "watch", false, "also collect when the repos file changes")
	rootCmd.AddCommand(scheduleCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past collection batches",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyID, "id", "", "show per-repository rows of one batch")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of batches to list")
	rootCmd.AddCommand(historyCmd)
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&reposFile, "repos-file", "", "repository list file (owner/repo per line, or YAML)")
	cmd.Flags().StringVar(&outDir, "outdir", "", "output directory")
	cmd.Flags().StringVar(&workflowFilter, "workflow", "", "workflow name or file filter")
	cmd.Flags().BoolVar(&zipBundle, "zip", false, "bundle the output directory into a zip archive")
	cmd.Flags().IntVar(&runsLimit, "limit", 0, "number of runs inspected per repository")
	cmd.Flags().BoolVar(&keepOutput, "keep-output", false, "preserve a pre-existing output directory")
	cmd.Flags().StringVar(&selectionMode, "mode", "", "run selection mode: priority or success-only")
	cmd.Flags().BoolVar(&strictList, "strict", false, "fail when the repository list is empty")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "skip recording the batch in the history database")
	cmd.MarkFlagRequired("repos-file")
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

// batchOptions merges flags over config. Flags win when set.
func batchOptions(cmd *cobra.Command, cfg *config.Config) (collector.Options, error) {
	opts := collector.Options{
		ReposFile: reposFile,
		OutputDir: cfg.General.OutputDir,
		Workflow:  workflowFilter,
		Limit:     cfg.General.RunsLimit,
		Progress:  os.Stdout,
	}

	if outDir != "" {
		opts.OutputDir = outDir
	}
	if cmd.Flags().Changed("limit") {
		opts.Limit = runsLimit
	}

	opts.KeepOutput = cfg.General.KeepOutput || keepOutput
	opts.StrictList = cfg.RepoList.Strict || strictList

	modeStr := cfg.Selection.Mode
	if selectionMode != "" {
		modeStr = selectionMode
	}
	mode, err := domain.ParseSelectionMode(modeStr)
	if err != nil {
		return collector.Options{}, err
	}
	opts.Mode = mode

	return opts, nil
}

func newCollector(cfg *config.Config, opts collector.Options) *collector.Collector {
	runner := &gh.ExecRunner{
		Timeout: time.Duration(cfg.General.CommandTimeoutSeconds) * time.Second,
	}
	return collector.New(gh.NewClient(runner), opts)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts, err := batchOptions(cmd, cfg)
	if err != nil {
		return err
	}

	return runBatch(cmd, cfg, opts)
}

// runBatch executes one batch plus its post-steps: archive, history record,
// notification, summary. Per-repository failures never produce a non-zero
// exit; only configuration errors do.
func runBatch(cmd *cobra.Command, cfg *config.Config, opts collector.Options) error {
	res, err := newCollector(cfg, opts).Run(cmd.Context())
	if err != nil {
		return err
	}
	m := res.Manifest

	var archivePath string
	if zipBundle || cfg.Archive.Enabled {
		archivePath = archive.BundlePath(res.OutputDir, collector.TimestampCompact())
		if err := archive.ZipDir(res.OutputDir, archivePath); err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
	}

	var batchID string
	if cfg.History.Enabled && !noHistory {
		store, err := history.New(cfg.History.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "history disabled: %v\n", err)
		} else {
			defer store.Close()
			if batchID, err = store.RecordBatch(m, res.OutputDir); err != nil {
				fmt.Fprintf(os.Stderr, "history record failed: %v\n", err)
			}
		}
	}

	n := notify.ForManifest(m)
	n.BatchID = batchID
	n.OutputDir = res.OutputDir
	if err := buildNotifier(cfg).Send(n); err != nil {
		fmt.Fprintf(os.Stderr, "notification failed: %v\n", err)
	}

	fmt.Printf("Collected %d repositories: %d downloads ok, %d failures (%s on disk)\n",
		len(m.Items), m.DownloadsOK(), m.Failures(), humanize.Bytes(uint64(res.ArtifactBytes)))
	fmt.Printf("Manifest: %s\n", res.OutputDir+"/"+collector.ManifestName)
	if archivePath != "" {
		fmt.Printf("Archive: %s\n", archivePath)
	}

	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts, err := batchOptions(cmd, cfg)
	if err != nil {
		return err
	}

	expr := cfg.Schedule.Cron
	if cronExpr != "" {
		expr = cronExpr
	}

	sched, err := batch.NewScheduler(expr)
	if err != nil {
		return err
	}
	if watchList {
		sched.WatchFile(opts.ReposFile)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Scheduling collection (%s), next run %s\n", expr, sched.NextRun().Format(time.RFC3339))

	err = sched.Start(ctx, func() error {
		return runBatch(cmd, cfg, opts)
	})
	if ctx.Err() != nil {
		return nil // Clean shutdown on signal
	}
	return err
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.New(cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if historyID != "" {
		items, err := store.BatchItems(historyID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "REPO\tRUN\tSTATUS\tCONCLUSION\tDOWNLOAD\tERROR")
		for _, it := range items {
			run := "-"
			if it.RunID != 0 {
				run = fmt.Sprintf("%d", it.RunID)
			}
			dl := "failed"
			if it.DownloadOK {
				dl = "ok"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				it.Repo, run, orDash(it.Status), orDash(it.Conclusion), dl, orDash(it.Error))
		}
		return nil
	}

	batches, err := store.ListBatches(historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ID\tSTARTED\tREPOS\tOK\tWORKFLOW\tOUTPUT")
	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			b.ID, b.StartedAt, b.RepoCount, b.OKCount, orDash(b.WorkflowFilter), b.OutputDir)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
