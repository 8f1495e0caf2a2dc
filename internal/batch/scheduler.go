// Package batch schedules repeated collection runs.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// Scheduler triggers collection batches on a cron schedule and, optionally,
// whenever the repository list file changes. Batches run one at a time; a
// trigger that fires while a batch is in flight is skipped.
type Scheduler struct {
	cronExpr  string
	parser    cron.Parser
	watchPath string
	debounce  time.Duration

	mu      sync.Mutex
	lastRun time.Time
	running bool
}

// NewScheduler creates a scheduler for the given cron expression.
func NewScheduler(cronExpr string) (*Scheduler, error) {
	if cronExpr == "" {
		return nil, fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return &Scheduler{
		cronExpr: cronExpr,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		debounce: 500 * time.Millisecond, // Batch rapid file changes
	}, nil
}

// ParseCron parses a standard 5-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// WatchFile additionally triggers a batch when the given file is written.
func (s *Scheduler) WatchFile(path string) {
	s.watchPath = path
}

// NextRun returns the next scheduled run time
func (s *Scheduler) NextRun() time.Time {
	sched, err := s.parser.Parse(s.cronExpr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// ShouldRun returns true if a batch is due now
func (s *Scheduler) ShouldRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	sched, err := s.parser.Parse(s.cronExpr)
	if err != nil {
		return false
	}

	lastRun := s.lastRun
	if lastRun.IsZero() {
		lastRun = time.Now().Add(-24 * time.Hour)
	}

	return time.Now().After(sched.Next(lastRun))
}

func (s *Scheduler) markRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) markComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = time.Now()
}

// Start runs the scheduler loop until the context is cancelled. runFunc is
// invoked synchronously, so batches never overlap.
func (s *Scheduler) Start(ctx context.Context, runFunc func() error) error {
	fileChanged := make(chan struct{}, 1)

	if s.watchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Close()

		// Watch the containing directory; editors often replace the
		// file instead of writing it in place.
		if err := watcher.Add(filepath.Dir(s.watchPath)); err != nil {
			return fmt.Errorf("watch %s: %w", s.watchPath, err)
		}
		go s.forwardFileEvents(ctx, watcher, fileChanged)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.ShouldRun() {
				s.runOnce(runFunc)
			}
		case <-fileChanged:
			s.runOnce(runFunc)
		}
	}
}

func (s *Scheduler) runOnce(runFunc func() error) {
	if !s.markRunning() {
		return
	}
	defer s.markComplete()

	if err := runFunc(); err != nil {
		fmt.Printf("Scheduled batch failed: %v\n", err)
	}
}

// forwardFileEvents debounces write events on the watched file into a
// single trigger.
func (s *Scheduler) forwardFileEvents(ctx context.Context, watcher *fsnotify.Watcher, trigger chan<- struct{}) {
	var timer *time.Timer

	fire := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.watchPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, fire)
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Keep watching through transient errors
		}
	}
}
