package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/obentoo/plugsync/internal/autoupdate"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/common/output"
)

var (
	// watchInterval is the period of the scheduled tick
	watchInterval time.Duration
	// watchDebounce delays a tick until the repository stops changing
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run scheduled checks and sweeps until interrupted",
	Long: `Run a reconciliation sweep and the scheduled update check on a fixed
interval and whenever the repository changes. The check itself honours
auto_check, check_frequency and auto_update.

Examples:
  plugsync watch                    Tick every 5 minutes
  plugsync watch --interval 1h      Tick every hour
  plugsync watch --debounce 10s     Wait for 10s of quiet after repository changes`,
	Run: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Minute, "Interval between scheduled ticks")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "Quiet period after repository changes")
	rootCmd.AddCommand(watchCmd)
}

// scheduler is the part of the service a watch loop drives.
type scheduler interface {
	SyncCache(ctx context.Context) autoupdate.SyncResult
	AutoCheck(ctx context.Context) (*autoupdate.AutoCheckResult, error)
}

func runWatch(cmd *cobra.Command, args []string) {
	a := mustLoadApp()
	defer a.Close()
	ctx := cmd.Context()

	loop := &watchLoop{svc: a.svc, log: a.log, debounce: watchDebounce}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if repo, err := a.cfg.ValidatedRepoPath(afero.NewOsFs()); err == nil {
		watcher, err := watchRepository(repo)
		if err != nil {
			logger.Warn("repository changes will not be watched: %v", err)
		} else {
			defer watcher.Close()
			events, errs = watcher.Events, watcher.Errors
			loop.watch = func(path string) { _ = watcher.Add(path) }
		}
	} else {
		logger.Warn("repository changes will not be watched: %v", err)
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	output.PrintInfo("watching, tick every %s (Ctrl+C to stop)", watchInterval)
	loop.tick(ctx)
	loop.run(ctx, events, errs, ticker.C)
}

// watchRepository watches the repository root and its package directories.
func watchRepository(repo string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(repo); err != nil {
		watcher.Close()
		return nil, err
	}

	entries, err := os.ReadDir(repo)
	if err != nil {
		return watcher, nil
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(repo, e.Name()))
		}
	}
	return watcher, nil
}

// watchLoop runs a tick on every timer fire and once per burst of
// repository events.
type watchLoop struct {
	svc      scheduler
	log      *logger.Logger
	debounce time.Duration
	// watch adds newly created directories to the watcher; may be nil
	watch func(path string)
}

func (l *watchLoop) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, ticks <-chan time.Time) {
	var pending *time.Timer
	var fire <-chan time.Time
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			l.tick(ctx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			l.log.Debug("repository changed: %s", event)
			if event.Has(fsnotify.Create) && l.watch != nil {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					l.watch(event.Name)
				}
			}
			if pending == nil {
				pending = time.NewTimer(l.debounce)
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(l.debounce)
			}
			fire = pending.C
		case <-fire:
			fire = nil
			l.tick(ctx)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.log.Warn("watcher error: %v", err)
		}
	}
}

// tick runs one sweep and one scheduled check.
func (l *watchLoop) tick(ctx context.Context) {
	if res := l.svc.SyncCache(ctx); res.RefreshNeeded {
		l.log.Info("removed recently updated plugins from the update index")
	}

	res, err := l.svc.AutoCheck(ctx)
	if err != nil {
		l.log.Error("scheduled check: %v", err)
	}
	if res == nil {
		return
	}
	if res.Skipped {
		l.log.Debug("scheduled check skipped: %s", res.Reason)
		return
	}
	for _, o := range res.Applied {
		if o.Success {
			l.log.Info("%s updated to %s", o.Package, o.Version)
		}
	}
	l.log.Info("%d update(s) available", len(res.Updates))
}
