package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jamesainslie/rewind/cmd/rewind/tui"
	"github.com/jamesainslie/rewind/pkg/rewind/broadcaster"
	"github.com/jamesainslie/rewind/pkg/rewind/config"
	"github.com/jamesainslie/rewind/pkg/rewind/lock"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/session"
	"github.com/jamesainslie/rewind/pkg/rewind/stats"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch a directory and record its changes",
	Long: `Watch a directory tree and record every change until interrupted.

Linked git worktrees are watched alongside the main directory unless
--no-worktrees is given. Paths ignored by .gitignore and hidden paths are
skipped unless --no-gitignore or --all is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

// watchFlagKeys maps watch flags to config keys.
var watchFlagKeys = map[string]string{
	"all":       "capture.all",
	"content":   "record.content",
	"debounce":  "capture.debounce",
	"ignore":    "capture.ignore",
	"exclude":   "capture.exclude",
	"max-depth": "tui.max_depth",
	"max-files": "tui.max_files",
}

// watchNegations maps --no-* flags to the config keys they switch off.
var watchNegations = map[string]string{
	"no-gitignore": "capture.gitignore",
	"no-worktrees": "capture.worktrees",
	"no-record":    "record.enabled",
	"no-stats":     "tui.stats",
}

func init() {
	addWatchFlags(watchCmd.Flags())
	rootCmd.AddCommand(watchCmd)
}

func addWatchFlags(flags *pflag.FlagSet) {
	flags.BoolP("all", "a", false, "include hidden files and directories")
	flags.Bool("no-gitignore", false, "do not honour .gitignore files")
	flags.Bool("no-worktrees", false, "do not watch linked git worktrees")
	flags.BoolP("content", "c", false, "embed text file contents in the recording")
	flags.Bool("no-record", false, "do not write a recording")
	flags.StringP("record", "r", "", "write the recording to FILE")
	flags.Duration("debounce", config.DefaultDebounce, "quiet period that coalesces bursts of changes")
	flags.StringSlice("ignore", nil, "extra gitignore-style patterns")
	flags.StringSliceP("exclude", "e", nil, "glob patterns to exclude")
	flags.Bool("no-stats", false, "hide the statistics panel")
	flags.Int("max-depth", 0, "limit tree depth (0 = unlimited)")
	flags.Int("max-files", 0, "limit files shown per directory (0 = unlimited)")
	flags.Bool("plain", false, "print events as lines instead of the TUI")
}

// runWatch is the watch command handler and the root default.
func runWatch(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	setFlags(flags, watchFlagKeys, watchNegations)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	plain, _ := flags.GetBool("plain")
	if err := initLogging(cfg, !plain); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	recordFlag, _ := flags.GetString("record")
	scfg, err := sessionConfig(cfg, root, recordFlag, time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	s, err := session.New(ctx, scfg)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("another rewind session is watching %s: %w", root, err)
		}
		return err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}
	printVerbose("Watching %d root(s), recording to %q", len(s.Roots()), scfg.RecordPath)

	var viewErr error
	if plain {
		viewErr = streamPlain(ctx, s, cmd.OutOrStdout(), cfg.TUI.Refresh)
	} else {
		viewErr = tui.Run(ctx, tui.NewLive(s), tuiOptions(cfg))
	}
	s.Stop()

	rec, err := s.Wait()
	if err = errors.Join(viewErr, err); err != nil && rec == nil {
		return err
	}
	if scfg.RecordPath != "" {
		id := register(cfg, scfg.RecordPath, rec)
		printInfo("Recorded %d events in %s to %s", len(rec.Events), stats.FormatDuration(rec.End()), scfg.RecordPath)
		if id != "" {
			printVerbose("Catalog ID %s", id)
		}
	}
	return err
}

// sessionConfig turns configuration into a session.Config for root.
func sessionConfig(cfg *config.Config, root, recordFlag string, now time.Time) (session.Config, error) {
	maxContent, err := humanize.ParseBytes(cfg.Capture.MaxContentSize)
	if err != nil {
		return session.Config{}, fmt.Errorf("invalid capture.max_content_size %q: %w", cfg.Capture.MaxContentSize, err)
	}

	scfg := session.Config{
		Root:           root,
		All:            cfg.Capture.All,
		Gitignore:      cfg.Capture.Gitignore,
		Worktrees:      cfg.Capture.Worktrees,
		Ignore:         cfg.Capture.Ignore,
		Exclude:        cfg.Capture.Exclude,
		IncludeContent: cfg.Record.Content,
		MaxContentSize: int64(maxContent),
		Debounce:       cfg.Capture.Debounce,
		FlushInterval:  cfg.Record.FlushInterval,
		QueueSize:      cfg.Capture.QueueSize,
		RetryAttempts:  cfg.Capture.RetryAttempts,
		RetryBackoff:   cfg.Capture.RetryBackoff,
		LockDir:        config.DefaultLockDir(),
	}

	switch {
	case recordFlag != "":
		scfg.RecordPath = canonicalPath(recordFlag)
	case cfg.Record.Enabled:
		if err := os.MkdirAll(cfg.Record.Dir, 0o755); err != nil {
			return session.Config{}, fmt.Errorf("failed to create recordings directory: %w", err)
		}
		scfg.RecordPath = filepath.Join(canonicalPath(cfg.Record.Dir), recordingName(root, now))
	}
	// The recording must never observe itself.
	if scfg.RecordPath != "" {
		scfg.SkipDirs = append(scfg.SkipDirs, scfg.RecordPath)
	}
	if cfg.Record.Dir != "" {
		scfg.SkipDirs = append(scfg.SkipDirs, cfg.Record.Dir)
	}
	return scfg, nil
}

func tuiOptions(cfg *config.Config) tui.Options {
	return tui.Options{
		Refresh:   cfg.TUI.Refresh,
		MaxDepth:  cfg.TUI.MaxDepth,
		MaxFiles:  cfg.TUI.MaxFiles,
		ShowStats: cfg.TUI.Stats,
	}
}

// liveStream is the part of a session plain output reads from.
type liveStream interface {
	Subscribe(initial bool) *broadcaster.Subscriber
	Unsubscribe(id string)
	Frame() session.Frame
}

// streamPlain prints each event as a line until the session has published
// its last batch. Cancelling ctx does not stop it: the final flush of a
// draining session arrives after that.
func streamPlain(ctx context.Context, s liveStream, w io.Writer, refresh time.Duration) error {
	sub := s.Subscribe(false)
	if sub == nil {
		return nil
	}
	defer s.Unsubscribe(sub.ID)

	if refresh <= 0 {
		refresh = config.DefaultRefresh
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	printWarnings := func() {
		for _, warn := range s.Frame().Warnings {
			fmt.Fprintf(w, "warning: %v\n", warn)
		}
	}
	done := ctx.Done()
	for {
		select {
		case <-done:
			logging.Get("watch").Debug("interrupted, waiting for final batch")
			done = nil
		case b, ok := <-sub.Batches:
			if !ok {
				printWarnings()
				return nil
			}
			for _, ev := range b.Events {
				fmt.Fprintln(w, eventLine(ev))
			}
		case <-ticker.C:
			printWarnings()
		}
	}
}

// eventLine renders one event for plain output.
func eventLine(ev types.Event) string {
	path := ev.Path
	if ev.Root != "" {
		path = ev.Root + ":" + path
	}
	if ev.IsDir {
		path += "/"
	}
	line := fmt.Sprintf("%9.3fs  %-8s  %s", ev.Timestamp, ev.Kind, path)
	if !ev.IsDir && ev.Kind != types.Deleted {
		line += "  " + humanize.IBytes(uint64(max(ev.Size, 0)))
		if ev.Lines > 0 {
			line += fmt.Sprintf(", %d loc", ev.Lines)
		}
	}
	return line
}
