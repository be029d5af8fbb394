package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/rewind/pkg/rewind/history"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
	"github.com/jamesainslie/rewind/pkg/rewind/vcs"
)

var historyCmd = &cobra.Command{
	Use:   "history RANGE [repo]",
	Short: "Synthesize a recording from git history",
	Long: `Synthesize a recording from a range of git commits.

RANGE is "A..B", "A.." (up to HEAD) or a single commit. The initial state is
the tree of the base commit and every later commit contributes the changes
that turn the previous tree into its own, one commit per interval.

Examples:
  rewind history HEAD~10..HEAD
  rewind history v1.0.. ~/src/app --commit-times -o release.jsonl`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runHistory,
}

var historyFlagKeys = map[string]string{
	"content":      "history.content",
	"interval":     "history.interval",
	"commit-times": "history.commit_times",
}

func init() {
	historyCmd.Flags().BoolP("content", "c", false, "embed text file contents")
	historyCmd.Flags().Float64("interval", 1, "seconds of replay time per commit")
	historyCmd.Flags().Bool("commit-times", false, "space commits by their commit times instead of --interval")
	historyCmd.Flags().StringP("output", "o", "", "recording file to write (default: a new file in the recordings directory)")
	rootCmd.AddCommand(historyCmd)
}

// runHistory synthesizes and writes a recording.
func runHistory(cmd *cobra.Command, args []string) error {
	setFlags(cmd.Flags(), historyFlagKeys, nil)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := initLogging(cfg, false); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	repo := "."
	if len(args) > 1 {
		repo = args[1]
	}
	repo, err = filepath.Abs(repo)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	maxContent, err := humanize.ParseBytes(cfg.Capture.MaxContentSize)
	if err != nil {
		return fmt.Errorf("invalid capture.max_content_size %q: %w", cfg.Capture.MaxContentSize, err)
	}

	ctx, stop := signalContext()
	defer stop()

	rec, err := history.Synthesize(ctx, vcs.NewGit(repo, nil), args[0], history.Options{
		Interval:       cfg.History.Interval,
		CommitTimes:    cfg.History.CommitTimes,
		IncludeContent: cfg.History.Content,
		MaxContentSize: int64(maxContent),
	})
	if err != nil {
		return err
	}
	if top, err := vcs.TopLevel(ctx, nil, repo); err == nil {
		repo = top
	}
	rec.Roots = []types.Root{{Path: repo, Label: filepath.Base(repo)}}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		if err := os.MkdirAll(cfg.Record.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create recordings directory: %w", err)
		}
		name := filepath.Base(repo) + "-" + sanitizeRange(args[0])
		out = filepath.Join(cfg.Record.Dir, recordingName(name, time.Now()))
	}
	if err := recording.WriteFile(out, rec, recording.FormatLines); err != nil {
		return err
	}
	out = canonicalPath(out)
	register(cfg, out, rec)
	printInfo("Synthesized %d events from %s to %s", len(rec.Events), args[0], out)
	return nil
}

// sanitizeRange makes a commit range usable in a file name.
func sanitizeRange(spec string) string {
	r := strings.NewReplacer("..", "_", "/", "-", "~", "-", "^", "-", ":", "-", " ", "")
	return r.Replace(spec)
}
