package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/rewind/cmd/rewind/tui"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/replay"
	"github.com/jamesainslie/rewind/pkg/rewind/tree"
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE|ID|TOKEN",
	Short: "Replay a recording",
	Long: `Replay a recording from a file, a catalog ID, a share token or a share URL.

Keys in the interactive view:
  space    play / pause
  ← →      step backward / forward
  + -      change speed
  0        rewind to the start
  q        quit

Use --at to print the tree as it was at a point in time instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var replayFlagKeys = map[string]string{
	"speed":     "replay.speed",
	"max-depth": "tui.max_depth",
	"max-files": "tui.max_files",
}

func init() {
	replayCmd.Flags().Float64P("speed", "s", 1, "playback speed multiplier (inf = no waiting)")
	replayCmd.Flags().String("at", "", "print the tree at a time (seconds, a duration such as 1m30s, or end)")
	replayCmd.Flags().Bool("plain", false, "print events as lines instead of the TUI")
	replayCmd.Flags().Int("max-depth", 0, "limit tree depth (0 = unlimited)")
	replayCmd.Flags().Int("max-files", 0, "limit files shown per directory (0 = unlimited)")
	rootCmd.AddCommand(replayCmd)
}

// runReplay replays one recording.
func runReplay(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	setFlags(flags, replayFlagKeys, nil)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	plain, _ := flags.GetBool("plain")
	at, _ := flags.GetString("at")
	interactive := !plain && at == ""
	if err := initLogging(cfg, interactive); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	rec, _, err := resolveRecording(cfg, args[0])
	if err != nil {
		return err
	}
	engine, err := replay.New(rec)
	if err != nil {
		return err
	}

	if at != "" {
		t, err := parseAt(at, engine.Duration())
		if err != nil {
			return err
		}
		main, labels := rootLabels(rec)
		opts := tree.Options{MaxDepth: cfg.TUI.MaxDepth, MaxFiles: cfg.TUI.MaxFiles, Root: main, Labels: labels}
		return printTreeAt(cmd.OutOrStdout(), engine, t, opts)
	}

	ctx, stop := signalContext()
	defer stop()

	speed := cfg.Replay.Speed
	if plain {
		err := engine.Play(ctx, speed, func(f replay.Frame) error {
			if f.Event != nil {
				fmt.Fprintln(cmd.OutOrStdout(), eventLine(*f.Event))
			}
			return nil
		})
		if errors.Is(err, replay.ErrEnd) || ctx.Err() != nil {
			return nil
		}
		return err
	}
	return tui.Run(ctx, tui.NewReplay(engine, speed), tuiOptions(cfg))
}

// parseAt reads a replay time: plain seconds, a Go duration, or "end".
func parseAt(s string, end float64) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "end") {
		return end, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) {
			return 0, fmt.Errorf("invalid time %q: must not be negative", s)
		}
		return secs, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid time %q: must not be negative", s)
	}
	return d.Seconds(), nil
}

// printTreeAt writes the tree at t with every change up to t marked.
func printTreeAt(w io.Writer, engine *replay.Engine, t float64, opts tree.Options) error {
	root := tree.Build(engine.At(t), opts)
	root.ApplyEvents(engine.EventsAt(t), engine.DeltasAt(t))
	for _, line := range root.Render(opts) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\nat %.3fs of %.3fs, %d events applied\n", t, engine.Duration(), len(engine.EventsAt(t)))
	return err
}

// rootLabels returns the display name of the main root and the labels of
// the others by ID.
func rootLabels(rec *recording.Recording) (string, map[string]string) {
	var main string
	labels := make(map[string]string, len(rec.Roots))
	for _, r := range rec.Roots {
		switch {
		case r.ID == "":
			main = r.Label
		case r.Label != "":
			labels[r.ID] = r.Label
		}
	}
	return main, labels
}
