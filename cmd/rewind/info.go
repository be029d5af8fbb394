package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/rewind/pkg/rewind/output"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
)

var infoCmd = &cobra.Command{
	Use:   "info FILE|ID|TOKEN",
	Short: "Show statistics for a recording",
	Long: `Show statistics for a recording: event counts, peak tree size, the most
common file types and an activity sparkline.

With --check the recording is also validated: timestamps must never
decrease, and every path must be created only while absent and modified or
deleted only while present.`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogued recordings",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var exportCmd = &cobra.Command{
	Use:   "export FILE|ID|TOKEN",
	Short: "Write a recording as a single JSON document",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	formats := strings.Join(output.Available(), ", ")
	infoCmd.Flags().StringP("format", "f", "pretty", "output format ("+formats+")")
	infoCmd.Flags().Bool("check", false, "validate ordering and path lifecycles")
	listCmd.Flags().StringP("format", "f", "pretty", "output format ("+formats+")")
	listCmd.Flags().Bool("prune", false, "forget recordings whose files are gone")
	exportCmd.Flags().StringP("output", "o", "", "file to write (required)")
	_ = exportCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
}

// runInfo prints the summary of one recording.
func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, path, err := resolveRecording(cfg, args[0])
	if err != nil {
		return err
	}

	summary := output.Summarize(path, rec)
	check, _ := cmd.Flags().GetBool("check")
	if check {
		summary.Problems = checkRecording(rec)
	}

	format, _ := cmd.Flags().GetString("format")
	if err := writeResult(cmd.OutOrStdout(), format, &output.Result{Recordings: []output.Summary{summary}}); err != nil {
		return err
	}
	if check && len(summary.Problems) > 0 {
		return fmt.Errorf("%d problem(s) found in %s", len(summary.Problems), args[0])
	}
	return nil
}

// checkRecording returns the lifecycle problems in rec.
func checkRecording(rec *recording.Recording) []string {
	if err := rec.Validate(); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// runList prints the catalog.
func runList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("the recording catalog is disabled (catalog.enabled: false)")
	}
	defer c.Close()

	result := &output.Result{}
	if prune, _ := cmd.Flags().GetBool("prune"); prune {
		n, err := c.Prune()
		if err != nil {
			return err
		}
		if n > 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("forgot %d missing recording(s)", n))
		}
	}

	metas, err := c.List()
	if err != nil {
		return err
	}
	for _, m := range metas {
		result.Recordings = append(result.Recordings, output.FromMeta(m))
	}

	format, _ := cmd.Flags().GetString("format")
	return writeResult(cmd.OutOrStdout(), format, result)
}

// runExport rewrites a recording as one JSON document.
func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, _, err := resolveRecording(cfg, args[0])
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("output")
	if err := recording.WriteFile(out, rec, recording.FormatDocument); err != nil {
		return err
	}
	printInfo("Exported %d events to %s", len(rec.Events), out)
	return nil
}

func writeResult(w io.Writer, format string, r *output.Result) error {
	formatter, err := output.Get(format)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
