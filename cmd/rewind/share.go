package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/share"
)

var shareCmd = &cobra.Command{
	Use:   "share FILE|ID",
	Short: "Encode a recording as a share token",
	Long: `Encode a recording as a compact, URL-safe token.

With --base-url (or share.base_url in the config) a full URL ending in
#data=<token> is printed instead. Use 'rewind load' or 'rewind replay' on the
receiving side.`,
	Args: cobra.ExactArgs(1),
	RunE: runShare,
}

var loadCmd = &cobra.Command{
	Use:   "load TOKEN|URL",
	Short: "Decode a share token into a recording file",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func init() {
	shareCmd.Flags().Bool("strip-content", false, "drop embedded file contents")
	shareCmd.Flags().String("base-url", "", "print a URL with the token in its fragment")
	loadCmd.Flags().StringP("output", "o", "", "recording file to write (default: a new file in the recordings directory)")
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(loadCmd)
}

// runShare prints the token or URL for a recording.
func runShare(cmd *cobra.Command, args []string) error {
	setFlags(cmd.Flags(), map[string]string{"base-url": "share.base_url"}, nil)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, _, err := resolveRecording(cfg, args[0])
	if err != nil {
		return err
	}

	var opts []share.Option
	if strip, _ := cmd.Flags().GetBool("strip-content"); strip {
		opts = append(opts, share.WithoutContent())
	}
	token, err := share.Encode(rec, opts...)
	if err != nil {
		return err
	}

	if limit, err := humanize.ParseBytes(cfg.Share.WarnSize); err == nil && limit > 0 && uint64(len(token)) > limit {
		hint := ""
		if rec.HasContent() {
			hint = "; --strip-content drops file contents"
		}
		printInfo("Token is %s%s", humanize.IBytes(uint64(len(token))), hint)
	}

	if cfg.Share.BaseURL != "" {
		token = share.URL(cfg.Share.BaseURL, token)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// runLoad decodes a token and writes it as a recording file.
func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, err := share.Decode(args[0])
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		if err := os.MkdirAll(cfg.Record.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create recordings directory: %w", err)
		}
		out = filepath.Join(cfg.Record.Dir, recordingName("shared", time.Now()))
	}
	if err := recording.WriteFile(out, rec, recording.FormatLines); err != nil {
		return err
	}
	out = canonicalPath(out)
	register(cfg, out, rec)
	printInfo("Loaded %d events to %s", len(rec.Events), out)
	return nil
}
