package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/rewind/pkg/rewind/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage rewind configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/rewind/config.yaml (if set)
  2. ~/.config/rewind/config.yaml

Environment variables override config file settings using the REWIND_ prefix:
  REWIND_CAPTURE_DEBOUNCE=250ms
  REWIND_RECORD_CONTENT=true
  REWIND_REPLAY_SPEED=4`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration merged from all sources.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// configPath is the --config file, or the default location.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// runConfigShow prints the effective configuration as YAML.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# config file: (using defaults, no file found)")
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(showable(cfg)); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}

// showable converts cfg to plain maps keyed like the config file.
func showable(cfg *config.Config) map[string]any {
	return map[string]any{
		"capture": map[string]any{
			"debounce":         cfg.Capture.Debounce.String(),
			"all":              cfg.Capture.All,
			"gitignore":        cfg.Capture.Gitignore,
			"worktrees":        cfg.Capture.Worktrees,
			"ignore":           cfg.Capture.Ignore,
			"exclude":          cfg.Capture.Exclude,
			"max_content_size": cfg.Capture.MaxContentSize,
			"queue_size":       cfg.Capture.QueueSize,
			"retry_attempts":   cfg.Capture.RetryAttempts,
			"retry_backoff":    cfg.Capture.RetryBackoff.String(),
		},
		"record": map[string]any{
			"enabled":        cfg.Record.Enabled,
			"dir":            cfg.Record.Dir,
			"content":        cfg.Record.Content,
			"flush_interval": cfg.Record.FlushInterval.String(),
		},
		"replay":  map[string]any{"speed": cfg.Replay.Speed},
		"history": map[string]any{"interval": cfg.History.Interval, "commit_times": cfg.History.CommitTimes, "content": cfg.History.Content},
		"share":   map[string]any{"base_url": cfg.Share.BaseURL, "warn_size": cfg.Share.WarnSize},
		"tui": map[string]any{
			"refresh":   cfg.TUI.Refresh.String(),
			"max_depth": cfg.TUI.MaxDepth,
			"max_files": cfg.TUI.MaxFiles,
			"stats":     cfg.TUI.Stats,
		},
		"logging": map[string]any{
			"level":      cfg.Logging.Level,
			"path":       cfg.Logging.Path,
			"rotation":   map[string]any{"max_size": cfg.Logging.Rotation.MaxSize, "max_backups": cfg.Logging.Rotation.MaxBackups},
			"components": cfg.Logging.Components,
		},
		"catalog": map[string]any{"enabled": cfg.Catalog.Enabled, "path": cfg.Catalog.Path},
	}
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, _ []string) error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	wrote, err := config.WriteDefault(path)
	if err != nil {
		return err
	}
	if !wrote {
		printInfo("Config file already exists: %s", path)
		return nil
	}
	printInfo("Created default config file: %s", path)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, _ []string) error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)

	if _, err := os.Stat(path); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
