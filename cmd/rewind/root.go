package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jamesainslie/rewind/pkg/rewind/config"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "rewind [path]",
		Short: "Record and replay how a directory tree changes",
		Long: `Rewind watches a directory while you work, records every file that is
created, modified or deleted, and replays the recording later.

Without a subcommand rewind watches the given directory (default: the current
one) in an interactive view and records the session.

Examples:
  rewind                         # Watch the current directory
  rewind watch ~/src/app --plain # Print events instead of the TUI
  rewind replay session.jsonl    # Replay a recording
  rewind share session.jsonl     # Turn a recording into a share token
  rewind history HEAD~20..HEAD   # Synthesize a recording from git
  rewind list                    # Show recorded sessions`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runWatch,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/rewind/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output on stderr")
	rootCmd.PersistentFlags().String("log-level", "", "log file level (debug, info, warn, error)")

	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	addWatchFlags(rootCmd.Flags())
}

// initConfig reads in the config file and environment variables.
func initConfig() {
	v := viper.GetViper()
	config.Configure(v, cfgFile)
	if err := config.Read(v); err != nil {
		printError("%v", err)
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError("%v", err)
	}
	return err
}

// loadConfig decodes the merged flags, environment and file settings.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}

// setFlags copies changed flags into viper under their config keys. Flags
// named in negated are stored inverted.
func setFlags(flags *pflag.FlagSet, keys map[string]string, negated map[string]string) {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "stringSlice":
			v, _ := flags.GetStringSlice(name)
			viper.Set(key, v)
		case "bool":
			v, _ := flags.GetBool(name)
			viper.Set(key, v)
		case "int":
			v, _ := flags.GetInt(name)
			viper.Set(key, v)
		case "float64":
			v, _ := flags.GetFloat64(name)
			viper.Set(key, v)
		case "duration":
			v, _ := flags.GetDuration(name)
			viper.Set(key, v)
		default:
			viper.Set(key, f.Value.String())
		}
	}
	for name, key := range negated {
		if on, err := flags.GetBool(name); err == nil && flags.Changed(name) && on {
			viper.Set(key, false)
		}
	}
}

// initLogging starts the file logger. In TUI mode warnings are kept for the
// view instead of going to stderr.
func initLogging(cfg *config.Config, tuiMode bool) error {
	rotation := logging.DefaultRotationConfig()
	if cfg.Logging.Rotation.MaxSize != "" {
		size, err := humanize.ParseBytes(cfg.Logging.Rotation.MaxSize)
		if err != nil {
			return fmt.Errorf("invalid logging.rotation.max_size %q: %w", cfg.Logging.Rotation.MaxSize, err)
		}
		rotation.MaxSize = int64(size)
	}
	if cfg.Logging.Rotation.MaxBackups > 0 {
		rotation.MaxBackups = cfg.Logging.Rotation.MaxBackups
	}

	console := "warn"
	switch {
	case getQuiet():
		console = "error"
	case getVerbose():
		console = "debug"
	}

	return logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Path:         cfg.Logging.Path,
		Rotation:     rotation,
		Components:   cfg.Logging.Components,
		ConsoleLevel: console,
		TUIMode:      tuiMode,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
