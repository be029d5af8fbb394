package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CaptureConfig controls live capture.
type CaptureConfig struct {
	Debounce       time.Duration `mapstructure:"debounce"`
	All            bool          `mapstructure:"all"`
	Gitignore      bool          `mapstructure:"gitignore"`
	Worktrees      bool          `mapstructure:"worktrees"`
	Ignore         []string      `mapstructure:"ignore"`
	Exclude        []string      `mapstructure:"exclude"`
	MaxContentSize string        `mapstructure:"max_content_size"`
	QueueSize      int           `mapstructure:"queue_size"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

// RecordConfig controls where and how sessions are persisted.
type RecordConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Dir           string        `mapstructure:"dir"`
	Content       bool          `mapstructure:"content"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type ReplayConfig struct {
	Speed float64 `mapstructure:"speed"`
}

type HistoryConfig struct {
	// Interval is the synthetic time between commits, in seconds.
	Interval    float64 `mapstructure:"interval"`
	CommitTimes bool    `mapstructure:"commit_times"`
	Content     bool    `mapstructure:"content"`
}

type ShareConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	WarnSize string `mapstructure:"warn_size"`
}

type TUIConfig struct {
	Refresh  time.Duration `mapstructure:"refresh"`
	MaxDepth int           `mapstructure:"max_depth"`
	MaxFiles int           `mapstructure:"max_files"`
	Stats    bool          `mapstructure:"stats"`
}

type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

type CatalogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Config is the complete application configuration.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Record  RecordConfig  `mapstructure:"record"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	History HistoryConfig `mapstructure:"history"`
	Share   ShareConfig   `mapstructure:"share"`
	TUI     TUIConfig     `mapstructure:"tui"`
	Logging LoggingConfig `mapstructure:"logging"`
	Catalog CatalogConfig `mapstructure:"catalog"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("capture.debounce", DefaultDebounce)
	v.SetDefault("capture.all", false)
	v.SetDefault("capture.gitignore", true)
	v.SetDefault("capture.worktrees", true)
	v.SetDefault("capture.ignore", []string{})
	v.SetDefault("capture.exclude", []string{})
	v.SetDefault("capture.max_content_size", DefaultMaxContentSize)
	v.SetDefault("capture.queue_size", DefaultQueueSize)
	v.SetDefault("capture.retry_attempts", DefaultRetryAttempts)
	v.SetDefault("capture.retry_backoff", DefaultRetryBackoff)

	v.SetDefault("record.enabled", true)
	v.SetDefault("record.dir", DefaultRecordingsDir())
	v.SetDefault("record.content", false)
	v.SetDefault("record.flush_interval", DefaultFlushInterval)

	v.SetDefault("replay.speed", DefaultReplaySpeed)

	v.SetDefault("history.interval", DefaultHistoryStep)
	v.SetDefault("history.commit_times", false)
	v.SetDefault("history.content", false)

	v.SetDefault("share.base_url", "")
	v.SetDefault("share.warn_size", DefaultShareWarnSize)

	v.SetDefault("tui.refresh", DefaultRefresh)
	v.SetDefault("tui.max_depth", 0)
	v.SetDefault("tui.max_files", 0)
	v.SetDefault("tui.stats", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MiB")
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.components", map[string]string{})

	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.path", DefaultCatalogPath())
}

// Configure points v at the standard config locations and environment.
// An explicit file takes precedence over the search path.
func Configure(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "rewind"))
		}
	}
	v.SetEnvPrefix("REWIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Read reads the configured file into v. A missing file is not an error.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// FromViper decodes v into a Config and expands ~ in paths.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Record.Dir = expandHome(cfg.Record.Dir)
	cfg.Catalog.Path = expandHome(cfg.Catalog.Path)
	cfg.Logging.Path = expandHome(cfg.Logging.Path)
	return &cfg, nil
}

// Load reads configuration from file (or the standard locations when empty)
// and the environment.
func Load(file string) (*Config, error) {
	v := viper.New()
	Configure(v, file)
	if err := Read(v); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// ConfigDir returns $XDG_CONFIG_HOME/rewind, or ~/.config/rewind.
func ConfigDir() (string, error) {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, "rewind"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "rewind"), nil
}

// DefaultConfigPath returns the config.yaml path in ConfigDir.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefault writes a commented default config to path unless a file is
// already there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to check config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultFile()), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

func defaultFile() string {
	return fmt.Sprintf(`# rewind configuration

capture:
  # Quiet period that coalesces bursts of filesystem notifications.
  debounce: %s
  # Include hidden files and directories.
  all: false
  # Honour .gitignore files under each root.
  gitignore: true
  # Watch linked git worktrees alongside the main root.
  worktrees: true
  # Extra gitignore-style patterns.
  ignore: []
  # Glob patterns matched against relative paths.
  exclude: []
  max_content_size: %s

record:
  enabled: true
  dir: %s
  # Embed text file contents in recordings.
  content: false

replay:
  speed: %g

history:
  # Seconds of synthetic time per commit.
  interval: %g
  commit_times: false

share:
  base_url: ""

tui:
  refresh: %s
  max_depth: 0
  max_files: 0
  stats: true

logging:
  level: info
  path: ""
`, DefaultDebounce, DefaultMaxContentSize, DefaultRecordingsDir(), DefaultReplaySpeed, DefaultHistoryStep, DefaultRefresh)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
