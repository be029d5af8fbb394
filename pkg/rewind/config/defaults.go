// Package config loads rewind settings from config.yaml, REWIND_* environment
// variables and command-line flags through viper.
package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	DefaultDebounce       = 100 * time.Millisecond
	DefaultQueueSize      = 4096
	DefaultRetryAttempts  = 5
	DefaultRetryBackoff   = 200 * time.Millisecond
	DefaultMaxContentSize = "100KiB"
	DefaultFlushInterval  = 500 * time.Millisecond
	DefaultReplaySpeed    = 1.0
	DefaultHistoryStep    = 1.0
	DefaultShareWarnSize  = "100KiB"
	DefaultRefresh        = 250 * time.Millisecond
)

// DefaultRecordingsDir is where recordings are written unless configured.
func DefaultRecordingsDir() string {
	return filepath.Join(xdg.DataHome, "rewind", "recordings")
}

// DefaultCatalogPath is the badger directory indexing recordings.
func DefaultCatalogPath() string {
	return filepath.Join(xdg.DataHome, "rewind", "catalog")
}

// DefaultLockDir holds per-root-set session locks.
func DefaultLockDir() string {
	return filepath.Join(xdg.StateHome, "rewind", "locks")
}
