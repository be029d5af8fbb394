package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesainslie/rewind/pkg/rewind/catalog"
	"github.com/jamesainslie/rewind/pkg/rewind/config"
	"github.com/jamesainslie/rewind/pkg/rewind/logging"
	"github.com/jamesainslie/rewind/pkg/rewind/recording"
	"github.com/jamesainslie/rewind/pkg/rewind/share"
)

// openCatalog opens the configured catalog, or returns nil when disabled.
func openCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if !cfg.Catalog.Enabled {
		return nil, nil
	}
	c, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return c, nil
}

// register adds the recording at path to the catalog. A catalog failure is
// logged and never fails the command.
func register(cfg *config.Config, path string, rec *recording.Recording) string {
	log := logging.Get("cli")
	c, err := openCatalog(cfg)
	if err != nil || c == nil {
		if err != nil {
			log.Warn("recording not catalogued", "path", path, "error", err)
		}
		return ""
	}
	defer c.Close()

	id, err := c.Put(catalog.MetaFor(path, rec))
	if err != nil {
		log.Warn("recording not catalogued", "path", path, "error", err)
		return ""
	}
	log.Debug("recording catalogued", "id", id, "path", path)
	return id
}

// resolveRecording loads a recording named by a file path, a catalog ID or
// a share token or URL, in that order. It returns the file path when the
// recording came from disk.
func resolveRecording(cfg *config.Config, arg string) (*recording.Recording, string, error) {
	if _, err := os.Stat(arg); err == nil {
		rec, err := recording.LoadFile(arg)
		if err != nil {
			return nil, "", err
		}
		return rec, arg, nil
	}

	if c, err := openCatalog(cfg); err == nil && c != nil {
		meta, getErr := c.Get(arg)
		c.Close()
		if getErr == nil {
			rec, err := recording.LoadFile(meta.Path)
			if err != nil {
				return nil, "", err
			}
			return rec, meta.Path, nil
		}
		if !errors.Is(getErr, catalog.ErrNotFound) {
			return nil, "", getErr
		}
	}

	rec, err := share.Decode(arg)
	if err != nil {
		return nil, "", fmt.Errorf("%s is not a file, catalog ID or share token: %w", arg, err)
	}
	return rec, "", nil
}

// recordingName names a new recording of root started at t.
func recordingName(root string, t time.Time) string {
	base := filepath.Base(root)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "root"
	}
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("%s-%s.jsonl", base, t.Format("20060102-150405"))
}

// canonicalPath resolves symlinks in the directory part of p, which need
// not exist yet.
func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	dir, file := filepath.Split(abs)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, file)
	}
	return abs
}
