// Package lock gives a capture session exclusive ownership of its root set.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jamesainslie/rewind/pkg/rewind/logging"
)

// ErrLocked is returned when another live process holds the root set.
var ErrLocked = errors.New("roots are already being captured")

// Lock is a held root-set lock.
type Lock struct {
	path  string
	file  *os.File
	roots []string
}

// Name returns the lock file name for a root set. The order of roots does
// not matter.
func Name(roots []string) (string, error) {
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return "", err
		}
		abs = append(abs, filepath.Clean(a))
	}
	slices.Sort(abs)
	abs = slices.Compact(abs)
	sum := sha256.Sum256([]byte(strings.Join(abs, "\n")))
	return "rewind-" + hex.EncodeToString(sum[:8]) + ".lock", nil
}

// Acquire takes the lock for roots inside dir. It returns an error wrapping
// ErrLocked when a live process already owns them.
func Acquire(dir string, roots []string) (*Lock, error) {
	if len(roots) == 0 {
		return nil, errors.New("lock: no roots")
	}
	name, err := Name(roots)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := acquire(path)
	if err != nil {
		return nil, err
	}
	logging.Get("session").Debug("acquired root lock", "path", path, "roots", len(roots))
	return &Lock{path: path, file: f, roots: slices.Clone(roots)}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release gives the lock up. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := release(l.path, l.file)
	l.file = nil
	return err
}

// ReadPID reads the owner pid recorded in a lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}

func lockedError(path string) error {
	if pid, err := ReadPID(path); err == nil && pid > 0 {
		return fmt.Errorf("%w (pid %d)", ErrLocked, pid)
	}
	return ErrLocked
}
