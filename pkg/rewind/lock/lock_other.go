//go:build !unix

package lock

import (
	"errors"
	"os"

	"github.com/jamesainslie/rewind/pkg/rewind/logging"
)

// acquire creates the lock as an exclusive pid file. A file left behind by
// a dead process is removed and the create retried once.
func acquire(path string) (*os.File, error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if err := writePID(f); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, err
			}
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) || attempt > 0 {
			if errors.Is(err, os.ErrExist) {
				return nil, lockedError(path)
			}
			return nil, err
		}

		pid, perr := ReadPID(path)
		if perr == nil && processRunning(pid) {
			return nil, lockedError(path)
		}
		logging.Get("session").Warn("removing stale root lock", "path", path, "stale_pid", pid)
		_ = os.Remove(path)
	}
}

func release(path string, f *os.File) error {
	err := f.Close()
	if rerr := os.Remove(path); err == nil && !errors.Is(rerr, os.ErrNotExist) {
		err = rerr
	}
	return err
}

func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
