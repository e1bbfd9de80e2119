package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/pagehaul/pagehaul/internal/logger"
)

const (
	// LockFilename marks a run in progress in the working directory.
	LockFilename = "pagehaul-run.lock"

	// lockFileMode keeps the lock file private to the user.
	lockFileMode = 0o600

	// lockAttempts bounds reclaim-and-retry cycles.
	lockAttempts = 2
)

// errPipelineRunning is returned when another run holds the lock.
var errPipelineRunning = errors.New("another pagehaul run is already in progress")

// runLock is a held marker-file lock.
type runLock struct {
	// path is the location of the marker file.
	path string
}

// acquireLock takes the marker-file lock in dir. A marker left by a dead
// process is reclaimed.
func acquireLock(ctx context.Context, dir string) (*runLock, error) {
	path := filepath.Join(dir, LockFilename)

	for attempt := 0; attempt < lockAttempts; attempt++ {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFileMode)
		if err == nil {
			_, writeErr := file.WriteString(strconv.Itoa(os.Getpid()))
			if closeErr := file.Close(); writeErr == nil {
				writeErr = closeErr
			}

			if writeErr != nil {
				_ = os.Remove(path)

				return nil, fmt.Errorf("write run lock: %w", writeErr)
			}

			return &runLock{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create run lock: %w", err)
		}

		if !lockIsStale(path) {
			return nil, errPipelineRunning
		}

		logger.WarnKV(ctx, "Reclaiming stale run lock", "path", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale run lock: %w", err)
		}
	}

	return nil, errPipelineRunning
}

// release removes the marker file.
func (l *runLock) release() {
	_ = os.Remove(l.path)
}

// lockIsStale reports whether the marker's owning process is gone.
func lockIsStale(path string) bool {
	contents, err := os.ReadFile(path)
	if err != nil {
		// Unreadable marker, assume the owner died mid-write.
		return true
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return true
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		// Unable to inspect processes, keep the lock to stay safe.
		return false
	}

	return process == nil
}
