package services

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"

	"github.com/trobanga/sisyphus/internal/lib"
)

var unsafeLockChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// RunLock is an exclusive file lock for one analysis.
// It keeps two processes on the same host from driving the same analysis
type RunLock struct {
	name     string
	lockPath string
	lock     *flock.Flock
	logger   *lib.Logger
}

// LockPath returns the lock file used for an analysis
func LockPath(locksDir string, analysisName string) string {
	return filepath.Join(locksDir, unsafeLockChars.ReplaceAllString(analysisName, "_")+".lock")
}

// AcquireRunLock takes the lock without blocking.
// A lock held by another process yields an error matching lib.ErrConflict
func AcquireRunLock(locksDir string, analysisName string, logger *lib.Logger) (*RunLock, error) {
	if err := os.MkdirAll(locksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}

	lockPath := LockPath(locksDir, analysisName)
	lock := flock.New(lockPath)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, lib.ErrRunLocked(analysisName)
	}

	rl := &RunLock{
		name:     analysisName,
		lockPath: lockPath,
		lock:     lock,
		logger:   logger,
	}

	if err := rl.writeLockInfo(); err != nil {
		logger.Warn("Failed to write lock info", "analysis", analysisName, "error", err)
	}

	logger.Debug("Acquired run lock", "analysis", analysisName, "pid", os.Getpid())
	return rl, nil
}

// WithRunLock executes a function while holding the analysis lock
func WithRunLock(locksDir string, analysisName string, logger *lib.Logger, fn func() error) error {
	lock, err := AcquireRunLock(locksDir, analysisName, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release run lock", "error", err)
		}
	}()

	return fn()
}

// writeLockInfo records which process holds the lock, for operators inspecting a stuck run
func (rl *RunLock) writeLockInfo() error {
	lockInfo := fmt.Sprintf("pid=%d\nanalysis=%s\ntime=%s\n", os.Getpid(), rl.name, time.Now().Format(time.RFC3339))
	return os.WriteFile(rl.lockPath, []byte(lockInfo), 0644)
}

// Release releases the lock. Releasing twice is a no-op
func (rl *RunLock) Release() error {
	if rl.lock == nil {
		return nil
	}
	if err := rl.lock.Unlock(); err != nil {
		rl.logger.Warn("Failed to release run lock", "analysis", rl.name, "error", err)
		return err
	}
	rl.logger.Debug("Released run lock", "analysis", rl.name, "pid", os.Getpid())
	rl.lock = nil
	return nil
}

// IsRunLocked reports whether another process currently holds the analysis lock
func IsRunLocked(locksDir string, analysisName string) bool {
	lock := flock.New(LockPath(locksDir, analysisName))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return err == nil
	}
	_ = lock.Unlock()
	return false
}
