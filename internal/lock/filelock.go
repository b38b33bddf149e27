// SPDX-License-Identifier: MIT

//go:build linux

// Package lock provides flock(2)-based advisory file locks.
//
// The capture environment takes one lock per virtual display number, so
// two recorder processes on the same host never start Xvfb on the same
// display. Locks are stale-swept: a lock file whose recorded PID no
// longer maps to a live process is removed and re-acquired, which is what
// lets a recording host recover display numbers after a crash without an
// operator cleaning /var/run by hand.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FileLock is an exclusive flock(2) lock on a single path. The holder's
// PID is written into the file so other processes (and the stale sweep)
// can see who owns it.
type FileLock struct {
	mu   sync.Mutex
	path string
	file *os.File
	pid  int
}

// acquirePollInterval is how often a blocked acquire retries flock.
const acquirePollInterval = 100 * time.Millisecond

// NewFileLock creates a lock handle for path, creating the parent
// directory if needed. No lock is taken until Acquire/AcquireContext.
func NewFileLock(path string) (*FileLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path cannot be empty")
	}

	dir := filepath.Dir(path)
	// #nosec G301 - Lock directory needs 0755 for multi-user access
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		path: path,
		pid:  os.Getpid(),
	}, nil
}

// Acquire takes the exclusive lock, waiting up to timeout (0 = try once).
func (fl *FileLock) Acquire(timeout time.Duration) error {
	return fl.AcquireContext(context.Background(), timeout)
}

// AcquireContext takes the exclusive lock, waiting up to timeout
// (0 = try once) or until ctx is cancelled.
//
// A stale lock file (holder dead) is removed before the first attempt.
// On success the holder's PID is written into the file.
func (fl *FileLock) AcquireContext(ctx context.Context, timeout time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if stale, _ := isLockStale(fl.path); stale {
		_ = os.Remove(fl.path)
	}

	// #nosec G302 - Lock file needs 0644 for multi-process coordination
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(acquirePollInterval)
	defer ticker.Stop()

	for {
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}

		if time.Now().After(deadline) {
			_ = file.Close()
			return fmt.Errorf("failed to acquire lock after %v: %w", timeout, err)
		}

		select {
		case <-ctx.Done():
			_ = file.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := fl.writePID(file); err != nil {
		_ = file.Close()
		return err
	}

	fl.mu.Lock()
	fl.file = file
	fl.mu.Unlock()
	return nil
}

// writePID records the holder's PID in the lock file.
func (fl *FileLock) writePID(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", fl.pid); err != nil {
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return nil
}

// Release drops the lock. It is an error to Release a lock that is not
// held.
func (fl *FileLock) Release() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return fmt.Errorf("lock not held")
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}

	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	fl.file = nil
	return nil
}

// Close releases the lock if held; a no-op otherwise. Safe to call more
// than once.
func (fl *FileLock) Close() error {
	fl.mu.Lock()
	held := fl.file != nil
	fl.mu.Unlock()

	if held {
		return fl.Release()
	}
	return nil
}

// isLockStale reports whether the lock file at lockPath belongs to a dead
// process.
//
// A missing file is not stale (there is nothing to sweep). An unreadable,
// empty, or non-numeric file is stale. A valid PID is probed with
// signal 0: alive means the lock is held, however old the file's mtime is
// (a recording can run for hours, so age alone is not evidence of
// staleness); dead means stale.
func isLockStale(lockPath string) (bool, error) {
	_, err := os.Stat(lockPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err // can't stat: assume held, never steal a live lock
	}

	// #nosec G304 - Lock path is controlled by application configuration
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return true, nil
	}

	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return true, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return true, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return true, nil
	}

	// On Unix FindProcess always succeeds; signal 0 is the real probe.
	if err := process.Signal(syscall.Signal(0)); err == nil {
		return false, nil
	}
	return true, nil
}
