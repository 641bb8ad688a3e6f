// Package lockfile guards the state directory against concurrent ObatPing
// instances.
//
// The lock is an flock(2) on a file inside the state directory, so it is
// released by the kernel when the process exits, cleanly or not.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the lock file created inside the state directory.
const LockFileName = "obatping.lock"

// Lock is an acquired state directory lock.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// Acquire takes an exclusive lock on the state directory, creating it if
// needed. When another process already holds the lock the returned error is a
// *ConflictError describing the holder.
func Acquire(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("state directory is locked by another instance", "error", err, "lockPath", lockPath, "holder", holder)
		return nil, &ConflictError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	if _, err := fmt.Fprintf(file, "pid=%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("failed to sync lock file", "error", err, "lockPath", lockPath)
	}

	slog.Info("acquired state directory lock", "lockPath", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

// Release drops the lock and removes the lock file. Safe to call repeatedly.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("failed to release flock", "error", err, "lockPath", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("failed to close lock file", "error", err, "lockPath", l.path)
	}
	if err := os.Remove(l.path); err != nil {
		slog.Error("failed to remove lock file", "error", err, "lockPath", l.path)
	}

	l.acquired = false
	l.file = nil
	slog.Info("released state directory lock", "lockPath", l.path)
	return nil
}

// ConflictError reports that another instance holds the state directory lock.
type ConflictError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("another ObatPing instance is already using this state directory (lock file: %s)", e.LockPath)
	if e.Holder != "" {
		msg += fmt.Sprintf("; held by %s", e.Holder)
	}
	msg += fmt.Sprintf(". If no other instance is running the lock is stale and can be removed with: rm %s", e.LockPath)
	return msg
}

func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// describeHolder reads the existing lock file and reports who holds it.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "unknown process"
	}
	if pid := parsePID(content); pid > 0 {
		if processAlive(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running, stale lock)", pid)
	}
	return content
}

// parsePID extracts the pid=NNNN entry from lock file content.
func parsePID(content string) int {
	const prefix = "pid="
	idx := strings.Index(content, prefix)
	if idx == -1 {
		return 0
	}
	start := idx + len(prefix)
	end := start
	for end < len(content) && content[end] >= '0' && content[end] <= '9' {
		end++
	}
	pid, err := strconv.Atoi(content[start:end])
	if err != nil {
		return 0
	}
	return pid
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
