// Package lockfile serializes VoterBot runs that mutate the schedule state.
//
// The lock is an flock(2) on a file in the lock directory. The kernel drops it
// when the process exits, so a crashed run never blocks the next cron tick.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the lock directory.
const LockFileName = "voterbot.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID        int
	Command    string
	AcquiredAt string
}

func (h Holder) String() string {
	if h.PID == 0 {
		return ""
	}
	s := fmt.Sprintf("PID %d", h.PID)
	if h.Command != "" {
		s += " running " + h.Command
	}
	if h.AcquiredAt != "" {
		s += " since " + h.AcquiredAt
	}
	if isProcessRunning(h.PID) {
		return s + " (alive)"
	}
	return s + " (not running, stale lock)"
}

// Lock is a held directory lock.
type Lock struct {
	file *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// AcquireLock takes the lock in dir without blocking. command names the
// operation holding it and is reported to conflicting runs. A held lock yields
// a *LockError.
func AcquireLock(dir, command string) (*Lock, error) {
	lockPath := filepath.Join(dir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lock_path", lockPath, "command", command)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	// O_TRUNC would wipe the holder's details before we know we own the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readHolder(lockPath)
		slog.Warn("lockfile.AcquireLock: lock held by another run",
			"lock_path", lockPath, "holder", holder.String(), "error", err)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	info := formatHolder(Holder{
		PID:        os.Getpid(),
		Command:    command,
		AcquiredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err := writeHolder(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Debug("lockfile.AcquireLock: acquired", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

func writeHolder(file *os.File, info string) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.AcquireLock: failed to sync lock file", "error", err)
	}
	return nil
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting run never sees our stale details.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to unlock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Debug("Lock.Release: released", "lock_path", l.path)
	return err
}

// LockError reports that another run holds the lock.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another VoterBot run holds the state lock %s", e.LockPath)
	if h := e.Holder.String(); h != "" {
		fmt.Fprintf(&b, " (%s)", h)
	}
	b.WriteString("; if no other run is active, remove the file and retry")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func formatHolder(h Holder) string {
	return fmt.Sprintf("pid=%d\ncommand=%s\nacquired_at=%s\n", h.PID, h.Command, h.AcquiredAt)
}

// parseHolder reads key=value lines. Unknown keys and malformed lines are ignored.
func parseHolder(content string) Holder {
	var h Holder
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "command":
			h.Command = value
		case "acquired_at":
			h.AcquiredAt = value
		}
	}
	return h
}

func readHolder(lockPath string) Holder {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}
	}
	return parseHolder(string(data))
}

// isProcessRunning checks pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
