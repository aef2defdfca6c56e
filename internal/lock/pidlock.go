// Package lock enforces the single-coordinator guarantee with a PID file.
// The lock is acquired once at start-up and held for the process lifetime; a
// lock left behind by a dead process is reclaimed silently.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld reports that another live coordinator already owns the lock
var ErrHeld = errors.New("coordinator lock held by a running process")

// PIDLock is a file-based singleton lock containing the owning process id
type PIDLock struct {
	path string
}

// New creates a lock handle for the given path; nothing is acquired yet
func New(path string) *PIDLock {
	return &PIDLock{path: path}
}

// Acquire takes the lock for the current process. If the lock file names a
// live process, Acquire fails with ErrHeld; a stale file is reclaimed.
func (l *PIDLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil {
				return fmt.Errorf("writing lock file: %w", werr)
			}
			return cerr
		}
		if !os.IsExist(err) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		pid, rerr := l.Holder()
		if rerr == nil && pidAlive(pid) {
			return fmt.Errorf("%w (pid %d)", ErrHeld, pid)
		}

		// Stale or unreadable lock: the owning process is gone, reclaim it
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("reclaiming stale lock: %w", rmErr)
		}
	}

	return fmt.Errorf("acquiring lock at %s: contention during reclaim", l.path)
}

// Release drops the lock if this process owns it
func (l *PIDLock) Release() error {
	pid, err := l.Holder()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return fmt.Errorf("lock at %s owned by pid %d, not us", l.path, pid)
	}
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Holder returns the process id recorded in the lock file
func (l *PIDLock) Holder() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing lock file %s: %w", l.path, err)
	}
	return pid, nil
}

// Status describes who, if anyone, holds the lock
type Status struct {
	Held bool
	PID  int
}

// Check reports the lock's current state without mutating it
func (l *PIDLock) Check() (Status, error) {
	pid, err := l.Holder()
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, nil
		}
		return Status{}, err
	}
	return Status{Held: pidAlive(pid), PID: pid}, nil
}

// pidAlive probes a process with signal 0
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
