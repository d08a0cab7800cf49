package cycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"soulforge/internal/logging"
	"soulforge/internal/model"
)

// Lock is a release handle returned by AcquireLock. Release must be
// invoked on every exit path (normal, error, panic recovery, signal);
// callers should defer it immediately after a successful acquire.
type Lock struct {
	path string
}

// Release removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// AcquireLock acquires the workspace's exclusive run lock via
// exclusive-create semantics. If the lock is already held by a live
// process, it returns model.ErrConcurrency wrapping the holder's PID. If
// the holder PID is not live, the lock is reclaimed automatically.
func (m *Manager) AcquireLock() (*Lock, error) {
	log := logging.Get(logging.CategoryCycle)
	path := filepath.Join(m.stateDir, lockFile)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			pid := os.Getpid()
			fmt.Fprintf(f, "%d", pid)
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("cycle: acquire lock: %w", err)
		}

		holderPID, rerr := readLockHolder(path)
		if rerr != nil {
			// Unreadable lock file: treat conservatively as held.
			return nil, fmt.Errorf("cycle: %w: lock file unreadable: %v", model.ErrConcurrency, rerr)
		}

		if isLive(holderPID) {
			return nil, fmt.Errorf("cycle: %w: held by pid %d", model.ErrConcurrency, holderPID)
		}

		log.Warnw("reclaiming stale lock", "holder_pid", holderPID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("cycle: remove stale lock: %w", err)
		}
		// Loop once more to re-attempt exclusive create.
	}

	return nil, fmt.Errorf("cycle: %w: could not acquire after stale-lock reclaim", model.ErrConcurrency)
}

func readLockHolder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed lock contents: %w", err)
	}
	return pid, nil
}

// isLive checks process liveness with a zero signal, per the stale-lock
// detection design; it never actually signals the process.
func isLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
