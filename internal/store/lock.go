package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Lock is the JSON payload written to the data directory's singleton lock
// file. Its presence, if the recorded process is still alive, means another
// harness instance already owns this data directory.
type Lock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id"`
}

// AcquireLock writes path as an exclusive singleton lock, refusing if an
// existing lock names a process that is still alive on this host. A stale
// lock (dead process, or a remote host we can't verify) is overwritten.
func AcquireLock(path string) (Lock, error) {
	if data, err := os.ReadFile(path); err == nil {
		var existing Lock
		if json.Unmarshal(data, &existing) == nil {
			if isProcessAlive(existing.PID, existing.Hostname) {
				return Lock{}, fmt.Errorf("another harness instance is already running (pid %d on %s, started %s)",
					existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
			}
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return Lock{}, fmt.Errorf("getting hostname: %w", err)
	}

	lock := Lock{
		Holder:    "agentharness",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		RunID:     uuid.NewString(),
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return Lock{}, fmt.Errorf("marshaling lock: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Lock{}, fmt.Errorf("writing lock file %s: %w", path, err)
	}

	return lock, nil
}

// ReleaseLock removes the lock file. Safe to call even if it no longer
// exists.
func ReleaseLock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file %s: %w", path, err)
	}
	return nil
}

func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}
