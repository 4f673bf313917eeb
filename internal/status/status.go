// Package status maintains the harness's on-disk status file, a small JSON
// snapshot other tooling (dashboards, shell prompts, CI steps) can poll
// without talking to the sqlite store.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State names one phase of the iteration loop's state machine.
type State string

const (
	StateStarting           State = "starting"
	StatePreHooks           State = "pre_hooks"
	StateSessionRunning     State = "session_running"
	StateWatchdogKill       State = "watchdog_kill"
	StateRetrying           State = "retrying"
	StatePostHooks          State = "post_hooks"
	StateRateLimitedBackoff State = "rate_limited_backoff"
	StateIdle               State = "idle"
	StateShuttingDown       State = "shutting_down"
)

// Data is the JSON document written to the status file.
type Data struct {
	State                 State     `json:"state"`
	Iteration             uint64    `json:"iteration"`
	Attempt               int       `json:"attempt"`
	PID                   int       `json:"pid"`
	StartedAt             time.Time `json:"started_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	Message               string    `json:"message,omitempty"`
	ConsecutiveRateLimits int       `json:"consecutive_rate_limits"`
}

// File writes Data to path atomically: every write lands in a pid-scoped
// temp file in the same directory, then renames over the target, so a
// concurrent reader never observes a half-written status file.
type File struct {
	path string
}

// NewFile binds a status file writer to path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Write atomically replaces the status file's contents.
func (f *File) Write(data Data) error {
	dir := filepath.Dir(f.path)
	base := filepath.Base(f.path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d", base, os.Getpid()))

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return fmt.Errorf("writing temp status file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming status file into place: %w", err)
	}
	return nil
}

// Remove deletes the status file, tolerating its prior absence.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing status file %s: %w", f.path, err)
	}
	return nil
}

// Read loads the current status file contents, for tooling that polls it.
func Read(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("reading status file %s: %w", path, err)
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("parsing status file %s: %w", path, err)
	}
	return d, nil
}

// Tracker accumulates the running state of one harness process and flushes
// it to a File on every transition.
type Tracker struct {
	file *File
	data Data
}

// NewTracker starts a tracker at StateStarting for the current process.
func NewTracker(file *File) *Tracker {
	now := time.Now()
	return &Tracker{
		file: file,
		data: Data{
			State:     StateStarting,
			PID:       os.Getpid(),
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

func (t *Tracker) flush() error {
	t.data.UpdatedAt = time.Now()
	return t.file.Write(t.data)
}

// SetState transitions to a new state and persists it.
func (t *Tracker) SetState(s State) error {
	t.data.State = s
	return t.flush()
}

// SetIteration records the current iteration number and resets the attempt
// counter, then persists.
func (t *Tracker) SetIteration(n uint64) error {
	t.data.Iteration = n
	t.data.Attempt = 0
	return t.flush()
}

// SetAttempt records the current retry attempt and persists.
func (t *Tracker) SetAttempt(n int) error {
	t.data.Attempt = n
	return t.flush()
}

// SetMessage attaches a free-text status message and persists.
func (t *Tracker) SetMessage(msg string) error {
	t.data.Message = msg
	return t.flush()
}

// IncrementRateLimitStreak bumps the consecutive rate-limit counter and
// persists.
func (t *Tracker) IncrementRateLimitStreak() error {
	t.data.ConsecutiveRateLimits++
	return t.flush()
}

// ResetRateLimitStreak clears the consecutive rate-limit counter and
// persists.
func (t *Tracker) ResetRateLimitStreak() error {
	t.data.ConsecutiveRateLimits = 0
	return t.flush()
}

// Data returns a copy of the tracker's current snapshot.
func (t *Tracker) Data() Data {
	return t.data
}

// Finish transitions to StateShuttingDown and removes the status file, for
// a clean shutdown.
func (t *Tracker) Finish() error {
	if err := t.SetState(StateShuttingDown); err != nil {
		return err
	}
	return t.file.Remove()
}
