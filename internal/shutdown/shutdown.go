// Package shutdown coordinates graceful termination of the iteration loop:
// a first interrupt asks the current session to wind down at its next safe
// point, a second within a short grace window kills it outright.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"
)

// ForceKillWindow is how long after the first signal a second one is
// treated as a demand for immediate termination rather than a duplicate.
const ForceKillWindow = 3 * time.Second

// Coordinator tracks a single shutdown request: the loop observes the first
// request between steps via Context, and a running session's race observes
// a forced shutdown via ForceKill.
type Coordinator struct {
	ctx        context.Context
	cancel     context.CancelFunc
	forceKill  chan struct{}
	forceOnce  atomic.Bool
	signaledAt atomic.Value // time.Time
}

// New creates a Coordinator whose Context is canceled on the first shutdown
// request.
func New(parent context.Context) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{
		ctx:       ctx,
		cancel:    cancel,
		forceKill: make(chan struct{}),
	}
}

// Context is canceled as soon as a shutdown is requested, by signal or by
// the STOP sentinel file.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// ForceKill is closed if a second shutdown request arrives within
// ForceKillWindow of the first, meaning the caller should kill the running
// session's process group immediately instead of waiting for it to exit.
func (c *Coordinator) ForceKill() <-chan struct{} {
	return c.forceKill
}

// Request records one shutdown request. The first call cancels Context; any
// later call within ForceKillWindow of the previous call closes ForceKill. Safe to
// call concurrently and more than twice.
func (c *Coordinator) Request() {
	now := time.Now()
	prev := c.signaledAt.Swap(now)

	if prevTime, ok := prev.(time.Time); ok {
		if now.Sub(prevTime) <= ForceKillWindow {
			if c.forceOnce.CompareAndSwap(false, true) {
				close(c.forceKill)
			}
			return
		}
	}

	c.cancel()
}

// ListenForSignals starts a goroutine that translates SIGINT/SIGTERM into
// Request() calls. It returns a stop function that stops listening (but
// does not cancel Context).
func (c *Coordinator) ListenForSignals() (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				c.Request()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// StopFileExists reports whether the configured STOP sentinel file is
// present in dir, treated as equivalent to a first external signal.
func StopFileExists(dir, filename string) bool {
	_, err := os.Stat(filepath.Join(dir, filename))
	return err == nil
}
