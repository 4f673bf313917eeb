// Package outwatch watches a running session's output file for growth and
// signals when it has gone stale for too long, so the loop can reclaim a
// hung agent process instead of waiting on it forever.
package outwatch

import (
	"context"
	"os"
	"time"
)

// Watchdog polls an output file's size on an interval and reports staleness
// once it has stopped growing for longer than StaleTimeout, provided it has
// already produced at least MinBytes (a session that never got going is a
// different problem than one that hung mid-stream).
type Watchdog struct {
	Path          string
	CheckInterval time.Duration
	StaleTimeout  time.Duration
	MinBytes      int64
}

// Run polls Path until ctx is canceled or the file goes stale, in which case
// it returns true. It returns false if ctx was canceled first (the session
// finished or a shutdown was requested).
func (w *Watchdog) Run(ctx context.Context) bool {
	ticker := time.NewTicker(w.CheckInterval)
	defer ticker.Stop()

	var lastSize int64
	lastGrowth := time.Now()

	for {
		select {
		case <-ctx.Done():
			return false
		case now := <-ticker.C:
			size := fileSize(w.Path)
			if size > lastSize {
				lastSize = size
				lastGrowth = now
				continue
			}
			if lastSize >= w.MinBytes && now.Sub(lastGrowth) >= w.StaleTimeout {
				return true
			}
		}
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
