// Package compact zstd-compresses old session transcripts so a long-running
// harness doesn't let its sessions directory grow unbounded.
package compact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"
)

const sessionExt = ".jsonl"

// sweepLimiter smooths the compactor's filesystem sweep so that a sessions
// directory holding many thousands of files can't starve the main loop's
// status-write cadence with a long uninterrupted burst of disk I/O.
var sweepLimiter = rate.NewLimiter(rate.Limit(200), 20)

// CompressOldSessions compresses every uncompressed session file in
// sessionsDir whose iteration number is at least compressAfter iterations
// behind currentIteration. A compressAfter of 0 disables compression, and
// nothing is compressed while currentIteration is still below compressAfter.
// It returns the paths it compressed. A failure to
// compress one file is logged into the returned error (via errors.Join) but
// does not stop the sweep over the rest of the directory.
func CompressOldSessions(sessionsDir string, currentIteration uint64, compressAfter int) ([]string, error) {
	if compressAfter < 0 {
		return nil, fmt.Errorf("compressAfter must be non-negative, got %d", compressAfter)
	}
	if compressAfter == 0 || currentIteration < uint64(compressAfter) {
		return nil, nil
	}

	cutoff := saturatingSub(currentIteration, uint64(compressAfter))

	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("reading sessions dir %s: %w", sessionsDir, err)
	}

	var compressed []string
	var failures []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, sessionExt) {
			continue
		}
		iteration, ok := parseIteration(name)
		if !ok {
			continue
		}
		if iteration > cutoff {
			continue
		}

		path := filepath.Join(sessionsDir, name)
		_ = sweepLimiter.Wait(context.Background())
		if err := compressFile(path); err != nil {
			failures = append(failures, fmt.Errorf("compressing %s: %w", path, err))
			continue
		}
		compressed = append(compressed, path)
	}

	return compressed, errors.Join(failures...)
}

func parseIteration(name string) (uint64, bool) {
	base := strings.TrimSuffix(name, sessionExt)
	n, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// compressFile zstd-encodes path at level 3 into path+".zst" and removes the
// uncompressed original.
func compressFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// SpeedDefault is klauspost/compress's closest analogue to zstd level 3.
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	compressed := encoder.EncodeAll(data, nil)
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("closing zstd encoder: %w", err)
	}

	dest := path + ".zst"
	if err := os.WriteFile(dest, compressed, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing uncompressed %s: %w", path, err)
	}
	return nil
}
