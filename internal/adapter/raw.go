package adapter

import (
	"bufio"
	"fmt"
	"os"
)

// RawAdapter treats session output as an opaque byte stream. It extracts no
// built-in metrics and hands every source the same raw lines, for agents
// that have no structured transcript format at all.
type RawAdapter struct{}

// NewRawAdapter constructs the pass-through adapter.
func NewRawAdapter() *RawAdapter { return &RawAdapter{} }

func (a *RawAdapter) Name() string { return "raw" }

// ExtractBuiltinMetrics never errors and never inspects the filesystem; raw
// sessions carry no structured metrics regardless of whether path exists.
func (a *RawAdapter) ExtractBuiltinMetrics(path string) ([]Metric, error) {
	return nil, nil
}

func (a *RawAdapter) SupportedMetrics() []string { return nil }

// LinesForSource returns the file's raw lines for every source kind; raw
// sessions have no notion of tool-command or text-only subsets.
func (a *RawAdapter) LinesForSource(path string, source ExtractionSource) ([]string, error) {
	return readLines(path)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}
