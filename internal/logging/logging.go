// Package logging provides the harness's ambient logging style: plain
// fmt.Printf banners on stdout for state transitions, fmt.Fprintf(os.Stderr,
// "Warning: ...") for recoverable errors. No structured logging library is
// used -- see DESIGN.md for why.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Level is a coarse verbosity filter read from HARNESS_LOG_LEVEL.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func levelFromString(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes banners to stdout and warnings to stderr, filtered by level.
type Logger struct {
	level Level
}

// New builds a Logger with its level taken from HARNESS_LOG_LEVEL (default info).
func New() *Logger {
	return &Logger{level: levelFromString(os.Getenv("HARNESS_LOG_LEVEL"))}
}

// Transition prints a colorized state-transition banner, e.g.
// "-> session_running (iteration 7)".
func (l *Logger) Transition(format string, args ...any) {
	if l.level > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Println(color.CyanString("-> ") + msg)
}

// Info prints a plain informational banner.
func (l *Logger) Info(format string, args ...any) {
	if l.level > LevelInfo {
		return
	}
	fmt.Printf(format+"\n", args...)
}

// Debug prints a debug-level banner, suppressed unless HARNESS_LOG_LEVEL=debug.
func (l *Logger) Debug(format string, args ...any) {
	if l.level > LevelDebug {
		return
	}
	fmt.Printf(format+"\n", args...)
}

// Warn writes "Warning: ..." to stderr, matching the teacher's recoverable-error idiom.
func (l *Logger) Warn(format string, args ...any) {
	if l.level > LevelWarn {
		return
	}
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// Error writes an unrecoverable-error banner to stderr.
func (l *Logger) Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, color.RedString("Error: ")+format+"\n", args...)
}
