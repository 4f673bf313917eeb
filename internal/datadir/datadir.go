// Package datadir owns the on-disk layout of the harness's data directory:
// the database file, status file, counter, sessions subdirectory, lock file,
// and config file.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ozten/agentharness/internal/config"
)

// DataDir resolves well-known paths under a single root directory.
type DataDir struct {
	root string
}

// New returns a DataDir rooted at root.
func New(root string) DataDir {
	return DataDir{root: root}
}

func (d DataDir) Root() string            { return d.root }
func (d DataDir) DB() string              { return filepath.Join(d.root, "harness.db") }
func (d DataDir) Status() string          { return filepath.Join(d.root, "status") }
func (d DataDir) Counter() string         { return filepath.Join(d.root, "counter") }
func (d DataDir) SessionsDir() string     { return filepath.Join(d.root, "sessions") }
func (d DataDir) WorktreesDir() string    { return filepath.Join(d.root, "worktrees") }
func (d DataDir) Lock() string            { return filepath.Join(d.root, "lock") }
func (d DataDir) Config() string          { return filepath.Join(d.root, "config.toml") }

// SessionFile returns the path to the raw output file for one iteration.
func (d DataDir) SessionFile(iteration uint64) string {
	return filepath.Join(d.SessionsDir(), fmt.Sprintf("%d.jsonl", iteration))
}

// Init creates the root, sessions/, and worktrees/ directories and writes a
// default config.toml if one doesn't already exist. Returns true if the root
// directory did not already exist.
func (d DataDir) Init() (created bool, err error) {
	return d.InitWithConfig(config.DefaultTOML)
}

// InitWithConfig is like Init but writes configContent to config.toml
// instead of the harness's baked-in default, only when no config.toml
// already exists.
func (d DataDir) InitWithConfig(configContent string) (created bool, err error) {
	_, statErr := os.Stat(d.root)
	created = os.IsNotExist(statErr)

	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return false, fmt.Errorf("creating data directory %s: %w", d.root, err)
	}
	if err := os.MkdirAll(d.SessionsDir(), 0o755); err != nil {
		return false, fmt.Errorf("creating sessions directory: %w", err)
	}
	if err := os.MkdirAll(d.WorktreesDir(), 0o755); err != nil {
		return false, fmt.Errorf("creating worktrees directory: %w", err)
	}

	configPath := d.Config()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
			return false, fmt.Errorf("writing default config: %w", err)
		}
	}

	return created, nil
}

// EnsureInitialized initializes the directory if missing and appends it to
// .gitignore when one already exists in the parent directory.
func (d DataDir) EnsureInitialized() error {
	if _, err := d.Init(); err != nil {
		return err
	}
	return d.updateGitignore()
}

func (d DataDir) updateGitignore() error {
	parent := filepath.Dir(d.root)
	if parent == "" {
		parent = "."
	}
	gitignorePath := filepath.Join(parent, ".gitignore")

	contents, err := os.ReadFile(gitignorePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading .gitignore: %w", err)
	}

	entry := filepath.Base(d.root) + "/"
	for _, line := range strings.Split(string(contents), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == entry || trimmed == filepath.Base(d.root) {
			return nil
		}
	}

	prefix := ""
	s := string(contents)
	if s != "" && !strings.HasSuffix(s, "\n") {
		prefix = "\n"
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening .gitignore: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(prefix + entry + "\n"); err != nil {
		return fmt.Errorf("appending to .gitignore: %w", err)
	}
	return nil
}
