package datadir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	d := New(".harness")
	require.Equal(t, ".harness", d.Root())
	require.Equal(t, filepath.Join(".harness", "harness.db"), d.DB())
	require.Equal(t, filepath.Join(".harness", "status"), d.Status())
	require.Equal(t, filepath.Join(".harness", "counter"), d.Counter())
	require.Equal(t, filepath.Join(".harness", "sessions"), d.SessionsDir())
	require.Equal(t, filepath.Join(".harness", "worktrees"), d.WorktreesDir())
	require.Equal(t, filepath.Join(".harness", "sessions", "42.jsonl"), d.SessionFile(42))
}

func TestInitCreatesDirectoriesAndConfig(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".harness")
	d := New(root)

	_, err := os.Stat(root)
	require.True(t, os.IsNotExist(err))

	created, err := d.Init()
	require.NoError(t, err)
	require.True(t, created)

	require.DirExists(t, d.SessionsDir())
	require.DirExists(t, d.WorktreesDir())
	require.FileExists(t, d.Config())
}

func TestInitIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".harness")
	d := New(root)

	created1, err := d.Init()
	require.NoError(t, err)
	require.True(t, created1)

	created2, err := d.Init()
	require.NoError(t, err)
	require.False(t, created2)
}

func TestInitDoesNotOverwriteExistingConfig(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".harness")
	d := New(root)

	_, err := d.Init()
	require.NoError(t, err)

	custom := "[agent]\ncommand = \"my-agent\"\n"
	require.NoError(t, os.WriteFile(d.Config(), []byte(custom), 0o644))

	_, err = d.Init()
	require.NoError(t, err)

	contents, err := os.ReadFile(d.Config())
	require.NoError(t, err)
	require.Equal(t, custom, string(contents))
}

func TestEnsureInitializedUpdatesGitignore(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".harness")
	gitignore := filepath.Join(tmp, ".gitignore")
	require.NoError(t, os.WriteFile(gitignore, []byte("node_modules/\n"), 0o644))

	d := New(root)
	require.NoError(t, d.EnsureInitialized())

	contents, err := os.ReadFile(gitignore)
	require.NoError(t, err)
	require.Contains(t, string(contents), ".harness/")
	require.Contains(t, string(contents), "node_modules/")
}

func TestGitignoreNotDuplicated(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".harness")
	gitignore := filepath.Join(tmp, ".gitignore")
	require.NoError(t, os.WriteFile(gitignore, []byte(".harness/\n"), 0o644))

	d := New(root)
	require.NoError(t, d.EnsureInitialized())

	contents, err := os.ReadFile(gitignore)
	require.NoError(t, err)
	require.Equal(t, 1, countOccurrences(string(contents), ".harness/"))
}

func TestGitignoreNotCreatedIfMissing(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".harness")

	d := New(root)
	require.NoError(t, d.EnsureInitialized())

	_, err := os.Stat(filepath.Join(tmp, ".gitignore"))
	require.True(t, os.IsNotExist(err))
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}
