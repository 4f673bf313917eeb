package compact

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func writeSession(t *testing.T, dir string, iteration uint64, content string) string {
	t.Helper()
	path := filepath.Join(dir, strconv.FormatUint(iteration, 10)+sessionExt)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCompressesFilesOlderThanThreshold(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, 1, "old session data")
	writeSession(t, dir, 10, "recent session data")

	compressed, err := CompressOldSessions(dir, 10, 5)
	require.NoError(t, err)
	require.Len(t, compressed, 1)

	_, err = os.Stat(filepath.Join(dir, "1.jsonl"))
	require.True(t, os.IsNotExist(err))
	require.FileExists(t, filepath.Join(dir, "1.jsonl.zst"))
	require.FileExists(t, filepath.Join(dir, "10.jsonl"))
}

func TestExactThresholdIsCompressed(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, 5, "at the cutoff")

	compressed, err := CompressOldSessions(dir, 10, 5)
	require.NoError(t, err)
	require.Len(t, compressed, 1)

	_, err = os.Stat(filepath.Join(dir, "5.jsonl"))
	require.True(t, os.IsNotExist(err))
	require.FileExists(t, filepath.Join(dir, "5.jsonl.zst"))
}

func TestHighIterationNumbersDoNotOverflow(t *testing.T) {
	dir := t.TempDir()
	compressed, err := CompressOldSessions(dir, 3, 100)
	require.NoError(t, err)
	require.Empty(t, compressed)
}

func TestCompressedFileDecompresses(t *testing.T) {
	dir := t.TempDir()
	content := "hello from an old session"
	writeSession(t, dir, 1, content)

	_, err := CompressOldSessions(dir, 10, 5)
	require.NoError(t, err)

	compressedBytes, err := os.ReadFile(filepath.Join(dir, "1.jsonl.zst"))
	require.NoError(t, err)

	decoder, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer decoder.Close()

	decoded, err := decoder.DecodeAll(compressedBytes, nil)
	require.NoError(t, err)
	require.Equal(t, content, string(decoded))
}

func TestFailureOnOneFileDoesNotStopTheSweep(t *testing.T) {
	dir := t.TempDir()
	// A directory already sitting at 1.jsonl.zst blocks writing the compressed
	// copy, so compressFile fails on 1.jsonl, but the sweep must still reach
	// the next session file.
	writeSession(t, dir, 1, "old session data")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "1.jsonl.zst"), 0o755))
	writeSession(t, dir, 2, "old session data")

	compressed, err := CompressOldSessions(dir, 10, 5)
	require.Error(t, err)
	require.Len(t, compressed, 1)
	require.FileExists(t, filepath.Join(dir, "2.jsonl.zst"))
}

func TestIgnoresAlreadyCompressedAndNonSessionFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.jsonl.zst"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	compressed, err := CompressOldSessions(dir, 10, 5)
	require.NoError(t, err)
	require.Empty(t, compressed)
}
