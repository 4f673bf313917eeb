package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ozten/agentharness/internal/config"
	"github.com/stretchr/testify/require"
)

func TestRunEchoCommand(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "test-output.jsonl")

	agent := config.AgentConfig{
		Command:   "echo",
		Args:      []string{"hello", "{prompt}"},
		PromptVia: config.PromptViaArg,
	}

	result, err := Run(agent, outputPath, "world", nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Greater(t, result.OutputBytes, int64(0))
	require.Greater(t, result.PID, 0)

	contents, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, "hello world\n", string(contents))
}

func TestRunCapturesStderr(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "stderr-test.jsonl")

	agent := config.AgentConfig{
		Command:   "sh",
		Args:      []string{"-c", "echo stdout-line; echo stderr-line >&2"},
		PromptVia: config.PromptViaArg,
	}

	result, err := Run(agent, outputPath, "unused", nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)

	contents, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "stdout-line")
	require.Contains(t, string(contents), "stderr-line")
}

func TestRunNonzeroExit(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "fail-test.jsonl")

	agent := config.AgentConfig{
		Command:   "sh",
		Args:      []string{"-c", "exit 42"},
		PromptVia: config.PromptViaArg,
	}

	result, err := Run(agent, outputPath, "unused", nil)
	require.NoError(t, err)
	require.Equal(t, 42, result.ExitCode)
}

func TestRunSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "spawn-fail.jsonl")

	agent := config.AgentConfig{
		Command: "nonexistent-binary-xyz",
	}

	_, err := Run(agent, outputPath, "unused", nil)
	require.Error(t, err)
}

func TestRunBadOutputPath(t *testing.T) {
	agent := config.AgentConfig{
		Command: "echo",
		Args:    []string{"hello"},
	}

	_, err := Run(agent, "/nonexistent-dir/impossible/output.jsonl", "unused", nil)
	require.Error(t, err)
}

func TestRunStdinPromptDelivery(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "stdin-test.jsonl")

	agent := config.AgentConfig{
		Command:   "cat",
		PromptVia: config.PromptViaStdin,
	}

	result, err := Run(agent, outputPath, "fed via stdin", nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)

	contents, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, "fed via stdin", string(contents))
}

func TestRunInvokesOnStartBeforeWaiting(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "onstart-test.jsonl")

	agent := config.AgentConfig{
		Command: "sh",
		Args:    []string{"-c", "sleep 0.05"},
	}

	var capturedPID int
	result, err := Run(agent, outputPath, "unused", func(pid int) {
		capturedPID = pid
	})
	require.NoError(t, err)
	require.Equal(t, result.PID, capturedPID)
	require.Greater(t, capturedPID, 0)
}

func TestBuildArgsReplacesPlaceholder(t *testing.T) {
	agent := config.AgentConfig{
		Args:      []string{"-p", "{prompt}", "--verbose"},
		PromptVia: config.PromptViaArg,
	}
	args := buildArgs(agent, "hello world", "")
	require.Equal(t, []string{"-p", "hello world", "--verbose"}, args)
}

func TestBuildArgsAppendsWhenNoPlaceholder(t *testing.T) {
	agent := config.AgentConfig{
		Args:      []string{"--quiet"},
		PromptVia: config.PromptViaArg,
	}
	args := buildArgs(agent, "anything", "")
	require.Equal(t, []string{"--quiet", "anything"}, args)
}

func TestBuildArgsMultiplePlaceholders(t *testing.T) {
	agent := config.AgentConfig{
		Args:      []string{"{prompt}", "mid", "{prompt}"},
		PromptVia: config.PromptViaArg,
	}
	args := buildArgs(agent, "X", "")
	require.Equal(t, []string{"X", "mid", "X"}, args)
}

func TestBuildArgsReplacesPromptFilePlaceholder(t *testing.T) {
	agent := config.AgentConfig{
		Args:      []string{"--file", "{prompt_file}"},
		PromptVia: config.PromptViaFile,
	}
	args := buildArgs(agent, "unused", "/tmp/data/.prompt")
	require.Equal(t, []string{"--file", "/tmp/data/.prompt"}, args)
}

func TestRunFilePromptDelivery(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "file-test.jsonl")

	agent := config.AgentConfig{
		Command:   "cat",
		Args:      []string{"{prompt_file}"},
		PromptVia: config.PromptViaFile,
	}

	result, err := Run(agent, outputPath, "fed via file", nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)

	contents, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, "fed via file", string(contents))
}
