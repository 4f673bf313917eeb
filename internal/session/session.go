// Package session runs one agent subprocess to completion, capturing its
// combined stdout+stderr to the iteration's output file.
package session

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ozten/agentharness/internal/config"
)

// Result describes a completed session.
type Result struct {
	ExitCode    int
	Signaled    bool
	OutputBytes int64
	Duration    time.Duration
	OutputFile  string
	PID         int
}

// Run spawns the configured agent command, delivers prompt according to
// agent.PromptVia, and waits for it to exit, capturing combined stdout and
// stderr to outputPath. The child is placed in its own process group so a
// watchdog can later kill the whole group by negative pid. If onStart is
// non-nil, it is called with the child's pid as soon as it has been
// spawned, before Run blocks waiting for it to exit — a caller racing the
// wait against a watchdog needs the pid to be able to kill the group.
func Run(agent config.AgentConfig, outputPath, prompt string, onStart func(pid int)) (Result, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("creating output file %s: %w", outputPath, err)
	}
	defer outFile.Close()

	var promptFile string
	if agent.PromptVia == config.PromptViaFile {
		promptFile = filepath.Join(filepath.Dir(outputPath), ".prompt")
		if err := os.WriteFile(promptFile, []byte(prompt), 0o644); err != nil {
			return Result{}, fmt.Errorf("writing prompt file %s: %w", promptFile, err)
		}
		defer os.Remove(promptFile)
	}

	args := buildArgs(agent, prompt, promptFile)

	cmd := exec.Command(agent.Command, args...)
	cmd.Stdout = outFile
	cmd.Stderr = outFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdinPipe io.WriteCloser
	if agent.PromptVia == config.PromptViaStdin {
		stdinPipe, err = cmd.StdinPipe()
		if err != nil {
			return Result{}, fmt.Errorf("creating stdin pipe: %w", err)
		}
	}

	start := time.Now()

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("spawning agent subprocess: %w", err)
	}
	pid := cmd.Process.Pid
	if onStart != nil {
		onStart(pid)
	}

	if stdinPipe != nil {
		if _, err := io.WriteString(stdinPipe, prompt); err != nil {
			stdinPipe.Close()
			return Result{}, fmt.Errorf("writing prompt to stdin: %w", err)
		}
		stdinPipe.Close()
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	exitCode := 0
	signaled := false
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if exitCode == -1 {
				signaled = true
			}
		} else {
			return Result{}, fmt.Errorf("waiting for agent subprocess: %w", waitErr)
		}
	}

	info, statErr := os.Stat(outputPath)
	var outputBytes int64
	if statErr == nil {
		outputBytes = info.Size()
	}

	return Result{
		ExitCode:    exitCode,
		Signaled:    signaled,
		OutputBytes: outputBytes,
		Duration:    duration,
		OutputFile:  outputPath,
		PID:         pid,
	}, nil
}

// buildArgs substitutes the {prompt} and {prompt_file} placeholders into the
// configured argument list, or appends the prompt as a trailing argument when
// agent.PromptVia is "arg" and no {prompt} placeholder is present. promptFile
// is only meaningful (non-empty) when agent.PromptVia is "file".
func buildArgs(agent config.AgentConfig, prompt, promptFile string) []string {
	args := make([]string, len(agent.Args))
	hasPlaceholder := false
	for i, arg := range agent.Args {
		if strings.Contains(arg, "{prompt}") {
			hasPlaceholder = true
		}
		arg = strings.ReplaceAll(arg, "{prompt}", prompt)
		arg = strings.ReplaceAll(arg, "{prompt_file}", promptFile)
		args[i] = arg
	}
	if agent.PromptVia == config.PromptViaArg && !hasPlaceholder {
		args = append(args, prompt)
	}
	return args
}

// KillGroup sends sig to the entire process group rooted at pid, the way a
// watchdog reclaims a stuck agent and all of its descendants.
func KillGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		return fmt.Errorf("killing process group %d: %w", pid, err)
	}
	return nil
}
