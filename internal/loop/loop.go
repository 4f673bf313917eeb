// Package loop drives the iteration state machine: pre-hooks, session
// spawn, watchdog-guarded wait, ingestion, retry/backoff, post-hooks, and
// compaction, until the configured iteration budget or a shutdown request
// ends the run.
package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ozten/agentharness/internal/adapter"
	"github.com/ozten/agentharness/internal/compact"
	"github.com/ozten/agentharness/internal/config"
	"github.com/ozten/agentharness/internal/datadir"
	"github.com/ozten/agentharness/internal/ingest"
	"github.com/ozten/agentharness/internal/logging"
	"github.com/ozten/agentharness/internal/outwatch"
	"github.com/ozten/agentharness/internal/ratelimit"
	"github.com/ozten/agentharness/internal/retry"
	"github.com/ozten/agentharness/internal/session"
	"github.com/ozten/agentharness/internal/shutdown"
	"github.com/ozten/agentharness/internal/status"
	"github.com/ozten/agentharness/internal/store"
)

// ForceKillExitCode is returned when the loop is torn down by a second
// shutdown signal within the grace window.
const ForceKillExitCode = 130

// Runner owns one harness process's iteration loop.
type Runner struct {
	cfg      config.Config
	dir      datadir.DataDir
	st       *store.Store
	ingester *ingest.Engine
	tracker  *status.Tracker
	log      *logging.Logger
	shutdown *shutdown.Coordinator
}

// NewRunner wires a Runner from its dependencies.
func NewRunner(cfg config.Config, dir datadir.DataDir, st *store.Store, tracker *status.Tracker, log *logging.Logger, sd *shutdown.Coordinator) *Runner {
	reg := adapter.NewRegistry()
	return &Runner{
		cfg:      cfg,
		dir:      dir,
		st:       st,
		ingester: ingest.NewEngine(reg),
		tracker:  tracker,
		log:      log,
		shutdown: sd,
	}
}

// Run drives iterations until the productive-iteration budget is exhausted
// or a shutdown is requested, and returns the process exit code.
func (r *Runner) Run() (int, error) {
	retryPolicy := retry.Policy{
		MinOutputBytes: uint64(r.cfg.Watchdog.MinOutputBytes),
		MaxRetries:     r.cfg.Retry.MaxEmptyRetries,
	}

	productive := 0
	consecutiveRateLimits := 0

	for {
		if r.shouldShutDown(productive) {
			return r.gracefulExit()
		}

		r.transition(status.StatePreHooks)
		if code, err := r.runHooks(r.cfg.Hooks.PreSession); err != nil {
			return code, err
		} else if code != 0 {
			return code, fmt.Errorf("pre-session hook exited %d", code)
		}

		globalIteration, err := r.advanceCounter()
		if err != nil {
			return 1, fmt.Errorf("advancing iteration counter: %w", err)
		}

		prompt, err := r.loadPrompt()
		if err != nil {
			return 1, fmt.Errorf("loading prompt: %w", err)
		}

		outcome, err := r.runProductiveIteration(globalIteration, prompt, retryPolicy)
		if err != nil {
			return 1, err
		}
		if outcome.forceKilled {
			return ForceKillExitCode, nil
		}

		productive++

		if !outcome.skip {
			r.transition(status.StatePostHooks)
			if _, err := r.runHooks(r.cfg.Hooks.PostSession); err != nil {
				r.log.Warn("post-session hook: %v", err)
			}
		}

		if err := r.runCompactor(globalIteration); err != nil {
			r.log.Warn("compaction: %v", err)
		}

		if outcome.rateLimited {
			consecutiveRateLimits++
			if err := r.tracker.IncrementRateLimitStreak(); err != nil {
				r.log.Warn("writing status: %v", err)
			}
			delay := ratelimit.Delay(
				uint64(r.cfg.Backoff.InitialDelaySecs),
				uint64(consecutiveRateLimits-1),
				uint64(r.cfg.Backoff.MaxDelaySecs),
			)
			r.transition(status.StateRateLimitedBackoff)
			if r.sleepOrStop(time.Duration(delay) * time.Second) {
				return r.gracefulExit()
			}
			if consecutiveRateLimits >= r.cfg.Backoff.MaxConsecutiveRateLimit {
				r.log.Info("rate-limit streak of %d reached the configured cap, shutting down", consecutiveRateLimits)
				return r.gracefulExit()
			}
		} else {
			consecutiveRateLimits = 0
			if err := r.tracker.ResetRateLimitStreak(); err != nil {
				r.log.Warn("writing status: %v", err)
			}
		}

		r.transition(status.StateIdle)
	}
}

type iterationOutcome struct {
	skip        bool
	rateLimited bool
	forceKilled bool
}

// runProductiveIteration runs (and, on sparse output, retries) sessions for
// one productive iteration slot until the retry policy proceeds or skips.
// Each retry advances the global iteration counter and writes to its own
// session file.
func (r *Runner) runProductiveIteration(globalIteration uint64, prompt string, retryPolicy retry.Policy) (iterationOutcome, error) {
	attempt := 0
	outputPath := r.dir.SessionFile(globalIteration)

	for {
		if err := r.tracker.SetIteration(globalIteration); err != nil {
			r.log.Warn("writing status: %v", err)
		}
		if err := r.tracker.SetAttempt(attempt); err != nil {
			r.log.Warn("writing status: %v", err)
		}
		r.transition(status.StateSessionRunning)

		result, forceKilled, err := r.runSessionRaced(outputPath, prompt)
		if forceKilled {
			return iterationOutcome{forceKilled: true}, nil
		}
		if err != nil {
			r.log.Warn("session %d failed to run: %v", globalIteration, err)
		}

		var exitCodePtr *int
		if err == nil && !result.Signaled {
			ec := result.ExitCode
			exitCodePtr = &ec
		}

		events, ingestErr := r.ingester.Ingest(r.cfg.Agent.Adapter, outputPath, r.cfg.Extract, exitCodePtr)
		if ingestErr != nil {
			r.log.Warn("ingesting session %d: %v", globalIteration, ingestErr)
		} else {
			r.persistEvents(globalIteration, events)
		}

		rateLimited := false
		if content, readErr := os.ReadFile(outputPath); readErr == nil {
			rateLimited = ratelimit.Detected(string(content))
		}

		decision := retryPolicy.Evaluate(uint64(result.OutputBytes), attempt)
		if decision.ShouldRetry() {
			attempt = decision.Attempt
			r.transition(status.StateRetrying)
			next, err := r.advanceCounter()
			if err != nil {
				return iterationOutcome{}, fmt.Errorf("advancing iteration counter: %w", err)
			}
			globalIteration = next
			outputPath = r.dir.SessionFile(globalIteration)
			continue
		}

		return iterationOutcome{skip: decision.Skip(), rateLimited: rateLimited}, nil
	}
}

// persistEvents writes the ingested events and the materialized observation
// row for one session. Built-in and rule-extracted values land first; any
// harness-supplied session.exit_code event is merged in last, so it wins
// over whatever the adapter itself reported under that kind. Each database
// write is retried once before it is logged and skipped.
func (r *Runner) persistEvents(globalIteration uint64, events []ingest.Event) {
	now := time.Now()

	storeEvents := make([]store.Event, len(events))
	data := make(map[string]any, len(events))
	var exitCodeValue string
	haveExitCode := false
	for i, e := range events {
		storeEvents[i] = store.Event{Session: globalIteration, Kind: e.Kind, Value: e.Value, Tags: e.Tags}
		if e.Kind == "session.exit_code" {
			exitCodeValue = e.Value
			haveExitCode = true
			continue
		}
		data[e.Kind] = e.Value
	}
	if haveExitCode {
		data["session.exit_code"] = exitCodeValue
	}

	err := r.st.InsertEvents(now, storeEvents)
	if err != nil {
		err = r.st.InsertEvents(now, storeEvents)
	}
	if err != nil {
		r.log.Warn("writing events for session %d: %v", globalIteration, err)
	}

	durationSecs := 0.0
	if raw, ok := data["session.duration_ms"]; ok {
		if s, ok := raw.(string); ok {
			if ms, err := strconv.ParseFloat(s, 64); err == nil {
				durationSecs = ms / 1000
			}
		}
	}
	err = r.st.UpsertObservation(globalIteration, now, durationSecs, nil, data)
	if err != nil {
		err = r.st.UpsertObservation(globalIteration, now, durationSecs, nil, data)
	}
	if err != nil {
		r.log.Warn("upserting observation for session %d: %v", globalIteration, err)
	}
}

// errSessionExited is the errgroup sentinel the child-wait arm returns once
// the agent subprocess has exited, cancelling the group's context so the
// watchdog and force-kill arms stop waiting and relinquish their resources.
var errSessionExited = errors.New("session exited")

// runSessionRaced runs the agent subprocess, racing its natural completion
// (child_exit) against the output-growth watchdog (watchdog_kill) and a
// forced second-signal shutdown, per the loop's three-waiter race
// discipline. Whichever fires first wins; the other two are cancelled via
// the errgroup's shared context and g.Wait() blocks until all three have
// relinquished before returning, so ingestion always sees a closed file.
func (r *Runner) runSessionRaced(outputPath, prompt string) (session.Result, bool, error) {
	g, ctx := errgroup.WithContext(context.Background())

	var pid atomic.Int64
	pidReady := make(chan struct{})
	var pidOnce sync.Once

	var result session.Result
	var runErr error
	var forceKilled atomic.Bool

	g.Go(func() error {
		result, runErr = session.Run(r.cfg.Agent, outputPath, prompt, func(p int) {
			pid.Store(int64(p))
			pidOnce.Do(func() { close(pidReady) })
		})
		return errSessionExited
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-pidReady:
		}
		watchdog := &outwatch.Watchdog{
			Path:          outputPath,
			CheckInterval: time.Duration(r.cfg.Watchdog.CheckIntervalSecs) * time.Second,
			StaleTimeout:  time.Duration(r.cfg.Watchdog.StaleTimeoutMins) * time.Minute,
			MinBytes:      r.cfg.Watchdog.MinOutputBytes,
		}
		if watchdog.Run(ctx) {
			r.transition(status.StateWatchdogKill)
			r.killGroup(int(pid.Load()))
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-r.shutdown.ForceKill():
		}
		forceKilled.Store(true)
		select {
		case <-pidReady:
			r.killGroup(int(pid.Load()))
		case <-ctx.Done():
		}
		return nil
	})

	_ = g.Wait()
	return result, forceKilled.Load(), runErr
}

func (r *Runner) killGroup(pid int) {
	if err := session.KillGroup(pid, syscall.SIGTERM); err != nil {
		r.log.Warn("sending SIGTERM to process group %d: %v", pid, err)
	}
	time.Sleep(2 * time.Second)
	_ = session.KillGroup(pid, syscall.SIGKILL)
}

// runHooks executes each command in order. The first non-zero exit stops
// the sequence and its code is returned.
func (r *Runner) runHooks(commands []string) (int, error) {
	for _, line := range commands {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd := exec.Command(fields[0], fields[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode(), nil
			}
			return 1, fmt.Errorf("running hook %q: %w", line, err)
		}
	}
	return 0, nil
}

// loadPrompt reads the configured prompt file and prepends the output of
// any configured prepend commands.
func (r *Runner) loadPrompt() (string, error) {
	var sb strings.Builder

	for _, line := range r.cfg.Prompt.PrependCommands {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out, err := exec.Command(fields[0], fields[1:]...).Output()
		if err != nil {
			return "", fmt.Errorf("running prepend command %q: %w", line, err)
		}
		sb.Write(out)
		sb.WriteString("\n")
	}

	promptFile := r.cfg.Prompt.File
	if promptFile == "" {
		promptFile = r.cfg.Session.PromptFile
	}
	content, err := os.ReadFile(promptFile)
	if err != nil {
		return "", fmt.Errorf("reading prompt file %s: %w", promptFile, err)
	}
	sb.Write(content)

	return sb.String(), nil
}

// advanceCounter reads the current global iteration counter and persists
// its successor before returning the value to use for this session, so a
// crash mid-session leaks a number instead of ever reusing one.
func (r *Runner) advanceCounter() (uint64, error) {
	path := r.dir.Counter()

	current := uint64(0)
	if content, err := os.ReadFile(path); err == nil {
		trimmed := strings.TrimSpace(string(content))
		if trimmed != "" {
			parsed, err := strconv.ParseUint(trimmed, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parsing counter file %s: %w", path, err)
			}
			current = parsed
		}
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("reading counter file %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(strconv.FormatUint(current+1, 10)), 0o644); err != nil {
		return 0, fmt.Errorf("writing counter file %s: %w", path, err)
	}

	return current, nil
}

func (r *Runner) runCompactor(currentIteration uint64) error {
	_, err := compact.CompressOldSessions(r.dir.SessionsDir(), currentIteration, r.cfg.Storage.CompressAfter)
	return err
}

// shouldShutDown checks the shared cancellation token (set by a signal or
// the STOP sentinel file) and the productive-iteration budget, either of
// which ends the run at the next idle point.
func (r *Runner) shouldShutDown(productive int) bool {
	if r.shutdown.Context().Err() != nil {
		return true
	}
	if shutdown.StopFileExists(r.dir.Root(), r.cfg.Shutdown.StopFile) {
		r.shutdown.Request()
		return true
	}
	return r.cfg.Session.MaxIterations > 0 && productive >= r.cfg.Session.MaxIterations
}

// sleepOrStop sleeps for d, or returns early (reporting true) if a shutdown
// is requested mid-sleep.
func (r *Runner) sleepOrStop(d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-r.shutdown.Context().Done():
		return true
	}
}

// transition records a state change and checks for the STOP sentinel file,
// which requests a graceful shutdown the same way a first signal does.
func (r *Runner) transition(s status.State) {
	if r.shutdown.Context().Err() == nil && shutdown.StopFileExists(r.dir.Root(), r.cfg.Shutdown.StopFile) {
		r.shutdown.Request()
	}
	r.log.Transition("%s", s)
	if err := r.tracker.SetState(s); err != nil {
		r.log.Warn("writing status: %v", err)
	}
}

func (r *Runner) gracefulExit() (int, error) {
	r.transition(status.StateShuttingDown)
	if err := r.tracker.Finish(); err != nil {
		r.log.Warn("removing status file: %v", err)
	}
	return 0, nil
}
