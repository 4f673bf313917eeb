package loop

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ozten/agentharness/internal/config"
	"github.com/ozten/agentharness/internal/datadir"
	"github.com/ozten/agentharness/internal/logging"
	"github.com/ozten/agentharness/internal/retry"
	"github.com/ozten/agentharness/internal/shutdown"
	"github.com/ozten/agentharness/internal/status"
	"github.com/ozten/agentharness/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, mutate func(*config.Config)) (*Runner, datadir.DataDir, *store.Store) {
	t.Helper()
	root := t.TempDir()
	dir := datadir.New(filepath.Join(root, ".harness"))
	_, err := dir.Init()
	require.NoError(t, err)

	promptPath := filepath.Join(root, "PROMPT.md")
	require.NoError(t, os.WriteFile(promptPath, []byte("do the thing"), 0o644))

	cfg := config.Default()
	cfg.Agent = config.AgentConfig{Command: "echo", Args: nil, PromptVia: config.PromptViaArg, Adapter: "raw"}
	cfg.Prompt.File = promptPath
	cfg.Watchdog.CheckIntervalSecs = 1
	cfg.Watchdog.StaleTimeoutMins = 60
	cfg.Watchdog.MinOutputBytes = 0
	cfg.Retry.MaxEmptyRetries = 0
	cfg.Session.MaxIterations = 1
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := store.Open(dir.DB())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tracker := status.NewTracker(status.NewFile(dir.Status()))
	log := logging.New()
	sd := shutdown.New(context.Background())

	return NewRunner(cfg, dir, st, tracker, log, sd), dir, st
}

func TestRunCompletesConfiguredIterationsAndExits(t *testing.T) {
	runner, dir, st := newTestRunner(t, func(c *config.Config) {
		c.Session.MaxIterations = 2
	})

	code, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, 0, code)

	counter, err := os.ReadFile(dir.Counter())
	require.NoError(t, err)
	require.Equal(t, "2", string(counter))

	require.NoFileExists(t, dir.Status())

	obs, err := st.GetObservation(0)
	require.NoError(t, err)
	require.NotNil(t, obs)
	obs, err = st.GetObservation(1)
	require.NoError(t, err)
	require.NotNil(t, obs)
}

func TestRunStopsImmediatelyWhenStopFileExists(t *testing.T) {
	runner, dir, _ := newTestRunner(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir.Root(), "STOP"), []byte{}, 0o644))

	code, err := runner.Run()
	require.NoError(t, err)
	require.Equal(t, 0, code)

	_, err = os.ReadFile(dir.Counter())
	require.True(t, os.IsNotExist(err), "counter file should never be touched before the shutdown check")
}

func TestRunProductiveIterationRetriesSparseOutputThenProceeds(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, "marker")

	runner, _, _ := newTestRunner(t, func(c *config.Config) {
		c.Agent = config.AgentConfig{
			Command:   "sh",
			Args:      []string{"-c", "if [ -f " + marker + " ]; then echo 'plenty of output here'; else touch " + marker + "; fi"},
			PromptVia: config.PromptViaArg,
			Adapter:   "raw",
		}
	})

	retryPolicy := retry.Policy{MinOutputBytes: 5, MaxRetries: 2}
	outcome, err := runner.runProductiveIteration(1, "prompt", retryPolicy)
	require.NoError(t, err)
	require.False(t, outcome.skip)
	require.FileExists(t, marker)
	require.Equal(t, 1, runner.tracker.Data().Attempt)
}

func TestRunProductiveIterationSkipsAfterExhaustingRetries(t *testing.T) {
	runner, _, _ := newTestRunner(t, func(c *config.Config) {
		c.Agent = config.AgentConfig{Command: "true", Args: nil, PromptVia: config.PromptViaArg, Adapter: "raw"}
	})

	retryPolicy := retry.Policy{MinOutputBytes: 1000, MaxRetries: 1}
	outcome, err := runner.runProductiveIteration(1, "prompt", retryPolicy)
	require.NoError(t, err)
	require.True(t, outcome.skip)
	require.Equal(t, 1, runner.tracker.Data().Attempt)
}

func TestRunSessionRacedForceKillsOnSecondShutdownSignal(t *testing.T) {
	runner, dir, _ := newTestRunner(t, func(c *config.Config) {
		c.Agent = config.AgentConfig{Command: "sh", Args: []string{"-c", "sleep 5"}, PromptVia: config.PromptViaArg, Adapter: "raw"}
	})
	runner.shutdown.Request()
	runner.shutdown.Request()

	outputPath := dir.SessionFile(1)
	_, forceKilled, err := runner.runSessionRaced(outputPath, "prompt")
	require.NoError(t, err)
	require.True(t, forceKilled)
}
