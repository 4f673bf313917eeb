// Command harnessd runs the agent iteration harness: it drives an agent
// subprocess through repeated prompted sessions, recording what happened to
// a local observation store, until told to stop.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ozten/agentharness/internal/config"
	"github.com/ozten/agentharness/internal/datadir"
	"github.com/ozten/agentharness/internal/loop"
	"github.com/ozten/agentharness/internal/logging"
	"github.com/ozten/agentharness/internal/shutdown"
	"github.com/ozten/agentharness/internal/status"
	"github.com/ozten/agentharness/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "harnessd",
	Short: "Drive an agent through repeated iterations under a local control plane",
}

var dataDirFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", ".harness", "harness data directory")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a data directory and default config.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := datadir.New(dataDirFlag)
		created, err := dir.Init()
		if err != nil {
			return fmt.Errorf("initializing %s: %w", dataDirFlag, err)
		}
		if err := dir.EnsureInitialized(); err != nil {
			return fmt.Errorf("initializing %s: %w", dataDirFlag, err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		if created {
			fmt.Printf("%s created data directory %s\n", green("✓"), dataDirFlag)
		} else {
			fmt.Printf("%s data directory %s already exists\n", green("✓"), dataDirFlag)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the iteration loop until the configured budget or a shutdown request",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := runHarness(dataDirFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current status file, if the harness is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := datadir.New(dataDirFlag)
		data, err := status.Read(dir.Status())
		if err != nil {
			return fmt.Errorf("reading status: %w", err)
		}
		fmt.Printf("state:     %s\n", data.State)
		fmt.Printf("iteration: %d (attempt %d)\n", data.Iteration, data.Attempt)
		fmt.Printf("pid:       %d\n", data.PID)
		fmt.Printf("updated:   %s\n", data.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
		if data.ConsecutiveRateLimits > 0 {
			fmt.Printf("rate limit streak: %d\n", data.ConsecutiveRateLimits)
		}
		return nil
	},
}

func runHarness(root string) (int, error) {
	dir := datadir.New(root)
	if err := dir.EnsureInitialized(); err != nil {
		return 1, fmt.Errorf("initializing data directory: %w", err)
	}

	cfg, err := config.Load(dir.Config())
	if err != nil {
		return 1, fmt.Errorf("loading config: %w", err)
	}

	lock, err := store.AcquireLock(dir.Lock())
	if err != nil {
		return 1, err
	}
	defer store.ReleaseLock(dir.Lock())

	db, err := store.Open(dir.DB())
	if err != nil {
		return 1, fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	log := logging.New()
	log.Info("harnessd starting (run %s, pid %d)", lock.RunID, lock.PID)

	tracker := status.NewTracker(status.NewFile(dir.Status()))
	coordinator := shutdown.New(context.Background())
	stopListening := coordinator.ListenForSignals()
	defer stopListening()

	runner := loop.NewRunner(cfg, dir, db, tracker, log, coordinator)
	code, err := runner.Run()
	if err != nil {
		log.Error("%v", err)
		return code, err
	}
	log.Info("harnessd exiting (code %d)", code)
	return code, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
