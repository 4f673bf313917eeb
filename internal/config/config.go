// Package config loads and validates config.toml: agent command, watchdog
// thresholds, retry/backoff knobs, shutdown sentinel, hooks, prompt delivery,
// and the configurable extraction-rule list.
package config

// Config is the top-level configuration tree loaded from config.toml.
type Config struct {
	Session  SessionConfig  `toml:"session"`
	Agent    AgentConfig    `toml:"agent"`
	Watchdog WatchdogConfig `toml:"watchdog"`
	Retry    RetryConfig    `toml:"retry"`
	Backoff  BackoffConfig  `toml:"backoff"`
	Shutdown ShutdownConfig `toml:"shutdown"`
	Hooks    HooksConfig    `toml:"hooks"`
	Prompt   PromptConfig   `toml:"prompt"`
	Storage  StorageConfig  `toml:"storage"`
	Extract  []ExtractRule  `toml:"extract"`
}

type SessionConfig struct {
	MaxIterations int    `toml:"max_iterations"`
	PromptFile    string `toml:"prompt_file"`
	OutputDir     string `toml:"output_dir"`
	OutputPrefix  string `toml:"output_prefix"`
	CounterFile   string `toml:"counter_file"`
}

// PromptVia selects how the prompt is delivered to the agent subprocess.
type PromptVia string

const (
	PromptViaArg   PromptVia = "arg"
	PromptViaStdin PromptVia = "stdin"
	PromptViaFile  PromptVia = "file"
)

type AgentConfig struct {
	Command   string    `toml:"command"`
	Args      []string  `toml:"args"`
	PromptVia PromptVia `toml:"prompt_via"`
	Adapter   string    `toml:"adapter"`
}

type WatchdogConfig struct {
	CheckIntervalSecs int64 `toml:"check_interval_secs"`
	StaleTimeoutMins  int64 `toml:"stale_timeout_mins"`
	MinOutputBytes    int64 `toml:"min_output_bytes"`
}

type RetryConfig struct {
	MaxEmptyRetries int   `toml:"max_empty_retries"`
	RetryDelaySecs  int64 `toml:"retry_delay_secs"`
}

type BackoffConfig struct {
	InitialDelaySecs        int64 `toml:"initial_delay_secs"`
	MaxDelaySecs            int64 `toml:"max_delay_secs"`
	MaxConsecutiveRateLimit int   `toml:"max_consecutive_rate_limits"`
}

type ShutdownConfig struct {
	StopFile string `toml:"stop_file"`
}

type HooksConfig struct {
	PreSession  []string `toml:"pre_session"`
	PostSession []string `toml:"post_session"`
}

type PromptConfig struct {
	File             string   `toml:"file"`
	PrependCommands  []string `toml:"prepend_commands"`
}

type StorageConfig struct {
	CompressAfter int `toml:"compress_after"`
}

// ExtractRule is one configurable extraction-rule record, deserialized once
// per process and compiled by internal/ingest before use.
type ExtractRule struct {
	Kind        string   `toml:"kind"`
	Pattern     string   `toml:"pattern"`
	AntiPattern string   `toml:"anti_pattern"`
	Source      string   `toml:"source"`
	Transform   string   `toml:"transform"`
	FirstMatch  bool     `toml:"first_match"`
	Count       bool     `toml:"count"`
	Emit        any      `toml:"emit"`
	// Tags is usually left unset in config.toml and instead supplied by the
	// optional extract.yaml override (see LoadExtractTags), for teams that
	// prefer a YAML list for large, frequently-edited tag sets.
	Tags []string `toml:"tags"`
}

// Default returns a Config populated with the harness's baked-in defaults.
// Loading a config.toml that omits a section leaves that section's defaults
// in place; TOML fields present in the file override them field by field.
func Default() Config {
	return Config{
		Session: SessionConfig{
			MaxIterations: 25,
			PromptFile:    "PROMPT.md",
			OutputDir:     ".",
			OutputPrefix:  "agent-iteration",
			CounterFile:   ".iteration_counter",
		},
		Agent: AgentConfig{
			Command:   "claude",
			Args:      []string{"-p", "{prompt}", "--verbose", "--output-format", "stream-json"},
			PromptVia: PromptViaArg,
			Adapter:   "claude",
		},
		Watchdog: WatchdogConfig{
			CheckIntervalSecs: 60,
			StaleTimeoutMins:  20,
			MinOutputBytes:    100,
		},
		Retry: RetryConfig{
			MaxEmptyRetries: 2,
			RetryDelaySecs:  5,
		},
		Backoff: BackoffConfig{
			InitialDelaySecs:        2,
			MaxDelaySecs:            600,
			MaxConsecutiveRateLimit: 5,
		},
		Shutdown: ShutdownConfig{
			StopFile: "STOP",
		},
		Storage: StorageConfig{
			CompressAfter: 5,
		},
	}
}

// DefaultTOML is the content written to config.toml when a data directory is
// initialized for the first time.
const DefaultTOML = `# agent harness configuration

[agent]
command = "claude"
args = ["-p", "{prompt}", "--verbose", "--output-format", "stream-json"]

[session]
max_iterations = 25

[storage]
compress_after = 5
`
