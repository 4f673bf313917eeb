package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the config file at path, merging it onto Default().
// A missing file is not an error: it simply yields the defaults (the data
// directory initializer is responsible for ever writing one to disk). A
// sibling extract.yaml, if present, overlays tags onto the parsed extraction
// rules by kind (see LoadExtractTags).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	tagsPath := filepath.Join(filepath.Dir(path), "extract.yaml")
	tags, err := LoadExtractTags(tagsPath)
	if err != nil {
		return Config{}, err
	}
	for i, rule := range cfg.Extract {
		if t, ok := tags[rule.Kind]; ok {
			cfg.Extract[i].Tags = t
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadExtractTags reads an optional YAML file mapping extraction-rule kind
// to a list of freeform tags, for teams that find a YAML list more
// convenient than a TOML array when a rule set carries many tags. A missing
// file yields no overrides.
func LoadExtractTags(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading extract tags %s: %w", path, err)
	}

	var tags map[string][]string
	if err := yaml.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("parsing extract tags %s: %w", path, err)
	}
	return tags, nil
}

// Validate rejects configuration combinations that can never produce a
// sensible run, rather than letting them surface as confusing runtime panics.
func (c Config) Validate() error {
	if c.Session.MaxIterations < 0 {
		return fmt.Errorf("session.max_iterations must be >= 0, got %d", c.Session.MaxIterations)
	}
	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command must not be empty")
	}
	switch c.Agent.PromptVia {
	case "", PromptViaArg, PromptViaStdin, PromptViaFile:
	default:
		return fmt.Errorf("agent.prompt_via must be one of arg, stdin, file; got %q", c.Agent.PromptVia)
	}
	if c.Watchdog.CheckIntervalSecs <= 0 {
		return fmt.Errorf("watchdog.check_interval_secs must be > 0")
	}
	if c.Retry.MaxEmptyRetries < 0 {
		return fmt.Errorf("retry.max_empty_retries must be >= 0")
	}
	if c.Backoff.InitialDelaySecs <= 0 {
		return fmt.Errorf("backoff.initial_delay_secs must be > 0")
	}
	if c.Backoff.MaxDelaySecs < c.Backoff.InitialDelaySecs {
		return fmt.Errorf("backoff.max_delay_secs must be >= backoff.initial_delay_secs")
	}
	for i, r := range c.Extract {
		if r.Kind == "" {
			return fmt.Errorf("extract[%d]: kind must not be empty", i)
		}
		if r.Pattern == "" {
			return fmt.Errorf("extract[%d] %q: pattern must not be empty", i, r.Kind)
		}
		modes := 0
		if r.FirstMatch {
			modes++
		}
		if r.Count {
			modes++
		}
		if r.Emit != nil {
			modes++
		}
		if modes > 1 {
			return fmt.Errorf("extract[%d] %q: first_match, count, and emit are mutually exclusive", i, r.Kind)
		}
	}
	return nil
}
