// Package adapter normalizes agent-specific session output into the
// harness's uniform metric vocabulary. Each Adapter turns one session output
// file into (kind, value) metric pairs and exposes raw line streams that the
// configurable extraction-rule engine (internal/ingest) scans.
package adapter

import "fmt"

// ExtractionSource selects what lines an adapter hands back for configurable
// extraction rules to scan.
type ExtractionSource int

const (
	// SourceToolCommands yields tool-invocation command lines (e.g. the
	// command string inside a tool_use input.command field).
	SourceToolCommands ExtractionSource = iota
	// SourceText yields assistant free-text output blocks.
	SourceText
	// SourceRaw yields unprocessed raw file lines.
	SourceRaw
)

// ParseSource maps a config-file string ("tool_commands", "text", "raw") to
// its ExtractionSource value.
func ParseSource(s string) (ExtractionSource, error) {
	switch s {
	case "tool_commands":
		return SourceToolCommands, nil
	case "text":
		return SourceText, nil
	case "raw", "":
		return SourceRaw, nil
	default:
		return 0, fmt.Errorf("unknown extraction source %q", s)
	}
}

// Metric is one built-in (kind, value) pair an adapter extracted from a
// session file. Value is a JSON-typed scalar: string, float64, int64, or
// bool.
type Metric struct {
	Kind  string
	Value any
}

// Adapter normalizes one agent's session output format into the harness's
// metric vocabulary. Implementations are stateless and safe to share across
// goroutines.
type Adapter interface {
	// Name is the adapter's identifier, matched against config's agent.adapter.
	Name() string

	// ExtractBuiltinMetrics reads the session file at path and returns
	// whatever built-in metrics this adapter's format supports. Metrics the
	// format doesn't carry are simply absent, not zero-valued.
	ExtractBuiltinMetrics(path string) ([]Metric, error)

	// SupportedMetrics lists every kind this adapter can ever produce,
	// independent of whether a given session actually produced it.
	SupportedMetrics() []string

	// LinesForSource returns the line stream the configurable extraction-rule
	// engine should scan for the given source kind.
	LinesForSource(path string, source ExtractionSource) ([]string, error)
}

// Registry resolves an adapter by the name configured in agent.adapter.
type Registry struct {
	byName map[string]Adapter
}

// NewRegistry builds a registry seeded with the harness's built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Adapter)}
	r.Register(NewClaudeAdapter())
	r.Register(NewOpenCodeAdapter())
	r.Register(NewAiderAdapter())
	r.Register(NewRawAdapter())
	return r
}

// Register adds or replaces an adapter under its own Name().
func (r *Registry) Register(a Adapter) {
	r.byName[a.Name()] = a
}

// Get resolves an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
	return a, nil
}
