// Package ingest turns one session's raw output into the flat stream of
// (kind, value) events the store records: adapter built-in metrics plus
// whatever the configured extraction rules find.
package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ozten/agentharness/internal/adapter"
	"github.com/ozten/agentharness/internal/config"
)

// Event is one extracted (kind, value) pair, value already formatted the
// way it will be stored: floats with six decimal places, everything else in
// its natural decimal or literal form. Tags is a comma-joined freeform list
// carried over from the rule's configured (or extract.yaml-overlaid) tags.
type Event struct {
	Kind  string
	Value string
	Tags  string
}

// Engine evaluates an agent adapter's built-in metrics plus a list of
// configurable extraction rules against one session's output file.
type Engine struct {
	registry *adapter.Registry
}

// NewEngine builds an ingestion engine backed by registry.
func NewEngine(registry *adapter.Registry) *Engine {
	return &Engine{registry: registry}
}

// Ingest extracts every event from the session output at path using
// adapterName's built-in extraction and the configured extraction rules.
// exitCode, when non-nil, is recorded as an additional session.exit_code
// event alongside anything the adapter itself extracted under that kind.
func (e *Engine) Ingest(adapterName, path string, rules []config.ExtractRule, exitCode *int) ([]Event, error) {
	a, err := e.registry.Get(adapterName)
	if err != nil {
		return nil, err
	}

	var events []Event

	builtins, err := a.ExtractBuiltinMetrics(path)
	if err != nil {
		return nil, fmt.Errorf("extracting built-in metrics: %w", err)
	}
	for _, m := range builtins {
		events = append(events, Event{Kind: m.Kind, Value: valueToEventString(m.Value)})
	}
	if exitCode != nil {
		events = append(events, Event{Kind: "session.exit_code", Value: strconv.Itoa(*exitCode)})
	}

	lineCache := map[adapter.ExtractionSource][]string{}
	for _, rule := range rules {
		source, err := adapter.ParseSource(rule.Source)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Kind, err)
		}
		lines, ok := lineCache[source]
		if !ok {
			lines, err = a.LinesForSource(path, source)
			if err != nil {
				return nil, fmt.Errorf("rule %s: reading lines: %w", rule.Kind, err)
			}
			lineCache[source] = lines
		}

		ruleEvents, err := evaluateRule(rule, lines)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Kind, err)
		}
		events = append(events, ruleEvents...)
	}

	return events, nil
}

func evaluateRule(rule config.ExtractRule, lines []string) ([]Event, error) {
	tags := strings.Join(rule.Tags, ",")
	pattern, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern: %w", err)
	}
	var antiPattern *regexp.Regexp
	if rule.AntiPattern != "" {
		antiPattern, err = regexp.Compile(rule.AntiPattern)
		if err != nil {
			return nil, fmt.Errorf("compiling anti_pattern: %w", err)
		}
	}

	var matches []string
	var firstCapture string
	haveFirstCapture := false
	matchCount := 0

	for _, line := range lines {
		if antiPattern != nil && antiPattern.MatchString(line) {
			continue
		}
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		matchCount++

		capture := m[0]
		if len(m) > 1 {
			capture = m[1]
		}
		matches = append(matches, capture)
		if !haveFirstCapture {
			firstCapture = capture
			haveFirstCapture = true
		}
	}

	switch {
	case rule.Emit != nil:
		if matchCount == 0 {
			return nil, nil
		}
		return []Event{{Kind: rule.Kind, Value: valueToEventString(rule.Emit), Tags: tags}}, nil

	case rule.Count:
		return []Event{{Kind: rule.Kind, Value: strconv.Itoa(matchCount), Tags: tags}}, nil

	case rule.FirstMatch:
		if !haveFirstCapture {
			return nil, nil
		}
		v, err := applyTransform(rule.Transform, firstCapture)
		if err != nil {
			return nil, err
		}
		return []Event{{Kind: rule.Kind, Value: v, Tags: tags}}, nil

	default:
		if len(matches) == 0 {
			return nil, nil
		}
		transformed := make([]string, len(matches))
		for i, capture := range matches {
			v, err := applyTransform(rule.Transform, capture)
			if err != nil {
				return nil, err
			}
			transformed[i] = v
		}
		if len(transformed) == 1 {
			return []Event{{Kind: rule.Kind, Value: transformed[0], Tags: tags}}, nil
		}
		encoded, err := json.Marshal(transformed)
		if err != nil {
			return nil, fmt.Errorf("encoding collected matches: %w", err)
		}
		return []Event{{Kind: rule.Kind, Value: string(encoded), Tags: tags}}, nil
	}
}

func applyTransform(transform, value string) (string, error) {
	switch transform {
	case "":
		return value, nil
	case "trim":
		return strings.TrimSpace(value), nil
	case "last_segment":
		parts := strings.Split(value, "-")
		return parts[len(parts)-1], nil
	case "int":
		var digits strings.Builder
		for _, r := range value {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
		return digits.String(), nil
	default:
		return "", fmt.Errorf("unknown transform %q", transform)
	}
}

// valueToEventString formats a built-in metric or configured emit literal
// the way it is stored: floats get six decimal places, everything else its
// natural textual form.
func valueToEventString(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', 6, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', 6, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
