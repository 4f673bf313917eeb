package adapter

import (
	"regexp"
	"strconv"
	"strings"
)

// AiderAdapter parses aider's plain-text chat transcript. aider has no
// structured output mode: turns are delimited by "> "-prefixed prompt
// echoes, and running cost is only ever restated as free text ("Tokens:
// ... Cost: $0.0421 session"), so the last such line before EOF is
// authoritative.
type AiderAdapter struct{}

func NewAiderAdapter() *AiderAdapter { return &AiderAdapter{} }

func (a *AiderAdapter) Name() string { return "aider" }

func (a *AiderAdapter) SupportedMetrics() []string {
	return []string{
		"turns.total",
		"turns.tool_calls",
		"cost.estimate_usd",
	}
}

var aiderCostRe = regexp.MustCompile(`\$([0-9]+(?:\.[0-9]+)?)`)

func isTurnBoundary(line string) bool {
	return line == ">" || strings.HasPrefix(line, "> ")
}

func (a *AiderAdapter) ExtractBuiltinMetrics(path string) ([]Metric, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var totalTurns, toolCallTurns int64
	var lastCost float64
	haveCost := false

	inAssistantBlock := false
	blockHasContent := false

	for _, line := range lines {
		if strings.HasPrefix(line, "Running: ") || strings.HasPrefix(line, "> /run ") {
			toolCallTurns++
		}
		if strings.Contains(line, "session") {
			if m := aiderCostRe.FindAllStringSubmatch(line, -1); len(m) > 0 {
				last := m[len(m)-1]
				if v, err := strconv.ParseFloat(last[1], 64); err == nil {
					lastCost = v
					haveCost = true
				}
			}
		}

		if isTurnBoundary(line) {
			if inAssistantBlock && blockHasContent {
				totalTurns++
			}
			inAssistantBlock = false
			blockHasContent = false
		} else if line != "" {
			inAssistantBlock = true
			blockHasContent = true
		}
	}
	if inAssistantBlock && blockHasContent {
		totalTurns++
	}

	metrics := []Metric{
		{Kind: "turns.total", Value: totalTurns},
		{Kind: "turns.tool_calls", Value: toolCallTurns},
	}
	if haveCost {
		metrics = append(metrics, Metric{Kind: "cost.estimate_usd", Value: lastCost})
	}
	return metrics, nil
}

// LinesForSource strips the "Running: "/"> /run " tool-command prefix for
// SourceToolCommands, returns non-boundary prose lines for SourceText, and
// the untouched transcript for SourceRaw.
func (a *AiderAdapter) LinesForSource(path string, source ExtractionSource) ([]string, error) {
	if source == SourceRaw {
		return readLines(path)
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range lines {
		switch source {
		case SourceToolCommands:
			switch {
			case strings.HasPrefix(line, "Running: "):
				out = append(out, strings.TrimPrefix(line, "Running: "))
			case strings.HasPrefix(line, "> /run "):
				out = append(out, strings.TrimPrefix(line, "> /run "))
			}
		case SourceText:
			if !isTurnBoundary(line) && line != "" {
				out = append(out, line)
			}
		}
	}
	return out, nil
}
