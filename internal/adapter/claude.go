package adapter

import (
	"encoding/json"
	"os"
)

// ClaudeAdapter parses Claude Code's `--output-format stream-json` transcript:
// one JSON event object per line, with assistant turns carrying a `message`
// envelope and a terminal `result` event carrying aggregate usage.
type ClaudeAdapter struct{}

func NewClaudeAdapter() *ClaudeAdapter { return &ClaudeAdapter{} }

func (a *ClaudeAdapter) Name() string { return "claude" }

func (a *ClaudeAdapter) SupportedMetrics() []string {
	return []string{
		"turns.total",
		"turns.tool_calls",
		"turns.parallel",
		"turns.narration_only",
		"cost.input_tokens",
		"cost.output_tokens",
		"cost.cache_read_tokens",
		"cost.cache_creation_tokens",
		"cost.estimate_usd",
		"session.duration_ms",
		"session.output_bytes",
	}
}

type claudeEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
		} `json:"content"`
	} `json:"message"`
	DurationMS int64                       `json:"duration_ms"`
	ModelUsage map[string]claudeModelUsage `json:"modelUsage"`
}

type claudeModelUsage struct {
	InputTokens          int64   `json:"inputTokens"`
	OutputTokens         int64   `json:"outputTokens"`
	CacheReadInputTokens int64   `json:"cacheReadInputTokens"`
	CacheCreationTokens  int64   `json:"cacheCreationInputTokens"`
	CostUSD              float64 `json:"costUSD"`
}

// ExtractBuiltinMetrics counts assistant turns by tool-call shape and sums
// token/cost usage across every model named in the terminal result event's
// modelUsage map.
func (a *ClaudeAdapter) ExtractBuiltinMetrics(path string) ([]Metric, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var totalTurns, toolCalls, parallelTurns, narrationOnlyTurns int64
	var inputTokens, outputTokens, cacheReadTokens, cacheCreationTokens int64
	var costUSD float64
	var durationMS int64
	haveResult := false

	for _, line := range lines {
		if line == "" {
			continue
		}
		var ev claudeEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}

		if ev.Type == "assistant" && ev.Message != nil {
			totalTurns++
			toolUses := 0
			for _, block := range ev.Message.Content {
				if block.Type == "tool_use" {
					toolUses++
				}
			}
			toolCalls += int64(toolUses)
			switch {
			case toolUses > 1:
				parallelTurns++
			case toolUses == 0:
				narrationOnlyTurns++
			}
		}

		if ev.Type == "result" {
			haveResult = true
			durationMS = ev.DurationMS
			for _, usage := range ev.ModelUsage {
				inputTokens += usage.InputTokens
				outputTokens += usage.OutputTokens
				cacheReadTokens += usage.CacheReadInputTokens
				cacheCreationTokens += usage.CacheCreationTokens
				costUSD += usage.CostUSD
			}
		}
	}

	metrics := []Metric{
		{Kind: "turns.total", Value: totalTurns},
		{Kind: "turns.tool_calls", Value: toolCalls},
		{Kind: "turns.parallel", Value: parallelTurns},
		{Kind: "turns.narration_only", Value: narrationOnlyTurns},
	}
	if haveResult {
		metrics = append(metrics,
			Metric{Kind: "cost.input_tokens", Value: inputTokens},
			Metric{Kind: "cost.output_tokens", Value: outputTokens},
			Metric{Kind: "cost.cache_read_tokens", Value: cacheReadTokens},
			Metric{Kind: "cost.cache_creation_tokens", Value: cacheCreationTokens},
			Metric{Kind: "cost.estimate_usd", Value: costUSD},
			Metric{Kind: "session.duration_ms", Value: durationMS},
		)
	}

	if info, err := os.Stat(path); err == nil {
		metrics = append(metrics, Metric{Kind: "session.output_bytes", Value: info.Size()})
	}

	return metrics, nil
}

// LinesForSource projects the NDJSON event stream down to the requested
// view: tool-invocation command strings, assistant free text, or raw lines.
func (a *ClaudeAdapter) LinesForSource(path string, source ExtractionSource) ([]string, error) {
	if source == SourceRaw {
		return readLines(path)
	}

	raw, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range raw {
		if line == "" {
			continue
		}
		var ev struct {
			Type    string `json:"type"`
			Message *struct {
				Content []struct {
					Type  string `json:"type"`
					Text  string `json:"text"`
					Input struct {
						Command string `json:"command"`
					} `json:"input"`
				} `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Type != "assistant" || ev.Message == nil {
			continue
		}
		for _, block := range ev.Message.Content {
			switch source {
			case SourceToolCommands:
				if block.Type == "tool_use" && block.Input.Command != "" {
					out = append(out, block.Input.Command)
				}
			case SourceText:
				if block.Type == "text" && block.Text != "" {
					out = append(out, block.Text)
				}
			}
		}
	}
	return out, nil
}
