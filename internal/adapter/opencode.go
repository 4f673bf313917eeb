package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// OpenCodeAdapter parses opencode session transcripts. opencode has shipped
// its session dump in three shapes over time, all of which hold a flat list
// of message objects: a JSONL stream (one message per line), a bare JSON
// array of messages, or a wrapping object under "messages" or
// "session.messages". This adapter accepts all three.
type OpenCodeAdapter struct{}

func NewOpenCodeAdapter() *OpenCodeAdapter { return &OpenCodeAdapter{} }

func (a *OpenCodeAdapter) Name() string { return "opencode" }

// SupportedMetrics omits the Claude-specific turn-shape breakdown
// (turns.parallel, turns.narration_only); opencode's transcript doesn't
// distinguish single- from multi-tool-call turns.
func (a *OpenCodeAdapter) SupportedMetrics() []string {
	return []string{
		"turns.total",
		"turns.tool_calls",
		"cost.input_tokens",
		"cost.output_tokens",
		"cost.cache_read_tokens",
		"cost.cache_write_tokens",
		"cost.estimate_usd",
	}
}

type opencodeMessagePart struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Tool  string `json:"tool"`
	State struct {
		Input struct {
			Command string `json:"command"`
		} `json:"input"`
	} `json:"state"`
}

type opencodeMessage struct {
	Role   string                `json:"role"`
	Parts  []opencodeMessagePart `json:"parts"`
	Tokens *struct {
		Input     int64 `json:"input"`
		Output    int64 `json:"output"`
		Reasoning int64 `json:"reasoning"`
		Cache     struct {
			Read  int64 `json:"read"`
			Write int64 `json:"write"`
		} `json:"cache"`
	} `json:"tokens"`
	Cost float64 `json:"cost"`
}

type opencodeWrapper struct {
	Messages []opencodeMessage `json:"messages"`
	Session  *struct {
		Messages []opencodeMessage `json:"messages"`
	} `json:"session"`
}

// loadMessages tries, in order: a wrapping object ({messages:[...]} or
// {session:{messages:[...]}}), a bare JSON array, then falls back to JSONL
// (one message object per line).
func loadMessages(path string) ([]opencodeMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper opencodeWrapper
		if err := json.Unmarshal(trimmed, &wrapper); err == nil {
			if wrapper.Session != nil && len(wrapper.Session.Messages) > 0 {
				return wrapper.Session.Messages, nil
			}
			if len(wrapper.Messages) > 0 {
				return wrapper.Messages, nil
			}
		}
	}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []opencodeMessage
		if err := json.Unmarshal(trimmed, &msgs); err == nil {
			return msgs, nil
		}
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	var msgs []opencodeMessage
	for _, line := range lines {
		if line == "" {
			continue
		}
		var m opencodeMessage
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (a *OpenCodeAdapter) ExtractBuiltinMetrics(path string) ([]Metric, error) {
	msgs, err := loadMessages(path)
	if err != nil {
		return nil, err
	}

	var totalTurns, toolCallTurns int64
	var inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int64
	var costUSD float64

	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		totalTurns++
		for _, p := range m.Parts {
			if p.Type == "tool" {
				toolCallTurns++
				break
			}
		}
		if m.Tokens != nil {
			inputTokens += m.Tokens.Input
			outputTokens += m.Tokens.Output
			cacheReadTokens += m.Tokens.Cache.Read
			cacheWriteTokens += m.Tokens.Cache.Write
		}
		costUSD += m.Cost
	}

	return []Metric{
		{Kind: "turns.total", Value: totalTurns},
		{Kind: "turns.tool_calls", Value: toolCallTurns},
		{Kind: "cost.input_tokens", Value: inputTokens},
		{Kind: "cost.output_tokens", Value: outputTokens},
		{Kind: "cost.cache_read_tokens", Value: cacheReadTokens},
		{Kind: "cost.cache_write_tokens", Value: cacheWriteTokens},
		{Kind: "cost.estimate_usd", Value: costUSD},
	}, nil
}

func (a *OpenCodeAdapter) LinesForSource(path string, source ExtractionSource) ([]string, error) {
	if source == SourceRaw {
		return readLines(path)
	}

	msgs, err := loadMessages(path)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		for _, p := range m.Parts {
			switch source {
			case SourceToolCommands:
				if p.Type == "tool" && p.State.Input.Command != "" {
					out = append(out, p.State.Input.Command)
				}
			case SourceText:
				if p.Type == "text" && p.Text != "" {
					out = append(out, p.Text)
				}
			}
		}
	}
	return out, nil
}
