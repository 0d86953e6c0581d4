// Package metrics provides token usage and cost tracking for Gemini task runs.
package metrics

import (
	"fmt"
	"time"
)

// TokenMetrics holds token usage and cost data reported by one Gemini run.
type TokenMetrics struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	ToolCalls    int `json:"tool_calls"`

	Duration time.Duration `json:"duration"`

	// TotalCostUSD is nil when the CLI did not report a cost.
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
}

// FormatTokensDisplay returns a compact token summary (e.g., "12k in / 3k out").
func (m TokenMetrics) FormatTokensDisplay() string {
	return fmt.Sprintf("%s in / %s out", formatCount(m.InputTokens), formatCount(m.OutputTokens))
}

// FormatCostDisplay returns a human-readable cost string (e.g., "$0.0892").
// Returns "-" when no cost was reported.
func (m TokenMetrics) FormatCostDisplay() string {
	if m.TotalCostUSD == nil {
		return "-"
	}
	return fmt.Sprintf("$%.4f", *m.TotalCostUSD)
}

// String renders the summary printed after a CLI task run.
func (m TokenMetrics) String() string {
	return fmt.Sprintf("tokens: %s, tools: %d, cost: %s, took %s",
		m.FormatTokensDisplay(), m.ToolCalls, m.FormatCostDisplay(), m.Duration.Round(time.Millisecond))
}

func formatCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%dk", n/1000)
}
