package engine

import (
	"context"
	"strings"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is an internal message representation that can include system prompts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// modelRates is USD per 1K tokens, input/output. Unknown models fall back to
// the most expensive known rate so cost is never under-reported.
var modelRates = map[string]struct{ in, out float64 }{
	"anthropic.claude-3-haiku-20240307-v1:0":  {0.00025, 0.00125},
	"anthropic.claude-3-sonnet-20240229-v1:0": {0.003, 0.015},
	"gemini-2.5-flash":                        {0.00015, 0.0006},
	"gemini-2.5-pro":                          {0.00125, 0.01},
}

const fallbackInputRate, fallbackOutputRate = 0.003, 0.015

// InferenceCostUSD estimates the billable cost of one completion.
func InferenceCostUSD(model string, usage TokenUsage) float64 {
	rates, ok := modelRates[strings.TrimSpace(model)]
	if !ok {
		rates = struct{ in, out float64 }{fallbackInputRate, fallbackOutputRate}
	}
	return float64(usage.InputTokens)/1000*rates.in + float64(usage.OutputTokens)/1000*rates.out
}
