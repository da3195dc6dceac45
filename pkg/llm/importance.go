package llm

import (
	"context"
	"fmt"
	"strings"
)

const importancePromptTemplate = `Rate how important this memory is for a conversational agent to retain long-term, on a scale of 1 to 10.

Consider: emotional significance, novelty, usefulness for future conversations, and relevance to the agent's identity.

Memory type: %s
Memory: %s

Respond with JSON: {"score": <1-10>, "reason": "<one sentence>"}`

type importanceResponse struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// ScoreImportance asks the model to rate a memory 1-10 and maps the result
// to [0,1]. On any call or parse failure the deterministic rule-based
// fallback is used instead, so storing never blocks on the model.
func ScoreImportance(ctx context.Context, client LLMClient, memType, content string) float64 {
	if client == nil {
		return FallbackImportance(content)
	}

	var resp importanceResponse
	err := client.CompleteWithSchema(ctx, fmt.Sprintf(importancePromptTemplate, memType, content), &resp)
	if err != nil || resp.Score < 1 || resp.Score > 10 {
		return FallbackImportance(content)
	}
	return resp.Score / 10
}

// Keyword buckets for the rule-based fallback.
var (
	highSignal = []string{
		"first time", "never", "always", "important", "breakthrough", "realized",
		"decided", "promise", "love", "hate", "died", "born", "launch",
	}
	midSignal = []string{
		"learned", "noticed", "pattern", "changed", "met", "significant",
		"milestone", "trust",
	}
)

// FallbackImportance is the deterministic importance heuristic: a 0.5
// baseline nudged by signal keywords, clamped to [0.1, 0.9] so the model
// path keeps the extremes.
func FallbackImportance(content string) float64 {
	lower := strings.ToLower(content)

	score := 0.5
	for _, kw := range highSignal {
		if strings.Contains(lower, kw) {
			score += 0.15
		}
	}
	for _, kw := range midSignal {
		if strings.Contains(lower, kw) {
			score += 0.05
		}
	}

	if score > 0.9 {
		return 0.9
	}
	if score < 0.1 {
		return 0.1
	}
	return score
}
