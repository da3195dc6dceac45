package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeLLM struct {
	response string
	err      error
}

func (f fakeLLM) Complete(context.Context, string) (string, error) {
	return f.response, f.err
}

func (f fakeLLM) CompleteWithSchema(_ context.Context, _ string, schema any) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(StripMarkdownCodeFence(f.response)), schema)
}

func TestScoreImportanceFromModel(t *testing.T) {
	client := fakeLLM{response: `{"score": 8, "reason": "identity-relevant"}`}
	got := ScoreImportance(context.Background(), client, "episodic", "something")
	assert.InDelta(t, 0.8, got, 1e-9)
}

func TestScoreImportanceFallsBackOnError(t *testing.T) {
	client := fakeLLM{err: errors.New("provider down")}
	got := ScoreImportance(context.Background(), client, "episodic", "plain note")
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestScoreImportanceFallsBackOnOutOfRange(t *testing.T) {
	client := fakeLLM{response: `{"score": 42}`}
	got := ScoreImportance(context.Background(), client, "episodic", "plain note")
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestScoreImportanceNilClient(t *testing.T) {
	got := ScoreImportance(context.Background(), nil, "episodic", "plain note")
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestFallbackImportanceKeywords(t *testing.T) {
	plain := FallbackImportance("had lunch")
	strong := FallbackImportance("first time I realized this pattern, an important breakthrough")

	assert.InDelta(t, 0.5, plain, 1e-9)
	assert.Greater(t, strong, plain)
	assert.LessOrEqual(t, strong, 0.9)
}

func TestStripMarkdownCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMarkdownCodeFence(tt.input))
		})
	}
}
