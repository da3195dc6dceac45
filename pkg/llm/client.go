// Package llm provides the language-model capability used by importance
// scoring and the dream cycle. The capability is optional: a nil client
// means those features fall back to deterministic heuristics or skip.
package llm

import "context"

// LLMClient is the completion interface.
type LLMClient interface {
	// Complete sends a prompt and returns the raw completion text.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSchema sends a prompt and unmarshals the JSON response
	// into schema (a pointer to the target struct). Markdown code fences
	// around the JSON are tolerated.
	CompleteWithSchema(ctx context.Context, prompt string, schema any) error
}
