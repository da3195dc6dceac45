// Package embeddings provides the embedding capability used for semantic
// recall. The capability is optional: a nil client anywhere in the engine
// means retrieval degrades to lexical and metadata scoring.
package embeddings

import "context"

// EmbeddingClient generates dense vectors for text.
type EmbeddingClient interface {
	// Embed generates embeddings for multiple texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne generates an embedding for a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}
