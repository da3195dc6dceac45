package store

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
)

// ChromemIndex backs VectorIndex with an embedded chromem-go collection.
// All embeddings are supplied pre-computed; the collection never calls out
// to an embedding provider itself.
type ChromemIndex struct {
	collection *chromem.Collection
}

// NewChromemDB creates an in-process chromem database. Pass persistDir to
// keep vectors across restarts; empty means in-memory only.
func NewChromemDB(persistDir string) (*chromem.DB, error) {
	if persistDir == "" {
		return chromem.NewDB(), nil
	}
	db, err := chromem.NewPersistentDB(persistDir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	return db, nil
}

// NewChromemIndex creates (or reopens) a named collection in db.
func NewChromemIndex(db *chromem.DB, name string) (*ChromemIndex, error) {
	col, err := db.GetOrCreateCollection(name, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return &ChromemIndex{collection: col}, nil
}

// rejectEmbeddingFunc guards against documents added without an embedding.
func rejectEmbeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings must be supplied explicitly")
}

func (c *ChromemIndex) Add(ctx context.Context, id string, embedding []float32) error {
	err := c.collection.AddDocument(ctx, chromem.Document{
		ID: id,
		// chromem requires non-empty content; the id stands in since
		// retrieval only uses ids and similarities.
		Content:   id,
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("failed to index vector: %w", err)
	}
	return nil
}

func (c *ChromemIndex) Search(ctx context.Context, embedding []float32, limit int) ([]VectorHit, error) {
	count := c.collection.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := c.collection.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, VectorHit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

func (c *ChromemIndex) Delete(ctx context.Context, id string) error {
	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}
