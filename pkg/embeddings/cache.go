package embeddings

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached decorates an EmbeddingClient with a ristretto cache keyed by text.
// Recall embeds the same queries and entity names over and over; caching
// them avoids burning provider calls on repeats.
type Cached struct {
	inner EmbeddingClient
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding roughly maxEntries embeddings.
func NewCached(inner EmbeddingClient, maxEntries int64) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// EmbedOne returns the cached embedding when present, otherwise delegates
// and caches the result.
func (c *Cached) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if embedding, ok := v.([]float32); ok {
			return embedding, nil
		}
	}

	embedding, err := c.inner.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, embedding, 1)
	return embedding, nil
}

// Embed serves what it can from cache and batches the misses to the inner
// client.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			if embedding, ok := v.([]float32); ok {
				result[i] = embedding
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		fresh, err := c.inner.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(fresh) != len(missTexts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(fresh), len(missTexts))
		}
		for j, embedding := range fresh {
			result[missIdx[j]] = embedding
			c.cache.Set(missTexts[j], embedding, 1)
		}
	}

	return result, nil
}

// Wait flushes pending cache writes. Tests use it for determinism.
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases cache resources.
func (c *Cached) Close() {
	c.cache.Close()
}
