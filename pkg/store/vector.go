package store

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"sync"
)

// VectorIndex is the similarity-search capability. Implementations must be
// safe for concurrent use. A nil index means the capability is absent.
type VectorIndex interface {
	// Add indexes an embedding under id, replacing any previous entry.
	Add(ctx context.Context, id string, embedding []float32) error

	// Search returns up to limit ids most similar to the query embedding,
	// best first.
	Search(ctx context.Context, embedding []float32, limit int) ([]VectorHit, error)

	// Delete removes an entry. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}

// VectorHit is one similarity-search result.
type VectorHit struct {
	ID         string
	Similarity float64
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MemoryVectorIndex is a brute-force in-memory index. Suitable for tests and
// small collections; production setups use the chromem-backed index.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemoryVectorIndex creates an empty in-memory index.
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{vectors: make(map[string][]float32)}
}

func (idx *MemoryVectorIndex) Add(_ context.Context, id string, embedding []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	idx.vectors[id] = vec
	return nil
}

func (idx *MemoryVectorIndex) Search(_ context.Context, embedding []float32, limit int) ([]VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]VectorHit, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		hits = append(hits, VectorHit{ID: id, Similarity: CosineSimilarity(embedding, vec)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (idx *MemoryVectorIndex) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vectors, id)
	return nil
}

// Len returns the number of indexed vectors.
func (idx *MemoryVectorIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// serializeEmbedding encodes a vector as little-endian float32 bytes for
// BLOB storage. Nil for empty vectors.
func serializeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding
}
