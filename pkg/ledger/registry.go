// Package ledger notarizes memories on an external registry: a content
// hash committed under the memory id, verifiable later to prove a memory
// was not altered. Commits are best-effort side effects of storing.
package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Registry is the notarization capability. Nil means the capability is
// absent and memories simply go unnotarized.
type Registry interface {
	// Commit registers a memory's content hash. Committing the same hash
	// twice is rejected by the registry.
	Commit(ctx context.Context, rec Record) error

	// Verify reports whether the stored hash for a memory matches.
	Verify(ctx context.Context, memoryID string, contentHash [32]byte) (bool, error)
}

// Record is one notarization entry.
type Record struct {
	MemoryID    string
	ContentHash [32]byte
	MemoryType  string
	// ImportanceTier buckets importance: 0 low (<0.3), 1 medium, 2 high (>0.7).
	ImportanceTier uint8
	Encrypted      bool
}

// HashContent produces the canonical content hash for notarization.
func HashContent(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}

// TierFor buckets an importance value for the registry.
func TierFor(importance float64) uint8 {
	switch {
	case importance > 0.7:
		return 2
	case importance < 0.3:
		return 0
	default:
		return 1
	}
}

// HTTPRegistry talks to a registry service over JSON/HTTP.
type HTTPRegistry struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRegistry creates a registry client for the service at baseURL.
func NewHTTPRegistry(baseURL string) *HTTPRegistry {
	return &HTTPRegistry{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type commitRequest struct {
	MemoryID       string `json:"memory_id"`
	ContentHash    string `json:"content_hash"`
	MemoryType     string `json:"memory_type"`
	ImportanceTier uint8  `json:"importance_tier"`
	Encrypted      bool   `json:"encrypted"`
}

type verifyResponse struct {
	ContentHash string `json:"content_hash"`
}

// Commit posts the record to the registry. A 409 means the hash is already
// registered and surfaces as an error.
func (r *HTTPRegistry) Commit(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(commitRequest{
		MemoryID:       rec.MemoryID,
		ContentHash:    hex.EncodeToString(rec.ContentHash[:]),
		MemoryType:     rec.MemoryType,
		ImportanceTier: rec.ImportanceTier,
		Encrypted:      rec.Encrypted,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal commit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/memories", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create commit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry commit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("content hash already registered for %s", rec.MemoryID)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Verify fetches the registered hash and compares.
func (r *HTTPRegistry) Verify(ctx context.Context, memoryID string, contentHash [32]byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/memories/"+memoryID, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create verify request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("registry verify failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("registry returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("failed to decode verify response: %w", err)
	}

	return parsed.ContentHash == hex.EncodeToString(contentHash[:]), nil
}
