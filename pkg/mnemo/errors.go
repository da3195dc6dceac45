package mnemo

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Error categories used as metrics labels.
const (
	ErrTypeNetwork    = "network"
	ErrTypeTimeout    = "timeout"
	ErrTypeLLM        = "llm"
	ErrTypeDatabase   = "database"
	ErrTypeValidation = "validation"
	ErrTypeUnknown    = "unknown"
)

// ClassifyError maps an error to a coarse category so failures can be
// grouped in metrics without unbounded label cardinality.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}
	if errors.Is(err, store.ErrMemoryNotFound) || errors.Is(err, store.ErrEntityNotFound) {
		return ErrTypeDatabase
	}
	if errors.Is(err, store.ErrSelfLink) || errors.Is(err, store.ErrSelfRelation) {
		return ErrTypeValidation
	}

	lower := strings.ToLower(err.Error())

	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return ErrTypeTimeout
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ErrTypeNetwork
	}
	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "dial tcp") ||
		strings.Contains(lower, "eof") {
		return ErrTypeNetwork
	}

	if strings.Contains(lower, "api error") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "embedding") ||
		strings.Contains(lower, "completion") ||
		strings.Contains(lower, "openai") {
		return ErrTypeLLM
	}

	if strings.Contains(lower, "sql") ||
		strings.Contains(lower, "database") ||
		strings.Contains(lower, "constraint") {
		return ErrTypeDatabase
	}

	if strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "required") ||
		strings.Contains(lower, "cannot be empty") ||
		strings.Contains(lower, "must be") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
