// Package search implements relevance scoring and hybrid recall over the
// memory store: vector similarity when embeddings exist, lexical and
// metadata signals always, association and entity expansion on top.
package search

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/orsinium-labs/stopwords"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Weights control the composite relevance score. They should sum to 1;
// when vector similarity is unavailable the remaining weights are
// renormalized so lexical-only scores stay comparable.
type Weights struct {
	Vector     float64
	Recency    float64
	Keyword    float64
	Tag        float64
	Importance float64
}

// DefaultWeights favor semantic similarity but keep lexical and metadata
// signals strong enough to carry retrieval when embeddings are absent.
func DefaultWeights() Weights {
	return Weights{
		Vector:     0.35,
		Recency:    0.20,
		Keyword:    0.20,
		Tag:        0.10,
		Importance: 0.15,
	}
}

// recencyBase gives a half-life of roughly six days of no access.
const recencyBase = 0.995

// Scorer computes composite relevance scores. Pure computation, no I/O.
type Scorer struct {
	weights Weights
	stops   *stopwords.Stopwords
}

// NewScorer creates a scorer with the given weights (zero value means
// DefaultWeights).
func NewScorer(weights Weights) *Scorer {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Scorer{
		weights: weights,
		stops:   stopwords.MustGet("en"),
	}
}

// ScoreInput carries the query-side signals for one memory.
type ScoreInput struct {
	Query string
	Tags  []string

	// VectorSimilarity in [0,1]; HasVector false when the memory had no
	// similarity hit (capability absent or memory not indexed).
	VectorSimilarity float64
	HasVector        bool

	Now time.Time
}

// Score computes the composite relevance of a memory for a query. The raw
// weighted sum is multiplied by the memory's decay factor, so a faded
// memory needs proportionally stronger signals to surface.
func (sc *Scorer) Score(m *store.Memory, in ScoreInput) float64 {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	recency := sc.recencyScore(m.LastAccessed, now)
	keyword := sc.keywordScore(in.Query, m)
	tag := sc.tagScore(in.Query, in.Tags, m)

	w := sc.weights
	score := w.Recency*recency + w.Keyword*keyword + w.Tag*tag + w.Importance*m.Importance

	if in.HasVector {
		score += w.Vector * clamp01(in.VectorSimilarity)
	} else if w.Vector < 1 {
		// Renormalize so lexical-only rankings use the full [0,1] range.
		score /= 1 - w.Vector
	}

	return score * m.DecayFactor
}

func (sc *Scorer) recencyScore(lastAccessed, now time.Time) float64 {
	hours := now.Sub(lastAccessed).Hours()
	if hours <= 0 {
		return 1
	}
	return math.Pow(recencyBase, hours)
}

// keywordScore measures stopword-filtered word overlap between the query
// and the memory. A summary hit counts full weight, a content-only hit
// half, so tight summaries dominate ranking.
func (sc *Scorer) keywordScore(query string, m *store.Memory) float64 {
	queryWords := sc.tokenize(query)
	if len(queryWords) == 0 {
		return 0
	}

	summaryWords := sc.tokenizeSet(m.Summary)
	contentWords := sc.tokenizeSet(m.Content)

	var matched float64
	for _, w := range queryWords {
		if summaryWords[w] {
			matched += 1.0
		} else if contentWords[w] {
			matched += 0.5
		}
	}
	return matched / float64(len(queryWords))
}

// tagScore measures overlap between query terms/requested tags and the
// memory's tags and concepts.
func (sc *Scorer) tagScore(query string, requested []string, m *store.Memory) float64 {
	labels := make(map[string]bool, len(m.Tags)+len(m.Concepts))
	for _, t := range m.Tags {
		labels[strings.ToLower(t)] = true
	}
	for _, c := range m.Concepts {
		labels[strings.ToLower(c)] = true
	}
	if len(labels) == 0 {
		return 0
	}

	terms := sc.tokenize(query)
	for _, t := range requested {
		terms = append(terms, strings.ToLower(t))
	}
	if len(terms) == 0 {
		return 0
	}

	var matched float64
	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true
		if labels[term] {
			matched++
		}
	}
	return clamp01(matched / float64(len(labels)))
}

// tokenize lowercases, splits on non-alphanumeric runes and drops
// stopwords and single characters.
func (sc *Scorer) tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	words := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) < 2 || sc.stops.Contains(f) || seen[f] {
			continue
		}
		seen[f] = true
		words = append(words, f)
	}
	return words
}

func (sc *Scorer) tokenizeSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range sc.tokenize(text) {
		set[w] = true
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
