// Package assoc builds the association graph: typed, weighted links between
// memories, created automatically when a memory is stored.
package assoc

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Classifier decides the bond type and strength between a new memory and a
// candidate. Returning ok=false means no link.
type Classifier interface {
	Classify(newMem, candidate *store.Memory) (linkType store.LinkType, strength float64, ok bool)
}

// LinkerConfig wires the linker. Store is required; the vector index and
// embedder are optional (candidate discovery then falls back to concept and
// tag overlap).
type LinkerConfig struct {
	Store       *store.Store
	MemoryIndex store.VectorIndex
	Embedder    Embedder
	Classifier  Classifier
	Logger      *log.Logger

	// MaxLinks caps links created per stored memory. Default 5.
	MaxLinks int
	// SimilarityFloor gates vector candidates. Default 0.65.
	SimilarityFloor float64
}

// Embedder is the slice of the embedding capability the linker needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

func (c *LinkerConfig) applyDefaults() {
	if c.Classifier == nil {
		c.Classifier = RuleClassifier{}
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.MaxLinks <= 0 {
		c.MaxLinks = 5
	}
	if c.SimilarityFloor == 0 {
		c.SimilarityFloor = 0.65
	}
}

// Linker creates association links for newly stored memories.
type Linker struct {
	cfg    LinkerConfig
	logger *log.Logger
}

// NewLinker creates a linker. Store is required.
func NewLinker(cfg LinkerConfig) (*Linker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg.applyDefaults()
	return &Linker{cfg: cfg, logger: cfg.Logger.With("component", "assoc")}, nil
}

// AutoLink creates links for a newly stored memory: supports edges to its
// evidence, then classified edges to similar or overlapping memories.
// Returns the number of links created. Candidate-discovery failures degrade
// to fewer links, never an error.
func (l *Linker) AutoLink(ctx context.Context, m *store.Memory) (int, error) {
	created := 0

	// Evidence is an explicit, high-confidence bond.
	for _, evidenceID := range m.EvidenceIDs {
		if evidenceID == m.ID {
			continue
		}
		err := l.cfg.Store.UpsertLink(ctx, &store.Link{
			SourceID: m.ID, TargetID: evidenceID, Type: store.LinkSupports, Strength: 0.9,
		})
		if err != nil {
			return created, fmt.Errorf("failed to link evidence: %w", err)
		}
		created++
	}

	candidates := l.findCandidates(ctx, m)
	for _, candidate := range candidates {
		if created >= l.cfg.MaxLinks {
			break
		}
		if candidate.ID == m.ID {
			continue
		}

		linkType, strength, ok := l.cfg.Classifier.Classify(m, candidate)
		if !ok {
			continue
		}

		err := l.cfg.Store.UpsertLink(ctx, &store.Link{
			SourceID: m.ID, TargetID: candidate.ID, Type: linkType, Strength: strength,
		})
		if err != nil {
			return created, fmt.Errorf("failed to create link: %w", err)
		}
		created++
	}

	return created, nil
}

// findCandidates discovers link candidates by vector similarity when the
// capability is present, falling back to concept/tag-overlap queries.
func (l *Linker) findCandidates(ctx context.Context, m *store.Memory) []*store.Memory {
	if l.cfg.MemoryIndex != nil && l.cfg.Embedder != nil {
		if candidates := l.vectorCandidates(ctx, m); candidates != nil {
			return candidates
		}
	}
	return l.overlapCandidates(ctx, m)
}

func (l *Linker) vectorCandidates(ctx context.Context, m *store.Memory) []*store.Memory {
	embedding := m.Embedding
	if len(embedding) == 0 {
		var err error
		embedding, err = l.cfg.Embedder.EmbedOne(ctx, m.Summary)
		if err != nil {
			l.logger.Warn("candidate embedding failed", "error", err)
			return nil
		}
	}

	hits, err := l.cfg.MemoryIndex.Search(ctx, embedding, l.cfg.MaxLinks*2)
	if err != nil {
		l.logger.Warn("candidate vector search failed", "error", err)
		return nil
	}

	var ids []string
	for _, h := range hits {
		if h.ID != m.ID && h.Similarity >= l.cfg.SimilarityFloor {
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	memories, err := l.cfg.Store.GetByIDs(ctx, ids)
	if err != nil {
		l.logger.Warn("candidate fetch failed", "error", err)
		return nil
	}
	return memories
}

func (l *Linker) overlapCandidates(ctx context.Context, m *store.Memory) []*store.Memory {
	labels := append(append([]string{}, m.Tags...), m.Concepts...)
	if len(labels) == 0 {
		return nil
	}

	memories, err := l.cfg.Store.Query(ctx, store.QueryFilter{
		Tags:  labels,
		Limit: l.cfg.MaxLinks * 2,
	})
	if err != nil {
		l.logger.Warn("overlap candidate query failed", "error", err)
		return nil
	}
	return memories
}

// RuleClassifier is the default bond classifier. Rules are checked in
// order; the first match wins.
type RuleClassifier struct {
	// FollowWindow bounds how close in time two same-user episodes must be
	// to count as sequential. Zero means 6 hours.
	FollowWindow time.Duration
}

func (rc RuleClassifier) Classify(newMem, candidate *store.Memory) (store.LinkType, float64, bool) {
	window := rc.FollowWindow
	if window == 0 {
		window = 6 * time.Hour
	}

	overlap := conceptOverlap(newMem, candidate)

	// Same thread of events for the same person, close in time.
	if newMem.RelatedUser != "" && newMem.RelatedUser == candidate.RelatedUser &&
		newMem.Type == store.TypeEpisodic && candidate.Type == store.TypeEpisodic &&
		absDuration(newMem.CreatedAt.Sub(candidate.CreatedAt)) <= window {
		return store.LinkFollows, 0.7, true
	}

	// Shared subject but opposite emotional charge reads as tension.
	if overlap > 0 && valenceDivergence(newMem, candidate) {
		return store.LinkContradicts, 0.6, true
	}

	// A distilled pattern elaborating on a raw episode.
	if overlap > 0 && newMem.Type == store.TypeSemantic && candidate.Type == store.TypeEpisodic {
		return store.LinkElaborates, 0.7, true
	}

	if overlap > 0 {
		return store.LinkRelates, 0.4 + 0.2*overlap, true
	}

	return "", 0, false
}

// conceptOverlap returns the Jaccard overlap of tags+concepts, in [0,1].
func conceptOverlap(a, b *store.Memory) float64 {
	setA := labelSet(a)
	setB := labelSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for label := range setA {
		if setB[label] {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}

func labelSet(m *store.Memory) map[string]bool {
	set := make(map[string]bool, len(m.Tags)+len(m.Concepts))
	for _, t := range m.Tags {
		set[t] = true
	}
	for _, c := range m.Concepts {
		set[c] = true
	}
	return set
}

func valenceDivergence(a, b *store.Memory) bool {
	return a.EmotionalValence*b.EmotionalValence < 0 &&
		absFloat(a.EmotionalValence-b.EmotionalValence) >= 1.0
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
