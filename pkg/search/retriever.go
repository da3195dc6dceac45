package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/tasks"
)

// Embedder is the slice of the embedding capability recall needs. Nil means
// the capability is absent and retrieval degrades to lexical scoring.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Bond multipliers for link expansion: causal and evidential bonds carry
// neighbors further than loose association.
var bondWeights = map[store.LinkType]float64{
	store.LinkCauses:      1.0,
	store.LinkSupports:    0.9,
	store.LinkContradicts: 0.8,
	store.LinkElaborates:  0.7,
	store.LinkRelates:     0.6,
	store.LinkFollows:     0.5,
}

// RetrieverConfig wires the retriever's collaborators. Store and Scorer are
// required; everything else degrades gracefully when nil.
type RetrieverConfig struct {
	Store       *store.Store
	Scorer      *Scorer
	Embedder    Embedder
	MemoryIndex store.VectorIndex
	FragIndex   store.VectorIndex
	EntityIndex store.VectorIndex
	Tasks       tasks.Submitter
	Logger      *log.Logger

	// AccessBoost is added to decay_factor on each recall touch.
	AccessBoost float64
	// RehearsalBoost is added to importance on each recall touch.
	RehearsalBoost float64
	// HebbianIncrement strengthens links among co-recalled memories.
	HebbianIncrement float64
	// MinLinkStrength filters link expansion.
	MinLinkStrength float64
	// EntitySimilarityFloor gates entity-aware expansion.
	EntitySimilarityFloor float64
}

func (c *RetrieverConfig) applyDefaults() {
	if c.Scorer == nil {
		c.Scorer = NewScorer(Weights{})
	}
	if c.Tasks == nil {
		c.Tasks = tasks.Discard{}
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.AccessBoost == 0 {
		c.AccessBoost = 0.05
	}
	if c.RehearsalBoost == 0 {
		c.RehearsalBoost = 0.02
	}
	if c.HebbianIncrement == 0 {
		c.HebbianIncrement = 0.05
	}
	if c.MinLinkStrength == 0 {
		c.MinLinkStrength = 0.3
	}
	if c.EntitySimilarityFloor == 0 {
		c.EntitySimilarityFloor = 0.75
	}
}

// Retriever performs hybrid recall: vector candidates unioned with metadata
// candidates, composite scoring, entity and link expansion, then an async
// access-tracking pass.
type Retriever struct {
	cfg    RetrieverConfig
	logger *log.Logger
}

// NewRetriever creates a retriever. Store is required.
func NewRetriever(cfg RetrieverConfig) (*Retriever, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg.applyDefaults()
	return &Retriever{cfg: cfg, logger: cfg.Logger.With("component", "search")}, nil
}

// RecallOptions shape one recall request.
type RecallOptions struct {
	Query         string
	Tags          []string
	Types         []store.MemoryType
	RelatedUser   string
	RelatedWallet string
	Limit         int

	// SkipAccessTracking suppresses the rehearsal side effects. Internal
	// readers (dream phases, diagnostics) set this so observation does
	// not distort the forgetting curve.
	SkipAccessTracking bool
}

// ScoredMemory is a recall result.
type ScoredMemory struct {
	Memory *store.Memory
	Score  float64
}

// Recall runs the hybrid retrieval pipeline and returns up to Limit
// memories, best first. Absent capabilities narrow the result, never fail
// the call.
func (r *Retriever) Recall(ctx context.Context, opts RecallOptions) ([]ScoredMemory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	queryEmbedding := r.embedQuery(ctx, opts.Query)
	similarities := r.vectorCandidates(ctx, queryEmbedding, limit)

	candidates, err := r.cfg.Store.Query(ctx, store.QueryFilter{
		Types:         opts.Types,
		RelatedUser:   opts.RelatedUser,
		RelatedWallet: opts.RelatedWallet,
		Tags:          opts.Tags,
		Limit:         limit * 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}

	// Union in vector hits the metadata pass missed.
	have := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		have[m.ID] = true
	}
	var missing []string
	for id := range similarities {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		extra, err := r.cfg.Store.GetByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch vector candidates: %w", err)
		}
		candidates = append(candidates, extra...)
	}

	now := time.Now()
	scored := make([]ScoredMemory, 0, len(candidates))
	for _, m := range candidates {
		sim, hasVector := similarities[m.ID]
		score := r.cfg.Scorer.Score(m, ScoreInput{
			Query:            opts.Query,
			Tags:             opts.Tags,
			VectorSimilarity: sim,
			HasVector:        hasVector,
			Now:              now,
		})
		scored = append(scored, ScoredMemory{Memory: m, Score: score})
	}
	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	scored = r.expandByEntities(ctx, queryEmbedding, scored, limit)
	scored = r.expandByLinks(ctx, scored, limit)

	if !opts.SkipAccessTracking && len(scored) > 0 {
		r.trackAccess(scored)
	}

	return scored, nil
}

// RecallSummaries runs recall and projects summaries, for progressive
// disclosure; callers hydrate the ids they keep.
func (r *Retriever) RecallSummaries(ctx context.Context, opts RecallOptions) ([]store.MemorySummary, error) {
	scored, err := r.Recall(ctx, opts)
	if err != nil {
		return nil, err
	}

	summaries := make([]store.MemorySummary, 0, len(scored))
	for _, sm := range scored {
		m := sm.Memory
		summaries = append(summaries, store.MemorySummary{
			ID:          m.ID,
			Type:        m.Type,
			Summary:     m.Summary,
			Tags:        m.Tags,
			Importance:  m.Importance,
			DecayFactor: m.DecayFactor,
			CreatedAt:   m.CreatedAt,
		})
	}
	return summaries, nil
}

// Hydrate fetches full memories for previously returned summary ids, with
// the usual access tracking.
func (r *Retriever) Hydrate(ctx context.Context, ids []string) ([]*store.Memory, error) {
	memories, err := r.cfg.Store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate memories: %w", err)
	}

	if len(memories) > 0 {
		touched := make([]string, 0, len(memories))
		for _, m := range memories {
			touched = append(touched, m.ID)
		}
		r.submitAccessBoost(touched)
	}
	return memories, nil
}

// embedQuery embeds the query text once per recall. Returns nil when the
// capability is absent or the call fails; retrieval then stays lexical.
func (r *Retriever) embedQuery(ctx context.Context, query string) []float32 {
	if r.cfg.Embedder == nil || query == "" {
		return nil
	}
	embedding, err := r.cfg.Embedder.EmbedOne(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, falling back to lexical retrieval", "error", err)
		return nil
	}
	return embedding
}

// vectorCandidates searches the memory and fragment indexes and returns the
// best similarity per memory id. Any failure here degrades silently to
// lexical retrieval.
func (r *Retriever) vectorCandidates(ctx context.Context, embedding []float32, limit int) map[string]float64 {
	if len(embedding) == 0 {
		return nil
	}
	if r.cfg.MemoryIndex == nil && r.cfg.FragIndex == nil {
		return nil
	}

	similarities := make(map[string]float64)

	if r.cfg.MemoryIndex != nil {
		hits, err := r.cfg.MemoryIndex.Search(ctx, embedding, limit*3)
		if err != nil {
			r.logger.Warn("memory vector search failed", "error", err)
		}
		for _, h := range hits {
			if h.Similarity > similarities[h.ID] {
				similarities[h.ID] = h.Similarity
			}
		}
	}

	if r.cfg.FragIndex != nil {
		hits, err := r.cfg.FragIndex.Search(ctx, embedding, limit*3)
		if err != nil {
			r.logger.Warn("fragment vector search failed", "error", err)
		}
		if len(hits) > 0 {
			fragIDs := make([]string, 0, len(hits))
			for _, h := range hits {
				fragIDs = append(fragIDs, h.ID)
			}
			parents, err := r.cfg.Store.FragmentMemoryIDs(ctx, fragIDs)
			if err != nil {
				r.logger.Warn("fragment resolution failed", "error", err)
			}
			for _, h := range hits {
				memID, ok := parents[h.ID]
				if !ok {
					continue
				}
				if h.Similarity > similarities[memID] {
					similarities[memID] = h.Similarity
				}
			}
		}
	}

	return similarities
}

// expandByEntities finds entities similar to the query and splices in the
// memories that mention them, up to half the result budget.
func (r *Retriever) expandByEntities(ctx context.Context, embedding []float32, scored []ScoredMemory, limit int) []ScoredMemory {
	if r.cfg.EntityIndex == nil || len(embedding) == 0 {
		return scored
	}

	hits, err := r.cfg.EntityIndex.Search(ctx, embedding, 3)
	if err != nil {
		r.logger.Warn("entity vector search failed", "error", err)
		return scored
	}

	have := make(map[string]bool, len(scored))
	for _, sm := range scored {
		have[sm.Memory.ID] = true
	}

	budget := limit / 2
	var added []ScoredMemory
	for _, hit := range hits {
		if hit.Similarity < r.cfg.EntitySimilarityFloor || budget <= 0 {
			continue
		}

		memIDs, err := r.cfg.Store.MemoriesMentioning(ctx, hit.ID, 0.3, budget)
		if err != nil {
			r.logger.Warn("entity mention lookup failed", "entity", hit.ID, "error", err)
			continue
		}

		var fresh []string
		for _, id := range memIDs {
			if !have[id] {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			continue
		}

		memories, err := r.cfg.Store.GetByIDs(ctx, fresh)
		if err != nil {
			r.logger.Warn("entity expansion fetch failed", "error", err)
			continue
		}
		for _, m := range memories {
			if budget <= 0 {
				break
			}
			have[m.ID] = true
			budget--
			// Graph relevance: reached through an entity, weighted by how
			// close that entity sits to the query.
			added = append(added, ScoredMemory{
				Memory: m,
				Score:  hit.Similarity * 0.5 * m.DecayFactor,
			})
		}
	}

	if len(added) == 0 {
		return scored
	}
	scored = append(scored, added...)
	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// expandByLinks pulls in one-hop association neighbors, weighted by link
// strength and bond type, then re-ranks.
func (r *Retriever) expandByLinks(ctx context.Context, scored []ScoredMemory, limit int) []ScoredMemory {
	if len(scored) == 0 {
		return scored
	}

	seedScores := make(map[string]float64, len(scored))
	seedIDs := make([]string, 0, len(scored))
	for _, sm := range scored {
		seedScores[sm.Memory.ID] = sm.Score
		seedIDs = append(seedIDs, sm.Memory.ID)
	}

	linked, err := r.cfg.Store.LinkedMemories(ctx, seedIDs, r.cfg.MinLinkStrength)
	if err != nil {
		r.logger.Warn("link expansion failed", "error", err)
		return scored
	}
	if len(linked) == 0 {
		return scored
	}

	neighborScores := make(map[string]float64)
	for _, lm := range linked {
		if _, isSeed := seedScores[lm.MemoryID]; isSeed {
			continue
		}
		score := seedScores[lm.SeedID] * lm.Strength * bondWeights[lm.Type]
		if score > neighborScores[lm.MemoryID] {
			neighborScores[lm.MemoryID] = score
		}
	}
	if len(neighborScores) == 0 {
		return scored
	}

	ids := make([]string, 0, len(neighborScores))
	for id := range neighborScores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	memories, err := r.cfg.Store.GetByIDs(ctx, ids)
	if err != nil {
		r.logger.Warn("link expansion fetch failed", "error", err)
		return scored
	}
	for _, m := range memories {
		scored = append(scored, ScoredMemory{Memory: m, Score: neighborScores[m.ID]})
	}

	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// trackAccess submits the rehearsal side effects for a recall result set:
// access boost, importance rehearsal, and Hebbian link reinforcement among
// the co-recalled ids.
func (r *Retriever) trackAccess(scored []ScoredMemory) {
	ids := make([]string, 0, len(scored))
	for _, sm := range scored {
		ids = append(ids, sm.Memory.ID)
	}
	r.submitAccessBoost(ids)

	if len(ids) >= 2 {
		inc := r.cfg.HebbianIncrement
		r.cfg.Tasks.Submit("hebbian_reinforce", func(ctx context.Context) {
			if err := r.cfg.Store.ReinforceLinks(ctx, ids, inc); err != nil {
				r.logger.Warn("link reinforcement failed", "error", err)
			}
		})
	}
}

func (r *Retriever) submitAccessBoost(ids []string) {
	boost := r.cfg.AccessBoost
	rehearsal := r.cfg.RehearsalBoost
	r.cfg.Tasks.Submit("access_boost", func(ctx context.Context) {
		if err := r.cfg.Store.BatchAccessBoost(ctx, ids, boost); err != nil {
			r.logger.Warn("access boost failed", "error", err)
		}
		if err := r.cfg.Store.BoostImportance(ctx, ids, rehearsal); err != nil {
			r.logger.Warn("importance boost failed", "error", err)
		}
	})
}

func sortScored(scored []ScoredMemory) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Memory.ID < scored[j].Memory.ID
	})
}
