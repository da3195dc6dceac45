package extraction

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Embedder is the slice of the embedding capability used for entity name
// embeddings. Nil means entities stay unembedded (entity-aware recall then
// skips them).
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// IndexerConfig wires the indexer. Store is required.
type IndexerConfig struct {
	Store     *store.Store
	Extractor Extractor
	Embedder  Embedder
	Logger    *log.Logger

	// MinSalience drops faint mentions before they touch the graph.
	// Default 0.2.
	MinSalience float64
}

func (c *IndexerConfig) applyDefaults() error {
	if c.Extractor == nil {
		re, err := NewRuleExtractor(nil)
		if err != nil {
			return err
		}
		c.Extractor = re
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.MinSalience == 0 {
		c.MinSalience = 0.2
	}
	return nil
}

// Indexer extracts entities from stored memories and writes the entity
// graph: entities, mentions and co-mention relations.
type Indexer struct {
	cfg    IndexerConfig
	logger *log.Logger
}

// NewIndexer creates an indexer. Store is required.
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Indexer{cfg: cfg, logger: cfg.Logger.With("component", "extraction")}, nil
}

// IndexMemory extracts entities from a memory's content and summary, upserts
// them, records mentions, and strengthens co-mention relations among every
// pair seen together. Returns the entity ids touched. Embedding failures
// degrade silently.
func (ix *Indexer) IndexMemory(ctx context.Context, m *store.Memory) ([]string, error) {
	// Summary first: the distilled text leads, so its mentions carry the
	// higher positional salience.
	mentions := ix.cfg.Extractor.Extract(m.Summary + " " + m.Content)

	var entityIDs []string
	for _, mention := range mentions {
		if mention.Salience < ix.cfg.MinSalience {
			continue
		}

		entityID, err := ix.cfg.Store.UpsertEntity(ctx, &store.Entity{
			Type: mention.Type,
			Name: mention.Name,
		})
		if err != nil {
			return entityIDs, fmt.Errorf("failed to upsert entity %q: %w", mention.Name, err)
		}

		err = ix.cfg.Store.RecordMention(ctx, &store.EntityMention{
			EntityID: entityID,
			MemoryID: m.ID,
			Context:  m.Summary,
			Salience: mention.Salience,
		})
		if err != nil {
			return entityIDs, fmt.Errorf("failed to record mention: %w", err)
		}

		ix.embedEntity(ctx, entityID, mention.Name)
		entityIDs = append(entityIDs, entityID)
	}

	// Entities appearing in the same memory are related; the memory is
	// the evidence.
	for i := 0; i < len(entityIDs); i++ {
		for j := i + 1; j < len(entityIDs); j++ {
			err := ix.cfg.Store.UpsertRelation(ctx, &store.EntityRelation{
				SourceEntityID: entityIDs[i],
				TargetEntityID: entityIDs[j],
				Type:           "co_mentioned",
				Strength:       0.3,
				EvidenceIDs:    []string{m.ID},
			})
			if err != nil {
				return entityIDs, fmt.Errorf("failed to upsert relation: %w", err)
			}
		}
	}

	return entityIDs, nil
}

// embedEntity embeds the entity name once. Entities already embedded keep
// their vector.
func (ix *Indexer) embedEntity(ctx context.Context, entityID, name string) {
	if ix.cfg.Embedder == nil {
		return
	}

	entity, err := ix.cfg.Store.GetEntity(ctx, entityID)
	if err != nil || len(entity.Embedding) > 0 {
		return
	}

	embedding, err := ix.cfg.Embedder.EmbedOne(ctx, name)
	if err != nil {
		ix.logger.Warn("entity embedding failed", "entity", name, "error", err)
		return
	}
	if err := ix.cfg.Store.SetEntityEmbedding(ctx, entityID, embedding); err != nil {
		ix.logger.Warn("entity embedding store failed", "entity", name, "error", err)
	}
}
