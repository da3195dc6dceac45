// Package mnemo is the long-term memory engine for conversational agents:
// typed memories on a forgetting curve, hybrid recall, an association and
// entity graph, and a dream cycle that distills episodes into identity.
// This package wires the layers together behind one Engine.
package mnemo

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/dan-solli/mnemo/pkg/assoc"
	"github.com/dan-solli/mnemo/pkg/dream"
	"github.com/dan-solli/mnemo/pkg/embeddings"
	"github.com/dan-solli/mnemo/pkg/extraction"
	"github.com/dan-solli/mnemo/pkg/ledger"
	"github.com/dan-solli/mnemo/pkg/llm"
	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/tasks"
)

// Config holds engine configuration. DBPath is required; every capability
// is optional and the engine degrades gracefully without it.
type Config struct {
	// DBPath is the SQLite database path. ":memory:" gives an ephemeral
	// engine.
	DBPath string

	// VectorDir persists the vector indexes on disk. Empty keeps them in
	// memory; they rebuild as memories are re-embedded.
	VectorDir string

	// OpenAIKey enables the embedding and language-model capabilities.
	OpenAIKey string

	// EmbeddingModel overrides the default embedding model.
	EmbeddingModel string

	// LLMModel overrides the default completion model.
	LLMModel string

	// LedgerURL enables memory notarization against an external registry.
	LedgerURL string

	// Surfacer receives emergent dream thoughts, rate limited by the cycle.
	Surfacer dream.Surfacer

	// EntityDictionary seeds the extractor with known names and aliases.
	EntityDictionary []extraction.DictEntry

	// ChunkWords and ChunkOverlap control content fragmenting for long
	// memories. Defaults 200 and 25.
	ChunkWords   int
	ChunkOverlap int

	// CycleInterval and DecayInterval set the maintenance cadence.
	// Defaults 6h and 24h.
	CycleInterval time.Duration
	DecayInterval time.Duration

	Logger  *log.Logger
	Metrics metrics.Collector

	// Capability overrides. When set they take precedence over the
	// OpenAIKey and LedgerURL constructions; tests wire fakes here.
	Embeddings embeddings.EmbeddingClient
	LLM        llm.LLMClient
	Ledger     ledger.Registry
	Tasks      tasks.Submitter
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	if c.ChunkWords <= 0 {
		c.ChunkWords = 200
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 25
	}
}

// Engine is the facade over the memory system. Writes persist synchronously;
// side effects (embedding, notarization, linking, extraction) run on the
// task queue and their failures are logged, never returned.
type Engine struct {
	cfg     Config
	logger  *log.Logger
	metrics metrics.Collector

	store     *store.Store
	retriever *search.Retriever
	linker    *assoc.Linker
	indexer   *extraction.Indexer

	embedder embeddings.EmbeddingClient
	cache    *embeddings.Cached
	llm      llm.LLMClient
	ledger   ledger.Registry

	tasks    tasks.Submitter
	ownQueue *tasks.Queue

	cycler    *dream.Cycler
	decay     *dream.DecayEngine
	scheduler *dream.Scheduler
}

// New creates an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path is required")
	}
	cfg.applyDefaults()

	e := &Engine{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "mnemo"),
		metrics: cfg.Metrics,
	}

	if err := e.initCapabilities(cfg); err != nil {
		return nil, err
	}

	indexes, err := e.initIndexes(cfg)
	if err != nil {
		return nil, err
	}

	e.store, err = store.New(cfg.DBPath, indexes)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if cfg.Tasks != nil {
		e.tasks = cfg.Tasks
	} else {
		e.ownQueue = tasks.NewQueue(tasks.Config{Logger: cfg.Logger})
		e.tasks = e.ownQueue
	}

	if err := e.initComponents(cfg, indexes); err != nil {
		e.store.Close()
		return nil, err
	}

	return e, nil
}

// initCapabilities resolves the external capability clients: explicit
// overrides first, then key-based construction, then absent.
func (e *Engine) initCapabilities(cfg Config) error {
	embedder := cfg.Embeddings
	if embedder == nil && cfg.OpenAIKey != "" {
		client, err := embeddings.NewOpenAIClient(embeddings.OpenAIConfig{
			APIKey: cfg.OpenAIKey,
			Model:  cfg.EmbeddingModel,
		})
		if err != nil {
			return fmt.Errorf("failed to create embedding client: %w", err)
		}
		embedder = client
	}
	if embedder != nil {
		cached, err := embeddings.NewCached(embedder, 0)
		if err != nil {
			return err
		}
		e.cache = cached
		embedder = cached
	}
	e.embedder = embedder

	e.llm = cfg.LLM
	if e.llm == nil && cfg.OpenAIKey != "" {
		client, err := llm.NewOpenAILLM(llm.OpenAIConfig{
			APIKey: cfg.OpenAIKey,
			Model:  cfg.LLMModel,
		})
		if err != nil {
			return fmt.Errorf("failed to create llm client: %w", err)
		}
		e.llm = client
	}

	e.ledger = cfg.Ledger
	if e.ledger == nil && cfg.LedgerURL != "" {
		e.ledger = ledger.NewHTTPRegistry(cfg.LedgerURL)
	}
	return nil
}

// initIndexes builds the vector indexes. Without an embedding capability
// there is nothing to index and recall stays lexical.
func (e *Engine) initIndexes(cfg Config) (store.Indexes, error) {
	if e.embedder == nil {
		return store.Indexes{}, nil
	}

	db, err := store.NewChromemDB(cfg.VectorDir)
	if err != nil {
		return store.Indexes{}, fmt.Errorf("failed to open vector database: %w", err)
	}

	var indexes store.Indexes
	for _, idx := range []struct {
		name   string
		target *store.VectorIndex
	}{
		{"memories", &indexes.Memories},
		{"fragments", &indexes.Fragments},
		{"entities", &indexes.Entities},
	} {
		col, err := store.NewChromemIndex(db, idx.name)
		if err != nil {
			return store.Indexes{}, fmt.Errorf("failed to create %s index: %w", idx.name, err)
		}
		*idx.target = col
	}
	return indexes, nil
}

func (e *Engine) initComponents(cfg Config, indexes store.Indexes) error {
	var err error

	e.retriever, err = search.NewRetriever(search.RetrieverConfig{
		Store:       e.store,
		Embedder:    e.embedder,
		MemoryIndex: indexes.Memories,
		FragIndex:   indexes.Fragments,
		EntityIndex: indexes.Entities,
		Tasks:       e.tasks,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return err
	}

	e.linker, err = assoc.NewLinker(assoc.LinkerConfig{
		Store:       e.store,
		MemoryIndex: indexes.Memories,
		Embedder:    e.embedder,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return err
	}

	extractor, err := extraction.NewRuleExtractor(cfg.EntityDictionary)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}
	e.indexer, err = extraction.NewIndexer(extraction.IndexerConfig{
		Store:     e.store,
		Extractor: extractor,
		Embedder:  e.embedder,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return err
	}

	e.cycler, err = dream.NewCycler(dream.CycleConfig{
		Store:    e.store,
		Sink:     e,
		LLM:      e.llm,
		Surfacer: cfg.Surfacer,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return err
	}
	e.decay, err = dream.NewDecayEngine(dream.DecayConfig{
		Store:  e.store,
		Logger: cfg.Logger,
	})
	if err != nil {
		return err
	}
	e.scheduler, err = dream.NewScheduler(dream.SchedulerConfig{
		Cycler:        e.cycler,
		Decay:         e.decay,
		CycleInterval: cfg.CycleInterval,
		DecayInterval: cfg.DecayInterval,
		Logger:        cfg.Logger,
	})
	return err
}

// Close stops the scheduler, drains the owned task queue and releases
// resources.
func (e *Engine) Close() error {
	e.scheduler.Stop()
	if e.ownQueue != nil {
		e.ownQueue.Close()
	}
	if e.cache != nil {
		e.cache.Close()
	}
	return e.store.Close()
}

// StoreInput describes one memory to store. Zero Importance means "let the
// model rate it"; the deterministic fallback applies when no model is
// configured.
type StoreInput struct {
	Type             store.MemoryType
	Content          string
	Summary          string
	Tags             []string
	EmotionalValence float64
	Importance       float64
	Source           string
	SourceID         string
	RelatedUser      string
	RelatedWallet    string
	Metadata         map[string]interface{}
	EvidenceIDs      []string
}

// Store validates and persists a memory synchronously, then hands embedding,
// notarization, auto-linking and entity extraction to the task queue.
// Side-effect failures are logged, never returned: the memory is durable
// once Store returns.
func (e *Engine) Store(ctx context.Context, in StoreInput) (string, error) {
	start := time.Now()
	id, err := e.storeMemory(ctx, in)
	e.recordOperation(ctx, "store", start, err)
	return id, err
}

func (e *Engine) storeMemory(ctx context.Context, in StoreInput) (string, error) {
	if !store.ValidType(in.Type) {
		return "", fmt.Errorf("invalid memory type %q", in.Type)
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return "", fmt.Errorf("content cannot be empty")
	}
	content = truncateAtRune(content, store.MaxContentLen)

	summary := strings.TrimSpace(in.Summary)
	if summary == "" {
		summary = deriveSummary(content)
	}
	summary = truncateAtRune(summary, store.MaxSummaryLen)

	importance := in.Importance
	if importance == 0 {
		importance = llm.ScoreImportance(ctx, e.llm, string(in.Type), content)
	}

	m := &store.Memory{
		Type:             in.Type,
		Content:          content,
		Summary:          summary,
		Tags:             in.Tags,
		Concepts:         extraction.InferConcepts(summary, in.Source, in.Tags),
		EmotionalValence: clampRange(in.EmotionalValence, -1, 1),
		Importance:       clampRange(importance, 0, 1),
		Source:           in.Source,
		SourceID:         in.SourceID,
		RelatedUser:      in.RelatedUser,
		RelatedWallet:    in.RelatedWallet,
		Metadata:         in.Metadata,
		EvidenceIDs:      in.EvidenceIDs,
	}

	if err := e.store.Insert(ctx, m); err != nil {
		return "", fmt.Errorf("failed to store memory: %w", err)
	}

	e.tasks.Submit("post_store", func(ctx context.Context) {
		e.postStore(ctx, m)
	})

	return m.ID, nil
}

// postStore runs the write-path side effects: embed the memory and its
// fragments, notarize, auto-link, extract entities, refresh storage gauges.
// Each step fails independently.
func (e *Engine) postStore(ctx context.Context, m *store.Memory) {
	start := time.Now()

	e.embedMemory(ctx, m)

	if e.ledger != nil {
		err := e.ledger.Commit(ctx, ledger.Record{
			MemoryID:       m.ID,
			ContentHash:    ledger.HashContent(m.Content),
			MemoryType:     string(m.Type),
			ImportanceTier: ledger.TierFor(m.Importance),
		})
		if err != nil {
			e.logger.Warn("ledger commit failed", "memory", m.ID, "error", err)
			e.metrics.RecordError(ctx, "store", ClassifyError(err))
		}
	}

	if _, err := e.linker.AutoLink(ctx, m); err != nil {
		e.logger.Warn("auto-linking failed", "memory", m.ID, "error", err)
		e.metrics.RecordError(ctx, "store", ClassifyError(err))
	}

	if _, err := e.indexer.IndexMemory(ctx, m); err != nil {
		e.logger.Warn("entity extraction failed", "memory", m.ID, "error", err)
		e.metrics.RecordError(ctx, "store", ClassifyError(err))
	}

	e.refreshGauges(ctx)
	e.metrics.RecordStage(ctx, "store", "side_effects", time.Since(start).Milliseconds())
}

// embedMemory embeds the full content at the memory level, plus a summary
// fragment and sentence-aligned content chunks for long memories.
func (e *Engine) embedMemory(ctx context.Context, m *store.Memory) {
	if e.embedder == nil {
		return
	}

	embedding, err := e.embedder.EmbedOne(ctx, m.Content)
	if err != nil {
		e.logger.Warn("memory embedding failed", "memory", m.ID, "error", err)
		e.metrics.RecordError(ctx, "store", ClassifyError(err))
		return
	}
	if err := e.store.SetEmbedding(ctx, m.ID, embedding); err != nil {
		e.logger.Warn("failed to persist embedding", "memory", m.ID, "error", err)
		return
	}
	m.Embedding = embedding

	type frag struct {
		fragType store.FragmentType
		text     string
	}
	var frags []frag
	if m.Summary != "" && m.Summary != m.Content {
		frags = append(frags, frag{store.FragmentSummary, m.Summary})
	}
	for _, chunk := range chunkContent(m.Content, e.cfg.ChunkWords, e.cfg.ChunkOverlap) {
		frags = append(frags, frag{store.FragmentContentChunk, chunk})
	}
	if len(frags) == 0 {
		return
	}

	texts := make([]string, 0, len(frags))
	for _, f := range frags {
		texts = append(texts, f.text)
	}
	fragEmbeddings, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		e.logger.Warn("fragment embedding failed", "memory", m.ID, "error", err)
		return
	}

	for i, f := range frags {
		err := e.store.AddFragment(ctx, &store.Fragment{
			MemoryID:  m.ID,
			Type:      f.fragType,
			Content:   f.text,
			Embedding: fragEmbeddings[i],
		})
		if err != nil {
			e.logger.Warn("failed to store fragment", "memory", m.ID, "error", err)
		}
	}
}

func (e *Engine) refreshGauges(ctx context.Context) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return
	}
	e.metrics.SetStorageCount(ctx, "memories", stats.TotalMemories)
	e.metrics.SetStorageCount(ctx, "links", stats.TotalLinks)
	e.metrics.SetStorageCount(ctx, "entities", stats.TotalEntities)
	e.metrics.SetStorageCount(ctx, "fragments", stats.TotalFragments)
}

// StoreDream stores a memory produced by a dream phase through the full
// write path. Implements the dream cycle's sink.
func (e *Engine) StoreDream(ctx context.Context, m *store.Memory) (string, error) {
	return e.Store(ctx, StoreInput{
		Type:        m.Type,
		Content:     m.Content,
		Summary:     m.Summary,
		Tags:        m.Tags,
		Importance:  m.Importance,
		Source:      m.Source,
		EvidenceIDs: m.EvidenceIDs,
	})
}

// Recall runs hybrid retrieval and returns ranked memories. Recalled
// memories are rehearsed: their decay refreshes and the links among them
// strengthen, asynchronously.
func (e *Engine) Recall(ctx context.Context, opts search.RecallOptions) ([]search.ScoredMemory, error) {
	start := time.Now()
	results, err := e.retriever.Recall(ctx, opts)
	e.recordOperation(ctx, "recall", start, err)
	return results, err
}

// RecallSummaries is the progressive-disclosure variant of Recall: light
// projections first, Hydrate for the ids the caller keeps.
func (e *Engine) RecallSummaries(ctx context.Context, opts search.RecallOptions) ([]store.MemorySummary, error) {
	start := time.Now()
	summaries, err := e.retriever.RecallSummaries(ctx, opts)
	e.recordOperation(ctx, "recall_summaries", start, err)
	return summaries, err
}

// Hydrate fetches full memories for summary ids, counting as access.
func (e *Engine) Hydrate(ctx context.Context, ids []string) ([]*store.Memory, error) {
	return e.retriever.Hydrate(ctx, ids)
}

// FormatContext renders recall results as a prompt-ready context block.
func (e *Engine) FormatContext(results []search.ScoredMemory) string {
	return FormatContext(results)
}

// Decay runs one decay pass over all memory types and returns the number
// of memories faded per type.
func (e *Engine) Decay(ctx context.Context) (map[store.MemoryType]int64, error) {
	start := time.Now()
	counts, err := e.decay.Run(ctx)
	e.recordOperation(ctx, "decay", start, err)
	return counts, err
}

// GetRecent returns memories created within the window, newest first.
func (e *Engine) GetRecent(ctx context.Context, window time.Duration, types []store.MemoryType, limit int) ([]*store.Memory, error) {
	return e.store.GetRecent(ctx, window, types, limit)
}

// GetSelfModel returns the agent's identity memories, most important first.
func (e *Engine) GetSelfModel(ctx context.Context) ([]*store.Memory, error) {
	return e.store.GetSelfModel(ctx)
}

// GetStats summarizes the memory store.
func (e *Engine) GetStats(ctx context.Context) (*store.Stats, error) {
	return e.store.Stats(ctx)
}

// GetKnowledgeGraph returns a read-only projection of the entity graph.
func (e *Engine) GetKnowledgeGraph(ctx context.Context, maxNodes int) (*store.KnowledgeGraph, error) {
	return e.store.GetKnowledgeGraph(ctx, maxNodes)
}

// CreateLink creates (or strengthens) an explicit association between two
// memories.
func (e *Engine) CreateLink(ctx context.Context, sourceID, targetID string, linkType store.LinkType, strength float64) error {
	return e.store.UpsertLink(ctx, &store.Link{
		SourceID: sourceID,
		TargetID: targetID,
		Type:     linkType,
		Strength: strength,
	})
}

// InferConcepts derives concept labels for a memory the way the write path
// does, without storing anything.
func (e *Engine) InferConcepts(summary, source string, tags []string) []string {
	return extraction.InferConcepts(summary, source, tags)
}

// Verify checks a memory's content against its notarized hash. Errors when
// no ledger is configured.
func (e *Engine) Verify(ctx context.Context, memoryID string) (bool, error) {
	if e.ledger == nil {
		return false, fmt.Errorf("ledger is not configured")
	}
	m, err := e.store.Get(ctx, memoryID)
	if err != nil {
		return false, err
	}
	return e.ledger.Verify(ctx, memoryID, ledger.HashContent(m.Content))
}

// RunDreamCycleOnce runs consolidation, reflection and emergence now,
// outside the schedule.
func (e *Engine) RunDreamCycleOnce(ctx context.Context) {
	start := time.Now()
	e.cycler.RunCycle(ctx)
	e.recordOperation(ctx, "dream_cycle", start, nil)
}

// StartDreamSchedule starts the background maintenance loop: periodic dream
// cycles and decay passes. No-op when already running.
func (e *Engine) StartDreamSchedule() {
	e.scheduler.Start()
}

// StopDreamSchedule stops the maintenance loop and waits for any in-flight
// pass.
func (e *Engine) StopDreamSchedule() {
	e.scheduler.Stop()
}

func (e *Engine) recordOperation(ctx context.Context, op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		e.metrics.RecordError(ctx, op, ClassifyError(err))
	}
	e.metrics.RecordOperation(ctx, op, status, time.Since(start).Milliseconds())
}

// deriveSummary falls back to the first sentence of content, bounded.
func deriveSummary(content string) string {
	sentences := splitSentences(content)
	summary := content
	if len(sentences) > 0 {
		summary = sentences[0]
	}
	return truncateAtRune(summary, store.MaxSummaryLen)
}

// truncateAtRune bounds s to at most max bytes without splitting a rune.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
