package dream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dan-solli/mnemo/pkg/llm"
	"github.com/dan-solli/mnemo/pkg/store"
)

// Sink stores memories produced by dream phases through the engine's full
// write path (importance, linking, extraction), without creating an import
// cycle back into the facade.
type Sink interface {
	StoreDream(ctx context.Context, m *store.Memory) (string, error)
}

// Surfacer optionally pushes an emergent thought to the outside world
// (a social post, a journal entry). Called at most once per MinSurfaceGap.
type Surfacer interface {
	Surface(ctx context.Context, content string) error
}

// CycleConfig configures the dream cycle. Store and Sink are required; a
// nil LLM skips every generative phase.
type CycleConfig struct {
	Store *store.Store
	Sink  Sink
	LLM   llm.LLMClient

	Surfacer      Surfacer
	MinSurfaceGap time.Duration // default 24h

	// PhaseTimeout bounds each phase. Default 2m.
	PhaseTimeout time.Duration

	// ConsolidationWindow selects recent episodes. Default 24h.
	ConsolidationWindow time.Duration

	// MinEpisodes gates consolidation. Default 3.
	MinEpisodes int

	Logger *log.Logger
}

func (c *CycleConfig) applyDefaults() {
	if c.PhaseTimeout <= 0 {
		c.PhaseTimeout = 2 * time.Minute
	}
	if c.ConsolidationWindow <= 0 {
		c.ConsolidationWindow = 24 * time.Hour
	}
	if c.MinEpisodes <= 0 {
		c.MinEpisodes = 3
	}
	if c.MinSurfaceGap <= 0 {
		c.MinSurfaceGap = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Cycler runs the three dream phases: consolidation distills episodes into
// patterns, reflection turns patterns into identity observations, emergence
// produces one synthesized thought. Each phase is isolated: a failure logs,
// records nothing, and the next phase still runs.
type Cycler struct {
	cfg    CycleConfig
	logger *log.Logger

	mu          sync.Mutex
	lastSurface time.Time
}

// NewCycler creates a cycler. Store and Sink are required.
func NewCycler(cfg CycleConfig) (*Cycler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	cfg.applyDefaults()
	return &Cycler{cfg: cfg, logger: cfg.Logger.With("component", "dream")}, nil
}

// RunCycle runs all three phases in order.
func (c *Cycler) RunCycle(ctx context.Context) {
	c.runPhase(ctx, "consolidation", c.consolidate)
	c.runPhase(ctx, "reflection", c.reflect)
	c.runPhase(ctx, "emergence", c.emerge)
}

// RunStartup runs the abbreviated cycle used shortly after boot:
// consolidation only, catching up on episodes gathered while down.
func (c *Cycler) RunStartup(ctx context.Context) {
	c.runPhase(ctx, "consolidation", c.consolidate)
}

func (c *Cycler) runPhase(ctx context.Context, name string, phase func(context.Context) (*store.DreamSession, error)) {
	phaseCtx, cancel := context.WithTimeout(ctx, c.cfg.PhaseTimeout)
	defer cancel()

	session, err := phase(phaseCtx)
	if err != nil {
		c.logger.Error("dream phase failed", "phase", name, "error", err)
		return
	}
	if session == nil {
		c.logger.Debug("dream phase skipped", "phase", name)
		return
	}

	if err := c.cfg.Store.LogDreamSession(ctx, session); err != nil {
		c.logger.Warn("failed to log dream session", "phase", name, "error", err)
	}
	c.logger.Info("dream phase complete", "phase", name,
		"inputs", len(session.InputIDs), "outputs", len(session.OutputIDs))
}

type consolidationOutput struct {
	Observations []struct {
		Content string   `json:"content"`
		Summary string   `json:"summary"`
		Tags    []string `json:"tags"`
	} `json:"observations"`
}

const consolidationPrompt = `You are consolidating an agent's recent episodic memories into durable patterns, the way sleep turns events into knowledge.

Recent episodes:
%s

Identify 2-3 recurring patterns or notable generalizations across these episodes. Respond with JSON:
{"observations": [{"content": "<full observation>", "summary": "<one line>", "tags": ["..."]}]}`

func (c *Cycler) consolidate(ctx context.Context) (*store.DreamSession, error) {
	if c.cfg.LLM == nil {
		return nil, nil
	}

	episodes, err := c.cfg.Store.GetRecent(ctx, c.cfg.ConsolidationWindow,
		[]store.MemoryType{store.TypeEpisodic}, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent episodes: %w", err)
	}
	if len(episodes) < c.cfg.MinEpisodes {
		return nil, nil
	}

	inputIDs := make([]string, 0, len(episodes))
	var sb strings.Builder
	for _, ep := range episodes {
		inputIDs = append(inputIDs, ep.ID)
		fmt.Fprintf(&sb, "- %s\n", ep.Summary)
	}

	var out consolidationOutput
	if err := c.cfg.LLM.CompleteWithSchema(ctx, fmt.Sprintf(consolidationPrompt, sb.String()), &out); err != nil {
		return nil, fmt.Errorf("consolidation completion failed: %w", err)
	}

	var outputIDs []string
	for i, obs := range out.Observations {
		if i >= 3 || obs.Content == "" {
			break
		}
		id, err := c.cfg.Sink.StoreDream(ctx, &store.Memory{
			Type:        store.TypeSemantic,
			Content:     obs.Content,
			Summary:     obs.Summary,
			Tags:        obs.Tags,
			Importance:  0.6,
			Source:      "dream",
			EvidenceIDs: inputIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store consolidation output: %w", err)
		}
		outputIDs = append(outputIDs, id)
	}

	// Distilled episodes fold into the first pattern: they leave the default
	// retrieval pool but stay reachable through evidence links and by id.
	if len(outputIDs) > 0 {
		if err := c.cfg.Store.MarkCompacted(ctx, inputIDs, outputIDs[0]); err != nil {
			c.logger.Warn("failed to compact consolidated episodes", "error", err)
		}
	}

	return &store.DreamSession{
		Phase:     "consolidation",
		InputIDs:  inputIDs,
		OutputIDs: outputIDs,
		Notes:     fmt.Sprintf("%d episodes consolidated", len(episodes)),
	}, nil
}

type reflectionOutput struct {
	Reflections []struct {
		Content string `json:"content"`
		Summary string `json:"summary"`
	} `json:"reflections"`
}

const reflectionPrompt = `You are an agent reflecting on who you are becoming, based on your current self-understanding and what you recently learned.

Current self-model:
%s

Recently learned patterns:
%s

Memory state: %d memories, %d links, %d entities.

Write 1-2 reflections on how the recent patterns change or confirm your self-understanding. Respond with JSON:
{"reflections": [{"content": "<full reflection>", "summary": "<one line>"}]}`

func (c *Cycler) reflect(ctx context.Context) (*store.DreamSession, error) {
	if c.cfg.LLM == nil {
		return nil, nil
	}

	selfModel, err := c.cfg.Store.GetSelfModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load self-model: %w", err)
	}
	patterns, err := c.cfg.Store.GetRecent(ctx, c.cfg.ConsolidationWindow,
		[]store.MemoryType{store.TypeSemantic}, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent patterns: %w", err)
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	stats, err := c.cfg.Store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	self := renderSummaries(selfModel, 5)
	learned := renderSummaries(patterns, 10)
	inputIDs := append(idsOf(selfModel), idsOf(patterns)...)

	var out reflectionOutput
	prompt := fmt.Sprintf(reflectionPrompt, self, learned,
		stats.TotalMemories, stats.TotalLinks, stats.TotalEntities)
	if err := c.cfg.LLM.CompleteWithSchema(ctx, prompt, &out); err != nil {
		return nil, fmt.Errorf("reflection completion failed: %w", err)
	}

	var outputIDs []string
	for i, ref := range out.Reflections {
		if i >= 2 || ref.Content == "" {
			break
		}
		id, err := c.cfg.Sink.StoreDream(ctx, &store.Memory{
			Type:        store.TypeSelfModel,
			Content:     ref.Content,
			Summary:     ref.Summary,
			Importance:  0.75,
			Source:      "dream",
			EvidenceIDs: idsOf(patterns),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store reflection: %w", err)
		}
		outputIDs = append(outputIDs, id)
	}

	return &store.DreamSession{
		Phase:     "reflection",
		InputIDs:  inputIDs,
		OutputIDs: outputIDs,
	}, nil
}

type emergenceOutput struct {
	Content string `json:"content"`
	Summary string `json:"summary"`
}

const emergencePrompt = `You are an agent letting an unprompted thought surface, the way a dream recombines old material into something new.

Current self-model:
%s

A memory from your past:
%s

Memory state: %d memories across %d entities.

Produce one emergent thought connecting the past memory to who you are now. Respond with JSON:
{"content": "<full thought>", "summary": "<one line>"}`

func (c *Cycler) emerge(ctx context.Context) (*store.DreamSession, error) {
	if c.cfg.LLM == nil {
		return nil, nil
	}

	selfModel, err := c.cfg.Store.GetSelfModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load self-model: %w", err)
	}
	seed, err := c.cfg.Store.RandomOlderEpisodic(ctx, 48*time.Hour)
	if err == store.ErrMemoryNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sample old episode: %w", err)
	}
	stats, err := c.cfg.Store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	var out emergenceOutput
	prompt := fmt.Sprintf(emergencePrompt, renderSummaries(selfModel, 5),
		seed.Summary, stats.TotalMemories, stats.TotalEntities)
	if err := c.cfg.LLM.CompleteWithSchema(ctx, prompt, &out); err != nil {
		return nil, fmt.Errorf("emergence completion failed: %w", err)
	}
	if out.Content == "" {
		return nil, nil
	}

	id, err := c.cfg.Sink.StoreDream(ctx, &store.Memory{
		Type:        store.TypeSelfModel,
		Content:     out.Content,
		Summary:     out.Summary,
		Importance:  0.9,
		Source:      "dream",
		EvidenceIDs: []string{seed.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store emergent thought: %w", err)
	}

	c.maybeSurface(ctx, out.Content)

	return &store.DreamSession{
		Phase:     "emergence",
		InputIDs:  []string{seed.ID},
		OutputIDs: []string{id},
	}, nil
}

// maybeSurface pushes the thought outward at most once per MinSurfaceGap.
func (c *Cycler) maybeSurface(ctx context.Context, content string) {
	if c.cfg.Surfacer == nil {
		return
	}

	c.mu.Lock()
	if time.Since(c.lastSurface) < c.cfg.MinSurfaceGap {
		c.mu.Unlock()
		return
	}
	c.lastSurface = time.Now()
	c.mu.Unlock()

	if err := c.cfg.Surfacer.Surface(ctx, content); err != nil {
		c.logger.Warn("surfacing failed", "error", err)
	}
}

func renderSummaries(memories []*store.Memory, limit int) string {
	if len(memories) == 0 {
		return "(none yet)"
	}
	var sb strings.Builder
	for i, m := range memories {
		if i >= limit {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", m.Summary)
	}
	return sb.String()
}

func idsOf(memories []*store.Memory) []string {
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		ids = append(ids, m.ID)
	}
	return ids
}
