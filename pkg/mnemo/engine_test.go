package mnemo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/ledger"
	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/tasks"
)

// constEmbedder returns the same vector for every text, so vector search
// matches everything and ranking falls to the lexical signals.
type constEmbedder struct{}

func (constEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return []float32{0.6, 0.8}, nil
}

func (e constEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.EmbedOne(ctx, texts[i])
	}
	return out, nil
}

// memLedger is an in-memory notarization registry.
type memLedger struct {
	mu     sync.Mutex
	hashes map[string][32]byte
}

func newMemLedger() *memLedger {
	return &memLedger{hashes: make(map[string][32]byte)}
}

func (l *memLedger) Commit(_ context.Context, rec ledger.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashes[rec.MemoryID] = rec.ContentHash
	return nil
}

func (l *memLedger) Verify(_ context.Context, memoryID string, hash [32]byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hashes[memoryID]
	return ok && h == hash, nil
}

type promptLLM struct{}

func (promptLLM) Complete(context.Context, string) (string, error) {
	return "", nil
}

func (promptLLM) CompleteWithSchema(_ context.Context, prompt string, schema any) error {
	var payload string
	switch {
	case strings.Contains(prompt, "Rate how important"):
		payload = `{"score": 7, "reason": "notable"}`
	case strings.Contains(prompt, "consolidating"):
		payload = `{"observations": [{"content": "Conversations keep returning to token launches.", "summary": "Launch talk dominates", "tags": ["market"]}]}`
	case strings.Contains(prompt, "reflecting"):
		payload = `{"reflections": [{"content": "I gravitate toward market structure questions.", "summary": "Drawn to market structure"}]}`
	case strings.Contains(prompt, "unprompted thought"):
		payload = `{"content": "Old conversations echo in new launches.", "summary": "Echoes"}`
	default:
		return fmt.Errorf("unexpected prompt")
	}
	return json.Unmarshal([]byte(payload), schema)
}

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()

	cfg := Config{
		DBPath:     ":memory:",
		Embeddings: constEmbedder{},
		Tasks:      tasks.Inline{},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestNewRequiresDBPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestEngineStoreAndRecall(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := e.Store(ctx, StoreInput{
		Type:    store.TypeEpisodic,
		Content: "Met the validator operators at the Lisbon conference and talked uptime.",
		Summary: "Validator meetup in Lisbon",
		Tags:    []string{"conference"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "mem_"))

	_, err = e.Store(ctx, StoreInput{
		Type:    store.TypeEpisodic,
		Content: "Spent the afternoon debugging a flaky integration test.",
		Summary: "Debugging afternoon",
	})
	require.NoError(t, err)

	results, err := e.Recall(ctx, search.RecallOptions{Query: "conference validator", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].Memory.ID)

	// Inline tasks ran the rehearsal side effects before Recall returned.
	got, err := e.Hydrate(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.GreaterOrEqual(t, got[0].AccessCount, 1)
}

func TestEngineStoreValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreInput{Type: "mood", Content: "something"})
	assert.ErrorContains(t, err, "invalid memory type")

	_, err = e.Store(ctx, StoreInput{Type: store.TypeEpisodic, Content: "   "})
	assert.ErrorContains(t, err, "content cannot be empty")
}

func TestEngineStoreClampsAndDerivesSummary(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := e.Store(ctx, StoreInput{
		Type:             store.TypeEpisodic,
		Content:          "First sentence stands alone. Second sentence carries detail.",
		EmotionalValence: 3.5,
	})
	require.NoError(t, err)

	got, err := e.Hydrate(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "First sentence stands alone.", got[0].Summary)
	assert.Equal(t, 1.0, got[0].EmotionalValence)
	// No model configured: the deterministic fallback rates it.
	assert.Equal(t, 0.5, got[0].Importance)
}

func TestEngineStoreTruncatesAtRuneBoundary(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	// A two-byte rune straddles the content limit; a three-byte rune
	// straddles the summary limit.
	content := strings.Repeat("a", store.MaxContentLen-1) + "ééé"
	summary := strings.Repeat("日", store.MaxSummaryLen)

	id, err := e.Store(ctx, StoreInput{
		Type:    store.TypeEpisodic,
		Content: content,
		Summary: summary,
	})
	require.NoError(t, err)

	got, err := e.Hydrate(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.True(t, utf8.ValidString(got[0].Content))
	assert.LessOrEqual(t, len(got[0].Content), store.MaxContentLen)
	assert.True(t, utf8.ValidString(got[0].Summary))
	assert.LessOrEqual(t, len(got[0].Summary), store.MaxSummaryLen)
}

func TestEngineStoreEmbedsFragments(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	long := strings.Repeat("The market moved sharply on the announcement. ", 60)
	id, err := e.Store(ctx, StoreInput{
		Type:    store.TypeEpisodic,
		Content: long,
		Summary: "Sharp market move",
	})
	require.NoError(t, err)

	frags, err := e.store.GetFragments(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, frags)

	types := make(map[store.FragmentType]int)
	for _, f := range frags {
		types[f.Type]++
		assert.NotEmpty(t, f.Embedding)
	}
	assert.Equal(t, 1, types[store.FragmentSummary])
	assert.GreaterOrEqual(t, types[store.FragmentContentChunk], 2)
}

func TestEngineAutoLinksEvidence(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	base, err := e.Store(ctx, StoreInput{
		Type:    store.TypeEpisodic,
		Content: "Watched the bridge outage unfold in real time.",
		Summary: "Bridge outage",
	})
	require.NoError(t, err)

	derived, err := e.Store(ctx, StoreInput{
		Type:        store.TypeSemantic,
		Content:     "Bridge infrastructure fails under correlated load.",
		Summary:     "Bridges fail under load",
		EvidenceIDs: []string{base},
	})
	require.NoError(t, err)

	link, err := e.store.GetLink(ctx, derived, base, store.LinkSupports)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, 0.9, link.Strength)
}

func TestEngineExtractsEntities(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreInput{
		Type:    store.TypeEpisodic,
		Content: "Talked with @alice about the $SOL unlock schedule.",
		Summary: "Unlock chat with @alice about $SOL",
	})
	require.NoError(t, err)

	stats, err := e.GetStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalEntities, int64(2))

	graph, err := e.GetKnowledgeGraph(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, graph.Nodes)
}

func TestEngineCreateLink(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	a, err := e.Store(ctx, StoreInput{Type: store.TypeEpisodic, Content: "Cause happened.", Summary: "cause"})
	require.NoError(t, err)
	b, err := e.Store(ctx, StoreInput{Type: store.TypeEpisodic, Content: "Effect followed.", Summary: "effect"})
	require.NoError(t, err)

	require.NoError(t, e.CreateLink(ctx, a, b, store.LinkCauses, 0.8))

	link, err := e.store.GetLink(ctx, a, b, store.LinkCauses)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, 0.8, link.Strength)

	assert.Error(t, e.CreateLink(ctx, a, a, store.LinkCauses, 0.8))
}

func TestEngineDreamCycle(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) {
		cfg.LLM = promptLLM{}
	})
	ctx := context.Background()

	episodes := []string{
		"Three people asked about the token launch today.",
		"The launch thread drew more replies than anything else.",
		"Another conversation drifted into launch mechanics.",
	}
	for _, content := range episodes {
		_, err := e.Store(ctx, StoreInput{Type: store.TypeEpisodic, Content: content})
		require.NoError(t, err)
	}

	e.RunDreamCycleOnce(ctx)

	patterns, err := e.GetRecent(ctx, time.Hour, []store.MemoryType{store.TypeSemantic}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, patterns)
	assert.Equal(t, "dream", patterns[0].Source)
	assert.Len(t, patterns[0].EvidenceIDs, 3)

	selfModel, err := e.GetSelfModel(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, selfModel)
}

func TestEngineDecayRuns(t *testing.T) {
	e := newTestEngine(t, nil)

	counts, err := e.Decay(context.Background())
	require.NoError(t, err)
	assert.Len(t, counts, len(store.MemoryTypes))
}

func TestEngineVerifyWithoutLedger(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Verify(context.Background(), "mem_whatever")
	assert.ErrorContains(t, err, "ledger is not configured")
}

func TestEngineVerifyAgainstLedger(t *testing.T) {
	reg := newMemLedger()
	e := newTestEngine(t, func(cfg *Config) {
		cfg.Ledger = reg
	})
	ctx := context.Background()

	id, err := e.Store(ctx, StoreInput{
		Type:    store.TypeEpisodic,
		Content: "A promise worth notarizing.",
		Summary: "Promise",
	})
	require.NoError(t, err)

	ok, err := e.Verify(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	// A different memory id has no registered hash.
	_, err = e.Verify(ctx, "mem_unknown")
	assert.Error(t, err)
}

func TestEngineImportanceFromModel(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) {
		cfg.LLM = promptLLM{}
	})
	ctx := context.Background()

	id, err := e.Store(ctx, StoreInput{
		Type:    store.TypeEpisodic,
		Content: "A memorable exchange worth keeping.",
		Summary: "Memorable exchange",
	})
	require.NoError(t, err)

	got, err := e.Hydrate(ctx, []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.7, got[0].Importance, 1e-9)
}
