package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/tasks"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) EmbedOne(_ context.Context, _ string) ([]float32, error) {
	return f.vec, f.err
}

type recallFixture struct {
	store     *store.Store
	memIdx    *store.MemoryVectorIndex
	fragIdx   *store.MemoryVectorIndex
	entityIdx *store.MemoryVectorIndex
}

func newFixture(t *testing.T) *recallFixture {
	t.Helper()
	f := &recallFixture{
		memIdx:    store.NewMemoryVectorIndex(),
		fragIdx:   store.NewMemoryVectorIndex(),
		entityIdx: store.NewMemoryVectorIndex(),
	}
	s, err := store.New(":memory:", store.Indexes{
		Memories: f.memIdx, Fragments: f.fragIdx, Entities: f.entityIdx,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f.store = s
	return f
}

func (f *recallFixture) retriever(t *testing.T, embedder Embedder) *Retriever {
	t.Helper()
	r, err := NewRetriever(RetrieverConfig{
		Store:       f.store,
		Embedder:    embedder,
		MemoryIndex: f.memIdx,
		FragIndex:   f.fragIdx,
		EntityIndex: f.entityIdx,
		Tasks:       tasks.Inline{},
	})
	require.NoError(t, err)
	return r
}

func (f *recallFixture) insert(t *testing.T, m *store.Memory, embedding []float32) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Insert(ctx, m))
	if embedding != nil {
		require.NoError(t, f.store.SetEmbedding(ctx, m.ID, embedding))
	}
	return m.ID
}

func TestRecallRanksRelevantFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	solID := f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "SOL pumped 12% this morning after the ETF news broke",
		Summary: "SOL up 12% on ETF news",
		Tags:    []string{"market", "sol"},
	}, []float32{1, 0})
	f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "had pasta for dinner with alice",
		Summary: "dinner with alice",
	}, []float32{0, 1})

	r := f.retriever(t, fakeEmbedder{vec: []float32{1, 0}})
	got, err := r.Recall(ctx, RecallOptions{Query: "what happened to SOL today?", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, solID, got[0].Memory.ID)

	// Recall is rehearsal: the surfaced memory got an access touch.
	m, err := f.store.Get(ctx, solID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.AccessCount)
}

func TestRecallDegradesWithoutEmbedder(t *testing.T) {
	f := newFixture(t)

	solID := f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "SOL pumped 12% this morning",
		Summary: "SOL up 12%",
	}, nil)
	f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "had pasta for dinner",
		Summary: "dinner",
	}, nil)

	r := f.retriever(t, nil)
	got, err := r.Recall(context.Background(), RecallOptions{Query: "SOL price", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, solID, got[0].Memory.ID)
}

func TestRecallDegradesWhenEmbeddingFails(t *testing.T) {
	f := newFixture(t)

	solID := f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "SOL pumped 12% this morning",
		Summary: "SOL up 12%",
	}, []float32{1, 0})

	r := f.retriever(t, fakeEmbedder{err: errors.New("provider down")})
	got, err := r.Recall(context.Background(), RecallOptions{Query: "SOL", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, solID, got[0].Memory.ID)
}

func TestRecallUnionsVectorOnlyHits(t *testing.T) {
	f := newFixture(t)

	// Lexically unrelated to the query, but the closest vector.
	vecOnly := f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "portfolio rebalanced toward layer ones",
		Summary: "rebalanced portfolio",
	}, []float32{1, 0})

	r := f.retriever(t, fakeEmbedder{vec: []float32{1, 0}})
	got, err := r.Recall(context.Background(), RecallOptions{Query: "solana exposure", Limit: 5})
	require.NoError(t, err)

	ids := resultIDs(got)
	assert.Contains(t, ids, vecOnly)
}

func TestRecallExcludesCompactedMemories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A distilled episode: compacted into a pattern after consolidation.
	squashed := f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "SOL pumped 12% this morning after the ETF news broke",
		Summary: "SOL up 12% on ETF news",
	}, []float32{1, 0})
	pattern := f.insert(t, &store.Memory{
		Type:    store.TypeSemantic,
		Content: "SOL rallies on ETF headlines",
		Summary: "SOL rallies on ETF headlines",
	}, []float32{1, 0})
	require.NoError(t, f.store.MarkCompacted(ctx, []string{squashed}, pattern))

	r := f.retriever(t, fakeEmbedder{vec: []float32{1, 0}})
	got, err := r.Recall(ctx, RecallOptions{Query: "SOL", Limit: 5})
	require.NoError(t, err)

	ids := resultIDs(got)
	assert.NotContains(t, ids, squashed)
	assert.Contains(t, ids, pattern)
}

func TestRecallFragmentHitResolvesToParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent := f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "long trading session notes",
		Summary: "trading session",
	}, nil)
	require.NoError(t, f.store.AddFragment(ctx, &store.Fragment{
		MemoryID:  parent,
		Type:      store.FragmentContentChunk,
		Content:   "detailed chunk",
		Embedding: []float32{1, 0},
	}))

	r := f.retriever(t, fakeEmbedder{vec: []float32{1, 0}})
	got, err := r.Recall(ctx, RecallOptions{Query: "anything", Limit: 5})
	require.NoError(t, err)

	assert.Contains(t, resultIDs(got), parent)
}

func TestRecallLinkExpansion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "SOL pumped 12% this morning",
		Summary: "SOL up 12%",
	}, nil)
	neighbor := f.insert(t, &store.Memory{
		Type:    store.TypeSemantic,
		Content: "exchange listings tend to move price",
		Summary: "listings move price",
	}, nil)
	require.NoError(t, f.store.UpsertLink(ctx, &store.Link{
		SourceID: seed, TargetID: neighbor, Type: store.LinkCauses, Strength: 0.9,
	}))

	r := f.retriever(t, nil)
	got, err := r.Recall(ctx, RecallOptions{Query: "SOL", Limit: 5, SkipAccessTracking: true})
	require.NoError(t, err)

	ids := resultIDs(got)
	assert.Contains(t, ids, seed)
	assert.Contains(t, ids, neighbor)
	assert.Equal(t, seed, ids[0])
}

func TestRecallEntityExpansion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mentioned := f.insert(t, &store.Memory{
		Type:    store.TypeEpisodic,
		Content: "watched the chart all afternoon",
		Summary: "afternoon chart watching",
	}, nil)

	entID, err := f.store.UpsertEntity(ctx, &store.Entity{Type: store.EntityToken, Name: "SOL"})
	require.NoError(t, err)
	require.NoError(t, f.store.SetEntityEmbedding(ctx, entID, []float32{1, 0}))
	require.NoError(t, f.store.RecordMention(ctx, &store.EntityMention{
		EntityID: entID, MemoryID: mentioned, Salience: 0.9,
	}))

	r := f.retriever(t, fakeEmbedder{vec: []float32{1, 0}})
	got, err := r.Recall(ctx, RecallOptions{Query: "SOL", Limit: 6, SkipAccessTracking: true})
	require.NoError(t, err)

	assert.Contains(t, resultIDs(got), mentioned)
}

func TestRecallHebbianReinforcement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.insert(t, &store.Memory{
		Type: store.TypeEpisodic, Content: "SOL pumped 12%", Summary: "SOL up"}, nil)
	b := f.insert(t, &store.Memory{
		Type: store.TypeEpisodic, Content: "SOL ETF approved", Summary: "SOL ETF news"}, nil)
	require.NoError(t, f.store.UpsertLink(ctx, &store.Link{
		SourceID: a, TargetID: b, Type: store.LinkRelates, Strength: 0.5,
	}))

	r := f.retriever(t, nil)
	_, err := r.Recall(ctx, RecallOptions{Query: "SOL", Limit: 5})
	require.NoError(t, err)

	link, err := f.store.GetLink(ctx, a, b, store.LinkRelates)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Greater(t, link.Strength, 0.5)
}

func TestRecallSkipAccessTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.insert(t, &store.Memory{
		Type: store.TypeEpisodic, Content: "SOL pumped", Summary: "SOL up"}, nil)

	r := f.retriever(t, nil)
	_, err := r.Recall(ctx, RecallOptions{Query: "SOL", Limit: 5, SkipAccessTracking: true})
	require.NoError(t, err)

	m, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, m.AccessCount)
}

func TestRecallDeterministicTieBreak(t *testing.T) {
	f := newFixture(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id := f.insert(t, &store.Memory{
			Type: store.TypeEpisodic, Content: "identical", Summary: "identical"}, nil)
		ids = append(ids, id)
	}

	r := f.retriever(t, nil)
	first, err := r.Recall(context.Background(), RecallOptions{Query: "identical", Limit: 3, SkipAccessTracking: true})
	require.NoError(t, err)
	second, err := r.Recall(context.Background(), RecallOptions{Query: "identical", Limit: 3, SkipAccessTracking: true})
	require.NoError(t, err)

	assert.Equal(t, resultIDs(first), resultIDs(second))
}

func TestRecallSummariesAndHydrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.insert(t, &store.Memory{
		Type: store.TypeEpisodic, Content: "SOL pumped 12% this morning", Summary: "SOL up 12%"}, nil)

	r := f.retriever(t, nil)
	summaries, err := r.RecallSummaries(ctx, RecallOptions{Query: "SOL", Limit: 5, SkipAccessTracking: true})
	require.NoError(t, err)
	require.NotEmpty(t, summaries)
	assert.Equal(t, id, summaries[0].ID)
	assert.Equal(t, "SOL up 12%", summaries[0].Summary)

	full, err := r.Hydrate(ctx, []string{summaries[0].ID})
	require.NoError(t, err)
	require.Len(t, full, 1)
	assert.Equal(t, "SOL pumped 12% this morning", full[0].Content)

	// Hydration counts as access.
	m, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, m.AccessCount)
}

func TestRecallRespectsFilter(t *testing.T) {
	f := newFixture(t)

	f.insert(t, &store.Memory{
		Type: store.TypeEpisodic, Content: "SOL pumped", Summary: "SOL up", RelatedUser: "alice"}, nil)
	bob := f.insert(t, &store.Memory{
		Type: store.TypeEpisodic, Content: "SOL pumped", Summary: "SOL up", RelatedUser: "bob"}, nil)

	r := f.retriever(t, nil)
	got, err := r.Recall(context.Background(), RecallOptions{
		Query: "SOL", RelatedUser: "bob", Limit: 5, SkipAccessTracking: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bob, got[0].Memory.ID)
}

func resultIDs(scored []ScoredMemory) []string {
	ids := make([]string, 0, len(scored))
	for _, sm := range scored {
		ids = append(ids, sm.Memory.ID)
	}
	return ids
}
