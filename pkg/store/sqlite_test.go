package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", Indexes{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &Memory{
		Type:             TypeEpisodic,
		Content:          "SOL pumped 12% this morning after the ETF news broke",
		Summary:          "SOL up 12% on ETF news",
		Tags:             []string{"market", "sol"},
		Concepts:         []string{"market"},
		EmotionalValence: 0.6,
		Importance:       0.7,
		RelatedUser:      "user_42",
		Metadata:         map[string]interface{}{"channel": "telegram"},
	}
	require.NoError(t, s.Insert(ctx, m))
	require.NotEmpty(t, m.ID)
	assert.Contains(t, m.ID, "mem_")
	assert.Greater(t, m.Seq, int64(0))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeEpisodic, got.Type)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, []string{"market", "sol"}, got.Tags)
	assert.Equal(t, "user_42", got.RelatedUser)
	assert.Equal(t, "telegram", got.Metadata["channel"])
	assert.Equal(t, 1.0, got.DecayFactor)
	assert.Equal(t, 0, got.AccessCount)
	assert.False(t, got.LastAccessed.IsZero())
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "mem_missing")
	assert.ErrorIs(t, err, ErrMemoryNotFound)
}

func TestGetByIDsPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		m := &Memory{Type: TypeSemantic, Content: "c", Summary: "s"}
		require.NoError(t, s.Insert(ctx, m))
		ids = append(ids, m.ID)
	}

	// Reversed request order, plus a missing id that should be skipped.
	request := []string{ids[2], "mem_missing", ids[0]}
	got, err := s.GetByIDs(ctx, request)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[0], got[1].ID)
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert := func(typ MemoryType, user string, importance float64, tags []string) string {
		m := &Memory{Type: typ, Content: "c", Summary: "s", RelatedUser: user, Importance: importance, Tags: tags}
		require.NoError(t, s.Insert(ctx, m))
		return m.ID
	}

	epUser := insert(TypeEpisodic, "alice", 0.8, []string{"market"})
	insert(TypeEpisodic, "bob", 0.2, nil)
	sem := insert(TypeSemantic, "alice", 0.9, []string{"identity"})

	got, err := s.Query(ctx, QueryFilter{Types: []MemoryType{TypeEpisodic}, RelatedUser: "alice"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, epUser, got[0].ID)

	got, err = s.Query(ctx, QueryFilter{MinImportance: 0.5})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Query(ctx, QueryFilter{Tags: []string{"identity"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sem, got[0].ID)
}

func TestQueryExcludesDecayedAndCompacted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	faded := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s", DecayFactor: 0.05}
	require.NoError(t, s.Insert(ctx, faded))
	alive := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s"}
	require.NoError(t, s.Insert(ctx, alive))
	squashed := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s"}
	require.NoError(t, s.Insert(ctx, squashed))
	require.NoError(t, s.MarkCompacted(ctx, []string{squashed.ID}, alive.ID))

	got, err := s.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, alive.ID, got[0].ID)

	// Compacted memories stay addressable by id.
	direct, err := s.Get(ctx, squashed.ID)
	require.NoError(t, err)
	assert.True(t, direct.Compacted)
	assert.Equal(t, alive.ID, direct.CompactedInto)
}

func TestGetRecentWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &Memory{Type: TypeEpisodic, Content: "c", Summary: "old",
		CreatedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, s.Insert(ctx, old))
	fresh := &Memory{Type: TypeEpisodic, Content: "c", Summary: "fresh"}
	require.NoError(t, s.Insert(ctx, fresh))

	got, err := s.GetRecent(ctx, 24*time.Hour, []MemoryType{TypeEpisodic}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)
}

func TestGetSelfModelOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	weak := &Memory{Type: TypeSelfModel, Content: "c", Summary: "weak", Importance: 0.5}
	require.NoError(t, s.Insert(ctx, weak))
	strong := &Memory{Type: TypeSelfModel, Content: "c", Summary: "strong", Importance: 0.9}
	require.NoError(t, s.Insert(ctx, strong))
	other := &Memory{Type: TypeEpisodic, Content: "c", Summary: "ep"}
	require.NoError(t, s.Insert(ctx, other))

	got, err := s.GetSelfModel(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, strong.ID, got[0].ID)
	assert.Equal(t, weak.ID, got[1].ID)
}

func TestBatchAccessBoost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s", DecayFactor: 0.5,
		LastAccessed: time.Now().Add(-time.Hour)}
	require.NoError(t, s.Insert(ctx, m))
	before, err := s.Get(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, s.BatchAccessBoost(ctx, []string{m.ID}, 0.05))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.InDelta(t, 0.55, got.DecayFactor, 1e-9)
	assert.True(t, got.LastAccessed.After(before.LastAccessed))

	// Boost never pushes decay past 1.
	require.NoError(t, s.BatchAccessBoost(ctx, []string{m.ID}, 0.9))
	got, err = s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.DecayFactor)
	assert.Equal(t, 2, got.AccessCount)
}

func TestBoostImportanceCapped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &Memory{Type: TypeSemantic, Content: "c", Summary: "s", Importance: 0.95}
	require.NoError(t, s.Insert(ctx, m))
	require.NoError(t, s.BoostImportance(ctx, []string{m.ID}, 0.2))

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Importance)
}

func TestDecayType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := &Memory{Type: TypeEpisodic, Content: "c", Summary: "stale",
		LastAccessed: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, s.Insert(ctx, stale))
	active := &Memory{Type: TypeEpisodic, Content: "c", Summary: "active"}
	require.NoError(t, s.Insert(ctx, active))
	floored := &Memory{Type: TypeEpisodic, Content: "c", Summary: "floored",
		DecayFactor: MinDecay, LastAccessed: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, s.Insert(ctx, floored))

	n, err := s.DecayType(ctx, TypeEpisodic, 0.95, time.Now().Add(-24*time.Hour), MinDecay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, got.DecayFactor, 1e-9)

	got, err = s.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.DecayFactor)

	got, err = s.Get(ctx, floored.ID)
	require.NoError(t, err)
	assert.Equal(t, MinDecay, got.DecayFactor)
}

func TestDecayTypeNeverBelowFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s",
		DecayFactor: 0.101, LastAccessed: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, s.Insert(ctx, m))

	_, err := s.DecayType(ctx, TypeEpisodic, 0.5, time.Now().Add(-24*time.Hour), MinDecay)
	require.NoError(t, err)

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, MinDecay, got.DecayFactor)
}

func TestDecayTypeRejectsBadRate(t *testing.T) {
	s := newTestStore(t)

	_, err := s.DecayType(context.Background(), TypeEpisodic, 1.5, time.Now(), MinDecay)
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s", Importance: 0.4}
	require.NoError(t, s.Insert(ctx, a))
	b := &Memory{Type: TypeSemantic, Content: "c", Summary: "s", Importance: 0.8}
	require.NoError(t, s.Insert(ctx, b))
	require.NoError(t, s.UpsertLink(ctx, &Link{SourceID: a.ID, TargetID: b.ID, Type: LinkRelates, Strength: 0.5}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalMemories)
	assert.Equal(t, int64(1), stats.ByType["episodic"])
	assert.Equal(t, int64(1), stats.ByType["semantic"])
	assert.Equal(t, int64(1), stats.TotalLinks)
	assert.InDelta(t, 0.6, stats.AvgImportance, 1e-9)
}

func TestFragmentsRoundTrip(t *testing.T) {
	idx := NewMemoryVectorIndex()
	s, err := New(":memory:", Indexes{Fragments: idx})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	m := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s"}
	require.NoError(t, s.Insert(ctx, m))

	f := &Fragment{MemoryID: m.ID, Type: FragmentSummary, Content: "s",
		Embedding: []float32{1, 0, 0}}
	require.NoError(t, s.AddFragment(ctx, f))
	assert.Contains(t, f.ID, "frag_")
	assert.Equal(t, 1, idx.Len())

	got, err := s.GetFragments(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, FragmentSummary, got[0].Type)
	assert.Equal(t, []float32{1, 0, 0}, got[0].Embedding)
}

func TestMarkCompactedDeindexes(t *testing.T) {
	memIdx := NewMemoryVectorIndex()
	fragIdx := NewMemoryVectorIndex()
	s, err := New(":memory:", Indexes{Memories: memIdx, Fragments: fragIdx})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	squashed := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s"}
	require.NoError(t, s.Insert(ctx, squashed))
	require.NoError(t, s.SetEmbedding(ctx, squashed.ID, []float32{1, 0}))
	require.NoError(t, s.AddFragment(ctx, &Fragment{
		MemoryID: squashed.ID, Type: FragmentSummary, Content: "s",
		Embedding: []float32{1, 0}}))

	kept := &Memory{Type: TypeSemantic, Content: "pattern", Summary: "pattern"}
	require.NoError(t, s.Insert(ctx, kept))
	require.NoError(t, s.SetEmbedding(ctx, kept.ID, []float32{0, 1}))

	require.NoError(t, s.MarkCompacted(ctx, []string{squashed.ID}, kept.ID))

	// The compacted memory and its fragments leave the vector indexes; the
	// target stays searchable.
	assert.Equal(t, 1, memIdx.Len())
	assert.Equal(t, 0, fragIdx.Len())

	hits, err := memIdx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, squashed.ID, h.ID)
	}
}

func TestSetEmbedding(t *testing.T) {
	idx := NewMemoryVectorIndex()
	s, err := New(":memory:", Indexes{Memories: idx})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	m := &Memory{Type: TypeEpisodic, Content: "c", Summary: "s"}
	require.NoError(t, s.Insert(ctx, m))

	require.NoError(t, s.SetEmbedding(ctx, m.ID, []float32{0.1, 0.2}))
	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, got.Embedding)
	assert.Equal(t, 1, idx.Len())

	assert.ErrorIs(t, s.SetEmbedding(ctx, "mem_missing", []float32{1}), ErrMemoryNotFound)
}

func TestDreamSessionLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &DreamSession{Phase: "consolidation",
		InputIDs: []string{"mem_a", "mem_b"}, OutputIDs: []string{"mem_c"},
		Notes: "2 episodes consolidated"}
	require.NoError(t, s.LogDreamSession(ctx, sess))
	require.NotEmpty(t, sess.ID)

	got, err := s.RecentDreamSessions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "consolidation", got[0].Phase)
	assert.Equal(t, []string{"mem_a", "mem_b"}, got[0].InputIDs)
	assert.Equal(t, []string{"mem_c"}, got[0].OutputIDs)
}

func TestRandomOlderEpisodic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RandomOlderEpisodic(ctx, time.Hour)
	assert.ErrorIs(t, err, ErrMemoryNotFound)

	old := &Memory{Type: TypeEpisodic, Content: "c", Summary: "old",
		CreatedAt: time.Now().Add(-72 * time.Hour)}
	require.NoError(t, s.Insert(ctx, old))
	fresh := &Memory{Type: TypeEpisodic, Content: "c", Summary: "fresh"}
	require.NoError(t, s.Insert(ctx, fresh))

	got, err := s.RandomOlderEpisodic(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, old.ID, got.ID)
}
