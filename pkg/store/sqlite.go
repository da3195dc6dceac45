package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Store is the SQLite-backed persistence layer. It owns the relational
// tables and delegates similarity search to pluggable vector indexes.
type Store struct {
	db      *sql.DB
	indexes Indexes
}

// Indexes groups the vector indexes the store searches. Any of them may be
// nil, in which case the corresponding similarity capability is absent and
// callers degrade to metadata/lexical retrieval.
type Indexes struct {
	Memories  VectorIndex
	Fragments VectorIndex
	Entities  VectorIndex
}

// New opens (or creates) a store at dbPath. dbPath can be ":memory:" for
// tests. Creates tables and indexes if they don't exist.
func New(dbPath string, indexes Indexes) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, indexes: indexes}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// DB returns the underlying database connection for advanced operations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		memory_type TEXT NOT NULL,
		content TEXT NOT NULL,
		summary TEXT NOT NULL,
		tags_json TEXT,
		concepts_json TEXT,
		emotional_valence REAL DEFAULT 0,
		importance REAL DEFAULT 0.5,
		access_count INTEGER DEFAULT 0,
		source TEXT,
		source_id TEXT,
		related_user TEXT,
		related_wallet TEXT,
		metadata_json TEXT,
		created_at DATETIME NOT NULL,
		last_accessed DATETIME NOT NULL,
		decay_factor REAL DEFAULT 1.0,
		evidence_json TEXT,
		compacted INTEGER DEFAULT 0,
		compacted_into TEXT,
		embedding BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(related_user);
	CREATE INDEX IF NOT EXISTS idx_memories_wallet ON memories(related_wallet);
	CREATE INDEX IF NOT EXISTS idx_memories_accessed ON memories(last_accessed);

	CREATE TABLE IF NOT EXISTS fragments (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		fragment_type TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_fragments_memory ON fragments(memory_id);

	CREATE TABLE IF NOT EXISTS links (
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		link_type TEXT NOT NULL,
		strength REAL NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (source_id, target_id, link_type)
	);

	CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_id);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_id);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		name TEXT NOT NULL,
		normalized_name TEXT NOT NULL UNIQUE,
		aliases_json TEXT,
		mention_count INTEGER DEFAULT 0,
		embedding BLOB,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_normalized ON entities(normalized_name);

	CREATE TABLE IF NOT EXISTS entity_mentions (
		entity_id TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		context TEXT,
		salience REAL NOT NULL,
		PRIMARY KEY (entity_id, memory_id)
	);

	CREATE INDEX IF NOT EXISTS idx_mentions_memory ON entity_mentions(memory_id);

	CREATE TABLE IF NOT EXISTS entity_relations (
		source_entity_id TEXT NOT NULL,
		target_entity_id TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		strength REAL NOT NULL,
		evidence_json TEXT,
		PRIMARY KEY (source_entity_id, target_entity_id, relation_type)
	);

	CREATE TABLE IF NOT EXISTS dream_sessions (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		input_json TEXT,
		output_json TEXT,
		notes TEXT,
		created_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// NewMemoryID generates an opaque collision-resistant memory id.
func NewMemoryID() string {
	return "mem_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewEntityID generates an opaque entity id.
func NewEntityID() string {
	return "ent_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewFragmentID generates an opaque fragment id.
func NewFragmentID() string {
	return "frag_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Insert persists a new memory record. ID and timestamps are generated when
// absent; decay_factor defaults to 1.0.
func (s *Store) Insert(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = NewMemoryID()
	}

	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessed.IsZero() {
		m.LastAccessed = m.CreatedAt
	}
	if m.DecayFactor == 0 {
		m.DecayFactor = 1.0
	}

	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	conceptsJSON, err := json.Marshal(m.Concepts)
	if err != nil {
		return fmt.Errorf("failed to marshal concepts: %w", err)
	}
	metadataJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	evidenceJSON, err := json.Marshal(m.EvidenceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence ids: %w", err)
	}

	query := `
		INSERT INTO memories (id, memory_type, content, summary, tags_json, concepts_json,
			emotional_valence, importance, access_count, source, source_id,
			related_user, related_wallet, metadata_json, created_at, last_accessed,
			decay_factor, evidence_json, compacted, compacted_into, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		m.ID, string(m.Type), m.Content, m.Summary, tagsJSON, conceptsJSON,
		m.EmotionalValence, m.Importance, m.AccessCount, m.Source, m.SourceID,
		m.RelatedUser, m.RelatedWallet, metadataJSON, m.CreatedAt, m.LastAccessed,
		m.DecayFactor, evidenceJSON, m.Compacted, m.CompactedInto, serializeEmbedding(m.Embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	if seq, err := res.LastInsertId(); err == nil {
		m.Seq = seq
	}

	return nil
}

const memoryColumns = `id, rowid, memory_type, content, summary, tags_json, concepts_json,
	emotional_valence, importance, access_count, source, source_id,
	related_user, related_wallet, metadata_json, created_at, last_accessed,
	decay_factor, evidence_json, compacted, compacted_into, embedding`

func scanMemory(scan func(dest ...interface{}) error) (*Memory, error) {
	var m Memory
	var typ string
	var tagsJSON, conceptsJSON, metadataJSON, evidenceJSON, embeddingBytes []byte
	var source, sourceID, relatedUser, relatedWallet, compactedInto sql.NullString

	err := scan(
		&m.ID, &m.Seq, &typ, &m.Content, &m.Summary, &tagsJSON, &conceptsJSON,
		&m.EmotionalValence, &m.Importance, &m.AccessCount, &source, &sourceID,
		&relatedUser, &relatedWallet, &metadataJSON, &m.CreatedAt, &m.LastAccessed,
		&m.DecayFactor, &evidenceJSON, &m.Compacted, &compactedInto, &embeddingBytes,
	)
	if err != nil {
		return nil, err
	}

	m.Type = MemoryType(typ)
	m.Source = source.String
	m.SourceID = sourceID.String
	m.RelatedUser = relatedUser.String
	m.RelatedWallet = relatedWallet.String
	m.CompactedInto = compactedInto.String
	m.Embedding = deserializeEmbedding(embeddingBytes)

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(conceptsJSON) > 0 {
		if err := json.Unmarshal(conceptsJSON, &m.Concepts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal concepts: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if len(evidenceJSON) > 0 {
		if err := json.Unmarshal(evidenceJSON, &m.EvidenceIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence ids: %w", err)
		}
	}

	return &m, nil
}

// Get retrieves a memory by id. Returns ErrMemoryNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM memories WHERE id = ?", memoryColumns), id)

	m, err := scanMemory(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrMemoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// GetByIDs fetches full memories for the given ids. Missing ids are skipped.
// Result order follows the input order.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]*Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf("SELECT %s FROM memories WHERE id IN (%s)",
		memoryColumns, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get memories by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}

	result := make([]*Memory, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			result = append(result, m)
		}
	}
	return result, nil
}

// Query selects memories on metadata alone: decay floor, type, correlation
// keys, minimum importance and tag overlap. No relevance scoring happens
// here; callers over-fetch and re-rank.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]*Memory, error) {
	minDecay := f.MinDecay
	if minDecay == 0 {
		minDecay = MinDecay
	}

	query := fmt.Sprintf("SELECT %s FROM memories WHERE decay_factor >= ? AND compacted = 0", memoryColumns)
	args := []interface{}{minDecay}

	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += fmt.Sprintf(" AND memory_type IN (%s)", strings.Join(placeholders, ","))
	}
	if f.RelatedUser != "" {
		query += " AND related_user = ?"
		args = append(args, f.RelatedUser)
	}
	if f.RelatedWallet != "" {
		query += " AND related_wallet = ?"
		args = append(args, f.RelatedWallet)
	}
	if f.MinImportance > 0 {
		query += " AND importance >= ?"
		args = append(args, f.MinImportance)
	}
	if len(f.Tags) > 0 {
		// Tags are stored as a JSON array; match any requested tag.
		clauses := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			clauses[i] = "tags_json LIKE ?"
			args = append(args, `%"`+tag+`"%`)
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}

	query += " ORDER BY last_accessed DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return s.queryMemories(ctx, query, args...)
}

// Summaries returns lightweight projections matching the filter, for
// progressive disclosure.
func (s *Store) Summaries(ctx context.Context, f QueryFilter) ([]MemorySummary, error) {
	memories, err := s.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	summaries := make([]MemorySummary, 0, len(memories))
	for _, m := range memories {
		summaries = append(summaries, MemorySummary{
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

// GetRecent returns memories created within the last `window`, optionally
// filtered by type, newest first.
func (s *Store) GetRecent(ctx context.Context, window time.Duration, types []MemoryType, limit int) ([]*Memory, error) {
	cutoff := time.Now().Add(-window)

	query := fmt.Sprintf("SELECT %s FROM memories WHERE created_at >= ? AND compacted = 0", memoryColumns)
	args := []interface{}{cutoff}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += fmt.Sprintf(" AND memory_type IN (%s)", strings.Join(placeholders, ","))
	}

	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryMemories(ctx, query, args...)
}

// GetSelfModel returns all self-model memories, strongest first.
func (s *Store) GetSelfModel(ctx context.Context) ([]*Memory, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM memories WHERE memory_type = ? AND compacted = 0 ORDER BY importance DESC, created_at DESC, id",
		memoryColumns)
	return s.queryMemories(ctx, query, string(TypeSelfModel))
}

// RandomOlderEpisodic samples one episodic memory older than minAge, for
// grounding introspective output in a concrete past event.
func (s *Store) RandomOlderEpisodic(ctx context.Context, minAge time.Duration) (*Memory, error) {
	cutoff := time.Now().Add(-minAge)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM memories WHERE memory_type = ? AND created_at < ? AND compacted = 0 ORDER BY RANDOM() LIMIT 1",
		memoryColumns), string(TypeEpisodic), cutoff)

	m, err := scanMemory(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrMemoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sample episodic memory: %w", err)
	}
	return m, nil
}

// Stats aggregates store-wide counts and averages.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByType: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(importance), 0), COALESCE(AVG(decay_factor), 0) FROM memories").
		Scan(&stats.TotalMemories, &stats.AvgImportance, &stats.AvgDecayFactor)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate memories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT memory_type, COUNT(*) FROM memories GROUP BY memory_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count memories by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int64
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.ByType[typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating type counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM links").Scan(&stats.TotalLinks); err != nil {
		return nil, fmt.Errorf("failed to count links: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&stats.TotalEntities); err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments").Scan(&stats.TotalFragments); err != nil {
		return nil, fmt.Errorf("failed to count fragments: %w", err)
	}

	return stats, nil
}

// MarkCompacted flags the given memories as summarized into targetID.
// Compacted memories drop out of metadata queries but stay addressable.
func (s *Store) MarkCompacted(ctx context.Context, ids []string, targetID string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := []interface{}{targetID}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf("UPDATE memories SET compacted = 1, compacted_into = ? WHERE id IN (%s)",
		strings.Join(placeholders, ","))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark memories compacted: %w", err)
	}

	return s.deindexMemories(ctx, ids)
}

// deindexMemories removes memories and their fragments from the vector
// indexes, so compacted records cannot resurface through the vector phase
// of recall.
func (s *Store) deindexMemories(ctx context.Context, ids []string) error {
	if s.indexes.Memories != nil {
		for _, id := range ids {
			if err := s.indexes.Memories.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to deindex memory %s: %w", id, err)
			}
		}
	}

	if s.indexes.Fragments == nil {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id FROM fragments WHERE memory_id IN (%s)", strings.Join(placeholders, ",")), args...)
	if err != nil {
		return fmt.Errorf("failed to list fragments for deindexing: %w", err)
	}
	defer rows.Close()

	var fragIDs []string
	for rows.Next() {
		var fragID string
		if err := rows.Scan(&fragID); err != nil {
			return fmt.Errorf("failed to scan fragment id: %w", err)
		}
		fragIDs = append(fragIDs, fragID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list fragments for deindexing: %w", err)
	}

	for _, fragID := range fragIDs {
		if err := s.indexes.Fragments.Delete(ctx, fragID); err != nil {
			return fmt.Errorf("failed to deindex fragment %s: %w", fragID, err)
		}
	}
	return nil
}

// AddFragment persists a sub-memory fragment and registers its embedding
// with the fragment index when both are present.
func (s *Store) AddFragment(ctx context.Context, f *Fragment) error {
	if f.ID == "" {
		f.ID = NewFragmentID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO fragments (id, memory_id, fragment_type, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		f.ID, f.MemoryID, string(f.Type), f.Content, serializeEmbedding(f.Embedding), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fragment: %w", err)
	}

	if s.indexes.Fragments != nil && len(f.Embedding) > 0 {
		if err := s.indexes.Fragments.Add(ctx, f.ID, f.Embedding); err != nil {
			return fmt.Errorf("failed to index fragment: %w", err)
		}
	}
	return nil
}

// GetFragments returns the fragments belonging to a memory.
func (s *Store) GetFragments(ctx context.Context, memoryID string) ([]*Fragment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, memory_id, fragment_type, content, embedding, created_at FROM fragments WHERE memory_id = ? ORDER BY created_at, id",
		memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	var fragments []*Fragment
	for rows.Next() {
		var f Fragment
		var typ string
		var embeddingBytes []byte
		if err := rows.Scan(&f.ID, &f.MemoryID, &typ, &f.Content, &embeddingBytes, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		f.Type = FragmentType(typ)
		f.Embedding = deserializeEmbedding(embeddingBytes)
		fragments = append(fragments, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fragments: %w", err)
	}
	return fragments, nil
}

// SetEmbedding stores a memory's summary embedding and registers it with
// the memory index.
func (s *Store) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memories SET embedding = ? WHERE id = ?",
		serializeEmbedding(embedding), id)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemoryNotFound
	}

	if s.indexes.Memories != nil && len(embedding) > 0 {
		if err := s.indexes.Memories.Add(ctx, id, embedding); err != nil {
			return fmt.Errorf("failed to index memory embedding: %w", err)
		}
	}
	return nil
}

// LogDreamSession records one phase of the dream cycle.
func (s *Store) LogDreamSession(ctx context.Context, session *DreamSession) error {
	if session.ID == "" {
		session.ID = "dream_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	inputJSON, err := json.Marshal(session.InputIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal session inputs: %w", err)
	}
	outputJSON, err := json.Marshal(session.OutputIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal session outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO dream_sessions (id, phase, input_json, output_json, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		session.ID, session.Phase, inputJSON, outputJSON, session.Notes, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log dream session: %w", err)
	}
	return nil
}

// RecentDreamSessions returns the latest dream-session records, newest first.
func (s *Store) RecentDreamSessions(ctx context.Context, limit int) ([]DreamSession, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, phase, input_json, output_json, notes, created_at FROM dream_sessions ORDER BY created_at DESC, id LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dream sessions: %w", err)
	}
	defer rows.Close()

	var sessions []DreamSession
	for rows.Next() {
		var sess DreamSession
		var inputJSON, outputJSON []byte
		var notes sql.NullString
		if err := rows.Scan(&sess.ID, &sess.Phase, &inputJSON, &outputJSON, &notes, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dream session: %w", err)
		}
		sess.Notes = notes.String
		if len(inputJSON) > 0 {
			if err := json.Unmarshal(inputJSON, &sess.InputIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal session inputs: %w", err)
			}
		}
		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &sess.OutputIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal session outputs: %w", err)
			}
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dream sessions: %w", err)
	}
	return sessions, nil
}

// FragmentMemoryIDs maps fragment ids to their parent memory ids. Unknown
// fragment ids are skipped.
func (s *Store) FragmentMemoryIDs(ctx context.Context, fragmentIDs []string) (map[string]string, error) {
	if len(fragmentIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(fragmentIDs))
	args := make([]interface{}, len(fragmentIDs))
	for i, id := range fragmentIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, memory_id FROM fragments WHERE id IN (%s)", strings.Join(placeholders, ",")),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fragments: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string, len(fragmentIDs))
	for rows.Next() {
		var fragID, memID string
		if err := rows.Scan(&fragID, &memID); err != nil {
			return nil, fmt.Errorf("failed to scan fragment mapping: %w", err)
		}
		result[fragID] = memID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fragment mappings: %w", err)
	}
	return result, nil
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...interface{}) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}
	return memories, nil
}
