package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NormalizeName produces the dedup key for an entity name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UpsertEntity resolves an entity by normalized name (or known alias) and
// returns its id. On a match the mention count and last_seen are bumped and
// any new alias is recorded; otherwise a new entity row is created.
func (s *Store) UpsertEntity(ctx context.Context, e *Entity) (string, error) {
	if e.NormalizedName == "" {
		e.NormalizedName = NormalizeName(e.Name)
	}
	if e.NormalizedName == "" {
		return "", fmt.Errorf("entity name is empty")
	}

	existing, err := s.findEntity(ctx, e.NormalizedName)
	if err != nil {
		return "", err
	}

	now := time.Now()
	if existing != nil {
		aliases := existing.Aliases
		if e.Name != existing.Name && !containsString(aliases, e.Name) {
			aliases = append(aliases, e.Name)
		}
		aliasesJSON, err := json.Marshal(aliases)
		if err != nil {
			return "", fmt.Errorf("failed to marshal aliases: %w", err)
		}

		_, err = s.db.ExecContext(ctx,
			"UPDATE entities SET mention_count = mention_count + 1, last_seen = ?, aliases_json = ? WHERE id = ?",
			now, aliasesJSON, existing.ID)
		if err != nil {
			return "", fmt.Errorf("failed to update entity: %w", err)
		}
		return existing.ID, nil
	}

	if e.ID == "" {
		e.ID = NewEntityID()
	}
	if e.FirstSeen.IsZero() {
		e.FirstSeen = now
	}
	e.LastSeen = now
	e.MentionCount = 1

	aliasesJSON, err := json.Marshal(e.Aliases)
	if err != nil {
		return "", fmt.Errorf("failed to marshal aliases: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, entity_type, name, normalized_name, aliases_json, mention_count, embedding, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Type), e.Name, e.NormalizedName, aliasesJSON, e.MentionCount,
		serializeEmbedding(e.Embedding), e.FirstSeen, e.LastSeen)
	if err != nil {
		return "", fmt.Errorf("failed to insert entity: %w", err)
	}
	return e.ID, nil
}

// findEntity matches by normalized name first, then by recorded alias.
func (s *Store) findEntity(ctx context.Context, normalized string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, entity_type, name, normalized_name, aliases_json, mention_count, embedding, first_seen, last_seen FROM entities WHERE normalized_name = ?",
		normalized)
	e, err := scanEntity(row.Scan)
	if err == nil {
		return e, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up entity: %w", err)
	}

	// Alias match is a JSON substring scan; alias lists are short.
	row = s.db.QueryRowContext(ctx,
		"SELECT id, entity_type, name, normalized_name, aliases_json, mention_count, embedding, first_seen, last_seen FROM entities WHERE LOWER(aliases_json) LIKE ? LIMIT 1",
		`%"`+strings.ReplaceAll(normalized, `"`, "")+`"%`)
	e, err = scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity alias: %w", err)
	}
	return e, nil
}

func scanEntity(scan func(dest ...interface{}) error) (*Entity, error) {
	var e Entity
	var typ string
	var aliasesJSON, embeddingBytes []byte

	err := scan(&e.ID, &typ, &e.Name, &e.NormalizedName, &aliasesJSON,
		&e.MentionCount, &embeddingBytes, &e.FirstSeen, &e.LastSeen)
	if err != nil {
		return nil, err
	}

	e.Type = EntityType(typ)
	e.Embedding = deserializeEmbedding(embeddingBytes)
	if len(aliasesJSON) > 0 {
		if err := json.Unmarshal(aliasesJSON, &e.Aliases); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aliases: %w", err)
		}
	}
	return &e, nil
}

// GetEntity retrieves an entity by id. Returns ErrEntityNotFound when absent.
func (s *Store) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, entity_type, name, normalized_name, aliases_json, mention_count, embedding, first_seen, last_seen FROM entities WHERE id = ?",
		id)
	e, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// SetEntityEmbedding stores an entity's name embedding and registers it with
// the entity index.
func (s *Store) SetEntityEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx, "UPDATE entities SET embedding = ? WHERE id = ?",
		serializeEmbedding(embedding), id)
	if err != nil {
		return fmt.Errorf("failed to store entity embedding: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEntityNotFound
	}

	if s.indexes.Entities != nil && len(embedding) > 0 {
		if err := s.indexes.Entities.Add(ctx, id, embedding); err != nil {
			return fmt.Errorf("failed to index entity embedding: %w", err)
		}
	}
	return nil
}

// RecordMention upserts the (entity, memory) mention, keeping the highest
// salience seen.
func (s *Store) RecordMention(ctx context.Context, m *EntityMention) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_mentions (entity_id, memory_id, context, salience)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_id, memory_id) DO UPDATE SET
			salience = MAX(salience, excluded.salience),
			context = excluded.context
	`, m.EntityID, m.MemoryID, m.Context, m.Salience)
	if err != nil {
		return fmt.Errorf("failed to record mention: %w", err)
	}
	return nil
}

// MemoriesMentioning returns ids of memories mentioning the entity, at or
// above minSalience, strongest mention first.
func (s *Store) MemoriesMentioning(ctx context.Context, entityID string, minSalience float64, limit int) ([]string, error) {
	query := "SELECT memory_id FROM entity_mentions WHERE entity_id = ? AND salience >= ? ORDER BY salience DESC, memory_id"
	args := []interface{}{entityID, minSalience}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mentions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mentions: %w", err)
	}
	return ids, nil
}

// EntitiesInMemory returns the entities mentioned in a memory.
func (s *Store) EntitiesInMemory(ctx context.Context, memoryID string) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.entity_type, e.name, e.normalized_name, e.aliases_json, e.mention_count, e.embedding, e.first_seen, e.last_seen
		FROM entities e
		JOIN entity_mentions m ON m.entity_id = e.id
		WHERE m.memory_id = ?
		ORDER BY m.salience DESC, e.id
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return entities, nil
}

// UpsertRelation creates or strengthens a typed edge between two entities.
// Strength only goes up, capped at 1; evidence ids accumulate (deduplicated).
func (s *Store) UpsertRelation(ctx context.Context, r *EntityRelation) error {
	if r.SourceEntityID == r.TargetEntityID {
		return ErrSelfRelation
	}
	if r.Strength <= 0 {
		r.Strength = 0.3
	}
	if r.Strength > 1 {
		r.Strength = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingStrength float64
	var existingEvidence []byte
	err = tx.QueryRowContext(ctx,
		"SELECT strength, evidence_json FROM entity_relations WHERE source_entity_id = ? AND target_entity_id = ? AND relation_type = ?",
		r.SourceEntityID, r.TargetEntityID, r.Type).Scan(&existingStrength, &existingEvidence)

	if err == sql.ErrNoRows {
		evidenceJSON, merr := json.Marshal(r.EvidenceIDs)
		if merr != nil {
			return fmt.Errorf("failed to marshal evidence: %w", merr)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO entity_relations (source_entity_id, target_entity_id, relation_type, strength, evidence_json) VALUES (?, ?, ?, ?, ?)",
			r.SourceEntityID, r.TargetEntityID, r.Type, r.Strength, evidenceJSON)
		if err != nil {
			return fmt.Errorf("failed to insert relation: %w", err)
		}
		return tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("failed to look up relation: %w", err)
	}

	var evidence []string
	if len(existingEvidence) > 0 {
		if err := json.Unmarshal(existingEvidence, &evidence); err != nil {
			return fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
	}
	for _, id := range r.EvidenceIDs {
		if !containsString(evidence, id) {
			evidence = append(evidence, id)
		}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	strength := existingStrength + 0.1
	if r.Strength > strength {
		strength = r.Strength
	}
	if strength > 1 {
		strength = 1
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE entity_relations SET strength = ?, evidence_json = ? WHERE source_entity_id = ? AND target_entity_id = ? AND relation_type = ?",
		strength, evidenceJSON, r.SourceEntityID, r.TargetEntityID, r.Type)
	if err != nil {
		return fmt.Errorf("failed to update relation: %w", err)
	}
	return tx.Commit()
}

// Cooccurrences returns entities co-mentioned with the given entity,
// sharing at least minShared memories with mention salience >= minSalience.
// Ordered by shared count descending.
func (s *Store) Cooccurrences(ctx context.Context, entityID string, minShared int, minSalience float64) ([]Cooccurrence, error) {
	if minShared < 1 {
		minShared = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT other.entity_id, COUNT(*) AS shared, e.mention_count
		FROM entity_mentions own
		JOIN entity_mentions other ON other.memory_id = own.memory_id AND other.entity_id != own.entity_id
		JOIN entities e ON e.id = other.entity_id
		WHERE own.entity_id = ? AND own.salience >= ? AND other.salience >= ?
		GROUP BY other.entity_id
		HAVING shared >= ?
		ORDER BY shared DESC, other.entity_id
	`, entityID, minSalience, minSalience, minShared)
	if err != nil {
		return nil, fmt.Errorf("failed to query cooccurrences: %w", err)
	}
	defer rows.Close()

	var result []Cooccurrence
	for rows.Next() {
		var c Cooccurrence
		if err := rows.Scan(&c.EntityID, &c.SharedCount, &c.MentionCount); err != nil {
			return nil, fmt.Errorf("failed to scan cooccurrence: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cooccurrences: %w", err)
	}
	return result, nil
}

// GetKnowledgeGraph projects the entity graph for visualization: the most
// mentioned entities and all relations among them. Read-only.
func (s *Store) GetKnowledgeGraph(ctx context.Context, maxNodes int) (*KnowledgeGraph, error) {
	if maxNodes <= 0 {
		maxNodes = 100
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, entity_type, name, normalized_name, aliases_json, mention_count, embedding, first_seen, last_seen FROM entities ORDER BY mention_count DESC, id LIMIT ?",
		maxNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	graph := &KnowledgeGraph{}
	included := make(map[string]bool)
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		included[e.ID] = true
		graph.Nodes = append(graph.Nodes, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	relRows, err := s.db.QueryContext(ctx,
		"SELECT source_entity_id, target_entity_id, relation_type, strength, evidence_json FROM entity_relations ORDER BY strength DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer relRows.Close()

	for relRows.Next() {
		var r EntityRelation
		var evidenceJSON []byte
		if err := relRows.Scan(&r.SourceEntityID, &r.TargetEntityID, &r.Type, &r.Strength, &evidenceJSON); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		if !included[r.SourceEntityID] || !included[r.TargetEntityID] {
			continue
		}
		if len(evidenceJSON) > 0 {
			if err := json.Unmarshal(evidenceJSON, &r.EvidenceIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
			}
		}
		graph.Edges = append(graph.Edges, r)
	}
	if err := relRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relations: %w", err)
	}

	return graph, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
