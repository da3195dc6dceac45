package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertLink creates a directed typed edge, or strengthens the existing one.
// Repeat links take whichever is stronger: the stored strength plus 0.1, or
// the incoming strength. Capped at 1.
func (s *Store) UpsertLink(ctx context.Context, link *Link) error {
	if link.SourceID == link.TargetID {
		return ErrSelfLink
	}
	if !ValidLinkType(link.Type) {
		return fmt.Errorf("invalid link type: %s", link.Type)
	}
	if link.Strength <= 0 {
		link.Strength = 0.5
	}
	if link.Strength > 1 {
		link.Strength = 1
	}

	now := time.Now()
	query := `
		INSERT INTO links (source_id, target_id, link_type, strength, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, target_id, link_type) DO UPDATE SET
			strength = MIN(1.0, MAX(strength + 0.1, excluded.strength)),
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		link.SourceID, link.TargetID, string(link.Type), link.Strength, now, now); err != nil {
		return fmt.Errorf("failed to upsert link: %w", err)
	}
	return nil
}

// GetLink returns the edge (source, target, type), or nil when absent.
func (s *Store) GetLink(ctx context.Context, sourceID, targetID string, linkType LinkType) (*Link, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT source_id, target_id, link_type, strength, created_at, updated_at FROM links WHERE source_id = ? AND target_id = ? AND link_type = ?",
		sourceID, targetID, string(linkType))

	var link Link
	var typ string
	err := row.Scan(&link.SourceID, &link.TargetID, &typ, &link.Strength, &link.CreatedAt, &link.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	link.Type = LinkType(typ)
	return &link, nil
}

// ReinforceLinks bumps the strength of every existing link whose endpoints
// both appear in ids. Used after co-retrieval: memories recalled together
// bond together. New links are never created here.
func (s *Store) ReinforceLinks(ctx context.Context, ids []string, inc float64) error {
	if len(ids) < 2 || inc <= 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := []interface{}{inc, time.Now()}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	in := strings.Join(placeholders, ",")
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE links SET strength = MIN(1.0, strength + ?), updated_at = ?
		WHERE source_id IN (%s) AND target_id IN (%s)
	`, in, in)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reinforce links: %w", err)
	}
	return nil
}

// LinkedMemories traverses one hop out from the seed memories, in both
// directions, returning neighbors reached over links at or above minStrength.
// Seeds themselves are excluded from the result.
func (s *Store) LinkedMemories(ctx context.Context, seedIDs []string, minStrength float64) ([]LinkedMemory, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(seedIDs))
	args := make([]interface{}, 0, 2*len(seedIDs)+2)
	for i, id := range seedIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	in := strings.Join(placeholders, ",")
	args = append(args, minStrength)
	for _, id := range seedIDs {
		args = append(args, id)
	}
	args = append(args, minStrength)

	// Outgoing edges first, then incoming; both directions count as
	// association for recall purposes.
	query := fmt.Sprintf(`
		SELECT target_id, source_id, link_type, strength FROM links
		WHERE source_id IN (%s) AND strength >= ?
		UNION ALL
		SELECT source_id, target_id, link_type, strength FROM links
		WHERE target_id IN (%s) AND strength >= ?
	`, in, in)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to traverse links: %w", err)
	}
	defer rows.Close()

	seeds := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seeds[id] = true
	}

	var result []LinkedMemory
	seen := make(map[string]bool)
	for rows.Next() {
		var lm LinkedMemory
		var typ string
		if err := rows.Scan(&lm.MemoryID, &lm.SeedID, &typ, &lm.Strength); err != nil {
			return nil, fmt.Errorf("failed to scan linked memory: %w", err)
		}
		lm.Type = LinkType(typ)
		if seeds[lm.MemoryID] || seen[lm.MemoryID] {
			continue
		}
		seen[lm.MemoryID] = true
		result = append(result, lm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating linked memories: %w", err)
	}
	return result, nil
}

// LinkCount returns the number of outgoing links from a memory.
func (s *Store) LinkCount(ctx context.Context, memoryID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM links WHERE source_id = ?", memoryID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return count, nil
}
