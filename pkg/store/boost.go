package store

import (
	"context"
	"fmt"
	"time"
)

// BatchAccessBoost records a retrieval touch on every given memory in one
// transaction: access_count + 1, last_accessed refreshed, and decay_factor
// nudged back toward 1 by boost (capped). This is the "retrieval is
// rehearsal" half of the forgetting curve.
func (s *Store) BatchAccessBoost(ctx context.Context, ids []string, boost float64) error {
	if len(ids) == 0 {
		return nil
	}
	if boost < 0 {
		boost = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE memories SET
			access_count = access_count + 1,
			last_accessed = ?,
			decay_factor = MIN(1.0, decay_factor + ?)
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare access boost: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, boost, id); err != nil {
			return fmt.Errorf("failed to boost access for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit access boost: %w", err)
	}
	return nil
}

// BoostImportance raises importance by inc on each memory, capped at 1.
func (s *Store) BoostImportance(ctx context.Context, ids []string, inc float64) error {
	if len(ids) == 0 || inc <= 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"UPDATE memories SET importance = MIN(1.0, importance + ?) WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare importance boost: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, inc, id); err != nil {
			return fmt.Errorf("failed to boost importance for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit importance boost: %w", err)
	}
	return nil
}

// DecayType multiplies decay_factor by rate for every memory of the given
// type not accessed since cutoff, clamped to floor. Memories already at or
// below the floor are left alone. Returns the number of memories decayed.
func (s *Store) DecayType(ctx context.Context, memType MemoryType, rate float64, cutoff time.Time, floor float64) (int64, error) {
	if rate <= 0 || rate >= 1 {
		return 0, fmt.Errorf("invalid decay rate: %f", rate)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET decay_factor = MAX(decay_factor * ?, ?)
		WHERE memory_type = ? AND last_accessed < ? AND decay_factor > ?
	`, rate, floor, string(memType), cutoff, floor)
	if err != nil {
		return 0, fmt.Errorf("failed to decay %s memories: %w", memType, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get decay count: %w", err)
	}
	return affected, nil
}
