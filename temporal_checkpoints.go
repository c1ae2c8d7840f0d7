package memory

import (
	"context"
	"fmt"
	"time"
)

// IsProcessed reports whether the (entity, window) pair has already been
// mined by the temporal-pattern-mining pass.
func (s *Storage) IsProcessed(ctx context.Context, entityID int64, windowEnd time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM temporal_checkpoints WHERE entity_id = ? AND window_end_date = ?`,
		entityID, formatTime(windowEnd)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("memory: checking temporal checkpoint: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records that (entity, window) has been mined. Idempotent.
func (s *Storage) MarkProcessed(ctx context.Context, entityID int64, windowEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO temporal_checkpoints (entity_id, window_end_date, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT(entity_id, window_end_date) DO UPDATE SET processed_at = excluded.processed_at`,
		entityID, formatTime(windowEnd), formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("memory: marking temporal checkpoint processed: %w", err)
	}
	return nil
}

var _ TemporalCheckpointStore = (*Storage)(nil)
