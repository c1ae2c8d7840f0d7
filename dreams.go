package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const dreamColumns = `id, bridge, insight, source_fact_ids, embedding, created_at`

// CreateDream inserts a new dream.
func (s *Storage) CreateDream(ctx context.Context, bridge, insight string, sourceFactIDs []int64, embedding []float32) (Dream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var embBlob []byte
	if len(embedding) > 0 {
		embBlob = EncodeFloat32s(embedding)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dreams (bridge, insight, source_fact_ids, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		bridge, insight, encodeIDs(sourceFactIDs), embBlob, formatTime(now),
	)
	if err != nil {
		return Dream{}, fmt.Errorf("memory: inserting dream: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Dream{}, fmt.Errorf("memory: getting dream id: %w", err)
	}
	return Dream{ID: id, Bridge: bridge, Insight: insight, SourceFactIDs: sourceFactIDs, Embedding: embedding, CreatedAt: now}, nil
}

// GetDream retrieves a single dream by id, or nil if absent.
func (s *Storage) GetDream(ctx context.Context, id int64) (*Dream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := scanDream(s.db.QueryRowContext(ctx, `SELECT `+dreamColumns+` FROM dreams WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: getting dream %d: %w", id, err)
	}
	return d, nil
}

// ListRecentDreams returns the most recently created dreams.
func (s *Storage) ListRecentDreams(ctx context.Context, limit int) ([]Dream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+dreamColumns+` FROM dreams ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: listing recent dreams: %w", err)
	}
	defer rows.Close()

	var out []Dream
	for rows.Next() {
		d, err := scanDream(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning dream: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// LastCreatedAt returns the created_at of the most recent dream, or nil if
// no dream exists yet.
func (s *Storage) LastCreatedAt(ctx context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var createdAt sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM dreams ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: getting last dream time: %w", err)
	}
	return parseNullTime(createdAt), nil
}

// RecentEmbeddings returns the embeddings of the most recently created
// dreams, for the dream pass's novelty check.
func (s *Storage) RecentEmbeddings(ctx context.Context, limit int) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding FROM dreams WHERE embedding IS NOT NULL ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: listing recent dream embeddings: %w", err)
	}
	defer rows.Close()

	var out [][]float32
	for rows.Next() {
		var embBlob []byte
		if err := rows.Scan(&embBlob); err != nil {
			return nil, fmt.Errorf("memory: scanning dream embedding: %w", err)
		}
		out = append(out, DecodeFloat32s(embBlob))
	}
	return out, rows.Err()
}

// CountDreams returns the total number of dreams.
func (s *Storage) CountDreams(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dreams`).Scan(&n)
	return n, err
}

// ClearAllDreams deletes every dream and returns how many were removed.
func (s *Storage) ClearAllDreams(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dreams`).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: counting dreams: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dreams`); err != nil {
		return 0, fmt.Errorf("memory: clearing dreams: %w", err)
	}
	return n, nil
}

func scanDream(row scanner) (*Dream, error) {
	var d Dream
	var ids, createdAt string
	var embBlob []byte
	if err := row.Scan(&d.ID, &d.Bridge, &d.Insight, &ids, &embBlob, &createdAt); err != nil {
		return nil, err
	}
	d.SourceFactIDs = decodeIDs(ids)
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if len(embBlob) > 0 {
		d.Embedding = DecodeFloat32s(embBlob)
	}
	return &d, nil
}

// DreamStorage adapts Storage's dream methods to the DreamStore interface.
// A distinct wrapper type is necessary for the same reason as
// ObservationStorage: Create/Get/Count/ClearAll already have fact-shaped
// meanings on *Storage.
type DreamStorage struct{ *Storage }

func (d DreamStorage) Create(ctx context.Context, bridge, insight string, sourceFactIDs []int64, embedding []float32) (Dream, error) {
	return d.Storage.CreateDream(ctx, bridge, insight, sourceFactIDs, embedding)
}
func (d DreamStorage) Get(ctx context.Context, id int64) (*Dream, error) {
	return d.Storage.GetDream(ctx, id)
}
func (d DreamStorage) ListRecent(ctx context.Context, limit int) ([]Dream, error) {
	return d.Storage.ListRecentDreams(ctx, limit)
}
func (d DreamStorage) LastCreatedAt(ctx context.Context) (*time.Time, error) {
	return d.Storage.LastCreatedAt(ctx)
}
func (d DreamStorage) RecentEmbeddings(ctx context.Context, limit int) ([][]float32, error) {
	return d.Storage.RecentEmbeddings(ctx, limit)
}
func (d DreamStorage) Count(ctx context.Context) (int64, error) {
	return d.Storage.CountDreams(ctx)
}
func (d DreamStorage) ClearAll(ctx context.Context) (int64, error) {
	return d.Storage.ClearAllDreams(ctx)
}

var _ DreamStore = DreamStorage{}
