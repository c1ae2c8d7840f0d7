package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const observationColumns = `id, summary, embedding, evidence_count, source_fact_ids, created_at, updated_at, last_accessed_at, access_count`

// Create inserts a new observation distilled from a single fact (the common
// case) or with no source fact yet (evidence_count stays 0 until
// AddSourceFacts is called).
func (s *Storage) CreateObservation(ctx context.Context, summary string, embedding []float32, sourceFactID *int64) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var ids []int64
	if sourceFactID != nil {
		ids = []int64{*sourceFactID}
	}

	var embBlob []byte
	if len(embedding) > 0 {
		embBlob = EncodeFloat32s(embedding)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Observation{}, fmt.Errorf("memory: create observation: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO observations (summary, embedding, evidence_count, source_fact_ids, created_at, updated_at, last_accessed_at, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		summary, embBlob, len(ids), encodeIDs(ids), formatTime(now), formatTime(now), formatTime(now),
	)
	if err != nil {
		return Observation{}, fmt.Errorf("memory: inserting observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Observation{}, fmt.Errorf("memory: getting observation id: %w", err)
	}

	if embBlob != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO observations_vec (id, embedding) VALUES (?, ?)`, id, embBlob); err != nil {
			return Observation{}, fmt.Errorf("memory: inserting observation vector: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Observation{}, fmt.Errorf("memory: create observation: commit: %w", err)
	}

	return Observation{
		ID: id, Summary: summary, Embedding: embedding, EvidenceCount: len(ids), SourceFactIDs: ids,
		CreatedAt: now, UpdatedAt: now, LastAccessedAt: now,
	}, nil
}

// Update rewrites an observation's summary and embedding in response to a
// new supporting fact, recording a history entry and bumping evidence_count.
func (s *Storage) Update(ctx context.Context, id int64, summary string, embedding []float32, newFactID *int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: update observation: begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := scanObservation(tx.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = ?`, id))
	if err != nil {
		return fmt.Errorf("memory: loading observation %d: %w", id, err)
	}

	now := time.Now().UTC()
	ids := current.SourceFactIDs
	if newFactID != nil {
		ids = unionPreserveOrder(ids, []int64{*newFactID})
	}

	var embBlob []byte
	if len(embedding) > 0 {
		embBlob = EncodeFloat32s(embedding)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE observations SET summary = ?, embedding = ?, evidence_count = ?, source_fact_ids = ?, updated_at = ? WHERE id = ?`,
		summary, embBlob, len(ids), encodeIDs(ids), formatTime(now), id,
	); err != nil {
		return fmt.Errorf("memory: updating observation %d: %w", id, err)
	}

	if err := rewriteObservationVector(ctx, tx, id, embBlob); err != nil {
		return err
	}

	triggeringFact := int64(0)
	if newFactID != nil {
		triggeringFact = *newFactID
	}
	if err := appendHistoryEntry(ctx, tx, id, current.Summary, now, reason, triggeringFact, ""); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateSummary rewrites only the summary/embedding without touching
// source_fact_ids or history. The observation-merge pass does not use it;
// Merge rewrites the keeper's summary itself.
func (s *Storage) UpdateSummary(ctx context.Context, id int64, summary string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: update observation summary: begin tx: %w", err)
	}
	defer tx.Rollback()

	var embBlob []byte
	if len(embedding) > 0 {
		embBlob = EncodeFloat32s(embedding)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE observations SET summary = ?, embedding = ?, updated_at = ? WHERE id = ?`,
		summary, embBlob, formatTime(time.Now().UTC()), id,
	); err != nil {
		return fmt.Errorf("memory: updating observation %d summary: %w", id, err)
	}
	if err := rewriteObservationVector(ctx, tx, id, embBlob); err != nil {
		return err
	}
	return tx.Commit()
}

// AddSourceFacts appends fact ids to an observation's source set and bumps
// evidence_count to match.
func (s *Storage) AddSourceFacts(ctx context.Context, id int64, factIDs []int64) error {
	if len(factIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT source_fact_ids FROM observations WHERE id = ?`, id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		return fmt.Errorf("memory: loading observation %d source facts: %w", id, err)
	}
	merged := unionPreserveOrder(decodeIDs(raw), factIDs)

	if _, err := s.db.ExecContext(ctx,
		`UPDATE observations SET source_fact_ids = ?, evidence_count = ? WHERE id = ?`,
		encodeIDs(merged), len(merged), id,
	); err != nil {
		return fmt.Errorf("memory: adding source facts to observation %d: %w", id, err)
	}
	return nil
}

// ReinforceObservations bumps last_accessed_at and access_count for every given id.
func (s *Storage) ReinforceObservations(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	q := `UPDATE observations SET last_accessed_at = ?, access_count = access_count + 1 WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]any{formatTime(time.Now().UTC())}, int64sToAny(ids)...)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("memory: reinforcing observations: %w", err)
	}
	return nil
}

// Delete removes an observation's history, vector row, and the observation
// itself.
func (s *Storage) DeleteObservation(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: delete observation: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM observation_history WHERE observation_id = ?`, []any{id}},
		{`DELETE FROM observations_vec WHERE id = ?`, []any{id}},
		{`DELETE FROM observations WHERE id = ?`, []any{id}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("memory: deleting observation %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// Get retrieves a single observation with its full history, or nil if absent.
func (s *Storage) GetObservation(ctx context.Context, id int64) (*Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs, err := scanObservation(s.db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: getting observation %d: %w", id, err)
	}
	history, err := loadHistory(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	obs.History = history
	return obs, nil
}

// GetBatch retrieves many observations at once, keyed by id (history omitted
// for batch efficiency; callers needing history should use Get).
func (s *Storage) GetObservationBatch(ctx context.Context, ids []int64) (map[int64]Observation, error) {
	out := make(map[int64]Observation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + observationColumns + ` FROM observations WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, q, int64sToAny(ids)...)
	if err != nil {
		return nil, fmt.Errorf("memory: batch getting observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning observation: %w", err)
		}
		out[o.ID] = *o
	}
	return out, rows.Err()
}

// ListRecent returns the most recently updated observations.
func (s *Storage) ListRecentObservations(ctx context.Context, limit int) ([]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+observationColumns+` FROM observations ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: listing recent observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListAllWithEmbeddings returns every observation with a non-null embedding.
func (s *Storage) ListAllObservationsWithEmbeddings(ctx context.Context) ([]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("memory: listing embedded observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// CountObservations returns the total number of observations.
func (s *Storage) CountObservations(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n)
	return n, err
}

// ClearAllObservations deletes every observation and returns how many were removed.
func (s *Storage) ClearAllObservations(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: counting observations before clear: %w", err)
	}
	for _, stmt := range []string{`DELETE FROM observation_history`, `DELETE FROM observations_vec`, `DELETE FROM observations`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("memory: clearing observations: %w", err)
		}
	}
	return n, nil
}

// Merge absorbs removedID into keeperID: records a history entry on the
// keeper noting the absorbed text, unions source_fact_ids, rewrites
// summary/embedding, and deletes the removed observation. Atomic.
func (s *Storage) Merge(ctx context.Context, keeperID, removedID int64, mergedText string, embedding []float32, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: merge observations: begin tx: %w", err)
	}
	defer tx.Rollback()

	keeper, err := scanObservation(tx.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = ?`, keeperID))
	if err != nil {
		return fmt.Errorf("memory: loading keeper observation %d: %w", keeperID, err)
	}
	removed, err := scanObservation(tx.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = ?`, removedID))
	if err != nil {
		return fmt.Errorf("memory: loading removed observation %d: %w", removedID, err)
	}

	now := time.Now().UTC()
	merged := unionPreserveOrder(keeper.SourceFactIDs, removed.SourceFactIDs)

	var embBlob []byte
	if len(embedding) > 0 {
		embBlob = EncodeFloat32s(embedding)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE observations SET summary = ?, embedding = ?, evidence_count = ?, source_fact_ids = ?, updated_at = ? WHERE id = ?`,
		mergedText, embBlob, len(merged), encodeIDs(merged), formatTime(now), keeperID,
	); err != nil {
		return fmt.Errorf("memory: applying merge to keeper %d: %w", keeperID, err)
	}
	if err := rewriteObservationVector(ctx, tx, keeperID, embBlob); err != nil {
		return err
	}
	if err := appendHistoryEntry(ctx, tx, keeperID, keeper.Summary, now, reason, 0, removed.Summary); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM observation_history WHERE observation_id = ?`, removedID); err != nil {
		return fmt.Errorf("memory: deleting removed observation %d history: %w", removedID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM observations_vec WHERE id = ?`, removedID); err != nil {
		return fmt.Errorf("memory: deleting removed observation %d vector: %w", removedID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE id = ?`, removedID); err != nil {
		return fmt.Errorf("memory: deleting removed observation %d: %w", removedID, err)
	}

	return tx.Commit()
}

// RewriteSourceFact replaces every occurrence of oldFactID in every
// observation's source_fact_ids with newFactID, deduplicating if the
// observation already cites newFactID. Used by the fact-merge pass to keep
// observations pointing at a merged-away fact consistent (§4.8.5).
func (s *Storage) RewriteSourceFact(ctx context.Context, oldFactID, newFactID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, source_fact_ids FROM observations`)
	if err != nil {
		return fmt.Errorf("memory: rewriting source fact: listing observations: %w", err)
	}
	type pending struct {
		id  int64
		ids []int64
	}
	var toUpdate []pending
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("memory: rewriting source fact: scanning observation: %w", err)
		}
		ids := decodeIDs(raw)
		changed := false
		for i, v := range ids {
			if v == oldFactID {
				ids[i] = newFactID
				changed = true
			}
		}
		if changed {
			toUpdate = append(toUpdate, pending{id, dedupPreserveOrder(ids)})
		}
	}
	rows.Close()

	for _, p := range toUpdate {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE observations SET source_fact_ids = ?, evidence_count = ? WHERE id = ?`,
			encodeIDs(p.ids), len(p.ids), p.id,
		); err != nil {
			return fmt.Errorf("memory: rewriting source fact on observation %d: %w", p.id, err)
		}
	}
	return nil
}

// SearchVector returns the top-scoring observations by cosine similarity.
func (s *Storage) SearchObservationsVector(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredObservation, error) {
	if len(queryEmbedding) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixed("o", observationColumns)+`, v.distance
		 FROM observations_vec v JOIN observations o ON o.id = v.id
		 WHERE v.embedding MATCH ? AND k = ?
		 ORDER BY v.distance`,
		EncodeFloat32s(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("memory: vector searching observations: %w", err)
	}
	defer rows.Close()

	var out []ScoredObservation
	for rows.Next() {
		var o Observation
		var embBlob []byte
		var ids, createdAt, updatedAt, lastAccessedAt string
		var distance float64
		if err := rows.Scan(&o.ID, &o.Summary, &embBlob, &o.EvidenceCount, &ids, &createdAt, &updatedAt, &lastAccessedAt, &o.AccessCount, &distance); err != nil {
			return nil, fmt.Errorf("memory: scanning vector observation result: %w", err)
		}
		o.SourceFactIDs = decodeIDs(ids)
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		o.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
		if len(embBlob) > 0 {
			o.Embedding = DecodeFloat32s(embBlob)
		}
		out = append(out, ScoredObservation{Observation: o, Score: 1 - distance})
	}
	return out, rows.Err()
}

// SearchFTS returns observations matching a stop-word-filtered FTS query.
func (s *Storage) SearchObservationsFTS(ctx context.Context, query string, limit int) ([]Observation, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixed("o", observationColumns)+`
		 FROM observations_fts fts JOIN observations o ON o.id = fts.rowid
		 WHERE observations_fts MATCH ? ORDER BY rank LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: FTS searching observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func rewriteObservationVector(ctx context.Context, tx *sql.Tx, id int64, embBlob []byte) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM observations_vec WHERE id = ?`, id); err != nil {
		return fmt.Errorf("memory: clearing observation %d vector: %w", id, err)
	}
	if embBlob == nil {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO observations_vec (id, embedding) VALUES (?, ?)`, id, embBlob); err != nil {
		return fmt.Errorf("memory: rewriting observation %d vector: %w", id, err)
	}
	return nil
}

func appendHistoryEntry(ctx context.Context, tx *sql.Tx, obsID int64, previousText string, ts time.Time, reason string, triggeringFact int64, absorbedText string) error {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM observation_history WHERE observation_id = ?`, obsID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("memory: computing history seq: %w", err)
	}

	var triggering any
	if triggeringFact != 0 {
		triggering = triggeringFact
	}
	var absorbed any
	if absorbedText != "" {
		absorbed = absorbedText
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO observation_history (observation_id, previous_text, timestamp, reason, triggering_fact, absorbed_text, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		obsID, previousText, formatTime(ts), reason, triggering, absorbed, seq,
	); err != nil {
		return fmt.Errorf("memory: appending history entry: %w", err)
	}
	return nil
}

// dbLike abstracts *sql.DB and *sql.Tx for read helpers shared between
// plain queries and in-transaction queries.
type dbLike interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadHistory(ctx context.Context, db dbLike, obsID int64) ([]HistoryEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT previous_text, timestamp, reason, triggering_fact, absorbed_text FROM observation_history WHERE observation_id = ? ORDER BY seq`, obsID)
	if err != nil {
		return nil, fmt.Errorf("memory: loading history for observation %d: %w", obsID, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var ts string
		var triggering sql.NullInt64
		var absorbed sql.NullString
		if err := rows.Scan(&h.PreviousText, &ts, &h.Reason, &triggering, &absorbed); err != nil {
			return nil, fmt.Errorf("memory: scanning history entry: %w", err)
		}
		h.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		h.TriggeringFact = triggering.Int64
		h.AbsorbedText = absorbed.String
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanObservation(row scanner) (*Observation, error) {
	var o Observation
	var embBlob []byte
	var ids, createdAt, updatedAt, lastAccessedAt string
	err := row.Scan(&o.ID, &o.Summary, &embBlob, &o.EvidenceCount, &ids, &createdAt, &updatedAt, &lastAccessedAt, &o.AccessCount)
	if err != nil {
		return nil, err
	}
	o.SourceFactIDs = decodeIDs(ids)
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	o.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
	if len(embBlob) > 0 {
		o.Embedding = DecodeFloat32s(embBlob)
	}
	return &o, nil
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning observation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ObservationStorage adapts Storage's observation methods to the
// ObservationStore interface. A distinct wrapper type is necessary because
// Storage's FactStore methods (Create, Get, Reinforce, Count, ...) already
// claim those names with fact-shaped signatures.
type ObservationStorage struct{ *Storage }

func (o ObservationStorage) Create(ctx context.Context, summary string, embedding []float32, sourceFactID *int64) (Observation, error) {
	return o.Storage.CreateObservation(ctx, summary, embedding, sourceFactID)
}
func (o ObservationStorage) Update(ctx context.Context, id int64, summary string, embedding []float32, newFactID *int64, reason string) error {
	return o.Storage.Update(ctx, id, summary, embedding, newFactID, reason)
}
func (o ObservationStorage) UpdateSummary(ctx context.Context, id int64, summary string, embedding []float32) error {
	return o.Storage.UpdateSummary(ctx, id, summary, embedding)
}
func (o ObservationStorage) AddSourceFacts(ctx context.Context, id int64, factIDs []int64) error {
	return o.Storage.AddSourceFacts(ctx, id, factIDs)
}
func (o ObservationStorage) Reinforce(ctx context.Context, ids []int64) error {
	return o.Storage.ReinforceObservations(ctx, ids)
}
func (o ObservationStorage) Delete(ctx context.Context, id int64) error {
	return o.Storage.DeleteObservation(ctx, id)
}
func (o ObservationStorage) Get(ctx context.Context, id int64) (*Observation, error) {
	return o.Storage.GetObservation(ctx, id)
}
func (o ObservationStorage) GetBatch(ctx context.Context, ids []int64) (map[int64]Observation, error) {
	return o.Storage.GetObservationBatch(ctx, ids)
}
func (o ObservationStorage) ListRecent(ctx context.Context, limit int) ([]Observation, error) {
	return o.Storage.ListRecentObservations(ctx, limit)
}
func (o ObservationStorage) ListAllWithEmbeddings(ctx context.Context) ([]Observation, error) {
	return o.Storage.ListAllObservationsWithEmbeddings(ctx)
}
func (o ObservationStorage) Count(ctx context.Context) (int64, error) {
	return o.Storage.CountObservations(ctx)
}
func (o ObservationStorage) ClearAll(ctx context.Context) (int64, error) {
	return o.Storage.ClearAllObservations(ctx)
}
func (o ObservationStorage) Merge(ctx context.Context, keeperID, removedID int64, mergedText string, embedding []float32, reason string) error {
	return o.Storage.Merge(ctx, keeperID, removedID, mergedText, embedding, reason)
}
func (o ObservationStorage) SearchVector(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredObservation, error) {
	return o.Storage.SearchObservationsVector(ctx, queryEmbedding, limit)
}
func (o ObservationStorage) SearchFTS(ctx context.Context, query string, limit int) ([]Observation, error) {
	return o.Storage.SearchObservationsFTS(ctx, query, limit)
}
func (o ObservationStorage) RewriteSourceFact(ctx context.Context, oldFactID, newFactID int64) error {
	return o.Storage.RewriteSourceFact(ctx, oldFactID, newFactID)
}

var _ ObservationStore = ObservationStorage{}
