package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const factColumns = `id, text, fact_type, embedding, source_type, source_ref, created_at, happened_at, last_accessed_at, access_count, consolidated_at`

// Create inserts a fact and, if an embedding is present, its vector row.
func (s *Storage) Create(ctx context.Context, f Fact) (Fact, error) {
	if strings.TrimSpace(f.Text) == "" {
		return Fact{}, fmt.Errorf("%w: fact text must not be empty", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.LastAccessedAt.IsZero() {
		f.LastAccessedAt = f.CreatedAt
	}
	if f.FactType == "" {
		f.FactType = World
	}

	var embBlob []byte
	if len(f.Embedding) > 0 {
		embBlob = EncodeFloat32s(f.Embedding)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Fact{}, fmt.Errorf("memory: create fact: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO facts (text, fact_type, embedding, source_type, source_ref, created_at, happened_at, last_accessed_at, access_count, consolidated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Text, string(f.FactType), embBlob, f.SourceType, f.SourceRef,
		formatTime(f.CreatedAt), nullTime(f.HappenedAt), formatTime(f.LastAccessedAt), f.AccessCount, nullTime(f.ConsolidatedAt),
	)
	if err != nil {
		return Fact{}, fmt.Errorf("memory: inserting fact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Fact{}, fmt.Errorf("memory: getting fact id: %w", err)
	}
	f.ID = id

	if embBlob != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts_vec (id, embedding) VALUES (?, ?)`, id, embBlob,
		); err != nil {
			return Fact{}, fmt.Errorf("memory: inserting fact vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Fact{}, fmt.Errorf("memory: create fact: commit: %w", err)
	}
	return f, nil
}

// Get retrieves a single fact by id. Returns nil, nil if not found.
func (s *Storage) Get(ctx context.Context, id int64) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: getting fact %d: %w", id, err)
	}
	return f, nil
}

// GetBatch retrieves many facts at once, keyed by id.
func (s *Storage) GetBatch(ctx context.Context, ids []int64) (map[int64]Fact, error) {
	out := make(map[int64]Fact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + factColumns + ` FROM facts WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, q, int64sToAny(ids)...)
	if err != nil {
		return nil, fmt.Errorf("memory: batch getting facts: %w", err)
	}
	defer rows.Close()

	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	for _, f := range facts {
		out[f.ID] = f
	}
	return out, nil
}

// ListRecent returns the most recently created facts.
func (s *Storage) ListRecent(ctx context.Context, limit int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: listing recent facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ListInTimeWindow returns facts whose happened_at falls within [start, end].
func (s *Storage) ListInTimeWindow(ctx context.Context, start, end time.Time) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE happened_at IS NOT NULL AND happened_at >= ? AND happened_at <= ? ORDER BY happened_at`,
		formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("memory: listing facts in time window: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ListUnconsolidated returns facts with consolidated_at absent, oldest first.
func (s *Storage) ListUnconsolidated(ctx context.Context, limit int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE consolidated_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: listing unconsolidated facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ListAllWithEmbeddings returns every fact that has an embedding.
func (s *Storage) ListAllWithEmbeddings(ctx context.Context) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("memory: listing embedded facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// MarkConsolidated sets consolidated_at = now.
func (s *Storage) MarkConsolidated(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE facts SET consolidated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("memory: marking fact %d consolidated: %w", id, err)
	}
	return nil
}

// UpdateText rewrites a fact's text and embedding and clears consolidated_at.
func (s *Storage) UpdateText(ctx context.Context, id int64, newText string, newEmbedding []float32) error {
	if strings.TrimSpace(newText) == "" {
		return fmt.Errorf("%w: fact text must not be empty", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: update text: begin tx: %w", err)
	}
	defer tx.Rollback()

	var embBlob []byte
	if len(newEmbedding) > 0 {
		embBlob = EncodeFloat32s(newEmbedding)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE facts SET text = ?, embedding = ?, consolidated_at = NULL WHERE id = ?`,
		newText, embBlob, id,
	); err != nil {
		return fmt.Errorf("memory: updating fact %d text: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM facts_vec WHERE id = ?`, id); err != nil {
		return fmt.Errorf("memory: clearing fact %d vector: %w", id, err)
	}
	if embBlob != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO facts_vec (id, embedding) VALUES (?, ?)`, id, embBlob); err != nil {
			return fmt.Errorf("memory: rewriting fact %d vector: %w", id, err)
		}
	}

	return tx.Commit()
}

// Reinforce bumps last_accessed_at and increments access_count for every
// given id in one statement. Empty input is a no-op.
func (s *Storage) Reinforce(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	q := `UPDATE facts SET last_accessed_at = ?, access_count = access_count + 1 WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]any{formatTime(time.Now())}, int64sToAny(ids)...)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("memory: reinforcing facts: %w", err)
	}
	return nil
}

// Delete removes a fact's entity references, fact links, vector row, and
// the fact itself, in that order.
func (s *Storage) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: delete fact: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM entity_refs WHERE fact_id = ?`, []any{id}},
		{`DELETE FROM fact_links WHERE source_fact_id = ? OR target_fact_id = ?`, []any{id, id}},
		{`DELETE FROM facts_vec WHERE id = ?`, []any{id}},
		{`DELETE FROM facts WHERE id = ?`, []any{id}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("memory: deleting fact %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// MergeFacts absorbs removedID into keeperID: keeperID's text and embedding
// are replaced with the merge result, its access_count gains removedID's
// additively, removedID's distinct entity refs are re-pointed at keeperID,
// and removedID is deleted (§4.8.5). Callers are responsible for rewriting
// any observation source_fact_ids referencing removedID beforehand.
func (s *Storage) MergeFacts(ctx context.Context, keeperID, removedID int64, mergedText string, mergedEmbedding []float32) error {
	if strings.TrimSpace(mergedText) == "" {
		return fmt.Errorf("%w: merged fact text must not be empty", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: merge facts: begin tx: %w", err)
	}
	defer tx.Rollback()

	var removedAccessCount int
	if err := tx.QueryRowContext(ctx, `SELECT access_count FROM facts WHERE id = ?`, removedID).Scan(&removedAccessCount); err != nil {
		return fmt.Errorf("memory: merge facts: reading removed fact %d: %w", removedID, err)
	}

	existing := make(map[string]bool)
	existingRows, err := tx.QueryContext(ctx, `SELECT name, entity_type FROM entity_refs WHERE fact_id = ?`, keeperID)
	if err != nil {
		return fmt.Errorf("memory: merge facts: reading keeper entity refs: %w", err)
	}
	for existingRows.Next() {
		var name, entityType string
		if err := existingRows.Scan(&name, &entityType); err != nil {
			existingRows.Close()
			return fmt.Errorf("memory: merge facts: scanning keeper entity ref: %w", err)
		}
		existing[strings.ToLower(name)+"\x00"+entityType] = true
	}
	existingRows.Close()

	removedRefs, err := tx.QueryContext(ctx, `SELECT name, entity_type, canonical_id FROM entity_refs WHERE fact_id = ?`, removedID)
	if err != nil {
		return fmt.Errorf("memory: merge facts: reading removed entity refs: %w", err)
	}
	type ref struct {
		name, entityType string
		canonicalID      *int64
	}
	var toCopy []ref
	for removedRefs.Next() {
		var r ref
		if err := removedRefs.Scan(&r.name, &r.entityType, &r.canonicalID); err != nil {
			removedRefs.Close()
			return fmt.Errorf("memory: merge facts: scanning removed entity ref: %w", err)
		}
		if !existing[strings.ToLower(r.name)+"\x00"+r.entityType] {
			toCopy = append(toCopy, r)
		}
	}
	removedRefs.Close()

	for _, r := range toCopy {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_refs (fact_id, name, entity_type, canonical_id) VALUES (?, ?, ?, ?)`,
			keeperID, r.name, r.entityType, r.canonicalID,
		); err != nil {
			return fmt.Errorf("memory: merge facts: copying entity ref: %w", err)
		}
	}

	var embBlob []byte
	if len(mergedEmbedding) > 0 {
		embBlob = EncodeFloat32s(mergedEmbedding)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE facts SET text = ?, embedding = ?, access_count = access_count + ?, consolidated_at = NULL WHERE id = ?`,
		mergedText, embBlob, removedAccessCount, keeperID,
	); err != nil {
		return fmt.Errorf("memory: merge facts: updating keeper %d: %w", keeperID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM facts_vec WHERE id = ?`, keeperID); err != nil {
		return fmt.Errorf("memory: merge facts: clearing keeper vector: %w", err)
	}
	if embBlob != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO facts_vec (id, embedding) VALUES (?, ?)`, keeperID, embBlob); err != nil {
			return fmt.Errorf("memory: merge facts: rewriting keeper vector: %w", err)
		}
	}

	for _, stmt := range []struct {
		query string
		args  []any
	}{
		{`DELETE FROM entity_refs WHERE fact_id = ?`, []any{removedID}},
		{`DELETE FROM fact_links WHERE source_fact_id = ? OR target_fact_id = ?`, []any{removedID, removedID}},
		{`DELETE FROM facts_vec WHERE id = ?`, []any{removedID}},
		{`DELETE FROM facts WHERE id = ?`, []any{removedID}},
	} {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("memory: merge facts: removing fact %d: %w", removedID, err)
		}
	}

	return tx.Commit()
}

// Count returns the total number of facts.
func (s *Storage) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: counting facts: %w", err)
	}
	return n, nil
}

// ClearAll deletes every row from every memory table and returns the
// pre-deletion count of facts.
func (s *Storage) ClearAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: counting facts before clear: %w", err)
	}

	tables := []string{
		"facts_vec", "observations_vec", "entities_vec",
		"fact_links", "entity_refs", "observation_history",
		"observations", "dreams", "entities", "temporal_checkpoints", "facts",
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("memory: clear all: begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+t); err != nil {
			return 0, fmt.Errorf("memory: clearing %s: %w", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("memory: clear all: commit: %w", err)
	}
	return n, nil
}

// --- Entity references ---

// AddEntityRef records a fact-to-entity edge.
func (s *Storage) AddEntityRef(ctx context.Context, factID int64, name, entityType string, canonicalID *int64) (EntityRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_refs (fact_id, name, entity_type, canonical_id) VALUES (?, ?, ?, ?)`,
		factID, name, entityType, canonicalID,
	)
	if err != nil {
		return EntityRef{}, fmt.Errorf("memory: adding entity ref: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return EntityRef{}, fmt.Errorf("memory: getting entity ref id: %w", err)
	}
	return EntityRef{ID: id, FactID: factID, Name: name, EntityType: entityType, CanonicalID: canonicalID}, nil
}

func scanEntityRef(row scanner) (EntityRef, error) {
	var r EntityRef
	var canonical sql.NullInt64
	if err := row.Scan(&r.ID, &r.FactID, &r.Name, &r.EntityType, &canonical); err != nil {
		return EntityRef{}, err
	}
	if canonical.Valid {
		v := canonical.Int64
		r.CanonicalID = &v
	}
	return r, nil
}

// GetEntityRefs returns every entity reference attached to a fact.
func (s *Storage) GetEntityRefs(ctx context.Context, factID int64) ([]EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fact_id, name, entity_type, canonical_id FROM entity_refs WHERE fact_id = ?`, factID)
	if err != nil {
		return nil, fmt.Errorf("memory: getting entity refs for fact %d: %w", factID, err)
	}
	defer rows.Close()

	var out []EntityRef
	for rows.Next() {
		r, err := scanEntityRef(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning entity ref: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetEntityRefsBatch returns entity refs for many facts at once.
func (s *Storage) GetEntityRefsBatch(ctx context.Context, factIDs []int64) (map[int64][]EntityRef, error) {
	out := make(map[int64][]EntityRef)
	if len(factIDs) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, fact_id, name, entity_type, canonical_id FROM entity_refs WHERE fact_id IN (` + placeholders(len(factIDs)) + `)`
	rows, err := s.db.QueryContext(ctx, q, int64sToAny(factIDs)...)
	if err != nil {
		return nil, fmt.Errorf("memory: batch getting entity refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanEntityRef(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning entity ref: %w", err)
		}
		out[r.FactID] = append(out[r.FactID], r)
	}
	return out, rows.Err()
}

// GetFactsForEntity returns the most recent facts referencing a name,
// regardless of resolution.
func (s *Storage) GetFactsForEntity(ctx context.Context, name string, limit int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixed("f", factColumns)+`
		 FROM facts f JOIN entity_refs er ON er.fact_id = f.id
		 WHERE LOWER(er.name) = LOWER(?)
		 ORDER BY f.created_at DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: getting facts for entity %q: %w", name, err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// GetFactsForEntityID returns the most recent facts resolved to an entity id.
func (s *Storage) GetFactsForEntityID(ctx context.Context, entityID int64, limit int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixed("f", factColumns)+`
		 FROM facts f JOIN entity_refs er ON er.fact_id = f.id
		 WHERE er.canonical_id = ?
		 ORDER BY f.created_at DESC LIMIT ?`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: getting facts for entity id %d: %w", entityID, err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// GetFactsSharingEntities returns facts that share at least one entity
// reference name with factID, paired with the shared-name count, ordered
// by shared count desc then recency. Names in excludeNames are ignored
// when computing overlap.
func (s *Storage) GetFactsSharingEntities(ctx context.Context, factID int64, limit int, excludeNames []string) ([]FactSharedEntities, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM entity_refs WHERE fact_id = ?`, factID)
	if err != nil {
		return nil, fmt.Errorf("memory: getting entity names for fact %d: %w", factID, err)
	}
	exclude := make(map[string]bool, len(excludeNames))
	for _, n := range excludeNames {
		exclude[strings.ToLower(n)] = true
	}
	var ownNames []string
	for names.Next() {
		var n string
		if err := names.Scan(&n); err != nil {
			names.Close()
			return nil, fmt.Errorf("memory: scanning entity name: %w", err)
		}
		if !exclude[strings.ToLower(n)] {
			ownNames = append(ownNames, n)
		}
	}
	names.Close()
	if err := names.Err(); err != nil {
		return nil, err
	}
	if len(ownNames) == 0 {
		return nil, nil
	}

	lowered := make([]any, len(ownNames))
	for i, n := range ownNames {
		lowered[i] = strings.ToLower(n)
	}
	q := `SELECT ` + prefixed("f", factColumns) + `, COUNT(DISTINCT LOWER(er.name)) AS shared
	      FROM facts f JOIN entity_refs er ON er.fact_id = f.id
	      WHERE f.id != ? AND LOWER(er.name) IN (` + placeholders(len(ownNames)) + `)
	      GROUP BY f.id
	      ORDER BY shared DESC, f.created_at DESC
	      LIMIT ?`
	args := append([]any{factID}, lowered...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: getting facts sharing entities: %w", err)
	}
	defer rows.Close()

	var out []FactSharedEntities
	for rows.Next() {
		var f Fact
		var embBlob []byte
		var happenedAt, consolidatedAt sql.NullString
		var createdAt, lastAccessedAt string
		var shared int
		err := rows.Scan(&f.ID, &f.Text, &f.FactType, &embBlob, &f.SourceType, &f.SourceRef,
			&createdAt, &happenedAt, &lastAccessedAt, &f.AccessCount, &consolidatedAt, &shared)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning shared-entity fact: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		f.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
		f.HappenedAt = parseNullTime(happenedAt)
		f.ConsolidatedAt = parseNullTime(consolidatedAt)
		if len(embBlob) > 0 {
			f.Embedding = DecodeFloat32s(embBlob)
		}
		out = append(out, FactSharedEntities{Fact: f, SharedCount: shared})
	}
	return out, rows.Err()
}

// --- Fact links ---

// CreateLink creates a fact link, idempotent on (source, target, type).
func (s *Storage) CreateLink(ctx context.Context, source, target int64, linkType FactLinkType, weight float64) error {
	if source == target {
		return fmt.Errorf("%w: fact link source and target must differ", ErrInvalidInput)
	}
	if weight <= 0 || weight > 1 {
		return fmt.Errorf("%w: fact link weight must be in (0,1]", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fact_links (source_fact_id, target_fact_id, link_type, weight, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		source, target, string(linkType), weight, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("memory: creating fact link: %w", err)
	}
	return nil
}

func scanFactLink(row scanner) (FactLink, error) {
	var l FactLink
	var createdAt string
	var linkType string
	if err := row.Scan(&l.ID, &l.SourceFactID, &l.TargetFactID, &linkType, &l.Weight, &createdAt); err != nil {
		return FactLink{}, err
	}
	l.LinkType = FactLinkType(linkType)
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return l, nil
}

// GetLinks returns every link touching a fact (as source or target).
func (s *Storage) GetLinks(ctx context.Context, factID int64) ([]FactLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_fact_id, target_fact_id, link_type, weight, created_at FROM fact_links
		 WHERE source_fact_id = ? OR target_fact_id = ?`, factID, factID)
	if err != nil {
		return nil, fmt.Errorf("memory: getting links for fact %d: %w", factID, err)
	}
	defer rows.Close()

	var out []FactLink
	for rows.Next() {
		l, err := scanFactLink(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning fact link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetLinksByType returns links of a specific type touching a fact.
func (s *Storage) GetLinksByType(ctx context.Context, factID int64, linkType FactLinkType) ([]FactLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_fact_id, target_fact_id, link_type, weight, created_at FROM fact_links
		 WHERE (source_fact_id = ? OR target_fact_id = ?) AND link_type = ?`, factID, factID, string(linkType))
	if err != nil {
		return nil, fmt.Errorf("memory: getting %s links for fact %d: %w", linkType, factID, err)
	}
	defer rows.Close()

	var out []FactLink
	for rows.Next() {
		l, err := scanFactLink(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning fact link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LinkCount returns the total number of fact links.
func (s *Storage) LinkCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fact_links`).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory: counting links: %w", err)
	}
	return n, nil
}

// --- Entities ---

// CreateEntity inserts an entity (case-insensitive unique on name+type) or
// returns the existing surviving row.
func (s *Storage) CreateEntity(ctx context.Context, name, entityType string, embedding []float32, isCore bool) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var embBlob []byte
	if len(embedding) > 0 {
		embBlob = EncodeFloat32s(embedding)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entity{}, fmt.Errorf("memory: create entity: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO entities (name, entity_type, embedding, is_core, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, entityType, embBlob, isCore, formatTime(now), formatTime(now),
	)
	if err != nil {
		return Entity{}, fmt.Errorf("memory: inserting entity: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, name, entity_type, embedding, is_core, created_at, updated_at
		 FROM entities WHERE LOWER(name) = LOWER(?) AND entity_type = ?`, name, entityType)
	e, err := scanEntity(row)
	if err != nil {
		return Entity{}, fmt.Errorf("memory: reading entity after insert: %w", err)
	}

	if embBlob != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entities_vec (id, embedding) VALUES (?, ?)`, e.ID, embBlob,
		); err != nil {
			return Entity{}, fmt.Errorf("memory: inserting entity vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Entity{}, fmt.Errorf("memory: create entity: commit: %w", err)
	}
	return *e, nil
}

func scanEntity(row scanner) (*Entity, error) {
	var e Entity
	var embBlob []byte
	var createdAt, updatedAt string
	if err := row.Scan(&e.ID, &e.Name, &e.EntityType, &embBlob, &e.IsCore, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if len(embBlob) > 0 {
		e.Embedding = DecodeFloat32s(embBlob)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &e, nil
}

// GetEntityByName looks up an entity by case-insensitive name, optionally
// scoped to a type.
func (s *Storage) GetEntityByName(ctx context.Context, name, entityType string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, name, entity_type, embedding, is_core, created_at, updated_at FROM entities WHERE LOWER(name) = LOWER(?)`
	args := []any{name}
	if entityType != "" {
		q += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	row := s.db.QueryRowContext(ctx, q, args...)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: getting entity %q: %w", name, err)
	}
	return e, nil
}

// ListAllEntities returns the most recently updated entities regardless of
// type, for passes (like temporal-pattern mining) that sweep every entity.
func (s *Storage) ListAllEntities(ctx context.Context, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, entity_type, embedding, is_core, created_at, updated_at
		 FROM entities ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: listing all entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListEntitiesByType returns the most recently updated entities of a type.
func (s *Storage) ListEntitiesByType(ctx context.Context, entityType string, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, entity_type, embedding, is_core, created_at, updated_at
		 FROM entities WHERE entity_type = ? ORDER BY updated_at DESC LIMIT ?`, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: listing entities of type %q: %w", entityType, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MergeEntities rewrites every entity reference pointing at any id in
// mergeIDs to point at keepID, removes the merged entities' vector rows,
// and deletes them. Returns the number of references rewritten.
func (s *Storage) MergeEntities(ctx context.Context, keepID int64, mergeIDs []int64) (int, error) {
	mergeIDs = filterOut(mergeIDs, keepID)
	if len(mergeIDs) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("memory: merge entities: begin tx: %w", err)
	}
	defer tx.Rollback()

	q := `UPDATE entity_refs SET canonical_id = ? WHERE canonical_id IN (` + placeholders(len(mergeIDs)) + `)`
	args := append([]any{keepID}, int64sToAny(mergeIDs)...)
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("memory: rewriting entity refs: %w", err)
	}
	rewritten, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("memory: counting rewritten refs: %w", err)
	}

	vecQ := `DELETE FROM entities_vec WHERE id IN (` + placeholders(len(mergeIDs)) + `)`
	if _, err := tx.ExecContext(ctx, vecQ, int64sToAny(mergeIDs)...); err != nil {
		return 0, fmt.Errorf("memory: deleting merged entity vectors: %w", err)
	}

	delQ := `DELETE FROM entities WHERE id IN (` + placeholders(len(mergeIDs)) + `)`
	if _, err := tx.ExecContext(ctx, delQ, int64sToAny(mergeIDs)...); err != nil {
		return 0, fmt.Errorf("memory: deleting merged entities: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("memory: merge entities: commit: %w", err)
	}
	return int(rewritten), nil
}

func filterOut(ids []int64, exclude int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// GetEntityIDsForFacts returns, per fact id, the distinct resolved entity
// ids referenced by that fact.
func (s *Storage) GetEntityIDsForFacts(ctx context.Context, factIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	if len(factIDs) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT DISTINCT fact_id, canonical_id FROM entity_refs WHERE fact_id IN (` + placeholders(len(factIDs)) + `) AND canonical_id IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, q, int64sToAny(factIDs)...)
	if err != nil {
		return nil, fmt.Errorf("memory: getting entity ids for facts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var factID, entityID int64
		if err := rows.Scan(&factID, &entityID); err != nil {
			return nil, fmt.Errorf("memory: scanning entity id for fact: %w", err)
		}
		out[factID] = append(out[factID], entityID)
	}
	return out, rows.Err()
}

// CountEntityFactsByID returns how many facts currently reference entityID.
func (s *Storage) CountEntityFactsByID(ctx context.Context, entityID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_refs WHERE canonical_id = ?`, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memory: counting facts for entity %d: %w", entityID, err)
	}
	return n, nil
}

// CleanupOrphanedEntities deletes entities no longer referenced by any
// entity_refs row (e.g. after a fact merge dropped the last reference).
// The fact-merge pass calls it after each merge it applies.
func (s *Storage) CleanupOrphanedEntities(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("memory: cleanup orphans: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM entities WHERE id NOT IN (SELECT DISTINCT canonical_id FROM entity_refs WHERE canonical_id IS NOT NULL)`)
	if err != nil {
		return 0, fmt.Errorf("memory: finding orphaned entities: %w", err)
	}
	var orphaned []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		orphaned = append(orphaned, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(orphaned) == 0 {
		return 0, tx.Commit()
	}

	vecQ := `DELETE FROM entities_vec WHERE id IN (` + placeholders(len(orphaned)) + `)`
	if _, err := tx.ExecContext(ctx, vecQ, int64sToAny(orphaned)...); err != nil {
		return 0, fmt.Errorf("memory: deleting orphaned entity vectors: %w", err)
	}
	delQ := `DELETE FROM entities WHERE id IN (` + placeholders(len(orphaned)) + `)`
	if _, err := tx.ExecContext(ctx, delQ, int64sToAny(orphaned)...); err != nil {
		return 0, fmt.Errorf("memory: deleting orphaned entities: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("memory: cleanup orphans: commit: %w", err)
	}
	return len(orphaned), nil
}

// --- Searches ---

// SearchFactsVector uses the vec0 MATCH operator with k = limit, converting
// distance to cosine similarity (1 - distance).
func (s *Storage) SearchFactsVector(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredFact, error) {
	if len(queryEmbedding) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixed("f", factColumns)+`, v.distance
		 FROM facts_vec v JOIN facts f ON f.id = v.id
		 WHERE v.embedding MATCH ? AND k = ?
		 ORDER BY v.distance`,
		EncodeFloat32s(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("memory: vector searching facts: %w", err)
	}
	defer rows.Close()

	var out []ScoredFact
	for rows.Next() {
		var f Fact
		var embBlob []byte
		var happenedAt, consolidatedAt sql.NullString
		var createdAt, lastAccessedAt string
		var distance float64
		err := rows.Scan(&f.ID, &f.Text, &f.FactType, &embBlob, &f.SourceType, &f.SourceRef,
			&createdAt, &happenedAt, &lastAccessedAt, &f.AccessCount, &consolidatedAt, &distance)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning vector fact result: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		f.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
		f.HappenedAt = parseNullTime(happenedAt)
		f.ConsolidatedAt = parseNullTime(consolidatedAt)
		if len(embBlob) > 0 {
			f.Embedding = DecodeFloat32s(embBlob)
		}
		out = append(out, ScoredFact{Fact: f, Score: 1 - distance})
	}
	return out, rows.Err()
}

// SearchFactsFTS builds a stop-word-filtered OR-joined FTS5 query and
// returns matching facts ranked by bm25.
func (s *Storage) SearchFactsFTS(ctx context.Context, query string, limit int) ([]Fact, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixed("f", factColumns)+`
		 FROM facts_fts fts JOIN facts f ON f.id = fts.rowid
		 WHERE facts_fts MATCH ? ORDER BY rank LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: FTS searching facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// SearchEntitiesVector mirrors SearchFactsVector for entities.
func (s *Storage) SearchEntitiesVector(ctx context.Context, embedding []float32, limit int) ([]ScoredEntity, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.name, e.entity_type, e.embedding, e.is_core, e.created_at, e.updated_at, v.distance
		 FROM entities_vec v JOIN entities e ON e.id = v.id
		 WHERE v.embedding MATCH ? AND k = ?
		 ORDER BY v.distance`,
		EncodeFloat32s(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("memory: vector searching entities: %w", err)
	}
	defer rows.Close()

	var out []ScoredEntity
	for rows.Next() {
		var e Entity
		var embBlob []byte
		var createdAt, updatedAt string
		var distance float64
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &embBlob, &e.IsCore, &createdAt, &updatedAt, &distance); err != nil {
			return nil, fmt.Errorf("memory: scanning vector entity result: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		if len(embBlob) > 0 {
			e.Embedding = DecodeFloat32s(embBlob)
		}
		out = append(out, ScoredEntity{Entity: e, Score: 1 - distance})
	}
	return out, rows.Err()
}

// SearchFactsTemporal returns facts with a happened_at near queryTime,
// ordered by absolute delta, up to overfetch rows.
func (s *Storage) SearchFactsTemporal(ctx context.Context, queryTime time.Time, overfetch int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+`, ABS(JULIANDAY(happened_at) - JULIANDAY(?)) AS delta
		 FROM facts WHERE happened_at IS NOT NULL
		 ORDER BY delta LIMIT ?`, formatTime(queryTime), overfetch)
	if err != nil {
		return nil, fmt.Errorf("memory: temporal searching facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		var embBlob []byte
		var happenedAt, consolidatedAt sql.NullString
		var createdAt, lastAccessedAt string
		var delta float64
		err := rows.Scan(&f.ID, &f.Text, &f.FactType, &embBlob, &f.SourceType, &f.SourceRef,
			&createdAt, &happenedAt, &lastAccessedAt, &f.AccessCount, &consolidatedAt, &delta)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning temporal fact: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		f.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
		f.HappenedAt = parseNullTime(happenedAt)
		f.ConsolidatedAt = parseNullTime(consolidatedAt)
		if len(embBlob) > 0 {
			f.Embedding = DecodeFloat32s(embBlob)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Entity resolution helpers ---

// GetEntitySourceOverlap reports whether some existing fact has an entity
// reference with this name and this source_ref.
func (s *Storage) GetEntitySourceOverlap(ctx context.Context, name, sourceRef string) (bool, error) {
	if sourceRef == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_refs er JOIN facts f ON f.id = er.fact_id
		 WHERE LOWER(er.name) = LOWER(?) AND f.source_ref = ?`, name, sourceRef).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("memory: checking entity source overlap: %w", err)
	}
	return count > 0, nil
}

// GetEntityLastMention returns the most recent created_at of a fact
// referencing this name, or nil if never mentioned.
func (s *Storage) GetEntityLastMention(ctx context.Context, name string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var createdAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(f.created_at) FROM entity_refs er JOIN facts f ON f.id = er.fact_id
		 WHERE LOWER(er.name) = LOWER(?)`, name).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("memory: getting last mention of %q: %w", name, err)
	}
	return parseNullTime(createdAt), nil
}

// --- shared scan helpers ---

func scanFact(row scanner) (*Fact, error) {
	var f Fact
	var embBlob []byte
	var happenedAt, consolidatedAt sql.NullString
	var createdAt, lastAccessedAt string

	err := row.Scan(&f.ID, &f.Text, &f.FactType, &embBlob, &f.SourceType, &f.SourceRef,
		&createdAt, &happenedAt, &lastAccessedAt, &f.AccessCount, &consolidatedAt)
	if err != nil {
		return nil, err
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	f.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessedAt)
	f.HappenedAt = parseNullTime(happenedAt)
	f.ConsolidatedAt = parseNullTime(consolidatedAt)
	if len(embBlob) > 0 {
		f.Embedding = DecodeFloat32s(embBlob)
	}
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scanning fact: %w", err)
		}
		facts = append(facts, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterating facts: %w", err)
	}
	return facts, nil
}

// prefixed rewrites a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
