package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schemaVersion = 1

// Storage is the single-writer, many-reader storage layer (spec §4.1), over
// one embedded SQLite database opened with the sqlite-vec extension loaded,
// mirroring the teacher's single-file SQLiteStore but generalized to the
// full relational + vector + FTS schema this engine's data model requires.
// Storage implements FactStore and TemporalCheckpointStore directly; the
// ObservationStorage and DreamStorage wrapper types (defined alongside
// their respective methods) adapt it to ObservationStore and DreamStore,
// since those interfaces reuse method names (Create, Get, Count, ...)
// that FactStore already claims on *Storage.
type Storage struct {
	mu     sync.RWMutex
	db     *sql.DB
	dim    int
	logger Logger
}

// Open opens (creating if necessary) a SQLite database at path, configures
// WAL journaling, NORMAL synchronous durability, a 30 second busy timeout,
// and foreign keys, loads the sqlite-vec extension, runs an integrity
// check (recreating the file from scratch on failure), and initializes the
// schema for the given embedding dimension. Pass ":memory:" for an
// in-memory database (used by tests).
func Open(ctx context.Context, path string, dim int, logger Logger) (*Storage, error) {
	if logger == nil {
		logger = NoopLogger()
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidInput)
	}

	db, err := openConn(path)
	if err != nil {
		return nil, err
	}

	if path != ":memory:" && !integrityOK(ctx, db) {
		logger.Warn("storage: integrity check failed, recreating database", "path", path)
		db.Close()
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			os.Remove(path + suffix)
		}
		db, err = openConn(path)
		if err != nil {
			return nil, err
		}
	}

	s := &Storage{db: db, dim: dim, logger: logger}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: init schema: %w", err)
	}
	return s, nil
}

func openConn(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("memory: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; readers share the one WAL-mode connection

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: setting %q: %w", p, err)
		}
	}
	return db, nil
}

func integrityOK(ctx context.Context, db *sql.DB) bool {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}

// init creates relational tables, vector tables, FTS virtual tables and
// their sync triggers, and reconciles the stored embedding dimension
// against the configured one. A dimension change is logged by
// reconcileEmbeddingDim; init itself returns only an error.
func (s *Storage) init(ctx context.Context) error {
	if err := s.createRelationalTables(ctx); err != nil {
		return err
	}
	if _, err := s.reconcileEmbeddingDim(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Storage) createRelationalTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS facts (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			text             TEXT NOT NULL,
			fact_type        TEXT NOT NULL DEFAULT 'world',
			embedding        BLOB,
			source_type      TEXT NOT NULL DEFAULT '',
			source_ref       TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			happened_at      TEXT,
			last_accessed_at TEXT NOT NULL,
			access_count     INTEGER NOT NULL DEFAULT 0,
			consolidated_at  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_created_at ON facts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_happened_at ON facts(happened_at)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_consolidated ON facts(consolidated_at)`,

		`CREATE TABLE IF NOT EXISTS entities (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			embedding   BLOB,
			is_core     INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_name_type ON entities(LOWER(name), entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type_updated ON entities(entity_type, updated_at)`,

		`CREATE TABLE IF NOT EXISTS entity_refs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			fact_id      INTEGER NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
			name         TEXT NOT NULL,
			entity_type  TEXT NOT NULL,
			canonical_id INTEGER REFERENCES entities(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_refs_fact ON entity_refs(fact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_refs_name ON entity_refs(name)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_refs_canonical ON entity_refs(canonical_id)`,

		`CREATE TABLE IF NOT EXISTS fact_links (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			source_fact_id INTEGER NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
			target_fact_id INTEGER NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
			link_type      TEXT NOT NULL,
			weight         REAL NOT NULL,
			created_at     TEXT NOT NULL,
			CHECK (source_fact_id != target_fact_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_fact_links_unique ON fact_links(source_fact_id, target_fact_id, link_type)`,
		`CREATE INDEX IF NOT EXISTS idx_fact_links_target ON fact_links(target_fact_id)`,

		`CREATE TABLE IF NOT EXISTS observations (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			summary          TEXT NOT NULL,
			embedding        BLOB,
			evidence_count   INTEGER NOT NULL DEFAULT 0,
			source_fact_ids  TEXT NOT NULL DEFAULT '[]',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,
			last_accessed_at TEXT NOT NULL,
			access_count     INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS observation_history (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			observation_id  INTEGER NOT NULL REFERENCES observations(id) ON DELETE CASCADE,
			previous_text   TEXT NOT NULL,
			timestamp       TEXT NOT NULL,
			reason          TEXT NOT NULL,
			triggering_fact INTEGER,
			absorbed_text   TEXT,
			seq             INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_obs_history_obs ON observation_history(observation_id, seq)`,

		`CREATE TABLE IF NOT EXISTS dreams (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			bridge          TEXT NOT NULL,
			insight         TEXT NOT NULL,
			source_fact_ids TEXT NOT NULL DEFAULT '[]',
			embedding       BLOB,
			created_at      TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS temporal_checkpoints (
			entity_id       INTEGER NOT NULL,
			window_end_date TEXT NOT NULL,
			processed_at    TEXT NOT NULL,
			PRIMARY KEY (entity_id, window_end_date)
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
			text, content='facts', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS facts_fts_ai AFTER INSERT ON facts BEGIN
			INSERT INTO facts_fts(rowid, text) VALUES (new.id, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS facts_fts_ad AFTER DELETE ON facts BEGIN
			INSERT INTO facts_fts(facts_fts, rowid, text) VALUES ('delete', old.id, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS facts_fts_au AFTER UPDATE ON facts BEGIN
			INSERT INTO facts_fts(facts_fts, rowid, text) VALUES ('delete', old.id, old.text);
			INSERT INTO facts_fts(rowid, text) VALUES (new.id, new.text);
		END`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
			summary, content='observations', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS obs_fts_ai AFTER INSERT ON observations BEGIN
			INSERT INTO observations_fts(rowid, summary) VALUES (new.id, new.summary);
		END`,
		`CREATE TRIGGER IF NOT EXISTS obs_fts_ad AFTER DELETE ON observations BEGIN
			INSERT INTO observations_fts(observations_fts, rowid, summary) VALUES ('delete', old.id, old.summary);
		END`,
		`CREATE TRIGGER IF NOT EXISTS obs_fts_au AFTER UPDATE ON observations BEGIN
			INSERT INTO observations_fts(observations_fts, rowid, summary) VALUES ('delete', old.id, old.summary);
			INSERT INTO observations_fts(rowid, summary) VALUES (new.id, new.summary);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("memory: schema: %w", err)
		}
	}
	return nil
}

// vecTableNames lists every vec0 virtual table this engine maintains,
// each keyed by the parent table's primary id.
var vecTableNames = []string{"facts_vec", "observations_vec", "entities_vec"}

// reconcileEmbeddingDim compares the stored meta.embedding_dim against the
// configured dimension. On first run or on a change, it (re)creates the
// vec0 tables for the new dimension and records it. It returns true when a
// dimension change was detected against pre-existing data (signaling
// callers that previously stored embeddings are now orphaned and need
// re-embedding, per spec §4.1 / §9's "vector-dim evolution" note).
func (s *Storage) reconcileEmbeddingDim(ctx context.Context) (dimChanged bool, err error) {
	var stored sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'embedding_dim'`).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("memory: reading embedding_dim: %w", err)
	}

	hadPriorDim := stored.Valid
	var priorDim int
	if hadPriorDim {
		fmt.Sscanf(stored.String, "%d", &priorDim)
	}

	if hadPriorDim && priorDim == s.dim {
		return false, s.ensureVecTablesExist(ctx)
	}

	for _, name := range vecTableNames {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+name); err != nil {
			return false, fmt.Errorf("memory: dropping %s: %w", name, err)
		}
	}
	if err := s.createVecTables(ctx); err != nil {
		return false, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('embedding_dim', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", s.dim)); err != nil {
		return false, fmt.Errorf("memory: recording embedding_dim: %w", err)
	}

	changed := hadPriorDim && priorDim != s.dim
	if changed {
		s.logger.Warn("storage: embedding dimension changed, vector tables recreated",
			"previous_dim", priorDim, "new_dim", s.dim)
	}
	return changed, nil
}

func (s *Storage) ensureVecTablesExist(ctx context.Context) error {
	for _, name := range vecTableNames {
		var count int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','virtual table') AND name = ?`, name,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("memory: checking %s: %w", name, err)
		}
		if count == 0 {
			return s.createVecTables(ctx)
		}
	}
	return nil
}

func (s *Storage) createVecTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE facts_vec USING vec0(
			id INTEGER PRIMARY KEY,
			embedding FLOAT[%d] distance_metric=cosine
		)`, s.dim),
		fmt.Sprintf(`CREATE VIRTUAL TABLE observations_vec USING vec0(
			id INTEGER PRIMARY KEY,
			embedding FLOAT[%d] distance_metric=cosine
		)`, s.dim),
		fmt.Sprintf(`CREATE VIRTUAL TABLE entities_vec USING vec0(
			id INTEGER PRIMARY KEY,
			embedding FLOAT[%d] distance_metric=cosine
		)`, s.dim),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("memory: creating vec table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers that need direct access
// (e.g. test setup, administrative tooling). Not part of any store
// interface.
func (s *Storage) DB() *sql.DB { return s.db }

// scanner abstracts *sql.Row and *sql.Rows so a single scan function can
// serve both Get (single row) and List/Search (many rows) call sites.
type scanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// validColumnName allowlists an identifier to alphanumerics and
// underscores before it is interpolated into a SQL string, the same
// defense the teacher uses for json_extract column names.
func validColumnName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64sToAny(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
