// Package sqlite provides the SQLite implementation of store.Store.
//
// The chunk table is deliberately simple, basically a keyed record
// table. All read-side richness lives in the query package, which
// recomputes projections from chunk payloads with SQLite's JSON
// functions instead of materializing domain objects.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/flowstash/flowstash/pkg/model"
	"github.com/flowstash/flowstash/pkg/store"
)

var _ store.Store = (*SQLiteStore)(nil)

// SQLiteStore is the SQLite implementation of store.Store.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	cfg        store.Config
	repeatable map[string]bool
	log        zerolog.Logger

	// mu serializes the insert transaction: the max(seq) read and the
	// row write must never interleave between two writers on one mid.
	mu sync.Mutex
}

// New creates a new SQLite chunk store.
func New(cfg store.Config) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := cfg.DBPath + "?_foreign_keys=on&_busy_timeout=5000"
	if cfg.ReadOnly {
		dsn += "&mode=ro"
	}
	if cfg.WAL {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer is best practice for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	repeatable := make(map[string]bool, len(cfg.RepeatableKinds))
	for _, k := range cfg.RepeatableKinds {
		repeatable[k] = true
	}

	s := &SQLiteStore{
		db:         db,
		path:       cfg.DBPath,
		cfg:        cfg,
		repeatable: repeatable,
		log:        zerolog.Nop(),
	}

	if !cfg.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return s, nil
}

// SetLogger attaches a logger; the default discards everything.
func (s *SQLiteStore) SetLogger(log zerolog.Logger) {
	s.log = log
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB returns the underlying database connection for the query engine.
// Use with caution - prefer the Store interface methods for writes.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

func (s *SQLiteStore) initSchema() error {
	schema := `
-- Meta table for store metadata
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

-- Chunk table: the sole persisted entity. id is process-unique and
-- strictly increasing by insertion order; seq is per-mid and assigned
-- inside the insert transaction.
CREATE TABLE IF NOT EXISTS chunk (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	mid            TEXT NOT NULL,
	kind           TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	data           BLOB,
	derived_method TEXT NOT NULL DEFAULT '',
	created_ns     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunk_mid ON chunk(mid);
CREATE INDEX IF NOT EXISTS idx_chunk_kind ON chunk(kind);

-- Case-normalized method lookups without full scans.
CREATE INDEX IF NOT EXISTS idx_chunk_method
	ON chunk(upper(derived_method)) WHERE kind = 'http_flow';
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	// The uniqueness guard's backstop. The exemption set is config, so
	// the partial index is rebuilt to match it on every open.
	if _, err := s.db.Exec(`DROP INDEX IF EXISTS idx_chunk_mid_kind`); err != nil {
		return err
	}
	uniq := `CREATE UNIQUE INDEX idx_chunk_mid_kind ON chunk(mid, kind)`
	if len(s.cfg.RepeatableKinds) > 0 {
		quoted := make([]string, len(s.cfg.RepeatableKinds))
		for i, k := range s.cfg.RepeatableKinds {
			quoted[i] = "'" + strings.ReplaceAll(k, "'", "''") + "'"
		}
		uniq += fmt.Sprintf(" WHERE kind NOT IN (%s)", strings.Join(quoted, ", "))
	}
	if _, err := s.db.Exec(uniq); err != nil {
		return fmt.Errorf("create uniqueness index: %w", err)
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", fmt.Sprintf("%d", store.SchemaVersion))
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Write Operations
// ────────────────────────────────────────────────────────────────────────────────

// Insert persists a chunk. Within one transaction it checks the
// (mid, kind) uniqueness rule, computes seq = max(seq for mid) + 1,
// derives the method field from the payload, and writes the row. No
// partial chunk is ever visible: either everything commits or nothing.
func (s *SQLiteStore) Insert(ctx context.Context, mid, kind string, payload []byte) (model.ChunkRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ref model.ChunkRef

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ref, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	if !s.repeatable[kind] {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chunk WHERE mid = ? AND kind = ?`, mid, kind).Scan(&n)
		if err != nil {
			return ref, fmt.Errorf("uniqueness check: %w", err)
		}
		if n > 0 {
			return ref, &store.DuplicateChunkError{MID: mid, Kind: kind}
		}
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM chunk WHERE mid = ?`, mid).Scan(&seq)
	if err != nil {
		return ref, fmt.Errorf("next seq: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chunk (mid, kind, seq, data, derived_method, created_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		mid, kind, seq, payload, model.DerivedMethod(kind, payload), time.Now().UnixNano())
	if err != nil {
		return ref, mapConstraintErr(err, mid, kind)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return ref, err
	}

	if err := tx.Commit(); err != nil {
		return ref, fmt.Errorf("commit insert: %w", err)
	}

	s.log.Debug().Str("mid", mid).Str("kind", kind).Int64("id", id).Int64("seq", seq).
		Msg("chunk inserted")

	return model.ChunkRef{ID: id, MID: mid, Seq: seq}, nil
}

// UpdatePayload replaces the payload of an existing chunk and
// recomputes derived_method in the same statement. id, mid, kind and
// seq are immutable.
func (s *SQLiteStore) UpdatePayload(ctx context.Context, id int64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var kind string
	err = tx.QueryRowContext(ctx, `SELECT kind FROM chunk WHERE id = ?`, id).Scan(&kind)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE chunk SET data = ?, derived_method = ? WHERE id = ?`,
		payload, model.DerivedMethod(kind, payload), id)
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}

	return tx.Commit()
}

// Delete removes a chunk. Its seq value is never reassigned while any
// higher seq for the mid survives.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Read Operations
// ────────────────────────────────────────────────────────────────────────────────

const chunkCols = `id, mid, kind, seq, data, derived_method, created_ns`

// GetByID retrieves a single chunk.
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*model.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkCols+` FROM chunk WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return c, err
}

// ListByMID returns all chunks for a mid in seq order.
func (s *SQLiteStore) ListByMID(ctx context.Context, mid string) ([]*model.Chunk, error) {
	return s.list(ctx,
		`SELECT `+chunkCols+` FROM chunk WHERE mid = ? ORDER BY seq`, mid)
}

// ListByKind returns all chunks of a kind in insertion order.
func (s *SQLiteStore) ListByKind(ctx context.Context, kind string) ([]*model.Chunk, error) {
	return s.list(ctx,
		`SELECT `+chunkCols+` FROM chunk WHERE kind = ? ORDER BY id`, kind)
}

// Count returns the total chunk count.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...interface{}) ([]*model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*model.Chunk, error) {
	c := &model.Chunk{}
	err := row.Scan(&c.ID, &c.MID, &c.Kind, &c.Seq, &c.Payload, &c.DerivedMethod, &c.CreatedNS)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// mapConstraintErr converts a unique-index violation into the typed
// duplicate error. The in-transaction precheck normally fires first;
// the index catches writers that bypass it.
func mapConstraintErr(err error, mid, kind string) error {
	if sqlErr, ok := err.(sqlite3.Error); ok {
		if sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return &store.DuplicateChunkError{MID: mid, Kind: kind}
		}
	}
	return fmt.Errorf("insert chunk: %w", err)
}
