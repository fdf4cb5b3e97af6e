// Package store persists chunk accumulators in an append-only sqlite
// database and maintains, per class, a cached merged baseline so that
// reconstructing the full merged state only folds chunks appended
// since the cache was last updated. Chunks are never mutated after
// append; new data always produces a new chunk.
package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/scasim/tvla/pkg/moments"
)

var (
	// ErrDuplicateChunk is returned when a chunk id is appended twice
	// for the same class. State is left unchanged, which makes chunk
	// appends safe to retry blindly.
	ErrDuplicateChunk = errors.New("store: duplicate chunk")
	// ErrNoChunks is returned when a class has no persisted chunks.
	ErrNoChunks = errors.New("store: no chunks for class")
	// ErrCorruptState is returned when persisted chunks disagree on
	// layout (class/order/length) and cannot be merged. This is a
	// terminal data-integrity failure, not a retryable condition.
	ErrCorruptState = errors.New("store: inconsistent persisted state")
)

// Store is a chunked accumulator store backed by a single sqlite file.
// Appends of distinct chunk ids may proceed concurrently, including
// for the same class; the merged-state cache has a single internal
// writer at a time.
type Store struct {
	path string

	mu sync.RWMutex
	db *sqlx.DB

	// foldMu is the serialization point for merged-cache updates.
	foldMu sync.Mutex
}

// Open returns an unopened store for the given sqlite file path. Call
// Init before use.
func Open(path string) *Store {
	return &Store{path: path}
}

// Init opens the database and creates the schema if needed.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("store: sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	// database/sql pools connections, so per-connection pragmas must go
	// in the DSN to reach every connection, not just the one an Exec
	// happens to run on.
	db, err := sqlx.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return errors.Wrap(err, "open sqlite store")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "ping sqlite store")
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return errors.Wrap(err, "configure sqlite store")
		}
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "create store schema")
	}

	s.db = db
	return nil
}

// Append persists one chunk accumulator under (class, chunkID). The
// append is linearizable per key: a second append of the same id fails
// with ErrDuplicateChunk and leaves the stored state untouched.
func (s *Store) Append(ctx context.Context, chunkID string, acc *moments.ClassAccumulator) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if acc.Count() == 0 {
		return errors.Wrap(moments.ErrEmptyBatch, "refusing to persist an empty chunk")
	}

	payload := encodeStats(acc.Order, acc.Stats)
	_, err = db.ExecContext(ctx, `
		INSERT INTO chunks (class, chunk_id, moment_order, length, trace_count, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, acc.Class, chunkID, acc.Order, acc.Len(), acc.Count(), payload)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicateChunk, "class %s chunk %s", acc.Class, chunkID)
		}
		return errors.Wrapf(err, "append chunk %s for class %s", chunkID, acc.Class)
	}
	return nil
}

// chunkRow mirrors one row of the chunks table.
type chunkRow struct {
	Rowid   int64  `db:"rowid"`
	ChunkID string `db:"chunk_id"`
	Payload []byte `db:"payload"`
}

// LoadMerged returns the fully merged accumulator for a class. It
// starts from the cached merged baseline, folds in any chunks appended
// since the cache was written, and advances the cache. A rerun after
// interruption therefore never re-reads already-folded chunks.
func (s *Store) LoadMerged(ctx context.Context, class string) (*moments.ClassAccumulator, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	s.foldMu.Lock()
	defer s.foldMu.Unlock()

	merged, foldedRowid, err := s.cachedBaseline(ctx, db, class)
	if err != nil {
		return nil, err
	}

	rows := []chunkRow{}
	err = db.SelectContext(ctx, &rows, `
		SELECT rowid, chunk_id, payload FROM chunks
		WHERE class = ? AND rowid > ?
		ORDER BY rowid
	`, class, foldedRowid)
	if err != nil {
		return nil, errors.Wrapf(err, "read chunks for class %s", class)
	}
	if merged == nil && len(rows) == 0 {
		return nil, errors.Wrapf(ErrNoChunks, "%s", class)
	}

	highest := foldedRowid
	for _, row := range rows {
		order, stats, err := decodeStats(row.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "chunk %s", row.ChunkID)
		}
		chunk := &moments.ClassAccumulator{Class: class, Order: order, Stats: stats}
		if merged == nil {
			merged = chunk
		} else {
			merged, err = moments.Merge(merged, chunk)
			if err != nil {
				// Layout disagreement between persisted chunks means the
				// store contents are unusable, not just this call.
				return nil, errors.Wrapf(ErrCorruptState, "folding chunk %s: %v", row.ChunkID, err)
			}
		}
		highest = row.Rowid
	}

	if len(rows) > 0 {
		if err := s.writeCache(ctx, db, class, highest, merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// InvalidateCache drops the cached merged state for a class, forcing
// the next LoadMerged to rebuild from raw chunk accumulators.
func (s *Store) InvalidateCache(ctx context.Context, class string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	s.foldMu.Lock()
	defer s.foldMu.Unlock()
	_, err = db.ExecContext(ctx, `DELETE FROM merged_cache WHERE class = ?`, class)
	return errors.Wrapf(err, "invalidate cache for class %s", class)
}

// Classes lists the classes that have at least one persisted chunk.
func (s *Store) Classes(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var classes []string
	err = db.SelectContext(ctx, &classes, `SELECT DISTINCT class FROM chunks ORDER BY class`)
	return classes, errors.Wrap(err, "list classes")
}

// ChunkCount returns the number of persisted chunks and the total
// trace count for a class.
func (s *Store) ChunkCount(ctx context.Context, class string) (chunks int64, traceCount int64, err error) {
	db, err := s.getDB()
	if err != nil {
		return 0, 0, err
	}
	row := db.QueryRowxContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(trace_count), 0) FROM chunks WHERE class = ?
	`, class)
	if err := row.Scan(&chunks, &traceCount); err != nil {
		return 0, 0, errors.Wrapf(err, "count chunks for class %s", class)
	}
	return chunks, traceCount, nil
}

// CachedState reports the cache fold marker and cached trace count for
// a class; ok is false when no cache entry exists.
func (s *Store) CachedState(ctx context.Context, class string) (foldedRowid, traceCount int64, ok bool, err error) {
	db, err := s.getDB()
	if err != nil {
		return 0, 0, false, err
	}
	row := db.QueryRowxContext(ctx, `
		SELECT folded_rowid, trace_count FROM merged_cache WHERE class = ?
	`, class)
	if err := row.Scan(&foldedRowid, &traceCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, errors.Wrapf(err, "read cache state for class %s", class)
	}
	return foldedRowid, traceCount, true, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getDB() (*sqlx.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

// cachedBaseline loads the merged-cache entry for class, returning a
// nil accumulator and rowid 0 when no cache entry exists.
func (s *Store) cachedBaseline(ctx context.Context, db *sqlx.DB, class string) (*moments.ClassAccumulator, int64, error) {
	var (
		foldedRowid int64
		payload     []byte
	)
	row := db.QueryRowxContext(ctx, `
		SELECT folded_rowid, payload FROM merged_cache WHERE class = ?
	`, class)
	if err := row.Scan(&foldedRowid, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, errors.Wrapf(err, "read merged cache for class %s", class)
	}
	order, stats, err := decodeStats(payload)
	if err != nil {
		return nil, 0, errors.Wrapf(ErrCorruptState, "merged cache for class %s: %v", class, err)
	}
	return &moments.ClassAccumulator{Class: class, Order: order, Stats: stats}, foldedRowid, nil
}

func (s *Store) writeCache(ctx context.Context, db *sqlx.DB, class string, foldedRowid int64, acc *moments.ClassAccumulator) error {
	payload := encodeStats(acc.Order, acc.Stats)
	_, err := db.ExecContext(ctx, `
		INSERT INTO merged_cache (class, folded_rowid, moment_order, length, trace_count, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(class) DO UPDATE SET
			folded_rowid = excluded.folded_rowid,
			moment_order = excluded.moment_order,
			length = excluded.length,
			trace_count = excluded.trace_count,
			payload = excluded.payload
	`, class, foldedRowid, acc.Order, acc.Len(), acc.Count(), payload)
	return errors.Wrapf(err, "update merged cache for class %s", class)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func createTables(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chunks (
			class TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			moment_order INTEGER NOT NULL,
			length INTEGER NOT NULL,
			trace_count INTEGER NOT NULL,
			payload BLOB NOT NULL,
			UNIQUE (class, chunk_id)
		);
		CREATE TABLE IF NOT EXISTS merged_cache (
			class TEXT PRIMARY KEY,
			folded_rowid INTEGER NOT NULL,
			moment_order INTEGER NOT NULL,
			length INTEGER NOT NULL,
			trace_count INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
