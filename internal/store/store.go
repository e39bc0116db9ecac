package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	opensrcerrors "github.com/opensrc-dev/opensrc/internal/errors"
)

const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS chunks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT NOT NULL,
	file       TEXT NOT NULL,
	identifier TEXT NOT NULL,
	kind       TEXT NOT NULL,
	parent     TEXT,
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);

CREATE TABLE IF NOT EXISTS indexed_sources (
	name       TEXT PRIMARY KEY,
	indexed_at TEXT NOT NULL
);
`

// VectorStore is the durable chunk store: a SQLite-backed chunks table plus
// an in-process ANN graph for scan. One VectorStore is rooted at a single
// on-disk directory, per init's contract.
type VectorStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	ann    *annIndex
	dir    string
	config VectorStoreConfig
	closed bool
}

func annPath(dir string) string {
	return filepath.Join(dir, "vectors.hnsw")
}

func dbPath(dir string) string {
	return filepath.Join(dir, "chunks.db")
}

// Init opens (creating if absent) the store rooted at dir. It enables WAL
// mode with the configured busy timeout and synchronous=NORMAL, creates the
// schema if absent, and preloads any previously persisted ANN graph.
//
// There is no native vector extension to dlopen here: the ANN graph lives
// in-process, built by coder/hnsw rather than loaded from a shared library.
// driverName (driver_cgo.go / driver_nocgo.go) picks which database/sql
// driver backs the chunks table: mattn/go-sqlite3 when CGO is available,
// modernc.org/sqlite's pure-Go port otherwise — both register a real driver
// and both paths open the store successfully; the split exists so the
// binary still runs on hosts with no C toolchain, not to fail one path
// outright. sql.Open fails only when driverName is not registered, which is
// reported as UnsupportedPlatform; a database file that cannot be opened
// fails at the ping, which is reported as VectorExtensionMissing.
func Init(dir string, cfg VectorStoreConfig) (*VectorStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath(dir))
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, opensrcerrors.New(
			opensrcerrors.ErrCodeUnsupportedPlatform,
			fmt.Sprintf("failed to open sqlite database via %q driver on %s/%s", driverName, runtime.GOOS, runtime.GOARCH),
			err,
		)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, opensrcerrors.New(opensrcerrors.ErrCodeVectorExtensionMissing, fmt.Sprintf("sqlite driver %q did not respond", driverName), err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}

	ann := newANNIndex(cfg)
	if err := ann.Load(annPath(dir)); err != nil {
		db.Close()
		return nil, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}

	s := &VectorStore{db: db, ann: ann, dir: dir, config: cfg}

	count, err := s.chunkCount(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	if count > 0 && ann.Stats().GraphNodes == 0 {
		if err := s.rebuildANN(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *VectorStore) chunkCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count); err != nil {
		return 0, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	return count, nil
}

// rebuildANN repopulates the ANN graph from the chunks table, used when a
// store is opened with rows present but no persisted graph on disk.
func (s *VectorStore) rebuildANN(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM chunks")
	if err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
		if err := s.ann.Add(id, vec); err != nil {
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
	}
	return rows.Err()
}

// InsertBatch atomically inserts the chunk/embedding rows for source in a
// single transaction, then adds the rows to the in-memory ANN graph. It does
// not persist the graph; call Finalize once ingestion for the source
// completes.
func (s *VectorStore) InsertBatch(ctx context.Context, source string, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return opensrcerrors.InternalError(
			fmt.Sprintf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings)), nil)
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return opensrcerrors.InternalError("store is closed", nil)
	}

	for _, vec := range embeddings {
		if len(vec) != s.config.Dimensions {
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDimensionMismatch,
				ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vec)})
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (source, file, identifier, kind, parent, start_line, end_line, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	defer stmt.Close()

	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		blob, err := encodeEmbedding(embeddings[i])
		if err != nil {
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
		result, err := stmt.ExecContext(ctx, source, c.File, c.Identifier, c.Kind, c.Parent, c.StartLine, c.EndLine, c.Content, blob)
		if err != nil {
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}

	for i, id := range ids {
		if err := s.ann.Add(id, embeddings[i]); err != nil {
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
	}

	return nil
}

// Finalize persists the ANN graph to disk. It is expensive and meant to be
// called once per source at the end of ingestion, never per batch.
func (s *VectorStore) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return opensrcerrors.InternalError("store is closed", nil)
	}
	if err := s.ann.Save(annPath(s.dir)); err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	return nil
}

// MarkIndexed records source as fully indexed.
func (s *VectorStore) MarkIndexed(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return opensrcerrors.InternalError("store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO indexed_sources (name, indexed_at) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET indexed_at = excluded.indexed_at`,
		source, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	return nil
}

// IsIndexed reports whether source has a completed indexed_sources entry.
func (s *VectorStore) IsIndexed(ctx context.Context, source string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indexed_sources WHERE name = ?", source).Scan(&count)
	if err != nil {
		return false, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	return count > 0, nil
}

// ListIndexed returns every fully indexed source name.
func (s *VectorStore) ListIndexed(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM indexed_sources ORDER BY name")
	if err != nil {
		return nil, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteSource removes all chunk rows and the indexed_sources entry for
// source. The ANN graph stays valid but stale afterward: lazily orphaned
// rows are filtered out of scan results by the live-row check.
func (s *VectorStore) DeleteSource(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return opensrcerrors.InternalError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chunks WHERE source = ?", source)
	if err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE source = ?", source); err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM indexed_sources WHERE name = ?", source); err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}
	if err := tx.Commit(); err != nil {
		return opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}

	for _, id := range ids {
		s.ann.Delete(id)
	}
	return nil
}

// Scan returns up to topK chunks nearest to queryVec. When sourceFilter is
// non-empty, the ANN graph is asked for 2*topK candidates first and the
// filter is applied to those before truncating to topK, following the
// standard post-filter recall safeguard for quantized ANN search. Ties in
// distance are broken by ascending row id.
func (s *VectorStore) Scan(ctx context.Context, queryVec []float32, topK int, sourceFilter []string) ([]ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, opensrcerrors.InternalError("store is closed", nil)
	}

	var keep func(int64) bool
	filterSet := make(map[string]struct{}, len(sourceFilter))
	for _, src := range sourceFilter {
		filterSet[src] = struct{}{}
	}
	if len(filterSet) > 0 {
		keep = func(id int64) bool {
			source, err := s.sourceForRow(ctx, id)
			if err != nil {
				return false
			}
			_, ok := filterSet[source]
			return ok
		}
	}

	hits, err := s.ann.Search(queryVec, topK, keep)
	if err != nil {
		return nil, opensrcerrors.Wrap(opensrcerrors.ErrCodeDatabaseError, err)
	}

	sortStableByDistanceThenID(hits)

	results := make([]ScanResult, 0, len(hits))
	for _, hit := range hits {
		chunk, err := s.chunkForRow(ctx, hit.ID)
		if err != nil {
			continue
		}
		results = append(results, ScanResult{Chunk: chunk, Score: hit.Score})
	}
	return results, nil
}

func (s *VectorStore) sourceForRow(ctx context.Context, id int64) (string, error) {
	var source string
	err := s.db.QueryRowContext(ctx, "SELECT source FROM chunks WHERE id = ?", id).Scan(&source)
	return source, err
}

func (s *VectorStore) chunkForRow(ctx context.Context, id int64) (Chunk, error) {
	var c Chunk
	err := s.db.QueryRowContext(ctx,
		"SELECT source, file, identifier, kind, parent, start_line, end_line, content FROM chunks WHERE id = ?", id).
		Scan(&c.SourceName, &c.File, &c.Identifier, &c.Kind, &c.Parent, &c.StartLine, &c.EndLine, &c.Content)
	if err != nil {
		return Chunk{}, err
	}
	return c, nil
}

// Close releases the database handle and ANN graph.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ann.Close()
	return s.db.Close()
}

func encodeEmbedding(vec []float32) ([]byte, error) {
	return json.Marshal(vec)
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal(blob, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// sortStableByDistanceThenID breaks graph-search ties by ascending row id,
// since the ANN library's own ordering does not guarantee a deterministic
// tiebreak.
func sortStableByDistanceThenID(hits []VectorResult) {
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && less(hits[j], hits[j-1]) {
			hits[j], hits[j-1] = hits[j-1], hits[j]
			j--
		}
	}
}

func less(a, b VectorResult) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}
