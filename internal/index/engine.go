// Package index implements the IndexEngine: it drives a fetched source from
// on-disk to fully indexed with bounded concurrency and cooperative yielding.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/opensrc-dev/opensrc/internal/chunk"
	"github.com/opensrc-dev/opensrc/internal/embed"
	"github.com/opensrc-dev/opensrc/internal/scanner"
	"github.com/opensrc-dev/opensrc/internal/store"
)

// MaxConcurrentIndex bounds the number of sources indexed at once.
const MaxConcurrentIndex = 2

// BatchSize is the number of chunks accumulated before an embed+insert
// round trip and a cooperative yield.
const BatchSize = 50

// Status is a source's position in the indexing state machine.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusQueued   Status = "queued"
	StatusIndexing Status = "indexing"
	StatusIndexed  Status = "indexed"
)

// Engine drives sources through unknown -> queued -> indexing -> indexed,
// bounded by MaxConcurrentIndex concurrent indexing tasks via a weighted
// semaphore.
type Engine struct {
	vector   *store.VectorStore
	embedder embed.Embedder
	chunker  chunk.Chunker
	sem      *semaphore.Weighted

	mu     sync.Mutex
	status map[string]Status
	roots  map[string]string
	queue  []string
}

// NewEngine creates an Engine over the given store, embedder, and chunker.
// A nil chunker defaults to the dispatch pipeline covering every supported
// extension.
func NewEngine(vector *store.VectorStore, embedder embed.Embedder, chunker chunk.Chunker) *Engine {
	if chunker == nil {
		chunker = chunk.NewDispatchChunker()
	}
	return &Engine{
		vector:   vector,
		embedder: embedder,
		chunker:  chunker,
		sem:      semaphore.NewWeighted(MaxConcurrentIndex),
		status:   make(map[string]Status),
		roots:    make(map[string]string),
	}
}

// Status returns a source's current position in the state machine.
func (e *Engine) Status(source string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.status[source]; ok {
		return s
	}
	return StatusUnknown
}

// Enqueue schedules source (rooted at root on disk) for indexing. It is
// idempotent: a source already indexed, queued, or indexing is a no-op.
func (e *Engine) Enqueue(source, root string) {
	e.mu.Lock()
	if s := e.status[source]; s == StatusQueued || s == StatusIndexing || s == StatusIndexed {
		e.mu.Unlock()
		return
	}
	e.status[source] = StatusQueued
	e.roots[source] = root
	e.queue = append(e.queue, source)
	e.mu.Unlock()

	go e.schedule(context.Background())
}

// schedule drains the queue, acquiring the MaxConcurrentIndex-weighted
// semaphore before launching each source's run so at most
// MaxConcurrentIndex indexing tasks are ever in flight at once.
func (e *Engine) schedule(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		source := e.queue[0]
		e.queue = e.queue[1:]
		root := e.roots[source]
		e.mu.Unlock()

		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func() {
			defer e.sem.Release(1)
			e.run(ctx, source, root)
		}()
	}
}

// run executes the per-source indexing pipeline described in the engine's
// contract: enumerate, stream-chunk in batches, embed, insert, yield, and
// finalize once all batches have landed.
func (e *Engine) run(ctx context.Context, source, root string) {
	e.setStatus(source, StatusIndexing)

	total, err := e.indexSource(ctx, source, root)
	if err != nil {
		slog.Warn("index_source_failed", slog.String("source", source), slog.String("error", err.Error()))
		if delErr := e.vector.DeleteSource(ctx, source); delErr != nil {
			slog.Warn("index_source_cleanup_failed", slog.String("source", source), slog.String("error", delErr.Error()))
		}
		e.setStatus(source, StatusUnknown)
		return
	}

	if total > 0 {
		if err := e.vector.Finalize(); err != nil {
			slog.Warn("index_finalize_failed", slog.String("source", source), slog.String("error", err.Error()))
			e.setStatus(source, StatusUnknown)
			return
		}
	}

	if err := e.vector.MarkIndexed(ctx, source); err != nil {
		slog.Warn("index_mark_indexed_failed", slog.String("source", source), slog.String("error", err.Error()))
		e.setStatus(source, StatusUnknown)
		return
	}

	e.setStatus(source, StatusIndexed)
	slog.Info("index_source_complete", slog.String("source", source), slog.Int("chunks", total))
}

func (e *Engine) setStatus(source string, status Status) {
	e.mu.Lock()
	e.status[source] = status
	e.mu.Unlock()
}

// indexSource enumerates files, chunks them, and flushes embed+insert
// batches of up to BatchSize chunks, yielding to the runtime between
// batches so concurrent queries interleave.
func (e *Engine) indexSource(ctx context.Context, source, root string) (int, error) {
	files, err := scanner.EnumerateFiles(root)
	if err != nil {
		return 0, fmt.Errorf("enumerating files: %w", err)
	}

	var batch []store.Chunk
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		embeddings, err := e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}
		if err := e.vector.InsertBatch(ctx, source, batch, embeddings); err != nil {
			return fmt.Errorf("inserting batch: %w", err)
		}
		total += len(batch)
		batch = batch[:0]

		if err := ctx.Err(); err != nil {
			return err
		}
		// Cooperative yield: relinquish this goroutine's turn so a
		// concurrent search sees at most one batch of stale progress
		// before the scheduler resumes indexing.
		runtime.Gosched()
		return nil
	}

	for _, f := range files {
		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			slog.Warn("index_read_failed", slog.String("file", f.Path), slog.String("error", err.Error()))
			continue
		}

		chunks, err := e.chunker.Chunk(ctx, &chunk.FileInput{Path: f.Path, Content: content})
		if err != nil {
			slog.Warn("index_chunk_failed", slog.String("file", f.Path), slog.String("error", err.Error()))
			continue
		}

		for _, c := range chunks {
			batch = append(batch, store.Chunk{
				SourceName: source,
				File:       c.File,
				Identifier: c.Identifier,
				Kind:       string(c.Kind),
				StartLine:  c.StartLine,
				EndLine:    c.EndLine,
				Content:    c.Content,
				Parent:     c.Parent,
			})
			if len(batch) >= BatchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return total, err
	}

	return total, nil
}
