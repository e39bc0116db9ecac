// Package store implements the VectorStore: a single chunks table plus an
// in-process approximate-nearest-neighbor graph, backing semantic search
// over indexed sources.
package store

import (
	"fmt"
	"time"
)

// Chunk is a retrievable unit of indexed content: a function, a class
// method, a markdown section, or a sliding-window fallback span.
type Chunk struct {
	SourceName string // owning Source's unique name
	File       string // path relative to the source root
	Identifier string // symbol name, heading text, or "lines_<start>_<end>"
	Kind       string // "function", "class", "section", "window", ...
	StartLine  int
	EndLine    int
	Content    string
	Parent     string // enclosing symbol's identifier, if any
}

// IndexedEntry is a Chunk plus the embedding vector and row id assigned
// to it once it has been inserted into the VectorStore.
type IndexedEntry struct {
	ID int64
	Chunk
	Embedding []float32
}

// ScanResult is a single semantic-search hit: a stored chunk plus its
// similarity score against the query vector.
type ScanResult struct {
	Chunk
	Score float32
}

// VectorStoreConfig configures the ANN graph backing Scan.
type VectorStoreConfig struct {
	Dimensions     int
	Quantization   string // "f16" or "i8"
	Metric         string // "cos" or "l2"
	BusyTimeoutMS  int
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns the spec's recommended HNSW parameters.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// ErrDimensionMismatch indicates a vector was inserted or queried with the
// wrong number of dimensions for this store.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// VectorResult is a single ANN graph hit, keyed by the chunks table's SQL
// row id.
type VectorResult struct {
	ID       int64
	Distance float32
	Score    float32
}

// sourceState tracks a source's progress through the indexing state
// machine: unknown -> queued -> indexing -> indexed.
type sourceState struct {
	name       string
	indexed    bool
	indexedAt  time.Time
	model      string
	dimensions int
}
