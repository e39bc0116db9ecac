package embed

import (
	"context"
	"math"
	"strings"
	"time"
)

const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize caps batch size to bound memory use.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for a single embedding request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3
)

// DefaultDimensions is the output dimension D used throughout the store.
const DefaultDimensions = 768

// StaticDimensions is the embedding dimension produced by the static
// fallback embedder.
const StaticDimensions = DefaultDimensions

// queryInstructionPrefix is prepended to query text before embedding, so
// the retrieval embedding sits in the same instruction-tuned space the
// indexed code chunks were embedded without a prefix into.
const queryInstructionPrefix = "Represent this query for retrieving relevant code: "

// maxEmbedChars bounds the input length passed to the embedder. Text past
// this length is truncated and marked, rather than sent whole, since most
// embedding models silently truncate anyway and a marker makes that
// explicit to a caller inspecting results.
const maxEmbedChars = 1800

const truncationMarker = "... [truncated]"

// Embedder maps text to unit-norm dense vectors of a fixed dimension.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, aligned to input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder is ready to serve requests.
	Available(ctx context.Context) bool

	// Close releases resources held by the embedder.
	Close() error
}

// EmbedQuery embeds q as a retrieval query: it receives the instruction
// prefix and is truncated (with a marker) before being handed to the
// underlying embedder, per the query-vs-document asymmetry of instruction-
// tuned embedding models.
func EmbedQuery(ctx context.Context, embedder Embedder, q string) ([]float32, error) {
	prefixed := queryInstructionPrefix + truncateForEmbedding(q)
	return embedder.Embed(ctx, prefixed)
}

func truncateForEmbedding(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := maxEmbedChars - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return strings.TrimSpace(text[:cut]) + truncationMarker
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
