package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// annIndex is the in-process approximate-nearest-neighbor graph backing
// VectorStore.scan. It is keyed directly by the chunks table's row id, so
// no separate id-mapping layer is needed.
//
// Deletions are lazy: removing a row id only orphans it from the live set,
// the underlying node stays in the graph. coder/hnsw has a known issue
// deleting the last remaining node, and lazy deletion sidesteps it
// entirely; Stats reports the orphan count. Finalize saves the graph as it
// is and does not drop orphaned nodes.
type annIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig
	live   map[uint64]struct{}
	closed bool
}

type annMetadata struct {
	Live   map[uint64]struct{}
	Config VectorStoreConfig
}

func newANNIndex(cfg VectorStoreConfig) *annIndex {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 32
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &annIndex{
		graph:  graph,
		config: cfg,
		live:   make(map[uint64]struct{}),
	}
}

// Add inserts or replaces the vector for rowID.
func (a *annIndex) Add(rowID int64, vec []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("ann index is closed")
	}
	if len(vec) != a.config.Dimensions {
		return ErrDimensionMismatch{Expected: a.config.Dimensions, Got: len(vec)}
	}

	key := uint64(rowID)
	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	if a.config.Metric == "cos" {
		normalizeVectorInPlace(normalized)
	}

	a.graph.Add(hnsw.MakeNode(key, normalized))
	a.live[key] = struct{}{}
	return nil
}

// Search returns up to k nearest rows to query, restricted to rows
// accepted by keep (nil means no restriction).
func (a *annIndex) Search(query []float32, k int, keep func(int64) bool) ([]VectorResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, fmt.Errorf("ann index is closed")
	}
	if len(query) != a.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: a.config.Dimensions, Got: len(query)}
	}
	if a.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	if a.config.Metric == "cos" {
		normalizeVectorInPlace(normalized)
	}

	// Oversample when a filter is active: lazily-deleted and
	// filtered-out rows both reduce the usable result count below k.
	searchK := k
	if keep != nil {
		searchK = k * 2
	}

	nodes := a.graph.Search(normalized, searchK)

	results := make([]VectorResult, 0, len(nodes))
	for _, node := range nodes {
		if _, ok := a.live[node.Key]; !ok {
			continue
		}
		rowID := int64(node.Key)
		if keep != nil && !keep(rowID) {
			continue
		}
		distance := a.graph.Distance(normalized, node.Value)
		results = append(results, VectorResult{
			ID:       rowID,
			Distance: distance,
			Score:    distanceToScore(distance, a.config.Metric),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete lazily removes rowID from the live set.
func (a *annIndex) Delete(rowID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, uint64(rowID))
}

// annStats reports live vs. orphaned (lazily-deleted) node counts.
type annStats struct {
	Live       int
	GraphNodes int
	Orphans    int
}

func (a *annIndex) Stats() annStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	nodes := a.graph.Len()
	return annStats{Live: len(a.live), GraphNodes: nodes, Orphans: nodes - len(a.live)}
}

// Save persists the graph and its live-set metadata atomically.
func (a *annIndex) Save(path string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return fmt.Errorf("ann index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ann directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create ann file: %w", err)
	}
	if err := a.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export ann graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close ann file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename ann file: %w", err)
	}

	return a.saveMetadata(path + ".meta")
}

func (a *annIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create ann metadata file: %w", err)
	}

	meta := annMetadata{Live: a.live, Config: a.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode ann metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close ann metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and live-set from path, if present.
func (a *annIndex) Load(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := a.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load ann metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ann file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := a.graph.Import(reader); err != nil {
		return fmt.Errorf("import ann graph: %w", err)
	}
	return nil
}

func (a *annIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ann metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close ann metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta annMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode ann metadata: %w", err)
	}
	a.live = meta.Live
	a.config = meta.Config
	return nil
}

// Close releases the graph.
func (a *annIndex) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.graph = nil
	return nil
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance to a similarity score: 1 - distance
// for cosine, 1 / (1 + distance) for l2.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance
	}
}
