// Package query implements the QueryPlanner: it translates the three
// query verbs (grep, astGrep, semanticSearch) into concrete passes over
// FileAccess, the tree-sitter-backed structural matcher, and the
// VectorStore.
package query

import (
	"context"

	"github.com/opensrc-dev/opensrc/internal/embed"
	"github.com/opensrc-dev/opensrc/internal/fsaccess"
	"github.com/opensrc-dev/opensrc/internal/index"
	"github.com/opensrc-dev/opensrc/internal/store"
)

// SearchResult is one semanticSearch hit.
type SearchResult struct {
	Source     string  `json:"source"`
	File       string  `json:"file"`
	Identifier string  `json:"identifier"`
	Kind       string  `json:"kind"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// SemanticSearchError is the typed {error, sources} shape semanticSearch
// returns instead of an empty list when the store isn't ready yet.
type SemanticSearchError struct {
	Error   string   `json:"error"` // "not_indexed" | "indexing"
	Sources []string `json:"sources"`
}

// SemanticSearchOptions configures SemanticSearch.
type SemanticSearchOptions struct {
	Sources []string
	TopK    int
}

// GrepOptions re-exports fsaccess.GrepOptions for callers that only import
// the query package.
type GrepOptions = fsaccess.GrepOptions

// IndexStatus reports a source's position in the IndexEngine's state
// machine, used to build semanticSearch's not_indexed/indexing errors.
type IndexStatus interface {
	Status(source string) index.Status
}

// VectorStore is the subset of store.VectorStore the planner needs.
type VectorStore interface {
	Scan(ctx context.Context, queryVec []float32, topK int, sourceFilter []string) ([]store.ScanResult, error)
	ListIndexed(ctx context.Context) ([]string, error)
}

// Planner composes FileAccess, the Embedder, the VectorStore, and the
// IndexEngine's status view into the three query verbs.
type Planner struct {
	files    *fsaccess.FileAccess
	embedder embed.Embedder
	vector   VectorStore
	status   IndexStatus
	allNames func() []string
}

// New builds a Planner. allNames returns every registered source name,
// used as the default scope for grep and semanticSearch when the caller
// supplies none.
func New(files *fsaccess.FileAccess, embedder embed.Embedder, vector VectorStore, status IndexStatus, allNames func() []string) *Planner {
	return &Planner{files: files, embedder: embedder, vector: vector, status: status, allNames: allNames}
}

// Grep delegates directly to FileAccess.Grep.
func (p *Planner) Grep(pattern string, opts GrepOptions) ([]fsaccess.GrepResult, error) {
	return p.files.Grep(pattern, opts, p.allNames)
}

// SemanticSearch embeds q and scans the vector store, honoring the
// not_indexed/indexing early-exit states of spec §4.6 before running the
// scan.
func (p *Planner) SemanticSearch(ctx context.Context, q string, opts SemanticSearchOptions) ([]SearchResult, *SemanticSearchError, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 20
	}

	indexed, err := p.vector.ListIndexed(ctx)
	if err != nil {
		return nil, nil, err
	}

	if len(opts.Sources) == 0 {
		if len(indexed) == 0 && !p.anyIndexing() {
			return nil, &SemanticSearchError{Error: "not_indexed", Sources: []string{}}, nil
		}
	} else {
		indexedSet := make(map[string]bool, len(indexed))
		for _, s := range indexed {
			indexedSet[s] = true
		}
		var indexing, notIndexed []string
		for _, s := range opts.Sources {
			if indexedSet[s] {
				continue
			}
			if p.status != nil && p.status.Status(s) == index.StatusIndexing {
				indexing = append(indexing, s)
			} else {
				notIndexed = append(notIndexed, s)
			}
		}
		if len(indexing) > 0 {
			return nil, &SemanticSearchError{Error: "indexing", Sources: indexing}, nil
		}
		if len(notIndexed) > 0 {
			return nil, &SemanticSearchError{Error: "not_indexed", Sources: notIndexed}, nil
		}
	}

	vec, err := embed.EmbedQuery(ctx, p.embedder, q)
	if err != nil {
		return nil, nil, err
	}

	rows, err := p.vector.Scan(ctx, vec, topK, opts.Sources)
	if err != nil {
		return nil, nil, err
	}

	out := make([]SearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, SearchResult{
			Source:     r.SourceName,
			File:       r.File,
			Identifier: r.Identifier,
			Kind:       r.Kind,
			StartLine:  r.StartLine,
			EndLine:    r.EndLine,
			Content:    r.Content,
			Score:      r.Score,
		})
	}
	return out, nil, nil
}

func (p *Planner) anyIndexing() bool {
	if p.status == nil {
		return false
	}
	for _, name := range p.allNames() {
		s := p.status.Status(name)
		if s == index.StatusIndexing || s == index.StatusQueued {
			return true
		}
	}
	return false
}
