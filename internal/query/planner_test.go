package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensrc-dev/opensrc/internal/fsaccess"
	"github.com/opensrc-dev/opensrc/internal/index"
	"github.com/opensrc-dev/opensrc/internal/store"
)

type fakeResolver struct{ roots map[string]string }

func (r *fakeResolver) ResolvePath(name string) (string, error) {
	root, ok := r.roots[name]
	if !ok {
		return "", fmt.Errorf("source not found: %s", name)
	}
	return root, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.vec != nil {
		return f.vec, nil
	}
	return []float32{1, 0, 0}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int                    { return 3 }
func (f *fakeEmbedder) ModelName() string                  { return "fake" }
func (f *fakeEmbedder) Available(ctx context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                       { return nil }

type fakeVectorStore struct {
	indexed []string
	results []store.ScanResult
	scanErr error
}

func (v *fakeVectorStore) Scan(ctx context.Context, queryVec []float32, topK int, sourceFilter []string) ([]store.ScanResult, error) {
	if v.scanErr != nil {
		return nil, v.scanErr
	}
	return v.results, nil
}

func (v *fakeVectorStore) ListIndexed(ctx context.Context) ([]string, error) {
	return v.indexed, nil
}

type fakeStatus struct {
	statuses map[string]index.Status
}

func (s *fakeStatus) Status(source string) index.Status {
	if st, ok := s.statuses[source]; ok {
		return st
	}
	return index.Status("")
}

func TestSemanticSearch_NotIndexed_WhenNothingIndexedOrQueued(t *testing.T) {
	vec := &fakeVectorStore{indexed: nil}
	status := &fakeStatus{statuses: map[string]index.Status{}}
	p := New(nil, &fakeEmbedder{}, vec, status, func() []string { return []string{} })

	results, serr, err := p.SemanticSearch(context.Background(), "how is auth handled", SemanticSearchOptions{})
	require.NoError(t, err)
	require.Nil(t, results)
	require.NotNil(t, serr)
	assert.Equal(t, "not_indexed", serr.Error)
}

func TestSemanticSearch_Indexing_WhenRequestedSourceIsMidIndex(t *testing.T) {
	vec := &fakeVectorStore{indexed: []string{"other"}}
	status := &fakeStatus{statuses: map[string]index.Status{"demo": index.StatusIndexing}}
	p := New(nil, &fakeEmbedder{}, vec, status, func() []string { return []string{"demo", "other"} })

	results, serr, err := p.SemanticSearch(context.Background(), "q", SemanticSearchOptions{Sources: []string{"demo"}})
	require.NoError(t, err)
	require.Nil(t, results)
	require.NotNil(t, serr)
	assert.Equal(t, "indexing", serr.Error)
	assert.Equal(t, []string{"demo"}, serr.Sources)
}

func TestSemanticSearch_NotIndexed_WhenRequestedSourceNeverQueued(t *testing.T) {
	vec := &fakeVectorStore{indexed: []string{"other"}}
	status := &fakeStatus{statuses: map[string]index.Status{}}
	p := New(nil, &fakeEmbedder{}, vec, status, func() []string { return []string{"demo", "other"} })

	results, serr, err := p.SemanticSearch(context.Background(), "q", SemanticSearchOptions{Sources: []string{"demo"}})
	require.NoError(t, err)
	require.Nil(t, results)
	require.NotNil(t, serr)
	assert.Equal(t, "not_indexed", serr.Error)
	assert.Equal(t, []string{"demo"}, serr.Sources)
}

func TestSemanticSearch_Success_ReturnsScannedResults(t *testing.T) {
	vec := &fakeVectorStore{
		indexed: []string{"demo"},
		results: []store.ScanResult{
			{
				Chunk: store.Chunk{
					SourceName: "demo",
					File:       "src/auth.ts",
					Identifier: "login",
					Kind:       "function",
					StartLine:  10,
					EndLine:    20,
					Content:    "function login() {}",
				},
				Score: 0.9,
			},
		},
	}
	status := &fakeStatus{statuses: map[string]index.Status{"demo": index.StatusIndexed}}
	p := New(nil, &fakeEmbedder{}, vec, status, func() []string { return []string{"demo"} })

	results, serr, err := p.SemanticSearch(context.Background(), "how is login handled", SemanticSearchOptions{Sources: []string{"demo"}})
	require.NoError(t, err)
	require.Nil(t, serr)
	require.Len(t, results, 1)
	assert.Equal(t, "demo", results[0].Source)
	assert.Equal(t, "login", results[0].Identifier)
	assert.Equal(t, float32(0.9), results[0].Score)
}

func TestGrep_DelegatesToFileAccess(t *testing.T) {
	fa := fsaccess.New(&fakeResolver{roots: map[string]string{"demo": t.TempDir()}})
	p := New(fa, &fakeEmbedder{}, &fakeVectorStore{}, &fakeStatus{}, func() []string { return []string{"demo"} })

	results, err := p.Grep("nonexistent-pattern-xyz", GrepOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
