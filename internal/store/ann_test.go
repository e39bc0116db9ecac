package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestANNIndex_AddAndSearch(t *testing.T) {
	idx := newANNIndex(DefaultVectorStoreConfig(4))

	require.NoError(t, idx.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0, 0}))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestANNIndex_AddRejectsWrongDimensions(t *testing.T) {
	idx := newANNIndex(DefaultVectorStoreConfig(4))
	err := idx.Add(1, []float32{1, 0})
	assert.Error(t, err)
}

func TestANNIndex_DeleteIsLazy(t *testing.T) {
	idx := newANNIndex(DefaultVectorStoreConfig(4))
	require.NoError(t, idx.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0, 0}))

	idx.Delete(1)

	stats := idx.Stats()
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)

	results, err := idx.Search([]float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, int64(1), r.ID)
	}
}

func TestANNIndex_SearchAppliesKeepFilter(t *testing.T) {
	idx := newANNIndex(DefaultVectorStoreConfig(4))
	require.NoError(t, idx.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{1, 0, 0, 0}))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 2, func(id int64) bool { return id == 2 })
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, int64(2), r.ID)
	}
}

func TestANNIndex_SaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/vectors.hnsw"

	idx := newANNIndex(DefaultVectorStoreConfig(4))
	require.NoError(t, idx.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Save(path))

	loaded := newANNIndex(DefaultVectorStoreConfig(4))
	require.NoError(t, loaded.Load(path))

	results, err := loaded.Search([]float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestDistanceToScore_CosineAndL2(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToScore(0, "cos"), 0.0001)
	assert.InDelta(t, -1.0, distanceToScore(2, "cos"), 0.0001)
	assert.InDelta(t, 1.0, distanceToScore(0, "l2"), 0.0001)
}
