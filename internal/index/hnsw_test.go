package index

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecstash/internal/vector"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 16, cfg.M)
	assert.Equal(t, 200, cfg.EfConstruction)
	assert.Equal(t, 50, cfg.EfSearch)
	assert.Greater(t, cfg.LevelMult, 0.0)
}

func TestEmptyIndex(t *testing.T) {
	ix := New(Config{})
	assert.Equal(t, 0, ix.Len())
	assert.Nil(t, ix.Search([]float64{1, 0}, 5))
}

func TestAddAndSearchExactNeighbor(t *testing.T) {
	ix := New(Config{})
	ix.Add(1, []float64{1, 0, 0})
	ix.Add(2, []float64{0, 1, 0})
	ix.Add(3, []float64{0.9, 0.1, 0})

	got := ix.Search([]float64{1, 0, 0}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.InDelta(t, 0.0, got[0].Distance, 1e-12)
	assert.Equal(t, int64(3), got[1].ID)
}

func TestDuplicateAddIgnored(t *testing.T) {
	ix := New(Config{})
	ix.Add(7, []float64{1, 0})
	ix.Add(7, []float64{0, 1})
	assert.Equal(t, 1, ix.Len())
}

func TestSearchOrderedByDistance(t *testing.T) {
	ix := New(Config{})
	rng := rand.New(rand.NewSource(1))
	for i := int64(0); i < 50; i++ {
		v := []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		ix.Add(i, v)
	}

	got := ix.Search([]float64{0.5, 0.5, 0.5}, 10)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 10)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Distance, got[i-1].Distance)
	}
}

// Recall against brute force on a small clustered dataset. With ef well
// above the collection size the graph search is effectively exhaustive.
func TestRecallSmallDataset(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	const n = 200
	const dim = 8
	const k = 10

	vecs := make([][]float64, n)
	ix := New(Config{EfSearch: 256})
	for i := range vecs {
		v := make([]float64, dim)
		for j := range v {
			v[j] = rng.NormFloat64()
		}
		vecs[i] = v
		ix.Add(int64(i), v)
	}

	query := make([]float64, dim)
	for j := range query {
		query[j] = rng.NormFloat64()
	}

	// Brute-force top-k.
	type scored struct {
		id   int64
		dist float64
	}
	all := make([]scored, n)
	for i, v := range vecs {
		all[i] = scored{id: int64(i), dist: vector.CosineDistance(query, v)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	want := make(map[int64]bool, k)
	for _, s := range all[:k] {
		want[s.id] = true
	}

	got := ix.Search(query, k)
	require.Len(t, got, k)

	hits := 0
	for _, c := range got {
		if want[c.ID] {
			hits++
		}
	}
	// Allow a small miss margin; candidates are re-ranked exactly by the
	// search coordinator anyway.
	assert.GreaterOrEqual(t, hits, k-2, "recall too low: %d/%d", hits, k)
}

func TestIncrementalAddVisible(t *testing.T) {
	ix := New(Config{})
	for i := int64(0); i < 20; i++ {
		ix.Add(i, []float64{float64(i), 1})
	}
	ix.Add(100, []float64{1, 0})

	got := ix.Search([]float64{1, 0}, 3)
	require.NotEmpty(t, got)
	found := false
	for _, c := range got {
		if c.ID == 100 {
			found = true
		}
	}
	assert.True(t, found, "incrementally added vector should be reachable")
}
