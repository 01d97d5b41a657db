package engine

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecstash/internal/store"
	"vecstash/internal/vector"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, log.New(io.Discard), cfg)
}

func TestSearchKnownSimilarities(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()

	_, err := e.Insert(ctx, "docs", []float64{1, 0, 0}, "a", nil)
	require.NoError(t, err)
	_, err = e.Insert(ctx, "docs", []float64{0, 1, 0}, "b", nil)
	require.NoError(t, err)
	_, err = e.Insert(ctx, "docs", []float64{0.9, 0.1, 0}, "c", nil)
	require.NoError(t, err)

	got, err := e.Search(ctx, "docs", []float64{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].Entry.ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-12)

	assert.Equal(t, int64(3), got[1].Entry.ID)
	assert.InDelta(t, 0.9/0.9055385138137417, got[1].Similarity, 1e-9)
}

func TestSearchEmptyCollection(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()

	require.NoError(t, e.Store().CreateCollection(ctx, "docs", 3))
	got, err := e.Search(ctx, "docs", []float64{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchUnknownCollection(t *testing.T) {
	e := newTestEngine(t, Config{})
	_, err := e.Search(context.Background(), "nope", []float64{1}, 5, nil)
	assert.ErrorIs(t, err, vector.ErrCollectionNotFound)
}

func TestSearchDimensionMismatch(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()

	_, err := e.Insert(ctx, "docs", []float64{1, 0, 0}, "a", nil)
	require.NoError(t, err)

	_, err = e.Search(ctx, "docs", []float64{1, 0}, 5, nil)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	// An empty query is just another wrong dimension.
	_, err = e.Search(ctx, "docs", nil, 5, nil)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestSearchFilters(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()

	_, err := e.Insert(ctx, "docs", []float64{1, 0}, "a", map[string]string{"lang": "en"})
	require.NoError(t, err)
	_, err = e.Insert(ctx, "docs", []float64{1, 0.01}, "b", map[string]string{"lang": "de"})
	require.NoError(t, err)

	got, err := e.Search(ctx, "docs", []float64{1, 0}, 5, map[string]string{"lang": "de"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Entry.Text)
}

func TestDeleteExcludedFromSearch(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()

	a, err := e.Insert(ctx, "docs", []float64{1, 0}, "a", nil)
	require.NoError(t, err)
	_, err = e.Insert(ctx, "docs", []float64{0.9, 0.1}, "b", nil)
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, "docs", a.ID))

	got, err := e.Search(ctx, "docs", []float64{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Entry.Text)
}

// Delete must stay excluded through the index path too: build the
// graph, delete, and let the dirty flag force a rebuild on the next
// search.
func TestDeleteExcludedAfterIndexRebuild(t *testing.T) {
	e := newTestEngine(t, Config{ExactThreshold: 1})
	ctx := context.Background()

	target, err := e.Insert(ctx, "docs", []float64{1, 0}, "target", nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := e.Insert(ctx, "docs", []float64{0.5, float64(i)}, "other", nil)
		require.NoError(t, err)
	}

	// First search builds the graph with the target still present.
	got, err := e.Search(ctx, "docs", []float64{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, target.ID, got[0].Entry.ID)

	require.NoError(t, e.Delete(ctx, "docs", target.ID))

	got, err = e.Search(ctx, "docs", []float64{1, 0}, 11, nil)
	require.NoError(t, err)
	for _, r := range got {
		assert.NotEqual(t, target.ID, r.Entry.ID, "deleted entry surfaced after rebuild")
	}
}

// A rebuild warming the cache while a delete is in flight must not
// leave the deleted entry readable. The state lock here stands in for
// the rebuild's critical section: the Put lands inside it, the delete's
// eviction is ordered after it.
func TestDeleteEvictsCacheWarmedDuringRebuild(t *testing.T) {
	e := newTestEngine(t, Config{ExactThreshold: 1})
	ctx := context.Background()

	entry, err := e.Insert(ctx, "docs", []float64{1, 0}, "a", nil)
	require.NoError(t, err)

	st := e.state("docs")
	st.mu.Lock()

	done := make(chan error, 1)
	go func() { done <- e.Delete(ctx, "docs", entry.ID) }()

	// Give the delete time to hit the store and block on the state lock,
	// then warm the cache the way a rebuild scan would.
	time.Sleep(20 * time.Millisecond)
	e.cache.Put(entry)
	st.mu.Unlock()

	require.NoError(t, <-done)

	_, err = e.Get(ctx, "docs", entry.ID)
	assert.ErrorIs(t, err, vector.ErrNotFound, "cache returned a deleted entry")
}

func TestDeleteNotFoundPassesThrough(t *testing.T) {
	e := newTestEngine(t, Config{})
	err := e.Delete(context.Background(), "docs", 99)
	assert.ErrorIs(t, err, vector.ErrNotFound)
}

// With the exact threshold forced to 1, every search goes through the
// index path. Results must match an exact scan of the same data.
func TestIndexedSearchMatchesExact(t *testing.T) {
	indexed := newTestEngine(t, Config{ExactThreshold: 1})
	exact := newTestEngine(t, Config{ExactThreshold: 1 << 30})
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	const n = 150
	const dim = 6
	for i := 0; i < n; i++ {
		v := make([]float64, dim)
		for j := range v {
			v[j] = rng.NormFloat64()
		}
		text := fmt.Sprintf("entry-%d", i)
		_, err := indexed.Insert(ctx, "docs", v, text, nil)
		require.NoError(t, err)
		_, err = exact.Insert(ctx, "docs", v, text, nil)
		require.NoError(t, err)
	}

	query := make([]float64, dim)
	for j := range query {
		query[j] = rng.NormFloat64()
	}

	const k = 5
	wantRes, err := exact.Search(ctx, "docs", query, k, nil)
	require.NoError(t, err)
	gotRes, err := indexed.Search(ctx, "docs", query, k, nil)
	require.NoError(t, err)

	require.Len(t, gotRes, k)
	require.Len(t, wantRes, k)
	// Ordering invariants hold regardless of which path produced them.
	for i := 1; i < len(gotRes); i++ {
		assert.GreaterOrEqual(t, gotRes[i-1].Similarity, gotRes[i].Similarity)
	}
	// Approximate recall against the exact answer.
	want := make(map[int64]bool, k)
	for _, r := range wantRes {
		want[r.Entry.ID] = true
	}
	hits := 0
	for _, r := range gotRes {
		if want[r.Entry.ID] {
			hits++
		}
	}
	assert.GreaterOrEqual(t, hits, k-1, "indexed search diverged from exact scan: %d/%d", hits, k)
}

func TestInsertAfterIndexBuildIsVisible(t *testing.T) {
	e := newTestEngine(t, Config{ExactThreshold: 1})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := e.Insert(ctx, "docs", []float64{float64(i), 1}, "old", nil)
		require.NoError(t, err)
	}

	// Force an index build, then insert a near-perfect match.
	_, err := e.Search(ctx, "docs", []float64{1, 0}, 3, nil)
	require.NoError(t, err)

	fresh, err := e.Insert(ctx, "docs", []float64{1, 0}, "fresh", nil)
	require.NoError(t, err)

	got, err := e.Search(ctx, "docs", []float64{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].Entry.ID)
}

func TestDropCollectionClearsState(t *testing.T) {
	e := newTestEngine(t, Config{ExactThreshold: 1})
	ctx := context.Background()

	_, err := e.Insert(ctx, "docs", []float64{1, 0}, "a", nil)
	require.NoError(t, err)
	_, err = e.Search(ctx, "docs", []float64{1, 0}, 1, nil)
	require.NoError(t, err)

	require.NoError(t, e.Drop(ctx, "docs"))

	_, err = e.Search(ctx, "docs", []float64{1, 0}, 1, nil)
	assert.ErrorIs(t, err, vector.ErrCollectionNotFound)

	// Recreating the collection starts over cleanly.
	_, err = e.Insert(ctx, "docs", []float64{0, 1}, "b", nil)
	require.NoError(t, err)
	got, err := e.Search(ctx, "docs", []float64{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Entry.Text)
}

func TestGetLoadsThroughCache(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()

	in, err := e.Insert(ctx, "docs", []float64{1, 2}, "hello", nil)
	require.NoError(t, err)

	got, err := e.Get(ctx, "docs", in.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)

	_, err = e.Get(ctx, "docs", 999)
	assert.ErrorIs(t, err, vector.ErrNotFound)
}
