// Package engine coordinates searches and writes across the durable
// store, the hot-entry cache, and per-collection ANN indexes. It is the
// single entry point callers use; the packages underneath never talk to
// each other directly.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"vecstash/internal/cache"
	"vecstash/internal/index"
	"vecstash/internal/store"
	"vecstash/internal/vector"
)

// Config tunes search behavior.
type Config struct {
	// ExactThreshold is the collection size below which searches skip the
	// ANN index and scan exactly. Default 100.
	ExactThreshold int

	// Index holds the ANN graph parameters used for index builds.
	Index index.Config
}

func (c Config) withDefaults() Config {
	if c.ExactThreshold <= 0 {
		c.ExactThreshold = 100
	}
	return c
}

// Result is one search hit: the full entry plus its exact cosine
// similarity to the query.
type Result struct {
	Entry      *vector.Entry
	Similarity float64
}

// indexState tracks one collection's ANN graph. A dirty graph is never
// searched; the next search rebuilds it from the store.
type indexState struct {
	mu    sync.RWMutex
	graph *index.Index
	dirty bool
}

// Engine is the search coordinator.
type Engine struct {
	store  *store.Store
	cache  *cache.Cache
	logger *log.Logger
	cfg    Config

	mu     sync.Mutex
	states map[string]*indexState
}

// New wires an engine over an opened store.
func New(st *store.Store, logger *log.Logger, cfg Config) *Engine {
	return &Engine{
		store:  st,
		cache:  cache.New(),
		logger: logger,
		cfg:    cfg.withDefaults(),
		states: make(map[string]*indexState),
	}
}

// Store exposes the underlying store for collection administration.
func (e *Engine) Store() *store.Store {
	return e.store
}

func (e *Engine) state(collection string) *indexState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[collection]
	if !ok {
		st = &indexState{dirty: true}
		e.states[collection] = st
	}
	return st
}

// Insert persists one entry and makes it immediately visible: the entry
// is cached and, when the collection's index is fresh, added to the
// graph incrementally.
func (e *Engine) Insert(ctx context.Context, collection string, vec []float64, text string, metadata map[string]string) (*vector.Entry, error) {
	entries, err := e.InsertBatch(ctx, collection, []store.BatchEntry{{Vector: vec, Text: text, Metadata: metadata}})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// InsertBatch persists a batch atomically and folds the new entries into
// the cache and a fresh index.
func (e *Engine) InsertBatch(ctx context.Context, collection string, batch []store.BatchEntry) ([]*vector.Entry, error) {
	entries, err := e.store.InsertBatch(ctx, collection, batch)
	if err != nil {
		return nil, err
	}

	st := e.state(collection)
	st.mu.Lock()
	for _, entry := range entries {
		e.cache.Put(entry)
		if st.graph != nil && !st.dirty {
			st.graph.Add(entry.ID, entry.Vector)
		}
	}
	st.mu.Unlock()

	e.logger.Debug("inserted entries", "collection", collection, "count", len(entries))
	return entries, nil
}

// Get returns one entry, loading through the cache.
func (e *Engine) Get(ctx context.Context, collection string, id int64) (*vector.Entry, error) {
	return e.cache.GetOrLoad(ctx, collection, id, func(ctx context.Context) (*vector.Entry, error) {
		return e.store.Get(ctx, collection, id)
	})
}

// Delete removes an entry. The cached copy is evicted before Delete
// returns; the collection's index is marked dirty and rebuilt lazily on
// the next search.
func (e *Engine) Delete(ctx context.Context, collection string, id int64) error {
	if err := e.store.Delete(ctx, collection, id); err != nil {
		return err
	}

	// Eviction happens under the index-state lock so it is ordered after
	// the cache warm-up of any in-flight rebuild; otherwise a rebuild's
	// Put could resurrect the entry after this invalidation.
	st := e.state(collection)
	st.mu.Lock()
	st.dirty = true
	e.cache.Invalidate(collection, id)
	st.mu.Unlock()

	e.logger.Debug("deleted entry", "collection", collection, "id", id)
	return nil
}

// Drop removes a collection, its entries, its cached copies, and its
// index state.
func (e *Engine) Drop(ctx context.Context, collection string) error {
	if err := e.store.DropCollection(ctx, collection); err != nil {
		return err
	}

	// Same ordering as Delete: evict under the index-state lock so an
	// in-flight rebuild cannot re-populate the cache afterwards.
	st := e.state(collection)
	st.mu.Lock()
	st.dirty = true
	e.cache.InvalidateCollection(collection)
	st.mu.Unlock()

	e.mu.Lock()
	delete(e.states, collection)
	e.mu.Unlock()

	e.logger.Info("dropped collection", "collection", collection)
	return nil
}

// Search returns up to k entries most similar to the query, ordered by
// descending cosine similarity with ascending id breaking ties. Small
// collections are scanned exactly; larger ones go through the ANN index
// with exact re-ranking of the candidates. Index build failures degrade
// to an exact scan rather than failing the search.
func (e *Engine) Search(ctx context.Context, collection string, query []float64, k int, filters map[string]string) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	col, err := e.store.GetCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != col.Dimension {
		return nil, fmt.Errorf("%w: collection %q expects dimension %d, got %d",
			vector.ErrDimensionMismatch, collection, col.Dimension, len(query))
	}

	count, err := e.store.Count(ctx, collection)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	if count < e.cfg.ExactThreshold {
		return e.exactSearch(ctx, collection, query, k, filters)
	}

	graph, err := e.freshIndex(ctx, collection)
	if err != nil {
		e.logger.Warn("index build failed, falling back to exact scan",
			"collection", collection, "err", err)
		return e.exactSearch(ctx, collection, query, k, filters)
	}

	// Oversample so exact re-ranking and filtering still fill k.
	candidates := graph.Search(query, k*2)

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		entry, err := e.Get(ctx, collection, c.ID)
		if err != nil {
			// Candidate deleted since the graph was built; skip it.
			e.logger.Debug("stale index candidate", "collection", collection, "id", c.ID)
			continue
		}
		if !entry.MatchesFilters(filters) {
			continue
		}
		results = append(results, Result{
			Entry:      entry,
			Similarity: vector.CosineSimilarity(query, entry.Vector),
		})
	}

	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}

	// The approximate pass can under-fill when filters or staleness eat
	// too many candidates; the exact scan is the authoritative answer.
	if len(results) < k && count >= k {
		return e.exactSearch(ctx, collection, query, k, filters)
	}
	return results, nil
}

// freshIndex returns a non-dirty graph for the collection, rebuilding
// from a full store scan when needed. Entries pass through the cache on
// the way so a rebuild also warms it.
func (e *Engine) freshIndex(ctx context.Context, collection string) (*index.Index, error) {
	st := e.state(collection)

	st.mu.RLock()
	if st.graph != nil && !st.dirty {
		graph := st.graph
		st.mu.RUnlock()
		return graph, nil
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.graph != nil && !st.dirty {
		return st.graph, nil
	}

	e.logger.Debug("rebuilding index", "collection", collection)
	graph := index.New(e.cfg.Index)

	cur, err := e.store.Scan(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrIndexBuild, err)
	}
	defer cur.Close()

	for cur.Next() {
		entry := cur.Entry()
		graph.Add(entry.ID, entry.Vector)
		e.cache.Put(entry)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrIndexBuild, err)
	}

	st.graph = graph
	st.dirty = false
	e.logger.Info("index built", "collection", collection, "entries", graph.Len())
	return graph, nil
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
}
