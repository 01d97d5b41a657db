package engine

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"vecstash/internal/vector"
)

// exactSearch scores every entry in the collection against the query and
// returns the top k. Scoring is split across workers; the scan itself is
// a single cursor since it holds one pool slot.
func (e *Engine) exactSearch(ctx context.Context, collection string, query []float64, k int, filters map[string]string) ([]Result, error) {
	cur, err := e.store.Scan(ctx, collection)
	if err != nil {
		return nil, err
	}

	var entries []*vector.Entry
	for cur.Next() {
		entry := cur.Entry()
		if entry.MatchesFilters(filters) {
			entries = append(entries, entry)
		}
	}
	scanErr := cur.Err()
	cur.Close()
	if scanErr != nil {
		return nil, scanErr
	}
	if len(entries) == 0 {
		return nil, nil
	}

	scored := make([]Result, len(entries))
	workers := runtime.GOMAXPROCS(0)
	if workers > len(entries) {
		workers = len(entries)
	}

	var g errgroup.Group
	chunk := (len(entries) + workers - 1) / workers
	for start := 0; start < len(entries); start += chunk {
		end := start + chunk
		if end > len(entries) {
			end = len(entries)
		}
		start, end := start, end
		g.Go(func() error {
			for i := start; i < end; i++ {
				scored[i] = Result{
					Entry:      entries[i],
					Similarity: vector.CosineSimilarity(query, entries[i].Vector),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResults(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
