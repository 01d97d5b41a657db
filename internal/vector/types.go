// Package vector defines the core data model shared by the storage,
// cache, index, and search layers: collections, vector entries, and the
// similarity math that ranks them.
package vector

import "time"

// Entry is a single stored text/vector pair. Entries are immutable once
// committed; an update is modeled as a delete followed by an insert.
type Entry struct {
	ID         int64
	Collection string
	Vector     []float64
	Text       string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Collection is a named partition of entries sharing one fixed
// dimensionality.
type Collection struct {
	Name      string
	Dimension int
	CreatedAt time.Time
}

// MatchesFilters reports whether the entry's metadata contains every
// key/value pair in filters. An empty filter set matches everything.
func (e *Entry) MatchesFilters(filters map[string]string) bool {
	if len(filters) == 0 {
		return true
	}
	for k, v := range filters {
		if e.Metadata[k] != v {
			return false
		}
	}
	return true
}
