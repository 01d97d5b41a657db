// Package index implements an in-memory Hierarchical Navigable Small
// World graph for approximate nearest-neighbor search over a collection's
// vectors. The graph references entries by id only; the store stays the
// ground truth. Nodes are never removed: deletions dirty the owning
// collection's index state and the next search rebuilds wholesale.
package index

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"vecstash/internal/vector"
)

// Config holds the HNSW construction and query parameters.
type Config struct {
	M              int     // Max connections per node (default 16)
	EfConstruction int     // Construction search depth (default 200)
	EfSearch       int     // Query search depth (default 50)
	LevelMult      float64 // Level multiplier (default 1/ln(M))
}

func (c Config) withDefaults() Config {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
	if c.LevelMult == 0 {
		c.LevelMult = 1.0 / math.Log(float64(c.M))
	}
	return c
}

// Candidate is an approximate nearest-neighbor match. Distance is cosine
// distance; the search coordinator re-ranks candidates by exact
// similarity before results reach a caller.
type Candidate struct {
	ID       int64
	Distance float64
}

type node struct {
	id        int64
	vec       []float64
	level     int
	neighbors [][]uint32 // neighbors[level] = indices into nodes
}

// Index is a navigable small-world graph over one collection.
type Index struct {
	nodes      []node
	idToIndex  map[int64]uint32
	entryPoint int32 // -1 if empty
	maxLevel   int
	cfg        Config
	rng        *rand.Rand
	mu         sync.RWMutex
}

// New creates an empty index.
func New(cfg Config) *Index {
	return &Index{
		idToIndex:  make(map[int64]uint32),
		entryPoint: -1,
		cfg:        cfg.withDefaults(),
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}
}

// Add inserts a single vector. The caller retains ownership of vec; the
// index stores its own copy. Adding an id that is already present is a
// no-op.
func (ix *Index) Add(id int64, vec []float64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.addOne(id, vec)
}

func (ix *Index) addOne(id int64, vec []float64) {
	if _, ok := ix.idToIndex[id]; ok {
		return
	}

	level := ix.randomLevel()
	idx := uint32(len(ix.nodes))

	n := node{
		id:        id,
		vec:       append([]float64(nil), vec...),
		level:     level,
		neighbors: make([][]uint32, level+1),
	}
	for i := range n.neighbors {
		n.neighbors[i] = make([]uint32, 0, ix.cfg.M)
	}

	ix.nodes = append(ix.nodes, n)
	ix.idToIndex[id] = idx

	if ix.entryPoint < 0 {
		ix.entryPoint = int32(idx)
		ix.maxLevel = level
		return
	}

	// Greedy descent from the top layer to the insertion layer.
	curr := uint32(ix.entryPoint)
	for l := ix.maxLevel; l > level; l-- {
		curr = ix.searchLayerOne(vec, curr, l)
	}

	// Connect at each layer from the insertion level down to 0.
	for l := min(level, ix.maxLevel); l >= 0; l-- {
		neighbors := ix.searchLayer(vec, curr, ix.cfg.EfConstruction, l)
		ix.selectAndConnect(idx, neighbors, l)
		if len(neighbors) > 0 {
			curr = neighbors[0]
		}
	}

	if level > ix.maxLevel {
		ix.maxLevel = level
		ix.entryPoint = int32(idx)
	}
}

func (ix *Index) randomLevel() int {
	r := ix.rng.Float64()
	for r == 0 {
		r = ix.rng.Float64()
	}
	return int(-math.Log(r) * ix.cfg.LevelMult)
}

func (ix *Index) searchLayerOne(query []float64, entry uint32, level int) uint32 {
	curr := entry
	currDist := vector.CosineDistance(query, ix.nodes[curr].vec)

	for {
		changed := false
		if level < len(ix.nodes[curr].neighbors) {
			for _, nb := range ix.nodes[curr].neighbors[level] {
				dist := vector.CosineDistance(query, ix.nodes[nb].vec)
				if dist < currDist {
					curr = nb
					currDist = dist
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return curr
}

func (ix *Index) searchLayer(query []float64, entry uint32, ef, level int) []uint32 {
	visited := make(map[uint32]bool)
	candidates := &distHeap{}
	results := &distHeap{}

	dist := vector.CosineDistance(query, ix.nodes[entry].vec)
	candidates.push(distItem{idx: entry, dist: dist})
	results.push(distItem{idx: entry, dist: dist})
	visited[entry] = true

	for candidates.len() > 0 {
		curr := candidates.pop()

		if results.len() >= ef && curr.dist > results.peek().dist {
			break
		}

		if level < len(ix.nodes[curr.idx].neighbors) {
			for _, nb := range ix.nodes[curr.idx].neighbors[level] {
				if visited[nb] {
					continue
				}
				visited[nb] = true

				nDist := vector.CosineDistance(query, ix.nodes[nb].vec)
				if results.len() < ef || nDist < results.peek().dist {
					candidates.push(distItem{idx: nb, dist: nDist})
					results.push(distItem{idx: nb, dist: nDist})
					if results.len() > ef {
						results.popFarthest()
					}
				}
			}
		}
	}

	out := make([]uint32, results.len())
	for i := range out {
		out[i] = results.items[i].idx
	}
	return out
}

func (ix *Index) selectAndConnect(idx uint32, neighbors []uint32, level int) {
	m := ix.cfg.M
	if level == 0 {
		m = ix.cfg.M * 2
	}

	selected := neighbors
	if len(selected) > m {
		selected = selected[:m]
	}

	ix.nodes[idx].neighbors[level] = append(ix.nodes[idx].neighbors[level], selected...)
	for _, nb := range selected {
		if level < len(ix.nodes[nb].neighbors) {
			ix.nodes[nb].neighbors[level] = append(ix.nodes[nb].neighbors[level], idx)
			if len(ix.nodes[nb].neighbors[level]) > m {
				ix.pruneConnections(nb, level, m)
			}
		}
	}
}

func (ix *Index) pruneConnections(idx uint32, level, m int) {
	neighbors := ix.nodes[idx].neighbors[level]
	if len(neighbors) <= m {
		return
	}

	type nd struct {
		n    uint32
		dist float64
	}
	nds := make([]nd, len(neighbors))
	for i, n := range neighbors {
		nds[i] = nd{n: n, dist: vector.CosineDistance(ix.nodes[idx].vec, ix.nodes[n].vec)}
	}
	sort.Slice(nds, func(i, j int) bool { return nds[i].dist < nds[j].dist })

	ix.nodes[idx].neighbors[level] = ix.nodes[idx].neighbors[level][:m]
	for i := 0; i < m; i++ {
		ix.nodes[idx].neighbors[level][i] = nds[i].n
	}
}

// Search returns up to k approximate nearest neighbors to the query,
// ordered by ascending cosine distance.
func (ix *Index) Search(query []float64, k int) []Candidate {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.entryPoint < 0 || k <= 0 {
		return nil
	}

	curr := uint32(ix.entryPoint)
	for l := ix.maxLevel; l > 0; l-- {
		curr = ix.searchLayerOne(query, curr, l)
	}

	neighbors := ix.searchLayer(query, curr, max(ix.cfg.EfSearch, k), 0)

	results := make([]Candidate, 0, len(neighbors))
	for _, idx := range neighbors {
		n := ix.nodes[idx]
		results = append(results, Candidate{
			ID:       n.id,
			Distance: vector.CosineDistance(query, n.vec),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// distItem for the search priority queues.
type distItem struct {
	idx  uint32
	dist float64
}

// distHeap is a simple min-heap keyed on distance.
type distHeap struct {
	items []distItem
}

func (h *distHeap) len() int { return len(h.items) }

func (h *distHeap) push(item distItem) {
	h.items = append(h.items, item)
	i := len(h.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].dist >= h.items[parent].dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *distHeap) pop() distItem {
	item := h.items[0]
	h.items[0] = h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	h.bubbleDown(0)
	return item
}

// peek returns the farthest item tracked so far.
func (h *distHeap) peek() distItem {
	maxIdx := 0
	for i := 1; i < len(h.items); i++ {
		if h.items[i].dist > h.items[maxIdx].dist {
			maxIdx = i
		}
	}
	return h.items[maxIdx]
}

func (h *distHeap) popFarthest() {
	if len(h.items) == 0 {
		return
	}
	maxIdx := 0
	for i := 1; i < len(h.items); i++ {
		if h.items[i].dist > h.items[maxIdx].dist {
			maxIdx = i
		}
	}
	h.items = append(h.items[:maxIdx], h.items[maxIdx+1:]...)
}

func (h *distHeap) bubbleDown(i int) {
	for {
		left := 2*i + 1
		right := 2*i + 2
		smallest := i

		if left < len(h.items) && h.items[left].dist < h.items[smallest].dist {
			smallest = left
		}
		if right < len(h.items) && h.items[right].dist < h.items[smallest].dist {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
