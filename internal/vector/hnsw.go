package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex is an approximate nearest-neighbour index backed by a coder/hnsw graph using
// cosine distance. The graph has no iteration API, so vectors are also kept in a map for
// snapshots.
type HNSWIndex struct {
	dimensions int
	graph      *hnsw.Graph[string]
	vectors    map[string][]float32
	mu         sync.RWMutex
}

// NewHNSWIndex creates an empty HNSW index with the given dimension.
func NewHNSWIndex(dimensions int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &HNSWIndex{
		dimensions: dimensions,
		graph:      newGraph(),
		vectors:    make(map[string][]float32),
	}, nil
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	return g
}

// Type returns IndexTypeHNSW.
func (h *HNSWIndex) Type() IndexType {
	return IndexTypeHNSW
}

// Add inserts or replaces vectors with the given IDs.
func (h *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if err := checkDims(vectors, h.dimensions); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	nodes := make([]hnsw.Node[string], 0, len(ids))
	for i, id := range ids {
		vec := make([]float32, h.dimensions)
		copy(vec, vectors[i])
		if _, ok := h.vectors[id]; ok {
			h.graph.Delete(id)
		}
		h.vectors[id] = vec
		nodes = append(nodes, hnsw.MakeNode(id, vec))
	}
	if len(nodes) > 0 {
		h.graph.Add(nodes...)
	}
	return nil
}

// Search returns up to k approximate nearest vectors by cosine similarity, best first.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != h.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), h.dimensions)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k <= 0 || h.graph.Len() == 0 {
		return nil, nil
	}
	neighbors := h.graph.Search(query, k)
	results := make([]*Result, 0, len(neighbors))
	for _, n := range neighbors {
		results = append(results, &Result{ID: n.Key, Score: CosineSimilarity(query, n.Value)})
	}
	sortResults(results)
	return results, nil
}

// Remove deletes vectors by ID. Unknown IDs are ignored.
func (h *HNSWIndex) Remove(ctx context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		if _, ok := h.vectors[id]; !ok {
			continue
		}
		h.graph.Delete(id)
		delete(h.vectors, id)
	}
	return nil
}

// Save writes a snapshot to path in the same format as MemoryIndex.
func (h *HNSWIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.vectors))
	for id := range h.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	vectors := make([][]float32, len(ids))
	for i, id := range ids {
		vectors[i] = h.vectors[id]
	}
	return writeSnapshot(path, h.dimensions, ids, vectors)
}

// Load rebuilds the graph from the snapshot at path. A missing file leaves the index unchanged.
func (h *HNSWIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	ids, vectors, ok, err := readSnapshot(path, h.dimensions)
	if err != nil || !ok {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = newGraph()
	h.vectors = make(map[string][]float32, len(ids))
	nodes := make([]hnsw.Node[string], len(ids))
	for i, id := range ids {
		h.vectors[id] = vectors[i]
		nodes[i] = hnsw.MakeNode(id, vectors[i])
	}
	if len(nodes) > 0 {
		h.graph.Add(nodes...)
	}
	return nil
}

// Size returns the number of vectors in the index.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}

// Close releases the graph.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = newGraph()
	h.vectors = make(map[string][]float32)
	return nil
}
