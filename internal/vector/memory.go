package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an exact brute-force index scored by cosine similarity.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	pos        map[string]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		pos:        make(map[string]int),
	}, nil
}

// Type returns IndexTypeMemory.
func (m *MemoryIndex) Type() IndexType {
	return IndexTypeMemory
}

// Add inserts or replaces vectors with the given IDs.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if err := checkDims(vectors, m.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		if p, ok := m.pos[id]; ok {
			m.vectors[p] = vec
			continue
		}
		m.pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the top-k vectors by cosine similarity, best first. Ties break by ID.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	results := make([]*Result, len(m.ids))
	for i, vec := range m.vectors {
		results[i] = &Result{ID: m.ids[i], Score: CosineSimilarity(query, vec)}
	}
	sortResults(results)
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func sortResults(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// Remove deletes vectors by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		p, ok := m.pos[id]
		if !ok {
			continue
		}
		last := len(m.ids) - 1
		m.ids[p], m.vectors[p] = m.ids[last], m.vectors[last]
		m.pos[m.ids[p]] = p
		m.ids, m.vectors = m.ids[:last], m.vectors[:last]
		delete(m.pos, id)
	}
	return nil
}

// Save writes a snapshot to path. Directory is created if needed. An empty path is a no-op.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return writeSnapshot(path, m.dimensions, m.ids, m.vectors)
}

// Load replaces the contents with the snapshot at path. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	ids, vectors, ok, err := readSnapshot(path, m.dimensions)
	if err != nil || !ok {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids, m.vectors = ids, vectors
	m.pos = make(map[string]int, len(ids))
	for i, id := range ids {
		m.pos[id] = i
	}
	return nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
