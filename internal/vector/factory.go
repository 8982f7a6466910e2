package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory is exact brute-force search. Good for the default cache size (10k vectors).
	IndexTypeMemory IndexType = "memory"
	// IndexTypeHNSW is approximate search over an HNSW graph. Good for larger caches.
	IndexTypeHNSW IndexType = "hnsw"
)

// NewIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "hnsw".
func NewIndex(indexType string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeHNSW:
		return NewHNSWIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, hnsw)", indexType)
	}
}
