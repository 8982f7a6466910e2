// Package vector provides nearest-neighbour indexes over cached embeddings.
package vector

import "context"

// Index stores vectors by ID and answers top-k similarity queries. Adding an ID that is
// already present replaces its vector.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Type() IndexType
	Close() error
}

// Result is a single search hit. ID is the cache hash of the matching text.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"` // cosine similarity
}
