package vector

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
)

func randomVectors(n, dims int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dims)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func TestHNSWIndex_AddSearch(t *testing.T) {
	idx, err := NewHNSWIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	err = idx.Add(ctx, []string{"a", "b", "c", "d"}, [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
		{0, 0, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 4 {
		t.Errorf("Size=%d", idx.Size())
	}
	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if idx.Type() != IndexTypeHNSW {
		t.Errorf("type = %s", idx.Type())
	}
}

func TestHNSWIndex_AgreesWithMemoryOnTopHit(t *testing.T) {
	ctx := context.Background()
	const dims = 16
	vecs := randomVectors(200, dims, 7)
	ids := make([]string, len(vecs))
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%03d", i)
	}
	mem, _ := NewMemoryIndex(dims)
	hn, _ := NewHNSWIndex(dims)
	if err := mem.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if err := hn.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	// Querying with a stored vector must find that vector first in both.
	for _, i := range []int{0, 50, 199} {
		m, _ := mem.Search(ctx, vecs[i], 1)
		h, _ := hn.Search(ctx, vecs[i], 1)
		if m[0].ID != ids[i] || h[0].ID != ids[i] {
			t.Errorf("query %d: memory=%s hnsw=%s", i, m[0].ID, h[0].ID)
		}
	}
}

func TestHNSWIndex_RemoveAndSaveLoad(t *testing.T) {
	ctx := context.Background()
	idx, _ := NewHNSWIndex(2)
	_ = idx.Add(ctx, []string{"x", "y", "z"}, [][]float32{{1, 0}, {0, 1}, {1, 1}})
	if err := idx.Remove(ctx, []string{"y", "missing"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Fatalf("size %d after remove", idx.Size())
	}

	path := filepath.Join(t.TempDir(), "hnsw.bin")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, _ := NewHNSWIndex(2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("loaded size %d", loaded.Size())
	}
	results, _ := loaded.Search(ctx, []float32{1, 0}, 1)
	if results[0].ID != "x" {
		t.Errorf("got %s, want x", results[0].ID)
	}

	// Snapshots are interchangeable between index types.
	mem, _ := NewMemoryIndex(2)
	if err := mem.Load(path); err != nil {
		t.Fatal(err)
	}
	if mem.Size() != 2 {
		t.Errorf("memory index loaded %d vectors from hnsw snapshot", mem.Size())
	}
}
