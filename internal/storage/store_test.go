package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.4028235e38}
	b := EncodeVector(in)
	require.Len(t, b, 16)
	out, err := DecodeVector(b)
	require.NoError(t, err)
	require.Equal(t, Vector(in), out)

	empty := EncodeVector(nil)
	require.NotNil(t, empty)
	require.Len(t, empty, 0)

	_, err = DecodeVector([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestStore_UpsertGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	e := Entry{Hash: "h1", Embedding: Vector{1, 2, 3}, CreatedAt: 100, LastAccessedAt: 100}
	evicted, err := s.Upsert(ctx, e, 0, 10)
	require.NoError(t, err)
	require.Zero(t, evicted)

	got, err := s.Get(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, e, *got)

	e.Embedding = Vector{9}
	e.CreatedAt, e.LastAccessedAt = 200, 200
	_, err = s.Upsert(ctx, e, 0, 10)
	require.NoError(t, err)
	got, err = s.Get(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, Vector{9}, got.Embedding)
	require.Equal(t, int64(200), got.CreatedAt)

	n, err := s.CountLive(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestStore_EmptyVector(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, Entry{Hash: "e", Embedding: Vector{}, CreatedAt: 1, LastAccessedAt: 1}, 0, 0)
	require.NoError(t, err)
	got, err := s.Get(ctx, "e")
	require.NoError(t, err)
	require.NotNil(t, got.Embedding)
	require.Len(t, got.Embedding, 0)
}

func TestStore_Touch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, Entry{Hash: "a", Embedding: Vector{1}, CreatedAt: 10, LastAccessedAt: 10}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.Touch(ctx, "a", 50))
	require.NoError(t, s.Touch(ctx, "nope", 50))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(50), got.LastAccessedAt)
	require.Equal(t, int64(10), got.CreatedAt)
}

func TestStore_CapacityEvictsLeastRecentlyAccessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, h := range []string{"a", "b", "c"} {
		ts := int64(100 + i)
		_, err := s.Upsert(ctx, Entry{Hash: h, Embedding: Vector{1}, CreatedAt: ts, LastAccessedAt: ts}, 0, 3)
		require.NoError(t, err)
	}
	// "a" is the oldest insert but was read most recently.
	require.NoError(t, s.Touch(ctx, "a", 500))

	evicted, err := s.Upsert(ctx, Entry{Hash: "d", Embedding: Vector{1}, CreatedAt: 200, LastAccessedAt: 200}, 0, 3)
	require.NoError(t, err)
	require.Equal(t, int64(1), evicted)

	_, err = s.Get(ctx, "b")
	require.ErrorIs(t, err, ErrNotFound)
	for _, h := range []string{"a", "c", "d"} {
		_, err := s.Get(ctx, h)
		require.NoError(t, err, h)
	}
}

func TestStore_CapacityIgnoresAndPurgesExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	// Two expired rows (created before liveSince=100) and two live rows.
	for _, e := range []Entry{
		{Hash: "old1", Embedding: Vector{1}, CreatedAt: 1, LastAccessedAt: 1},
		{Hash: "old2", Embedding: Vector{1}, CreatedAt: 2, LastAccessedAt: 2},
		{Hash: "new1", Embedding: Vector{1}, CreatedAt: 150, LastAccessedAt: 150},
	} {
		_, err := s.Upsert(ctx, e, 100, 2)
		require.NoError(t, err)
	}
	// Live count is 1, so the expired rows survived until capacity was exceeded.
	_, err := s.Get(ctx, "old1")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, Entry{Hash: "new2", Embedding: Vector{1}, CreatedAt: 160, LastAccessedAt: 160}, 100, 2)
	require.NoError(t, err)
	n, err := s.CountLive(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(4), n, "two live rows at max size two: nothing evicted")

	evicted, err := s.Upsert(ctx, Entry{Hash: "new3", Embedding: Vector{1}, CreatedAt: 170, LastAccessedAt: 170}, 100, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), evicted)
	n, err = s.CountLive(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), n, "expired rows purged and one live row evicted")
	_, err = s.Get(ctx, "new1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LiveQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, e := range []Entry{
		{Hash: "c", Embedding: Vector{1, 2}, CreatedAt: 300, LastAccessedAt: 300},
		{Hash: "a", Embedding: Vector{1}, CreatedAt: 200, LastAccessedAt: 200},
		{Hash: "b", Embedding: Vector{1, 2, 3}, CreatedAt: 50, LastAccessedAt: 50},
	} {
		_, err := s.Upsert(ctx, e, 0, 0)
		require.NoError(t, err)
	}

	n, err := s.CountLive(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	bytes, err := s.BytesLive(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, int64(12), bytes)

	entries, err := s.ListLive(ctx, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Hash)
	require.Equal(t, "c", entries[1].Hash)

	ok, err := s.Exists(ctx, "b", 100)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.Exists(ctx, "b", 0)
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := s.DeleteCreatedBefore(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	removed, err = s.DeleteAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	bytes, err = s.BytesLive(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, bytes)
}

func TestStore_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	_, err = a.Upsert(ctx, Entry{Hash: "x", Embedding: Vector{4, 2}, CreatedAt: 1, LastAccessedAt: 1}, 0, 0)
	require.NoError(t, err)
	got, err := b.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, Vector{4, 2}, got.Embedding)

	size, err := a.DiskBytes()
	require.NoError(t, err)
	require.Greater(t, size, int64(0))
	require.Equal(t, path, a.Path())
}
