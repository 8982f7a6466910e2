// Package cache is the persistent embedding cache: text is keyed by its SHA-256 digest,
// entries expire after a TTL, and the table is bounded by a least-recently-accessed limit.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appErr "github.com/hyperjump/embedkit/internal/pkg/errors"
	"github.com/hyperjump/embedkit/internal/storage"
	"github.com/hyperjump/embedkit/pkg/utils"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultMaxSize    = 10000
	DefaultDimensions = 384
)

// Options configures a Cache. Zero values take the defaults; a negative Dimensions
// disables the length check on Set.
type Options struct {
	Path       string
	TTL        time.Duration
	MaxSize    int
	Dimensions int
	Logger     *zap.Logger
}

// Stats is a snapshot of cache counters and table size. Counters are per Cache value.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	Size      int64   `json:"size"`
	BytesUsed int64   `json:"bytes_used"`
	DiskBytes int64   `json:"disk_bytes"`
}

// Cache maps text to embeddings in a SQLite file. Safe for concurrent use, and several
// Cache values may share one file.
type Cache struct {
	store      *storage.Store
	ttl        time.Duration
	maxSize    int
	dimensions int
	logger     *zap.Logger
	now        func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Open opens (creating if needed) the cache database at opts.Path.
func Open(opts Options) (*Cache, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: cache path is empty", appErr.ErrInvalidConfig)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Dimensions == 0 {
		opts.Dimensions = DefaultDimensions
	}
	store, err := storage.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", appErr.ErrStorage, err)
	}
	logger := utils.LoggerOrNop(opts.Logger)
	logger.Debug("embedding cache opened",
		zap.String("path", opts.Path),
		zap.Duration("ttl", opts.TTL),
		zap.Int("max_size", opts.MaxSize))
	return &Cache{
		store:      store,
		ttl:        opts.TTL,
		maxSize:    opts.MaxSize,
		dimensions: opts.Dimensions,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Hash returns the cache key for text: the hex SHA-256 of its exact bytes.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Dimensions returns the configured vector length, or a negative value when unchecked.
func (c *Cache) Dimensions() int {
	return c.dimensions
}

func (c *Cache) nowMs() int64 {
	return c.now().UnixMilli()
}

func (c *Cache) liveSince(now int64) int64 {
	return now - c.ttl.Milliseconds()
}

// Set stores embedding for text, replacing any existing entry and resetting its age.
// An empty embedding is stored as a zero-length vector.
func (c *Cache) Set(ctx context.Context, text string, embedding []float32) error {
	_, err := c.Put(ctx, text, embedding)
	return err
}

// Put is Set returning the stored entry, whose CreatedAt starts its TTL.
func (c *Cache) Put(ctx context.Context, text string, embedding []float32) (storage.Entry, error) {
	if len(embedding) > 0 && c.dimensions > 0 && len(embedding) != c.dimensions {
		return storage.Entry{}, fmt.Errorf("%w: got %d, want %d", appErr.ErrDimensionMismatch, len(embedding), c.dimensions)
	}
	now := c.nowMs()
	entry := storage.Entry{
		Hash:           Hash(text),
		Embedding:      storage.Vector(embedding),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	evicted, err := c.store.Upsert(ctx, entry, c.liveSince(now), c.maxSize)
	if err != nil {
		return storage.Entry{}, fmt.Errorf("%w: set: %w", appErr.ErrStorage, err)
	}
	if evicted > 0 {
		c.evictions.Add(evicted)
		c.logger.Debug("evicted entries for capacity", zap.Int64("count", evicted))
	}
	return entry, nil
}

// Get returns the embedding for text. A missing or expired entry is a miss (found=false,
// err=nil); expired rows are left for EvictExpired or capacity eviction. A hit marks the
// entry as recently accessed.
func (c *Cache) Get(ctx context.Context, text string) ([]float32, bool, error) {
	e, found, err := c.Lookup(ctx, text)
	if !found || err != nil {
		return nil, found, err
	}
	return e.Embedding, true, nil
}

// Lookup is Get returning the whole entry, so callers can track its age.
func (c *Cache) Lookup(ctx context.Context, text string) (storage.Entry, bool, error) {
	hash := Hash(text)
	e, err := c.store.Get(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		c.misses.Add(1)
		return storage.Entry{}, false, nil
	}
	if err != nil {
		return storage.Entry{}, false, fmt.Errorf("%w: get: %w", appErr.ErrStorage, err)
	}
	now := c.nowMs()
	if c.expiredAt(e.CreatedAt, now) {
		c.misses.Add(1)
		return storage.Entry{}, false, nil
	}
	if err := c.store.Touch(ctx, hash, now); err != nil {
		return storage.Entry{}, false, fmt.Errorf("%w: touch: %w", appErr.ErrStorage, err)
	}
	e.LastAccessedAt = now
	c.hits.Add(1)
	return *e, true, nil
}

// Expired reports whether an entry created at createdAt (unix ms) is past the TTL.
func (c *Cache) Expired(createdAt int64) bool {
	return c.expiredAt(createdAt, c.nowMs())
}

func (c *Cache) expiredAt(createdAt, now int64) bool {
	return createdAt < c.liveSince(now)
}

// Has reports whether a live entry exists for text without counting or touching it.
func (c *Cache) Has(ctx context.Context, text string) (bool, error) {
	ok, err := c.store.Exists(ctx, Hash(text), c.liveSince(c.nowMs()))
	if err != nil {
		return false, fmt.Errorf("%w: has: %w", appErr.ErrStorage, err)
	}
	return ok, nil
}

// Clear removes all entries and resets this instance's counters.
func (c *Cache) Clear(ctx context.Context) error {
	n, err := c.store.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: clear: %w", appErr.ErrStorage, err)
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.logger.Debug("cache cleared", zap.Int64("removed", n))
	return nil
}

// EvictExpired deletes entries older than the TTL and returns how many were removed.
func (c *Cache) EvictExpired(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteCreatedBefore(ctx, c.liveSince(c.nowMs()))
	if err != nil {
		return 0, fmt.Errorf("%w: evict expired: %w", appErr.ErrStorage, err)
	}
	if n > 0 {
		c.logger.Debug("evicted expired entries", zap.Int64("count", n))
	}
	return n, nil
}

// Stats returns counters for this instance plus the live size of the shared table.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	since := c.liveSince(c.nowMs())
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	var err error
	if s.Size, err = c.store.CountLive(ctx, since); err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", appErr.ErrStorage, err)
	}
	if s.BytesUsed, err = c.store.BytesLive(ctx, since); err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %w", appErr.ErrStorage, err)
	}
	if s.DiskBytes, err = c.store.DiskBytes(); err != nil {
		c.logger.Warn("failed to measure cache file size", zap.Error(err))
	}
	return s, nil
}

// GetAllEmbeddings returns every live entry ordered by hash. It does not touch entries
// or change counters.
func (c *Cache) GetAllEmbeddings(ctx context.Context) ([]storage.Entry, error) {
	entries, err := c.store.ListLive(ctx, c.liveSince(c.nowMs()))
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", appErr.ErrStorage, err)
	}
	return entries, nil
}

// Close releases the database. Safe to call more than once.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.store.Close()
	})
	return c.closeErr
}
