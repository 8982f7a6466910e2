// Package service composes the persistent cache, an in-memory tier and the embedding
// worker into a single Embed call.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/hyperjump/embedkit/internal/cache"
	"github.com/hyperjump/embedkit/internal/maintenance"
	appErr "github.com/hyperjump/embedkit/internal/pkg/errors"
	"github.com/hyperjump/embedkit/internal/storage"
	"github.com/hyperjump/embedkit/internal/vector"
	"github.com/hyperjump/embedkit/internal/worker"
	"github.com/hyperjump/embedkit/pkg/utils"
)

const (
	databaseFile = "embeddings.db"
	modelsDir    = "models"
)

// Options configures a Service.
type Options struct {
	// ShowProgress renders model download progress on ProgressOutput.
	ShowProgress   bool
	ProgressOutput io.Writer
	// CacheDir is the base directory for the cache database and model files when
	// Cache.Path or Worker.CacheDir are empty. Defaults to ~/.embedkit.
	CacheDir string
	Cache    cache.Options
	Worker   worker.Options
	// MemoryCacheSize bounds the in-memory tier. Zero or negative disables it.
	MemoryCacheSize int
	// MaintenanceSchedule is a cron spec for EvictExpired. Empty disables it.
	MaintenanceSchedule string
	Logger              *zap.Logger
}

// Result is the outcome of Embed.
type Result struct {
	Embedding []float32 `json:"embedding"`
	FromCache bool      `json:"from_cache"`
}

// Stats aggregates facade counters with the persistent cache stats.
type Stats struct {
	Requests            int64       `json:"requests"`
	MemoryHits          int64       `json:"memory_hits"`
	CacheHits           int64       `json:"cache_hits"`
	WorkerCalls         int64       `json:"worker_calls"`
	Failures            int64       `json:"failures"`
	MeanWorkerLatencyMs float64     `json:"mean_worker_latency_ms"`
	MemoryEntries       int         `json:"memory_entries"`
	WorkerState         string      `json:"worker_state"`
	ModelBytes          int64       `json:"model_bytes"`
	Cache               cache.Stats `json:"cache"`
}

// Service is the embedding facade. Embed may be called without Initialize: the cache is
// opened on first use and the worker is spawned on the first miss.
type Service struct {
	opts       Options
	logger     *zap.Logger
	dimensions int
	progress   *progressReporter

	initMu    sync.Mutex
	cache     *cache.Cache
	memory    *expirable.LRU[string, memoryEntry]
	scheduler *maintenance.Scheduler

	workerMu sync.Mutex
	worker   *worker.Worker

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	requests      atomic.Int64
	memoryHits    atomic.Int64
	cacheHits     atomic.Int64
	workerCalls   atomic.Int64
	failures      atomic.Int64
	workerLatency atomic.Int64
}

// New returns a Service. Nothing is opened or spawned until first use.
func New(opts Options) *Service {
	if opts.CacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.CacheDir = filepath.Join(home, ".embedkit")
		}
	}
	if opts.Cache.Path == "" && opts.CacheDir != "" {
		opts.Cache.Path = filepath.Join(opts.CacheDir, databaseFile)
	}
	if opts.Worker.CacheDir == "" && opts.CacheDir != "" {
		opts.Worker.CacheDir = filepath.Join(opts.CacheDir, modelsDir)
	}
	if opts.Cache.Dimensions == 0 {
		opts.Cache.Dimensions = cache.DefaultDimensions
	}
	if opts.Worker.Dimensions == 0 && opts.Cache.Dimensions > 0 {
		opts.Worker.Dimensions = opts.Cache.Dimensions
	}
	if opts.ProgressOutput == nil {
		opts.ProgressOutput = os.Stderr
	}
	logger := utils.LoggerOrNop(opts.Logger)
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = logger
	}
	if opts.Worker.Logger == nil {
		opts.Worker.Logger = logger
	}
	s := &Service{
		opts:       opts,
		logger:     logger.Named("service"),
		dimensions: opts.Cache.Dimensions,
	}
	if opts.ShowProgress {
		s.progress = newProgressReporter(opts.ProgressOutput)
	}
	return s
}

// Initialize opens the cache and spawns the worker, waiting until it is ready. Calling it
// again after success is a no-op.
func (s *Service) Initialize(ctx context.Context) error {
	if _, err := s.openCache(); err != nil {
		return err
	}
	_, err := s.readyWorker(ctx)
	return err
}

func (s *Service) openCache() (*cache.Cache, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: service is shut down", appErr.ErrShutdown)
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.cache != nil {
		return s.cache, nil
	}
	c, err := cache.Open(s.opts.Cache)
	if err != nil {
		return nil, err
	}
	if s.opts.MemoryCacheSize > 0 {
		s.memory = expirable.NewLRU[string, memoryEntry](s.opts.MemoryCacheSize, nil, c.TTL())
	}
	if s.opts.MaintenanceSchedule != "" {
		scheduler := maintenance.NewScheduler(s.opts.Logger)
		if err := scheduler.AddJob(maintenance.NewEvictExpiredJob(c, s.logger), s.opts.MaintenanceSchedule); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%w: maintenance schedule: %w", appErr.ErrInvalidConfig, err)
		}
		scheduler.Start(context.Background())
		s.scheduler = scheduler
	}
	s.cache = c
	s.logger.Debug("cache opened", zap.String("path", s.opts.Cache.Path))
	return c, nil
}

// readyWorker returns a ready worker, spawning a fresh one when none exists or the
// previous one has terminated.
func (s *Service) readyWorker(ctx context.Context) (*worker.Worker, error) {
	s.workerMu.Lock()
	if s.closed.Load() {
		s.workerMu.Unlock()
		return nil, fmt.Errorf("%w: service is shut down", appErr.ErrShutdown)
	}
	w := s.worker
	if w == nil || w.State() == worker.StateTerminated {
		if w != nil {
			s.logger.Info("respawning terminated worker")
		}
		opts := s.opts.Worker
		if s.progress != nil {
			onProgress := opts.OnProgress
			opts.OnProgress = func(stage string, current, total int64) {
				s.progress.update(stage, current, total)
				if onProgress != nil {
					onProgress(stage, current, total)
				}
			}
		}
		w = worker.New(opts)
		s.worker = w
		if err := w.Spawn(ctx); err != nil {
			s.workerMu.Unlock()
			return nil, err
		}
	}
	s.workerMu.Unlock()

	if err := w.WaitReady(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// memoryEntry keeps the persistent row's creation time so the tier never outlives the TTL.
type memoryEntry struct {
	embedding []float32
	createdAt int64
}

func (s *Service) memoryGet(c *cache.Cache, key string) ([]float32, bool) {
	if s.memory == nil {
		return nil, false
	}
	e, ok := s.memory.Get(key)
	if !ok {
		return nil, false
	}
	if c.Expired(e.createdAt) {
		s.memory.Remove(key)
		return nil, false
	}
	return e.embedding, true
}

func (s *Service) memoryAdd(e storage.Entry) {
	if s.memory != nil {
		s.memory.Add(e.Hash, memoryEntry{embedding: e.Embedding, createdAt: e.CreatedAt})
	}
}

// Embed returns the embedding for text, from the memory tier, the persistent cache, or
// the worker in that order. Worker results are stored before returning. Failures are not
// retried; after a worker crash the next miss spawns a new worker.
func (s *Service) Embed(ctx context.Context, text string) (*Result, error) {
	s.requests.Add(1)
	res, err := s.embed(ctx, text)
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}
	return res, nil
}

func (s *Service) embed(ctx context.Context, text string) (*Result, error) {
	c, err := s.openCache()
	if err != nil {
		return nil, err
	}
	key := cache.Hash(text)
	if v, ok := s.memoryGet(c, key); ok {
		s.memoryHits.Add(1)
		return &Result{Embedding: slices.Clone(v), FromCache: true}, nil
	}
	e, found, err := c.Lookup(ctx, text)
	if err != nil {
		return nil, err
	}
	if found {
		s.cacheHits.Add(1)
		s.memoryAdd(e)
		return &Result{Embedding: slices.Clone(e.Embedding), FromCache: true}, nil
	}

	w, err := s.readyWorker(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	v, err := w.Embed(ctx, text)
	s.workerCalls.Add(1)
	s.workerLatency.Add(int64(time.Since(start)))
	if err != nil {
		return nil, err
	}
	if s.dimensions > 0 && len(v) != s.dimensions {
		return nil, fmt.Errorf("%w: worker returned %d values, want %d", appErr.ErrDimensionMismatch, len(v), s.dimensions)
	}
	stored, err := c.Put(ctx, text, v)
	if err != nil {
		return nil, err
	}
	s.memoryAdd(stored)
	return &Result{Embedding: slices.Clone(v), FromCache: false}, nil
}

// EmbedBatch embeds texts one after another and stops at the first error.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	out := make([]*Result, 0, len(texts))
	for _, text := range texts {
		res, err := s.Embed(ctx, text)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Stats returns facade counters and the persistent cache stats.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	c, err := s.openCache()
	if err != nil {
		return Stats{}, err
	}
	cs, err := c.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Requests:    s.requests.Load(),
		MemoryHits:  s.memoryHits.Load(),
		CacheHits:   s.cacheHits.Load(),
		WorkerCalls: s.workerCalls.Load(),
		Failures:    s.failures.Load(),
		WorkerState: worker.StateNotSpawned.String(),
		Cache:       cs,
	}
	if st.WorkerCalls > 0 {
		st.MeanWorkerLatencyMs = float64(s.workerLatency.Load()) / float64(st.WorkerCalls) / float64(time.Millisecond)
	}
	if s.memory != nil {
		st.MemoryEntries = s.memory.Len()
	}
	if st.ModelBytes, err = storage.SizeOf(s.opts.Worker.CacheDir); err != nil {
		return Stats{}, fmt.Errorf("model cache size: %w", err)
	}
	s.workerMu.Lock()
	if s.worker != nil {
		st.WorkerState = s.worker.State().String()
	}
	s.workerMu.Unlock()
	return st, nil
}

// GetAllEmbeddings returns every live cache entry. Entries are not touched.
func (s *Service) GetAllEmbeddings(ctx context.Context) ([]storage.Entry, error) {
	c, err := s.openCache()
	if err != nil {
		return nil, err
	}
	return c.GetAllEmbeddings(ctx)
}

// SimilarityIndex builds an index of the given kind over all live entries, keyed by hash.
// Entries whose length differs from the configured dimensions are skipped.
func (s *Service) SimilarityIndex(ctx context.Context, kind vector.IndexType) (vector.Index, error) {
	entries, err := s.GetAllEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	dims := s.dimensions
	if dims <= 0 {
		for _, e := range entries {
			if len(e.Embedding) > 0 {
				dims = len(e.Embedding)
				break
			}
		}
	}
	if dims <= 0 {
		dims = cache.DefaultDimensions
	}
	idx, err := vector.NewIndex(string(kind), dims)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	vecs := make([][]float32, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) != dims {
			continue
		}
		ids = append(ids, e.Hash)
		vecs = append(vecs, e.Embedding)
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// Similar embeds text and returns the k nearest other cached entries.
func (s *Service) Similar(ctx context.Context, text string, k int, kind vector.IndexType) ([]*vector.Result, error) {
	if k <= 0 {
		return nil, nil
	}
	res, err := s.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	idx, err := s.SimilarityIndex(ctx, kind)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	hits, err := idx.Search(ctx, res.Embedding, k+1)
	if err != nil {
		return nil, err
	}
	self := cache.Hash(text)
	out := make([]*vector.Result, 0, k)
	for _, h := range hits {
		if h.ID == self {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, h)
	}
	return out, nil
}

// EvictExpired removes expired entries from the persistent cache.
func (s *Service) EvictExpired(ctx context.Context) (int64, error) {
	c, err := s.openCache()
	if err != nil {
		return 0, err
	}
	return c.EvictExpired(ctx)
}

// Clear empties the persistent cache and the memory tier.
func (s *Service) Clear(ctx context.Context) error {
	c, err := s.openCache()
	if err != nil {
		return err
	}
	if err := c.Clear(ctx); err != nil {
		return err
	}
	if s.memory != nil {
		s.memory.Purge()
	}
	return nil
}

// Shutdown stops maintenance, shuts the worker down and closes the cache. In-flight
// worker requests fail with ErrShutdown. Safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.workerMu.Lock()
		s.closed.Store(true)
		w := s.worker
		s.workerMu.Unlock()

		var errs []error
		s.initMu.Lock()
		if s.scheduler != nil {
			s.scheduler.Stop()
		}
		if w != nil {
			if err := w.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown worker: %w", err))
			}
		}
		if s.cache != nil {
			if err := s.cache.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close cache: %w", err))
			}
		}
		s.initMu.Unlock()
		s.shutdownErr = errors.Join(errs...)
		s.logger.Debug("service shut down")
	})
	return s.shutdownErr
}
