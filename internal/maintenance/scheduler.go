// Package maintenance runs periodic cache housekeeping on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hyperjump/embedkit/pkg/utils"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron specs. Standard five-field specs and descriptors such as
// "@hourly" or "@every 10m" are accepted.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		logger:  utils.LoggerOrNop(logger).Named("maintenance"),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob schedules job under spec. A job name may only be scheduled once.
func (s *Scheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := s.logger.With(zap.String("job", name), zap.String("spec", spec))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %q already scheduled", name)
	}
	entryID, err := s.cron.AddFunc(spec, s.wrap(job, spec))
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entries[name] = entryID
	logger.Info("job scheduled")
	return nil
}

// Start begins running scheduled jobs. Jobs receive a context that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		logger := s.logger.With(zap.String("job", job.Name()), zap.String("spec", spec))
		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		logger.Debug("job started")
		err := job.Run(s.jobContext())
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
			return
		}
		logger.Debug("job finished", zap.Duration("duration", elapsed))
	}
}
