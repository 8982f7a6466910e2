package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingEvicter struct {
	calls atomic.Int64
	err   error
}

func (c *countingEvicter) EvictExpired(ctx context.Context) (int64, error) {
	c.calls.Add(1)
	return 3, c.err
}

func TestEvictExpiredJob(t *testing.T) {
	ev := &countingEvicter{}
	job := NewEvictExpiredJob(ev, nil)
	require.Equal(t, "evict_expired", job.Name())
	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, int64(1), ev.calls.Load())

	ev.err = errors.New("disk gone")
	require.EqualError(t, job.Run(context.Background()), "disk gone")
}

func TestScheduler_RunsJob(t *testing.T) {
	ev := &countingEvicter{}
	s := NewScheduler(nil)
	require.NoError(t, s.AddJob(NewEvictExpiredJob(ev, nil), "@every 1s"))
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return ev.calls.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil)
	require.Error(t, s.AddJob(NewEvictExpiredJob(&countingEvicter{}, nil), "every so often"))
	require.NoError(t, s.AddJob(NewEvictExpiredJob(&countingEvicter{}, nil), "*/5 * * * *"))
	require.Error(t, s.AddJob(NewEvictExpiredJob(&countingEvicter{}, nil), "@hourly"), "duplicate job name")
}

type blockingJob struct {
	started chan struct{}
	runs    atomic.Int64
}

func (b *blockingJob) Name() string { return "blocking" }

func (b *blockingJob) Run(ctx context.Context) error {
	if b.runs.Add(1) == 1 {
		close(b.started)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestScheduler_SkipsOverlapAndStopCancels(t *testing.T) {
	job := &blockingJob{started: make(chan struct{})}
	s := NewScheduler(nil)
	fn := s.wrap(job, "manual")
	s.Start(context.Background())

	go fn()
	<-job.started
	fn() // returns immediately: previous run still active
	require.Equal(t, int64(1), job.runs.Load())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
