package maintenance

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/embedkit/pkg/utils"
)

// Evicter deletes expired cache entries.
type Evicter interface {
	EvictExpired(ctx context.Context) (int64, error)
}

// EvictExpiredJob sweeps expired rows so they stop occupying disk between capacity evictions.
type EvictExpiredJob struct {
	target Evicter
	logger *zap.Logger
}

func NewEvictExpiredJob(target Evicter, logger *zap.Logger) *EvictExpiredJob {
	return &EvictExpiredJob{target: target, logger: utils.LoggerOrNop(logger)}
}

func (j *EvictExpiredJob) Name() string {
	return "evict_expired"
}

func (j *EvictExpiredJob) Run(ctx context.Context) error {
	n, err := j.target.EvictExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.Info("expired embeddings evicted", zap.Int64("count", n))
	}
	return nil
}
