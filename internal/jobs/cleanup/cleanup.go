package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultRetention = 24 * time.Hour

type codePurger interface {
	DeleteCodesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job drops codes that expired or were used more than retention ago.
type Job struct {
	codes     codePurger
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func New() *Job {
	return &Job{
		retention: defaultRetention,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
}

func NewCodeCleanupJob(codes codePurger, retention time.Duration, logger *zap.Logger) *Job {
	job := New()
	job.codes = codes
	if retention > 0 {
		job.retention = retention
	}
	if logger != nil {
		job.logger = logger
	}
	return job
}

func (j *Job) Run(ctx context.Context) error {
	_, err := j.Purge(ctx)
	return err
}

// Purge runs one pass and reports how many codes were removed.
func (j *Job) Purge(ctx context.Context) (int64, error) {
	if j.codes == nil {
		return 0, nil
	}

	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.codes.DeleteCodesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale codes: %w", err)
	}
	if deleted > 0 {
		j.logger.Info("cleanup stale codes completed", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
