// Package purge executes queued purge jobs: the physical removal of a message
// and everything stored against it.
package purge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
)

type JobStore interface {
	GetPurgeJob(ctx context.Context, id string) (*chat.PurgeJob, error)
	UpdateJobStatusRunning(ctx context.Context, id string) error
	MarkJobSucceeded(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
}

type Purger interface {
	PurgeMessage(ctx context.Context, messageID string) error
}

type Runner struct {
	jobs   JobStore
	purger Purger
	log    *zap.Logger
}

func NewRunner(jobs JobStore, purger Purger, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{jobs: jobs, purger: purger, log: log}
}

// Run executes one job. A nil error means the delivery can be acked. Errors
// wrapping chat.ErrNotFound are permanent; anything else may be retried.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	start := time.Now()

	if err := r.jobs.UpdateJobStatusRunning(ctx, jobID); err != nil {
		r.log.Warn("mark running failed", zap.String("job_id", jobID), zap.Error(err))
	}

	j, err := r.jobs.GetPurgeJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status == chat.JobSucceeded {
		// redelivery of a finished job
		return nil
	}

	err = r.purger.PurgeMessage(ctx, j.MessageID)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		return err
	}
	// already gone counts as done
	if err := r.jobs.MarkJobSucceeded(ctx, jobID); err != nil {
		return err
	}

	if cost := time.Since(start); cost > 2*time.Second {
		r.log.Warn("slow purge job", zap.String("job_id", jobID), zap.Duration("cost", cost))
	}
	return nil
}

// Fail records a terminal failure on the job.
func (r *Runner) Fail(ctx context.Context, jobID string, cause error) {
	if err := r.jobs.MarkJobFailed(ctx, jobID, cause.Error()); err != nil {
		r.log.Error("mark failed failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Permanent reports whether retrying cannot help.
func Permanent(err error) bool {
	return errors.Is(err, chat.ErrNotFound)
}
