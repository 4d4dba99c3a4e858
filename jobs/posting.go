package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/farmledger/internal/events"
	jobmetrics "github.com/odyssey-erp/farmledger/internal/jobs"
	"github.com/odyssey-erp/farmledger/internal/posting"
)

// Sweeper runs one sweep batch.
type Sweeper interface {
	Sweep(ctx context.Context, tenantID string) (posting.SweepStats, error)
}

// PostingJob handles posting:process and posting:sweep tasks.
type PostingJob struct {
	Processor posting.Processor
	Sweeper   Sweeper
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewPostingJob constructs the posting job handlers.
func NewPostingJob(processor posting.Processor, sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *PostingJob {
	return &PostingJob{Processor: processor, Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// HandleProcess posts the task's event. Lock contention and retryable
// failures are returned so asynq retries; rule failures skip retry and stay
// FAILED for an operator.
func (j *PostingJob) HandleProcess(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Processor == nil {
		return errors.New("posting process: dependencies not configured")
	}
	var payload ProcessEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("posting process: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskPostingProcess)

	locker := "asynq:" + payload.EventID.String()
	if id, ok := asynq.GetTaskID(ctx); ok {
		locker = "asynq:" + id
	}
	if n, ok := asynq.GetRetryCount(ctx); ok {
		locker = fmt.Sprintf("%s:%d", locker, n)
	}
	res, err := j.Processor.ProcessEvent(ctx, payload.TenantID, payload.EventID, locker)
	switch {
	case err == nil:
		j.log().Info("event posted",
			slog.String("tenant_id", payload.TenantID),
			slog.String("event_id", payload.EventID.String()),
			slog.Bool("replayed", res.Replayed))
		return tracker.End(nil)
	case errors.Is(err, posting.ErrLockUnavailable):
		return tracker.End(err)
	case errors.Is(err, events.ErrNotFound), errors.Is(err, events.ErrValidation), !posting.Retryable(err):
		j.log().Warn("event posting will not be retried",
			slog.String("tenant_id", payload.TenantID),
			slog.String("event_id", payload.EventID.String()),
			slog.Any("error", err))
		return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
	default:
		return tracker.End(err)
	}
}

// HandleSweep runs one sweep batch.
func (j *PostingJob) HandleSweep(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("posting sweep: dependencies not configured")
	}
	var payload SweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("posting sweep: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskPostingSweep)
	stats, err := j.Sweeper.Sweep(ctx, payload.TenantID)
	j.Metrics.AddSwept(posting.OutcomePosted, stats.Posted)
	j.Metrics.AddSwept(posting.OutcomeFailed, stats.Failed)
	j.Metrics.AddSwept(posting.OutcomeLocked, stats.Locked)
	if err != nil {
		j.log().Error("posting sweep", slog.Any("error", err))
		return tracker.End(err)
	}
	if stats.Candidates > 0 {
		j.log().Info("posting sweep finished",
			slog.String("tenant_id", payload.TenantID),
			slog.Int("candidates", stats.Candidates),
			slog.Int("posted", stats.Posted),
			slog.Int("failed", stats.Failed),
			slog.Int("locked", stats.Locked))
	}
	return tracker.End(nil)
}

// RetryDelay spaces asynq retries of posting tasks with the engine's backoff.
// Other task types keep asynq's default delay.
func RetryDelay(policy posting.RetryPolicy) asynq.RetryDelayFunc {
	return func(n int, err error, task *asynq.Task) time.Duration {
		if task != nil && task.Type() == TaskPostingProcess {
			if errors.Is(err, posting.ErrLockUnavailable) {
				return policy.Base
			}
			return policy.Backoff(n + 1)
		}
		return asynq.DefaultRetryDelayFunc(n, err, task)
	}
}

func (j *PostingJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
