package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/farmledger/internal/events"
)

// RetryLister lists sweeper candidates.
type RetryLister interface {
	ListRetryable(ctx context.Context, filter events.RetryFilter) ([]events.Event, error)
}

// Processor posts one event.
type Processor interface {
	ProcessEvent(ctx context.Context, tenantID string, eventID uuid.UUID, lockerID string) (Result, error)
	LockTTL() time.Duration
}

// SweepStats counts sweep outcomes.
type SweepStats struct {
	Candidates int `json:"candidates"`
	Posted     int `json:"posted"`
	Failed     int `json:"failed"`
	Locked     int `json:"locked"`
	Skipped    int `json:"skipped"`
}

// Sweeper re-drives PENDING, retryable FAILED and abandoned PROCESSING events.
type Sweeper struct {
	events      RetryLister
	processor   Processor
	policy      RetryPolicy
	logger      *slog.Logger
	batch       int
	concurrency int
	now         func() time.Time
}

// NewSweeper constructs Sweeper.
func NewSweeper(lister RetryLister, processor Processor, policy RetryPolicy, batch, concurrency int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 100
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{
		events:      lister,
		processor:   processor,
		policy:      policy,
		logger:      logger,
		batch:       batch,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Sweeper) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Sweep processes one batch of due events, optionally for a single tenant.
// Individual posting failures are counted, not returned.
func (s *Sweeper) Sweep(ctx context.Context, tenantID string) (SweepStats, error) {
	now := s.now().UTC()
	ttl := s.processor.LockTTL()
	candidates, err := s.events.ListRetryable(ctx, s.policy.Filter(tenantID, now, ttl, s.batch))
	if err != nil {
		return SweepStats{}, fmt.Errorf("posting: list retryable: %w", err)
	}
	stats := SweepStats{Candidates: len(candidates)}
	var mu sync.Mutex
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, evt := range candidates {
		if !s.policy.ShouldRetry(evt, now, ttl) {
			stats.Skipped++
			continue
		}
		evt := evt
		g.Go(func() error {
			locker := "sweeper:" + uuid.NewString()
			_, err := s.processor.ProcessEvent(gctx, evt.TenantID, evt.ID, locker)
			switch {
			case err == nil:
				count(&stats.Posted)
			case errors.Is(err, ErrLockUnavailable):
				count(&stats.Locked)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				count(&stats.Failed)
				s.logger.Warn("sweep posting failed",
					slog.String("tenant_id", evt.TenantID),
					slog.String("event_id", evt.ID.String()),
					slog.Any("error", err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}
