package posting

import (
	"time"

	"github.com/odyssey-erp/farmledger/internal/events"
)

// RetryPolicy is exponential backoff with an attempt cap. The n-th automatic
// retry waits Base * 2^(n-1), never more than Max.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy matches the shipped configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Base: 30 * time.Second, Max: 30 * time.Minute}
}

// Backoff returns the wait after the given number of attempts.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts <= 0 || p.Base <= 0 {
		return 0
	}
	delay := p.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}

// NextAttemptAt returns when evt becomes due. Events never attempted are due
// immediately.
func (p RetryPolicy) NextAttemptAt(evt events.Event) time.Time {
	if evt.LastAttemptAt == nil {
		return evt.CreatedAt
	}
	return evt.LastAttemptAt.Add(p.Backoff(evt.Attempts))
}

// ShouldRetry reports whether the sweeper should process evt at now. A
// PROCESSING event is only due once its lease must have lapsed.
func (p RetryPolicy) ShouldRetry(evt events.Event, now time.Time, lockTTL time.Duration) bool {
	switch evt.Status {
	case events.StatusPending:
		return true
	case events.StatusFailed:
		if !evt.Retryable || (p.MaxAttempts > 0 && evt.Attempts >= p.MaxAttempts) {
			return false
		}
		return !now.Before(p.NextAttemptAt(evt))
	case events.StatusProcessing:
		return evt.LastAttemptAt != nil && !now.Before(evt.LastAttemptAt.Add(lockTTL))
	}
	return false
}

// Filter narrows the storage query to candidates; ShouldRetry makes the final
// call per event.
func (p RetryPolicy) Filter(tenantID string, now time.Time, lockTTL time.Duration, limit int) events.RetryFilter {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = int(^uint(0) >> 1)
	}
	return events.RetryFilter{
		TenantID:      tenantID,
		MaxAttempts:   maxAttempts,
		PendingBefore: now,
		StaleBefore:   now.Add(-lockTTL),
		Limit:         limit,
	}
}
