package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/farmledger/internal/events"
)

// InsertEvent implements events.RepositoryPort.
func (s *Store) InsertEvent(_ context.Context, evt events.Event) (events.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{tenantID: evt.TenantID, key: evt.IdempotencyKey}
	if rec, ok := s.idempotency[k]; ok {
		return s.events[rec.EventID], false, nil
	}
	s.events[evt.ID] = evt
	s.idempotency[k] = events.IdempotencyRecord{TenantID: evt.TenantID, Key: evt.IdempotencyKey, EventID: evt.ID, CreatedAt: evt.CreatedAt}
	return evt, true, nil
}

// GetEvent implements events.RepositoryPort.
func (s *Store) GetEvent(_ context.Context, tenantID string, id uuid.UUID) (events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventLocked(tenantID, id)
}

func (s *Store) eventLocked(tenantID string, id uuid.UUID) (events.Event, error) {
	evt, ok := s.events[id]
	if !ok || evt.TenantID != tenantID {
		return events.Event{}, fmt.Errorf("%w: %s", events.ErrNotFound, id)
	}
	return evt, nil
}

// ListEvents implements events.RepositoryPort.
func (s *Store) ListEvents(_ context.Context, tenantID string, f events.ListFilter) ([]events.Event, error) {
	s.mu.RLock()
	var out []events.Event
	for _, evt := range s.events {
		if evt.TenantID != tenantID ||
			(f.Status != "" && evt.Status != f.Status) ||
			(f.Type != "" && evt.Type != f.Type) ||
			(f.SiteID != "" && evt.SiteID != f.SiteID) {
			continue
		}
		out = append(out, evt)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Limit, f.Offset), nil
}

// ListRetryable implements events.RepositoryPort.
func (s *Store) ListRetryable(_ context.Context, f events.RetryFilter) ([]events.Event, error) {
	s.mu.RLock()
	var out []events.Event
	for _, evt := range s.events {
		if f.TenantID != "" && evt.TenantID != f.TenantID {
			continue
		}
		switch evt.Status {
		case events.StatusPending:
			if evt.CreatedAt.After(f.PendingBefore) {
				continue
			}
		case events.StatusFailed:
			if !evt.Retryable || evt.Attempts >= f.MaxAttempts {
				continue
			}
		case events.StatusProcessing:
			if evt.LastAttemptAt == nil || evt.LastAttemptAt.After(f.StaleBefore) {
				continue
			}
		default:
			continue
		}
		out = append(out, evt)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastAttemptAt, out[j].LastAttemptAt
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpdateStatus implements events.RepositoryPort.
func (s *Store) UpdateStatus(_ context.Context, t events.Transition) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(t)
}

func (s *Store) transitionLocked(t events.Transition) (events.Event, error) {
	if err := t.Validate(); err != nil {
		return events.Event{}, err
	}
	evt, err := s.eventLocked(t.TenantID, t.EventID)
	if err != nil {
		return events.Event{}, err
	}
	if !t.Matches(evt) {
		return events.Event{}, fmt.Errorf("%w: expected %s (locker %q) but event %s is %s (locker %q)",
			events.ErrInvalidTransition, t.From, t.LockerID, t.EventID, evt.Status, evt.LockedBy)
	}
	evt = events.ApplyTransition(evt, t)
	s.events[evt.ID] = evt
	return evt, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
