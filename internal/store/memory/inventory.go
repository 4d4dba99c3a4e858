package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/posting"
)

// GetBalance implements inventory.Reader.
func (s *Store) GetBalance(_ context.Context, key inventory.Key) (inventory.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[key]; ok {
		return b, nil
	}
	return inventory.ZeroBalance(key), nil
}

// ListBalances returns a tenant's balances, optionally for one site.
func (s *Store) ListBalances(_ context.Context, tenantID, siteID string) ([]inventory.Balance, error) {
	s.mu.RLock()
	var out []inventory.Balance
	for key, b := range s.balances {
		if key.TenantID == tenantID && (siteID == "" || key.SiteID == siteID) {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.SiteID != out[j].Key.SiteID {
			return out[i].Key.SiteID < out[j].Key.SiteID
		}
		return out[i].Key.ItemID < out[j].Key.ItemID
	})
	return out, nil
}

// MovementsByEvent implements posting.Store.
func (s *Store) MovementsByEvent(_ context.Context, tenantID string, eventID uuid.UUID) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []inventory.Movement
	for _, m := range s.movements {
		if m.Key.TenantID == tenantID && m.EventID == eventID && !m.Reversal {
			out = append(out, m)
		}
	}
	return out, nil
}

// StockCard lists the stock card rows of one key, oldest first.
func (s *Store) StockCard(_ context.Context, filter inventory.StockCardFilter) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []inventory.Movement
	for _, m := range s.movements {
		if m.Key != filter.Key {
			continue
		}
		if (!filter.From.IsZero() && m.PostedAt.Before(filter.From)) || (!filter.To.IsZero() && m.PostedAt.After(filter.To)) {
			continue
		}
		out = append(out, m)
	}
	return page(out, filter.Limit, 0), nil
}

// ApplyPosting implements posting.Store.
func (s *Store) ApplyPosting(_ context.Context, p posting.Posting) (events.Event, error) {
	return s.apply(p.Transition, p.Entry, p.Updates, p.Movements)
}

// ApplyReversal implements posting.Store.
func (s *Store) ApplyReversal(_ context.Context, r posting.Reversal) (events.Event, error) {
	return s.apply(r.Transition, r.Entry, r.Updates, r.Movements)
}

// apply validates every precondition before the first write, so a failure
// leaves nothing behind.
func (s *Store) apply(t events.Transition, entry *ledger.JournalEntry, updates []inventory.BalanceUpdate, movements []inventory.Movement) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	for _, u := range updates {
		var current int64
		if b, ok := s.balances[u.Balance.Key]; ok {
			current = b.Version
		}
		if current != u.Expected {
			return events.Event{}, fmt.Errorf("%w: %s at version %d, expected %d",
				posting.ErrStorageConflict, u.Balance.Key, current, u.Expected)
		}
	}
	if entry != nil {
		if err := s.insertEntryLocked(*entry); err != nil {
			return events.Event{}, fmt.Errorf("%w: %v", posting.ErrStorageConflict, err)
		}
	}
	for _, u := range updates {
		b := u.Balance
		b.QuantityOnHand = b.QuantityOnHand.Round(inventory.QuantityPlaces)
		b.AvgCostPerUnit = b.AvgCostPerUnit.Round(inventory.CostPlaces)
		b.Version = u.Expected + 1
		s.balances[b.Key] = b
	}
	s.movements = append(s.movements, movements...)
	evt = events.ApplyTransition(evt, t)
	s.events[evt.ID] = evt
	return evt, nil
}
