package posting

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/ledger"
)

// Posting is everything one successful event writes. It is applied as one
// atomic unit or not at all.
type Posting struct {
	// Transition moves the event PROCESSING -> POSTED, fenced on the locker.
	Transition events.Transition
	// Entry is nil when the rule produced no ledger lines.
	Entry     *ledger.JournalEntry
	Updates   []inventory.BalanceUpdate
	Movements []inventory.Movement
}

// Reversal is everything a reversal writes.
type Reversal struct {
	// Transition moves the event POSTED -> REVERSED.
	Transition events.Transition
	Entry      *ledger.JournalEntry
	Updates    []inventory.BalanceUpdate
	Movements  []inventory.Movement
}

// Store is the transactional storage behind the engine. A stale balance
// version fails the whole apply with ErrStorageConflict; a lost event status
// swap fails it with events.ErrInvalidTransition.
type Store interface {
	inventory.Reader
	ApplyPosting(ctx context.Context, p Posting) (events.Event, error)
	ApplyReversal(ctx context.Context, r Reversal) (events.Event, error)
	MovementsByEvent(ctx context.Context, tenantID string, eventID uuid.UUID) ([]inventory.Movement, error)
}

// EventStore is the part of events.Service the engine drives.
type EventStore interface {
	GetEvent(ctx context.Context, tenantID string, id uuid.UUID) (events.Event, error)
	TransitionStatus(ctx context.Context, t events.Transition) (events.Event, error)
}

// JournalReader loads posted entries for reversal.
type JournalReader interface {
	GetJournalEntry(ctx context.Context, tenantID string, id uuid.UUID) (ledger.JournalEntry, error)
}
