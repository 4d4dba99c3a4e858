package posting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/platform/db"
)

// Repository is the PostgreSQL Store. Every apply runs in one repeatable-read
// transaction spanning the events, ledger and inventory tables.
type Repository struct {
	pool      *pgxpool.Pool
	inventory *inventory.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, inventory: inventory.NewRepository(pool)}
}

// GetBalance implements inventory.Reader.
func (r *Repository) GetBalance(ctx context.Context, key inventory.Key) (inventory.Balance, error) {
	return r.inventory.GetBalance(ctx, key)
}

// MovementsByEvent implements Store.
func (r *Repository) MovementsByEvent(ctx context.Context, tenantID string, eventID uuid.UUID) ([]inventory.Movement, error) {
	return r.inventory.MovementsByEvent(ctx, tenantID, eventID)
}

// ApplyPosting implements Store.
func (r *Repository) ApplyPosting(ctx context.Context, p Posting) (events.Event, error) {
	return r.apply(ctx, p.Transition, p.Entry, p.Updates, p.Movements)
}

// ApplyReversal implements Store.
func (r *Repository) ApplyReversal(ctx context.Context, rev Reversal) (events.Event, error) {
	return r.apply(ctx, rev.Transition, rev.Entry, rev.Updates, rev.Movements)
}

func (r *Repository) apply(ctx context.Context, t events.Transition, entry *ledger.JournalEntry, updates []inventory.BalanceUpdate, movements []inventory.Movement) (events.Event, error) {
	var stored events.Event
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		evt, err := events.UpdateStatus(ctx, tx, t)
		if err != nil {
			return err
		}
		if entry != nil {
			if err := ledger.NewTxRepository(tx).InsertJournalEntry(ctx, *entry); err != nil {
				return err
			}
		}
		stock := inventory.NewRepository(tx)
		if err := stock.ApplyUpdates(ctx, updates); err != nil {
			return err
		}
		if err := stock.InsertMovements(ctx, movements); err != nil {
			return err
		}
		stored = evt
		return nil
	})
	if err != nil {
		return events.Event{}, classify(err)
	}
	return stored, nil
}

// classify maps lost races to ErrStorageConflict and leaves the rest alone.
func classify(err error) error {
	switch {
	case errors.Is(err, events.ErrInvalidTransition), errors.Is(err, events.ErrNotFound):
		return err
	case errors.Is(err, inventory.ErrVersionConflict),
		db.IsConflict(err),
		db.IsUniqueViolation(err, "inventory_balances_pkey"),
		db.IsUniqueViolation(err, "journal_entries_event_posting_key"),
		db.IsUniqueViolation(err, "journal_entries_reverses_key"):
		return fmt.Errorf("%w: %v", ErrStorageConflict, err)
	}
	return err
}
