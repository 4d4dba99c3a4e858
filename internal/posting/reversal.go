package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/notify"
	"github.com/odyssey-erp/farmledger/internal/shared"
)

// ReversalResult reports the outcome of ReverseEvent.
type ReversalResult struct {
	EventID                uuid.UUID     `json:"event_id"`
	Status                 events.Status `json:"status"`
	OriginalJournalEntryID *uuid.UUID    `json:"original_journal_entry_id,omitempty"`
	ReversalJournalEntryID *uuid.UUID    `json:"reversal_journal_entry_id,omitempty"`
	InventoryReverted      bool          `json:"inventory_reverted"`
}

// ReverseEvent compensates a POSTED event with a new entry whose lines are the
// original's with every direction flipped. The original entry is left as is.
// Stock is only touched when the tenant opted into inventory reversal.
func (e *Engine) ReverseEvent(ctx context.Context, tenantID string, eventID uuid.UUID, reason, actorID string) (ReversalResult, error) {
	ctx, span := e.tracer.Start(ctx, "posting.ReverseEvent", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("event_id", eventID.String()),
	))
	defer span.End()

	res, err := e.reverse(ctx, tenantID, eventID, reason, actorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reverse failed")
	}
	return res, err
}

func (e *Engine) reverse(ctx context.Context, tenantID string, eventID uuid.UUID, reason, actorID string) (ReversalResult, error) {
	start := e.now()
	res := ReversalResult{EventID: eventID}
	reason = strings.TrimSpace(reason)
	if tenantID == "" || reason == "" {
		return res, fmt.Errorf("%w: tenant and reason required", events.ErrValidation)
	}
	if actorID == "" {
		actorID = "system"
	}
	logger := e.logger.With(slog.String("tenant_id", tenantID), slog.String("event_id", eventID.String()))

	owner := "reversal:" + uuid.NewString()
	key := shared.EventLockKey(tenantID, eventID.String())
	acquired, err := e.leases.Acquire(ctx, key, owner, e.lockTTL)
	if err != nil {
		return res, fmt.Errorf("posting: acquire lease: %w", err)
	}
	if !acquired {
		e.metrics.lockContended()
		return res, ErrLockUnavailable
	}
	defer func() {
		if err := e.leases.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			logger.Warn("release lease", slog.Any("error", err))
		}
	}()

	evt, err := e.events.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		return res, err
	}
	res.Status = evt.Status
	if evt.Status != events.StatusPosted {
		return res, fmt.Errorf("%w: event %s is %s", ErrNotReversible, eventID, evt.Status)
	}
	settings, err := e.settings.Settings(ctx, tenantID)
	if err != nil {
		return res, fmt.Errorf("posting: load settings: %w", err)
	}
	now := e.now().UTC()

	rev := Reversal{Transition: events.Transition{
		TenantID: tenantID,
		EventID:  eventID,
		From:     events.StatusPosted,
		To:       events.StatusReversed,
		At:       now,
	}}
	if evt.PostedJournalEntryID != nil {
		original, err := e.journals.GetJournalEntry(ctx, tenantID, *evt.PostedJournalEntryID)
		if err != nil {
			return res, fmt.Errorf("posting: load journal entry: %w", err)
		}
		entry := ledger.ReverseEntry(original, now, "Reversal: "+reason, actorID)
		entry.CreatedAt = now
		debit, credit := entry.Totals()
		if !debit.Equal(credit) {
			return res, fmt.Errorf("%w: reversal of %s", ledger.ErrUnbalancedEntry, original.ID)
		}
		rev.Entry = &entry
		id := entry.ID
		rev.Transition.JournalEntryID = &id
		res.OriginalJournalEntryID = evt.PostedJournalEntryID
	}
	if settings.ReverseInventory {
		updates, movements, err := e.revertStock(ctx, evt, now)
		if err != nil {
			return res, err
		}
		rev.Updates, rev.Movements = updates, movements
		res.InventoryReverted = len(movements) > 0
	}

	reversed, err := e.store.ApplyReversal(ctx, rev)
	if err != nil {
		if errors.Is(err, events.ErrInvalidTransition) {
			e.metrics.invariantViolated()
			logger.Error("event status invariant violated", slog.Any("error", err))
		}
		return res, err
	}
	res.Status = reversed.Status
	res.ReversalJournalEntryID = reversed.ReversalJournalEntryID
	e.metrics.observe(string(evt.Type), OutcomeReversed, e.now().Sub(start))
	logger.Info("event reversed", slog.Any("reversal_journal_entry_id", res.ReversalJournalEntryID), slog.Bool("inventory_reverted", res.InventoryReverted))
	e.afterCommit(ctx, logger, reversed, notify.KindEventReversed, reason, actorID)
	return res, nil
}

// revertStock stages the inverse of every movement the event recorded, newest
// first, against current balances.
func (e *Engine) revertStock(ctx context.Context, evt events.Event, now time.Time) ([]inventory.BalanceUpdate, []inventory.Movement, error) {
	moves, err := e.store.MovementsByEvent(ctx, evt.TenantID, evt.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("posting: load movements: %w", err)
	}
	ws := inventory.NewWorkspace(e.store, evt.ID, now)
	for i := len(moves) - 1; i >= 0; i-- {
		if _, err := ws.Revert(ctx, moves[i]); err != nil {
			return nil, nil, fmt.Errorf("posting: revert movement on %s: %w", moves[i].Key, err)
		}
	}
	return ws.Updates(), ws.Movements(), nil
}
