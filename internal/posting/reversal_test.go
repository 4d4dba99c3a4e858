package posting_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/posting"
)

func TestReverseEventFlipsEveryLine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evt, res := h.post(events.TypeSellLivestock, `{"head_count":2,"sale_amount":"2500.00","cost_amount":"1800.00","payment_method":"CREDIT"}`)
	original := h.entry(res.JournalEntryID)

	rev, err := h.engine.ReverseEvent(ctx, tenant, evt.ID, "buyer cancelled", "alice")
	require.NoError(t, err)
	require.Equal(t, events.StatusReversed, rev.Status)
	require.Equal(t, *res.JournalEntryID, *rev.OriginalJournalEntryID)
	require.False(t, rev.InventoryReverted)

	reversal := h.entry(rev.ReversalJournalEntryID)
	require.Equal(t, original.ID, *reversal.ReversesEntryID)
	require.Len(t, reversal.Lines, len(original.Lines))
	for i := range original.Lines {
		require.Equal(t, original.Lines[i].AccountID, reversal.Lines[i].AccountID)
		require.True(t, original.Lines[i].Amount.Equal(reversal.Lines[i].Amount))
		require.Equal(t, original.Lines[i].Direction.Flip(), reversal.Lines[i].Direction)
	}
	require.Equal(t, original, h.entry(res.JournalEntryID), "original entry must be untouched")

	stored := h.event(evt.ID)
	require.Equal(t, events.StatusReversed, stored.Status)
	require.Equal(t, *res.JournalEntryID, *stored.PostedJournalEntryID)

	tb, err := h.ledger.TrialBalance(ctx, tenant)
	require.NoError(t, err)
	for _, row := range tb.Rows {
		if !row.Net().IsZero() {
			t.Fatalf("account %s still carries %s after reversal", row.AccountCode, row.Net())
		}
	}

	replay, err := h.engine.ProcessEvent(ctx, tenant, evt.ID, "late-worker")
	require.NoError(t, err)
	require.True(t, replay.Replayed)
}

func TestReverseEventLedgerOnlyKeepsStock(t *testing.T) {
	h := newHarness(t)
	h.post(events.TypeReceivePurchaseOrder, receipt("corn", "100", "15.50"))
	feed, _ := h.post(events.TypeFeedLivestock, `{"feed_item_id":"corn","quantity":"30"}`)

	_, err := h.engine.ReverseEvent(context.Background(), tenant, feed.ID, "wrong barn", "alice")
	require.NoError(t, err)
	require.True(t, h.balance(barn, "corn").QuantityOnHand.Equal(dec("70")))
}

func TestReverseEventWithInventoryRestoresBalance(t *testing.T) {
	h := newHarness(t)
	h.settings.Set(tenant, posting.Settings{ReverseInventory: true})
	h.post(events.TypeReceivePurchaseOrder, receipt("corn", "100", "15.50"))
	second, _ := h.post(events.TypeReceivePurchaseOrder, receipt("corn", "50", "20.00"))
	require.True(t, h.balance(barn, "corn").AvgCostPerUnit.Equal(dec("17.00")))

	rev, err := h.engine.ReverseEvent(context.Background(), tenant, second.ID, "duplicate delivery note", "alice")
	require.NoError(t, err)
	require.True(t, rev.InventoryReverted)
	b := h.balance(barn, "corn")
	require.True(t, b.QuantityOnHand.Equal(dec("100")))
	require.True(t, b.AvgCostPerUnit.Equal(dec("15.50")))

	moves, err := h.store.MovementsByEvent(context.Background(), tenant, second.ID)
	require.NoError(t, err)
	require.Len(t, moves, 1, "reversal movements are not part of the original stock history")
}

func TestReverseEventWithInventoryRevertsTransfer(t *testing.T) {
	h := newHarness(t)
	h.settings.Set(tenant, posting.Settings{ReverseInventory: true})
	h.post(events.TypeReceivePurchaseOrder, receipt("corn", "100", "15.50"))
	move, _ := h.post(events.TypeInventoryTransfer, `{"item_id":"corn","to_site_id":"barn-2","quantity":"40"}`)

	rev, err := h.engine.ReverseEvent(context.Background(), tenant, move.ID, "not moved", "alice")
	require.NoError(t, err)
	require.Nil(t, rev.ReversalJournalEntryID)
	require.True(t, h.balance(barn, "corn").QuantityOnHand.Equal(dec("100")))
	require.True(t, h.balance("barn-2", "corn").QuantityOnHand.IsZero())
	require.Equal(t, events.StatusReversed, h.event(move.ID).Status)
}

func TestReverseEventRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pending := h.create(events.TypeExpense, `{"account_code":"6200","amount":"5","payment_method":"CASH"}`)
	if _, err := h.engine.ReverseEvent(ctx, tenant, pending.ID, "oops", "alice"); !errors.Is(err, posting.ErrNotReversible) {
		t.Fatalf("expected ErrNotReversible for pending event, got %v", err)
	}

	posted, _ := h.post(events.TypeExpense, `{"account_code":"6200","amount":"6","payment_method":"CASH"}`)
	if _, err := h.engine.ReverseEvent(ctx, tenant, posted.ID, "  ", "alice"); !errors.Is(err, events.ErrValidation) {
		t.Fatalf("expected ErrValidation without reason, got %v", err)
	}
	_, err := h.engine.ReverseEvent(ctx, tenant, posted.ID, "typo", "alice")
	require.NoError(t, err)
	if _, err := h.engine.ReverseEvent(ctx, tenant, posted.ID, "again", "alice"); !errors.Is(err, posting.ErrNotReversible) {
		t.Fatalf("expected ErrNotReversible for reversed event, got %v", err)
	}

	entries, err := h.ledger.ListJournalEntries(ctx, tenant, ledger.JournalFilter{EventID: &posted.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
