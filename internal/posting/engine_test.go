package posting_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/lease"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/posting"
	"github.com/odyssey-erp/farmledger/internal/shared"
	"github.com/odyssey-erp/farmledger/internal/store/memory"
)

const (
	tenant = "farm-1"
	barn   = "barn-1"
)

type harness struct {
	t        *testing.T
	store    *memory.Store
	events   *events.Service
	ledger   *ledger.Service
	leases   *lease.MemoryManager
	settings *posting.StaticSettings
	registry *prometheus.Registry
	engine   *posting.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	h := &harness{
		t:        t,
		store:    store,
		events:   events.NewService(store, store, nil),
		ledger:   ledger.NewService(store, store),
		leases:   lease.NewMemoryManager(),
		settings: posting.NewStaticSettings(posting.Settings{}),
		registry: prometheus.NewRegistry(),
	}
	_, err := h.ledger.SeedDefaultChart(context.Background(), tenant, "seed")
	require.NoError(t, err)
	h.engine = h.newEngine(store, posting.NewMetrics(h.registry))
	return h
}

func (h *harness) newEngine(store posting.Store, metrics *posting.Metrics) *posting.Engine {
	return posting.NewEngine(posting.Dependencies{
		Events:   h.events,
		Charts:   h.ledger,
		Journals: h.ledger,
		Store:    store,
		Leases:   h.leases,
		Settings: h.settings,
		Audit:    h.store,
		Metrics:  metrics,
	}, time.Minute)
}

func (h *harness) create(typ events.Type, payload string) events.Event {
	h.t.Helper()
	evt, err := h.events.CreateEvent(context.Background(), tenant, events.CreateInput{
		SiteID:         barn,
		Type:           typ,
		Payload:        json.RawMessage(payload),
		IdempotencyKey: "test:" + uuid.NewString(),
	}, "tester")
	require.NoError(h.t, err)
	return evt
}

func (h *harness) post(typ events.Type, payload string) (events.Event, posting.Result) {
	h.t.Helper()
	evt := h.create(typ, payload)
	res, err := h.engine.ProcessEvent(context.Background(), tenant, evt.ID, "worker-"+uuid.NewString())
	require.NoError(h.t, err)
	require.True(h.t, res.Success)
	return evt, res
}

func (h *harness) entry(id *uuid.UUID) ledger.JournalEntry {
	h.t.Helper()
	require.NotNil(h.t, id)
	e, err := h.ledger.GetJournalEntry(context.Background(), tenant, *id)
	require.NoError(h.t, err)
	return e
}

func (h *harness) balance(site, item string) inventory.Balance {
	h.t.Helper()
	b, err := h.store.GetBalance(context.Background(), inventory.Key{TenantID: tenant, SiteID: site, ItemID: item})
	require.NoError(h.t, err)
	return b
}

func (h *harness) event(id uuid.UUID) events.Event {
	h.t.Helper()
	evt, err := h.events.GetEvent(context.Background(), tenant, id)
	require.NoError(h.t, err)
	return evt
}

func receipt(item string, qty, cost string) string {
	return fmt.Sprintf(`{"purchase_order_id":"PO-%s","payment_method":"CREDIT","lines":[{"item_id":%q,"item_class":"FEED","quantity":%q,"unit_cost":%q}]}`,
		uuid.NewString()[:8], item, qty, cost)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type line struct {
	code   string
	dir    ledger.Direction
	amount string
}

func requireLines(t *testing.T, e ledger.JournalEntry, want ...line) {
	t.Helper()
	require.Len(t, e.Lines, len(want))
	for i, w := range want {
		got := e.Lines[i]
		if got.AccountCode != w.code || got.Direction != w.dir || !got.Amount.Equal(dec(w.amount)) {
			t.Fatalf("line %d: got %s %s %s, want %s %s %s", i, got.AccountCode, got.Direction, got.Amount, w.code, w.dir, w.amount)
		}
	}
	debit, credit := e.Totals()
	require.True(t, debit.Equal(credit), "entry must balance: %s vs %s", debit, credit)
}

func TestWeightedAverageThenFeed(t *testing.T) {
	cases := []struct {
		secondCost string
		avg        string
		feedValue  string
	}{
		{"20.00", "17.00", "510.00"},
		{"21.00", "17.33", "519.90"},
	}
	for _, tc := range cases {
		t.Run(tc.secondCost, func(t *testing.T) {
			h := newHarness(t)
			h.post(events.TypeReceivePurchaseOrder, receipt("corn", "100", "15.50"))
			h.post(events.TypeReceivePurchaseOrder, receipt("corn", "50", tc.secondCost))

			b := h.balance(barn, "corn")
			require.True(t, b.QuantityOnHand.Equal(dec("150")))
			require.True(t, b.AvgCostPerUnit.Equal(dec(tc.avg)), "avg %s", b.AvgCostPerUnit)

			_, res := h.post(events.TypeFeedLivestock, `{"feed_item_id":"corn","quantity":"30"}`)
			b = h.balance(barn, "corn")
			require.True(t, b.QuantityOnHand.Equal(dec("120")))
			require.True(t, b.AvgCostPerUnit.Equal(dec(tc.avg)))
			require.EqualValues(t, 3, b.Version)

			requireLines(t, h.entry(res.JournalEntryID),
				line{"6000", ledger.Debit, tc.feedValue},
				line{"1200", ledger.Credit, tc.feedValue})
		})
	}
}

func TestSellLivestockPostsFourLines(t *testing.T) {
	h := newHarness(t)
	_, res := h.post(events.TypeSellLivestock, `{"head_count":2,"sale_amount":"2500.00","cost_amount":"1800.00","payment_method":"CASH"}`)
	e := h.entry(res.JournalEntryID)
	requireLines(t, e,
		line{"1000", ledger.Debit, "2500.00"},
		line{"4000", ledger.Credit, "2500.00"},
		line{"5000", ledger.Debit, "1800.00"},
		line{"1300", ledger.Credit, "1800.00"})
	debit, _ := e.Totals()
	require.True(t, debit.Equal(dec("4300")))
}

func TestEveryEventTypePostsBalancedEntry(t *testing.T) {
	h := newHarness(t)
	h.post(events.TypeReceivePurchaseOrder, receipt("corn", "100", "15.50"))

	cases := []struct {
		typ     events.Type
		payload string
		entry   bool
	}{
		{events.TypeFeedLivestock, `{"feed_item_id":"corn","quantity":"12.5"}`, true},
		{events.TypeSellLivestock, `{"animal_ids":["cow-7"],"sale_amount":"999.99","payment_method":"CREDIT"}`, true},
		{events.TypePurchaseLivestock, `{"head_count":3,"cost":"1000","payment_method":"CREDIT","item_id":"heifer"}`, true},
		{events.TypeReceivePurchaseOrder, `{"purchase_order_id":"PO-2","payment_method":"CASH","lines":[{"item_id":"corn","item_class":"FEED","quantity":"10","unit_cost":"16.125"},{"item_id":"gloves","item_class":"SUPPLY","quantity":"3","unit_cost":"4.99"}]}`, true},
		{events.TypeInventoryAdjustment, `{"item_id":"corn","item_class":"FEED","quantity_delta":"-2.5","reason":"spoilage"}`, true},
		{events.TypeInventoryAdjustment, `{"item_id":"gloves","item_class":"SUPPLY","quantity_delta":"1","unit_cost":"5","reason":"found"}`, true},
		{events.TypeInventoryTransfer, `{"item_id":"corn","to_site_id":"barn-2","quantity":"5"}`, false},
		{events.TypeSale, `{"payment_method":"CASH","lines":[{"item_id":"corn","item_class":"FEED","quantity":"2","unit_price":"30"},{"description":"eggs","quantity":"12","unit_price":"0.45"}]}`, true},
		{events.TypeExpense, `{"account_code":"6200","amount":"45.10","payment_method":"CREDIT"}`, true},
	}
	for _, tc := range cases {
		evt, res := h.post(tc.typ, tc.payload)
		stored := h.event(evt.ID)
		require.Equal(t, events.StatusPosted, stored.Status, "%s", tc.typ)
		if !tc.entry {
			require.Nil(t, res.JournalEntryID, "%s", tc.typ)
			continue
		}
		e := h.entry(res.JournalEntryID)
		debit, credit := e.Totals()
		if !debit.Equal(credit) || debit.IsZero() {
			t.Fatalf("%s: unbalanced entry %s/%s", tc.typ, debit, credit)
		}
		require.Equal(t, evt.ID, e.EventID)
	}

	tb, err := h.ledger.TrialBalance(context.Background(), tenant)
	require.NoError(t, err)
	require.True(t, tb.Balanced())
}

func TestPurchaseLivestockReceivesHeads(t *testing.T) {
	h := newHarness(t)
	_, res := h.post(events.TypePurchaseLivestock, `{"animal_ids":["a","b","c","d"],"cost":"2000","payment_method":"CASH","item_id":"steer"}`)
	requireLines(t, h.entry(res.JournalEntryID),
		line{"1300", ledger.Debit, "2000.00"},
		line{"1000", ledger.Credit, "2000.00"})
	b := h.balance(barn, "steer")
	require.True(t, b.QuantityOnHand.Equal(dec("4")))
	require.True(t, b.AvgCostPerUnit.Equal(dec("500")))
}

func TestPurchaseLivestockStockCardMatchesCost(t *testing.T) {
	h := newHarness(t)
	evt, res := h.post(events.TypePurchaseLivestock, `{"head_count":3,"cost":"100","payment_method":"CASH","item_id":"calf"}`)
	requireLines(t, h.entry(res.JournalEntryID),
		line{"1300", ledger.Debit, "100.00"},
		line{"1000", ledger.Credit, "100.00"})

	moves, err := h.store.MovementsByEvent(context.Background(), tenant, evt.ID)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	qty, total := decimal.Zero, decimal.Zero
	for _, m := range moves {
		qty = qty.Add(m.QtyChange)
		total = total.Add(m.QtyChange.Mul(m.UnitCost))
	}
	require.True(t, qty.Equal(dec("3")))
	require.True(t, total.Equal(dec("100.00")), "stock card total %s", total)
	require.True(t, moves[1].UnitCost.Equal(dec("33.34")))

	b := h.balance(barn, "calf")
	require.True(t, b.QuantityOnHand.Equal(dec("3")))
	require.True(t, b.AvgCostPerUnit.Equal(dec("33.33")))
}

func TestTransferMovesStockAtSourceCost(t *testing.T) {
	h := newHarness(t)
	h.post(events.TypeReceivePurchaseOrder, receipt("corn", "100", "15.50"))

	other, err := h.events.CreateEvent(context.Background(), tenant, events.CreateInput{
		SiteID: "barn-2", Type: events.TypeReceivePurchaseOrder, Payload: json.RawMessage(receipt("corn", "10", "20.00")),
	}, "tester")
	require.NoError(t, err)
	_, err = h.engine.ProcessEvent(context.Background(), tenant, other.ID, "w")
	require.NoError(t, err)

	evt, res := h.post(events.TypeInventoryTransfer, `{"item_id":"corn","to_site_id":"barn-2","quantity":"30"}`)
	require.Nil(t, res.JournalEntryID)
	require.Nil(t, h.event(evt.ID).PostedJournalEntryID)

	src := h.balance(barn, "corn")
	require.True(t, src.QuantityOnHand.Equal(dec("70")))
	require.True(t, src.AvgCostPerUnit.Equal(dec("15.50")))
	dst := h.balance("barn-2", "corn")
	require.True(t, dst.QuantityOnHand.Equal(dec("40")))
	// (10*20 + 30*15.50) / 40 = 16.625
	require.True(t, dst.AvgCostPerUnit.Equal(dec("16.63")), "dst avg %s", dst.AvgCostPerUnit)
}

func TestFeedCapitalizedIntoLivestock(t *testing.T) {
	h := newHarness(t)
	h.settings.Set(tenant, posting.Settings{FeedCosting: posting.FeedCostingCapitalize})
	h.post(events.TypeReceivePurchaseOrder, receipt("corn", "10", "2.00"))
	_, res := h.post(events.TypeFeedLivestock, `{"feed_item_id":"corn","quantity":"4"}`)
	requireLines(t, h.entry(res.JournalEntryID),
		line{"1300", ledger.Debit, "8.00"},
		line{"1200", ledger.Credit, "8.00"})
}

func TestFeedWithoutStockGoesNegativeWithoutEntry(t *testing.T) {
	h := newHarness(t)
	evt, res := h.post(events.TypeFeedLivestock, `{"feed_item_id":"hay","quantity":"3"}`)
	require.Nil(t, res.JournalEntryID)
	require.Equal(t, events.StatusPosted, h.event(evt.ID).Status)
	require.True(t, h.balance(barn, "hay").QuantityOnHand.Equal(dec("-3")))
}

func TestProcessEventReplaysPostedResult(t *testing.T) {
	h := newHarness(t)
	evt, first := h.post(events.TypeExpense, `{"account_code":"6200","amount":"10","payment_method":"CASH"}`)
	require.False(t, first.Replayed)

	second, err := h.engine.ProcessEvent(context.Background(), tenant, evt.ID, "another-worker")
	require.NoError(t, err)
	require.True(t, second.Success)
	require.True(t, second.Replayed)
	require.Equal(t, *first.JournalEntryID, *second.JournalEntryID)

	entries, err := h.ledger.ListJournalEntries(context.Background(), tenant, ledger.JournalFilter{EventID: &evt.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, h.event(evt.ID).Attempts)
}

func TestProcessEventLockUnavailable(t *testing.T) {
	h := newHarness(t)
	evt := h.create(events.TypeExpense, `{"account_code":"6200","amount":"10","payment_method":"CASH"}`)
	ok, err := h.leases.Acquire(context.Background(), shared.EventLockKey(tenant, evt.ID.String()), "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := h.engine.ProcessEvent(context.Background(), tenant, evt.ID, "me")
	if !errors.Is(err, posting.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
	require.False(t, res.Success)
	require.Equal(t, "locked", res.Error)
	stored := h.event(evt.ID)
	require.Equal(t, events.StatusPending, stored.Status)
	require.Zero(t, stored.Attempts)
}

func TestConcurrentProcessingPostsOnce(t *testing.T) {
	h := newHarness(t)
	h.post(events.TypeReceivePurchaseOrder, receipt("corn", "100", "15.50"))
	evt := h.create(events.TypeFeedLivestock, `{"feed_item_id":"corn","quantity":"30"}`)

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		fresh   int
		entries = map[uuid.UUID]struct{}{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.engine.ProcessEvent(context.Background(), tenant, evt.ID, fmt.Sprintf("worker-%d", i))
			if errors.Is(err, posting.ErrLockUnavailable) {
				return
			}
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if !res.Replayed {
				fresh++
			}
			entries[*res.JournalEntryID] = struct{}{}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, fresh)
	require.Len(t, entries, 1)
	require.True(t, h.balance(barn, "corn").QuantityOnHand.Equal(dec("70")))
	all, err := h.ledger.ListJournalEntries(context.Background(), tenant, ledger.JournalFilter{EventID: &evt.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

type gatedStore struct {
	*memory.Store
	entered chan struct{}
	proceed chan struct{}
}

func (g *gatedStore) ApplyPosting(ctx context.Context, p posting.Posting) (events.Event, error) {
	close(g.entered)
	<-g.proceed
	return g.Store.ApplyPosting(ctx, p)
}

func TestSameLockerCannotProcessTwiceConcurrently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gated := &gatedStore{Store: h.store, entered: make(chan struct{}), proceed: make(chan struct{})}
	registry := prometheus.NewRegistry()
	engine := h.newEngine(gated, posting.NewMetrics(registry))
	evt := h.create(events.TypeExpense, `{"account_code":"6200","amount":"25","payment_method":"CASH"}`)

	type outcome struct {
		res posting.Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := engine.ProcessEvent(ctx, tenant, evt.ID, "client-L")
		first <- outcome{res, err}
	}()
	<-gated.entered

	res, err := engine.ProcessEvent(ctx, tenant, evt.ID, "client-L")
	require.ErrorIs(t, err, posting.ErrLockUnavailable)
	require.False(t, res.Success)
	require.Equal(t, events.StatusProcessing, h.event(evt.ID).Status)

	close(gated.proceed)
	done := <-first
	require.NoError(t, done.err)
	require.True(t, done.res.Success)

	stored := h.event(evt.ID)
	require.Equal(t, events.StatusPosted, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.Empty(t, stored.ProcessingError)
	require.Zero(t, counterValue(t, registry, "farmledger_posting_invariant_violations_total"))
	require.Equal(t, 1.0, counterValue(t, registry, "farmledger_posting_lock_contention_total"))
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestExpiredLeaseIsRecovered(t *testing.T) {
	h := newHarness(t)
	evt := h.create(events.TypeExpense, `{"account_code":"6200","amount":"12","payment_method":"CASH"}`)
	_, err := h.events.TransitionStatus(context.Background(), events.Transition{
		TenantID: tenant, EventID: evt.ID, From: events.StatusPending, To: events.StatusProcessing, LockerID: "crashed",
	})
	require.NoError(t, err)

	res, err := h.engine.ProcessEvent(context.Background(), tenant, evt.ID, "rescuer")
	require.NoError(t, err)
	require.True(t, res.Success)
	stored := h.event(evt.ID)
	require.Equal(t, events.StatusPosted, stored.Status)
	require.Equal(t, 2, stored.Attempts)
	require.Empty(t, stored.LockedBy)
}

func TestRuleFailureMarksEventFailed(t *testing.T) {
	h := newHarness(t)
	evt := h.create(events.TypeExpense, `{"account_code":"1000","amount":"12","payment_method":"CASH"}`)

	res, err := h.engine.ProcessEvent(context.Background(), tenant, evt.ID, "w1")
	require.ErrorIs(t, err, posting.ErrPostingFailed)
	require.ErrorIs(t, err, ledger.ErrInvalidAccount)
	require.False(t, res.Success)
	require.Equal(t, events.StatusFailed, res.Status)

	stored := h.event(evt.ID)
	require.Equal(t, events.StatusFailed, stored.Status)
	require.False(t, stored.Retryable)
	require.Contains(t, stored.ProcessingError, "not an expense account")
	require.Empty(t, stored.LockedBy)

	entries, err := h.ledger.ListJournalEntries(context.Background(), tenant, ledger.JournalFilter{EventID: &evt.ID})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestInactiveAccountFailsPosting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct, err := h.ledger.CreateAccount(ctx, tenant, ledger.CreateAccountInput{Code: "6300", Name: "Vet", Type: ledger.AccountTypeExpense}, "admin")
	require.NoError(t, err)
	_, err = h.ledger.DeactivateAccount(ctx, tenant, acct.ID, "admin")
	require.NoError(t, err)

	evt := h.create(events.TypeExpense, `{"account_code":"6300","amount":"80","payment_method":"CASH"}`)
	_, err = h.engine.ProcessEvent(ctx, tenant, evt.ID, "w1")
	require.ErrorIs(t, err, ledger.ErrInactiveAccount)
	require.Equal(t, events.StatusFailed, h.event(evt.ID).Status)
}

func TestFailedEventCanBeRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evt := h.create(events.TypeExpense, `{"account_code":"6300","amount":"80","payment_method":"CASH"}`)
	_, err := h.engine.ProcessEvent(ctx, tenant, evt.ID, "w1")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = h.ledger.CreateAccount(ctx, tenant, ledger.CreateAccountInput{Code: "6300", Name: "Vet", Type: ledger.AccountTypeExpense}, "admin")
	require.NoError(t, err)

	res, err := h.engine.ProcessEvent(ctx, tenant, evt.ID, "w2")
	require.NoError(t, err)
	require.True(t, res.Success)
	stored := h.event(evt.ID)
	require.Equal(t, events.StatusPosted, stored.Status)
	require.Equal(t, 2, stored.Attempts)
	require.Empty(t, stored.ProcessingError)
}

type racingStore struct {
	*memory.Store
	once sync.Once
	race func()
}

func (r *racingStore) ApplyPosting(ctx context.Context, p posting.Posting) (events.Event, error) {
	r.once.Do(r.race)
	return r.Store.ApplyPosting(ctx, p)
}

func TestConcurrentBalanceWriteIsNotLost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.post(events.TypeReceivePurchaseOrder, receipt("corn", "100", "15.50"))

	racing := &racingStore{Store: h.store}
	racing.race = func() {
		h.post(events.TypeReceivePurchaseOrder, receipt("corn", "50", "20.00"))
	}
	contended := h.newEngine(racing, nil)

	feed := h.create(events.TypeFeedLivestock, `{"feed_item_id":"corn","quantity":"30"}`)
	res, err := contended.ProcessEvent(ctx, tenant, feed.ID, "w1")
	require.ErrorIs(t, err, posting.ErrStorageConflict)
	require.False(t, res.Success)
	stored := h.event(feed.ID)
	require.Equal(t, events.StatusFailed, stored.Status)
	require.True(t, stored.Retryable)

	res, err = contended.ProcessEvent(ctx, tenant, feed.ID, "w2")
	require.NoError(t, err)
	requireLines(t, h.entry(res.JournalEntryID),
		line{"6000", ledger.Debit, "510.00"},
		line{"1200", ledger.Credit, "510.00"})
	b := h.balance(barn, "corn")
	require.True(t, b.QuantityOnHand.Equal(dec("120")))
	require.True(t, b.AvgCostPerUnit.Equal(dec("17.00")))
}

func TestProcessEventRecordsAuditAndMetrics(t *testing.T) {
	h := newHarness(t)
	evt, _ := h.post(events.TypeExpense, `{"account_code":"6200","amount":"5","payment_method":"CASH"}`)

	var actions []string
	for _, log := range h.store.AuditLogs() {
		if log.EntityID == evt.ID.String() {
			actions = append(actions, log.Action)
		}
	}
	require.Equal(t, []string{"event.create", "event.post"}, actions)

	families, err := h.registry.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() != "farmledger_posting_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["type"] == "EXPENSE" && labels["outcome"] == posting.OutcomePosted && m.GetCounter().GetValue() == 1 {
				found = true
			}
		}
	}
	require.True(t, found, "posted counter not recorded")
}

func TestProcessEventRequiresLocker(t *testing.T) {
	h := newHarness(t)
	evt := h.create(events.TypeExpense, `{"account_code":"6200","amount":"5","payment_method":"CASH"}`)
	_, err := h.engine.ProcessEvent(context.Background(), tenant, evt.ID, "")
	require.ErrorIs(t, err, events.ErrValidation)
	require.Equal(t, events.StatusPending, h.event(evt.ID).Status)
}
