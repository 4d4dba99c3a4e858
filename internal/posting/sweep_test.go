package posting_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/posting"
)

func TestSweeperPostsDueEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.create(events.TypeExpense, `{"account_code":"6200","amount":"5","payment_method":"CASH"}`)
	second := h.create(events.TypeExpense, `{"account_code":"6200","amount":"7","payment_method":"CREDIT"}`)
	broken := h.create(events.TypeExpense, `{"account_code":"1000","amount":"7","payment_method":"CASH"}`)
	_, err := h.engine.ProcessEvent(ctx, tenant, broken.ID, "w")
	require.Error(t, err)

	sweeper := posting.NewSweeper(h.events, h.engine, posting.DefaultRetryPolicy(), 10, 3, nil)
	sweeper.WithNow(func() time.Time { return time.Now().Add(time.Second) })
	stats, err := sweeper.Sweep(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Candidates, "non-retryable failures are not picked up")
	require.Equal(t, 2, stats.Posted)

	require.Equal(t, events.StatusPosted, h.event(first.ID).Status)
	require.Equal(t, events.StatusPosted, h.event(second.ID).Status)
	require.Equal(t, events.StatusFailed, h.event(broken.ID).Status)

	stats, err = sweeper.Sweep(ctx, tenant)
	require.NoError(t, err)
	require.Zero(t, stats.Candidates)
}

func TestSweeperRecoversAbandonedProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	evt := h.create(events.TypeExpense, `{"account_code":"6200","amount":"5","payment_method":"CASH"}`)
	_, err := h.events.TransitionStatus(ctx, events.Transition{
		TenantID: tenant, EventID: evt.ID, From: events.StatusPending, To: events.StatusProcessing, LockerID: "crashed",
	})
	require.NoError(t, err)

	sweeper := posting.NewSweeper(h.events, h.engine, posting.DefaultRetryPolicy(), 10, 1, nil)
	stats, err := sweeper.Sweep(ctx, "")
	require.NoError(t, err)
	require.Zero(t, stats.Posted, "lease has not lapsed yet")

	sweeper.WithNow(func() time.Time { return time.Now().Add(2 * h.engine.LockTTL()) })
	stats, err = sweeper.Sweep(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Posted)
	require.Equal(t, events.StatusPosted, h.event(evt.ID).Status)
}
