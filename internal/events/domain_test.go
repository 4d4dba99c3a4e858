package events

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}: true,
		{StatusProcessing, StatusPosted}:  true,
		{StatusProcessing, StatusFailed}:  true,
		{StatusFailed, StatusProcessing}:  true,
		{StatusPosted, StatusReversed}:    true,
	}
	all := []Status{StatusPending, StatusProcessing, StatusPosted, StatusFailed, StatusReversed}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]Status{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestTransitionValidate(t *testing.T) {
	err := Transition{From: StatusPending, To: StatusProcessing}.Validate()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected locker requirement, got %v", err)
	}
	require.NoError(t, Transition{From: StatusPending, To: StatusProcessing, LockerID: "w1"}.Validate())
	require.ErrorIs(t, Transition{From: StatusReversed, To: StatusPosted}.Validate(), ErrInvalidTransition)
}

func TestTransitionMatchesFencesLocker(t *testing.T) {
	evt := Event{Status: StatusProcessing, LockedBy: "w1"}
	require.True(t, Transition{From: StatusProcessing, To: StatusPosted, LockerID: "w1"}.Matches(evt))
	require.False(t, Transition{From: StatusProcessing, To: StatusPosted, LockerID: "w2"}.Matches(evt))
	require.True(t, Transition{From: StatusProcessing, To: StatusFailed}.Matches(evt))
	require.False(t, Transition{From: StatusPending, To: StatusProcessing, LockerID: "w1"}.Matches(evt))
}

func TestApplyTransitionEffects(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	evt := Event{Status: StatusPending}

	evt = ApplyTransition(evt, Transition{From: StatusPending, To: StatusProcessing, LockerID: "w1", At: at})
	require.Equal(t, StatusProcessing, evt.Status)
	require.Equal(t, "w1", evt.LockedBy)
	require.Equal(t, 1, evt.Attempts)
	require.NotNil(t, evt.LastAttemptAt)

	evt = ApplyTransition(evt, Transition{From: StatusProcessing, To: StatusFailed, Error: "boom", Retryable: true, At: at})
	require.Equal(t, "", evt.LockedBy)
	require.Equal(t, "boom", evt.ProcessingError)
	require.True(t, evt.Retryable)

	evt = ApplyTransition(evt, Transition{From: StatusFailed, To: StatusProcessing, LockerID: "w2", At: at})
	require.Equal(t, 2, evt.Attempts)

	entryID := uuid.New()
	evt = ApplyTransition(evt, Transition{From: StatusProcessing, To: StatusPosted, JournalEntryID: &entryID, At: at})
	require.Equal(t, StatusPosted, evt.Status)
	require.Empty(t, evt.ProcessingError)
	require.False(t, evt.Retryable)
	require.Equal(t, entryID, *evt.PostedJournalEntryID)

	reversalID := uuid.New()
	evt = ApplyTransition(evt, Transition{From: StatusPosted, To: StatusReversed, JournalEntryID: &reversalID, At: at})
	require.Equal(t, StatusReversed, evt.Status)
	require.Equal(t, entryID, *evt.PostedJournalEntryID)
	require.Equal(t, reversalID, *evt.ReversalJournalEntryID)
}
