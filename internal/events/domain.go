package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the business events the engine posts.
type Type string

const (
	TypeFeedLivestock        Type = "FEED_LIVESTOCK"
	TypeSellLivestock        Type = "SELL_LIVESTOCK"
	TypePurchaseLivestock    Type = "PURCHASE_LIVESTOCK"
	TypeInventoryAdjustment  Type = "INVENTORY_ADJUSTMENT"
	TypeInventoryTransfer    Type = "INVENTORY_TRANSFER"
	TypeReceivePurchaseOrder Type = "RECEIVE_PURCHASE_ORDER"
	TypeSale                 Type = "SALE"
	TypeExpense              Type = "EXPENSE"
)

// Types lists every supported event type.
var Types = []Type{
	TypeFeedLivestock, TypeSellLivestock, TypePurchaseLivestock, TypeInventoryAdjustment,
	TypeInventoryTransfer, TypeReceivePurchaseOrder, TypeSale, TypeExpense,
}

// SourceType records where an event came from.
type SourceType string

const (
	SourceAPI    SourceType = "API"
	SourceSystem SourceType = "SYSTEM"
	SourceImport SourceType = "IMPORT"
)

// Status is the posting lifecycle state of an event.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPosted     Status = "POSTED"
	StatusFailed     Status = "FAILED"
	StatusReversed   Status = "REVERSED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusPosted, StatusFailed},
	StatusFailed:     {StatusProcessing},
	StatusPosted:     {StatusReversed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is an immutable record of a business occurrence plus its posting state.
type Event struct {
	ID                     uuid.UUID       `json:"id"`
	TenantID               string          `json:"tenant_id"`
	SiteID                 string          `json:"site_id"`
	Type                   Type            `json:"type"`
	OccurredAt             time.Time       `json:"occurred_at"`
	SourceType             SourceType      `json:"source_type"`
	Payload                json.RawMessage `json:"payload"`
	IdempotencyKey         string          `json:"idempotency_key"`
	Status                 Status          `json:"status"`
	CreatedBy              string          `json:"created_by"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	ProcessingError        string          `json:"processing_error,omitempty"`
	PostedJournalEntryID   *uuid.UUID      `json:"posted_journal_entry_id,omitempty"`
	ReversalJournalEntryID *uuid.UUID      `json:"reversal_journal_entry_id,omitempty"`
	LockedBy               string          `json:"locked_by,omitempty"`
	Attempts               int             `json:"attempts"`
	Retryable              bool            `json:"retryable"`
	LastAttemptAt          *time.Time      `json:"last_attempt_at,omitempty"`
}

// IdempotencyRecord maps a tenant scoped key to the event it created.
type IdempotencyRecord struct {
	TenantID  string
	Key       string
	EventID   uuid.UUID
	CreatedAt time.Time
}

// CreateInput carries the caller supplied fields of a new event.
type CreateInput struct {
	SiteID         string          `json:"site_id"`
	Type           Type            `json:"type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	SourceType     SourceType      `json:"source_type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Transition is a compare-and-swap of an event's status. The fields after To
// are applied according to the target status.
type Transition struct {
	TenantID       string
	EventID        uuid.UUID
	From           Status
	To             Status
	LockerID       string
	Error          string
	Retryable      bool
	JournalEntryID *uuid.UUID
	At             time.Time
}

// Validate checks the transition against the lifecycle table.
func (t Transition) Validate() error {
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: %s -> %s is not allowed", ErrInvalidTransition, t.From, t.To)
	}
	if t.To == StatusProcessing && t.LockerID == "" {
		return fmt.Errorf("%w: locker id required to enter %s", ErrInvalidTransition, StatusProcessing)
	}
	return nil
}

// Matches reports whether evt is in the state the transition expects. Leaving
// PROCESSING with a locker id also requires that locker to still own the event.
func (t Transition) Matches(evt Event) bool {
	if evt.Status != t.From {
		return false
	}
	if t.From == StatusProcessing && t.LockerID != "" && evt.LockedBy != t.LockerID {
		return false
	}
	return true
}

// ApplyTransition returns evt with the side effects of t applied. Callers must
// check Validate and Matches first.
func ApplyTransition(evt Event, t Transition) Event {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	evt.Status = t.To
	evt.UpdatedAt = at
	switch t.To {
	case StatusProcessing:
		evt.LockedBy = t.LockerID
		evt.Attempts++
		evt.LastAttemptAt = &at
	case StatusFailed:
		evt.LockedBy = ""
		evt.ProcessingError = t.Error
		evt.Retryable = t.Retryable
	case StatusPosted:
		evt.LockedBy = ""
		evt.ProcessingError = ""
		evt.Retryable = false
		evt.PostedJournalEntryID = t.JournalEntryID
	case StatusReversed:
		evt.ReversalJournalEntryID = t.JournalEntryID
	}
	return evt
}

// ListFilter narrows event listings.
type ListFilter struct {
	Status Status
	Type   Type
	SiteID string
	Limit  int
	Offset int
}

// RetryFilter selects candidates for the retry sweeper: PENDING events created
// before PendingBefore, retryable FAILED events below MaxAttempts, and
// PROCESSING events whose last attempt started before StaleBefore.
type RetryFilter struct {
	TenantID      string
	MaxAttempts   int
	PendingBefore time.Time
	StaleBefore   time.Time
	Limit         int
}

var (
	// ErrNotFound indicates a missing event.
	ErrNotFound = errors.New("events: event not found")
	// ErrValidation indicates a malformed event or payload.
	ErrValidation = errors.New("events: validation failed")
	// ErrInvalidTransition indicates a lost status compare-and-swap or an illegal step.
	ErrInvalidTransition = errors.New("events: invalid status transition")
	// ErrInvalidFingerprint indicates idempotency key inputs that cannot be hashed.
	ErrInvalidFingerprint = errors.New("events: invalid idempotency fingerprint")
)
