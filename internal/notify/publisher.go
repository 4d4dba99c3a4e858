// Package notify announces committed postings to downstream consumers.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names a notification.
type Kind string

const (
	KindEventPosted   Kind = "event.posted"
	KindEventReversed Kind = "event.reversed"
)

// Notification is published after a posting or reversal commits.
type Notification struct {
	Kind           Kind       `json:"kind"`
	TenantID       string     `json:"tenant_id"`
	EventID        uuid.UUID  `json:"event_id"`
	EventType      string     `json:"event_type"`
	SiteID         string     `json:"site_id"`
	JournalEntryID *uuid.UUID `json:"journal_entry_id,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
	PublishedAt    time.Time  `json:"published_at"`
}

// Publisher delivers notifications. Failures are reported but never undo the
// posting that triggered them.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NopPublisher discards notifications.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Notification) error { return nil }
