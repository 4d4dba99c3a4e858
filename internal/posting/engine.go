// Package posting turns recorded events into balanced journal entries and
// inventory movements, exactly once per event.
package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/lease"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/notify"
	"github.com/odyssey-erp/farmledger/internal/shared"
)

const defaultLockTTL = 30 * time.Second

// Result reports the outcome of ProcessEvent.
type Result struct {
	Success        bool          `json:"success"`
	EventID        uuid.UUID     `json:"event_id"`
	Status         events.Status `json:"status,omitempty"`
	JournalEntryID *uuid.UUID    `json:"journal_entry_id,omitempty"`
	Replayed       bool          `json:"replayed,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Dependencies wires the engine.
type Dependencies struct {
	Events    EventStore
	Charts    ledger.ChartProvider
	Journals  JournalReader
	Store     Store
	Leases    lease.Manager
	Settings  SettingsProvider
	Audit     shared.AuditRecorder
	Publisher notify.Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

// Engine processes and reverses events.
type Engine struct {
	events    EventStore
	charts    ledger.ChartProvider
	journals  JournalReader
	store     Store
	leases    lease.Manager
	settings  SettingsProvider
	audit     shared.AuditRecorder
	publisher notify.Publisher
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	lockTTL   time.Duration
	now       func() time.Time
}

// NewEngine constructs Engine. lockTTL bounds how long a crashed processor can
// keep an event.
func NewEngine(deps Dependencies, lockTTL time.Duration) *Engine {
	if deps.Settings == nil {
		deps.Settings = NewStaticSettings(Settings{})
	}
	if deps.Audit == nil {
		deps.Audit = shared.NopAuditRecorder{}
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/odyssey-erp/farmledger/internal/posting")
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Engine{
		events:    deps.Events,
		charts:    deps.Charts,
		journals:  deps.Journals,
		store:     deps.Store,
		leases:    deps.Leases,
		settings:  deps.Settings,
		audit:     deps.Audit,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		tracer:    deps.Tracer,
		lockTTL:   lockTTL,
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// LockTTL returns the lease duration used per event.
func (e *Engine) LockTTL() time.Duration {
	return e.lockTTL
}

// ProcessEvent posts one event under a lease held by lockerID. It returns
// ErrLockUnavailable when another processor holds the event, and an error
// wrapping ErrPostingFailed when the event ended FAILED. Calling it again on a
// POSTED event replays the stored result.
func (e *Engine) ProcessEvent(ctx context.Context, tenantID string, eventID uuid.UUID, lockerID string) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "posting.ProcessEvent", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("event_id", eventID.String()),
		attribute.String("locker_id", lockerID),
	))
	defer span.End()
	start := e.now()

	res, evtType, outcome, err := e.process(ctx, tenantID, eventID, lockerID)
	e.metrics.observe(string(evtType), outcome, e.now().Sub(start))
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return res, err
}

func (e *Engine) process(ctx context.Context, tenantID string, eventID uuid.UUID, lockerID string) (Result, events.Type, string, error) {
	res := Result{EventID: eventID}
	if tenantID == "" || lockerID == "" {
		err := fmt.Errorf("%w: tenant and locker id required", events.ErrValidation)
		res.Error = err.Error()
		return res, "", OutcomeFailed, err
	}
	logger := e.logger.With(
		slog.String("tenant_id", tenantID),
		slog.String("event_id", eventID.String()),
		slog.String("locker_id", lockerID))

	key := shared.EventLockKey(tenantID, eventID.String())
	acquired, err := e.leases.Acquire(ctx, key, lockerID, e.lockTTL)
	if err != nil {
		res.Error = err.Error()
		return res, "", OutcomeFailed, fmt.Errorf("posting: acquire lease: %w", err)
	}
	if !acquired {
		e.metrics.lockContended()
		res.Error = lockedMessage
		return res, "", OutcomeLocked, ErrLockUnavailable
	}
	defer func() {
		if err := e.leases.Release(context.WithoutCancel(ctx), key, lockerID); err != nil {
			logger.Warn("release lease", slog.Any("error", err))
		}
	}()

	evt, err := e.events.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		res.Error = err.Error()
		return res, "", OutcomeFailed, err
	}
	res.Status = evt.Status
	logger = logger.With(slog.String("event_type", string(evt.Type)))

	switch evt.Status {
	case events.StatusPosted, events.StatusReversed:
		res.Success = true
		res.Replayed = true
		res.JournalEntryID = evt.PostedJournalEntryID
		return res, evt.Type, OutcomeReplayed, nil
	case events.StatusProcessing:
		// The lease is ours, so the previous holder's lease lapsed mid-run.
		logger.Warn("recovering event from expired lease", slog.String("previous_locker", evt.LockedBy))
		recovered, err := e.events.TransitionStatus(ctx, events.Transition{
			TenantID:  tenantID,
			EventID:   eventID,
			From:      events.StatusProcessing,
			To:        events.StatusFailed,
			LockerID:  evt.LockedBy,
			Error:     leaseExpiredMessage,
			Retryable: true,
			At:        e.now().UTC(),
		})
		if err != nil {
			return e.invariant(logger, res, evt.Type, err)
		}
		evt = recovered
	}

	claimed, err := e.events.TransitionStatus(ctx, events.Transition{
		TenantID: tenantID,
		EventID:  eventID,
		From:     evt.Status,
		To:       events.StatusProcessing,
		LockerID: lockerID,
		At:       e.now().UTC(),
	})
	if err != nil {
		return e.invariant(logger, res, evt.Type, err)
	}
	evt = claimed
	res.Status = evt.Status

	posted, err := e.post(ctx, evt, lockerID)
	if err != nil {
		if errors.Is(err, events.ErrInvalidTransition) {
			return e.invariant(logger, res, evt.Type, err)
		}
		return e.fail(ctx, logger, res, evt, lockerID, err)
	}

	res.Success = true
	res.Status = posted.Status
	res.JournalEntryID = posted.PostedJournalEntryID
	logger.Info("event posted", slog.Any("journal_entry_id", res.JournalEntryID), slog.Int("attempts", posted.Attempts))
	e.afterCommit(ctx, logger, posted, notify.KindEventPosted, "", lockerID)
	return res, evt.Type, OutcomePosted, nil
}

func (e *Engine) post(ctx context.Context, evt events.Event, lockerID string) (events.Event, error) {
	payload, err := evt.Decode()
	if err != nil {
		return events.Event{}, err
	}
	chart, err := e.charts.Chart(ctx, evt.TenantID)
	if err != nil {
		return events.Event{}, fmt.Errorf("posting: load chart: %w", err)
	}
	settings, err := e.settings.Settings(ctx, evt.TenantID)
	if err != nil {
		return events.Event{}, fmt.Errorf("posting: load settings: %w", err)
	}
	postedAt := e.now().UTC()
	draft, err := Build(ctx, RuleInput{
		Event:    evt,
		Payload:  payload,
		Chart:    chart,
		Settings: settings,
		Reader:   e.store,
		PostedAt: postedAt,
	})
	if err != nil {
		return events.Event{}, err
	}
	transition := events.Transition{
		TenantID: evt.TenantID,
		EventID:  evt.ID,
		From:     events.StatusProcessing,
		To:       events.StatusPosted,
		LockerID: lockerID,
		At:       postedAt,
	}
	if draft.Entry != nil {
		id := draft.Entry.ID
		transition.JournalEntryID = &id
	}
	return e.store.ApplyPosting(ctx, Posting{
		Transition: transition,
		Entry:      draft.Entry,
		Updates:    draft.Updates,
		Movements:  draft.Movements,
	})
}

// fail records cause on the event and reports the failure to the caller.
func (e *Engine) fail(ctx context.Context, logger *slog.Logger, res Result, evt events.Event, lockerID string, cause error) (Result, events.Type, string, error) {
	retryable := Retryable(cause)
	logger.Warn("event posting failed", slog.Any("error", cause), slog.Bool("retryable", retryable))
	failed, err := e.events.TransitionStatus(context.WithoutCancel(ctx), events.Transition{
		TenantID:  evt.TenantID,
		EventID:   evt.ID,
		From:      events.StatusProcessing,
		To:        events.StatusFailed,
		LockerID:  lockerID,
		Error:     cause.Error(),
		Retryable: retryable,
		At:        e.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, events.ErrInvalidTransition) {
			return e.invariant(logger, res, evt.Type, err)
		}
		logger.Error("record posting failure", slog.Any("error", err))
	} else {
		res.Status = failed.Status
	}
	res.Error = cause.Error()
	return res, evt.Type, OutcomeFailed, fmt.Errorf("%w: %w", ErrPostingFailed, cause)
}

// invariant handles a lost status compare-and-swap. It is never expected
// while the lease is held, so it is logged at error level and counted.
func (e *Engine) invariant(logger *slog.Logger, res Result, evtType events.Type, err error) (Result, events.Type, string, error) {
	if !errors.Is(err, events.ErrInvalidTransition) {
		res.Error = err.Error()
		return res, evtType, OutcomeFailed, err
	}
	e.metrics.invariantViolated()
	logger.Error("event status invariant violated", slog.Any("error", err))
	res.Error = "internal error"
	return res, evtType, OutcomeInvariant, err
}

// afterCommit runs the side effects of a committed change. None of them can
// change the outcome.
func (e *Engine) afterCommit(ctx context.Context, logger *slog.Logger, evt events.Event, kind notify.Kind, reason, actorID string) {
	ctx = context.WithoutCancel(ctx)
	entryID := evt.PostedJournalEntryID
	action := "event.post"
	if kind == notify.KindEventReversed {
		entryID = evt.ReversalJournalEntryID
		action = "event.reverse"
	}
	meta := map[string]any{"type": evt.Type, "attempts": evt.Attempts}
	if entryID != nil {
		meta["journal_entry_id"] = entryID.String()
	}
	if reason != "" {
		meta["reason"] = reason
	}
	if err := e.audit.Record(ctx, shared.AuditLog{
		TenantID: evt.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "event",
		EntityID: evt.ID.String(),
		Meta:     meta,
		At:       evt.UpdatedAt,
	}); err != nil {
		logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
	if err := e.publisher.Publish(ctx, notify.Notification{
		Kind:           kind,
		TenantID:       evt.TenantID,
		EventID:        evt.ID,
		EventType:      string(evt.Type),
		SiteID:         evt.SiteID,
		JournalEntryID: entryID,
		Reason:         reason,
		OccurredAt:     evt.OccurredAt,
	}); err != nil {
		logger.Warn("publish notification failed", slog.String("kind", string(kind)), slog.Any("error", err))
	}
}
