package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/farmledger/internal/shared"
)

// RepositoryPort abstracts event persistence.
type RepositoryPort interface {
	// InsertEvent stores evt together with its idempotency record. When the key
	// is already taken the existing event is returned with created=false.
	InsertEvent(ctx context.Context, evt Event) (Event, bool, error)
	GetEvent(ctx context.Context, tenantID string, id uuid.UUID) (Event, error)
	ListEvents(ctx context.Context, tenantID string, filter ListFilter) ([]Event, error)
	ListRetryable(ctx context.Context, filter RetryFilter) ([]Event, error)
	UpdateStatus(ctx context.Context, t Transition) (Event, error)
}

// Service is the event store used by callers and the posting engine.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateEvent validates and records a PENDING event. A key that already maps
// to an event returns that event unchanged.
func (s *Service) CreateEvent(ctx context.Context, tenantID string, in CreateInput, actorID string) (Event, error) {
	evt, _, err := s.CreateEventDetailed(ctx, tenantID, in, actorID)
	return evt, err
}

// CreateEventDetailed is CreateEvent that also reports whether a new event was stored.
func (s *Service) CreateEventDetailed(ctx context.Context, tenantID string, in CreateInput, actorID string) (Event, bool, error) {
	evt, err := s.prepare(tenantID, in, actorID)
	if err != nil {
		return Event{}, false, err
	}
	stored, created, err := s.repo.InsertEvent(ctx, evt)
	if err != nil {
		return Event{}, false, fmt.Errorf("events: create: %w", err)
	}
	if !created {
		s.logger.Info("duplicate event submission",
			slog.String("tenant_id", tenantID),
			slog.String("event_id", stored.ID.String()),
			slog.String("idempotency_key", evt.IdempotencyKey))
		return stored, false, nil
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   "event.create",
		Entity:   "event",
		EntityID: stored.ID.String(),
		Meta: map[string]any{
			"type":            stored.Type,
			"site_id":         stored.SiteID,
			"idempotency_key": stored.IdempotencyKey,
		},
		At: stored.CreatedAt,
	}); err != nil {
		s.logger.Warn("audit record failed",
			slog.String("tenant_id", tenantID),
			slog.String("event_id", stored.ID.String()),
			slog.String("action", "event.create"),
			slog.Any("error", err))
	}
	return stored, true, nil
}

func (s *Service) prepare(tenantID string, in CreateInput, actorID string) (Event, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Event{}, fmt.Errorf("%w: %v", ErrValidation, shared.ErrTenantRequired)
	}
	in.SiteID = strings.TrimSpace(in.SiteID)
	if in.SiteID == "" {
		return Event{}, fmt.Errorf("%w: site_id required", ErrValidation)
	}
	switch in.SourceType {
	case "":
		in.SourceType = SourceAPI
	case SourceAPI, SourceSystem, SourceImport:
	default:
		return Event{}, fmt.Errorf("%w: unknown source_type %q", ErrValidation, in.SourceType)
	}
	now := s.now().UTC()
	if in.OccurredAt.IsZero() {
		in.OccurredAt = now
	}
	if _, err := DecodePayload(in.Type, in.SiteID, in.Payload); err != nil {
		return Event{}, err
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, in.Payload); err != nil {
		return Event{}, fmt.Errorf("%w: payload: %v", ErrValidation, err)
	}
	in.Payload = compact.Bytes()
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		generated, err := defaultKey(tenantID, in)
		if err != nil {
			return Event{}, err
		}
		key = generated
	}
	if actorID == "" {
		actorID = "system"
	}
	return Event{
		ID:             uuid.New(),
		TenantID:       tenantID,
		SiteID:         in.SiteID,
		Type:           in.Type,
		OccurredAt:     in.OccurredAt.UTC(),
		SourceType:     in.SourceType,
		Payload:        in.Payload,
		IdempotencyKey: key,
		Status:         StatusPending,
		CreatedBy:      actorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// GetEvent loads one event.
func (s *Service) GetEvent(ctx context.Context, tenantID string, id uuid.UUID) (Event, error) {
	return s.repo.GetEvent(ctx, tenantID, id)
}

// ListEvents lists a tenant's events, newest first.
func (s *Service) ListEvents(ctx context.Context, tenantID string, filter ListFilter) ([]Event, error) {
	page := shared.NormalizePage(filter.Limit, filter.Offset)
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.ListEvents(ctx, tenantID, filter)
}

// ListRetryable returns sweeper candidates.
func (s *Service) ListRetryable(ctx context.Context, filter RetryFilter) ([]Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.repo.ListRetryable(ctx, filter)
}

// TransitionStatus moves an event along its lifecycle with compare-and-swap
// semantics. A stale From (or a foreign locker when leaving PROCESSING) fails
// with ErrInvalidTransition.
func (s *Service) TransitionStatus(ctx context.Context, t Transition) (Event, error) {
	if err := t.Validate(); err != nil {
		return Event{}, err
	}
	if t.At.IsZero() {
		t.At = s.now().UTC()
	}
	return s.repo.UpdateStatus(ctx, t)
}
