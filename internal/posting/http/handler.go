// Package postinghttp exposes the operator API of the posting engine.
package postinghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/platform/httpx"
	"github.com/odyssey-erp/farmledger/internal/posting"
	"github.com/odyssey-erp/farmledger/internal/shared"
)

// LockerHeader carries the caller's locker id on process requests.
const LockerHeader = "X-Locker-ID"

// EventService is the part of events.Service the handler uses.
type EventService interface {
	CreateEventDetailed(ctx context.Context, tenantID string, in events.CreateInput, actorID string) (events.Event, bool, error)
	GetEvent(ctx context.Context, tenantID string, id uuid.UUID) (events.Event, error)
	ListEvents(ctx context.Context, tenantID string, filter events.ListFilter) ([]events.Event, error)
}

// Engine posts and reverses events.
type Engine interface {
	ProcessEvent(ctx context.Context, tenantID string, eventID uuid.UUID, lockerID string) (posting.Result, error)
	ReverseEvent(ctx context.Context, tenantID string, eventID uuid.UUID, reason, actorID string) (posting.ReversalResult, error)
}

// LedgerReader serves journal and trial balance reads.
type LedgerReader interface {
	GetJournalEntry(ctx context.Context, tenantID string, id uuid.UUID) (ledger.JournalEntry, error)
	TrialBalance(ctx context.Context, tenantID string) (ledger.TrialBalance, error)
}

// Scheduler enqueues background processing of an event.
type Scheduler interface {
	EnqueueProcessEvent(ctx context.Context, tenantID string, eventID uuid.UUID) error
}

// Handler serves tenant scoped posting endpoints.
type Handler struct {
	logger    *slog.Logger
	events    EventService
	engine    Engine
	ledger    LedgerReader
	scheduler Scheduler
	problems  httpx.ErrorMapper
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, eventsSvc EventService, engine Engine, ledgerReader LedgerReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		events:   eventsSvc,
		engine:   engine,
		ledger:   ledgerReader,
		problems: errorMapper(logger),
	}
}

// WithScheduler enables ?process=async on event creation.
func (h *Handler) WithScheduler(s Scheduler) *Handler {
	h.scheduler = s
	return h
}

// MountRoutes registers the routes below /tenants/{tenantID}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/events", h.createEvent)
		r.Get("/events", h.listEvents)
		r.Get("/events/{eventID}", h.getEvent)
		r.Post("/events/{eventID}/process", h.processEvent)
		r.Post("/events/{eventID}/reverse", h.reverseEvent)
		r.Get("/journal-entries/{entryID}", h.getJournalEntry)
		r.Get("/trial-balance", h.trialBalance)
		r.Post("/idempotency-keys", h.idempotencyKey)
	})
}

type createEventResponse struct {
	Event   events.Event `json:"event"`
	Created bool         `json:"created"`
	Queued  bool         `json:"queued,omitempty"`
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	async := false
	switch mode := r.URL.Query().Get("process"); mode {
	case "":
	case "async":
		if h.scheduler == nil {
			h.respondError(w, r, fmt.Errorf("%w: background processing is not configured", httpx.ErrValidation))
			return
		}
		async = true
	default:
		h.respondError(w, r, fmt.Errorf("%w: unknown process mode %q", httpx.ErrValidation, mode))
		return
	}
	var in events.CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	evt, created, err := h.events.CreateEventDetailed(r.Context(), tenantID(r), in, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	queued := false
	if async && (evt.Status == events.StatusPending || evt.Status == events.StatusFailed) {
		if err := h.scheduler.EnqueueProcessEvent(r.Context(), evt.TenantID, evt.ID); err != nil {
			// The event is stored; the sweeper picks it up.
			h.logger.Warn("enqueue event processing", slog.String("event_id", evt.ID.String()), slog.Any("error", err))
		} else {
			queued = true
		}
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	httpx.JSON(w, status, createEventResponse{Event: evt, Created: created, Queued: queued})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := events.ListFilter{
		Status: events.Status(strings.ToUpper(q.Get("status"))),
		Type:   events.Type(strings.ToUpper(q.Get("type"))),
		SiteID: q.Get("site_id"),
		Limit:  atoi(q.Get("limit")),
		Offset: atoi(q.Get("offset")),
	}
	list, err := h.events.ListEvents(r.Context(), tenantID(r), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": list})
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "eventID")
	if !ok {
		return
	}
	evt, err := h.events.GetEvent(r.Context(), tenantID(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, evt)
}

type processRequest struct {
	LockerID string `json:"locker_id"`
}

func (h *Handler) processEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "eventID")
	if !ok {
		return
	}
	locker := strings.TrimSpace(r.Header.Get(LockerHeader))
	if locker == "" && r.ContentLength > 0 {
		var body processRequest
		if err := httpx.DecodeJSON(r, &body); err != nil {
			h.respondError(w, r, err)
			return
		}
		locker = strings.TrimSpace(body.LockerID)
	}
	if locker == "" {
		locker = "http:" + uuid.NewString()
	}
	res, err := h.engine.ProcessEvent(r.Context(), tenantID(r), id, locker)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, res)
	case errors.Is(err, posting.ErrLockUnavailable):
		httpx.JSON(w, http.StatusConflict, res)
	case errors.Is(err, posting.ErrPostingFailed) && res.EventID != uuid.Nil:
		httpx.JSON(w, http.StatusUnprocessableEntity, res)
	default:
		h.respondError(w, r, err)
	}
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reverseEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "eventID")
	if !ok {
		return
	}
	var body reverseRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.engine.ReverseEvent(r.Context(), tenantID(r), id, body.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) getJournalEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "entryID")
	if !ok {
		return
	}
	entry, err := h.ledger.GetJournalEntry(r.Context(), tenantID(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.ledger.TrialBalance(r.Context(), tenantID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"trial_balance": tb,
		"balanced":      tb.Balanced(),
	})
}

type idempotencyRequest struct {
	Label       string `json:"label"`
	Fingerprint any    `json:"fingerprint"`
	// BucketSeconds folds At into a time bucket appended to the fingerprint.
	BucketSeconds int       `json:"bucket_seconds"`
	At            time.Time `json:"at"`
}

func (h *Handler) idempotencyKey(w http.ResponseWriter, r *http.Request) {
	var body idempotencyRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	fingerprint := body.Fingerprint
	if body.BucketSeconds > 0 {
		at := body.At
		if at.IsZero() {
			at = time.Now()
		}
		fingerprint = []any{body.Fingerprint, events.TimeBucket(at, time.Duration(body.BucketSeconds)*time.Second)}
	}
	key, err := events.GenerateIdempotencyKey(tenantID(r), body.Label, fingerprint)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"idempotency_key": key})
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.problems.Respond(w, r, err)
}

func errorMapper(logger *slog.Logger) httpx.ErrorMapper {
	return httpx.ErrorMapper{
		Rules: []httpx.ErrorRule{
			{Status: http.StatusBadRequest, Title: "Validation Failed", Match: httpx.Is(
				events.ErrValidation,
				events.ErrInvalidFingerprint,
				shared.ErrTenantRequired,
				ledger.ErrInvalidAccount,
				inventory.ErrInvalidQuantity,
			)},
			{Status: http.StatusNotFound, Title: "Not Found", Match: func(err error) bool {
				return errors.Is(err, events.ErrNotFound) || ledger.IsNotFound(err)
			}},
			{Status: http.StatusConflict, Title: "Conflict", Match: httpx.Is(posting.ErrLockUnavailable, posting.ErrNotReversible)},
			{Status: http.StatusUnprocessableEntity, Title: "Posting Failed", Match: httpx.Is(posting.ErrPostingFailed)},
		},
		OnUnhandled: func(r *http.Request, err error) {
			logger.Error("posting api", slog.String("path", r.URL.Path), slog.Any("error", err))
		},
	}
}

func tenantID(r *http.Request) string {
	return chi.URLParam(r, "tenantID")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
