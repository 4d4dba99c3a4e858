package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/farmledger/internal/platform/db"
)

// Repository persists events in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, tenant_id, site_id, type, occurred_at, source_type, payload, idempotency_key, status,
created_by, created_at, updated_at, COALESCE(processing_error, ''), posted_journal_entry_id,
reversal_journal_entry_id, COALESCE(locked_by, ''), attempts, retryable, last_attempt_at`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.TenantID, &e.SiteID, &e.Type, &e.OccurredAt, &e.SourceType, &e.Payload, &e.IdempotencyKey, &e.Status,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt, &e.ProcessingError, &e.PostedJournalEntryID,
		&e.ReversalJournalEntryID, &e.LockedBy, &e.Attempts, &e.Retryable, &e.LastAttemptAt)
	return e, err
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertEvent implements RepositoryPort. It runs read-committed so a key
// claimed by a concurrent transaction is visible once that transaction commits.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) (Event, bool, error) {
	var stored Event
	created := false
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO events (id, tenant_id, site_id, type, occurred_at, source_type, payload, idempotency_key,
status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
			evt.ID, evt.TenantID, evt.SiteID, evt.Type, evt.OccurredAt, evt.SourceType, []byte(evt.Payload), evt.IdempotencyKey,
			evt.Status, evt.CreatedBy, evt.CreatedAt, evt.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			existing, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events e
WHERE e.id = (SELECT event_id FROM idempotency_records WHERE tenant_id=$1 AND key=$2)`, evt.TenantID, evt.IdempotencyKey))
			if err != nil {
				return fmt.Errorf("load event for key %s: %w", evt.IdempotencyKey, err)
			}
			stored = existing
			return nil
		}
		if _, err := tx.Exec(ctx, `INSERT INTO idempotency_records (tenant_id, key, event_id, created_at) VALUES ($1, $2, $3, $4)`,
			evt.TenantID, evt.IdempotencyKey, evt.ID, evt.CreatedAt); err != nil {
			return fmt.Errorf("insert idempotency record: %w", err)
		}
		stored = evt
		created = true
		return nil
	})
	if err != nil {
		return Event{}, false, err
	}
	return stored, created, nil
}

// GetEvent implements RepositoryPort.
func (r *Repository) GetEvent(ctx context.Context, tenantID string, id uuid.UUID) (Event, error) {
	return getEvent(ctx, r.pool, tenantID, id)
}

func getEvent(ctx context.Context, q db.Querier, tenantID string, id uuid.UUID) (Event, error) {
	e, err := scanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Event{}, fmt.Errorf("events: get: %w", err)
	}
	return e, nil
}

// ListEvents implements RepositoryPort.
func (r *Repository) ListEvents(ctx context.Context, tenantID string, filter ListFilter) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM events
WHERE tenant_id=$1 AND ($2 = '' OR status=$2) AND ($3 = '' OR type=$3) AND ($4 = '' OR site_id=$4)
ORDER BY created_at DESC, id
LIMIT $5 OFFSET $6`, tenantID, string(filter.Status), string(filter.Type), filter.SiteID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("events: list: %w", err)
	}
	return scanEvents(rows)
}

// ListRetryable implements RepositoryPort.
func (r *Repository) ListRetryable(ctx context.Context, f RetryFilter) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM events
WHERE ($1 = '' OR tenant_id=$1)
  AND (
       (status='PENDING' AND created_at <= $2)
    OR (status='FAILED' AND retryable AND attempts < $3)
    OR (status='PROCESSING' AND last_attempt_at <= $4)
  )
ORDER BY last_attempt_at NULLS FIRST, created_at
LIMIT $5`, f.TenantID, f.PendingBefore, f.MaxAttempts, f.StaleBefore, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("events: list retryable: %w", err)
	}
	return scanEvents(rows)
}

// UpdateStatus implements RepositoryPort.
func (r *Repository) UpdateStatus(ctx context.Context, t Transition) (Event, error) {
	return UpdateStatus(ctx, r.pool, t)
}

// UpdateStatus performs the status compare-and-swap on q, which may be a
// transaction owned by the caller.
func UpdateStatus(ctx context.Context, q db.Querier, t Transition) (Event, error) {
	if err := t.Validate(); err != nil {
		return Event{}, err
	}
	sets := []string{"status=$3", "updated_at=$4"}
	args := []any{t.TenantID, t.EventID, string(t.To), t.At}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch t.To {
	case StatusProcessing:
		sets = append(sets, "locked_by="+arg(t.LockerID), "attempts=attempts+1", "last_attempt_at=$4")
	case StatusFailed:
		sets = append(sets, "locked_by=NULL", "processing_error="+arg(t.Error), "retryable="+arg(t.Retryable))
	case StatusPosted:
		sets = append(sets, "locked_by=NULL", "processing_error=NULL", "retryable=FALSE", "posted_journal_entry_id="+arg(t.JournalEntryID))
	case StatusReversed:
		sets = append(sets, "reversal_journal_entry_id="+arg(t.JournalEntryID))
	}
	where := "tenant_id=$1 AND id=$2 AND status=" + arg(string(t.From))
	if t.From == StatusProcessing && t.LockerID != "" {
		where += " AND locked_by=" + arg(t.LockerID)
	}
	query := "UPDATE events SET " + strings.Join(sets, ", ") + " WHERE " + where + " RETURNING " + eventColumns
	e, err := scanEvent(q.QueryRow(ctx, query, args...))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Event{}, fmt.Errorf("events: update status: %w", err)
	}
	current, getErr := getEvent(ctx, q, t.TenantID, t.EventID)
	if getErr != nil {
		return Event{}, getErr
	}
	return Event{}, fmt.Errorf("%w: expected %s (locker %q) but event %s is %s (locker %q)",
		ErrInvalidTransition, t.From, t.LockerID, t.EventID, current.Status, current.LockedBy)
}
