package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/farmledger/internal/platform/db"
)

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	ListAccounts(ctx context.Context, tenantID string) ([]Account, error)
	InsertAccount(ctx context.Context, acct Account) (bool, error)
	GetAccountForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (Account, error)
	UpdateAccountActive(ctx context.Context, tenantID string, id uuid.UUID, active bool, at time.Time) error
	MapRole(ctx context.Context, tenantID string, role Role, accountID uuid.UUID, overwrite bool) error
	InsertJournalEntry(ctx context.Context, entry JournalEntry) error
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds the transactional operations to q, typically a pgx.Tx
// owned by another package.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
}

const accountColumns = `id, tenant_id, code, name, type, subtype, normal_balance, is_active, is_system, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.Subtype, &a.NormalBalance, &a.IsActive, &a.IsSystem, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func listAccounts(ctx context.Context, q db.Querier, tenantID string) ([]Account, error) {
	rows, err := q.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list accounts: %w", err)
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) ListAccounts(ctx context.Context, tenantID string) ([]Account, error) {
	return listAccounts(ctx, r.q, tenantID)
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (bool, error) {
	tag, err := r.q.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (tenant_id, code) DO NOTHING`,
		a.ID, a.TenantID, a.Code, a.Name, a.Type, a.Subtype, a.NormalBalance, a.IsActive, a.IsSystem, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("ledger: insert account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (Account, error) {
	a, err := scanAccount(r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: id %s", ErrAccountNotFound, id)
	}
	return a, err
}

func (r *txRepository) UpdateAccountActive(ctx context.Context, tenantID string, id uuid.UUID, active bool, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE accounts SET is_active=$3, updated_at=$4 WHERE tenant_id=$1 AND id=$2`, tenantID, id, active, at)
	return err
}

func (r *txRepository) MapRole(ctx context.Context, tenantID string, role Role, accountID uuid.UUID, overwrite bool) error {
	query := `INSERT INTO account_roles (tenant_id, role, account_id, updated_at) VALUES ($1, $2, $3, NOW())
ON CONFLICT (tenant_id, role) DO NOTHING`
	if overwrite {
		query = `INSERT INTO account_roles (tenant_id, role, account_id, updated_at) VALUES ($1, $2, $3, NOW())
ON CONFLICT (tenant_id, role) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()`
	}
	if _, err := r.q.Exec(ctx, query, tenantID, string(role), accountID); err != nil {
		return fmt.Errorf("ledger: map role %s: %w", role, err)
	}
	return nil
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, e JournalEntry) error {
	_, err := r.q.Exec(ctx, `INSERT INTO journal_entries (id, tenant_id, event_id, entry_date, memo, reverses_entry_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TenantID, e.EventID, e.EntryDate, e.Memo, e.ReversesEntryID, e.CreatedBy, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert journal entry: %w", err)
	}
	for idx, line := range e.Lines {
		if _, err := r.q.Exec(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, account_code, direction, amount, site_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, idx+1, line.AccountID, line.AccountCode, line.Direction, line.Amount, line.SiteID); err != nil {
			return fmt.Errorf("ledger: insert journal line %d: %w", idx+1, err)
		}
	}
	return nil
}

// LoadChart reads a tenant's accounts and role map.
func (r *Repository) LoadChart(ctx context.Context, tenantID string) (Chart, error) {
	accounts, err := listAccounts(ctx, r.pool, tenantID)
	if err != nil {
		return Chart{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT role, account_id FROM account_roles WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return Chart{}, fmt.Errorf("ledger: load roles: %w", err)
	}
	defer rows.Close()
	chart := Chart{TenantID: tenantID, Accounts: accounts, Roles: make(map[Role]uuid.UUID)}
	for rows.Next() {
		var role string
		var id uuid.UUID
		if err := rows.Scan(&role, &id); err != nil {
			return Chart{}, err
		}
		chart.Roles[Role(role)] = id
	}
	return chart, rows.Err()
}

// GetJournalEntry loads an entry and its lines.
func (r *Repository) GetJournalEntry(ctx context.Context, tenantID string, id uuid.UUID) (JournalEntry, error) {
	var e JournalEntry
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, event_id, entry_date, memo, reverses_entry_id, created_by, created_at
FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&e.ID, &e.TenantID, &e.EventID, &e.EntryDate, &e.Memo, &e.ReversesEntryID, &e.CreatedBy, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, fmt.Errorf("%w: %s", ErrJournalNotFound, id)
	}
	if err != nil {
		return JournalEntry{}, fmt.Errorf("ledger: get journal entry: %w", err)
	}
	lines, err := r.lines(ctx, e.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines
	return e, nil
}

func (r *Repository) lines(ctx context.Context, entryID uuid.UUID) ([]LedgerLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_id, account_code, direction, amount, site_id
FROM journal_lines WHERE entry_id=$1 ORDER BY line_no`, entryID)
	if err != nil {
		return nil, fmt.Errorf("ledger: journal lines: %w", err)
	}
	defer rows.Close()
	var lines []LedgerLine
	for rows.Next() {
		var l LedgerLine
		if err := rows.Scan(&l.AccountID, &l.AccountCode, &l.Direction, &l.Amount, &l.SiteID); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListJournalEntries returns entries newest first, optionally for one event.
func (r *Repository) ListJournalEntries(ctx context.Context, tenantID string, filter JournalFilter) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, event_id, entry_date, memo, reverses_entry_id, created_by, created_at
FROM journal_entries
WHERE tenant_id=$1 AND ($2::uuid IS NULL OR event_id=$2)
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4`, tenantID, filter.EventID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("ledger: list journal entries: %w", err)
	}
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventID, &e.EntryDate, &e.Memo, &e.ReversesEntryID, &e.CreatedBy, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		lines, err := r.lines(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Lines = lines
	}
	return entries, nil
}

// TrialBalance sums posted lines per account, including accounts without activity.
func (r *Repository) TrialBalance(ctx context.Context, tenantID string) ([]TrialBalanceRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type,
       COALESCE(SUM(l.amount) FILTER (WHERE l.direction='DEBIT'), 0),
       COALESCE(SUM(l.amount) FILTER (WHERE l.direction='CREDIT'), 0)
FROM accounts a
LEFT JOIN journal_lines l ON l.account_id = a.id
WHERE a.tenant_id=$1
GROUP BY a.id, a.code, a.name, a.type
ORDER BY a.code`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ledger: trial balance: %w", err)
	}
	defer rows.Close()
	var out []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountID, &row.AccountCode, &row.AccountName, &row.Type, &row.Debit, &row.Credit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListTenants returns the distinct tenants that own accounts.
func (r *Repository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM accounts ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list tenants: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
