package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/farmledger/internal/ledger"
)

// ledgerTx stages account changes; they are copied back only when the
// transaction function succeeds.
type ledgerTx struct {
	store    *Store
	accounts map[uuid.UUID]ledger.Account
	roles    map[roleKey]uuid.UUID
	entries  []ledger.JournalEntry
}

// WithTx implements ledger.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &ledgerTx{
		store:    s,
		accounts: make(map[uuid.UUID]ledger.Account, len(s.accounts)),
		roles:    make(map[roleKey]uuid.UUID, len(s.roles)),
	}
	for id, acct := range s.accounts {
		tx.accounts[id] = acct
	}
	for k, id := range s.roles {
		tx.roles[k] = id
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, e := range tx.entries {
		if err := s.insertEntryLocked(e); err != nil {
			return err
		}
	}
	s.accounts = tx.accounts
	s.roles = tx.roles
	return nil
}

func (tx *ledgerTx) ListAccounts(_ context.Context, tenantID string) ([]ledger.Account, error) {
	return accountsOf(tx.accounts, tenantID), nil
}

func (tx *ledgerTx) InsertAccount(_ context.Context, acct ledger.Account) (bool, error) {
	for _, existing := range tx.accounts {
		if existing.TenantID == acct.TenantID && existing.Code == acct.Code {
			return false, nil
		}
	}
	tx.accounts[acct.ID] = acct
	return true, nil
}

func (tx *ledgerTx) GetAccountForUpdate(_ context.Context, tenantID string, id uuid.UUID) (ledger.Account, error) {
	acct, ok := tx.accounts[id]
	if !ok || acct.TenantID != tenantID {
		return ledger.Account{}, fmt.Errorf("%w: id %s", ledger.ErrAccountNotFound, id)
	}
	return acct, nil
}

func (tx *ledgerTx) UpdateAccountActive(_ context.Context, tenantID string, id uuid.UUID, active bool, at time.Time) error {
	acct, ok := tx.accounts[id]
	if !ok || acct.TenantID != tenantID {
		return fmt.Errorf("%w: id %s", ledger.ErrAccountNotFound, id)
	}
	acct.IsActive = active
	acct.UpdatedAt = at
	tx.accounts[id] = acct
	return nil
}

func (tx *ledgerTx) MapRole(_ context.Context, tenantID string, role ledger.Role, accountID uuid.UUID, overwrite bool) error {
	k := roleKey{tenantID: tenantID, role: role}
	if _, ok := tx.roles[k]; ok && !overwrite {
		return nil
	}
	tx.roles[k] = accountID
	return nil
}

func (tx *ledgerTx) InsertJournalEntry(_ context.Context, e ledger.JournalEntry) error {
	tx.entries = append(tx.entries, e)
	return nil
}

func accountsOf(all map[uuid.UUID]ledger.Account, tenantID string) []ledger.Account {
	var out []ledger.Account
	for _, acct := range all {
		if acct.TenantID == tenantID {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// insertEntryLocked enforces one posting entry per event and one reversal per
// entry, like the unique indexes of the SQL schema.
func (s *Store) insertEntryLocked(e ledger.JournalEntry) error {
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("journal entry %s already exists", e.ID)
	}
	for _, existing := range s.entries {
		if existing.TenantID != e.TenantID {
			continue
		}
		if e.ReversesEntryID == nil && existing.ReversesEntryID == nil && existing.EventID == e.EventID {
			return fmt.Errorf("event %s already has a posting entry", e.EventID)
		}
		if e.ReversesEntryID != nil && existing.ReversesEntryID != nil && *existing.ReversesEntryID == *e.ReversesEntryID {
			return fmt.Errorf("entry %s already reversed", *e.ReversesEntryID)
		}
	}
	e.Lines = append([]ledger.LedgerLine(nil), e.Lines...)
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)
	return nil
}

// LoadChart implements ledger.RepositoryPort.
func (s *Store) LoadChart(_ context.Context, tenantID string) (ledger.Chart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chart := ledger.Chart{TenantID: tenantID, Accounts: accountsOf(s.accounts, tenantID), Roles: make(map[ledger.Role]uuid.UUID)}
	for k, id := range s.roles {
		if k.tenantID == tenantID {
			chart.Roles[k.role] = id
		}
	}
	return chart, nil
}

// GetJournalEntry implements ledger.RepositoryPort.
func (s *Store) GetJournalEntry(_ context.Context, tenantID string, id uuid.UUID) (ledger.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok || e.TenantID != tenantID {
		return ledger.JournalEntry{}, fmt.Errorf("%w: %s", ledger.ErrJournalNotFound, id)
	}
	e.Lines = append([]ledger.LedgerLine(nil), e.Lines...)
	return e, nil
}

// ListJournalEntries implements ledger.RepositoryPort.
func (s *Store) ListJournalEntries(_ context.Context, tenantID string, f ledger.JournalFilter) ([]ledger.JournalEntry, error) {
	s.mu.RLock()
	var out []ledger.JournalEntry
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.entries[s.order[i]]
		if e.TenantID != tenantID || (f.EventID != nil && e.EventID != *f.EventID) {
			continue
		}
		e.Lines = append([]ledger.LedgerLine(nil), e.Lines...)
		out = append(out, e)
	}
	s.mu.RUnlock()
	return page(out, f.Limit, f.Offset), nil
}

// TrialBalance implements ledger.RepositoryPort.
func (s *Store) TrialBalance(_ context.Context, tenantID string) ([]ledger.TrialBalanceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := accountsOf(s.accounts, tenantID)
	index := make(map[uuid.UUID]int, len(accounts))
	rows := make([]ledger.TrialBalanceRow, len(accounts))
	for i, acct := range accounts {
		index[acct.ID] = i
		rows[i] = ledger.TrialBalanceRow{
			AccountID: acct.ID, AccountCode: acct.Code, AccountName: acct.Name, Type: acct.Type,
			Debit: decimal.Zero, Credit: decimal.Zero,
		}
	}
	for _, e := range s.entries {
		if e.TenantID != tenantID {
			continue
		}
		for _, line := range e.Lines {
			i, ok := index[line.AccountID]
			if !ok {
				continue
			}
			if line.Direction == ledger.Debit {
				rows[i].Debit = rows[i].Debit.Add(line.Amount)
			} else {
				rows[i].Credit = rows[i].Credit.Add(line.Amount)
			}
		}
	}
	return rows, nil
}

// ListTenants implements ledger.RepositoryPort.
func (s *Store) ListTenants(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, acct := range s.accounts {
		seen[acct.TenantID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
