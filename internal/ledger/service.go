package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/farmledger/internal/shared"
)

// RepositoryPort abstracts ledger persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	LoadChart(ctx context.Context, tenantID string) (Chart, error)
	GetJournalEntry(ctx context.Context, tenantID string, id uuid.UUID) (JournalEntry, error)
	ListJournalEntries(ctx context.Context, tenantID string, filter JournalFilter) ([]JournalEntry, error)
	TrialBalance(ctx context.Context, tenantID string) ([]TrialBalanceRow, error)
	ListTenants(ctx context.Context) ([]string, error)
}

// ChartProvider resolves the chart a tenant posts against.
type ChartProvider interface {
	Chart(ctx context.Context, tenantID string) (Chart, error)
}

// Invalidator drops cached charts after a tenant's accounts change.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// CreateAccountInput describes a tenant defined account.
type CreateAccountInput struct {
	Code    string      `json:"code"`
	Name    string      `json:"name"`
	Type    AccountType `json:"type"`
	Subtype string      `json:"subtype"`
}

// Service manages charts of accounts and exposes journal read access.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditRecorder
	invalidator Invalidator
	now         func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithInvalidator registers the cache dropped after chart changes.
func (s *Service) WithInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Chart implements ChartProvider straight from storage.
func (s *Service) Chart(ctx context.Context, tenantID string) (Chart, error) {
	if tenantID == "" {
		return Chart{}, shared.ErrTenantRequired
	}
	return s.repo.LoadChart(ctx, tenantID)
}

// SeedDefaultChart installs the system accounts and role map for a tenant.
// Existing accounts and role mappings are left alone, so seeding is repeatable.
func (s *Service) SeedDefaultChart(ctx context.Context, tenantID, actorID string) (Chart, error) {
	if tenantID == "" {
		return Chart{}, shared.ErrTenantRequired
	}
	def := DefaultChart(tenantID)
	now := s.now().UTC()
	inserted := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, acct := range def.Accounts {
			acct.CreatedAt, acct.UpdatedAt = now, now
			ok, err := tx.InsertAccount(ctx, acct)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		accounts, err := tx.ListAccounts(ctx, tenantID)
		if err != nil {
			return err
		}
		byCode := make(map[string]uuid.UUID, len(accounts))
		for _, acct := range accounts {
			byCode[acct.Code] = acct.ID
		}
		for role, id := range def.Roles {
			seeded, err := def.ByID(id)
			if err != nil {
				return err
			}
			if err := tx.MapRole(ctx, tenantID, role, byCode[seeded.Code], false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Chart{}, fmt.Errorf("ledger: seed chart: %w", err)
	}
	s.changed(ctx, tenantID, actorID, "chart.seed", tenantID, map[string]any{"inserted": inserted})
	return s.repo.LoadChart(ctx, tenantID)
}

// ListAccounts returns the tenant's accounts ordered by code.
func (s *Service) ListAccounts(ctx context.Context, tenantID string) ([]Account, error) {
	chart, err := s.Chart(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return chart.Accounts, nil
}

// CreateAccount adds a tenant defined account.
func (s *Service) CreateAccount(ctx context.Context, tenantID string, in CreateAccountInput, actorID string) (Account, error) {
	acct := NewAccount(tenantID, strings.TrimSpace(in.Code), strings.TrimSpace(in.Name), in.Type, in.Subtype)
	if err := acct.Validate(); err != nil {
		return Account{}, err
	}
	now := s.now().UTC()
	acct.CreatedAt, acct.UpdatedAt = now, now
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.InsertAccount(ctx, acct)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, acct.Code)
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.changed(ctx, tenantID, actorID, "account.create", acct.ID.String(), map[string]any{"code": acct.Code, "type": acct.Type})
	return acct, nil
}

// DeactivateAccount hides an account from future postings. System accounts are protected.
func (s *Service) DeactivateAccount(ctx context.Context, tenantID string, id uuid.UUID, actorID string) (Account, error) {
	var acct Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acct, err = tx.GetAccountForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if acct.IsSystem {
			return fmt.Errorf("%w: %s", ErrSystemAccount, acct.Code)
		}
		acct.IsActive = false
		acct.UpdatedAt = s.now().UTC()
		return tx.UpdateAccountActive(ctx, tenantID, id, false, acct.UpdatedAt)
	})
	if err != nil {
		return Account{}, err
	}
	s.changed(ctx, tenantID, actorID, "account.deactivate", id.String(), map[string]any{"code": acct.Code})
	return acct, nil
}

// MapRole points role at an active account, replacing any previous mapping.
func (s *Service) MapRole(ctx context.Context, tenantID string, role Role, accountID uuid.UUID, actorID string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidAccount, role)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		acct, err := tx.GetAccountForUpdate(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if !acct.IsActive {
			return fmt.Errorf("%w: %s", ErrInactiveAccount, acct.Code)
		}
		return tx.MapRole(ctx, tenantID, role, accountID, true)
	})
	if err != nil {
		return err
	}
	s.changed(ctx, tenantID, actorID, "account.map_role", accountID.String(), map[string]any{"role": role})
	return nil
}

// GetJournalEntry loads one entry with its lines.
func (s *Service) GetJournalEntry(ctx context.Context, tenantID string, id uuid.UUID) (JournalEntry, error) {
	return s.repo.GetJournalEntry(ctx, tenantID, id)
}

// ListJournalEntries lists entries, newest first.
func (s *Service) ListJournalEntries(ctx context.Context, tenantID string, filter JournalFilter) ([]JournalEntry, error) {
	page := shared.NormalizePage(filter.Limit, filter.Offset)
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.ListJournalEntries(ctx, tenantID, filter)
}

// TrialBalance sums debits and credits per account for a tenant.
func (s *Service) TrialBalance(ctx context.Context, tenantID string) (TrialBalance, error) {
	if tenantID == "" {
		return TrialBalance{}, shared.ErrTenantRequired
	}
	rows, err := s.repo.TrialBalance(ctx, tenantID)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{TenantID: tenantID, Rows: rows, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, row := range rows {
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
	}
	return tb, nil
}

// ListTenants returns every tenant that owns a chart.
func (s *Service) ListTenants(ctx context.Context) ([]string, error) {
	return s.repo.ListTenants(ctx)
}

func (s *Service) changed(ctx context.Context, tenantID, actorID, action, entityID string, meta map[string]any) {
	if s.invalidator != nil {
		_ = s.invalidator.Invalidate(ctx, tenantID)
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "account",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
}

// IsNotFound reports errors that map to a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrJournalNotFound)
}
