package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the currency precision of every ledger amount.
const MoneyPlaces = 2

// Money rounds an amount to currency precision.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// AccountType enumerates chart of accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
	AccountTypeCOGS      AccountType = "COGS"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense, AccountTypeCOGS:
		return true
	}
	return false
}

// Direction is the side of a ledger line.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Flip returns the opposite side.
func (d Direction) Flip() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// NormalBalanceFor derives the normal balance of an account type.
func NormalBalanceFor(t AccountType) Direction {
	switch t {
	case AccountTypeAsset, AccountTypeExpense, AccountTypeCOGS:
		return Debit
	default:
		return Credit
	}
}

// Account models a chart of accounts node.
type Account struct {
	ID            uuid.UUID   `json:"id"`
	TenantID      string      `json:"tenant_id"`
	Code          string      `json:"code"`
	Name          string      `json:"name"`
	Type          AccountType `json:"type"`
	Subtype       string      `json:"subtype,omitempty"`
	NormalBalance Direction   `json:"normal_balance"`
	IsActive      bool        `json:"is_active"`
	IsSystem      bool        `json:"is_system"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewAccount builds an active account whose normal balance follows its type.
func NewAccount(tenantID, code, name string, t AccountType, subtype string) Account {
	return Account{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Code:          code,
		Name:          name,
		Type:          t,
		Subtype:       subtype,
		NormalBalance: NormalBalanceFor(t),
		IsActive:      true,
	}
}

// Validate rejects incomplete accounts and normal balances that contradict the type.
func (a Account) Validate() error {
	if a.TenantID == "" || a.Code == "" || a.Name == "" {
		return fmt.Errorf("%w: tenant, code and name required", ErrInvalidAccount)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAccount, a.Type)
	}
	if a.NormalBalance != NormalBalanceFor(a.Type) {
		return fmt.Errorf("%w: %s account cannot carry a %s normal balance", ErrInvalidAccount, a.Type, a.NormalBalance)
	}
	return nil
}

// JournalEntry is a balanced set of ledger lines. ReversesEntryID is set on
// compensating entries only.
type JournalEntry struct {
	ID              uuid.UUID    `json:"id"`
	TenantID        string       `json:"tenant_id"`
	EventID         uuid.UUID    `json:"event_id"`
	EntryDate       time.Time    `json:"entry_date"`
	Lines           []LedgerLine `json:"lines"`
	Memo            string       `json:"memo,omitempty"`
	ReversesEntryID *uuid.UUID   `json:"reverses_entry_id,omitempty"`
	CreatedBy       string       `json:"created_by"`
	CreatedAt       time.Time    `json:"created_at"`
}

// LedgerLine stores one side of a posting.
type LedgerLine struct {
	AccountID   uuid.UUID       `json:"account_id"`
	AccountCode string          `json:"account_code"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	SiteID      string          `json:"site_id,omitempty"`
}

// Totals sums both sides of the entry.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		if line.Direction == Debit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// TrialBalanceRow aggregates the lines posted to one account.
type TrialBalanceRow struct {
	AccountID   uuid.UUID       `json:"account_id"`
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	Type        AccountType     `json:"type"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// Net returns the balance on the account's normal side.
func (r TrialBalanceRow) Net() decimal.Decimal {
	if NormalBalanceFor(r.Type) == Debit {
		return r.Debit.Sub(r.Credit)
	}
	return r.Credit.Sub(r.Debit)
}

// TrialBalance is the per-account debit/credit summary of a tenant.
type TrialBalance struct {
	TenantID    string            `json:"tenant_id"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
}

// Balanced reports whether total debits equal total credits.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit)
}

// JournalFilter narrows journal listings.
type JournalFilter struct {
	EventID *uuid.UUID
	Limit   int
	Offset  int
}

var (
	// ErrUnbalancedEntry indicates debit != credit or an entry that cannot be posted.
	ErrUnbalancedEntry = errors.New("ledger: journal lines must balance")
	// ErrEmptyEntry indicates an entry without lines.
	ErrEmptyEntry = errors.New("ledger: journal entry has no lines")
	// ErrAccountNotFound indicates missing account or role mapping.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrInactiveAccount indicates a line against a deactivated account.
	ErrInactiveAccount = errors.New("ledger: account inactive")
	// ErrSystemAccount protects seeded accounts from deactivation.
	ErrSystemAccount = errors.New("ledger: system account is protected")
	// ErrInvalidAccount indicates malformed account data.
	ErrInvalidAccount = errors.New("ledger: invalid account")
	// ErrDuplicateCode indicates an account code already used by the tenant.
	ErrDuplicateCode = errors.New("ledger: account code already exists")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("ledger: journal entry not found")
)
