package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryBuilder accumulates lines against chart roles. The first error sticks
// and every later call becomes a no-op.
type EntryBuilder struct {
	chart  Chart
	siteID string
	lines  []LedgerLine
	err    error
}

// NewEntryBuilder starts an entry for chart with lines tagged by siteID.
func NewEntryBuilder(chart Chart, siteID string) *EntryBuilder {
	return &EntryBuilder{chart: chart, siteID: siteID}
}

// Debit adds a debit against the account mapped to role.
func (b *EntryBuilder) Debit(role Role, amount decimal.Decimal) *EntryBuilder {
	return b.addRole(role, Debit, amount)
}

// Credit adds a credit against the account mapped to role.
func (b *EntryBuilder) Credit(role Role, amount decimal.Decimal) *EntryBuilder {
	return b.addRole(role, Credit, amount)
}

// Pair adds a debit and a credit of the same amount.
func (b *EntryBuilder) Pair(debit, credit Role, amount decimal.Decimal) *EntryBuilder {
	return b.Debit(debit, amount).Credit(credit, amount)
}

// Account adds a line against an explicit account.
func (b *EntryBuilder) Account(acct Account, dir Direction, amount decimal.Decimal) *EntryBuilder {
	if b.err != nil {
		return b
	}
	if !acct.IsActive {
		b.err = fmt.Errorf("%w: %s", ErrInactiveAccount, acct.Code)
		return b
	}
	return b.add(acct, dir, amount)
}

func (b *EntryBuilder) addRole(role Role, dir Direction, amount decimal.Decimal) *EntryBuilder {
	if b.err != nil {
		return b
	}
	acct, err := b.chart.Resolve(role)
	if err != nil {
		b.err = err
		return b
	}
	return b.add(acct, dir, amount)
}

func (b *EntryBuilder) add(acct Account, dir Direction, amount decimal.Decimal) *EntryBuilder {
	amount = Money(amount)
	if amount.IsNegative() {
		b.err = fmt.Errorf("%w: negative amount %s on %s", ErrUnbalancedEntry, amount, acct.Code)
		return b
	}
	if amount.IsZero() {
		return b
	}
	b.lines = append(b.lines, LedgerLine{
		AccountID:   acct.ID,
		AccountCode: acct.Code,
		Direction:   dir,
		Amount:      amount,
		SiteID:      b.siteID,
	})
	return b
}

// Err returns the first error recorded while building.
func (b *EntryBuilder) Err() error {
	return b.err
}

// Lines returns the non-zero lines added so far.
func (b *EntryBuilder) Lines() []LedgerLine {
	out := make([]LedgerLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// Build returns the entry, or nil when every line was zero.
func (b *EntryBuilder) Build(tenantID string, eventID uuid.UUID, date time.Time, memo, actorID string) (*JournalEntry, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.lines) == 0 {
		return nil, nil
	}
	entry := &JournalEntry{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EventID:   eventID,
		EntryDate: date,
		Lines:     b.Lines(),
		Memo:      memo,
		CreatedBy: actorID,
	}
	if err := ValidateEntry(*entry, b.chart); err != nil {
		return nil, err
	}
	return entry, nil
}

// ValidateEntry checks that the entry is non-empty, balanced and posts only to
// active accounts of chart.
func ValidateEntry(entry JournalEntry, chart Chart) error {
	if len(entry.Lines) == 0 {
		return ErrEmptyEntry
	}
	for idx, line := range entry.Lines {
		if line.Direction != Debit && line.Direction != Credit {
			return fmt.Errorf("%w: line %d has direction %q", ErrUnbalancedEntry, idx, line.Direction)
		}
		if line.Amount.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", ErrUnbalancedEntry, idx)
		}
		if !line.Amount.Equal(Money(line.Amount)) {
			return fmt.Errorf("%w: line %d amount %s exceeds currency precision", ErrUnbalancedEntry, idx, line.Amount)
		}
		acct, err := chart.ByID(line.AccountID)
		if err != nil {
			return fmt.Errorf("line %d: %w", idx, err)
		}
		if !acct.IsActive {
			return fmt.Errorf("%w: line %d account %s", ErrInactiveAccount, idx, acct.Code)
		}
	}
	debit, credit := entry.Totals()
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalancedEntry, debit.StringFixed(MoneyPlaces), credit.StringFixed(MoneyPlaces))
	}
	return nil
}

// ReverseEntry builds the compensating entry of original: same accounts and
// amounts with every direction flipped. original is not modified.
func ReverseEntry(original JournalEntry, date time.Time, memo, actorID string) JournalEntry {
	lines := make([]LedgerLine, len(original.Lines))
	for i, line := range original.Lines {
		line.Direction = line.Direction.Flip()
		lines[i] = line
	}
	reverses := original.ID
	if memo == "" {
		memo = fmt.Sprintf("Reversal of %s", original.ID)
	}
	return JournalEntry{
		ID:              uuid.New(),
		TenantID:        original.TenantID,
		EventID:         original.EventID,
		EntryDate:       date,
		Lines:           lines,
		Memo:            memo,
		ReversesEntryID: &reverses,
		CreatedBy:       actorID,
	}
}
