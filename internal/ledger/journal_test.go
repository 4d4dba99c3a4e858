package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func amt(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestNormalBalanceFollowsType(t *testing.T) {
	cases := map[AccountType]Direction{
		AccountTypeAsset:     Debit,
		AccountTypeExpense:   Debit,
		AccountTypeCOGS:      Debit,
		AccountTypeLiability: Credit,
		AccountTypeEquity:    Credit,
		AccountTypeIncome:    Credit,
	}
	for typ, want := range cases {
		acct := NewAccount("t1", "9"+string(typ), "x", typ, "")
		if acct.NormalBalance != want {
			t.Fatalf("%s: expected %s got %s", typ, want, acct.NormalBalance)
		}
		require.NoError(t, acct.Validate())
	}

	bad := NewAccount("t1", "1999", "Broken", AccountTypeAsset, "")
	bad.NormalBalance = Credit
	require.ErrorIs(t, bad.Validate(), ErrInvalidAccount)

	unknown := NewAccount("t1", "1998", "Unknown", AccountType("LOAN"), "")
	require.ErrorIs(t, unknown.Validate(), ErrInvalidAccount)
}

func TestDefaultChartMapsEveryRole(t *testing.T) {
	chart := DefaultChart("t1")
	for _, role := range Roles {
		acct, err := chart.Resolve(role)
		require.NoError(t, err, role)
		require.True(t, acct.IsSystem)
		require.NoError(t, acct.Validate())
	}
	again := DefaultChart("t1")
	require.Equal(t, chart.Roles, again.Roles)
	other := DefaultChart("t2")
	require.NotEqual(t, chart.Roles[RoleCash], other.Roles[RoleCash])
}

func TestResolveRejectsInactiveAndUnmapped(t *testing.T) {
	chart := DefaultChart("t1")
	for i := range chart.Accounts {
		if chart.Accounts[i].ID == chart.Roles[RoleFeedExpense] {
			chart.Accounts[i].IsActive = false
		}
	}
	_, err := chart.Resolve(RoleFeedExpense)
	require.ErrorIs(t, err, ErrInactiveAccount)

	delete(chart.Roles, RoleCash)
	_, err = chart.Resolve(RoleCash)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestEntryBuilderDropsZeroLinesAndBalances(t *testing.T) {
	chart := DefaultChart("t1")
	eventID := uuid.New()
	entry, err := NewEntryBuilder(chart, "north").
		Pair(RoleCash, RoleLivestockRevenue, amt("2500.00")).
		Pair(RoleLivestockCOGS, RoleLivestockAsset, amt("1800")).
		Pair(RoleFeedExpense, RoleFeedInventory, decimal.Zero).
		Build("t1", eventID, time.Now(), "sale", "u1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Len(t, entry.Lines, 4)
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(amt("4300")), debit.String())
	require.True(t, credit.Equal(amt("4300")), credit.String())
	for _, line := range entry.Lines {
		require.Equal(t, "north", line.SiteID)
	}
}

func TestEntryBuilderWithOnlyZeroLinesBuildsNothing(t *testing.T) {
	entry, err := NewEntryBuilder(DefaultChart("t1"), "").
		Pair(RoleFeedExpense, RoleFeedInventory, amt("0.001")).
		Build("t1", uuid.New(), time.Now(), "", "u1")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestEntryBuilderDetectsImbalance(t *testing.T) {
	_, err := NewEntryBuilder(DefaultChart("t1"), "").
		Debit(RoleCash, amt("10")).
		Credit(RoleProductRevenue, amt("9.99")).
		Build("t1", uuid.New(), time.Now(), "", "u1")
	require.ErrorIs(t, err, ErrUnbalancedEntry)
}

func TestEntryBuilderStopsAtFirstError(t *testing.T) {
	chart := DefaultChart("t1")
	delete(chart.Roles, RolePayable)
	b := NewEntryBuilder(chart, "").
		Debit(RoleFeedInventory, amt("5")).
		Credit(RolePayable, amt("5")).
		Debit(RoleCash, amt("-1"))
	require.ErrorIs(t, b.Err(), ErrAccountNotFound)
	require.Len(t, b.Lines(), 1)
}

func TestValidateEntryRejectsForeignAndInactiveAccounts(t *testing.T) {
	chart := DefaultChart("t1")
	cash, _ := chart.Resolve(RoleCash)
	sales, _ := chart.Resolve(RoleProductRevenue)
	entry := JournalEntry{Lines: []LedgerLine{
		{AccountID: cash.ID, Direction: Debit, Amount: amt("1")},
		{AccountID: uuid.New(), Direction: Credit, Amount: amt("1")},
	}}
	require.ErrorIs(t, ValidateEntry(entry, chart), ErrAccountNotFound)

	entry.Lines[1].AccountID = sales.ID
	require.NoError(t, ValidateEntry(entry, chart))

	for i := range chart.Accounts {
		if chart.Accounts[i].ID == sales.ID {
			chart.Accounts[i].IsActive = false
		}
	}
	require.ErrorIs(t, ValidateEntry(entry, chart), ErrInactiveAccount)
	require.ErrorIs(t, ValidateEntry(JournalEntry{}, chart), ErrEmptyEntry)

	entry.Lines[0].Amount = amt("1.005")
	err := ValidateEntry(entry, DefaultChart("t1"))
	if !errors.Is(err, ErrUnbalancedEntry) {
		t.Fatalf("expected precision error, got %v", err)
	}
}

func TestReverseEntryFlipsEveryLine(t *testing.T) {
	chart := DefaultChart("t1")
	original, err := NewEntryBuilder(chart, "north").
		Pair(RoleCash, RoleLivestockRevenue, amt("2500")).
		Pair(RoleLivestockCOGS, RoleLivestockAsset, amt("1800")).
		Build("t1", uuid.New(), time.Now(), "sale", "u1")
	require.NoError(t, err)
	snapshot := append([]LedgerLine(nil), original.Lines...)

	reversal := ReverseEntry(*original, time.Now(), "", "u2")
	require.NotEqual(t, original.ID, reversal.ID)
	require.NotNil(t, reversal.ReversesEntryID)
	require.Equal(t, original.ID, *reversal.ReversesEntryID)
	require.Equal(t, original.EventID, reversal.EventID)
	require.Len(t, reversal.Lines, len(original.Lines))
	for i := range original.Lines {
		require.Equal(t, original.Lines[i].AccountID, reversal.Lines[i].AccountID)
		require.True(t, original.Lines[i].Amount.Equal(reversal.Lines[i].Amount))
		require.Equal(t, original.Lines[i].Direction.Flip(), reversal.Lines[i].Direction)
	}
	require.Equal(t, snapshot, original.Lines)
	require.NoError(t, ValidateEntry(reversal, chart))
}

func TestTrialBalanceRowNet(t *testing.T) {
	asset := TrialBalanceRow{Type: AccountTypeAsset, Debit: amt("100"), Credit: amt("40")}
	income := TrialBalanceRow{Type: AccountTypeIncome, Debit: amt("5"), Credit: amt("80")}
	require.True(t, asset.Net().Equal(amt("60")))
	require.True(t, income.Net().Equal(amt("75")))
}
