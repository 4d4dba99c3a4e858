package posting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/inventory"
	"github.com/odyssey-erp/farmledger/internal/ledger"
)

// RuleInput is the state a posting rule reads.
type RuleInput struct {
	Event    events.Event
	Payload  events.Payload
	Chart    ledger.Chart
	Settings Settings
	Reader   inventory.Reader
	PostedAt time.Time
}

// Draft is the candidate outcome of a rule before it is applied.
type Draft struct {
	Entry     *ledger.JournalEntry
	Updates   []inventory.BalanceUpdate
	Movements []inventory.Movement
}

// Build runs the posting rule for in.Payload. The result is a function of the
// input only; nothing is written.
func Build(ctx context.Context, in RuleInput) (Draft, error) {
	r := &rule{
		in:      in,
		ws:      inventory.NewWorkspace(in.Reader, in.Event.ID, in.PostedAt),
		journal: ledger.NewEntryBuilder(in.Chart, in.Event.SiteID),
	}
	var err error
	switch p := in.Payload.(type) {
	case events.FeedLivestock:
		err = r.feed(ctx, p)
	case events.SellLivestock:
		err = r.sellLivestock(p)
	case events.PurchaseLivestock:
		err = r.purchaseLivestock(ctx, p)
	case events.ReceivePurchaseOrder:
		err = r.receivePurchaseOrder(ctx, p)
	case events.InventoryAdjustment:
		err = r.adjust(ctx, p)
	case events.InventoryTransfer:
		err = r.transfer(ctx, p)
	case events.Sale:
		err = r.sale(ctx, p)
	case events.Expense:
		err = r.expense(p)
	default:
		err = fmt.Errorf("%w: %T", ErrNoRule, in.Payload)
	}
	if err != nil {
		return Draft{}, err
	}
	memo := fmt.Sprintf("%s %s", in.Event.Type, in.Event.ID)
	entry, err := r.journal.Build(in.Event.TenantID, in.Event.ID, in.Event.OccurredAt, memo, in.Event.CreatedBy)
	if err != nil {
		return Draft{}, err
	}
	if entry != nil {
		entry.CreatedAt = in.PostedAt
	}
	return Draft{Entry: entry, Updates: r.ws.Updates(), Movements: r.ws.Movements()}, nil
}

type rule struct {
	in      RuleInput
	ws      *inventory.Workspace
	journal *ledger.EntryBuilder
}

func (r *rule) key(siteID, itemID string) inventory.Key {
	return inventory.Key{TenantID: r.in.Event.TenantID, SiteID: siteID, ItemID: itemID}
}

func (r *rule) local(itemID string) inventory.Key {
	return r.key(r.in.Event.SiteID, itemID)
}

func inventoryRole(class events.ItemClass) ledger.Role {
	if class == events.ItemSupply {
		return ledger.RoleSupplyInventory
	}
	return ledger.RoleFeedInventory
}

// receivedBy is the account that settles money coming in.
func receivedBy(m events.PaymentMethod) ledger.Role {
	if m == events.PaymentCredit {
		return ledger.RoleReceivable
	}
	return ledger.RoleCash
}

// paidBy is the account that settles money going out.
func paidBy(m events.PaymentMethod) ledger.Role {
	if m == events.PaymentCredit {
		return ledger.RolePayable
	}
	return ledger.RoleCash
}

func value(qty, unitCost decimal.Decimal) decimal.Decimal {
	return ledger.Money(qty.Mul(unitCost))
}

func (r *rule) feed(ctx context.Context, p events.FeedLivestock) error {
	m, err := r.ws.Consume(ctx, r.local(p.FeedItemID), p.Quantity)
	if err != nil {
		return err
	}
	charge := ledger.RoleFeedExpense
	if r.in.Settings.FeedCosting == FeedCostingCapitalize {
		charge = ledger.RoleLivestockAsset
	}
	r.journal.Pair(charge, ledger.RoleFeedInventory, value(p.Quantity, m.UnitCost))
	return nil
}

func (r *rule) sellLivestock(p events.SellLivestock) error {
	r.journal.Pair(receivedBy(p.PaymentMethod), ledger.RoleLivestockRevenue, p.SaleAmount)
	if p.CostAmount != nil {
		r.journal.Pair(ledger.RoleLivestockCOGS, ledger.RoleLivestockAsset, *p.CostAmount)
	}
	return nil
}

func (r *rule) purchaseLivestock(ctx context.Context, p events.PurchaseLivestock) error {
	cost := ledger.Money(p.Cost)
	r.journal.Pair(ledger.RoleLivestockAsset, paidBy(p.PaymentMethod), cost)
	if p.ItemID == "" {
		return nil
	}
	heads := decimal.NewFromInt(int64(p.Heads()))
	key := r.local(p.ItemID)
	unit := cost.Div(heads).RoundDown(inventory.CostPlaces)
	remainder := cost.Sub(unit.Mul(heads))
	if remainder.IsZero() {
		_, err := r.ws.Receive(ctx, key, heads, unit)
		return err
	}
	// The last head carries the rounding remainder so the stock card sums to cost.
	if rest := heads.Sub(decimal.NewFromInt(1)); rest.IsPositive() {
		if _, err := r.ws.Receive(ctx, key, rest, unit); err != nil {
			return err
		}
	}
	_, err := r.ws.Receive(ctx, key, decimal.NewFromInt(1), unit.Add(remainder))
	return err
}

func (r *rule) receivePurchaseOrder(ctx context.Context, p events.ReceivePurchaseOrder) error {
	total := decimal.Zero
	for _, line := range p.Lines {
		if _, err := r.ws.Receive(ctx, r.local(line.ItemID), line.Quantity, line.UnitCost); err != nil {
			return fmt.Errorf("line %s: %w", line.ItemID, err)
		}
		amount := value(line.Quantity, line.UnitCost)
		r.journal.Debit(inventoryRole(line.ItemClass), amount)
		total = total.Add(amount)
	}
	r.journal.Credit(paidBy(p.PaymentMethod), total)
	return nil
}

func (r *rule) adjust(ctx context.Context, p events.InventoryAdjustment) error {
	key := r.local(p.ItemID)
	stock := inventoryRole(p.ItemClass)
	if p.QuantityDelta.IsNegative() {
		qty := p.QuantityDelta.Neg()
		m, err := r.ws.Consume(ctx, key, qty)
		if err != nil {
			return err
		}
		r.journal.Pair(ledger.RoleInventoryAdjustment, stock, value(qty, m.UnitCost))
		return nil
	}
	b, err := r.ws.Balance(ctx, key)
	if err != nil {
		return err
	}
	unitCost := b.AvgCostPerUnit
	if p.UnitCost != nil {
		unitCost = *p.UnitCost
	}
	if _, err := r.ws.Receive(ctx, key, p.QuantityDelta, unitCost); err != nil {
		return err
	}
	r.journal.Pair(stock, ledger.RoleInventoryAdjustment, value(p.QuantityDelta, unitCost))
	return nil
}

func (r *rule) transfer(ctx context.Context, p events.InventoryTransfer) error {
	out, err := r.ws.Consume(ctx, r.local(p.ItemID), p.Quantity)
	if err != nil {
		return err
	}
	_, err = r.ws.Receive(ctx, r.key(p.ToSiteID, p.ItemID), p.Quantity, out.UnitCost)
	return err
}

func (r *rule) sale(ctx context.Context, p events.Sale) error {
	revenue := decimal.Zero
	for _, line := range p.Lines {
		revenue = revenue.Add(value(line.Quantity, line.UnitPrice))
		if line.ItemID == "" {
			continue
		}
		m, err := r.ws.Consume(ctx, r.local(line.ItemID), line.Quantity)
		if err != nil {
			return fmt.Errorf("line %s: %w", line.ItemID, err)
		}
		r.journal.Pair(ledger.RoleProductCOGS, inventoryRole(line.ItemClass), value(line.Quantity, m.UnitCost))
	}
	r.journal.Pair(receivedBy(p.PaymentMethod), ledger.RoleProductRevenue, revenue)
	return nil
}

func (r *rule) expense(p events.Expense) error {
	acct, err := r.in.Chart.ByCode(p.AccountCode)
	if err != nil {
		return err
	}
	if acct.Type != ledger.AccountTypeExpense {
		return fmt.Errorf("%w: %s is %s, not an expense account", ledger.ErrInvalidAccount, acct.Code, acct.Type)
	}
	r.journal.Account(acct, ledger.Debit, p.Amount)
	r.journal.Credit(paidBy(p.PaymentMethod), p.Amount)
	return nil
}
