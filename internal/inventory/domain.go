package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CostPlaces is the precision average costs are kept at.
const CostPlaces = 2

// QuantityPlaces is the precision quantities are stored at.
const QuantityPlaces = 4

// Key identifies a balance row.
type Key struct {
	TenantID string
	SiteID   string
	ItemID   string
}

// String renders the key for logs and map keys.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.SiteID, k.ItemID)
}

// Validate checks that every component is present.
func (k Key) Validate() error {
	if k.TenantID == "" || k.SiteID == "" || k.ItemID == "" {
		return errors.New("inventory: tenant, site and item required")
	}
	return nil
}

// Balance summarises stock at a site per item. Version 0 means the row has
// never been persisted.
type Balance struct {
	Key            Key
	QuantityOnHand decimal.Decimal
	AvgCostPerUnit decimal.Decimal
	Version        int64
	UpdatedAt      time.Time
}

// ZeroBalance returns the implicit balance of an item never seen at a site.
func ZeroBalance(key Key) Balance {
	return Balance{Key: key, QuantityOnHand: decimal.Zero, AvgCostPerUnit: decimal.Zero}
}

// Value is quantity times average cost at currency precision.
func (b Balance) Value() decimal.Decimal {
	return b.QuantityOnHand.Mul(b.AvgCostPerUnit).Round(CostPlaces)
}

// Movement is a stock card row written for every balance delta.
type Movement struct {
	EventID        uuid.UUID
	Key            Key
	QtyChange      decimal.Decimal
	UnitCost       decimal.Decimal
	BalanceQty     decimal.Decimal
	BalanceAvgCost decimal.Decimal
	Reversal       bool
	PostedAt       time.Time
}

// BalanceUpdate is a compare-and-swap write: Balance replaces the row only if
// its stored version still equals Expected. Expected 0 inserts a new row.
type BalanceUpdate struct {
	Expected int64
	Balance  Balance
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	Key   Key
	From  time.Time
	To    time.Time
	Limit int
}

var (
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrVersionConflict is returned when a balance changed since it was read.
	ErrVersionConflict = errors.New("inventory: balance version conflict")
)
