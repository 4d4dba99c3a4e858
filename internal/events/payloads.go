package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// PaymentMethod selects the settlement account of a sale or purchase.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentCredit PaymentMethod = "CREDIT"
)

// ItemClass decides which inventory account an item is carried in.
type ItemClass string

const (
	ItemFeed   ItemClass = "FEED"
	ItemSupply ItemClass = "SUPPLY"
)

// Payload is the type specific body of an event. The concrete types below are
// the only implementations.
type Payload interface {
	EventType() Type
	check(siteID string) error
}

// FeedLivestock consumes feed from inventory.
type FeedLivestock struct {
	FeedItemID    string          `json:"feed_item_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	AnimalGroupID string          `json:"animal_group_id,omitempty"`
}

// SellLivestock sells animals, optionally relieving their carrying cost.
type SellLivestock struct {
	AnimalIDs     []string         `json:"animal_ids,omitempty" validate:"omitempty,dive,required"`
	HeadCount     int              `json:"head_count,omitempty" validate:"gte=0"`
	SaleAmount    decimal.Decimal  `json:"sale_amount"`
	CostAmount    *decimal.Decimal `json:"cost_amount,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method" validate:"required,oneof=CASH CREDIT"`
}

// PurchaseLivestock buys animals. With ItemID the head count is also received
// into inventory at cost per head.
type PurchaseLivestock struct {
	AnimalIDs     []string        `json:"animal_ids,omitempty" validate:"omitempty,dive,required"`
	HeadCount     int             `json:"head_count,omitempty" validate:"gte=0"`
	Cost          decimal.Decimal `json:"cost"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required,oneof=CASH CREDIT"`
	ItemID        string          `json:"item_id,omitempty"`
}

// Heads returns the number of animals purchased.
func (p PurchaseLivestock) Heads() int {
	if p.HeadCount > 0 {
		return p.HeadCount
	}
	return len(p.AnimalIDs)
}

// ReceiptLine is one received purchase order line.
type ReceiptLine struct {
	ItemID    string          `json:"item_id" validate:"required"`
	ItemClass ItemClass       `json:"item_class" validate:"required,oneof=FEED SUPPLY"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// ReceivePurchaseOrder receives goods into inventory.
type ReceivePurchaseOrder struct {
	PurchaseOrderID string        `json:"purchase_order_id" validate:"required"`
	Lines           []ReceiptLine `json:"lines" validate:"required,min=1,dive"`
	PaymentMethod   PaymentMethod `json:"payment_method" validate:"required,oneof=CASH CREDIT"`
}

// InventoryAdjustment corrects stock after a count. A positive delta is
// valued at UnitCost when given, otherwise at the current average.
type InventoryAdjustment struct {
	ItemID        string           `json:"item_id" validate:"required"`
	ItemClass     ItemClass        `json:"item_class" validate:"required,oneof=FEED SUPPLY"`
	QuantityDelta decimal.Decimal  `json:"quantity_delta"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	Reason        string           `json:"reason" validate:"required"`
}

// InventoryTransfer moves stock from the event's site to another site.
type InventoryTransfer struct {
	ItemID   string          `json:"item_id" validate:"required"`
	ToSiteID string          `json:"to_site_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

// SaleLine is one sold product. Lines with an item also relieve inventory.
type SaleLine struct {
	ItemID      string          `json:"item_id,omitempty"`
	ItemClass   ItemClass       `json:"item_class,omitempty" validate:"required_with=ItemID"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Sale sells farm products.
type Sale struct {
	Lines         []SaleLine    `json:"lines" validate:"required,min=1,dive"`
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required,oneof=CASH CREDIT"`
}

// Expense records a direct operating cost.
type Expense struct {
	AccountCode   string          `json:"account_code" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required,oneof=CASH CREDIT"`
	Description   string          `json:"description,omitempty"`
}

func (FeedLivestock) EventType() Type        { return TypeFeedLivestock }
func (SellLivestock) EventType() Type        { return TypeSellLivestock }
func (PurchaseLivestock) EventType() Type    { return TypePurchaseLivestock }
func (ReceivePurchaseOrder) EventType() Type { return TypeReceivePurchaseOrder }
func (InventoryAdjustment) EventType() Type  { return TypeInventoryAdjustment }
func (InventoryTransfer) EventType() Type    { return TypeInventoryTransfer }
func (Sale) EventType() Type                 { return TypeSale }
func (Expense) EventType() Type              { return TypeExpense }

func positive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("%s must not be negative", field)
	}
	return nil
}

func (p FeedLivestock) check(string) error {
	return positive("quantity", p.Quantity)
}

func (p SellLivestock) check(string) error {
	if len(p.AnimalIDs) == 0 && p.HeadCount == 0 {
		return errors.New("animal_ids or head_count required")
	}
	if err := positive("sale_amount", p.SaleAmount); err != nil {
		return err
	}
	if p.CostAmount != nil {
		return nonNegative("cost_amount", *p.CostAmount)
	}
	return nil
}

func (p PurchaseLivestock) check(string) error {
	if p.Heads() == 0 {
		return errors.New("animal_ids or head_count required")
	}
	return positive("cost", p.Cost)
}

func (p ReceivePurchaseOrder) check(string) error {
	for i, line := range p.Lines {
		if err := positive(fmt.Sprintf("lines[%d].quantity", i), line.Quantity); err != nil {
			return err
		}
		if err := nonNegative(fmt.Sprintf("lines[%d].unit_cost", i), line.UnitCost); err != nil {
			return err
		}
	}
	return nil
}

func (p InventoryAdjustment) check(string) error {
	if p.QuantityDelta.IsZero() {
		return errors.New("quantity_delta must not be zero")
	}
	if p.UnitCost != nil {
		return nonNegative("unit_cost", *p.UnitCost)
	}
	return nil
}

func (p InventoryTransfer) check(siteID string) error {
	if p.ToSiteID == siteID {
		return errors.New("to_site_id must differ from the source site")
	}
	return positive("quantity", p.Quantity)
}

func (p Sale) check(string) error {
	for i, line := range p.Lines {
		if line.ItemClass != "" && line.ItemClass != ItemFeed && line.ItemClass != ItemSupply {
			return fmt.Errorf("lines[%d].item_class %q is not FEED or SUPPLY", i, line.ItemClass)
		}
		if err := positive(fmt.Sprintf("lines[%d].quantity", i), line.Quantity); err != nil {
			return err
		}
		if err := nonNegative(fmt.Sprintf("lines[%d].unit_price", i), line.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func (p Expense) check(string) error {
	return positive("amount", p.Amount)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func newPayload(t Type) (Payload, error) {
	switch t {
	case TypeFeedLivestock:
		return &FeedLivestock{}, nil
	case TypeSellLivestock:
		return &SellLivestock{}, nil
	case TypePurchaseLivestock:
		return &PurchaseLivestock{}, nil
	case TypeReceivePurchaseOrder:
		return &ReceivePurchaseOrder{}, nil
	case TypeInventoryAdjustment:
		return &InventoryAdjustment{}, nil
	case TypeInventoryTransfer:
		return &InventoryTransfer{}, nil
	case TypeSale:
		return &Sale{}, nil
	case TypeExpense:
		return &Expense{}, nil
	}
	return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, t)
}

// DecodePayload parses and validates raw as the payload of an event of type t
// recorded at siteID. The returned value is one of the concrete payload types.
func DecodePayload(t Type, siteID string, raw json.RawMessage) (Payload, error) {
	target, err := newPayload(t)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: payload required", ErrValidation)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrValidation, t, err)
	}
	if err := validate.Struct(target); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %s", ErrValidation, t, describe(err))
	}
	payload := deref(target)
	if err := payload.check(siteID); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrValidation, t, err)
	}
	return payload, nil
}

// Decode returns the typed payload of a stored event.
func (e Event) Decode() (Payload, error) {
	return DecodePayload(e.Type, e.SiteID, e.Payload)
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *FeedLivestock:
		return *v
	case *SellLivestock:
		return *v
	case *PurchaseLivestock:
		return *v
	case *ReceivePurchaseOrder:
		return *v
	case *InventoryAdjustment:
		return *v
	case *InventoryTransfer:
		return *v
	case *Sale:
		return *v
	case *Expense:
		return *v
	}
	return p
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
