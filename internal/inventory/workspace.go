package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reader loads balances. Unknown keys yield a zero balance, never an error.
type Reader interface {
	GetBalance(ctx context.Context, key Key) (Balance, error)
}

// Workspace stages the balance changes of one event. Several deltas on the
// same key chain on top of each other; the versions read first are kept so the
// final writes can be compare-and-swapped.
type Workspace struct {
	reader   Reader
	eventID  uuid.UUID
	postedAt time.Time
	original map[Key]Balance
	current  map[Key]Balance
	order    []Key
	moves    []Movement
}

// NewWorkspace builds an empty workspace for eventID.
func NewWorkspace(reader Reader, eventID uuid.UUID, postedAt time.Time) *Workspace {
	return &Workspace{
		reader:   reader,
		eventID:  eventID,
		postedAt: postedAt,
		original: make(map[Key]Balance),
		current:  make(map[Key]Balance),
	}
}

// Balance returns the staged balance for key, loading it on first use.
func (w *Workspace) Balance(ctx context.Context, key Key) (Balance, error) {
	if err := key.Validate(); err != nil {
		return Balance{}, err
	}
	if b, ok := w.current[key]; ok {
		return b, nil
	}
	b, err := w.reader.GetBalance(ctx, key)
	if err != nil {
		return Balance{}, fmt.Errorf("inventory: load balance %s: %w", key, err)
	}
	b.Key = key
	w.original[key] = b
	w.current[key] = b
	w.order = append(w.order, key)
	return b, nil
}

// Receive stages a receipt of qty at unitCost.
func (w *Workspace) Receive(ctx context.Context, key Key, qty, unitCost decimal.Decimal) (Movement, error) {
	b, err := w.Balance(ctx, key)
	if err != nil {
		return Movement{}, err
	}
	next, err := ApplyReceipt(b, qty, unitCost)
	if err != nil {
		return Movement{}, err
	}
	return w.record(next, qty, unitCost, false), nil
}

// Consume stages a consumption of qty; the movement carries the unit cost used.
func (w *Workspace) Consume(ctx context.Context, key Key, qty decimal.Decimal) (Movement, error) {
	b, err := w.Balance(ctx, key)
	if err != nil {
		return Movement{}, err
	}
	next, cost, err := ApplyConsumption(b, qty)
	if err != nil {
		return Movement{}, err
	}
	return w.record(next, qty.Neg(), cost, false), nil
}

// Revert stages the inverse of a previously recorded movement.
func (w *Workspace) Revert(ctx context.Context, m Movement) (Movement, error) {
	b, err := w.Balance(ctx, m.Key)
	if err != nil {
		return Movement{}, err
	}
	var next Balance
	switch {
	case m.QtyChange.IsPositive():
		next, err = UnwindReceipt(b, m.QtyChange, m.UnitCost)
	case m.QtyChange.IsNegative():
		next, err = ApplyReceipt(b, m.QtyChange.Neg(), m.UnitCost)
	default:
		return Movement{}, fmt.Errorf("%w: empty movement", ErrInvalidQuantity)
	}
	if err != nil {
		return Movement{}, err
	}
	return w.record(next, m.QtyChange.Neg(), m.UnitCost, true), nil
}

func (w *Workspace) record(next Balance, qtyChange, unitCost decimal.Decimal, reversal bool) Movement {
	next.UpdatedAt = w.postedAt
	w.current[next.Key] = next
	m := Movement{
		EventID:        w.eventID,
		Key:            next.Key,
		QtyChange:      qtyChange,
		UnitCost:       unitCost,
		BalanceQty:     next.QuantityOnHand,
		BalanceAvgCost: next.AvgCostPerUnit,
		Reversal:       reversal,
		PostedAt:       w.postedAt,
	}
	w.moves = append(w.moves, m)
	return m
}

// Updates lists the compare-and-swap writes for every touched key, in the
// order keys were first read.
func (w *Workspace) Updates() []BalanceUpdate {
	updates := make([]BalanceUpdate, 0, len(w.order))
	for _, key := range w.order {
		if !w.touched(key) {
			continue
		}
		updates = append(updates, BalanceUpdate{Expected: w.original[key].Version, Balance: w.current[key]})
	}
	return updates
}

func (w *Workspace) touched(key Key) bool {
	for _, m := range w.moves {
		if m.Key == key {
			return true
		}
	}
	return false
}

// Movements returns the staged stock card rows.
func (w *Workspace) Movements() []Movement {
	out := make([]Movement, len(w.moves))
	copy(out, w.moves)
	return out
}
