package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/farmledger/internal/platform/db"
)

// Repository persists balances and stock card rows in PostgreSQL. It runs on a
// pool or inside a caller-owned transaction.
type Repository struct {
	db db.Querier
}

// NewRepository constructs Repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

const balanceColumns = `tenant_id, site_id, item_id, quantity_on_hand, avg_cost_per_unit, version, updated_at`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.Key.TenantID, &b.Key.SiteID, &b.Key.ItemID, &b.QuantityOnHand, &b.AvgCostPerUnit, &b.Version, &b.UpdatedAt)
	return b, err
}

// GetBalance returns the stored balance or a zero balance when none exists.
func (r *Repository) GetBalance(ctx context.Context, key Key) (Balance, error) {
	row := r.db.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE tenant_id=$1 AND site_id=$2 AND item_id=$3`, key.TenantID, key.SiteID, key.ItemID)
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ZeroBalance(key), nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("inventory: get balance: %w", err)
	}
	return b, nil
}

// GetBalances loads several balances, zero-filling absent rows.
func (r *Repository) GetBalances(ctx context.Context, keys []Key) ([]Balance, error) {
	out := make([]Balance, 0, len(keys))
	for _, key := range keys {
		b, err := r.GetBalance(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ListBalances returns every balance of a tenant, optionally restricted to a site.
func (r *Repository) ListBalances(ctx context.Context, tenantID, siteID string) ([]Balance, error) {
	rows, err := r.db.Query(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE tenant_id=$1 AND ($2 = '' OR site_id=$2)
ORDER BY site_id, item_id`, tenantID, siteID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list balances: %w", err)
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ApplyUpdates writes every balance, each guarded by its expected version.
// A missing match aborts with ErrVersionConflict.
func (r *Repository) ApplyUpdates(ctx context.Context, updates []BalanceUpdate) error {
	for _, u := range updates {
		b := u.Balance
		if u.Expected == 0 {
			tag, err := r.db.Exec(ctx, `INSERT INTO inventory_balances (tenant_id, site_id, item_id, quantity_on_hand, avg_cost_per_unit, version, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6)
ON CONFLICT (tenant_id, site_id, item_id) DO NOTHING`,
				b.Key.TenantID, b.Key.SiteID, b.Key.ItemID, b.QuantityOnHand.Round(QuantityPlaces), b.AvgCostPerUnit.Round(CostPlaces), b.UpdatedAt)
			if err != nil {
				return fmt.Errorf("inventory: insert balance %s: %w", b.Key, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s inserted concurrently", ErrVersionConflict, b.Key)
			}
			continue
		}
		tag, err := r.db.Exec(ctx, `UPDATE inventory_balances
SET quantity_on_hand=$4, avg_cost_per_unit=$5, version=version+1, updated_at=$6
WHERE tenant_id=$1 AND site_id=$2 AND item_id=$3 AND version=$7`,
			b.Key.TenantID, b.Key.SiteID, b.Key.ItemID, b.QuantityOnHand.Round(QuantityPlaces), b.AvgCostPerUnit.Round(CostPlaces), b.UpdatedAt, u.Expected)
		if err != nil {
			return fmt.Errorf("inventory: update balance %s: %w", b.Key, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s moved past version %d", ErrVersionConflict, b.Key, u.Expected)
		}
	}
	return nil
}

// InsertMovements appends stock card rows.
func (r *Repository) InsertMovements(ctx context.Context, movements []Movement) error {
	for _, m := range movements {
		postedAt := m.PostedAt
		if postedAt.IsZero() {
			postedAt = time.Now().UTC()
		}
		if _, err := r.db.Exec(ctx, `INSERT INTO inventory_movements
(tenant_id, site_id, item_id, event_id, qty_change, unit_cost, balance_qty, balance_avg_cost, is_reversal, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			m.Key.TenantID, m.Key.SiteID, m.Key.ItemID, m.EventID, m.QtyChange, m.UnitCost.Round(CostPlaces),
			m.BalanceQty, m.BalanceAvgCost, m.Reversal, postedAt); err != nil {
			return fmt.Errorf("inventory: insert movement: %w", err)
		}
	}
	return nil
}

const movementColumns = `tenant_id, site_id, item_id, event_id, qty_change, unit_cost, balance_qty, balance_avg_cost, is_reversal, posted_at`

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.Key.TenantID, &m.Key.SiteID, &m.Key.ItemID, &m.EventID, &m.QtyChange, &m.UnitCost,
			&m.BalanceQty, &m.BalanceAvgCost, &m.Reversal, &m.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MovementsByEvent returns the non-reversal stock card rows of an event in the order written.
func (r *Repository) MovementsByEvent(ctx context.Context, tenantID string, eventID uuid.UUID) ([]Movement, error) {
	rows, err := r.db.Query(ctx, `SELECT `+movementColumns+` FROM inventory_movements
WHERE tenant_id=$1 AND event_id=$2 AND NOT is_reversal ORDER BY id`, tenantID, eventID)
	if err != nil {
		return nil, fmt.Errorf("inventory: movements by event: %w", err)
	}
	return scanMovements(rows)
}

// StockCard lists stock card rows for a key, oldest first.
func (r *Repository) StockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	rows, err := r.db.Query(ctx, `SELECT `+movementColumns+` FROM inventory_movements
WHERE tenant_id=$1 AND site_id=$2 AND item_id=$3
  AND ($4::timestamptz IS NULL OR posted_at >= $4)
  AND ($5::timestamptz IS NULL OR posted_at <= $5)
ORDER BY id LIMIT $6`, filter.Key.TenantID, filter.Key.SiteID, filter.Key.ItemID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: stock card: %w", err)
	}
	return scanMovements(rows)
}
