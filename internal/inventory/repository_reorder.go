package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListReorderOrgs returns tenants with at least one active reorder rule.
func (r *Repository) ListReorderOrgs(ctx context.Context) ([]int64, error) {
	return r.listOrgs(ctx, `SELECT DISTINCT org_id FROM reorder_rules WHERE is_active ORDER BY org_id`)
}

// ListActiveReorderRules returns the active rules of a tenant.
func (r *Repository) ListActiveReorderRules(ctx context.Context, orgID int64) ([]ReorderRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, org_id, item_id, warehouse_id, min_qty, max_qty, reorder_qty, COALESCE(lead_time_days, 0), is_active
FROM reorder_rules WHERE org_id=$1 AND is_active ORDER BY item_id, warehouse_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rules := []ReorderRule{}
	for rows.Next() {
		var rule ReorderRule
		if err := rows.Scan(&rule.ID, &rule.OrgID, &rule.ItemID, &rule.WarehouseID, &rule.MinQty, &rule.MaxQty, &rule.ReorderQty, &rule.LeadTimeDays, &rule.IsActive); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// OnHandByItemWarehouse sums balances of a tenant across locations and lots.
func (r *Repository) OnHandByItemWarehouse(ctx context.Context, orgID int64) (map[ItemWarehouse]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, warehouse_id, SUM(qty_on_hand)
FROM stock_balances WHERE org_id=$1 GROUP BY item_id, warehouse_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	onHand := make(map[ItemWarehouse]decimal.Decimal)
	for rows.Next() {
		var key ItemWarehouse
		var qty decimal.Decimal
		if err := rows.Scan(&key.ItemID, &key.WarehouseID, &qty); err != nil {
			return nil, err
		}
		onHand[key] = qty
	}
	return onHand, rows.Err()
}

// UpsertReorderRule creates or replaces the rule of (org, item, warehouse).
func (r *Repository) UpsertReorderRule(ctx context.Context, rule ReorderRule) (ReorderRule, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO reorder_rules (id, org_id, item_id, warehouse_id, min_qty, max_qty, reorder_qty, lead_time_days, is_active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (org_id, item_id, warehouse_id) DO UPDATE
SET min_qty=EXCLUDED.min_qty, max_qty=EXCLUDED.max_qty, reorder_qty=EXCLUDED.reorder_qty,
    lead_time_days=EXCLUDED.lead_time_days, is_active=EXCLUDED.is_active
RETURNING id`, rule.ID, rule.OrgID, rule.ItemID, rule.WarehouseID, rule.MinQty, rule.MaxQty, rule.ReorderQty, rule.LeadTimeDays, rule.IsActive).Scan(&rule.ID)
	return rule, err
}

// ListLotOrgs returns tenants with active lots carrying an expiry date.
func (r *Repository) ListLotOrgs(ctx context.Context) ([]int64, error) {
	return r.listOrgs(ctx, `SELECT DISTINCT org_id FROM lots WHERE is_active AND expiry IS NOT NULL ORDER BY org_id`)
}

// ListExpiringLots returns active lots of a tenant expiring on or before cutoff.
func (r *Repository) ListExpiringLots(ctx context.Context, orgID int64, cutoff time.Time) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, org_id, item_id, number, expiry
FROM lots WHERE org_id=$1 AND is_active AND expiry IS NOT NULL AND expiry <= $2
ORDER BY expiry, number`, orgID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lots := []Lot{}
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.OrgID, &lot.ItemID, &lot.Number, &lot.Expiry); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
