package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations the movement service runs under the
// balance row lock.
type TxRepository interface {
	SetLockTimeout(ctx context.Context, timeout time.Duration) error
	LockBalance(ctx context.Context, key BalanceKey) (StockBalance, error)
	FindLedgerByIdempotency(ctx context.Context, orgID int64, refType string, refID uuid.NullUUID, idemKey string) (uuid.UUID, bool, error)
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	UpdateBalance(ctx context.Context, key BalanceKey, qty decimal.Decimal) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Row
// locks taken with FOR UPDATE provide the serialisation per balance key.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const keyPredicate = `org_id=$1 AND item_id=$2 AND warehouse_id=$3 AND location_id IS NOT DISTINCT FROM $4::uuid AND lot_id IS NOT DISTINCT FROM $5::uuid`

func keyArgs(key BalanceKey) []any {
	return []any{key.OrgID, key.ItemID, key.WarehouseID, key.LocationID, key.LotID}
}

func (r *txRepository) SetLockTimeout(ctx context.Context, timeout time.Duration) error {
	_, err := r.tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", timeout.Milliseconds()))
	return err
}

func (r *txRepository) LockBalance(ctx context.Context, key BalanceKey) (StockBalance, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (org_id, item_id, warehouse_id, location_id, lot_id, qty_on_hand, updated_at)
VALUES ($1,$2,$3,$4,$5,0,NOW())
ON CONFLICT (org_id, item_id, warehouse_id, location_id, lot_id) DO NOTHING`, keyArgs(key)...); err != nil {
		return StockBalance{}, err
	}
	bal := StockBalance{Key: key}
	err := r.tx.QueryRow(ctx, `SELECT qty_on_hand, updated_at FROM stock_balances WHERE `+keyPredicate+` FOR UPDATE`, keyArgs(key)...).
		Scan(&bal.QtyOnHand, &bal.UpdatedAt)
	if err != nil {
		return StockBalance{}, err
	}
	return bal, nil
}

func (r *txRepository) FindLedgerByIdempotency(ctx context.Context, orgID int64, refType string, refID uuid.NullUUID, idemKey string) (uuid.UUID, bool, error) {
	return findLedgerByIdempotency(ctx, r.tx, orgID, refType, refID, idemKey)
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (id, org_id, item_id, warehouse_id, location_id, lot_id, qty, rate, value, tx_type, reference_type, reference_id, idempotency_key, created_by, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13, ''),$14,$15,clock_timestamp())
RETURNING seq, posted_at`,
		entry.ID, entry.Key.OrgID, entry.Key.ItemID, entry.Key.WarehouseID, entry.Key.LocationID, entry.Key.LotID,
		entry.Qty, entry.UnitRate, entry.Value(), string(entry.TxType), entry.ReferenceType, entry.ReferenceID,
		entry.IdempotencyKey, nullInt(entry.CreatedBy), entry.Note).Scan(&entry.Seq, &entry.PostedAt)
	return entry, err
}

func (r *txRepository) UpdateBalance(ctx context.Context, key BalanceKey, qty decimal.Decimal) error {
	args := append(keyArgs(key), qty)
	tag, err := r.tx.Exec(ctx, `UPDATE stock_balances SET qty_on_hand=$6, updated_at=NOW() WHERE `+keyPredicate, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("inventory: balance row %s vanished under lock", key)
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findLedgerByIdempotency(ctx context.Context, q queryRower, orgID int64, refType string, refID uuid.NullUUID, idemKey string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `SELECT id FROM stock_ledger
WHERE org_id=$1 AND reference_type=$2 AND reference_id IS NOT DISTINCT FROM $3::uuid AND idempotency_key=$4
LIMIT 1`, orgID, refType, refID, idemKey).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// FindLedgerByIdempotency looks up a posted entry outside of any lock.
func (r *Repository) FindLedgerByIdempotency(ctx context.Context, orgID int64, refType string, refID uuid.NullUUID, idemKey string) (uuid.UUID, bool, error) {
	return findLedgerByIdempotency(ctx, r.pool, orgID, refType, refID, idemKey)
}

// GetBalance reads a balance row without locking it.
func (r *Repository) GetBalance(ctx context.Context, key BalanceKey) (StockBalance, error) {
	bal := StockBalance{Key: key}
	err := r.pool.QueryRow(ctx, `SELECT qty_on_hand, updated_at FROM stock_balances WHERE `+keyPredicate, keyArgs(key)...).
		Scan(&bal.QtyOnHand, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBalance{Key: key, QtyOnHand: decimal.Zero}, ErrBalanceNotFound
		}
		return StockBalance{}, err
	}
	return bal, nil
}

// ListBalances lists balances of a warehouse for the tenant.
func (r *Repository) ListBalances(ctx context.Context, orgID int64, warehouseID uuid.UUID) ([]StockBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT org_id, item_id, warehouse_id, location_id, lot_id, qty_on_hand, updated_at
FROM stock_balances WHERE org_id=$1 AND warehouse_id=$2
ORDER BY item_id, location_id NULLS FIRST, lot_id NULLS FIRST`, orgID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []StockBalance{}
	for rows.Next() {
		var bal StockBalance
		if err := rows.Scan(&bal.Key.OrgID, &bal.Key.ItemID, &bal.Key.WarehouseID, &bal.Key.LocationID, &bal.Key.LotID, &bal.QtyOnHand, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// ListLedger returns ledger entries for one key in posting order.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args := append(keyArgs(filter.Key), nullTime(filter.From), nullTime(filter.To), limit)
	rows, err := r.pool.Query(ctx, `SELECT id, seq, posted_at, qty, rate, tx_type, reference_type, reference_id, COALESCE(idempotency_key, ''), COALESCE(created_by, 0), note
FROM stock_ledger
WHERE `+keyPredicate+` AND posted_at >= COALESCE($6::timestamptz, '-infinity') AND posted_at <= COALESCE($7::timestamptz, 'infinity')
ORDER BY seq ASC
LIMIT $8`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		entry := LedgerEntry{Key: filter.Key}
		var txType string
		if err := rows.Scan(&entry.ID, &entry.Seq, &entry.PostedAt, &entry.Qty, &entry.UnitRate, &txType, &entry.ReferenceType, &entry.ReferenceID, &entry.IdempotencyKey, &entry.CreatedBy, &entry.Note); err != nil {
			return nil, err
		}
		entry.TxType = TransactionType(txType)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SumLedger sums ledger deltas of a key posted strictly before the given
// time; a zero time sums the whole history.
func (r *Repository) SumLedger(ctx context.Context, key BalanceKey, before time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	args := append(keyArgs(key), nullTime(before))
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM stock_ledger
WHERE `+keyPredicate+` AND posted_at < COALESCE($6::timestamptz, 'infinity')`, args...).Scan(&sum)
	return sum, err
}

// ListDrift compares every balance of the tenant with its ledger sum.
func (r *Repository) ListDrift(ctx context.Context, orgID int64) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.org_id, b.item_id, b.warehouse_id, b.location_id, b.lot_id, b.qty_on_hand, COALESCE(l.total, 0)
FROM stock_balances b
LEFT JOIN LATERAL (
	SELECT SUM(qty) AS total FROM stock_ledger l
	WHERE l.org_id=b.org_id AND l.item_id=b.item_id AND l.warehouse_id=b.warehouse_id
	  AND l.location_id IS NOT DISTINCT FROM b.location_id AND l.lot_id IS NOT DISTINCT FROM b.lot_id
) l ON TRUE
WHERE b.org_id=$1 AND b.qty_on_hand <> COALESCE(l.total, 0)`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	drifts := []Drift{}
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.Key.OrgID, &d.Key.ItemID, &d.Key.WarehouseID, &d.Key.LocationID, &d.Key.LotID, &d.Cached, &d.LedgerSum); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// ListBalanceOrgs returns tenants owning at least one balance row.
func (r *Repository) ListBalanceOrgs(ctx context.Context) ([]int64, error) {
	return r.listOrgs(ctx, `SELECT DISTINCT org_id FROM stock_balances ORDER BY org_id`)
}

func (r *Repository) listOrgs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orgs := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
