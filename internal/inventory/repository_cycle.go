package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/platform/db"
	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

// CreateCycleCount stores the header and its lines atomically.
func (r *Repository) CreateCycleCount(ctx context.Context, cc CycleCount) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO cycle_counts (id, org_id, warehouse_id, location_id, status, counted_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, cc.ID, cc.OrgID, cc.WarehouseID, cc.LocationID, string(cc.Status), nullInt(cc.CountedBy), cc.CreatedAt); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, line := range cc.Lines {
			batch.Queue(`INSERT INTO cycle_count_lines (id, org_id, cycle_count_id, item_id, location_id, lot_id, system_qty, counted_qty, variance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, line.ID, cc.OrgID, cc.ID, line.ItemID, line.LocationID, line.LotID, line.SystemQty, line.CountedQty, line.Variance)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// GetCycleCount loads a count with its lines for the tenant.
func (r *Repository) GetCycleCount(ctx context.Context, orgID int64, id uuid.UUID) (CycleCount, error) {
	cc := CycleCount{}
	var status string
	var countedBy, approvedBy *int64
	err := r.pool.QueryRow(ctx, `SELECT id, org_id, warehouse_id, location_id, status, counted_by, approved_by, created_at, submitted_at, approved_at
FROM cycle_counts WHERE org_id=$1 AND id=$2`, orgID, id).
		Scan(&cc.ID, &cc.OrgID, &cc.WarehouseID, &cc.LocationID, &status, &countedBy, &approvedBy, &cc.CreatedAt, &cc.SubmittedAt, &cc.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CycleCount{}, fmt.Errorf("inventory: cycle count %s: %w", id, shared.ErrNotFound)
		}
		return CycleCount{}, err
	}
	cc.Status = CycleCountStatus(status)
	if countedBy != nil {
		cc.CountedBy = *countedBy
	}
	if approvedBy != nil {
		cc.ApprovedBy = *approvedBy
	}
	rows, err := r.pool.Query(ctx, `SELECT id, cycle_count_id, item_id, location_id, lot_id, system_qty, counted_qty, variance
FROM cycle_count_lines WHERE org_id=$1 AND cycle_count_id=$2 ORDER BY id`, orgID, id)
	if err != nil {
		return CycleCount{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line CycleCountLine
		if err := rows.Scan(&line.ID, &line.CycleCountID, &line.ItemID, &line.LocationID, &line.LotID, &line.SystemQty, &line.CountedQty, &line.Variance); err != nil {
			return CycleCount{}, err
		}
		cc.Lines = append(cc.Lines, line)
	}
	return cc, rows.Err()
}

// UpdateCycleCountLine edits a line only while its count is open. The count
// row is share-locked first so a concurrent submit waits for the edit.
func (r *Repository) UpdateCycleCountLine(ctx context.Context, orgID int64, countID, lineID uuid.UUID, counted, variance decimal.Decimal) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return updateOpenLine(ctx, tx, orgID, countID, lineID, counted, variance)
	})
}

type lineUpdater interface {
	queryRower
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateOpenLine(ctx context.Context, q lineUpdater, orgID int64, countID, lineID uuid.UUID, counted, variance decimal.Decimal) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM cycle_counts WHERE org_id=$1 AND id=$2 FOR SHARE`, orgID, countID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("inventory: cycle count %s: %w", countID, shared.ErrNotFound)
		}
		return err
	}
	if CycleCountStatus(status) != CycleCountOpen {
		return fmt.Errorf("inventory: cycle count %s is %s: %w", countID, status, shared.ErrInvalidState)
	}
	tag, err := q.Exec(ctx, `UPDATE cycle_count_lines SET counted_qty=$4, variance=$5
WHERE org_id=$1 AND cycle_count_id=$2 AND id=$3`, orgID, countID, lineID, counted, variance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("inventory: cycle count line %s: %w", lineID, shared.ErrNotFound)
	}
	return nil
}

// TransitionCycleCount moves a count from one status to the next. The
// conditional update guarantees only one concurrent caller wins.
func (r *Repository) TransitionCycleCount(ctx context.Context, orgID int64, id uuid.UUID, from, to CycleCountStatus, actorID int64, at time.Time) error {
	var query string
	switch to {
	case CycleCountSubmitted:
		query = `UPDATE cycle_counts SET status=$4, submitted_at=$5 WHERE org_id=$1 AND id=$2 AND status=$3`
	case CycleCountApproved:
		query = `UPDATE cycle_counts SET status=$4, approved_at=$5, approved_by=$6 WHERE org_id=$1 AND id=$2 AND status=$3`
	default:
		return fmt.Errorf("inventory: unsupported cycle count status %q: %w", to, shared.ErrInvalidState)
	}
	args := []any{orgID, id, string(from), string(to), at}
	if to == CycleCountApproved {
		args = append(args, nullInt(actorID))
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	if err := r.pool.QueryRow(ctx, `SELECT status FROM cycle_counts WHERE org_id=$1 AND id=$2`, orgID, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("inventory: cycle count %s: %w", id, shared.ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("inventory: cycle count %s is %s, expected %s: %w", id, status, from, shared.ErrInvalidState)
}
