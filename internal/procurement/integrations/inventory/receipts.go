// Package inventory posts goods receipts into the stock ledger.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	inv "github.com/getson7070/ERP-BERHAN-sub000/internal/inventory"
	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

// ReceiptPoster is the part of the movement service used for goods receipts.
type ReceiptPoster interface {
	PostReceipt(ctx context.Context, line inv.DocumentLine) (uuid.UUID, error)
}

// GRNLine is one received line.
type GRNLine struct {
	LineNo     int
	ItemID     uuid.UUID
	LocationID uuid.NullUUID
	LotID      uuid.NullUUID
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
}

// GoodsReceipt is a posted GRN.
type GoodsReceipt struct {
	ID          uuid.UUID
	Number      string
	OrgID       int64
	WarehouseID uuid.UUID
	ActorID     int64
	Lines       []GRNLine
}

// ReceiptClient posts GRN lines as inbound movements.
type ReceiptClient struct {
	service ReceiptPoster
}

// NewReceiptClient constructs a ReceiptClient.
func NewReceiptClient(service ReceiptPoster) *ReceiptClient {
	return &ReceiptClient{service: service}
}

// PostGoodsReceipt posts every line of the GRN. Each line carries its own
// idempotency key so a partially posted receipt can be posted again.
func (c *ReceiptClient) PostGoodsReceipt(ctx context.Context, grn GoodsReceipt) ([]uuid.UUID, error) {
	if c.service == nil {
		return nil, errors.New("inventory integration not configured")
	}
	if grn.ID == uuid.Nil || grn.Number == "" {
		return nil, fmt.Errorf("goods receipt id and number required: %w", shared.ErrInvalidRequest)
	}
	if len(grn.Lines) == 0 {
		return nil, fmt.Errorf("goods receipt %s has no lines: %w", grn.Number, shared.ErrInvalidRequest)
	}
	seen := make(map[int]struct{}, len(grn.Lines))
	for _, line := range grn.Lines {
		if _, dup := seen[line.LineNo]; dup {
			return nil, fmt.Errorf("goods receipt %s repeats line %d: %w", grn.Number, line.LineNo, shared.ErrInvalidRequest)
		}
		seen[line.LineNo] = struct{}{}
	}

	ids := make([]uuid.UUID, 0, len(grn.Lines))
	for _, line := range grn.Lines {
		id, err := c.service.PostReceipt(ctx, inv.DocumentLine{
			Key: inv.BalanceKey{
				OrgID:       grn.OrgID,
				ItemID:      line.ItemID,
				WarehouseID: grn.WarehouseID,
				LocationID:  line.LocationID,
				LotID:       line.LotID,
			},
			Qty:            line.Qty,
			UnitRate:       line.UnitCost,
			ReferenceID:    grn.ID,
			IdempotencyKey: fmt.Sprintf("GRN:%s:%d", grn.Number, line.LineNo),
			CreatedBy:      grn.ActorID,
			Note:           fmt.Sprintf("GRN %s", grn.Number),
		})
		if err != nil {
			return ids, fmt.Errorf("goods receipt %s line %d: %w", grn.Number, line.LineNo, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
