// Package inventory provides integration with the inventory module.
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

// Poster is the part of the movement service used by delivery documents.
type Poster interface {
	PostDelivery(ctx context.Context, line inv.DocumentLine) (uuid.UUID, error)
	PostReturn(ctx context.Context, line inv.DocumentLine) (uuid.UUID, error)
}

// Item represents one line of a delivery note or customer return.
type Item struct {
	LineNo     int
	ItemID     uuid.UUID
	LocationID uuid.NullUUID
	LotID      uuid.NullUUID
	Quantity   decimal.Decimal
	UnitRate   decimal.Decimal
	Note       string
}

// Document is a delivery note or return shipped from one warehouse.
type Document struct {
	ID          uuid.UUID
	Number      string
	OrgID       int64
	WarehouseID uuid.UUID
	ActorID     int64
	Items       []Item
}

// Client provides inventory operations for delivery.
type Client struct {
	service Poster
}

// NewClient creates a new inventory client.
func NewClient(service Poster) *Client {
	return &Client{service: service}
}

// Reduce posts every line of a delivery note as an outbound movement. Lines
// already posted by an earlier attempt are skipped by the ledger, so a failed
// document can be resubmitted as a whole.
func (c *Client) Reduce(ctx context.Context, doc Document) ([]uuid.UUID, error) {
	if c.service == nil {
		return nil, errors.New("inventory service not initialized")
	}
	return c.post(ctx, "DN", doc, c.service.PostDelivery)
}

// Return posts every line of a customer return back into stock.
func (c *Client) Return(ctx context.Context, doc Document) ([]uuid.UUID, error) {
	if c.service == nil {
		return nil, errors.New("inventory service not initialized")
	}
	return c.post(ctx, "RET", doc, c.service.PostReturn)
}

func (c *Client) post(ctx context.Context, prefix string, doc Document, fn func(context.Context, inv.DocumentLine) (uuid.UUID, error)) ([]uuid.UUID, error) {
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(doc.Items))
	for _, item := range doc.Items {
		note := item.Note
		if note == "" {
			note = fmt.Sprintf("%s %s", prefix, doc.Number)
		}
		id, err := fn(ctx, inv.DocumentLine{
			Key: inv.BalanceKey{
				OrgID:       doc.OrgID,
				ItemID:      item.ItemID,
				WarehouseID: doc.WarehouseID,
				LocationID:  item.LocationID,
				LotID:       item.LotID,
			},
			Qty:            item.Quantity,
			UnitRate:       item.UnitRate,
			ReferenceID:    doc.ID,
			IdempotencyKey: fmt.Sprintf("%s:%s:%d", prefix, doc.Number, item.LineNo),
			CreatedBy:      doc.ActorID,
			Note:           note,
		})
		if err != nil {
			return ids, fmt.Errorf("%s %s line %d: %w", prefix, doc.Number, item.LineNo, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func validateDocument(doc Document) error {
	if doc.ID == uuid.Nil || doc.Number == "" {
		return fmt.Errorf("delivery document id and number required: %w", shared.ErrInvalidRequest)
	}
	seen := make(map[int]struct{}, len(doc.Items))
	for _, item := range doc.Items {
		if _, dup := seen[item.LineNo]; dup {
			return fmt.Errorf("delivery document %s repeats line %d: %w", doc.Number, item.LineNo, shared.ErrInvalidRequest)
		}
		seen[item.LineNo] = struct{}{}
	}
	return nil
}
