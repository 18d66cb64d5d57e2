package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	inv "github.com/getson7070/ERP-BERHAN-sub000/internal/inventory"
	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

type stubReceiptPoster struct {
	posted []inv.DocumentLine
	err    error
	byKey  map[string]uuid.UUID
}

func (p *stubReceiptPoster) PostReceipt(ctx context.Context, line inv.DocumentLine) (uuid.UUID, error) {
	if p.err != nil {
		return uuid.Nil, p.err
	}
	if p.byKey == nil {
		p.byKey = map[string]uuid.UUID{}
	}
	if id, ok := p.byKey[line.IdempotencyKey]; ok {
		return id, nil
	}
	id := uuid.New()
	p.byKey[line.IdempotencyKey] = id
	p.posted = append(p.posted, line)
	return id, nil
}

func goodsReceipt() GoodsReceipt {
	lot := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	return GoodsReceipt{
		ID:          uuid.New(),
		Number:      "GRN-42",
		OrgID:       1,
		WarehouseID: uuid.New(),
		ActorID:     5,
		Lines: []GRNLine{
			{LineNo: 1, ItemID: uuid.New(), Qty: decimal.RequireFromString("50"), UnitCost: decimal.RequireFromString("2.5")},
			{LineNo: 2, ItemID: uuid.New(), LotID: lot, Qty: decimal.RequireFromString("3")},
		},
	}
}

func TestPostGoodsReceipt(t *testing.T) {
	poster := &stubReceiptPoster{}
	client := NewReceiptClient(poster)
	grn := goodsReceipt()

	ids, err := client.PostGoodsReceipt(context.Background(), grn)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	first := poster.posted[0]
	require.Equal(t, "GRN:GRN-42:1", first.IdempotencyKey)
	require.Equal(t, grn.ID, first.ReferenceID)
	require.True(t, first.UnitRate.Equal(decimal.RequireFromString("2.5")))
	require.Equal(t, "GRN GRN-42", first.Note)
	require.Equal(t, grn.Lines[1].LotID, poster.posted[1].Key.LotID)

	again, err := client.PostGoodsReceipt(context.Background(), grn)
	require.NoError(t, err)
	require.Equal(t, ids, again, "reposting returns the original entries")
	require.Len(t, poster.posted, 2)
}

func TestPostGoodsReceiptValidation(t *testing.T) {
	client := NewReceiptClient(&stubReceiptPoster{})

	grn := goodsReceipt()
	grn.Lines = nil
	_, err := client.PostGoodsReceipt(context.Background(), grn)
	require.ErrorIs(t, err, shared.ErrInvalidRequest)

	grn = goodsReceipt()
	grn.Lines[1].LineNo = 1
	_, err = client.PostGoodsReceipt(context.Background(), grn)
	require.ErrorIs(t, err, shared.ErrInvalidRequest)

	grn = goodsReceipt()
	grn.ID = uuid.Nil
	_, err = client.PostGoodsReceipt(context.Background(), grn)
	require.ErrorIs(t, err, shared.ErrInvalidRequest)
}

func TestPostGoodsReceiptPropagatesErrors(t *testing.T) {
	poster := &stubReceiptPoster{err: shared.ErrContention}
	_, err := NewReceiptClient(poster).PostGoodsReceipt(context.Background(), goodsReceipt())
	require.True(t, errors.Is(err, shared.ErrContention))
	require.ErrorContains(t, err, "line 1")
}
