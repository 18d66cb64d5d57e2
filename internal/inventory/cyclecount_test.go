package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

type cycleCountFixture struct {
	repo      *memoryRepo
	movements *Service
	store     *memoryCountStore
	approvals *memoryApprovals
	counts    *CycleCountService
}

func newCycleCountFixture() cycleCountFixture {
	repo := newMemoryRepo()
	movements, _, _ := newTestService(repo, ServiceConfig{})
	store := newMemoryCountStore()
	approvals := &memoryApprovals{}
	return cycleCountFixture{
		repo:      repo,
		movements: movements,
		store:     store,
		approvals: approvals,
		counts:    NewCycleCountService(store, movements, movements, approvals, discardLogger()),
	}
}

func counted(s string) *decimal.Decimal {
	v := qty(s)
	return &v
}

func TestCycleCountApprovePostsVariance(t *testing.T) {
	f := newCycleCountFixture()
	ctx := context.Background()
	key := newKey(1)
	_, err := f.movements.PostReceipt(ctx, receipt(key, "50", "grn-1:1"))
	require.NoError(t, err)

	cc, err := f.counts.Create(ctx, CreateCycleCountInput{
		OrgID:       1,
		WarehouseID: key.WarehouseID,
		CountedBy:   7,
		Lines:       []CycleCountLineInput{{ItemID: key.ItemID, CountedQty: counted("42")}},
	})
	require.NoError(t, err)
	require.Equal(t, CycleCountOpen, cc.Status)
	require.Len(t, cc.Lines, 1)
	line := cc.Lines[0]
	requireQty(t, "50", line.SystemQty)
	requireQty(t, "42", line.CountedQty)
	requireQty(t, "-8", line.Variance)

	cc, err = f.counts.Submit(ctx, 1, cc.ID, 7)
	require.NoError(t, err)
	require.Equal(t, CycleCountSubmitted, cc.Status)
	require.NotNil(t, cc.SubmittedAt)

	cc, err = f.counts.Approve(ctx, 1, cc.ID, 9)
	require.NoError(t, err)
	require.Equal(t, CycleCountApproved, cc.Status)
	require.EqualValues(t, 9, cc.ApprovedBy)

	requireQty(t, "42", f.repo.onHand(key))
	entries := f.repo.entries(key)
	require.Len(t, entries, 2)
	posted := entries[1]
	requireQty(t, "-8", posted.Qty)
	require.Equal(t, TxCycleCount, posted.TxType)
	require.Equal(t, RefCycleCount, posted.ReferenceType)
	require.Equal(t, OptionalID(cc.ID), posted.ReferenceID)
	require.Equal(t, line.IdempotencyKey(), posted.IdempotencyKey)

	history, err := f.counts.History(ctx, 1, cc.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Equal(t, shared.ApprovalApprove, history[1].Action)

	// approving again is rejected and posts nothing
	_, err = f.counts.Approve(ctx, 1, cc.ID, 9)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Len(t, f.repo.entries(key), 2)
	f.repo.assertLedgerInvariant(t)
}

func TestCycleCountDefaultsToSystemQuantity(t *testing.T) {
	f := newCycleCountFixture()
	ctx := context.Background()
	key := newKey(1)
	_, err := f.movements.PostReceipt(ctx, receipt(key, "12.5", "grn-1:1"))
	require.NoError(t, err)

	cc, err := f.counts.Create(ctx, CreateCycleCountInput{
		OrgID:       1,
		WarehouseID: key.WarehouseID,
		Lines:       []CycleCountLineInput{{ItemID: key.ItemID}, {ItemID: uuid.New()}},
	})
	require.NoError(t, err)
	requireQty(t, "12.5", cc.Lines[0].CountedQty)
	require.True(t, cc.Lines[0].Variance.IsZero())
	require.True(t, cc.Lines[1].SystemQty.IsZero())

	_, err = f.counts.Submit(ctx, 1, cc.ID, 0)
	require.NoError(t, err)
	_, err = f.counts.Approve(ctx, 1, cc.ID, 0)
	require.NoError(t, err)
	require.Len(t, f.repo.entries(key), 1, "zero variance posts nothing")
}

func TestCycleCountUpdateLineConverges(t *testing.T) {
	f := newCycleCountFixture()
	ctx := context.Background()
	key := newKey(1)
	key.LocationID = OptionalID(uuid.New())
	_, err := f.movements.PostReceipt(ctx, receipt(key, "50", "grn-1:1"))
	require.NoError(t, err)

	cc, err := f.counts.Create(ctx, CreateCycleCountInput{
		OrgID:       1,
		WarehouseID: key.WarehouseID,
		LocationID:  key.LocationID,
		Lines:       []CycleCountLineInput{{ItemID: key.ItemID}},
	})
	require.NoError(t, err)
	require.Equal(t, key.LocationID, cc.Lines[0].LocationID, "line inherits the count location")

	line, err := f.counts.UpdateLine(ctx, 1, cc.ID, cc.Lines[0].ID, qty("55"))
	require.NoError(t, err)
	requireQty(t, "5", line.Variance)

	_, err = f.counts.UpdateLine(ctx, 1, cc.ID, uuid.New(), qty("1"))
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.counts.Submit(ctx, 1, cc.ID, 0)
	require.NoError(t, err)
	_, err = f.counts.UpdateLine(ctx, 1, cc.ID, cc.Lines[0].ID, qty("60"))
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.counts.Approve(ctx, 1, cc.ID, 0)
	require.NoError(t, err)
	requireQty(t, "55", f.repo.onHand(key))
}

func TestCycleCountStateMachineClosure(t *testing.T) {
	f := newCycleCountFixture()
	ctx := context.Background()
	key := newKey(1)

	cc, err := f.counts.Create(ctx, CreateCycleCountInput{
		OrgID:       1,
		WarehouseID: key.WarehouseID,
		Lines:       []CycleCountLineInput{{ItemID: key.ItemID, CountedQty: counted("3")}},
	})
	require.NoError(t, err)

	_, err = f.counts.Approve(ctx, 1, cc.ID, 0)
	require.ErrorIs(t, err, shared.ErrInvalidState, "approve requires submitted")
	require.Empty(t, f.repo.entries(key))

	_, err = f.counts.Submit(ctx, 1, cc.ID, 0)
	require.NoError(t, err)
	_, err = f.counts.Submit(ctx, 1, cc.ID, 0)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.counts.Approve(ctx, 1, cc.ID, 0)
	require.NoError(t, err)
	_, err = f.counts.Submit(ctx, 1, cc.ID, 0)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.counts.Get(ctx, 2, cc.ID)
	require.ErrorIs(t, err, shared.ErrNotFound, "counts are tenant scoped")
}

func TestCycleCountApprovalRerunAfterPartialFailure(t *testing.T) {
	f := newCycleCountFixture()
	ctx := context.Background()
	first := newKey(1)
	second := BalanceKey{OrgID: 1, ItemID: uuid.New(), WarehouseID: first.WarehouseID}
	_, err := f.movements.PostReceipt(ctx, receipt(first, "50", "grn-1:1"))
	require.NoError(t, err)
	_, err = f.movements.PostReceipt(ctx, receipt(second, "10", "grn-1:2"))
	require.NoError(t, err)

	cc, err := f.counts.Create(ctx, CreateCycleCountInput{
		OrgID:       1,
		WarehouseID: first.WarehouseID,
		Lines: []CycleCountLineInput{
			{ItemID: first.ItemID, CountedQty: counted("42")},
			{ItemID: second.ItemID, CountedQty: counted("0")},
		},
	})
	require.NoError(t, err)
	_, err = f.counts.Submit(ctx, 1, cc.ID, 0)
	require.NoError(t, err)

	// stock leaves the second key between count and approval
	_, err = f.movements.PostDelivery(ctx, DocumentLine{Key: second, Qty: qty("5"), IdempotencyKey: "dn-1:1"})
	require.NoError(t, err)

	_, err = f.counts.Approve(ctx, 1, cc.ID, 0)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	current, err := f.counts.Get(ctx, 1, cc.ID)
	require.NoError(t, err)
	require.Equal(t, CycleCountSubmitted, current.Status)
	requireQty(t, "42", f.repo.onHand(first))

	_, err = f.movements.PostReturn(ctx, DocumentLine{Key: second, Qty: qty("5"), IdempotencyKey: "ret-1:1"})
	require.NoError(t, err)

	approved, err := f.counts.Approve(ctx, 1, cc.ID, 0)
	require.NoError(t, err)
	require.Equal(t, CycleCountApproved, approved.Status)
	requireQty(t, "42", f.repo.onHand(first))
	require.True(t, f.repo.onHand(second).IsZero())
	require.Len(t, f.repo.entries(first), 2, "first line is not posted twice")
	f.repo.assertLedgerInvariant(t)
}

func TestCycleCountCreateValidation(t *testing.T) {
	f := newCycleCountFixture()
	ctx := context.Background()
	key := newKey(1)

	cases := map[string]CreateCycleCountInput{
		"no lines":         {OrgID: 1, WarehouseID: key.WarehouseID},
		"missing org":      {WarehouseID: key.WarehouseID, Lines: []CycleCountLineInput{{ItemID: key.ItemID}}},
		"missing item":     {OrgID: 1, WarehouseID: key.WarehouseID, Lines: []CycleCountLineInput{{}}},
		"negative counted": {OrgID: 1, WarehouseID: key.WarehouseID, Lines: []CycleCountLineInput{{ItemID: key.ItemID, CountedQty: counted("-1")}}},
		"fractional scale": {OrgID: 1, WarehouseID: key.WarehouseID, Lines: []CycleCountLineInput{{ItemID: key.ItemID, CountedQty: counted("1.2345")}}},
		"repeated key": {OrgID: 1, WarehouseID: key.WarehouseID, Lines: []CycleCountLineInput{
			{ItemID: key.ItemID},
			{ItemID: key.ItemID},
		}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.counts.Create(ctx, input)
			require.ErrorIs(t, err, shared.ErrInvalidRequest)
		})
	}
	require.Empty(t, f.store.counts)
}
