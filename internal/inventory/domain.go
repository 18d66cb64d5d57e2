package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

// QtyScale is the number of fractional digits stored for quantities.
const QtyScale = 3

// RateScale is the number of fractional digits stored for unit rates.
const RateScale = 4

// Magnitude limits of the NUMERIC(18,3) quantity and NUMERIC(18,4) rate columns.
var (
	maxQty  = decimal.New(1, 18-QtyScale)
	maxRate = decimal.New(1, 18-RateScale)
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TxReceipt represents an inbound goods receipt.
	TxReceipt TransactionType = "receipt"
	// TxDelivery represents an outbound delivery.
	TxDelivery TransactionType = "delivery"
	// TxReturn represents a customer return back into stock.
	TxReturn TransactionType = "return"
	// TxAdjustment indicates manual adjustments.
	TxAdjustment TransactionType = "adjustment"
	// TxForcedAdjustment is a manual adjustment allowed to go negative.
	TxForcedAdjustment TransactionType = "forced_adjustment"
	// TxCycleCount is posted when a cycle count is approved.
	TxCycleCount TransactionType = "cycle_count"
	// TxTransfer is used for both legs of a warehouse/location transfer.
	TxTransfer TransactionType = "transfer"
	// TxOpeningBalance seeds initial quantities.
	TxOpeningBalance TransactionType = "opening_balance"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxReceipt, TxDelivery, TxReturn, TxAdjustment, TxForcedAdjustment, TxCycleCount, TxTransfer, TxOpeningBalance:
		return true
	}
	return false
}

// RequiresIdempotencyKey reports whether postings of this type originate from
// an external document and therefore must carry an idempotency key.
func (t TransactionType) RequiresIdempotencyKey() bool {
	switch t {
	case TxReceipt, TxDelivery, TxReturn, TxCycleCount, TxTransfer:
		return true
	}
	return false
}

// Reference types of originating documents.
const (
	RefGoodsReceipt = "GRN"
	RefDelivery     = "DELIVERY"
	RefReturn       = "RETURN"
	RefAdjustment   = "ADJUSTMENT"
	RefCycleCount   = "CYCLE_COUNT"
	RefTransfer     = "TRANSFER"
	RefOpening      = "OPENING"
)

// BalanceKey identifies one balance row. Location and lot are optional.
type BalanceKey struct {
	OrgID       int64
	ItemID      uuid.UUID
	WarehouseID uuid.UUID
	LocationID  uuid.NullUUID
	LotID       uuid.NullUUID
}

// Validate checks the key is well formed.
func (k BalanceKey) Validate() error {
	if k.OrgID <= 0 {
		return fmt.Errorf("inventory: org id required: %w", shared.ErrInvalidRequest)
	}
	if k.ItemID == uuid.Nil || k.WarehouseID == uuid.Nil {
		return fmt.Errorf("inventory: item and warehouse required: %w", shared.ErrInvalidRequest)
	}
	if k.LocationID.Valid && k.LocationID.UUID == uuid.Nil {
		return fmt.Errorf("inventory: location id malformed: %w", shared.ErrInvalidRequest)
	}
	if k.LotID.Valid && k.LotID.UUID == uuid.Nil {
		return fmt.Errorf("inventory: lot id malformed: %w", shared.ErrInvalidRequest)
	}
	return nil
}

func (k BalanceKey) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%s/%s", k.OrgID, k.ItemID, k.WarehouseID)
	b.WriteString("/")
	if k.LocationID.Valid {
		b.WriteString(k.LocationID.UUID.String())
	} else {
		b.WriteString("-")
	}
	b.WriteString("/")
	if k.LotID.Valid {
		b.WriteString(k.LotID.UUID.String())
	} else {
		b.WriteString("-")
	}
	return b.String()
}

// OptionalID converts a possibly nil uuid into a NullUUID.
func OptionalID(id uuid.UUID) uuid.NullUUID {
	if id == uuid.Nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: id, Valid: true}
}

// StockBalance is the cached on-hand quantity for a key.
type StockBalance struct {
	Key       BalanceKey
	QtyOnHand decimal.Decimal
	UpdatedAt time.Time
}

// LedgerEntry is an immutable quantity delta.
type LedgerEntry struct {
	ID             uuid.UUID
	Seq            int64
	PostedAt       time.Time
	Key            BalanceKey
	Qty            decimal.Decimal
	UnitRate       decimal.Decimal
	TxType         TransactionType
	ReferenceType  string
	ReferenceID    uuid.NullUUID
	IdempotencyKey string
	CreatedBy      int64
	Note           string
}

// Value returns the informational valuation of the entry.
func (e LedgerEntry) Value() decimal.Decimal {
	return e.Qty.Mul(e.UnitRate).Round(2)
}

// MovementInput describes a request to change on-hand quantity.
type MovementInput struct {
	Key            BalanceKey
	QtyDelta       decimal.Decimal
	TxType         TransactionType
	ReferenceType  string
	ReferenceID    uuid.NullUUID
	IdempotencyKey string
	UnitRate       decimal.Decimal
	AllowNegative  bool
	CreatedBy      int64
	Note           string
}

// DocumentLine is one line of an originating document (GRN, delivery note,
// return). Qty is always positive; the direction comes from the document.
type DocumentLine struct {
	Key            BalanceKey
	Qty            decimal.Decimal
	UnitRate       decimal.Decimal
	ReferenceID    uuid.UUID
	IdempotencyKey string
	CreatedBy      int64
	Note           string
}

// AdjustmentInput describes a manual adjustment which may be positive or negative.
type AdjustmentInput struct {
	Key            BalanceKey
	QtyDelta       decimal.Decimal
	UnitRate       decimal.Decimal
	ReferenceID    uuid.UUID
	IdempotencyKey string
	CreatedBy      int64
	Note           string
}

// TransferInput moves quantity between two keys of the same tenant and item.
type TransferInput struct {
	From           BalanceKey
	To             BalanceKey
	Qty            decimal.Decimal
	UnitRate       decimal.Decimal
	ReferenceID    uuid.UUID
	IdempotencyKey string
	AllowNegative  bool
	CreatedBy      int64
	Note           string
}

// TransferResult holds both ledger legs of a transfer.
type TransferResult struct {
	OutEntryID uuid.UUID
	InEntryID  uuid.UUID
}

// LedgerFilter filters ledger history for one key.
type LedgerFilter struct {
	Key   BalanceKey
	From  time.Time
	To    time.Time
	Limit int
}

// StockCardEntry is a ledger row with the running balance after it.
type StockCardEntry struct {
	Entry      LedgerEntry
	BalanceQty decimal.Decimal
}

// Drift reports a mismatch between cached balance and ledger sum.
type Drift struct {
	Key       BalanceKey
	Cached    decimal.Decimal
	LedgerSum decimal.Decimal
}

// Diff returns cached minus ledger sum.
func (d Drift) Diff() decimal.Decimal {
	return d.Cached.Sub(d.LedgerSum)
}

// InsufficientStockError carries the quantities that caused the rejection.
type InsufficientStockError struct {
	Key       BalanceKey
	OnHand    decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: on hand %s, delta %s", e.Key, e.OnHand, e.Requested)
}

// Unwrap lets errors.Is match shared.ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}

// CycleCountStatus enumerates cycle count lifecycle states.
type CycleCountStatus string

const (
	// CycleCountOpen accepts line edits.
	CycleCountOpen CycleCountStatus = "open"
	// CycleCountSubmitted freezes lines pending approval.
	CycleCountSubmitted CycleCountStatus = "submitted"
	// CycleCountApproved is terminal; variances have been posted.
	CycleCountApproved CycleCountStatus = "approved"
)

// CycleCount is a physical count of a warehouse (optionally one location).
type CycleCount struct {
	ID          uuid.UUID
	OrgID       int64
	WarehouseID uuid.UUID
	LocationID  uuid.NullUUID
	Status      CycleCountStatus
	CountedBy   int64
	ApprovedBy  int64
	CreatedAt   time.Time
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	Lines       []CycleCountLine
}

// CycleCountLine captures system and counted quantity for one key.
type CycleCountLine struct {
	ID           uuid.UUID
	CycleCountID uuid.UUID
	ItemID       uuid.UUID
	LocationID   uuid.NullUUID
	LotID        uuid.NullUUID
	SystemQty    decimal.Decimal
	CountedQty   decimal.Decimal
	Variance     decimal.Decimal
}

// BalanceKey returns the balance key this line counts.
func (l CycleCountLine) BalanceKey(orgID int64, warehouseID uuid.UUID) BalanceKey {
	return BalanceKey{OrgID: orgID, ItemID: l.ItemID, WarehouseID: warehouseID, LocationID: l.LocationID, LotID: l.LotID}
}

// IdempotencyKey derives the posting key for this line.
func (l CycleCountLine) IdempotencyKey() string {
	return fmt.Sprintf("cc:%s:line:%s", l.CycleCountID, l.ID)
}

// CreateCycleCountInput describes a new count.
type CreateCycleCountInput struct {
	OrgID       int64
	WarehouseID uuid.UUID
	LocationID  uuid.NullUUID
	CountedBy   int64
	Lines       []CycleCountLineInput
}

// CycleCountLineInput is one requested line. A nil CountedQty defaults to
// the system quantity.
type CycleCountLineInput struct {
	ItemID     uuid.UUID
	LocationID uuid.NullUUID
	LotID      uuid.NullUUID
	CountedQty *decimal.Decimal
}

// ReorderRule defines min/max replenishment thresholds.
type ReorderRule struct {
	ID           uuid.UUID
	OrgID        int64
	ItemID       uuid.UUID
	WarehouseID  uuid.UUID
	MinQty       decimal.Decimal
	MaxQty       decimal.Decimal
	ReorderQty   decimal.NullDecimal
	LeadTimeDays int
	IsActive     bool
}

// ItemWarehouse groups balances for reorder evaluation.
type ItemWarehouse struct {
	ItemID      uuid.UUID
	WarehouseID uuid.UUID
}

// ReorderSuggestion is advisory output of the reorder scan.
type ReorderSuggestion struct {
	OrgID               int64           `json:"org_id"`
	ItemID              uuid.UUID       `json:"item_id"`
	WarehouseID         uuid.UUID       `json:"warehouse_id"`
	OnHand              decimal.Decimal `json:"on_hand"`
	SuggestedReorderQty decimal.Decimal `json:"suggested_reorder_qty"`
	LeadTimeDays        int             `json:"lead_time_days"`
}

// Lot is a batch of an item, used for expiry alerts.
type Lot struct {
	ID     uuid.UUID
	OrgID  int64
	ItemID uuid.UUID
	Number string
	Expiry time.Time
}

// ErrBalanceNotFound indicates missing balance row.
var ErrBalanceNotFound = errors.New("inventory balance not found")

func validateQty(qty decimal.Decimal, field string) error {
	if !qty.Equal(qty.Round(QtyScale)) {
		return fmt.Errorf("inventory: %s has more than %d decimal places: %w", field, QtyScale, shared.ErrInvalidRequest)
	}
	if qty.Abs().GreaterThanOrEqual(maxQty) {
		return fmt.Errorf("inventory: %s exceeds %s: %w", field, maxQty, shared.ErrInvalidRequest)
	}
	return nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return fmt.Errorf("inventory: unit rate must be >= 0: %w", shared.ErrInvalidRequest)
	}
	if !rate.Equal(rate.Round(RateScale)) {
		return fmt.Errorf("inventory: unit rate has more than %d decimal places: %w", RateScale, shared.ErrInvalidRequest)
	}
	if rate.GreaterThanOrEqual(maxRate) {
		return fmt.Errorf("inventory: unit rate exceeds %s: %w", maxRate, shared.ErrInvalidRequest)
	}
	return nil
}
