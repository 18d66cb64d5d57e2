package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

const cycleCountModule = "inventory.cycle_count"

// CycleCountStore persists counts and guards their transitions.
type CycleCountStore interface {
	CreateCycleCount(ctx context.Context, cc CycleCount) error
	GetCycleCount(ctx context.Context, orgID int64, id uuid.UUID) (CycleCount, error)
	UpdateCycleCountLine(ctx context.Context, orgID int64, countID, lineID uuid.UUID, counted, variance decimal.Decimal) error
	TransitionCycleCount(ctx context.Context, orgID int64, id uuid.UUID, from, to CycleCountStatus, actorID int64, at time.Time) error
}

// BalanceReader snapshots balances for new counts.
type BalanceReader interface {
	GetBalance(ctx context.Context, key BalanceKey) (StockBalance, error)
}

// MovementPoster is the write path used on approval.
type MovementPoster interface {
	PostMovement(ctx context.Context, input MovementInput) (uuid.UUID, error)
}

// ApprovalPort records submit/approve history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, orgID int64, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// CycleCountService drives counts through open, submitted and approved.
type CycleCountService struct {
	store     CycleCountStore
	balances  BalanceReader
	movements MovementPoster
	approvals ApprovalPort
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewCycleCountService wires the workflow. approvals may be nil.
func NewCycleCountService(store CycleCountStore, balances BalanceReader, movements MovementPoster, approvals ApprovalPort, logger *slog.Logger) *CycleCountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CycleCountService{
		store:     store,
		balances:  balances,
		movements: movements,
		approvals: approvals,
		logger:    logger.With(slog.String("component", "inventory.cycle_count")),
		now:       time.Now,
		newID:     uuid.New,
	}
}

// Create opens a count, snapshotting the balance of every line.
func (s *CycleCountService) Create(ctx context.Context, input CreateCycleCountInput) (CycleCount, error) {
	if input.OrgID <= 0 || input.WarehouseID == uuid.Nil {
		return CycleCount{}, fmt.Errorf("inventory: org and warehouse required: %w", shared.ErrInvalidRequest)
	}
	if len(input.Lines) == 0 {
		return CycleCount{}, fmt.Errorf("inventory: cycle count needs at least one line: %w", shared.ErrInvalidRequest)
	}
	cc := CycleCount{
		ID:          s.newID(),
		OrgID:       input.OrgID,
		WarehouseID: input.WarehouseID,
		LocationID:  input.LocationID,
		Status:      CycleCountOpen,
		CountedBy:   input.CountedBy,
		CreatedAt:   s.now().UTC(),
	}
	seen := make(map[BalanceKey]struct{}, len(input.Lines))
	for i, in := range input.Lines {
		if in.ItemID == uuid.Nil {
			return CycleCount{}, fmt.Errorf("inventory: line %d item required: %w", i+1, shared.ErrInvalidRequest)
		}
		line := CycleCountLine{
			ID:           s.newID(),
			CycleCountID: cc.ID,
			ItemID:       in.ItemID,
			LocationID:   in.LocationID,
			LotID:        in.LotID,
		}
		if !line.LocationID.Valid {
			line.LocationID = input.LocationID
		}
		key := line.BalanceKey(cc.OrgID, cc.WarehouseID)
		if err := key.Validate(); err != nil {
			return CycleCount{}, err
		}
		if _, dup := seen[key]; dup {
			return CycleCount{}, fmt.Errorf("inventory: line %d repeats %s: %w", i+1, key, shared.ErrInvalidRequest)
		}
		seen[key] = struct{}{}
		bal, err := s.balances.GetBalance(ctx, key)
		if err != nil {
			return CycleCount{}, err
		}
		line.SystemQty = bal.QtyOnHand
		line.CountedQty = bal.QtyOnHand
		if in.CountedQty != nil {
			if err := validateCounted(*in.CountedQty); err != nil {
				return CycleCount{}, err
			}
			line.CountedQty = *in.CountedQty
		}
		line.Variance = line.CountedQty.Sub(line.SystemQty)
		cc.Lines = append(cc.Lines, line)
	}
	if err := s.store.CreateCycleCount(ctx, cc); err != nil {
		return CycleCount{}, err
	}
	s.logger.Info("cycle count opened", slog.Int64("org_id", cc.OrgID), slog.String("count_id", cc.ID.String()), slog.Int("lines", len(cc.Lines)))
	return cc, nil
}

// Get loads a count of the tenant.
func (s *CycleCountService) Get(ctx context.Context, orgID int64, id uuid.UUID) (CycleCount, error) {
	if orgID <= 0 || id == uuid.Nil {
		return CycleCount{}, fmt.Errorf("inventory: org and cycle count id required: %w", shared.ErrInvalidRequest)
	}
	return s.store.GetCycleCount(ctx, orgID, id)
}

// UpdateLine records a counted quantity while the count is open.
func (s *CycleCountService) UpdateLine(ctx context.Context, orgID int64, countID, lineID uuid.UUID, counted decimal.Decimal) (CycleCountLine, error) {
	if err := validateCounted(counted); err != nil {
		return CycleCountLine{}, err
	}
	cc, err := s.Get(ctx, orgID, countID)
	if err != nil {
		return CycleCountLine{}, err
	}
	if cc.Status != CycleCountOpen {
		return CycleCountLine{}, fmt.Errorf("inventory: cycle count %s is %s: %w", cc.ID, cc.Status, shared.ErrInvalidState)
	}
	for _, line := range cc.Lines {
		if line.ID != lineID {
			continue
		}
		line.CountedQty = counted
		line.Variance = counted.Sub(line.SystemQty)
		if err := s.store.UpdateCycleCountLine(ctx, orgID, countID, lineID, line.CountedQty, line.Variance); err != nil {
			return CycleCountLine{}, err
		}
		return line, nil
	}
	return CycleCountLine{}, fmt.Errorf("inventory: cycle count line %s: %w", lineID, shared.ErrNotFound)
}

// Submit freezes the lines of an open count.
func (s *CycleCountService) Submit(ctx context.Context, orgID int64, countID uuid.UUID, actorID int64) (CycleCount, error) {
	if orgID <= 0 || countID == uuid.Nil {
		return CycleCount{}, fmt.Errorf("inventory: org and cycle count id required: %w", shared.ErrInvalidRequest)
	}
	if err := s.store.TransitionCycleCount(ctx, orgID, countID, CycleCountOpen, CycleCountSubmitted, actorID, s.now().UTC()); err != nil {
		return CycleCount{}, err
	}
	s.recordApproval(ctx, orgID, countID, actorID, shared.ApprovalSubmit)
	return s.store.GetCycleCount(ctx, orgID, countID)
}

// Approve posts every non-zero variance and closes the count. Lines carry a
// derived idempotency key, so a run that failed part way can be repeated.
func (s *CycleCountService) Approve(ctx context.Context, orgID int64, countID uuid.UUID, approvedBy int64) (CycleCount, error) {
	cc, err := s.Get(ctx, orgID, countID)
	if err != nil {
		return CycleCount{}, err
	}
	if cc.Status != CycleCountSubmitted {
		return CycleCount{}, fmt.Errorf("inventory: cycle count %s is %s, expected %s: %w", cc.ID, cc.Status, CycleCountSubmitted, shared.ErrInvalidState)
	}
	posted := 0
	for _, line := range cc.Lines {
		if line.Variance.IsZero() {
			continue
		}
		_, err := s.movements.PostMovement(ctx, MovementInput{
			Key:            line.BalanceKey(cc.OrgID, cc.WarehouseID),
			QtyDelta:       line.Variance,
			TxType:         TxCycleCount,
			ReferenceType:  RefCycleCount,
			ReferenceID:    OptionalID(cc.ID),
			IdempotencyKey: line.IdempotencyKey(),
			CreatedBy:      approvedBy,
			Note:           fmt.Sprintf("Cycle count %s", cc.ID),
		})
		if err != nil {
			return CycleCount{}, fmt.Errorf("inventory: approve cycle count %s line %s: %w", cc.ID, line.ID, err)
		}
		posted++
	}
	if err := s.store.TransitionCycleCount(ctx, orgID, countID, CycleCountSubmitted, CycleCountApproved, approvedBy, s.now().UTC()); err != nil {
		return CycleCount{}, err
	}
	s.recordApproval(ctx, orgID, countID, approvedBy, shared.ApprovalApprove)
	s.logger.Info("cycle count approved",
		slog.Int64("org_id", orgID),
		slog.String("count_id", countID.String()),
		slog.Int("variance_lines", posted),
	)
	return s.store.GetCycleCount(ctx, orgID, countID)
}

// History lists submit/approve records of a count.
func (s *CycleCountService) History(ctx context.Context, orgID int64, countID uuid.UUID) ([]shared.ApprovalLog, error) {
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, orgID, cycleCountModule, countID)
}

func (s *CycleCountService) recordApproval(ctx context.Context, orgID int64, countID uuid.UUID, actorID int64, action shared.ApprovalAction) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		OrgID:   orgID,
		Module:  cycleCountModule,
		RefID:   countID,
		ActorID: actorID,
		Action:  action,
	})
	if err != nil {
		s.logger.Warn("record cycle count approval", slog.String("count_id", countID.String()), slog.Any("error", err))
	}
}

func validateCounted(qty decimal.Decimal) error {
	if qty.IsNegative() {
		return fmt.Errorf("inventory: counted quantity must be >= 0: %w", shared.ErrInvalidRequest)
	}
	return validateQty(qty, "counted quantity")
}
