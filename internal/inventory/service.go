package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/platform/db"
	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

const (
	defaultLockRetries  = 3
	defaultRetryBackoff = 50 * time.Millisecond
	maxIdempotencyKey   = 128
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindLedgerByIdempotency(ctx context.Context, orgID int64, refType string, refID uuid.NullUUID, idemKey string) (uuid.UUID, bool, error)
	GetBalance(ctx context.Context, key BalanceKey) (StockBalance, error)
	ListBalances(ctx context.Context, orgID int64, warehouseID uuid.UUID) ([]StockBalance, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	SumLedger(ctx context.Context, key BalanceKey, before time.Time) (decimal.Decimal, error)
	ListDrift(ctx context.Context, orgID int64) ([]Drift, error)
	ListBalanceOrgs(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, event shared.AuditEvent) error
}

// MetricsPort receives posting outcomes.
type MetricsPort interface {
	MovementPosted(txType string)
	MovementDeduplicated(txType string)
	MovementRejected(reason string)
	LockRetry()
}

// Service is the only writer of stock balances and ledger entries.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	cfg     ServiceConfig
	newID   func() uuid.UUID
	sleep   func(context.Context, time.Duration) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowNegativeStock lets every posting drive balances below zero.
	AllowNegativeStock bool
	// LockTimeout bounds the wait for a balance row lock. Zero keeps the
	// database default.
	LockTimeout time.Duration
	// MaxLockRetries is the number of extra attempts after a lock failure.
	// Zero selects the default, negative disables retries.
	MaxLockRetries int
	RetryBackoff   time.Duration
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.MaxLockRetries == 0 {
		cfg.MaxLockRetries = defaultLockRetries
	}
	if cfg.MaxLockRetries < 0 {
		cfg.MaxLockRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "inventory.movement")),
		cfg:     cfg,
		newID:   uuid.New,
		sleep:   sleepContext,
	}
}

type postResult struct {
	entry     LedgerEntry
	duplicate bool
}

// PostMovement validates and applies a quantity change, returning the id of
// the ledger entry. A repeated idempotency key returns the original entry.
func (s *Service) PostMovement(ctx context.Context, input MovementInput) (uuid.UUID, error) {
	if err := validateMovement(input); err != nil {
		s.metrics.MovementRejected("invalid")
		return uuid.Nil, err
	}
	var res postResult
	err := s.retryOnContention(ctx, input.Key, func() error {
		var err error
		res, err = s.post(ctx, input)
		if err != nil && isUniqueViolation(err) && input.IdempotencyKey != "" {
			return s.resolveDuplicate(ctx, input, &res)
		}
		return err
	})
	if err != nil {
		return uuid.Nil, s.rejected(input, err)
	}
	s.completed(ctx, input, res)
	return res.entry.ID, nil
}

func (s *Service) post(ctx context.Context, input MovementInput) (postResult, error) {
	var res postResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if s.cfg.LockTimeout > 0 {
			if err := tx.SetLockTimeout(ctx, s.cfg.LockTimeout); err != nil {
				return err
			}
		}
		balance, err := tx.LockBalance(ctx, input.Key)
		if err != nil {
			return err
		}
		if input.IdempotencyKey != "" {
			id, ok, err := tx.FindLedgerByIdempotency(ctx, input.Key.OrgID, input.ReferenceType, input.ReferenceID, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				res = postResult{entry: LedgerEntry{ID: id, Key: input.Key}, duplicate: true}
				return nil
			}
		}
		entry, err := s.apply(ctx, tx, balance, input)
		if err != nil {
			return err
		}
		res = postResult{entry: entry}
		return nil
	})
	return res, err
}

// apply writes the ledger row and the new balance. The caller holds the row lock.
func (s *Service) apply(ctx context.Context, tx TxRepository, balance StockBalance, input MovementInput) (LedgerEntry, error) {
	newQty := balance.QtyOnHand.Add(input.QtyDelta)
	if err := validateQty(newQty, "resulting balance"); err != nil {
		return LedgerEntry{}, err
	}
	if newQty.IsNegative() && !input.AllowNegative && !s.cfg.AllowNegativeStock {
		return LedgerEntry{}, &InsufficientStockError{Key: input.Key, OnHand: balance.QtyOnHand, Requested: input.QtyDelta}
	}
	entry, err := tx.InsertLedgerEntry(ctx, LedgerEntry{
		ID:             s.newID(),
		Key:            input.Key,
		Qty:            input.QtyDelta,
		UnitRate:       input.UnitRate,
		TxType:         input.TxType,
		ReferenceType:  input.ReferenceType,
		ReferenceID:    input.ReferenceID,
		IdempotencyKey: input.IdempotencyKey,
		CreatedBy:      input.CreatedBy,
		Note:           input.Note,
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := tx.UpdateBalance(ctx, input.Key, newQty); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// resolveDuplicate handles an idempotency key that was committed by a
// concurrent posting against a different balance key.
func (s *Service) resolveDuplicate(ctx context.Context, input MovementInput, res *postResult) error {
	id, ok, err := s.repo.FindLedgerByIdempotency(ctx, input.Key.OrgID, input.ReferenceType, input.ReferenceID, input.IdempotencyKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("inventory: idempotency conflict on %q without entry: %w", input.IdempotencyKey, shared.ErrContention)
	}
	*res = postResult{entry: LedgerEntry{ID: id, Key: input.Key}, duplicate: true}
	return nil
}

func (s *Service) completed(ctx context.Context, input MovementInput, res postResult) {
	logger := s.logger.With(
		slog.Int64("org_id", input.Key.OrgID),
		slog.String("key", input.Key.String()),
		slog.String("tx_type", string(input.TxType)),
		slog.String("entry_id", res.entry.ID.String()),
	)
	if res.duplicate {
		s.metrics.MovementDeduplicated(string(input.TxType))
		logger.Info("duplicate movement ignored", slog.String("idempotency_key", input.IdempotencyKey))
		return
	}
	s.metrics.MovementPosted(string(input.TxType))
	logger.Debug("movement posted", slog.String("qty", input.QtyDelta.String()))
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditEvent{
		OrgID:      input.Key.OrgID,
		EventType:  "STOCK_MOVEMENT_POSTED",
		EntityType: "STOCK_LEDGER",
		EntityID:   res.entry.ID.String(),
		Payload: map[string]any{
			"item_id":        input.Key.ItemID.String(),
			"warehouse_id":   input.Key.WarehouseID.String(),
			"qty":            input.QtyDelta.String(),
			"tx_type":        string(input.TxType),
			"reference_type": input.ReferenceType,
		},
	})
	if err != nil {
		logger.Warn("audit movement", slog.Any("error", err))
	}
}

func (s *Service) rejected(input MovementInput, err error) error {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		s.metrics.MovementRejected("insufficient_stock")
	case errors.Is(err, shared.ErrContention):
		s.metrics.MovementRejected("contention")
		s.logger.Warn("movement lock contention", slog.String("key", input.Key.String()), slog.Any("error", err))
	case errors.Is(err, shared.ErrInvalidRequest):
		s.metrics.MovementRejected("invalid")
	default:
		s.metrics.MovementRejected("error")
		s.logger.Error("post movement", slog.String("key", input.Key.String()), slog.Any("error", err))
	}
	return err
}

// retryOnContention reruns fn after lock-wait failures. Every attempt runs
// in its own transaction, so a failed attempt leaves nothing behind. Commit
// failures are returned unchanged since their outcome is unknown.
func (s *Service) retryOnContention(ctx context.Context, key BalanceKey, fn func() error) error {
	attempts := s.cfg.MaxLockRetries + 1
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		// the row may already be committed, so a retry could post it twice
		if errors.Is(err, db.ErrCommitUnknown) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("inventory: lock wait on %s: %w (%w)", key, shared.ErrContention, err)
		}
		if !isLockFailure(err) {
			return err
		}
		s.metrics.LockRetry()
		if attempt >= attempts {
			return fmt.Errorf("inventory: lock wait on %s after %d attempts: %w", key, attempts, shared.ErrContention)
		}
		if err := s.sleep(ctx, s.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return fmt.Errorf("inventory: lock wait on %s: %w (%w)", key, shared.ErrContention, err)
		}
	}
}

// PostReceipt posts an inbound goods receipt line.
func (s *Service) PostReceipt(ctx context.Context, line DocumentLine) (uuid.UUID, error) {
	return s.postDocument(ctx, line, TxReceipt, RefGoodsReceipt, false)
}

// PostDelivery posts an outbound delivery line.
func (s *Service) PostDelivery(ctx context.Context, line DocumentLine) (uuid.UUID, error) {
	return s.postDocument(ctx, line, TxDelivery, RefDelivery, true)
}

// PostReturn posts a customer return back into stock.
func (s *Service) PostReturn(ctx context.Context, line DocumentLine) (uuid.UUID, error) {
	return s.postDocument(ctx, line, TxReturn, RefReturn, false)
}

func (s *Service) postDocument(ctx context.Context, line DocumentLine, txType TransactionType, refType string, outbound bool) (uuid.UUID, error) {
	if !line.Qty.IsPositive() {
		return uuid.Nil, fmt.Errorf("inventory: %s quantity must be positive: %w", txType, shared.ErrInvalidRequest)
	}
	qty := line.Qty
	if outbound {
		qty = qty.Neg()
	}
	return s.PostMovement(ctx, MovementInput{
		Key:            line.Key,
		QtyDelta:       qty,
		TxType:         txType,
		ReferenceType:  refType,
		ReferenceID:    OptionalID(line.ReferenceID),
		IdempotencyKey: line.IdempotencyKey,
		UnitRate:       line.UnitRate,
		CreatedBy:      line.CreatedBy,
		Note:           line.Note,
	})
}

// PostAdjustment posts a manual adjustment which may be positive or negative
// but never drives the balance below zero.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (uuid.UUID, error) {
	return s.PostMovement(ctx, adjustmentMovement(input, TxAdjustment, false))
}

// PostForcedAdjustment posts an adjustment that is allowed to go negative.
func (s *Service) PostForcedAdjustment(ctx context.Context, input AdjustmentInput) (uuid.UUID, error) {
	return s.PostMovement(ctx, adjustmentMovement(input, TxForcedAdjustment, true))
}

func adjustmentMovement(input AdjustmentInput, txType TransactionType, allowNegative bool) MovementInput {
	return MovementInput{
		Key:            input.Key,
		QtyDelta:       input.QtyDelta,
		TxType:         txType,
		ReferenceType:  RefAdjustment,
		ReferenceID:    OptionalID(input.ReferenceID),
		IdempotencyKey: input.IdempotencyKey,
		UnitRate:       input.UnitRate,
		AllowNegative:  allowNegative,
		CreatedBy:      input.CreatedBy,
		Note:           input.Note,
	}
}

// PostTransfer moves stock between two keys in one transaction. Both rows
// are locked in key order so opposite transfers cannot deadlock.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if err := validateTransfer(input); err != nil {
		s.metrics.MovementRejected("invalid")
		return TransferResult{}, err
	}
	out := MovementInput{
		Key:            input.From,
		QtyDelta:       input.Qty.Neg(),
		TxType:         TxTransfer,
		ReferenceType:  RefTransfer,
		ReferenceID:    OptionalID(input.ReferenceID),
		IdempotencyKey: input.IdempotencyKey + ":out",
		UnitRate:       input.UnitRate,
		AllowNegative:  input.AllowNegative,
		CreatedBy:      input.CreatedBy,
		Note:           fmt.Sprintf("Transfer to %s: %s", input.To.WarehouseID, input.Note),
	}
	in := out
	in.Key = input.To
	in.QtyDelta = input.Qty
	in.IdempotencyKey = input.IdempotencyKey + ":in"
	in.Note = fmt.Sprintf("Transfer from %s: %s", input.From.WarehouseID, input.Note)

	var outRes, inRes postResult
	err := s.retryOnContention(ctx, input.From, func() error {
		var err error
		outRes, inRes, err = s.postTransfer(ctx, out, in)
		if err != nil && isUniqueViolation(err) {
			if err := s.resolveDuplicate(ctx, out, &outRes); err != nil {
				return err
			}
			return s.resolveDuplicate(ctx, in, &inRes)
		}
		return err
	})
	if err != nil {
		return TransferResult{}, s.rejected(out, err)
	}
	s.completed(ctx, out, outRes)
	s.completed(ctx, in, inRes)
	return TransferResult{OutEntryID: outRes.entry.ID, InEntryID: inRes.entry.ID}, nil
}

func (s *Service) postTransfer(ctx context.Context, out, in MovementInput) (postResult, postResult, error) {
	var outRes, inRes postResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if s.cfg.LockTimeout > 0 {
			if err := tx.SetLockTimeout(ctx, s.cfg.LockTimeout); err != nil {
				return err
			}
		}
		first, second := out.Key, in.Key
		if second.String() < first.String() {
			first, second = second, first
		}
		locked := make(map[BalanceKey]StockBalance, 2)
		for _, key := range []BalanceKey{first, second} {
			bal, err := tx.LockBalance(ctx, key)
			if err != nil {
				return err
			}
			locked[key] = bal
		}
		outID, outDup, err := tx.FindLedgerByIdempotency(ctx, out.Key.OrgID, out.ReferenceType, out.ReferenceID, out.IdempotencyKey)
		if err != nil {
			return err
		}
		if outDup {
			inID, _, err := tx.FindLedgerByIdempotency(ctx, in.Key.OrgID, in.ReferenceType, in.ReferenceID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			outRes = postResult{entry: LedgerEntry{ID: outID, Key: out.Key}, duplicate: true}
			inRes = postResult{entry: LedgerEntry{ID: inID, Key: in.Key}, duplicate: true}
			return nil
		}
		outEntry, err := s.apply(ctx, tx, locked[out.Key], out)
		if err != nil {
			return err
		}
		inEntry, err := s.apply(ctx, tx, locked[in.Key], in)
		if err != nil {
			return err
		}
		outRes, inRes = postResult{entry: outEntry}, postResult{entry: inEntry}
		return nil
	})
	return outRes, inRes, err
}

// GetBalance returns the cached balance of a key. A key that never moved
// has zero on hand.
func (s *Service) GetBalance(ctx context.Context, key BalanceKey) (StockBalance, error) {
	if err := key.Validate(); err != nil {
		return StockBalance{}, err
	}
	bal, err := s.repo.GetBalance(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return StockBalance{Key: key, QtyOnHand: decimal.Zero}, nil
		}
		return StockBalance{}, err
	}
	return bal, nil
}

// ListBalances lists balances of one warehouse.
func (s *Service) ListBalances(ctx context.Context, orgID int64, warehouseID uuid.UUID) ([]StockBalance, error) {
	if orgID <= 0 || warehouseID == uuid.Nil {
		return nil, fmt.Errorf("inventory: org and warehouse required: %w", shared.ErrInvalidRequest)
	}
	return s.repo.ListBalances(ctx, orgID, warehouseID)
}

// GetStockCard lists ledger entries of a key with their running balance.
func (s *Service) GetStockCard(ctx context.Context, filter LedgerFilter) ([]StockCardEntry, error) {
	if err := filter.Key.Validate(); err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("inventory: ledger range end before start: %w", shared.ErrInvalidRequest)
	}
	running := decimal.Zero
	if !filter.From.IsZero() {
		opening, err := s.repo.SumLedger(ctx, filter.Key, filter.From)
		if err != nil {
			return nil, err
		}
		running = opening
	}
	entries, err := s.repo.ListLedger(ctx, filter)
	if err != nil {
		return nil, err
	}
	cards := make([]StockCardEntry, 0, len(entries))
	for _, entry := range entries {
		running = running.Add(entry.Qty)
		cards = append(cards, StockCardEntry{Entry: entry, BalanceQty: running})
	}
	return cards, nil
}

// VerifyBalance recomputes the ledger sum of a key and compares it with the
// cached balance. The boolean is true when they differ.
func (s *Service) VerifyBalance(ctx context.Context, key BalanceKey) (Drift, bool, error) {
	bal, err := s.GetBalance(ctx, key)
	if err != nil {
		return Drift{}, false, err
	}
	sum, err := s.repo.SumLedger(ctx, key, time.Time{})
	if err != nil {
		return Drift{}, false, err
	}
	drift := Drift{Key: key, Cached: bal.QtyOnHand, LedgerSum: sum}
	return drift, !drift.Cached.Equal(sum), nil
}

// FindDrift lists every balance of the tenant that disagrees with the ledger.
func (s *Service) FindDrift(ctx context.Context, orgID int64) ([]Drift, error) {
	if orgID <= 0 {
		return nil, fmt.Errorf("inventory: org id required: %w", shared.ErrInvalidRequest)
	}
	return s.repo.ListDrift(ctx, orgID)
}

// BalanceOrgs lists tenants that hold balances.
func (s *Service) BalanceOrgs(ctx context.Context) ([]int64, error) {
	return s.repo.ListBalanceOrgs(ctx)
}

func validateMovement(input MovementInput) error {
	if err := input.Key.Validate(); err != nil {
		return err
	}
	if input.QtyDelta.IsZero() {
		return fmt.Errorf("inventory: quantity delta must be non zero: %w", shared.ErrInvalidRequest)
	}
	if err := validateQty(input.QtyDelta, "quantity delta"); err != nil {
		return err
	}
	if err := validateRate(input.UnitRate); err != nil {
		return err
	}
	if !input.TxType.Valid() {
		return fmt.Errorf("inventory: unknown transaction type %q: %w", input.TxType, shared.ErrInvalidRequest)
	}
	if input.ReferenceType == "" {
		return fmt.Errorf("inventory: reference type required: %w", shared.ErrInvalidRequest)
	}
	if input.ReferenceID.Valid && input.ReferenceID.UUID == uuid.Nil {
		return fmt.Errorf("inventory: reference id malformed: %w", shared.ErrInvalidRequest)
	}
	if input.TxType.RequiresIdempotencyKey() && input.IdempotencyKey == "" {
		return fmt.Errorf("inventory: %s postings require an idempotency key: %w", input.TxType, shared.ErrInvalidRequest)
	}
	if len(input.IdempotencyKey) > maxIdempotencyKey {
		return fmt.Errorf("inventory: idempotency key longer than %d: %w", maxIdempotencyKey, shared.ErrInvalidRequest)
	}
	return nil
}

func validateTransfer(input TransferInput) error {
	if err := input.From.Validate(); err != nil {
		return err
	}
	if err := input.To.Validate(); err != nil {
		return err
	}
	if input.From.OrgID != input.To.OrgID || input.From.ItemID != input.To.ItemID {
		return fmt.Errorf("inventory: transfer must stay within one org and item: %w", shared.ErrInvalidRequest)
	}
	if input.From == input.To {
		return fmt.Errorf("inventory: source and destination must differ: %w", shared.ErrInvalidRequest)
	}
	if !input.Qty.IsPositive() {
		return fmt.Errorf("inventory: transfer quantity must be positive: %w", shared.ErrInvalidRequest)
	}
	if err := validateQty(input.Qty, "transfer quantity"); err != nil {
		return err
	}
	if err := validateRate(input.UnitRate); err != nil {
		return err
	}
	if input.IdempotencyKey == "" {
		return fmt.Errorf("inventory: transfer postings require an idempotency key: %w", shared.ErrInvalidRequest)
	}
	if len(input.IdempotencyKey)+4 > maxIdempotencyKey {
		return fmt.Errorf("inventory: idempotency key too long: %w", shared.ErrInvalidRequest)
	}
	return nil
}

func isLockFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "55P03", "40P01", "40001":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopMetrics struct{}

func (nopMetrics) MovementPosted(string)       {}
func (nopMetrics) MovementDeduplicated(string) {}
func (nopMetrics) MovementRejected(string)     {}
func (nopMetrics) LockRetry()                  {}
