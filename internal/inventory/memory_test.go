package inventory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/platform/db"
	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

// memoryRepo mimics the PostgreSQL repository: per-row locks held until the
// transaction ends and writes that become visible only on commit.
type memoryRepo struct {
	mu       sync.Mutex
	rowLocks map[BalanceKey]*sync.Mutex
	balances map[BalanceKey]StockBalance
	ledger   []LedgerEntry
	seq      int64
	clock    time.Time

	lockFailures int
	lockCalls    int
	// commitErr is returned once after the next commit has been applied,
	// like a COMMIT acknowledged too late for the caller.
	commitErr error
	// committedElsewhere is appended to the ledger right before the next
	// commit, as if a concurrent transaction won the race.
	committedElsewhere []LedgerEntry
}

type memoryTx struct {
	repo     *memoryRepo
	held     []*sync.Mutex
	entries  []LedgerEntry
	balances map[BalanceKey]decimal.Decimal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		rowLocks: make(map[BalanceKey]*sync.Mutex),
		balances: make(map[BalanceKey]StockBalance),
		clock:    time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (r *memoryRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *memoryRepo) rowLock(key BalanceKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rowLocks[key]
	if !ok {
		l = &sync.Mutex{}
		r.rowLocks[key] = l
	}
	return l
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, balances: make(map[BalanceKey]decimal.Decimal)}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := r.commit(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.commitErr; err != nil {
		r.commitErr = nil
		return fmt.Errorf("memory: commit tx: %w: %w", db.ErrCommitUnknown, err)
	}
	return nil
}

func (r *memoryRepo) commit(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.committedElsewhere {
		r.ledger = append(r.ledger, entry)
		bal := r.balances[entry.Key]
		bal.Key = entry.Key
		bal.QtyOnHand = bal.QtyOnHand.Add(entry.Qty)
		r.balances[entry.Key] = bal
	}
	r.committedElsewhere = nil
	for _, entry := range tx.entries {
		if entry.IdempotencyKey == "" {
			continue
		}
		if _, ok := r.findLocked(entry.Key.OrgID, entry.ReferenceType, entry.ReferenceID, entry.IdempotencyKey); ok {
			return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	r.ledger = append(r.ledger, tx.entries...)
	for key, qty := range tx.balances {
		r.balances[key] = StockBalance{Key: key, QtyOnHand: qty, UpdatedAt: r.clock}
	}
	return nil
}

func (r *memoryRepo) findLocked(orgID int64, refType string, refID uuid.NullUUID, idemKey string) (uuid.UUID, bool) {
	for _, entry := range r.ledger {
		if entry.Key.OrgID == orgID && entry.ReferenceType == refType && entry.ReferenceID == refID && entry.IdempotencyKey == idemKey {
			return entry.ID, true
		}
	}
	return uuid.Nil, false
}

func (tx *memoryTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	tx.held = nil
}

func (tx *memoryTx) SetLockTimeout(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (tx *memoryTx) LockBalance(ctx context.Context, key BalanceKey) (StockBalance, error) {
	if err := ctx.Err(); err != nil {
		return StockBalance{}, fmt.Errorf("lock balance: %w", err)
	}
	tx.repo.mu.Lock()
	tx.repo.lockCalls++
	if tx.repo.lockFailures > 0 {
		tx.repo.lockFailures--
		tx.repo.mu.Unlock()
		return StockBalance{}, &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}
	}
	tx.repo.mu.Unlock()

	l := tx.repo.rowLock(key)
	l.Lock()
	tx.held = append(tx.held, l)

	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	bal, ok := tx.repo.balances[key]
	if !ok {
		bal = StockBalance{Key: key, QtyOnHand: decimal.Zero}
	}
	return bal, nil
}

func (tx *memoryTx) FindLedgerByIdempotency(ctx context.Context, orgID int64, refType string, refID uuid.NullUUID, idemKey string) (uuid.UUID, bool, error) {
	for _, entry := range tx.entries {
		if entry.Key.OrgID == orgID && entry.ReferenceType == refType && entry.ReferenceID == refID && entry.IdempotencyKey == idemKey {
			return entry.ID, true, nil
		}
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	id, ok := tx.repo.findLocked(orgID, refType, refID, idemKey)
	return id, ok, nil
}

func (tx *memoryTx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.seq++
	entry.Seq = tx.repo.seq
	entry.PostedAt = tx.repo.tick()
	tx.entries = append(tx.entries, entry)
	return entry, nil
}

func (tx *memoryTx) UpdateBalance(ctx context.Context, key BalanceKey, qty decimal.Decimal) error {
	tx.balances[key] = qty
	return nil
}

func (r *memoryRepo) FindLedgerByIdempotency(ctx context.Context, orgID int64, refType string, refID uuid.NullUUID, idemKey string) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.findLocked(orgID, refType, refID, idemKey)
	return id, ok, nil
}

func (r *memoryRepo) GetBalance(ctx context.Context, key BalanceKey) (StockBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.balances[key]
	if !ok {
		return StockBalance{Key: key, QtyOnHand: decimal.Zero}, ErrBalanceNotFound
	}
	return bal, nil
}

func (r *memoryRepo) ListBalances(ctx context.Context, orgID int64, warehouseID uuid.UUID) ([]StockBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []StockBalance{}
	for key, bal := range r.balances {
		if key.OrgID == orgID && key.WarehouseID == warehouseID {
			out = append(out, bal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (r *memoryRepo) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	out := []LedgerEntry{}
	for _, entry := range r.sortedLocked() {
		if entry.Key != filter.Key {
			continue
		}
		if !filter.From.IsZero() && entry.PostedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && entry.PostedAt.After(filter.To) {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) SumLedger(ctx context.Context, key BalanceKey, before time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumLocked(key, before), nil
}

func (r *memoryRepo) sumLocked(key BalanceKey, before time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, entry := range r.ledger {
		if entry.Key != key {
			continue
		}
		if !before.IsZero() && !entry.PostedAt.Before(before) {
			continue
		}
		sum = sum.Add(entry.Qty)
	}
	return sum
}

func (r *memoryRepo) ListDrift(ctx context.Context, orgID int64) ([]Drift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Drift{}
	for key, bal := range r.balances {
		if key.OrgID != orgID {
			continue
		}
		sum := r.sumLocked(key, time.Time{})
		if !sum.Equal(bal.QtyOnHand) {
			out = append(out, Drift{Key: key, Cached: bal.QtyOnHand, LedgerSum: sum})
		}
	}
	return out, nil
}

func (r *memoryRepo) ListBalanceOrgs(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[int64]bool{}
	orgs := []int64{}
	for key := range r.balances {
		if !seen[key.OrgID] {
			seen[key.OrgID] = true
			orgs = append(orgs, key.OrgID)
		}
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i] < orgs[j] })
	return orgs, nil
}

func (r *memoryRepo) sortedLocked() []LedgerEntry {
	out := make([]LedgerEntry, len(r.ledger))
	copy(out, r.ledger)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// entries returns the committed ledger of key in posting order.
func (r *memoryRepo) entries(key BalanceKey) []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []LedgerEntry{}
	for _, entry := range r.sortedLocked() {
		if entry.Key == key {
			out = append(out, entry)
		}
	}
	return out
}

func (r *memoryRepo) onHand(key BalanceKey) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[key].QtyOnHand
}

func (r *memoryRepo) failNextLocks(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockFailures = n
}

// assertLedgerInvariant fails when any cached balance differs from its ledger sum.
func (r *memoryRepo) assertLedgerInvariant(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, bal := range r.balances {
		sum := r.sumLocked(key, time.Time{})
		if !sum.Equal(bal.QtyOnHand) {
			t.Fatalf("balance %s is %s but ledger sums to %s", key, bal.QtyOnHand, sum)
		}
	}
}

type recordingAudit struct {
	mu     sync.Mutex
	events []shared.AuditEvent
	err    error
}

func (a *recordingAudit) Record(ctx context.Context, event shared.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) byType(eventType string) []shared.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []shared.AuditEvent{}
	for _, e := range a.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *recordingMetrics) get(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *recordingMetrics) MovementPosted(txType string)       { m.inc("posted:" + txType) }
func (m *recordingMetrics) MovementDeduplicated(txType string) { m.inc("duplicate:" + txType) }
func (m *recordingMetrics) MovementRejected(reason string)     { m.inc("rejected:" + reason) }
func (m *recordingMetrics) LockRetry()                         { m.inc("lock_retry") }

type memoryCountStore struct {
	mu     sync.Mutex
	counts map[uuid.UUID]CycleCount
}

func newMemoryCountStore() *memoryCountStore {
	return &memoryCountStore{counts: make(map[uuid.UUID]CycleCount)}
}

func cloneCount(cc CycleCount) CycleCount {
	lines := make([]CycleCountLine, len(cc.Lines))
	copy(lines, cc.Lines)
	cc.Lines = lines
	return cc
}

func (s *memoryCountStore) CreateCycleCount(ctx context.Context, cc CycleCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[cc.ID] = cloneCount(cc)
	return nil
}

func (s *memoryCountStore) GetCycleCount(ctx context.Context, orgID int64, id uuid.UUID) (CycleCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.counts[id]
	if !ok || cc.OrgID != orgID {
		return CycleCount{}, fmt.Errorf("cycle count %s: %w", id, shared.ErrNotFound)
	}
	return cloneCount(cc), nil
}

func (s *memoryCountStore) UpdateCycleCountLine(ctx context.Context, orgID int64, countID, lineID uuid.UUID, counted, variance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.counts[countID]
	if !ok || cc.OrgID != orgID {
		return fmt.Errorf("cycle count %s: %w", countID, shared.ErrNotFound)
	}
	if cc.Status != CycleCountOpen {
		return fmt.Errorf("cycle count %s is %s: %w", countID, cc.Status, shared.ErrInvalidState)
	}
	for i := range cc.Lines {
		if cc.Lines[i].ID == lineID {
			cc.Lines[i].CountedQty = counted
			cc.Lines[i].Variance = variance
			s.counts[countID] = cc
			return nil
		}
	}
	return fmt.Errorf("cycle count line %s: %w", lineID, shared.ErrNotFound)
}

func (s *memoryCountStore) TransitionCycleCount(ctx context.Context, orgID int64, id uuid.UUID, from, to CycleCountStatus, actorID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.counts[id]
	if !ok || cc.OrgID != orgID {
		return fmt.Errorf("cycle count %s: %w", id, shared.ErrNotFound)
	}
	if cc.Status != from {
		return fmt.Errorf("cycle count %s is %s, expected %s: %w", id, cc.Status, from, shared.ErrInvalidState)
	}
	cc.Status = to
	switch to {
	case CycleCountSubmitted:
		cc.SubmittedAt = &at
	case CycleCountApproved:
		cc.ApprovedAt = &at
		cc.ApprovedBy = actorID
	}
	s.counts[id] = cc
	return nil
}

type memoryApprovals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
}

func (a *memoryApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	log.ID = int64(len(a.logs) + 1)
	if log.At.IsZero() {
		log.At = time.Now()
	}
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryApprovals) List(ctx context.Context, orgID int64, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []shared.ApprovalLog{}
	for _, l := range a.logs {
		if l.OrgID == orgID && l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryReorderStore struct {
	mu     sync.Mutex
	rules  []ReorderRule
	onHand map[int64]map[ItemWarehouse]decimal.Decimal
	err    error
}

func newMemoryReorderStore() *memoryReorderStore {
	return &memoryReorderStore{onHand: make(map[int64]map[ItemWarehouse]decimal.Decimal)}
}

func (s *memoryReorderStore) setOnHand(orgID int64, itemID, warehouseID uuid.UUID, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onHand[orgID] == nil {
		s.onHand[orgID] = make(map[ItemWarehouse]decimal.Decimal)
	}
	s.onHand[orgID][ItemWarehouse{ItemID: itemID, WarehouseID: warehouseID}] = qty
}

func (s *memoryReorderStore) ListReorderOrgs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	orgs := []int64{}
	for _, rule := range s.rules {
		if rule.IsActive && !seen[rule.OrgID] {
			seen[rule.OrgID] = true
			orgs = append(orgs, rule.OrgID)
		}
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i] < orgs[j] })
	return orgs, nil
}

func (s *memoryReorderStore) ListActiveReorderRules(ctx context.Context, orgID int64) ([]ReorderRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []ReorderRule{}
	for _, rule := range s.rules {
		if rule.OrgID == orgID && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (s *memoryReorderStore) OnHandByItemWarehouse(ctx context.Context, orgID int64) (map[ItemWarehouse]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ItemWarehouse]decimal.Decimal)
	for k, v := range s.onHand[orgID] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryReorderStore) UpsertReorderRule(ctx context.Context, rule ReorderRule) (ReorderRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.rules {
		if existing.OrgID == rule.OrgID && existing.ItemID == rule.ItemID && existing.WarehouseID == rule.WarehouseID {
			rule.ID = existing.ID
			s.rules[i] = rule
			return rule, nil
		}
	}
	s.rules = append(s.rules, rule)
	return rule, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newKey(orgID int64) BalanceKey {
	return BalanceKey{OrgID: orgID, ItemID: uuid.New(), WarehouseID: uuid.New()}
}

func newTestService(repo *memoryRepo, cfg ServiceConfig) (*Service, *recordingAudit, *recordingMetrics) {
	audit := &recordingAudit{}
	metrics := newRecordingMetrics()
	svc := NewService(repo, audit, metrics, discardLogger(), cfg)
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc, audit, metrics
}
