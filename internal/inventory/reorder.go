package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

const defaultScanConcurrency = 4

// ReorderStore reads rules and aggregated balances.
type ReorderStore interface {
	ListReorderOrgs(ctx context.Context) ([]int64, error)
	ListActiveReorderRules(ctx context.Context, orgID int64) ([]ReorderRule, error)
	OnHandByItemWarehouse(ctx context.Context, orgID int64) (map[ItemWarehouse]decimal.Decimal, error)
	UpsertReorderRule(ctx context.Context, rule ReorderRule) (ReorderRule, error)
}

// SuggestionPublisher hands suggestions to procurement tooling.
type SuggestionPublisher interface {
	Publish(ctx context.Context, orgID int64, suggestions []ReorderSuggestion) error
	Latest(ctx context.Context, orgID int64) ([]ReorderSuggestion, error)
}

// ReorderScanner evaluates min/max rules against on-hand stock. It only
// reads balances and never posts movements.
type ReorderScanner struct {
	store       ReorderStore
	audit       AuditPort
	publisher   SuggestionPublisher
	logger      *slog.Logger
	concurrency int
	newID       func() uuid.UUID
}

// NewReorderScanner wires the scanner. audit and publisher may be nil.
func NewReorderScanner(store ReorderStore, audit AuditPort, publisher SuggestionPublisher, logger *slog.Logger) *ReorderScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReorderScanner{
		store:       store,
		audit:       audit,
		publisher:   publisher,
		logger:      logger.With(slog.String("component", "inventory.reorder")),
		concurrency: defaultScanConcurrency,
		newID:       uuid.New,
	}
}

// SuggestReorder returns the quantity to reorder for a rule, or false when
// stock is at or above the minimum.
func SuggestReorder(rule ReorderRule, onHand decimal.Decimal) (decimal.Decimal, bool) {
	if !rule.IsActive || !onHand.LessThan(rule.MinQty) {
		return decimal.Zero, false
	}
	qty := rule.MaxQty.Sub(onHand)
	if rule.ReorderQty.Valid && rule.ReorderQty.Decimal.IsPositive() {
		qty = rule.ReorderQty.Decimal
	}
	if !qty.IsPositive() {
		return decimal.Zero, false
	}
	return qty, true
}

// Scan evaluates every tenant with active rules.
func (s *ReorderScanner) Scan(ctx context.Context) ([]ReorderSuggestion, error) {
	orgs, err := s.store.ListReorderOrgs(ctx)
	if err != nil {
		return nil, err
	}
	results := make([][]ReorderSuggestion, len(orgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, orgID := range orgs {
		g.Go(func() error {
			suggestions, err := s.ScanOrg(gctx, orgID)
			if err != nil {
				return fmt.Errorf("inventory: reorder scan org %d: %w", orgID, err)
			}
			results[i] = suggestions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	all := []ReorderSuggestion{}
	for _, suggestions := range results {
		all = append(all, suggestions...)
	}
	return all, nil
}

// ScanOrg evaluates the rules of one tenant and publishes the result.
func (s *ReorderScanner) ScanOrg(ctx context.Context, orgID int64) ([]ReorderSuggestion, error) {
	if orgID <= 0 {
		return nil, fmt.Errorf("inventory: org id required: %w", shared.ErrInvalidRequest)
	}
	rules, err := s.store.ListActiveReorderRules(ctx, orgID)
	if err != nil {
		return nil, err
	}
	onHand, err := s.store.OnHandByItemWarehouse(ctx, orgID)
	if err != nil {
		return nil, err
	}
	suggestions := []ReorderSuggestion{}
	for _, rule := range rules {
		qty := onHand[ItemWarehouse{ItemID: rule.ItemID, WarehouseID: rule.WarehouseID}]
		reorder, ok := SuggestReorder(rule, qty)
		if !ok {
			continue
		}
		suggestion := ReorderSuggestion{
			OrgID:               orgID,
			ItemID:              rule.ItemID,
			WarehouseID:         rule.WarehouseID,
			OnHand:              qty,
			SuggestedReorderQty: reorder,
			LeadTimeDays:        rule.LeadTimeDays,
		}
		suggestions = append(suggestions, suggestion)
		s.auditSuggestion(ctx, suggestion)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, orgID, suggestions); err != nil {
			s.logger.Warn("publish reorder suggestions", slog.Int64("org_id", orgID), slog.Any("error", err))
		}
	}
	s.logger.Info("reorder scan complete",
		slog.Int64("org_id", orgID),
		slog.Int("rules", len(rules)),
		slog.Int("suggestions", len(suggestions)),
	)
	return suggestions, nil
}

func (s *ReorderScanner) auditSuggestion(ctx context.Context, suggestion ReorderSuggestion) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditEvent{
		OrgID:      suggestion.OrgID,
		EventType:  "REORDER_SUGGESTION",
		EntityType: "ITEM",
		EntityID:   suggestion.ItemID.String(),
		Payload: map[string]any{
			"warehouse_id":          suggestion.WarehouseID.String(),
			"on_hand":               suggestion.OnHand.String(),
			"suggested_reorder_qty": suggestion.SuggestedReorderQty.String(),
			"lead_time_days":        suggestion.LeadTimeDays,
		},
	})
	if err != nil {
		s.logger.Warn("audit reorder suggestion", slog.Int64("org_id", suggestion.OrgID), slog.Any("error", err))
	}
}

// Suggestions returns the last published suggestions of a tenant.
func (s *ReorderScanner) Suggestions(ctx context.Context, orgID int64) ([]ReorderSuggestion, error) {
	if s.publisher == nil {
		return []ReorderSuggestion{}, nil
	}
	return s.publisher.Latest(ctx, orgID)
}

// UpsertRule validates and stores a reorder rule.
func (s *ReorderScanner) UpsertRule(ctx context.Context, rule ReorderRule) (ReorderRule, error) {
	if rule.OrgID <= 0 || rule.ItemID == uuid.Nil || rule.WarehouseID == uuid.Nil {
		return ReorderRule{}, fmt.Errorf("inventory: org, item and warehouse required: %w", shared.ErrInvalidRequest)
	}
	if rule.MinQty.IsNegative() || rule.MaxQty.LessThan(rule.MinQty) {
		return ReorderRule{}, fmt.Errorf("inventory: reorder rule needs 0 <= min <= max: %w", shared.ErrInvalidRequest)
	}
	if rule.ReorderQty.Valid && !rule.ReorderQty.Decimal.IsPositive() {
		return ReorderRule{}, fmt.Errorf("inventory: reorder quantity must be positive: %w", shared.ErrInvalidRequest)
	}
	if rule.LeadTimeDays < 0 {
		return ReorderRule{}, fmt.Errorf("inventory: lead time must be >= 0: %w", shared.ErrInvalidRequest)
	}
	for field, qty := range map[string]decimal.Decimal{"min quantity": rule.MinQty, "max quantity": rule.MaxQty, "reorder quantity": rule.ReorderQty.Decimal} {
		if err := validateQty(qty, field); err != nil {
			return ReorderRule{}, err
		}
	}
	if rule.ID == uuid.Nil {
		rule.ID = s.newID()
	}
	return s.store.UpsertReorderRule(ctx, rule)
}

// ExpiryStore reads lots with expiry dates.
type ExpiryStore interface {
	ListLotOrgs(ctx context.Context) ([]int64, error)
	ListExpiringLots(ctx context.Context, orgID int64, cutoff time.Time) ([]Lot, error)
}

// ExpiryScanner raises audit alerts for lots nearing expiry.
type ExpiryScanner struct {
	store  ExpiryStore
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewExpiryScanner wires the scanner.
func NewExpiryScanner(store ExpiryStore, audit AuditPort, logger *slog.Logger) *ExpiryScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryScanner{store: store, audit: audit, logger: logger.With(slog.String("component", "inventory.expiry")), now: time.Now}
}

// Scan alerts every active lot expiring within days and returns how many
// alerts were raised.
func (s *ExpiryScanner) Scan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("inventory: expiry window must be positive: %w", shared.ErrInvalidRequest)
	}
	now := s.now().UTC()
	cutoff := now.AddDate(0, 0, days)
	orgs, err := s.store.ListLotOrgs(ctx)
	if err != nil {
		return 0, err
	}
	alerts := 0
	for _, orgID := range orgs {
		lots, err := s.store.ListExpiringLots(ctx, orgID, cutoff)
		if err != nil {
			return alerts, fmt.Errorf("inventory: expiry scan org %d: %w", orgID, err)
		}
		for _, lot := range lots {
			alerts++
			if s.audit == nil {
				continue
			}
			err := s.audit.Record(ctx, shared.AuditEvent{
				OrgID:      orgID,
				EventType:  "LOT_EXPIRY_ALERT",
				EntityType: "LOT",
				EntityID:   lot.ID.String(),
				Payload: map[string]any{
					"item_id":   lot.ItemID.String(),
					"lot":       lot.Number,
					"expiry":    lot.Expiry.Format(time.DateOnly),
					"days_left": int(lot.Expiry.Sub(now).Hours() / 24),
				},
			})
			if err != nil {
				s.logger.Warn("audit lot expiry", slog.Int64("org_id", orgID), slog.Any("error", err))
			}
		}
	}
	s.logger.Info("expiry scan complete", slog.Int("orgs", len(orgs)), slog.Int("alerts", alerts))
	return alerts, nil
}
