package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/platform/httpx"
	"github.com/getson7070/ERP-BERHAN-sub000/internal/shared"
)

// ActorHeader carries the authenticated user id set by the gateway.
const ActorHeader = "X-Actor-ID"

// ScanTrigger queues a reorder scan for background execution.
type ScanTrigger interface {
	EnqueueReorderScan(ctx context.Context, orgID int64) error
}

// Handler exposes the stock engine over JSON. The tenant always comes from
// the URL path.
type Handler struct {
	logger    *slog.Logger
	movements *Service
	counts    *CycleCountService
	reorder   *ReorderScanner
	trigger   ScanTrigger
	validator *validator.Validate
}

// NewHandler builds the handler. A nil trigger runs reorder scans inline.
func NewHandler(logger *slog.Logger, movements *Service, counts *CycleCountService, reorder *ReorderScanner, trigger ScanTrigger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		movements: movements,
		counts:    counts,
		reorder:   reorder,
		trigger:   trigger,
		validator: validator.New(),
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orgs/{orgID}/inventory", func(r chi.Router) {
		r.Post("/movements", h.postMovement)
		r.Post("/transfers", h.postTransfer)
		r.Get("/balance", h.getBalance)
		r.Get("/balances", h.listBalances)
		r.Get("/ledger", h.stockCard)
		r.Get("/drift", h.listDrift)

		r.Post("/cycle-counts", h.createCount)
		r.Route("/cycle-counts/{countID}", func(r chi.Router) {
			r.Get("/", h.getCount)
			r.Put("/lines/{lineID}", h.updateLine)
			r.Post("/submit", h.submitCount)
			r.Post("/approve", h.approveCount)
			r.Get("/history", h.countHistory)
		})

		r.Put("/reorder-rules", h.upsertRule)
		r.Get("/reorder-suggestions", h.listSuggestions)
		r.Post("/reorder-scan", h.triggerScan)
	})
}

type movementRequest struct {
	ItemID         string          `json:"item_id" validate:"required,uuid"`
	WarehouseID    string          `json:"warehouse_id" validate:"required,uuid"`
	LocationID     string          `json:"location_id" validate:"omitempty,uuid"`
	LotID          string          `json:"lot_id" validate:"omitempty,uuid"`
	QtyDelta       decimal.Decimal `json:"qty_delta"`
	TxType         string          `json:"tx_type" validate:"required,oneof=receipt delivery return adjustment forced_adjustment opening_balance"`
	ReferenceType  string          `json:"reference_type" validate:"required,max=32"`
	ReferenceID    string          `json:"reference_id" validate:"omitempty,uuid"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=128"`
	UnitRate       decimal.Decimal `json:"unit_rate"`
	AllowNegative  bool            `json:"allow_negative"`
	Note           string          `json:"note" validate:"max=500"`
}

type transferRequest struct {
	ItemID          string          `json:"item_id" validate:"required,uuid"`
	FromWarehouseID string          `json:"from_warehouse_id" validate:"required,uuid"`
	FromLocationID  string          `json:"from_location_id" validate:"omitempty,uuid"`
	ToWarehouseID   string          `json:"to_warehouse_id" validate:"required,uuid"`
	ToLocationID    string          `json:"to_location_id" validate:"omitempty,uuid"`
	LotID           string          `json:"lot_id" validate:"omitempty,uuid"`
	Qty             decimal.Decimal `json:"qty"`
	UnitRate        decimal.Decimal `json:"unit_rate"`
	ReferenceID     string          `json:"reference_id" validate:"omitempty,uuid"`
	IdempotencyKey  string          `json:"idempotency_key" validate:"required,max=124"`
	Note            string          `json:"note" validate:"max=500"`
}

type cycleCountRequest struct {
	WarehouseID string                  `json:"warehouse_id" validate:"required,uuid"`
	LocationID  string                  `json:"location_id" validate:"omitempty,uuid"`
	Lines       []cycleCountLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type cycleCountLineRequest struct {
	ItemID     string           `json:"item_id" validate:"required,uuid"`
	LocationID string           `json:"location_id" validate:"omitempty,uuid"`
	LotID      string           `json:"lot_id" validate:"omitempty,uuid"`
	CountedQty *decimal.Decimal `json:"counted_qty"`
}

type countedRequest struct {
	CountedQty *decimal.Decimal `json:"counted_qty" validate:"required"`
}

type reorderRuleRequest struct {
	ItemID       string           `json:"item_id" validate:"required,uuid"`
	WarehouseID  string           `json:"warehouse_id" validate:"required,uuid"`
	MinQty       decimal.Decimal  `json:"min_qty"`
	MaxQty       decimal.Decimal  `json:"max_qty"`
	ReorderQty   *decimal.Decimal `json:"reorder_qty"`
	LeadTimeDays int              `json:"lead_time_days" validate:"min=0"`
	IsActive     *bool            `json:"is_active"`
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req movementRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	key := BalanceKey{
		OrgID:       orgID,
		ItemID:      uuid.MustParse(req.ItemID),
		WarehouseID: uuid.MustParse(req.WarehouseID),
		LocationID:  optionalUUID(req.LocationID),
		LotID:       optionalUUID(req.LotID),
	}
	id, err := h.movements.PostMovement(r.Context(), MovementInput{
		Key:            key,
		QtyDelta:       req.QtyDelta,
		TxType:         TransactionType(req.TxType),
		ReferenceType:  req.ReferenceType,
		ReferenceID:    optionalUUID(req.ReferenceID),
		IdempotencyKey: req.IdempotencyKey,
		UnitRate:       req.UnitRate,
		AllowNegative:  req.AllowNegative,
		CreatedBy:      actorID(r),
		Note:           req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"entry_id": id.String()})
}

func (h *Handler) postTransfer(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req transferRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	itemID := uuid.MustParse(req.ItemID)
	lot := optionalUUID(req.LotID)
	var refID uuid.UUID
	if req.ReferenceID != "" {
		refID = uuid.MustParse(req.ReferenceID)
	}
	res, err := h.movements.PostTransfer(r.Context(), TransferInput{
		From:           BalanceKey{OrgID: orgID, ItemID: itemID, WarehouseID: uuid.MustParse(req.FromWarehouseID), LocationID: optionalUUID(req.FromLocationID), LotID: lot},
		To:             BalanceKey{OrgID: orgID, ItemID: itemID, WarehouseID: uuid.MustParse(req.ToWarehouseID), LocationID: optionalUUID(req.ToLocationID), LotID: lot},
		Qty:            req.Qty,
		UnitRate:       req.UnitRate,
		ReferenceID:    refID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      actorID(r),
		Note:           req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{
		"out_entry_id": res.OutEntryID.String(),
		"in_entry_id":  res.InEntryID.String(),
	})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	key, err := keyQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	bal, err := h.movements.GetBalance(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(bal))
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	warehouseID, err := uuidValue(r.URL.Query().Get("warehouse_id"), "warehouse_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balances, err := h.movements.ListBalances(r.Context(), orgID, warehouseID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]balanceResponse, 0, len(balances))
	for _, bal := range balances {
		out = append(out, toBalanceResponse(bal))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	key, err := keyQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := LedgerFilter{Key: key}
	q := r.URL.Query()
	if filter.From, err = timeValue(q.Get("from"), "from"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = timeValue(q.Get("to"), "to"); err != nil {
		h.fail(w, r, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			h.fail(w, r, fmt.Errorf("inventory: limit must be 1..1000: %w", shared.ErrInvalidRequest))
			return
		}
		filter.Limit = limit
	}
	card, err := h.movements.GetStockCard(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]stockCardResponse, 0, len(card))
	for _, row := range card {
		out = append(out, stockCardResponse{
			EntryID:        row.Entry.ID,
			Seq:            row.Entry.Seq,
			PostedAt:       row.Entry.PostedAt,
			Qty:            row.Entry.Qty,
			UnitRate:       row.Entry.UnitRate,
			Value:          row.Entry.Value(),
			TxType:         string(row.Entry.TxType),
			ReferenceType:  row.Entry.ReferenceType,
			ReferenceID:    row.Entry.ReferenceID,
			IdempotencyKey: row.Entry.IdempotencyKey,
			BalanceQty:     row.BalanceQty,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listDrift(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	drifts, err := h.movements.FindDrift(r.Context(), orgID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]driftResponse, 0, len(drifts))
	for _, d := range drifts {
		out = append(out, driftResponse{
			balanceKeyResponse: toKeyResponse(d.Key),
			Cached:             d.Cached,
			LedgerSum:          d.LedgerSum,
			Diff:               d.Diff(),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createCount(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req cycleCountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	input := CreateCycleCountInput{
		OrgID:       orgID,
		WarehouseID: uuid.MustParse(req.WarehouseID),
		LocationID:  optionalUUID(req.LocationID),
		CountedBy:   actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, CycleCountLineInput{
			ItemID:     uuid.MustParse(line.ItemID),
			LocationID: optionalUUID(line.LocationID),
			LotID:      optionalUUID(line.LotID),
			CountedQty: line.CountedQty,
		})
	}
	cc, err := h.counts.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCycleCountResponse(cc))
}

func (h *Handler) getCount(w http.ResponseWriter, r *http.Request) {
	orgID, countID, err := countParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cc, err := h.counts.Get(r.Context(), orgID, countID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCycleCountResponse(cc))
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	orgID, countID, err := countParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lineID, err := uuidValue(chi.URLParam(r, "lineID"), "line id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req countedRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	line, err := h.counts.UpdateLine(r.Context(), orgID, countID, lineID, *req.CountedQty)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLineResponse(line))
}

func (h *Handler) submitCount(w http.ResponseWriter, r *http.Request) {
	orgID, countID, err := countParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cc, err := h.counts.Submit(r.Context(), orgID, countID, actorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCycleCountResponse(cc))
}

func (h *Handler) approveCount(w http.ResponseWriter, r *http.Request) {
	orgID, countID, err := countParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cc, err := h.counts.Approve(r.Context(), orgID, countID, actorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCycleCountResponse(cc))
}

func (h *Handler) countHistory(w http.ResponseWriter, r *http.Request) {
	orgID, countID, err := countParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	logs, err := h.counts.History(r.Context(), orgID, countID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]approvalResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, approvalResponse{ActorID: l.ActorID, Action: string(l.Action), Note: l.Note, At: l.At})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) upsertRule(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reorderRuleRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rule := ReorderRule{
		OrgID:        orgID,
		ItemID:       uuid.MustParse(req.ItemID),
		WarehouseID:  uuid.MustParse(req.WarehouseID),
		MinQty:       req.MinQty,
		MaxQty:       req.MaxQty,
		LeadTimeDays: req.LeadTimeDays,
		IsActive:     req.IsActive == nil || *req.IsActive,
	}
	if req.ReorderQty != nil {
		rule.ReorderQty = decimal.NewNullDecimal(*req.ReorderQty)
	}
	saved, err := h.reorder.UpsertRule(r.Context(), rule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := reorderRuleResponse{
		ID:           saved.ID,
		ItemID:       saved.ItemID,
		WarehouseID:  saved.WarehouseID,
		MinQty:       saved.MinQty,
		MaxQty:       saved.MaxQty,
		LeadTimeDays: saved.LeadTimeDays,
		IsActive:     saved.IsActive,
	}
	if saved.ReorderQty.Valid {
		resp.ReorderQty = &saved.ReorderQty.Decimal
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	suggestions, err := h.reorder.Suggestions(r.Context(), orgID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, suggestions)
}

func (h *Handler) triggerScan(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.trigger != nil {
		if err := h.trigger.EnqueueReorderScan(r.Context(), orgID); err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	suggestions, err := h.reorder.ScanOrg(r.Context(), orgID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, suggestions)
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return fmt.Errorf("inventory: decode body: %v: %w", err, shared.ErrInvalidRequest)
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("inventory: field %s failed %s: %w", fieldErrs[0].Field(), fieldErrs[0].Tag(), shared.ErrInvalidRequest)
		}
		return fmt.Errorf("inventory: %v: %w", err, shared.ErrInvalidRequest)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidRequest), errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrInsufficientStock), errors.Is(err, shared.ErrInvalidState):
	default:
		h.logger.Error("inventory request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func orgParam(r *http.Request) (int64, error) {
	orgID, err := strconv.ParseInt(chi.URLParam(r, "orgID"), 10, 64)
	if err != nil || orgID <= 0 {
		return 0, fmt.Errorf("inventory: org id malformed: %w", shared.ErrInvalidRequest)
	}
	return orgID, nil
}

func countParams(r *http.Request) (int64, uuid.UUID, error) {
	orgID, err := orgParam(r)
	if err != nil {
		return 0, uuid.Nil, err
	}
	countID, err := uuidValue(chi.URLParam(r, "countID"), "cycle count id")
	return orgID, countID, err
}

func keyQuery(r *http.Request) (BalanceKey, error) {
	orgID, err := orgParam(r)
	if err != nil {
		return BalanceKey{}, err
	}
	q := r.URL.Query()
	key := BalanceKey{OrgID: orgID}
	if key.ItemID, err = uuidValue(q.Get("item_id"), "item_id"); err != nil {
		return BalanceKey{}, err
	}
	if key.WarehouseID, err = uuidValue(q.Get("warehouse_id"), "warehouse_id"); err != nil {
		return BalanceKey{}, err
	}
	for field, dst := range map[string]*uuid.NullUUID{"location_id": &key.LocationID, "lot_id": &key.LotID} {
		raw := q.Get(field)
		if raw == "" {
			continue
		}
		id, err := uuidValue(raw, field)
		if err != nil {
			return BalanceKey{}, err
		}
		*dst = OptionalID(id)
	}
	return key, nil
}

func uuidValue(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("inventory: %s malformed: %w", field, shared.ErrInvalidRequest)
	}
	return id, nil
}

func timeValue(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("inventory: %s must be RFC3339: %w", field, shared.ErrInvalidRequest)
	}
	return t, nil
}

// optionalUUID parses a validated optional id.
func optionalUUID(raw string) uuid.NullUUID {
	if raw == "" {
		return uuid.NullUUID{}
	}
	return OptionalID(uuid.MustParse(raw))
}

func actorID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get(ActorHeader), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

type balanceKeyResponse struct {
	ItemID      uuid.UUID     `json:"item_id"`
	WarehouseID uuid.UUID     `json:"warehouse_id"`
	LocationID  uuid.NullUUID `json:"location_id"`
	LotID       uuid.NullUUID `json:"lot_id"`
}

type balanceResponse struct {
	balanceKeyResponse
	QtyOnHand decimal.Decimal `json:"qty_on_hand"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

type stockCardResponse struct {
	EntryID        uuid.UUID       `json:"entry_id"`
	Seq            int64           `json:"seq"`
	PostedAt       time.Time       `json:"posted_at"`
	Qty            decimal.Decimal `json:"qty"`
	UnitRate       decimal.Decimal `json:"unit_rate"`
	Value          decimal.Decimal `json:"value"`
	TxType         string          `json:"tx_type"`
	ReferenceType  string          `json:"reference_type"`
	ReferenceID    uuid.NullUUID   `json:"reference_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	BalanceQty     decimal.Decimal `json:"balance_qty"`
}

type driftResponse struct {
	balanceKeyResponse
	Cached    decimal.Decimal `json:"cached"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Diff      decimal.Decimal `json:"diff"`
}

type cycleCountResponse struct {
	ID          uuid.UUID            `json:"id"`
	WarehouseID uuid.UUID            `json:"warehouse_id"`
	LocationID  uuid.NullUUID        `json:"location_id"`
	Status      string               `json:"status"`
	CountedBy   int64                `json:"counted_by,omitempty"`
	ApprovedBy  int64                `json:"approved_by,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	SubmittedAt *time.Time           `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time           `json:"approved_at,omitempty"`
	Lines       []cycleCountLineResp `json:"lines"`
}

type cycleCountLineResp struct {
	ID         uuid.UUID       `json:"id"`
	ItemID     uuid.UUID       `json:"item_id"`
	LocationID uuid.NullUUID   `json:"location_id"`
	LotID      uuid.NullUUID   `json:"lot_id"`
	SystemQty  decimal.Decimal `json:"system_qty"`
	CountedQty decimal.Decimal `json:"counted_qty"`
	Variance   decimal.Decimal `json:"variance"`
}

type approvalResponse struct {
	ActorID int64     `json:"actor_id,omitempty"`
	Action  string    `json:"action"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

type reorderRuleResponse struct {
	ID           uuid.UUID        `json:"id"`
	ItemID       uuid.UUID        `json:"item_id"`
	WarehouseID  uuid.UUID        `json:"warehouse_id"`
	MinQty       decimal.Decimal  `json:"min_qty"`
	MaxQty       decimal.Decimal  `json:"max_qty"`
	ReorderQty   *decimal.Decimal `json:"reorder_qty,omitempty"`
	LeadTimeDays int              `json:"lead_time_days"`
	IsActive     bool             `json:"is_active"`
}

func toKeyResponse(key BalanceKey) balanceKeyResponse {
	return balanceKeyResponse{ItemID: key.ItemID, WarehouseID: key.WarehouseID, LocationID: key.LocationID, LotID: key.LotID}
}

func toBalanceResponse(bal StockBalance) balanceResponse {
	resp := balanceResponse{balanceKeyResponse: toKeyResponse(bal.Key), QtyOnHand: bal.QtyOnHand}
	if !bal.UpdatedAt.IsZero() {
		updated := bal.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

func toLineResponse(line CycleCountLine) cycleCountLineResp {
	return cycleCountLineResp{
		ID:         line.ID,
		ItemID:     line.ItemID,
		LocationID: line.LocationID,
		LotID:      line.LotID,
		SystemQty:  line.SystemQty,
		CountedQty: line.CountedQty,
		Variance:   line.Variance,
	}
}

func toCycleCountResponse(cc CycleCount) cycleCountResponse {
	resp := cycleCountResponse{
		ID:          cc.ID,
		WarehouseID: cc.WarehouseID,
		LocationID:  cc.LocationID,
		Status:      string(cc.Status),
		CountedBy:   cc.CountedBy,
		ApprovedBy:  cc.ApprovedBy,
		CreatedAt:   cc.CreatedAt,
		SubmittedAt: cc.SubmittedAt,
		ApprovedAt:  cc.ApprovedAt,
		Lines:       make([]cycleCountLineResp, 0, len(cc.Lines)),
	}
	for _, line := range cc.Lines {
		resp.Lines = append(resp.Lines, toLineResponse(line))
	}
	return resp
}
