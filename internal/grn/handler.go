package grn

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/platform/httpx"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/shared"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

// Handler wires HTTP endpoints for receipts and lots.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	idem      *shared.IdempotencyStore
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. The idempotency store is optional;
// without it the Idempotency-Key header is ignored.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idem: idem, validator: validator.New()}
}

// MountRoutes registers receipt routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createReceipt)
	r.Get("/{id}", h.getReceipt)
	r.Delete("/{id}", h.deleteReceipt)
	r.Post("/{id}/lots", h.addLot)
	r.Patch("/{id}/lots/{lotNumber}/status", h.setLotStatus)
}

// MountSummaryRoutes registers the company stock summary read side.
func (h *Handler) MountSummaryRoutes(r chi.Router) {
	r.Get("/summary", h.stockSummary)
	r.Get("/summary/export.csv", h.stockSummaryCSV)
}

type quantityBody struct {
	Value float64 `json:"value" validate:"gte=0"`
	Unit  string  `json:"unit" validate:"required"`
}

type lotBody struct {
	LotNumber   string  `json:"lot_number" validate:"required,max=60"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	Unit        string  `json:"unit" validate:"required"`
	Grade       string  `json:"grade" validate:"max=20"`
	CostPerUnit float64 `json:"cost_per_unit" validate:"gte=0"`
	TotalCost   float64 `json:"total_cost" validate:"gte=0"`
	WarehouseID int64   `json:"warehouse_id"`
	Location    string  `json:"location" validate:"max=120"`
}

type createReceiptRequest struct {
	Number         string       `json:"number" validate:"required,max=60"`
	EntryType      string       `json:"entry_type" validate:"required"`
	MaterialSource string       `json:"material_source" validate:"required"`
	FabricType     string       `json:"fabric_type" validate:"required,max=80"`
	FabricGrade    string       `json:"fabric_grade" validate:"max=20"`
	GSM            int          `json:"gsm" validate:"gte=0"`
	Width          float64      `json:"width" validate:"gte=0"`
	Color          string       `json:"color" validate:"max=40"`
	ReceivedQty    quantityBody `json:"received_qty" validate:"required"`
	AcceptedQty    quantityBody `json:"accepted_qty"`
	RejectedQty    quantityBody `json:"rejected_qty"`
	PORef          string       `json:"po_ref" validate:"max=60"`
	WarehouseID    int64        `json:"warehouse_id"`
	ClientName     string       `json:"client_name" validate:"max=120"`
	ClientOrderRef string       `json:"client_order_ref" validate:"max=60"`
	Lots           []lotBody    `json:"lots" validate:"dive"`
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyFromContext(r.Context())
	if companyID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company context required")
		return
	}
	var req createReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	in := CreateReceiptInput{
		CompanyID:      companyID,
		Number:         req.Number,
		EntryType:      EntryType(req.EntryType),
		MaterialSource: MaterialSource(req.MaterialSource),
		Fabric: Fabric{
			Type:  req.FabricType,
			Grade: req.FabricGrade,
			GSM:   req.GSM,
			Width: req.Width,
			Color: req.Color,
		},
		PORef:          req.PORef,
		WarehouseID:    req.WarehouseID,
		ClientName:     req.ClientName,
		ClientOrderRef: req.ClientOrderRef,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	var err error
	if in.ReceivedQty, err = parseQuantity(req.ReceivedQty); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if req.AcceptedQty.Unit != "" {
		if in.AcceptedQty, err = parseQuantity(req.AcceptedQty); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	if req.RejectedQty.Unit != "" {
		if in.RejectedQty, err = parseQuantity(req.RejectedQty); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	for _, lb := range req.Lots {
		li, err := parseLot(lb)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		in.Lots = append(in.Lots, li)
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, "GRN"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrConflict, err))
				return
			}
			h.logError(r, "idempotency check", err)
			httpx.RespondError(w, err)
			return
		}
	}

	receipt, err := h.service.CreateReceipt(r.Context(), in)
	if err != nil {
		h.logError(r, "create receipt", err)
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, toReceiptResponse(receipt, nil))
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	detail, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(detail.Receipt, detail.Lots))
}

func (h *Handler) deleteReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.service.DeleteReceipt(r.Context(), id, force, shared.ActorFromContext(r.Context())); err != nil {
		h.logError(r, "delete receipt", err)
		httpx.RespondError(w, mapError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addLot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	var req lotBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	li, err := parseLot(req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	receipt, err := h.service.AddLot(r.Context(), id, li, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logError(r, "add lot", err)
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt, nil))
}

type lotStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=500"`
}

func (h *Handler) setLotStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	lotNumber := chi.URLParam(r, "lotNumber")
	var req lotStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	receipt, err := h.service.SetLotStatus(r.Context(), id, lotNumber, LotStatus(req.Status), req.Notes, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logError(r, "set lot status", err)
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(receipt, nil))
}

func (h *Handler) stockSummary(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyFromContext(r.Context())
	if companyID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company context required")
		return
	}
	summary, err := h.service.GetStockSummary(r.Context(), companyID, summaryFilter(r))
	if err != nil {
		h.logError(r, "stock summary", err)
		httpx.RespondError(w, mapError(err))
		return
	}
	entries := make([]summaryEntryBody, 0, len(summary.Entries))
	for _, e := range summary.Entries {
		entries = append(entries, toSummaryEntryBody(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"totals": map[string]any{
			"receipts":         summary.Totals.Receipts,
			"total_meters":     summary.Totals.TotalMeters,
			"available_meters": summary.Totals.AvailableMeters,
			"reserved_meters":  summary.Totals.ReservedMeters,
			"damaged_meters":   summary.Totals.DamagedMeters,
		},
	})
}

func (h *Handler) stockSummaryCSV(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyFromContext(r.Context())
	if companyID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company context required")
		return
	}
	summary, err := h.service.GetStockSummary(r.Context(), companyID, summaryFilter(r))
	if err != nil {
		h.logError(r, "stock summary export", err)
		httpx.RespondError(w, mapError(err))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="stock-summary-%s.csv"`, time.Now().UTC().Format("2006-01-02")))

	p := message.NewPrinter(language.English)
	num := func(v float64) string { return p.Sprintf("%.2f", v) }

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"number", "fabric_type", "color", "gsm", "source", "status",
		"available_meters", "available_yards", "available_pieces", "reserved_meters", "damaged_meters"})
	for _, e := range summary.Entries {
		_ = cw.Write([]string{
			e.Number, e.FabricType, e.Color, strconv.Itoa(e.GSM), string(e.MaterialSource), string(e.Status),
			num(e.Balance.Meters.Available), num(e.Balance.Yards.Available), num(e.Balance.Pieces.Available),
			num(e.Balance.Meters.Reserved), num(e.Balance.Meters.Damaged),
		})
	}
	_ = cw.Write([]string{"TOTAL", "", "", "", "", "",
		num(summary.Totals.AvailableMeters), "", "", num(summary.Totals.ReservedMeters), num(summary.Totals.DamagedMeters)})
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("write summary csv", slog.Any("error", err))
	}
}

func summaryFilter(r *http.Request) SummaryFilter {
	q := r.URL.Query()
	return SummaryFilter{
		FabricType: q.Get("fabric_type"),
		Status:     StockStatus(q.Get("status")),
	}
}

type unitBalanceBody struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Reserved  float64 `json:"reserved"`
	Damaged   float64 `json:"damaged"`
}

type balanceBody struct {
	Meters unitBalanceBody `json:"meters"`
	Yards  unitBalanceBody `json:"yards"`
	Pieces unitBalanceBody `json:"pieces"`
}

type lotResponse struct {
	LotNumber   string  `json:"lot_number"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	Status      string  `json:"status"`
	Grade       string  `json:"grade,omitempty"`
	CostPerUnit float64 `json:"cost_per_unit"`
	TotalCost   float64 `json:"total_cost"`
	WarehouseID int64   `json:"warehouse_id,omitempty"`
	Location    string  `json:"location,omitempty"`
}

type receiptResponse struct {
	ID             int64         `json:"id"`
	Number         string        `json:"number"`
	EntryType      string        `json:"entry_type"`
	MaterialSource string        `json:"material_source"`
	FabricType     string        `json:"fabric_type"`
	FabricGrade    string        `json:"fabric_grade,omitempty"`
	GSM            int           `json:"gsm"`
	Width          float64       `json:"width,omitempty"`
	Color          string        `json:"color,omitempty"`
	ReceivedQty    quantityBody  `json:"received_qty"`
	AcceptedQty    quantityBody  `json:"accepted_qty"`
	RejectedQty    quantityBody  `json:"rejected_qty"`
	PORef          string        `json:"po_ref,omitempty"`
	Status         string        `json:"status"`
	Balance        balanceBody   `json:"balance"`
	Version        int64         `json:"version"`
	Deleted        bool          `json:"deleted,omitempty"`
	Lots           []lotResponse `json:"lots,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type summaryEntryBody struct {
	ReceiptID      int64       `json:"receipt_id"`
	Number         string      `json:"number"`
	FabricType     string      `json:"fabric_type"`
	Color          string      `json:"color,omitempty"`
	GSM            int         `json:"gsm"`
	MaterialSource string      `json:"material_source"`
	Status         string      `json:"status"`
	Balance        balanceBody `json:"balance"`
}

func toSummaryEntryBody(e SummaryEntry) summaryEntryBody {
	return summaryEntryBody{
		ReceiptID:      e.ReceiptID,
		Number:         e.Number,
		FabricType:     e.FabricType,
		Color:          e.Color,
		GSM:            e.GSM,
		MaterialSource: string(e.MaterialSource),
		Status:         string(e.Status),
		Balance:        toBalanceBody(e.Balance),
	}
}

func toBalanceBody(b Balance) balanceBody {
	conv := func(ub UnitBalance) unitBalanceBody {
		return unitBalanceBody{Total: ub.Total, Available: ub.Available, Reserved: ub.Reserved, Damaged: ub.Damaged}
	}
	return balanceBody{Meters: conv(b.Meters), Yards: conv(b.Yards), Pieces: conv(b.Pieces)}
}

func toReceiptResponse(r Receipt, lots []Lot) receiptResponse {
	resp := receiptResponse{
		ID:             r.ID,
		Number:         r.Number,
		EntryType:      string(r.EntryType),
		MaterialSource: string(r.MaterialSource),
		FabricType:     r.Fabric.Type,
		FabricGrade:    r.Fabric.Grade,
		GSM:            r.Fabric.GSM,
		Width:          r.Fabric.Width,
		Color:          r.Fabric.Color,
		ReceivedQty:    quantityBody{Value: r.ReceivedQty.Value, Unit: string(r.ReceivedQty.Unit)},
		AcceptedQty:    quantityBody{Value: r.AcceptedQty.Value, Unit: string(r.AcceptedQty.Unit)},
		RejectedQty:    quantityBody{Value: r.RejectedQty.Value, Unit: string(r.RejectedQty.Unit)},
		PORef:          r.PORef,
		Status:         string(r.Status),
		Balance:        toBalanceBody(r.Balance),
		Version:        r.Version,
		Deleted:        r.Deleted(),
		UpdatedAt:      r.UpdatedAt,
	}
	for _, lot := range lots {
		resp.Lots = append(resp.Lots, lotResponse{
			LotNumber:   lot.LotNumber,
			Quantity:    lot.Quantity.Value,
			Unit:        string(lot.Quantity.Unit),
			Status:      string(lot.Status),
			Grade:       lot.Grade,
			CostPerUnit: lot.CostPerUnit,
			TotalCost:   lot.TotalCost,
			WarehouseID: lot.WarehouseID,
			Location:    lot.Location,
		})
	}
	return resp
}

func parseQuantity(q quantityBody) (uom.Quantity, error) {
	unit, err := uom.ParseUnit(q.Unit)
	if err != nil {
		return uom.Quantity{}, err
	}
	return uom.Quantity{Value: q.Value, Unit: unit}, nil
}

func parseLot(in lotBody) (LotInput, error) {
	unit, err := uom.ParseUnit(in.Unit)
	if err != nil {
		return LotInput{}, err
	}
	return LotInput{
		LotNumber:   in.LotNumber,
		Quantity:    uom.Quantity{Value: in.Quantity, Unit: unit},
		Grade:       in.Grade,
		CostPerUnit: in.CostPerUnit,
		TotalCost:   in.TotalCost,
		WarehouseID: in.WarehouseID,
		Location:    in.Location,
	}, nil
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, ErrReceiptNotFound), errors.Is(err, ErrLotNotFound),
		errors.Is(err, ErrDuplicateLot), errors.Is(err, ErrInvalidReceipt),
		errors.Is(err, ErrInvalidLot), errors.Is(err, ErrInvalidStatus):
		return
	}
	h.logger.Error(msg, slog.Any("error", err), slog.String("path", r.URL.Path))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrReceiptNotFound), errors.Is(err, ErrLotNotFound):
		return fmt.Errorf("%w: %s", httpx.ErrNotFound, err)
	case errors.Is(err, ErrDuplicateLot), errors.Is(err, ErrDuplicateNumber),
		errors.Is(err, ErrInvalidLot), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidReceipt):
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	case errors.Is(err, ErrReceiptDeleted), errors.Is(err, ErrActiveLots),
		errors.Is(err, ErrForceRequired):
		return fmt.Errorf("%w: %s", httpx.ErrConsistency, err)
	}
	return err
}
