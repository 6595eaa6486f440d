package consignment

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/platform/httpx"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/shared"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

// Handler wires HTTP endpoints for the consignment ledger. Mounted under a
// receipt route so every operation is keyed by the receipt id.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers consignment routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.get)
	r.Get("/ledger", h.ledger)
	r.Post("/transactions", h.recordTransaction)
	r.Put("/consumption", h.updateConsumption)
	r.Post("/outputs", h.addOutput)
	r.Post("/outputs/{outputID}/resolve", h.resolveOutput)
}

type consignmentResponse struct {
	ID             int64              `json:"id"`
	ReceiptID      int64              `json:"receipt_id"`
	ClientName     string             `json:"client_name"`
	ClientOrderRef string             `json:"client_order_ref,omitempty"`
	TotalReceived  float64            `json:"total_received"`
	TotalConsumed  float64            `json:"total_consumed"`
	TotalWaste     float64            `json:"total_waste"`
	TotalReturned  float64            `json:"total_returned"`
	TotalKept      float64            `json:"total_kept"`
	CurrentBalance float64            `json:"current_balance"`
	Consumption    *consumptionBody   `json:"consumption,omitempty"`
	Outputs        []outputResponse   `json:"outputs,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type consumptionBody struct {
	ConsumedQty   float64   `json:"consumed_qty"`
	WasteQty      float64   `json:"waste_qty"`
	ReturnableQty float64   `json:"returnable_qty"`
	ShortfallFlag bool      `json:"shortfall_flag"`
	Notes         string    `json:"notes,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

type outputResponse struct {
	ID            int64      `json:"id"`
	Quantity      float64    `json:"quantity"`
	Unit          string     `json:"unit"`
	OutputType    string     `json:"output_type"`
	Grade         string     `json:"grade,omitempty"`
	Disposition   string     `json:"disposition"`
	ClientRetQty  float64    `json:"client_return_qty,omitempty"`
	KeptQty       float64    `json:"kept_qty,omitempty"`
	ElongationPct float64    `json:"elongation_pct,omitempty"`
	ProductionRef string     `json:"production_ref,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

func toConsignmentResponse(c Consignment, outputs []Output) consignmentResponse {
	resp := consignmentResponse{
		ID:             c.ID,
		ReceiptID:      c.ReceiptID,
		ClientName:     c.ClientName,
		ClientOrderRef: c.ClientOrderRef,
		TotalReceived:  c.TotalReceived,
		TotalConsumed:  c.TotalConsumed,
		TotalWaste:     c.TotalWaste,
		TotalReturned:  c.TotalReturned,
		TotalKept:      c.TotalKept,
		CurrentBalance: c.CurrentBalance,
		UpdatedAt:      c.UpdatedAt,
	}
	if !c.Consumption.LastRecordedAt.IsZero() {
		resp.Consumption = &consumptionBody{
			ConsumedQty:   c.Consumption.ConsumedQty,
			WasteQty:      c.Consumption.WasteQty,
			ReturnableQty: c.Consumption.ReturnableQty,
			ShortfallFlag: c.Consumption.ShortfallFlag,
			Notes:         c.Consumption.Notes,
			RecordedAt:    c.Consumption.LastRecordedAt,
		}
	}
	for _, o := range outputs {
		resp.Outputs = append(resp.Outputs, toOutputResponse(o))
	}
	return resp
}

func toOutputResponse(o Output) outputResponse {
	return outputResponse{
		ID:            o.ID,
		Quantity:      o.Quantity.Value,
		Unit:          string(o.Quantity.Unit),
		OutputType:    string(o.OutputType),
		Grade:         o.Grade,
		Disposition:   string(o.Disposition),
		ClientRetQty:  o.ClientRetQty,
		KeptQty:       o.KeptQty,
		ElongationPct: o.ElongationPct,
		ProductionRef: o.ProductionRef,
		ResolvedAt:    o.ResolvedAt,
	}
}

func receiptID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	c, outputs, err := h.service.GetByReceipt(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toConsignmentResponse(c, outputs))
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.Ledger(r.Context(), id, limit)
	if err != nil {
		httpx.RespondError(w, mapError(err))
		return
	}
	type entryBody struct {
		ID           int64     `json:"id"`
		Kind         string    `json:"kind"`
		Quantity     float64   `json:"quantity"`
		BalanceAfter float64   `json:"balance_after"`
		Reference    string    `json:"reference,omitempty"`
		Notes        string    `json:"notes,omitempty"`
		At           time.Time `json:"at"`
	}
	body := make([]entryBody, 0, len(entries))
	for _, e := range entries {
		body = append(body, entryBody{
			ID: e.ID, Kind: string(e.Kind), Quantity: e.Quantity,
			BalanceAfter: e.BalanceAfter, Reference: e.Reference, Notes: e.Notes, At: e.At,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": body})
}

type transactionRequest struct {
	Kind      string  `json:"kind" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required"`
	Reference string  `json:"reference" validate:"max=120"`
	Notes     string  `json:"notes" validate:"max=500"`
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	c, err := h.service.RecordTransaction(r.Context(), id, TxnKind(req.Kind), req.Quantity, req.Reference, req.Notes)
	if err != nil {
		h.logError(r, "record consignment transaction", err, id)
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, toConsignmentResponse(c, nil))
}

type consumptionRequest struct {
	ConsumedQty float64 `json:"consumed_qty" validate:"gte=0"`
	WasteQty    float64 `json:"waste_qty" validate:"gte=0"`
	Notes       string  `json:"notes" validate:"max=500"`
}

func (h *Handler) updateConsumption(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	var req consumptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	c, err := h.service.UpdateConsumption(r.Context(), id, req.ConsumedQty, req.WasteQty, req.Notes)
	if err != nil {
		h.logError(r, "update consumption", err, id)
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toConsignmentResponse(c, nil))
}

type outputRequest struct {
	Quantity      float64 `json:"quantity" validate:"gt=0"`
	Unit          string  `json:"unit" validate:"required"`
	OutputType    string  `json:"output_type" validate:"required"`
	Grade         string  `json:"grade" validate:"max=20"`
	ElongationPct float64 `json:"elongation_pct" validate:"gte=-100,lte=100"`
	ProductionRef string  `json:"production_ref" validate:"max=120"`
	Notes         string  `json:"notes" validate:"max=500"`
}

func (h *Handler) addOutput(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	var req outputRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unit, err := uom.ParseUnit(req.Unit)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	output, err := h.service.AddProductionOutput(r.Context(), id, OutputInput{
		Quantity:      uom.Quantity{Value: req.Quantity, Unit: unit},
		OutputType:    OutputType(req.OutputType),
		Grade:         req.Grade,
		ElongationPct: req.ElongationPct,
		ProductionRef: req.ProductionRef,
		Notes:         req.Notes,
	})
	if err != nil {
		h.logError(r, "add production output", err, id)
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusCreated, toOutputResponse(output))
}

type resolveRequest struct {
	Disposition    string  `json:"disposition" validate:"required"`
	ClientRetQty   float64 `json:"client_return_qty" validate:"gte=0"`
	KeptQty        float64 `json:"kept_qty" validate:"gte=0"`
	KeptUnitCost   float64 `json:"kept_unit_cost" validate:"gte=0"`
	Notes          string  `json:"notes" validate:"max=500"`
}

func (h *Handler) resolveOutput(w http.ResponseWriter, r *http.Request) {
	id, err := receiptID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid receipt id")
		return
	}
	outputID, err := strconv.ParseInt(chi.URLParam(r, "outputID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid output id")
		return
	}
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	output, err := h.service.ResolveProductionOutput(r.Context(), id, outputID, ResolveInput{
		Disposition:  Disposition(req.Disposition),
		ClientRetQty: req.ClientRetQty,
		KeptQty:      req.KeptQty,
		UnitCost:     req.KeptUnitCost,
		ActorID:      shared.ActorFromContext(r.Context()),
		Notes:        req.Notes,
	})
	if err != nil {
		h.logError(r, "resolve production output", err, id)
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toOutputResponse(output))
}

func (h *Handler) logError(r *http.Request, msg string, err error, receiptID int64) {
	if errors.Is(err, ErrConsignmentNotFound) || errors.Is(err, ErrOutputNotFound) {
		return
	}
	h.logger.Error(msg, slog.Any("error", err), slog.Int64("receipt_id", receiptID), slog.String("path", r.URL.Path))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrConsignmentNotFound), errors.Is(err, ErrOutputNotFound):
		return fmt.Errorf("%w: %s", httpx.ErrNotFound, err)
	case errors.Is(err, ErrInvalidKind), errors.Is(err, ErrNegativeQuantity),
		errors.Is(err, ErrInvalidOutput), errors.Is(err, ErrInvalidDisposition):
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	case errors.Is(err, ErrNegativeBalance), errors.Is(err, ErrDispositionExceedsOutput),
		errors.Is(err, ErrAlreadyResolved):
		return fmt.Errorf("%w: %s", httpx.ErrConsistency, err)
	}
	return err
}
