package stock

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/platform/httpx"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/shared"
)

// Handler wires HTTP endpoints for company-wide stock records.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/items/{id}", h.getItem)
}

type itemResponse struct {
	ID             int64     `json:"id"`
	ItemCode       string    `json:"item_code"`
	FabricType     string    `json:"fabric_type"`
	Color          string    `json:"color"`
	GSM            int       `json:"gsm"`
	CurrentStock   float64   `json:"current_stock"`
	AvailableStock float64   `json:"available_stock"`
	ReservedStock  float64   `json:"reserved_stock"`
	DamagedStock   float64   `json:"damaged_stock"`
	AvgCost        float64   `json:"avg_cost"`
	TotalValue     float64   `json:"total_value"`
	BatchOutput    bool      `json:"batch_output"`
	SourceReceipt  int64     `json:"source_receipt_id,omitempty"`
	SourceClient   string    `json:"source_client,omitempty"`
	ElongationPct  float64   `json:"elongation_pct,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toItemResponse(item Item) itemResponse {
	return itemResponse{
		ID:             item.ID,
		ItemCode:       item.ItemCode,
		FabricType:     item.FabricType,
		Color:          item.Color,
		GSM:            item.GSM,
		CurrentStock:   item.CurrentStock,
		AvailableStock: item.AvailableStock(),
		ReservedStock:  item.ReservedStock,
		DamagedStock:   item.DamagedStock,
		AvgCost:        item.AvgCost,
		TotalValue:     item.TotalValue,
		BatchOutput:    item.BatchOutput,
		SourceReceipt:  item.SourceReceipt,
		SourceClient:   item.SourceClient,
		ElongationPct:  item.ElongationPct,
		UpdatedAt:      item.UpdatedAt,
	}
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	companyID := shared.CompanyFromContext(r.Context())
	if companyID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company context required")
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	items, pagination, err := h.service.ListItems(r.Context(), ListFilter{
		CompanyID:  companyID,
		FabricType: q.Get("fabric_type"),
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		h.logger.Error("list stock items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": resp,
		"pagination": map[string]int{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrItemNotFound) {
			h.logger.Error("get stock item", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, mapError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrItemNotFound):
		return fmt.Errorf("%w: %s", httpx.ErrNotFound, err)
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidDelta), errors.Is(err, ErrInvalidUnitCost):
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	case errors.Is(err, ErrNegativeStock):
		return fmt.Errorf("%w: %s", httpx.ErrConsistency, err)
	}
	return err
}
