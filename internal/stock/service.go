package stock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/shared"
)

const qtyEpsilon = 0.0001

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns every write to item stock and value. Lot and consignment
// operations call Apply on their own transaction so both aggregates commit
// or roll back together.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Apply posts one delta inside the caller-provided transaction and returns
// the item after the change.
func (s *Service) Apply(ctx context.Context, tx TxRepository, d Delta) (Item, error) {
	if d.Key.CompanyID == 0 || d.Key.FabricType == "" {
		return Item{}, ErrInvalidKey
	}
	if isZero(d.CurrentDelta) && isZero(d.ReservedDelta) && isZero(d.DamagedDelta) {
		return Item{}, ErrInvalidDelta
	}
	if d.Provenance != nil {
		// Provenance-carrying deltas always resolve a batch-keyed item.
		d.Key.Batch = true
	}

	item, err := tx.GetItemForUpdate(ctx, d.Key)
	isNew := errors.Is(err, ErrItemNotFound)
	if err != nil && !isNew {
		return Item{}, err
	}
	if isNew {
		item = Item{
			CompanyID:   d.Key.CompanyID,
			ItemCode:    itemCode(d.Key),
			FabricType:  d.Key.FabricType,
			Color:       d.Key.Color,
			GSM:         d.Key.GSM,
			BatchOutput: d.Key.Batch,
		}
	}
	if d.Provenance != nil {
		item.BatchOutput = true
		item.SourceReceipt = d.Provenance.ReceiptID
		item.SourceClient = d.Provenance.ClientName
		item.ElongationPct = d.Provenance.ElongationPct
	}

	newCurrent := item.CurrentStock + d.CurrentDelta
	newReserved := item.ReservedStock + d.ReservedDelta
	newDamaged := item.DamagedStock + d.DamagedDelta
	if newCurrent < -qtyEpsilon || newReserved < -qtyEpsilon || newDamaged < -qtyEpsilon {
		return Item{}, ErrNegativeStock
	}
	newCurrent = clampZero(newCurrent)
	newReserved = clampZero(newReserved)
	newDamaged = clampZero(newDamaged)

	switch {
	case d.CurrentDelta > 0:
		if d.UnitCost < 0 {
			return Item{}, ErrInvalidUnitCost
		}
		item.TotalValue += d.CurrentDelta * d.UnitCost
		item.AvgCost = item.TotalValue / newCurrent
	case d.CurrentDelta < 0:
		// Outbound keeps the moving average; value shrinks in proportion.
		item.TotalValue += d.CurrentDelta * item.AvgCost
		if newCurrent == 0 {
			item.TotalValue = 0
			item.AvgCost = 0
		}
	}

	item.CurrentStock = newCurrent
	item.ReservedStock = newReserved
	item.DamagedStock = newDamaged
	item.UpdatedAt = time.Now().UTC()

	if isNew {
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return Item{}, err
		}
		item.ID = id
	} else if err := tx.UpdateItem(ctx, item); err != nil {
		return Item{}, err
	}

	movement := Movement{
		ItemID:        item.ID,
		CurrentDelta:  d.CurrentDelta,
		ReservedDelta: d.ReservedDelta,
		DamagedDelta:  d.DamagedDelta,
		UnitCost:      d.UnitCost,
		RefModule:     d.RefModule,
		RefID:         d.RefID,
		Note:          d.Note,
		ActorID:       d.ActorID,
		PostedAt:      item.UpdatedAt,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return Item{}, err
	}
	return item, nil
}

// ApplyDelta posts a delta in its own transaction, for callers that do not
// already hold one (adjustments, drift repair).
func (s *Service) ApplyDelta(ctx context.Context, d Delta) (Item, error) {
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = s.Apply(ctx, tx, d)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			CompanyID: d.Key.CompanyID,
			ActorID:   d.ActorID,
			Action:    "stock:apply",
			Entity:    "stock_item",
			EntityID:  fmt.Sprintf("%d", item.ID),
			Meta: map[string]any{
				"item_code":      item.ItemCode,
				"current_delta":  d.CurrentDelta,
				"reserved_delta": d.ReservedDelta,
				"damaged_delta":  d.DamagedDelta,
				"ref":            d.RefID,
			},
		})
	}
	return item, nil
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems lists a company's items with pagination metadata.
func (s *Service) ListItems(ctx context.Context, filter ListFilter) ([]Item, shared.Pagination, error) {
	if filter.CompanyID == 0 {
		return nil, shared.Pagination{}, ErrInvalidKey
	}
	items, total, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func itemCode(key ItemKey) string {
	normalize := func(s string) string {
		return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
	}
	color := normalize(key.Color)
	if color == "" {
		color = "NA"
	}
	code := fmt.Sprintf("GREY-%s-%s-%d", normalize(key.FabricType), color, key.GSM)
	if key.Batch {
		code += "-BATCH"
	}
	return code
}

func isZero(v float64) bool {
	return math.Abs(v) < qtyEpsilon
}

func clampZero(v float64) float64 {
	if math.Abs(v) < qtyEpsilon {
		return 0
	}
	return v
}
