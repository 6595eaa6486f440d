package grn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/consignment"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/shared"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/stock"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

const retryAttempts = 3

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
	ListLots(ctx context.Context, receiptID int64) ([]Lot, error)
	SummaryEntries(ctx context.Context, companyID int64, filter SummaryFilter) ([]SummaryEntry, error)
	SummaryTotals(ctx context.Context, companyID int64, filter SummaryFilter) (SummaryTotals, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates receipt and lot operations. Every mutation recomputes
// the receipt balance and posts the matching stock delta on one transaction.
type Service struct {
	repo       RepositoryPort
	stock      *stock.Service
	consign    *consignment.Service
	locker     *shared.EntityLocker
	audit      AuditPort
	events     EventSink
	thresholds Thresholds
	logger     *slog.Logger
	summaries  singleflight.Group
}

// NewService builds Service. Thresholds come from app config.
func NewService(repo RepositoryPort, stockSvc *stock.Service, consign *consignment.Service,
	locker *shared.EntityLocker, audit AuditPort, events EventSink, thresholds Thresholds, logger *slog.Logger) *Service {
	if events == nil {
		events = LogSink{Logger: logger}
	}
	return &Service{
		repo:       repo,
		stock:      stockSvc,
		consign:    consign,
		locker:     locker,
		audit:      audit,
		events:     events,
		thresholds: thresholds,
		logger:     logger,
	}
}

// LotInput describes one lot to attach to a receipt.
type LotInput struct {
	LotNumber   string
	Quantity    uom.Quantity
	Grade       string
	CostPerUnit float64
	TotalCost   float64
	WarehouseID int64
	Location    string
}

// CreateReceiptInput describes a new receipt, optionally with opening lots.
type CreateReceiptInput struct {
	CompanyID      int64
	Number         string
	EntryType      EntryType
	MaterialSource MaterialSource
	Fabric         Fabric
	ReceivedQty    uom.Quantity
	AcceptedQty    uom.Quantity
	RejectedQty    uom.Quantity
	PORef          string
	WarehouseID    int64
	ClientName     string
	ClientOrderRef string
	Lots           []LotInput
	ActorID        int64
}

func (in CreateReceiptInput) validate() error {
	switch {
	case in.CompanyID == 0:
		return fmt.Errorf("%w: company required", ErrInvalidReceipt)
	case strings.TrimSpace(in.Number) == "":
		return fmt.Errorf("%w: receipt number required", ErrInvalidReceipt)
	case !in.EntryType.Valid():
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidReceipt, in.EntryType)
	case !in.MaterialSource.Valid():
		return fmt.Errorf("%w: unknown material source %q", ErrInvalidReceipt, in.MaterialSource)
	case strings.TrimSpace(in.Fabric.Type) == "":
		return fmt.Errorf("%w: fabric type required", ErrInvalidReceipt)
	case in.ReceivedQty.Value <= 0 || !in.ReceivedQty.Unit.Valid():
		return fmt.Errorf("%w: received quantity must be positive with a known unit", ErrInvalidReceipt)
	case in.MaterialSource == SourceClientProvided && strings.TrimSpace(in.ClientName) == "":
		return fmt.Errorf("%w: client name required for client-provided material", ErrInvalidReceipt)
	}
	return nil
}

// CreateReceipt creates the receipt, its opening lots, the consignment block
// for client-provided material and the matching stock deltas in one
// transaction, then publishes the posted event.
func (s *Service) CreateReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error) {
	if err := in.validate(); err != nil {
		return Receipt{}, err
	}
	accepted := in.AcceptedQty
	if accepted.Value == 0 {
		accepted = in.ReceivedQty
	}

	now := time.Now().UTC()
	r := Receipt{
		CompanyID:      in.CompanyID,
		Number:         strings.TrimSpace(in.Number),
		EntryType:      in.EntryType,
		MaterialSource: in.MaterialSource,
		Fabric:         in.Fabric,
		ReceivedQty:    in.ReceivedQty,
		AcceptedQty:    accepted,
		RejectedQty:    in.RejectedQty,
		PORef:          in.PORef,
		WarehouseID:    in.WarehouseID,
		Status:         StatusOutOfStock,
		Version:        1,
		CreatedBy:      in.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertReceipt(ctx, r)
		if err != nil {
			return err
		}
		r.ID = id

		lots := make([]Lot, 0, len(in.Lots))
		for _, li := range in.Lots {
			lot, err := buildLot(r.ID, li, lots)
			if err != nil {
				return err
			}
			lotID, err := tx.InsertLot(ctx, lot)
			if err != nil {
				return err
			}
			lot.ID = lotID
			lots = append(lots, lot)
			if err := s.postLotDelta(ctx, tx, r, lot, in.ActorID); err != nil {
				return err
			}
		}
		r.Balance = Recompute(lots)
		r.Status = DeriveStatus(r.Balance, s.thresholds)

		if r.MaterialSource == SourceClientProvided {
			_, err := s.consign.CreateTx(ctx, tx.Consignment(), consignment.Consignment{
				ReceiptID:      r.ID,
				CompanyID:      r.CompanyID,
				ClientName:     strings.TrimSpace(in.ClientName),
				ClientOrderRef: in.ClientOrderRef,
			}, uom.ToMeters(r.AcceptedQty), r.Number)
			if err != nil {
				return err
			}
		}
		return tx.UpdateReceipt(ctx, r)
	})
	if err != nil {
		return Receipt{}, err
	}

	s.recordAudit(ctx, r, in.ActorID, "grn:create", map[string]any{"number": r.Number, "lots": len(in.Lots)})
	if err := s.events.PublishReceiptPosted(ctx, newReceiptPostedEvent(r)); err != nil && s.logger != nil {
		s.logger.Warn("publish receipt posted", slog.Any("error", err), slog.Int64("receipt_id", r.ID))
	}
	return r, nil
}

// AddLot appends one lot, recomputes the balance and posts the inbound stock
// delta atomically.
func (s *Service) AddLot(ctx context.Context, receiptID int64, in LotInput, actorID int64) (Receipt, error) {
	release, err := s.locker.Acquire(ctx, shared.ReceiptLockKey(receiptID))
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	var r Receipt
	err = shared.WithRetry(ctx, retryAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			r, err = tx.GetReceiptForUpdate(ctx, receiptID)
			if err != nil {
				return err
			}
			if r.Deleted() {
				return ErrReceiptDeleted
			}
			lots, err := tx.ListLots(ctx, receiptID)
			if err != nil {
				return err
			}
			lot, err := buildLot(receiptID, in, lots)
			if err != nil {
				return err
			}
			lotID, err := tx.InsertLot(ctx, lot)
			if err != nil {
				return err
			}
			lot.ID = lotID
			lots = append(lots, lot)

			r.Balance = Recompute(lots)
			r.Status = DeriveStatus(r.Balance, s.thresholds)
			r.Version++
			r.UpdatedAt = time.Now().UTC()
			if err := tx.UpdateReceipt(ctx, r); err != nil {
				return err
			}
			return s.postLotDelta(ctx, tx, r, lot, actorID)
		})
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, r, actorID, "grn:add_lot", map[string]any{"lot": in.LotNumber, "qty": in.Quantity.Value, "unit": in.Quantity.Unit})
	return r, nil
}

// SetLotStatus transitions one lot and applies the status delta to company
// stock. Setting the current status again is a no-op.
func (s *Service) SetLotStatus(ctx context.Context, receiptID int64, lotNumber string, newStatus LotStatus, notes string, actorID int64) (Receipt, error) {
	if !newStatus.Valid() {
		return Receipt{}, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}
	release, err := s.locker.Acquire(ctx, shared.ReceiptLockKey(receiptID))
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	var r Receipt
	var changed bool
	err = shared.WithRetry(ctx, retryAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			r, err = tx.GetReceiptForUpdate(ctx, receiptID)
			if err != nil {
				return err
			}
			if r.Deleted() {
				return ErrReceiptDeleted
			}
			lot, err := tx.GetLotForUpdate(ctx, receiptID, lotNumber)
			if err != nil {
				return err
			}
			if lot.Status == newStatus {
				changed = false
				return nil
			}
			changed = true

			meters := lot.MetersEquivalent()
			curOld, resOld, damOld := statusDelta(lot.Status, meters)
			curNew, resNew, damNew := statusDelta(newStatus, meters)
			delta := stock.Delta{
				Key:           s.itemKey(r),
				CurrentDelta:  curNew - curOld,
				ReservedDelta: resNew - resOld,
				DamagedDelta:  damNew - damOld,
				RefModule:     "GRN",
				RefID:         fmt.Sprintf("%s/%s:%s", r.Number, lot.LotNumber, newStatus),
				Note:          notes,
				ActorID:       actorID,
			}
			if delta.CurrentDelta > 0 && meters > 0 {
				// Returning quantity to stock re-enters at the lot's own cost.
				delta.UnitCost = lot.TotalCost / meters
			}
			if !zeroDelta(delta) {
				if _, err := s.stock.Apply(ctx, tx.Stock(), delta); err != nil {
					return err
				}
			}

			if err := tx.UpdateLotStatus(ctx, lot.ID, newStatus); err != nil {
				return err
			}
			lots, err := tx.ListLots(ctx, receiptID)
			if err != nil {
				return err
			}
			for i := range lots {
				if lots[i].ID == lot.ID {
					lots[i].Status = newStatus
				}
			}
			r.Balance = Recompute(lots)
			r.Status = DeriveStatus(r.Balance, s.thresholds)
			r.Version++
			r.UpdatedAt = time.Now().UTC()
			return tx.UpdateReceipt(ctx, r)
		})
	})
	if err != nil {
		return Receipt{}, err
	}
	if changed {
		s.recordAudit(ctx, r, actorID, "grn:lot_status", map[string]any{"lot": lotNumber, "status": newStatus, "notes": notes})
	}
	return r, nil
}

// DeleteReceipt tombstones a receipt. Active lots block deletion outright;
// once any lot has moved past active the caller must pass force.
func (s *Service) DeleteReceipt(ctx context.Context, receiptID int64, force bool, actorID int64) error {
	release, err := s.locker.Acquire(ctx, shared.ReceiptLockKey(receiptID))
	if err != nil {
		return err
	}
	defer release()

	var r Receipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		r, err = tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if r.Deleted() {
			return nil
		}
		lots, err := tx.ListLots(ctx, receiptID)
		if err != nil {
			return err
		}
		for _, lot := range lots {
			if lot.Status == LotActive {
				return ErrActiveLots
			}
		}
		if len(lots) > 0 && !force {
			return ErrForceRequired
		}
		now := time.Now().UTC()
		r.DeletedAt = &now
		r.Version++
		r.UpdatedAt = now
		return tx.UpdateReceipt(ctx, r)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, r, actorID, "grn:delete", map[string]any{"force": force})
	return nil
}

// ReceiptDetail composes a receipt with its lots.
type ReceiptDetail struct {
	Receipt Receipt
	Lots    []Lot
}

// GetReceipt loads one receipt with its lots.
func (s *Service) GetReceipt(ctx context.Context, receiptID int64) (ReceiptDetail, error) {
	r, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return ReceiptDetail{}, err
	}
	lots, err := s.repo.ListLots(ctx, receiptID)
	if err != nil {
		return ReceiptDetail{}, err
	}
	return ReceiptDetail{Receipt: r, Lots: lots}, nil
}

// SummaryFilter narrows the stock summary.
type SummaryFilter struct {
	FabricType string
	Status     StockStatus
}

// SummaryEntry is one receipt row in the company stock summary.
type SummaryEntry struct {
	ReceiptID      int64
	Number         string
	FabricType     string
	Color          string
	GSM            int
	MaterialSource MaterialSource
	Status         StockStatus
	Balance        Balance
}

// SummaryTotals aggregates meters-equivalent quantities across the summary.
type SummaryTotals struct {
	Receipts        int
	TotalMeters     float64
	AvailableMeters float64
	ReservedMeters  float64
	DamagedMeters   float64
}

// StockSummary is the read-only aggregation exposed per company.
type StockSummary struct {
	Entries []SummaryEntry
	Totals  SummaryTotals
}

// GetStockSummary assembles the per-receipt summary and company totals.
// Concurrent identical requests collapse onto one repository round trip.
func (s *Service) GetStockSummary(ctx context.Context, companyID int64, filter SummaryFilter) (StockSummary, error) {
	key := fmt.Sprintf("%d|%s|%s", companyID, filter.FabricType, filter.Status)
	v, err, _ := s.summaries.Do(key, func() (any, error) {
		var summary StockSummary
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			entries, err := s.repo.SummaryEntries(gctx, companyID, filter)
			summary.Entries = entries
			return err
		})
		g.Go(func() error {
			totals, err := s.repo.SummaryTotals(gctx, companyID, filter)
			summary.Totals = totals
			return err
		})
		if err := g.Wait(); err != nil {
			return StockSummary{}, err
		}
		return summary, nil
	})
	if err != nil {
		return StockSummary{}, err
	}
	return v.(StockSummary), nil
}

// statusDelta expresses a lot status as company-stock bucket offsets relative
// to the active baseline, so a transition applies new minus old.
func statusDelta(status LotStatus, meters float64) (current, reserved, damaged float64) {
	switch status {
	case LotConsumed:
		return -meters, 0, 0
	case LotDamaged:
		return -meters, 0, meters
	case LotReserved:
		return 0, meters, 0
	default:
		return 0, 0, 0
	}
}

func zeroDelta(d stock.Delta) bool {
	const eps = 0.0001
	abs := func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	}
	return abs(d.CurrentDelta) < eps && abs(d.ReservedDelta) < eps && abs(d.DamagedDelta) < eps
}

func (s *Service) itemKey(r Receipt) stock.ItemKey {
	return stock.ItemKey{
		CompanyID:  r.CompanyID,
		FabricType: r.Fabric.Type,
		Color:      r.Fabric.Color,
		GSM:        r.Fabric.GSM,
	}
}

// postLotDelta applies a new lot's inbound quantity to company stock.
func (s *Service) postLotDelta(ctx context.Context, tx TxRepository, r Receipt, lot Lot, actorID int64) error {
	meters := lot.MetersEquivalent()
	if meters <= 0 {
		return nil
	}
	unitCost := 0.0
	if lot.TotalCost > 0 {
		unitCost = lot.TotalCost / meters
	}
	_, err := s.stock.Apply(ctx, tx.Stock(), stock.Delta{
		Key:          s.itemKey(r),
		CurrentDelta: meters,
		UnitCost:     unitCost,
		RefModule:    "GRN",
		RefID:        fmt.Sprintf("%s/%s", r.Number, lot.LotNumber),
		ActorID:      actorID,
	})
	return err
}

// buildLot validates input against the existing lots and fills derived cost.
func buildLot(receiptID int64, in LotInput, existing []Lot) (Lot, error) {
	lotNumber := strings.TrimSpace(in.LotNumber)
	if lotNumber == "" || in.Quantity.Value <= 0 || !in.Quantity.Unit.Valid() {
		return Lot{}, ErrInvalidLot
	}
	for _, lot := range existing {
		if lot.LotNumber == lotNumber {
			return Lot{}, fmt.Errorf("%w: %s", ErrDuplicateLot, lotNumber)
		}
	}
	totalCost := in.TotalCost
	if totalCost == 0 {
		totalCost = in.Quantity.Value * in.CostPerUnit
	}
	now := time.Now().UTC()
	return Lot{
		ReceiptID:   receiptID,
		LotNumber:   lotNumber,
		Quantity:    in.Quantity,
		Status:      LotActive,
		Grade:       in.Grade,
		CostPerUnit: in.CostPerUnit,
		TotalCost:   totalCost,
		WarehouseID: in.WarehouseID,
		Location:    in.Location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, r Receipt, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if actorID == 0 {
		actorID = shared.ActorFromContext(ctx)
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: r.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "grn_receipt",
		EntityID:  fmt.Sprintf("%d", r.ID),
		Meta:      meta,
	})
}
