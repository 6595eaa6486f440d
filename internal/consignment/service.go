package consignment

import (
	"context"
	"fmt"
	"time"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/shared"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/stock"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

const (
	balanceEpsilon = 0.0001
	retryAttempts  = 3
)

// ReceiptInfo carries the receipt fields needed to key stock items for
// kept-as-stock output.
type ReceiptInfo struct {
	ID         int64
	CompanyID  int64
	FabricType string
	Color      string
	GSM        int
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByReceipt(ctx context.Context, receiptID int64) (Consignment, []Output, error)
	ListLedger(ctx context.Context, consignmentID int64, limit int) ([]LedgerEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates consignment ledger operations.
type Service struct {
	repo   RepositoryPort
	stock  *stock.Service
	locker *shared.EntityLocker
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, stockSvc *stock.Service, locker *shared.EntityLocker, audit AuditPort) *Service {
	return &Service{repo: repo, stock: stockSvc, locker: locker, audit: audit}
}

// CreateTx inserts a consignment block on the caller's transaction, posting
// the opening received entry when receivedQty is positive. Used by receipt
// creation so both rows land in one unit of work.
func (s *Service) CreateTx(ctx context.Context, tx TxRepository, c Consignment, receivedQty float64, reference string) (Consignment, error) {
	if c.ReceiptID == 0 || c.CompanyID == 0 {
		return Consignment{}, fmt.Errorf("consignment: receipt and company required")
	}
	if c.ClientName == "" {
		return Consignment{}, fmt.Errorf("consignment: client name required")
	}
	id, err := tx.InsertConsignment(ctx, c)
	if err != nil {
		return Consignment{}, err
	}
	c.ID = id
	if receivedQty > 0 {
		if err := s.recordTx(ctx, tx, &c, TxnReceived, receivedQty, reference, "opening balance"); err != nil {
			return Consignment{}, err
		}
	}
	return c, nil
}

// RecordTransaction appends one ledger entry and moves the running balance.
func (s *Service) RecordTransaction(ctx context.Context, receiptID int64, kind TxnKind, qty float64, reference, notes string) (Consignment, error) {
	if !kind.Valid() {
		return Consignment{}, ErrInvalidKind
	}
	if qty < 0 && kind != TxnAdjustment {
		return Consignment{}, ErrNegativeQuantity
	}
	release, err := s.locker.Acquire(ctx, shared.ConsignmentLockKey(receiptID))
	if err != nil {
		return Consignment{}, err
	}
	defer release()

	var c Consignment
	err = shared.WithRetry(ctx, retryAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			c, err = tx.GetByReceiptForUpdate(ctx, receiptID)
			if err != nil {
				return err
			}
			return s.recordTx(ctx, tx, &c, kind, qty, reference, notes)
		})
	})
	if err != nil {
		return Consignment{}, err
	}
	s.recordAudit(ctx, c, fmt.Sprintf("consignment:%s", kind), map[string]any{"qty": qty, "reference": reference})
	return c, nil
}

// UpdateConsumption sets the consumption summary and posts ledger entries for
// the increase since the previous report. Quantities are cumulative; when the
// reported numbers exceed the consigned balance the posted entries are clamped
// and the shortfall flag is raised instead of failing, because production
// reporting is allowed to disagree with the ledger. This is a deliberate
// exception to the overdraft rule RecordTransaction enforces, which rejects
// any entry that would drive the balance negative.
func (s *Service) UpdateConsumption(ctx context.Context, receiptID int64, consumedQty, wasteQty float64, notes string) (Consignment, error) {
	if consumedQty < 0 || wasteQty < 0 {
		return Consignment{}, ErrNegativeQuantity
	}
	release, err := s.locker.Acquire(ctx, shared.ConsignmentLockKey(receiptID))
	if err != nil {
		return Consignment{}, err
	}
	defer release()

	var c Consignment
	err = shared.WithRetry(ctx, retryAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			c, err = tx.GetByReceiptForUpdate(ctx, receiptID)
			if err != nil {
				return err
			}
			consumedDelta := consumedQty - c.Consumption.ConsumedQty
			wasteDelta := wasteQty - c.Consumption.WasteQty
			if consumedDelta < -balanceEpsilon || wasteDelta < -balanceEpsilon {
				return ErrNegativeQuantity
			}

			shortfall := false
			reference := fmt.Sprintf("CONSUMPTION-%d", receiptID)
			post := func(kind TxnKind, delta float64) error {
				if delta <= balanceEpsilon {
					return nil
				}
				qty := delta
				if qty > c.CurrentBalance {
					qty = c.CurrentBalance
					shortfall = true
				}
				if qty <= balanceEpsilon {
					return nil
				}
				return s.recordTx(ctx, tx, &c, kind, qty, reference, notes)
			}
			if err := post(TxnConsumed, consumedDelta); err != nil {
				return err
			}
			if err := post(TxnWaste, wasteDelta); err != nil {
				return err
			}

			summary := Consumption{
				ConsumedQty:    consumedQty,
				WasteQty:       wasteQty,
				ReturnableQty:  c.TotalReceived - consumedQty - wasteQty,
				ShortfallFlag:  shortfall,
				Notes:          notes,
				LastRecordedAt: time.Now().UTC(),
			}
			if summary.ReturnableQty < 0 {
				summary.ReturnableQty = 0
				summary.ShortfallFlag = true
			}
			c.Consumption = summary
			return tx.UpdateConsumption(ctx, c.ID, summary)
		})
	})
	if err != nil {
		return Consignment{}, err
	}
	s.recordAudit(ctx, c, "consignment:consumption", map[string]any{"consumed": consumedQty, "waste": wasteQty})
	return c, nil
}

// OutputInput describes a new production output.
type OutputInput struct {
	Quantity      uom.Quantity
	OutputType    OutputType
	Grade         string
	ElongationPct float64
	ProductionRef string
	Notes         string
}

// AddProductionOutput records what a production run produced.
func (s *Service) AddProductionOutput(ctx context.Context, receiptID int64, input OutputInput) (Output, error) {
	if input.Quantity.Value <= 0 || !input.Quantity.Unit.Valid() {
		return Output{}, ErrInvalidOutput
	}
	if !input.OutputType.Valid() {
		return Output{}, ErrInvalidOutput
	}
	var created Output
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetByReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		created = Output{
			ConsignmentID: c.ID,
			Quantity:      input.Quantity,
			OutputType:    input.OutputType,
			Grade:         input.Grade,
			Disposition:   DispositionPending,
			ElongationPct: input.ElongationPct,
			ProductionRef: input.ProductionRef,
			Notes:         input.Notes,
			CreatedAt:     time.Now().UTC(),
		}
		id, err := tx.InsertOutput(ctx, created)
		if err != nil {
			return err
		}
		created.ID = id
		return nil
	})
	if err != nil {
		return Output{}, err
	}
	return created, nil
}

// ResolveInput carries the disposition decision for one output.
type ResolveInput struct {
	Disposition  Disposition
	ClientRetQty float64
	KeptQty      float64
	UnitCost     float64
	ActorID      int64
	Notes        string
}

// ResolveProductionOutput advances the output state machine. Kept-as-stock
// posts a ledger entry and creates or updates a company stock item carrying
// the consignment provenance; returned-to-client posts the ledger entry only.
func (s *Service) ResolveProductionOutput(ctx context.Context, receiptID, outputID int64, input ResolveInput) (Output, error) {
	switch input.Disposition {
	case DispositionCompleted, DispositionReturnedToClient, DispositionKeptAsStock:
	default:
		return Output{}, ErrInvalidDisposition
	}
	if input.ClientRetQty < 0 || input.KeptQty < 0 {
		return Output{}, ErrNegativeQuantity
	}
	release, err := s.locker.Acquire(ctx, shared.ConsignmentLockKey(receiptID))
	if err != nil {
		return Output{}, err
	}
	defer release()

	var resolved Output
	err = shared.WithRetry(ctx, retryAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			c, err := tx.GetByReceiptForUpdate(ctx, receiptID)
			if err != nil {
				return err
			}
			output, err := tx.GetOutputForUpdate(ctx, c.ID, outputID)
			if err != nil {
				return err
			}
			if output.Disposition.Terminal() {
				return ErrAlreadyResolved
			}

			if input.Disposition == DispositionCompleted {
				output.Disposition = DispositionCompleted
				resolved = output
				return tx.UpdateOutput(ctx, output)
			}

			retQty := input.ClientRetQty
			keptQty := input.KeptQty
			if retQty == 0 && keptQty == 0 {
				// Quantities omitted: the named disposition takes the whole output.
				if input.Disposition == DispositionKeptAsStock {
					keptQty = output.Quantity.Value
				} else {
					retQty = output.Quantity.Value
				}
			}
			if retQty+keptQty > output.Quantity.Value+balanceEpsilon {
				return ErrDispositionExceedsOutput
			}

			reference := fmt.Sprintf("OUTPUT-%d", output.ID)
			if retQty > 0 {
				meters := uom.ToMeters(uom.Quantity{Value: retQty, Unit: output.Quantity.Unit})
				if err := s.recordTx(ctx, tx, &c, TxnReturned, meters, reference, input.Notes); err != nil {
					return err
				}
			}
			if keptQty > 0 {
				meters := uom.ToMeters(uom.Quantity{Value: keptQty, Unit: output.Quantity.Unit})
				if err := s.recordTx(ctx, tx, &c, TxnKeptAsStock, meters, reference, input.Notes); err != nil {
					return err
				}
				receipt, err := tx.GetReceiptInfo(ctx, receiptID)
				if err != nil {
					return err
				}
				_, err = s.stock.Apply(ctx, tx.Stock(), stock.Delta{
					Key: stock.ItemKey{
						CompanyID:  receipt.CompanyID,
						FabricType: receipt.FabricType,
						Color:      receipt.Color,
						GSM:        receipt.GSM,
						Batch:      true,
					},
					CurrentDelta: meters,
					UnitCost:     input.UnitCost,
					RefModule:    "CONSIGNMENT",
					RefID:        reference,
					Note:         fmt.Sprintf("kept as stock from receipt %d", receiptID),
					ActorID:      input.ActorID,
					Provenance: &stock.Provenance{
						ReceiptID:     receiptID,
						ClientName:    c.ClientName,
						ElongationPct: output.ElongationPct,
					},
				})
				if err != nil {
					return err
				}
			}

			now := time.Now().UTC()
			output.Disposition = input.Disposition
			output.ClientRetQty = retQty
			output.KeptQty = keptQty
			output.ResolvedAt = &now
			resolved = output
			return tx.UpdateOutput(ctx, output)
		})
	})
	if err != nil {
		return Output{}, err
	}
	return resolved, nil
}

// GetByReceipt loads the consignment block with its outputs and history refs.
func (s *Service) GetByReceipt(ctx context.Context, receiptID int64) (Consignment, []Output, error) {
	return s.repo.GetByReceipt(ctx, receiptID)
}

// Ledger lists the transaction history for the receipt's consignment.
func (s *Service) Ledger(ctx context.Context, receiptID int64, limit int) ([]LedgerEntry, error) {
	c, _, err := s.repo.GetByReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLedger(ctx, c.ID, limit)
}

// recordTx is the single append path for ledger entries: it moves the
// matching total, guards the balance and writes the history row.
func (s *Service) recordTx(ctx context.Context, tx TxRepository, c *Consignment, kind TxnKind, qty float64, reference, notes string) error {
	if !kind.Valid() {
		return ErrInvalidKind
	}
	if qty < 0 && kind != TxnAdjustment {
		return ErrNegativeQuantity
	}

	switch kind {
	case TxnReceived:
		c.TotalReceived += qty
	case TxnConsumed:
		c.TotalConsumed += qty
	case TxnWaste:
		c.TotalWaste += qty
	case TxnReturned:
		c.TotalReturned += qty
	case TxnKeptAsStock:
		c.TotalKept += qty
	case TxnAdjustment:
		// Signed corrections fold into the received total so the balance
		// identity keeps holding.
		c.TotalReceived += qty
	}
	if kind.additive() {
		c.CurrentBalance += qty
	} else {
		c.CurrentBalance -= qty
	}
	if c.CurrentBalance < -balanceEpsilon {
		return ErrNegativeBalance
	}
	c.UpdatedAt = time.Now().UTC()

	if err := tx.UpdateTotals(ctx, *c); err != nil {
		return err
	}
	return tx.InsertLedgerEntry(ctx, LedgerEntry{
		ConsignmentID: c.ID,
		Kind:          kind,
		Quantity:      qty,
		BalanceAfter:  c.CurrentBalance,
		Reference:     reference,
		Notes:         notes,
		At:            c.UpdatedAt,
	})
}

func (s *Service) recordAudit(ctx context.Context, c Consignment, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: c.CompanyID,
		ActorID:   shared.ActorFromContext(ctx),
		Action:    action,
		Entity:    "consignment",
		EntityID:  fmt.Sprintf("%d", c.ID),
		Meta:      meta,
	})
}
