package grn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/consignment"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/stock"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

type memoryStockTx struct {
	items     map[stock.ItemKey]stock.Item
	movements []stock.Movement
	nextID    int64
}

func (tx *memoryStockTx) GetItemForUpdate(ctx context.Context, key stock.ItemKey) (stock.Item, error) {
	if item, ok := tx.items[key]; ok {
		return item, nil
	}
	return stock.Item{}, stock.ErrItemNotFound
}

func (tx *memoryStockTx) InsertItem(ctx context.Context, item stock.Item) (int64, error) {
	tx.nextID++
	item.ID = tx.nextID
	tx.items[stock.ItemKey{CompanyID: item.CompanyID, FabricType: item.FabricType, Color: item.Color, GSM: item.GSM, Batch: item.BatchOutput}] = item
	return item.ID, nil
}

func (tx *memoryStockTx) UpdateItem(ctx context.Context, item stock.Item) error {
	tx.items[stock.ItemKey{CompanyID: item.CompanyID, FabricType: item.FabricType, Color: item.Color, GSM: item.GSM, Batch: item.BatchOutput}] = item
	return nil
}

func (tx *memoryStockTx) InsertMovement(ctx context.Context, movement stock.Movement) error {
	tx.movements = append(tx.movements, movement)
	return nil
}

type memoryConsignTx struct {
	consignment consignment.Consignment
	seeded      bool
	ledger      []consignment.LedgerEntry
}

func (tx *memoryConsignTx) GetByReceiptForUpdate(ctx context.Context, receiptID int64) (consignment.Consignment, error) {
	if !tx.seeded {
		return consignment.Consignment{}, consignment.ErrConsignmentNotFound
	}
	return tx.consignment, nil
}

func (tx *memoryConsignTx) GetReceiptInfo(ctx context.Context, receiptID int64) (consignment.ReceiptInfo, error) {
	return consignment.ReceiptInfo{}, consignment.ErrConsignmentNotFound
}

func (tx *memoryConsignTx) InsertConsignment(ctx context.Context, c consignment.Consignment) (int64, error) {
	c.ID = 1
	tx.consignment = c
	tx.seeded = true
	return c.ID, nil
}

func (tx *memoryConsignTx) UpdateTotals(ctx context.Context, c consignment.Consignment) error {
	tx.consignment = c
	return nil
}

func (tx *memoryConsignTx) UpdateConsumption(ctx context.Context, consignmentID int64, summary consignment.Consumption) error {
	tx.consignment.Consumption = summary
	return nil
}

func (tx *memoryConsignTx) InsertLedgerEntry(ctx context.Context, entry consignment.LedgerEntry) error {
	tx.ledger = append(tx.ledger, entry)
	return nil
}

func (tx *memoryConsignTx) InsertOutput(ctx context.Context, output consignment.Output) (int64, error) {
	return 0, consignment.ErrInvalidOutput
}

func (tx *memoryConsignTx) GetOutputForUpdate(ctx context.Context, consignmentID, outputID int64) (consignment.Output, error) {
	return consignment.Output{}, consignment.ErrOutputNotFound
}

func (tx *memoryConsignTx) UpdateOutput(ctx context.Context, output consignment.Output) error {
	return nil
}

func (tx *memoryConsignTx) Stock() stock.TxRepository {
	return nil
}

type memoryRepo struct {
	receipts      map[int64]Receipt
	lots          map[int64][]Lot
	nextReceiptID int64
	nextLotID     int64
	stockTx       *memoryStockTx
	consignTx     *memoryConsignTx
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		receipts:  make(map[int64]Receipt),
		lots:      make(map[int64][]Lot),
		stockTx:   &memoryStockTx{items: make(map[stock.ItemKey]stock.Item)},
		consignTx: &memoryConsignTx{},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	if receipt, ok := r.receipts[id]; ok {
		return receipt, nil
	}
	return Receipt{}, ErrReceiptNotFound
}

func (r *memoryRepo) ListLots(ctx context.Context, receiptID int64) ([]Lot, error) {
	return append([]Lot(nil), r.lots[receiptID]...), nil
}

func (r *memoryRepo) SummaryEntries(ctx context.Context, companyID int64, filter SummaryFilter) ([]SummaryEntry, error) {
	entries := []SummaryEntry{}
	for _, receipt := range r.receipts {
		if receipt.CompanyID != companyID || receipt.Deleted() {
			continue
		}
		entries = append(entries, SummaryEntry{
			ReceiptID:  receipt.ID,
			Number:     receipt.Number,
			FabricType: receipt.Fabric.Type,
			Status:     receipt.Status,
			Balance:    receipt.Balance,
		})
	}
	return entries, nil
}

func (r *memoryRepo) SummaryTotals(ctx context.Context, companyID int64, filter SummaryFilter) (SummaryTotals, error) {
	var t SummaryTotals
	for _, receipt := range r.receipts {
		if receipt.CompanyID != companyID || receipt.Deleted() {
			continue
		}
		t.Receipts++
		for _, l := range r.lots[receipt.ID] {
			m := l.MetersEquivalent()
			switch l.Status {
			case LotActive:
				t.TotalMeters += m
				t.AvailableMeters += m
			case LotReserved:
				t.TotalMeters += m
				t.ReservedMeters += m
			case LotDamaged:
				t.TotalMeters += m
				t.DamagedMeters += m
			}
		}
	}
	return t, nil
}

func (tx *memoryTx) GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error) {
	return tx.repo.GetReceipt(ctx, id)
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	for _, existing := range tx.repo.receipts {
		if existing.Number == receipt.Number {
			return 0, ErrDuplicateNumber
		}
	}
	tx.repo.nextReceiptID++
	receipt.ID = tx.repo.nextReceiptID
	tx.repo.receipts[receipt.ID] = receipt
	return receipt.ID, nil
}

func (tx *memoryTx) UpdateReceipt(ctx context.Context, receipt Receipt) error {
	tx.repo.receipts[receipt.ID] = receipt
	return nil
}

func (tx *memoryTx) ListLots(ctx context.Context, receiptID int64) ([]Lot, error) {
	return tx.repo.ListLots(ctx, receiptID)
}

func (tx *memoryTx) GetLotForUpdate(ctx context.Context, receiptID int64, lotNumber string) (Lot, error) {
	for _, l := range tx.repo.lots[receiptID] {
		if l.LotNumber == lotNumber {
			return l, nil
		}
	}
	return Lot{}, ErrLotNotFound
}

func (tx *memoryTx) InsertLot(ctx context.Context, l Lot) (int64, error) {
	tx.repo.nextLotID++
	l.ID = tx.repo.nextLotID
	tx.repo.lots[l.ReceiptID] = append(tx.repo.lots[l.ReceiptID], l)
	return l.ID, nil
}

func (tx *memoryTx) UpdateLotStatus(ctx context.Context, lotID int64, status LotStatus) error {
	for receiptID, lots := range tx.repo.lots {
		for i := range lots {
			if lots[i].ID == lotID {
				lots[i].Status = status
				tx.repo.lots[receiptID] = lots
				return nil
			}
		}
	}
	return ErrLotNotFound
}

func (tx *memoryTx) Stock() stock.TxRepository {
	return tx.repo.stockTx
}

func (tx *memoryTx) Consignment() consignment.TxRepository {
	return tx.repo.consignTx
}

func newTestService(repo *memoryRepo) *Service {
	consignSvc := consignment.NewService(nil, nil, nil, nil)
	return NewService(repo, stock.NewService(nil, nil), consignSvc, nil, nil, nil, DefaultThresholds(), nil)
}

func baseReceiptInput() CreateReceiptInput {
	return CreateReceiptInput{
		CompanyID:      1,
		Number:         "GRN-001",
		EntryType:      EntryDirectStock,
		MaterialSource: SourceOwn,
		Fabric:         Fabric{Type: "cotton", Color: "grey", GSM: 120},
		ReceivedQty:    uom.Quantity{Value: 500, Unit: uom.UnitMeters},
		ActorID:        9,
	}
}

func greyItem(repo *memoryRepo) (stock.Item, bool) {
	item, ok := repo.stockTx.items[stock.ItemKey{CompanyID: 1, FabricType: "cotton", Color: "grey", GSM: 120}]
	return item, ok
}

func TestCreateReceiptWithOpeningLots(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	in := baseReceiptInput()
	in.Lots = []LotInput{{
		LotNumber:   "LOT-001",
		Quantity:    uom.Quantity{Value: 500, Unit: uom.UnitMeters},
		CostPerUnit: 40,
	}}
	r, err := svc.CreateReceipt(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, StatusActive, r.Status)
	require.InDelta(t, 500, r.Balance.Meters.Available, 0.0001)
	require.True(t, r.Balance.Consistent())

	item, ok := greyItem(repo)
	require.True(t, ok)
	require.InDelta(t, 500, item.CurrentStock, 0.0001)
	require.InDelta(t, 40, item.AvgCost, 0.0001)
}

func TestCreateReceiptValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	in := baseReceiptInput()
	in.Number = ""
	_, err := svc.CreateReceipt(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidReceipt)

	in = baseReceiptInput()
	in.MaterialSource = SourceClientProvided
	_, err = svc.CreateReceipt(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidReceipt)

	in = baseReceiptInput()
	in.ReceivedQty = uom.Quantity{Value: -5, Unit: uom.UnitMeters}
	_, err = svc.CreateReceipt(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestCreateClientProvidedOpensConsignment(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	in := baseReceiptInput()
	in.MaterialSource = SourceClientProvided
	in.ClientName = "Arrow Mills"
	in.ReceivedQty = uom.Quantity{Value: 1000, Unit: uom.UnitMeters}
	r, err := svc.CreateReceipt(context.Background(), in)
	require.NoError(t, err)

	require.True(t, repo.consignTx.seeded)
	c := repo.consignTx.consignment
	require.Equal(t, r.ID, c.ReceiptID)
	require.Equal(t, "Arrow Mills", c.ClientName)
	require.InDelta(t, 1000, c.CurrentBalance, 0.0001)
	require.Len(t, repo.consignTx.ledger, 1)
	require.Equal(t, consignment.TxnReceived, repo.consignTx.ledger[0].Kind)
	require.True(t, c.BalanceConsistent())
}

func TestAddLotRejectsDuplicateNumber(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	r, err := svc.CreateReceipt(ctx, baseReceiptInput())
	require.NoError(t, err)

	lotIn := LotInput{LotNumber: "LOT-001", Quantity: uom.Quantity{Value: 100, Unit: uom.UnitMeters}, CostPerUnit: 10}
	r, err = svc.AddLot(ctx, r.ID, lotIn, 9)
	require.NoError(t, err)
	before := r.Balance

	_, err = svc.AddLot(ctx, r.ID, lotIn, 9)
	require.ErrorIs(t, err, ErrDuplicateLot)

	// Surrounding whitespace does not disguise a duplicate.
	padded := lotIn
	padded.LotNumber = " LOT-001 "
	_, err = svc.AddLot(ctx, r.ID, padded, 9)
	require.ErrorIs(t, err, ErrDuplicateLot)

	after, err := svc.GetReceipt(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, before, after.Receipt.Balance)

	item, _ := greyItem(repo)
	require.InDelta(t, 100, item.CurrentStock, 0.0001)
	require.Len(t, repo.stockTx.movements, 1)
}

func TestFullLifecycleDamagedTransitionMovesStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	r, err := svc.CreateReceipt(ctx, baseReceiptInput())
	require.NoError(t, err)
	require.Equal(t, StatusOutOfStock, r.Status)

	r, err = svc.AddLot(ctx, r.ID, LotInput{
		LotNumber:   "LOT-001",
		Quantity:    uom.Quantity{Value: 500, Unit: uom.UnitMeters},
		CostPerUnit: 40,
	}, 9)
	require.NoError(t, err)
	require.Equal(t, StatusActive, r.Status)
	require.InDelta(t, 500, r.Balance.Meters.Available, 0.0001)

	item, _ := greyItem(repo)
	require.InDelta(t, 500, item.CurrentStock, 0.0001)

	r, err = svc.SetLotStatus(ctx, r.ID, "LOT-001", LotDamaged, "loom fault", 9)
	require.NoError(t, err)
	require.InDelta(t, 0, r.Balance.Meters.Available, 0.0001)
	require.InDelta(t, 500, r.Balance.Meters.Damaged, 0.0001)
	require.Equal(t, StatusConsumed, r.Status)
	require.True(t, r.Balance.Consistent())

	// Stock current drops at the damaged transition, not at lot creation.
	item, _ = greyItem(repo)
	require.InDelta(t, 0, item.CurrentStock, 0.0001)
	require.InDelta(t, 500, item.DamagedStock, 0.0001)

	// Reverting the transition restores the buckets.
	r, err = svc.SetLotStatus(ctx, r.ID, "LOT-001", LotActive, "", 9)
	require.NoError(t, err)
	require.InDelta(t, 500, r.Balance.Meters.Available, 0.0001)
	item, _ = greyItem(repo)
	require.InDelta(t, 500, item.CurrentStock, 0.0001)
	require.InDelta(t, 0, item.DamagedStock, 0.0001)
}

func TestSetLotStatusNoOpIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	r, err := svc.CreateReceipt(ctx, baseReceiptInput())
	require.NoError(t, err)
	r, err = svc.AddLot(ctx, r.ID, LotInput{
		LotNumber: "LOT-001",
		Quantity:  uom.Quantity{Value: 200, Unit: uom.UnitMeters},
	}, 9)
	require.NoError(t, err)
	movementsBefore := len(repo.stockTx.movements)
	balanceBefore := r.Balance

	r, err = svc.SetLotStatus(ctx, r.ID, "LOT-001", LotActive, "", 9)
	require.NoError(t, err)
	require.Equal(t, balanceBefore, r.Balance)
	require.Len(t, repo.stockTx.movements, movementsBefore)
}

func TestSetLotStatusRejectsUnknown(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.SetLotStatus(context.Background(), 1, "LOT-001", LotStatus("melted"), "", 9)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDeleteReceiptGuards(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	r, err := svc.CreateReceipt(ctx, baseReceiptInput())
	require.NoError(t, err)
	r, err = svc.AddLot(ctx, r.ID, LotInput{
		LotNumber: "LOT-001",
		Quantity:  uom.Quantity{Value: 100, Unit: uom.UnitMeters},
	}, 9)
	require.NoError(t, err)

	err = svc.DeleteReceipt(ctx, r.ID, false, 9)
	require.ErrorIs(t, err, ErrActiveLots)

	_, err = svc.SetLotStatus(ctx, r.ID, "LOT-001", LotConsumed, "", 9)
	require.NoError(t, err)

	err = svc.DeleteReceipt(ctx, r.ID, false, 9)
	require.ErrorIs(t, err, ErrForceRequired)

	err = svc.DeleteReceipt(ctx, r.ID, true, 9)
	require.NoError(t, err)

	detail, err := svc.GetReceipt(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, detail.Receipt.Deleted())

	_, err = svc.AddLot(ctx, r.ID, LotInput{
		LotNumber: "LOT-002",
		Quantity:  uom.Quantity{Value: 50, Unit: uom.UnitMeters},
	}, 9)
	require.ErrorIs(t, err, ErrReceiptDeleted)
}

func TestDeleteEmptyReceiptNeedsNoForce(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	r, err := svc.CreateReceipt(ctx, baseReceiptInput())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteReceipt(ctx, r.ID, false, 9))
}

func TestGetStockSummary(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	r, err := svc.CreateReceipt(ctx, baseReceiptInput())
	require.NoError(t, err)
	_, err = svc.AddLot(ctx, r.ID, LotInput{
		LotNumber: "LOT-001",
		Quantity:  uom.Quantity{Value: 100, Unit: uom.UnitYards},
	}, 9)
	require.NoError(t, err)

	summary, err := svc.GetStockSummary(ctx, 1, SummaryFilter{})
	require.NoError(t, err)
	require.Len(t, summary.Entries, 1)
	require.Equal(t, 1, summary.Totals.Receipts)
	require.InDelta(t, 91.44, summary.Totals.AvailableMeters, 0.0001)
}
