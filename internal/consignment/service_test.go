package consignment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/stock"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

type memoryStockTx struct {
	items     map[stock.ItemKey]stock.Item
	movements []stock.Movement
	nextID    int64
}

func newMemoryStockTx() *memoryStockTx {
	return &memoryStockTx{items: make(map[stock.ItemKey]stock.Item)}
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

type memoryRepo struct {
	consignment  Consignment
	seeded       bool
	ledger       []LedgerEntry
	outputs      map[int64]Output
	receipt      ReceiptInfo
	stockTx      *memoryStockTx
	nextOutputID int64
	nextLedgerID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		outputs: make(map[int64]Output),
		stockTx: newMemoryStockTx(),
		receipt: ReceiptInfo{ID: 7, CompanyID: 1, FabricType: "cotton", Color: "grey", GSM: 120},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetByReceipt(ctx context.Context, receiptID int64) (Consignment, []Output, error) {
	if !r.seeded || r.consignment.ReceiptID != receiptID {
		return Consignment{}, nil, ErrConsignmentNotFound
	}
	outputs := make([]Output, 0, len(r.outputs))
	for _, o := range r.outputs {
		outputs = append(outputs, o)
	}
	return r.consignment, outputs, nil
}

func (r *memoryRepo) ListLedger(ctx context.Context, consignmentID int64, limit int) ([]LedgerEntry, error) {
	return r.ledger, nil
}

func (tx *memoryTx) GetByReceiptForUpdate(ctx context.Context, receiptID int64) (Consignment, error) {
	if !tx.repo.seeded || tx.repo.consignment.ReceiptID != receiptID {
		return Consignment{}, ErrConsignmentNotFound
	}
	return tx.repo.consignment, nil
}

func (tx *memoryTx) GetReceiptInfo(ctx context.Context, receiptID int64) (ReceiptInfo, error) {
	return tx.repo.receipt, nil
}

func (tx *memoryTx) InsertConsignment(ctx context.Context, c Consignment) (int64, error) {
	c.ID = 1
	tx.repo.consignment = c
	tx.repo.seeded = true
	return c.ID, nil
}

func (tx *memoryTx) UpdateTotals(ctx context.Context, c Consignment) error {
	consumption := tx.repo.consignment.Consumption
	tx.repo.consignment = c
	tx.repo.consignment.Consumption = consumption
	return nil
}

func (tx *memoryTx) UpdateConsumption(ctx context.Context, consignmentID int64, summary Consumption) error {
	tx.repo.consignment.Consumption = summary
	return nil
}

func (tx *memoryTx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	tx.repo.nextLedgerID++
	entry.ID = tx.repo.nextLedgerID
	tx.repo.ledger = append(tx.repo.ledger, entry)
	return nil
}

func (tx *memoryTx) InsertOutput(ctx context.Context, output Output) (int64, error) {
	tx.repo.nextOutputID++
	output.ID = tx.repo.nextOutputID
	tx.repo.outputs[output.ID] = output
	return output.ID, nil
}

func (tx *memoryTx) GetOutputForUpdate(ctx context.Context, consignmentID, outputID int64) (Output, error) {
	if o, ok := tx.repo.outputs[outputID]; ok {
		return o, nil
	}
	return Output{}, ErrOutputNotFound
}

func (tx *memoryTx) UpdateOutput(ctx context.Context, output Output) error {
	tx.repo.outputs[output.ID] = output
	return nil
}

func (tx *memoryTx) Stock() stock.TxRepository {
	return tx.repo.stockTx
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, stock.NewService(nil, nil), nil, nil)
}

func seedConsignment(t *testing.T, svc *Service, repo *memoryRepo, received float64) Consignment {
	t.Helper()
	var c Consignment
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		c, err = svc.CreateTx(ctx, tx, Consignment{
			ReceiptID:  7,
			CompanyID:  1,
			ClientName: "Arrow Mills",
		}, received, "GRN-7")
		return err
	})
	require.NoError(t, err)
	return c
}

func TestConsignmentRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedConsignment(t, svc, repo, 1000)
	require.InDelta(t, 1000, c.CurrentBalance, 0.0001)
	require.Len(t, repo.ledger, 1)
	require.Equal(t, TxnReceived, repo.ledger[0].Kind)

	c, err := svc.UpdateConsumption(ctx, 7, 600, 50, "first run")
	require.NoError(t, err)
	require.InDelta(t, 350, c.CurrentBalance, 0.0001)
	require.InDelta(t, 350, c.Consumption.ReturnableQty, 0.0001)
	require.False(t, c.Consumption.ShortfallFlag)

	output, err := svc.AddProductionOutput(ctx, 7, OutputInput{
		Quantity:      uom.Quantity{Value: 300, Unit: uom.UnitMeters},
		OutputType:    OutputFinished,
		Grade:         "A",
		ElongationPct: 2.5,
		ProductionRef: "RUN-12",
	})
	require.NoError(t, err)
	require.Equal(t, DispositionPending, output.Disposition)

	resolved, err := svc.ResolveProductionOutput(ctx, 7, output.ID, ResolveInput{
		Disposition: DispositionKeptAsStock,
		UnitCost:    42,
	})
	require.NoError(t, err)
	require.Equal(t, DispositionKeptAsStock, resolved.Disposition)
	require.InDelta(t, 300, resolved.KeptQty, 0.0001)
	require.NotNil(t, resolved.ResolvedAt)

	// received, consumed, waste, kept
	require.Len(t, repo.ledger, 4)
	require.InDelta(t, 50, repo.consignment.CurrentBalance, 0.0001)
	require.True(t, repo.consignment.BalanceConsistent())

	item, ok := repo.stockTx.items[stock.ItemKey{CompanyID: 1, FabricType: "cotton", Color: "grey", GSM: 120, Batch: true}]
	require.True(t, ok)
	require.InDelta(t, 300, item.CurrentStock, 0.0001)
	require.True(t, item.BatchOutput)
	require.Equal(t, "Arrow Mills", item.SourceClient)
	require.Equal(t, int64(7), item.SourceReceipt)
	require.InDelta(t, 2.5, item.ElongationPct, 0.0001)
}

func TestRecordTransactionGuardsBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedConsignment(t, svc, repo, 100)

	_, err := svc.RecordTransaction(ctx, 7, TxnConsumed, 150, "RUN-1", "")
	require.ErrorIs(t, err, ErrNegativeBalance)

	_, err = svc.RecordTransaction(ctx, 7, TxnConsumed, -5, "RUN-1", "")
	require.ErrorIs(t, err, ErrNegativeQuantity)

	_, err = svc.RecordTransaction(ctx, 7, TxnKind("donated"), 5, "RUN-1", "")
	require.ErrorIs(t, err, ErrInvalidKind)

	// Negative adjustments are allowed while the balance stays non-negative.
	c, err := svc.RecordTransaction(ctx, 7, TxnAdjustment, -20, "STOCKTAKE", "count correction")
	require.NoError(t, err)
	require.InDelta(t, 80, c.CurrentBalance, 0.0001)
	require.True(t, c.BalanceConsistent())
}

func TestUpdateConsumptionIsCumulative(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedConsignment(t, svc, repo, 500)

	c, err := svc.UpdateConsumption(ctx, 7, 200, 10, "")
	require.NoError(t, err)
	require.InDelta(t, 290, c.CurrentBalance, 0.0001)

	// Second report repeats earlier numbers plus the new run; only the
	// increase hits the ledger.
	c, err = svc.UpdateConsumption(ctx, 7, 350, 15, "")
	require.NoError(t, err)
	require.InDelta(t, 135, c.CurrentBalance, 0.0001)
	require.InDelta(t, 350, c.TotalConsumed, 0.0001)

	_, err = svc.UpdateConsumption(ctx, 7, 300, 15, "")
	require.ErrorIs(t, err, ErrNegativeQuantity)
}

func TestUpdateConsumptionShortfallClampsAndFlags(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedConsignment(t, svc, repo, 100)

	c, err := svc.UpdateConsumption(ctx, 7, 90, 20, "reported above received")
	require.NoError(t, err)
	require.True(t, c.Consumption.ShortfallFlag)
	require.InDelta(t, 0, c.Consumption.ReturnableQty, 0.0001)
	require.InDelta(t, 0, c.CurrentBalance, 0.0001)
	require.True(t, c.BalanceConsistent())
}

func TestResolveOutputStateMachine(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedConsignment(t, svc, repo, 1000)

	output, err := svc.AddProductionOutput(ctx, 7, OutputInput{
		Quantity:   uom.Quantity{Value: 200, Unit: uom.UnitMeters},
		OutputType: OutputFinished,
	})
	require.NoError(t, err)

	_, err = svc.ResolveProductionOutput(ctx, 7, output.ID, ResolveInput{
		Disposition:  DispositionReturnedToClient,
		ClientRetQty: 150,
		KeptQty:      100,
	})
	require.ErrorIs(t, err, ErrDispositionExceedsOutput)

	resolved, err := svc.ResolveProductionOutput(ctx, 7, output.ID, ResolveInput{
		Disposition:  DispositionReturnedToClient,
		ClientRetQty: 150,
		KeptQty:      50,
		UnitCost:     30,
	})
	require.NoError(t, err)
	require.InDelta(t, 150, resolved.ClientRetQty, 0.0001)
	require.InDelta(t, 50, resolved.KeptQty, 0.0001)

	_, err = svc.ResolveProductionOutput(ctx, 7, output.ID, ResolveInput{
		Disposition: DispositionKeptAsStock,
	})
	require.ErrorIs(t, err, ErrAlreadyResolved)

	require.InDelta(t, 150, repo.consignment.TotalReturned, 0.0001)
	require.InDelta(t, 50, repo.consignment.TotalKept, 0.0001)
	require.True(t, repo.consignment.BalanceConsistent())
}

func TestResolveOutputConvertsYardsToMeters(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	seedConsignment(t, svc, repo, 1000)

	output, err := svc.AddProductionOutput(ctx, 7, OutputInput{
		Quantity:   uom.Quantity{Value: 100, Unit: uom.UnitYards},
		OutputType: OutputFinished,
	})
	require.NoError(t, err)

	_, err = svc.ResolveProductionOutput(ctx, 7, output.ID, ResolveInput{
		Disposition: DispositionKeptAsStock,
		UnitCost:    10,
	})
	require.NoError(t, err)

	item := repo.stockTx.items[stock.ItemKey{CompanyID: 1, FabricType: "cotton", Color: "grey", GSM: 120, Batch: true}]
	require.InDelta(t, 91.44, item.CurrentStock, 0.0001)
	require.InDelta(t, 91.44, repo.consignment.TotalKept, 0.0001)
}
