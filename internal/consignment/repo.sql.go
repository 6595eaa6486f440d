package consignment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/stock"
)

// Repository persists consignment data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetByReceiptForUpdate(ctx context.Context, receiptID int64) (Consignment, error)
	GetReceiptInfo(ctx context.Context, receiptID int64) (ReceiptInfo, error)
	InsertConsignment(ctx context.Context, c Consignment) (int64, error)
	UpdateTotals(ctx context.Context, c Consignment) error
	UpdateConsumption(ctx context.Context, consignmentID int64, summary Consumption) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error
	InsertOutput(ctx context.Context, output Output) (int64, error)
	GetOutputForUpdate(ctx context.Context, consignmentID, outputID int64) (Output, error)
	UpdateOutput(ctx context.Context, output Output) error
	Stock() stock.TxRepository
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an existing transaction so receipt creation can
// open the consignment block on the same unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("consignment repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const consignmentColumns = `id, receipt_id, company_id, client_name, client_order_ref,
total_received, total_consumed, total_waste, total_returned, total_kept, current_balance,
consumed_qty, waste_qty, returnable_qty, shortfall_flag, consumption_notes, consumption_at,
created_at, updated_at`

func scanConsignment(row pgx.Row) (Consignment, error) {
	var c Consignment
	err := row.Scan(&c.ID, &c.ReceiptID, &c.CompanyID, &c.ClientName, &c.ClientOrderRef,
		&c.TotalReceived, &c.TotalConsumed, &c.TotalWaste, &c.TotalReturned, &c.TotalKept, &c.CurrentBalance,
		&c.Consumption.ConsumedQty, &c.Consumption.WasteQty, &c.Consumption.ReturnableQty,
		&c.Consumption.ShortfallFlag, &c.Consumption.Notes, &c.Consumption.LastRecordedAt,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const outputColumns = `id, consignment_id, quantity, unit, output_type, grade, disposition,
client_return_qty, kept_qty, elongation_pct, production_ref, notes, created_at, resolved_at`

func scanOutput(row pgx.Row) (Output, error) {
	var o Output
	err := row.Scan(&o.ID, &o.ConsignmentID, &o.Quantity.Value, &o.Quantity.Unit, &o.OutputType,
		&o.Grade, &o.Disposition, &o.ClientRetQty, &o.KeptQty, &o.ElongationPct,
		&o.ProductionRef, &o.Notes, &o.CreatedAt, &o.ResolvedAt)
	return o, err
}

// GetByReceipt loads the consignment block with its production outputs.
func (r *Repository) GetByReceipt(ctx context.Context, receiptID int64) (Consignment, []Output, error) {
	c, err := scanConsignment(r.pool.QueryRow(ctx,
		`SELECT `+consignmentColumns+` FROM consignments WHERE receipt_id=$1`, receiptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Consignment{}, nil, ErrConsignmentNotFound
	}
	if err != nil {
		return Consignment{}, nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+outputColumns+` FROM production_outputs WHERE consignment_id=$1 ORDER BY id ASC`, c.ID)
	if err != nil {
		return Consignment{}, nil, err
	}
	defer rows.Close()

	outputs := []Output{}
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return Consignment{}, nil, err
		}
		outputs = append(outputs, o)
	}
	if err := rows.Err(); err != nil {
		return Consignment{}, nil, err
	}
	return c, outputs, nil
}

// ListLedger lists the append-only history for one consignment, newest first.
func (r *Repository) ListLedger(ctx context.Context, consignmentID int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, consignment_id, kind, quantity, balance_after, reference, notes, occurred_at
FROM consignment_ledger WHERE consignment_id=$1 ORDER BY id DESC LIMIT $2`, consignmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.ConsignmentID, &e.Kind, &e.Quantity, &e.BalanceAfter,
			&e.Reference, &e.Notes, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) GetByReceiptForUpdate(ctx context.Context, receiptID int64) (Consignment, error) {
	c, err := scanConsignment(r.tx.QueryRow(ctx,
		`SELECT `+consignmentColumns+` FROM consignments WHERE receipt_id=$1 FOR UPDATE`, receiptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Consignment{}, ErrConsignmentNotFound
	}
	return c, err
}

func (r *txRepository) GetReceiptInfo(ctx context.Context, receiptID int64) (ReceiptInfo, error) {
	var info ReceiptInfo
	err := r.tx.QueryRow(ctx,
		`SELECT id, company_id, fabric_type, color, gsm FROM grn_receipts WHERE id=$1`, receiptID).
		Scan(&info.ID, &info.CompanyID, &info.FabricType, &info.Color, &info.GSM)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReceiptInfo{}, ErrConsignmentNotFound
	}
	return info, err
}

func (r *txRepository) InsertConsignment(ctx context.Context, c Consignment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO consignments
(receipt_id, company_id, client_name, client_order_ref, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING id`,
		c.ReceiptID, c.CompanyID, c.ClientName, c.ClientOrderRef).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateTotals(ctx context.Context, c Consignment) error {
	_, err := r.tx.Exec(ctx, `UPDATE consignments SET
total_received=$2, total_consumed=$3, total_waste=$4, total_returned=$5, total_kept=$6,
current_balance=$7, updated_at=NOW() WHERE id=$1`,
		c.ID, c.TotalReceived, c.TotalConsumed, c.TotalWaste, c.TotalReturned, c.TotalKept, c.CurrentBalance)
	return err
}

func (r *txRepository) UpdateConsumption(ctx context.Context, consignmentID int64, summary Consumption) error {
	_, err := r.tx.Exec(ctx, `UPDATE consignments SET
consumed_qty=$2, waste_qty=$3, returnable_qty=$4, shortfall_flag=$5, consumption_notes=$6,
consumption_at=$7, updated_at=NOW() WHERE id=$1`,
		consignmentID, summary.ConsumedQty, summary.WasteQty, summary.ReturnableQty,
		summary.ShortfallFlag, summary.Notes, summary.LastRecordedAt)
	return err
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO consignment_ledger
(consignment_id, kind, quantity, balance_after, reference, notes, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.ConsignmentID, entry.Kind, entry.Quantity, entry.BalanceAfter,
		entry.Reference, entry.Notes, entry.At)
	return err
}

func (r *txRepository) InsertOutput(ctx context.Context, output Output) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO production_outputs
(consignment_id, quantity, unit, output_type, grade, disposition, client_return_qty, kept_qty,
elongation_pct, production_ref, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		output.ConsignmentID, output.Quantity.Value, output.Quantity.Unit, output.OutputType,
		output.Grade, output.Disposition, output.ClientRetQty, output.KeptQty,
		output.ElongationPct, output.ProductionRef, output.Notes, output.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetOutputForUpdate(ctx context.Context, consignmentID, outputID int64) (Output, error) {
	o, err := scanOutput(r.tx.QueryRow(ctx,
		`SELECT `+outputColumns+` FROM production_outputs WHERE id=$1 AND consignment_id=$2 FOR UPDATE`,
		outputID, consignmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Output{}, ErrOutputNotFound
	}
	return o, err
}

func (r *txRepository) UpdateOutput(ctx context.Context, output Output) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_outputs SET
disposition=$2, client_return_qty=$3, kept_qty=$4, notes=$5, resolved_at=$6 WHERE id=$1`,
		output.ID, output.Disposition, output.ClientRetQty, output.KeptQty, output.Notes, output.ResolvedAt)
	return err
}

// Stock bridges the running transaction into the stock write path so
// kept-as-stock posts atomically with the ledger entry.
func (r *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(r.tx)
}
