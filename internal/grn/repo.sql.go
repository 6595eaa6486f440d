package grn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/consignment"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/stock"
)

// Repository persists receipts and lots in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service. Stock and
// Consignment bridge the same transaction into the sibling write paths so a
// lot mutation and its aggregate effects commit or roll back together.
type TxRepository interface {
	GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error)
	InsertReceipt(ctx context.Context, r Receipt) (int64, error)
	UpdateReceipt(ctx context.Context, r Receipt) error
	ListLots(ctx context.Context, receiptID int64) ([]Lot, error)
	GetLotForUpdate(ctx context.Context, receiptID int64, lotNumber string) (Lot, error)
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	UpdateLotStatus(ctx context.Context, lotID int64, status LotStatus) error
	Stock() stock.TxRepository
	Consignment() consignment.TxRepository
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("grn repository not initialised")
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const receiptColumns = `id, company_id, number, entry_type, material_source,
fabric_type, fabric_grade, gsm, width, color,
received_qty, received_unit, accepted_qty, accepted_unit, rejected_qty, rejected_unit,
po_ref, warehouse_id, balance, status, version, created_by, deleted_at, created_at, updated_at`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var r Receipt
	var balanceJSON []byte
	err := row.Scan(&r.ID, &r.CompanyID, &r.Number, &r.EntryType, &r.MaterialSource,
		&r.Fabric.Type, &r.Fabric.Grade, &r.Fabric.GSM, &r.Fabric.Width, &r.Fabric.Color,
		&r.ReceivedQty.Value, &r.ReceivedQty.Unit, &r.AcceptedQty.Value, &r.AcceptedQty.Unit,
		&r.RejectedQty.Value, &r.RejectedQty.Unit,
		&r.PORef, &r.WarehouseID, &balanceJSON, &r.Status, &r.Version, &r.CreatedBy,
		&r.DeletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Receipt{}, err
	}
	if len(balanceJSON) > 0 {
		if err := json.Unmarshal(balanceJSON, &r.Balance); err != nil {
			return Receipt{}, fmt.Errorf("decode receipt balance: %w", err)
		}
	}
	return r, nil
}

const lotColumns = `id, receipt_id, lot_number, quantity, unit, status, grade,
cost_per_unit, total_cost, warehouse_id, location, created_at, updated_at`

func scanLot(row pgx.Row) (Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.ReceiptID, &l.LotNumber, &l.Quantity.Value, &l.Quantity.Unit,
		&l.Status, &l.Grade, &l.CostPerUnit, &l.TotalCost, &l.WarehouseID, &l.Location,
		&l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// GetReceipt fetches one receipt. Tombstoned receipts still load so callers
// can show history; mutations reject them in the service.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	receipt, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM grn_receipts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrReceiptNotFound
	}
	return receipt, err
}

// ListLots lists a receipt's lots in insertion order.
func (r *Repository) ListLots(ctx context.Context, receiptID int64) ([]Lot, error) {
	return listLots(ctx, r.pool, receiptID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLots(ctx context.Context, q querier, receiptID int64) ([]Lot, error) {
	rows, err := q.Query(ctx, `SELECT `+lotColumns+` FROM grn_lots WHERE receipt_id=$1 ORDER BY id ASC`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := []Lot{}
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

const metersCase = `CASE WHEN l.unit='yards' THEN l.quantity*0.9144 ELSE l.quantity END`

// SummaryEntries lists one row per live receipt matching the filter.
func (r *Repository) SummaryEntries(ctx context.Context, companyID int64, filter SummaryFilter) ([]SummaryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, fabric_type, color, gsm, material_source, status, balance
FROM grn_receipts
WHERE company_id=$1 AND deleted_at IS NULL
  AND ($2='' OR fabric_type=$2)
  AND ($3='' OR status=$3)
ORDER BY number ASC`, companyID, filter.FabricType, string(filter.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []SummaryEntry{}
	for rows.Next() {
		var e SummaryEntry
		var balanceJSON []byte
		if err := rows.Scan(&e.ReceiptID, &e.Number, &e.FabricType, &e.Color, &e.GSM,
			&e.MaterialSource, &e.Status, &balanceJSON); err != nil {
			return nil, err
		}
		if len(balanceJSON) > 0 {
			if err := json.Unmarshal(balanceJSON, &e.Balance); err != nil {
				return nil, fmt.Errorf("decode summary balance: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SummaryTotals aggregates meters-equivalent quantities over live lots.
// Consumed lots drop out, matching the balance recompute.
func (r *Repository) SummaryTotals(ctx context.Context, companyID int64, filter SummaryFilter) (SummaryTotals, error) {
	var t SummaryTotals
	err := r.pool.QueryRow(ctx, `SELECT
COUNT(DISTINCT g.id),
COALESCE(SUM(`+metersCase+`) FILTER (WHERE l.status <> 'consumed'), 0),
COALESCE(SUM(`+metersCase+`) FILTER (WHERE l.status = 'active'), 0),
COALESCE(SUM(`+metersCase+`) FILTER (WHERE l.status = 'reserved'), 0),
COALESCE(SUM(`+metersCase+`) FILTER (WHERE l.status = 'damaged'), 0)
FROM grn_receipts g
LEFT JOIN grn_lots l ON l.receipt_id = g.id
WHERE g.company_id=$1 AND g.deleted_at IS NULL
  AND ($2='' OR g.fabric_type=$2)
  AND ($3='' OR g.status=$3)`,
		companyID, filter.FabricType, string(filter.Status)).
		Scan(&t.Receipts, &t.TotalMeters, &t.AvailableMeters, &t.ReservedMeters, &t.DamagedMeters)
	return t, err
}

func (r *txRepository) GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error) {
	receipt, err := scanReceipt(r.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM grn_receipts WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrReceiptNotFound
	}
	return receipt, err
}

func (r *txRepository) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	balanceJSON, err := json.Marshal(receipt.Balance)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO grn_receipts
(company_id, number, entry_type, material_source, fabric_type, fabric_grade, gsm, width, color,
received_qty, received_unit, accepted_qty, accepted_unit, rejected_qty, rejected_unit,
po_ref, warehouse_id, balance, status, version, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
RETURNING id`,
		receipt.CompanyID, receipt.Number, receipt.EntryType, receipt.MaterialSource,
		receipt.Fabric.Type, receipt.Fabric.Grade, receipt.Fabric.GSM, receipt.Fabric.Width, receipt.Fabric.Color,
		receipt.ReceivedQty.Value, receipt.ReceivedQty.Unit,
		receipt.AcceptedQty.Value, receipt.AcceptedQty.Unit,
		receipt.RejectedQty.Value, receipt.RejectedQty.Unit,
		receipt.PORef, receipt.WarehouseID, balanceJSON, receipt.Status, receipt.Version,
		receipt.CreatedBy, receipt.CreatedAt, receipt.UpdatedAt).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateNumber, receipt.Number)
	}
	return id, err
}

func (r *txRepository) UpdateReceipt(ctx context.Context, receipt Receipt) error {
	balanceJSON, err := json.Marshal(receipt.Balance)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE grn_receipts SET
balance=$2, status=$3, version=$4, deleted_at=$5, updated_at=$6 WHERE id=$1`,
		receipt.ID, balanceJSON, receipt.Status, receipt.Version, receipt.DeletedAt, receipt.UpdatedAt)
	return err
}

func (r *txRepository) ListLots(ctx context.Context, receiptID int64) ([]Lot, error) {
	return listLots(ctx, r.tx, receiptID)
}

func (r *txRepository) GetLotForUpdate(ctx context.Context, receiptID int64, lotNumber string) (Lot, error) {
	lot, err := scanLot(r.tx.QueryRow(ctx,
		`SELECT `+lotColumns+` FROM grn_lots WHERE receipt_id=$1 AND lot_number=$2 FOR UPDATE`,
		receiptID, lotNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, fmt.Errorf("%w: %s", ErrLotNotFound, lotNumber)
	}
	return lot, err
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO grn_lots
(receipt_id, lot_number, quantity, unit, status, grade, cost_per_unit, total_cost, warehouse_id, location, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		lot.ReceiptID, lot.LotNumber, lot.Quantity.Value, lot.Quantity.Unit, lot.Status,
		lot.Grade, lot.CostPerUnit, lot.TotalCost, lot.WarehouseID, lot.Location,
		lot.CreatedAt, lot.UpdatedAt).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateLot, lot.LotNumber)
	}
	return id, err
}

func (r *txRepository) UpdateLotStatus(ctx context.Context, lotID int64, status LotStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE grn_lots SET status=$2, updated_at=NOW() WHERE id=$1`, lotID, status)
	return err
}

// Stock bridges the running transaction into the company stock write path.
func (r *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(r.tx)
}

// Consignment bridges the running transaction into the consignment ledger.
func (r *txRepository) Consignment() consignment.TxRepository {
	return consignment.NewTxRepository(r.tx)
}
