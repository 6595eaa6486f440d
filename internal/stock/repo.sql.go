package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, key ItemKey) (Item, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	InsertMovement(ctx context.Context, movement Movement) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an existing transaction so receipt operations can
// post stock deltas on the same unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
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

const itemColumns = `id, company_id, item_code, fabric_type, color, gsm, current_stock, reserved_stock, damaged_stock, avg_cost, total_value, batch_output, source_receipt_id, source_client, elongation_pct, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.CompanyID, &item.ItemCode, &item.FabricType, &item.Color, &item.GSM,
		&item.CurrentStock, &item.ReservedStock, &item.DamagedStock, &item.AvgCost, &item.TotalValue,
		&item.BatchOutput, &item.SourceReceipt, &item.SourceClient, &item.ElongationPct, &item.UpdatedAt)
	return item, err
}

// GetItem fetches one item row.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

// ListItems lists a company's items ordered by code.
func (r *Repository) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	fabric := filter.FabricType

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_items WHERE company_id=$1 AND ($2='' OR fabric_type=$2)`,
		filter.CompanyID, fabric).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items
WHERE company_id=$1 AND ($2='' OR fabric_type=$2)
ORDER BY item_code ASC
LIMIT $3 OFFSET $4`, filter.CompanyID, fabric, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, key ItemKey) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items
WHERE company_id=$1 AND fabric_type=$2 AND color=$3 AND gsm=$4 AND batch_output=$5 FOR UPDATE`,
		key.CompanyID, key.FabricType, key.Color, key.GSM, key.Batch))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_items
(company_id, item_code, fabric_type, color, gsm, current_stock, reserved_stock, damaged_stock, avg_cost, total_value, batch_output, source_receipt_id, source_client, elongation_pct, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW()) RETURNING id`,
		item.CompanyID, item.ItemCode, item.FabricType, item.Color, item.GSM,
		item.CurrentStock, item.ReservedStock, item.DamagedStock, item.AvgCost, item.TotalValue,
		item.BatchOutput, item.SourceReceipt, item.SourceClient, item.ElongationPct).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_items SET
current_stock=$2, reserved_stock=$3, damaged_stock=$4, avg_cost=$5, total_value=$6,
source_receipt_id=$7, source_client=$8, elongation_pct=$9, updated_at=NOW()
WHERE id=$1`, item.ID, item.CurrentStock, item.ReservedStock, item.DamagedStock, item.AvgCost, item.TotalValue,
		item.SourceReceipt, item.SourceClient, item.ElongationPct)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements
(item_id, current_delta, reserved_delta, damaged_delta, unit_cost, ref_module, ref_id, note, actor_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		movement.ItemID, movement.CurrentDelta, movement.ReservedDelta, movement.DamagedDelta,
		movement.UnitCost, movement.RefModule, movement.RefID, movement.Note, nullInt(movement.ActorID), movement.PostedAt)
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
