package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/CoderMasters4/Dhruval-Erp-sub003/internal/jobs"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/platform/db"
)

// driftTolerance is the meters-equivalent slack before an item counts as drifted.
const driftTolerance = 0.01

// IntegrityScanner recomputes each stock item's buckets from live lot data
// and reports drift against the stored aggregate. The incremental delta path
// keeps both sides in one transaction, so drift here means a bug or a manual
// database edit; the scan is the backstop that makes it visible.
type IntegrityScanner struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIntegrityScanner constructs the scanner.
func NewIntegrityScanner(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanner {
	return &IntegrityScanner{pool: pool, logger: logger, metrics: metrics}
}

// Handler adapts the scanner to an Asynq task handler.
func (s *IntegrityScanner) Handler(ctx context.Context, t *asynq.Task) error {
	var payload StockIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return s.Run(ctx, payload.Repair)
}

type driftRow struct {
	ItemID           int64
	ItemCode         string
	CurrentStock     float64
	ReservedStock    float64
	DamagedStock     float64
	ExpectedCurrent  float64
	ExpectedReserved float64
	ExpectedDamaged  float64
}

func (d driftRow) drifted() bool {
	return math.Abs(d.CurrentStock-d.ExpectedCurrent) > driftTolerance ||
		math.Abs(d.ReservedStock-d.ExpectedReserved) > driftTolerance ||
		math.Abs(d.DamagedStock-d.ExpectedDamaged) > driftTolerance
}

// integrityScanQuery recomputes the expected buckets from lot data alone.
// Batch-output items hold kept production output rather than lot-backed
// stock, so they are excluded; mixing them in would report phantom drift
// and a repair run would overwrite legitimately kept quantities.
const integrityScanQuery = `
WITH lot_totals AS (
    SELECT g.company_id, g.fabric_type, g.color, g.gsm,
        COALESCE(SUM(CASE WHEN l.unit='yards' THEN l.quantity*0.9144 ELSE l.quantity END)
            FILTER (WHERE l.status IN ('active','reserved')), 0) AS current_m,
        COALESCE(SUM(CASE WHEN l.unit='yards' THEN l.quantity*0.9144 ELSE l.quantity END)
            FILTER (WHERE l.status = 'reserved'), 0) AS reserved_m,
        COALESCE(SUM(CASE WHEN l.unit='yards' THEN l.quantity*0.9144 ELSE l.quantity END)
            FILTER (WHERE l.status = 'damaged'), 0) AS damaged_m
    FROM grn_lots l
    JOIN grn_receipts g ON g.id = l.receipt_id
    WHERE g.deleted_at IS NULL
    GROUP BY g.company_id, g.fabric_type, g.color, g.gsm
)
SELECT i.id, i.item_code, i.current_stock, i.reserved_stock, i.damaged_stock,
    COALESCE(t.current_m, 0), COALESCE(t.reserved_m, 0), COALESCE(t.damaged_m, 0)
FROM stock_items i
LEFT JOIN lot_totals t ON t.company_id = i.company_id
    AND t.fabric_type = i.fabric_type AND t.color = i.color AND t.gsm = i.gsm
WHERE i.batch_output = FALSE`

// Run scans all non-batch-output items. Report-only unless repair is set, in
// which case the stored buckets are rewritten to the recomputed values.
func (s *IntegrityScanner) Run(ctx context.Context, repair bool) (err error) {
	tracker := s.metrics.Track("stock_integrity")
	defer func() { err = tracker.End(err) }()

	rows, err := s.pool.Query(ctx, integrityScanQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	var drifted []driftRow
	scanned := 0
	for rows.Next() {
		var d driftRow
		if err := rows.Scan(&d.ItemID, &d.ItemCode, &d.CurrentStock, &d.ReservedStock, &d.DamagedStock,
			&d.ExpectedCurrent, &d.ExpectedReserved, &d.ExpectedDamaged); err != nil {
			return err
		}
		scanned++
		if d.drifted() {
			drifted = append(drifted, d)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.metrics.SetDrift(len(drifted))

	for _, d := range drifted {
		s.logger.Warn("stock aggregate drift",
			slog.String("item", d.ItemCode),
			slog.Float64("current", d.CurrentStock),
			slog.Float64("expected_current", d.ExpectedCurrent),
			slog.Float64("reserved", d.ReservedStock),
			slog.Float64("expected_reserved", d.ExpectedReserved),
			slog.Float64("damaged", d.DamagedStock),
			slog.Float64("expected_damaged", d.ExpectedDamaged),
		)
	}

	if repair && len(drifted) > 0 {
		err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			for _, d := range drifted {
				if _, err := tx.Exec(ctx, `UPDATE stock_items SET
current_stock=$2, reserved_stock=$3, damaged_stock=$4, updated_at=NOW() WHERE id=$1`,
					d.ItemID, d.ExpectedCurrent, d.ExpectedReserved, d.ExpectedDamaged); err != nil {
					return err
				}
				s.logger.Info("stock aggregate repaired", slog.String("item", d.ItemCode))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.logger.Info("stock integrity scan finished",
		slog.Int("scanned", scanned),
		slog.Int("drifted", len(drifted)),
		slog.Bool("repair", repair),
	)
	return nil
}
