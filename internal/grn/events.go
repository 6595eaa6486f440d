package grn

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

// ReceiptPostedEvent notifies collaborators that a receipt landed, carrying
// the accepted and rejected quantities so purchase-order lines can be
// reflected without this ledger writing into PO documents.
type ReceiptPostedEvent struct {
	EventID     string
	ReceiptID   int64
	CompanyID   int64
	Number      string
	PORef       string
	AcceptedQty uom.Quantity
	RejectedQty uom.Quantity
	PostedAt    time.Time
}

// EventSink receives integration events after the owning transaction commits.
type EventSink interface {
	PublishReceiptPosted(ctx context.Context, ev ReceiptPostedEvent) error
}

func newReceiptPostedEvent(r Receipt) ReceiptPostedEvent {
	return ReceiptPostedEvent{
		EventID:     uuid.NewString(),
		ReceiptID:   r.ID,
		CompanyID:   r.CompanyID,
		Number:      r.Number,
		PORef:       r.PORef,
		AcceptedQty: r.AcceptedQty,
		RejectedQty: r.RejectedQty,
		PostedAt:    time.Now().UTC(),
	}
}

// LogSink logs events. Stands in until a queue-backed sink is configured.
type LogSink struct {
	Logger *slog.Logger
}

// PublishReceiptPosted implements EventSink.
func (s LogSink) PublishReceiptPosted(_ context.Context, ev ReceiptPostedEvent) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.Info("receipt posted",
		slog.String("event_id", ev.EventID),
		slog.Int64("receipt_id", ev.ReceiptID),
		slog.String("number", ev.Number),
		slog.String("po_ref", ev.PORef),
	)
	return nil
}
