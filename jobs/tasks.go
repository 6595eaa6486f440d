package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockIntegrity triggers the stock-drift reconciliation scan.
	TaskStockIntegrity = "stock:integrity_scan"
)

// StockIntegrityPayload carries scheduling metadata for a scan run.
type StockIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Repair       bool      `json:"repair"`
}

// NewStockIntegrityTask constructs an Asynq task for the integrity scan.
func NewStockIntegrityTask(at time.Time, repair bool) (*asynq.Task, error) {
	body, err := json.Marshal(StockIntegrityPayload{ScheduledFor: at, Repair: repair})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockIntegrity, body, asynq.Queue(QueueDefault)), nil
}
