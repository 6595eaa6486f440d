package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	_ "github.com/CoderMasters4/Dhruval-Erp-sub003/internal/testing/guard"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/jobs"
)

func TestStockIntegrityTaskRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 15, 1, 30, 0, 0, time.UTC)

	task, err := jobs.NewStockIntegrityTask(at, true)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskStockIntegrity, task.Type())

	var payload jobs.StockIntegrityPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.True(t, payload.ScheduledFor.Equal(at))
	require.True(t, payload.Repair)
}

func TestScannerHandlerSkipsRetryOnBadPayload(t *testing.T) {
	scanner := jobs.NewIntegrityScanner(nil, slog.Default(), nil)

	task := asynq.NewTask(jobs.TaskStockIntegrity, []byte("{not json"))
	err := scanner.Handler(context.Background(), task)
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
