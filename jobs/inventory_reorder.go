package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/getson7070/ERP-BERHAN-sub000/internal/inventory"
	jobmetrics "github.com/getson7070/ERP-BERHAN-sub000/internal/jobs"
)

// ReorderScanner is the part of the inventory reorder scanner the job drives.
type ReorderScanner interface {
	Scan(ctx context.Context) ([]inventory.ReorderSuggestion, error)
	ScanOrg(ctx context.Context, orgID int64) ([]inventory.ReorderSuggestion, error)
}

// ReorderScanJob runs the reorder scan for one tenant or all of them.
type ReorderScanJob struct {
	Scanner ReorderScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReorderScanJob constructs the job handler.
func NewReorderScanJob(scanner ReorderScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReorderScanJob {
	return &ReorderScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes the reorder scan.
func (j *ReorderScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("reorder scan: scanner not configured")
	}
	var payload ReorderScanPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.OrgID < 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskInventoryReorderScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	var suggestions []inventory.ReorderSuggestion
	if payload.OrgID > 0 {
		suggestions, resultErr = j.Scanner.ScanOrg(ctx, payload.OrgID)
	} else {
		suggestions, resultErr = j.Scanner.Scan(ctx)
	}
	if resultErr != nil {
		j.log().Error("reorder scan failed", slog.Int64("org_id", payload.OrgID), slog.Any("error", resultErr))
		return resultErr
	}

	j.log().Info("reorder scan completed",
		slog.Int64("org_id", payload.OrgID),
		slog.Int("suggestions", len(suggestions)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ReorderScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReorderScanJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryReorderScan))
	}
	return slog.Default().With(slog.String("job", TaskInventoryReorderScan))
}
