package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/getson7070/ERP-BERHAN-sub000/internal/jobs"
)

// ExpiryScanner raises alerts for lots expiring inside a window.
type ExpiryScanner interface {
	Scan(ctx context.Context, days int) (int, error)
}

// ExpiryScanJob runs the lot expiry alert scan.
type ExpiryScanJob struct {
	Scanner     ExpiryScanner
	DefaultDays int
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewExpiryScanJob constructs the job handler.
func NewExpiryScanJob(scanner ExpiryScanner, defaultDays int, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{Scanner: scanner, DefaultDays: defaultDays, Logger: logger, Metrics: metrics}
}

// Handle executes the expiry scan.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("expiry scan: scanner not configured")
	}
	var payload ExpiryScanPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	days := payload.Days
	if days <= 0 {
		days = j.DefaultDays
	}
	if days <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskInventoryExpiryScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.Int("days", days))
	alerts, err := j.Scanner.Scan(ctx, days)
	if err != nil {
		resultErr = err
		logger.Error("expiry scan failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddFindings(TaskInventoryExpiryScan, 0, alerts)
	logger.Info("expiry scan completed", slog.Int("alerts", alerts))
	return resultErr
}

func (j *ExpiryScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExpiryScanJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryExpiryScan))
	}
	return slog.Default().With(slog.String("job", TaskInventoryExpiryScan))
}
