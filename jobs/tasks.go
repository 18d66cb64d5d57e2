package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/getson7070/ERP-BERHAN-sub000/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryReorderScan evaluates reorder rules and publishes suggestions.
	TaskInventoryReorderScan = "inventory:reorder_scan"
	// TaskInventoryExpiryScan raises alerts for lots close to expiry.
	TaskInventoryExpiryScan = "inventory:expiry_scan"
	// TaskInventoryLedgerIntegrity compares cached balances with ledger sums.
	TaskInventoryLedgerIntegrity = "inventory:ledger_integrity"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReorderScanPayload scopes a reorder scan. A zero OrgID scans every tenant.
type ReorderScanPayload struct {
	OrgID int64 `json:"org_id,omitempty"`
}

// ExpiryScanPayload carries the alert window in days. Zero uses the job default.
type ExpiryScanPayload struct {
	Days int `json:"days,omitempty"`
}

// LedgerIntegrityPayload scopes an integrity check. A zero OrgID checks every tenant.
type LedgerIntegrityPayload struct {
	OrgID int64 `json:"org_id,omitempty"`
}

// NewReorderScanTask constructs an Asynq task for the reorder scan.
func NewReorderScanTask(orgID int64) (*asynq.Task, error) {
	return newTask(TaskInventoryReorderScan, ReorderScanPayload{OrgID: orgID})
}

// NewExpiryScanTask constructs an Asynq task for lot expiry alerts.
func NewExpiryScanTask(days int) (*asynq.Task, error) {
	return newTask(TaskInventoryExpiryScan, ExpiryScanPayload{Days: days})
}

// NewLedgerIntegrityTask constructs an Asynq task for the ledger integrity check.
func NewLedgerIntegrityTask(orgID int64) (*asynq.Task, error) {
	return newTask(TaskInventoryLedgerIntegrity, LedgerIntegrityPayload{OrgID: orgID})
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

func decodePayload(t *asynq.Task, dst any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
