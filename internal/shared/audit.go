package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent represents a record stored in audit_events.
type AuditEvent struct {
	OrgID      int64
	EventType  string
	EntityType string
	EntityID   string
	Payload    map[string]any
	At         time.Time
}

// AuditLogger writes records into audit_events.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the event.
func (l *AuditLogger) Record(ctx context.Context, event AuditEvent) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if event.OrgID == 0 {
		return errors.New("audit event requires org_id")
	}
	if event.EventType == "" || event.EntityType == "" {
		return errors.New("audit event requires event_type/entity_type")
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	var at any
	if !event.At.IsZero() {
		at = event.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_events (org_id, event_type, entity_type, entity_id, payload, occurred_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, COALESCE($6, NOW()))`, event.OrgID, event.EventType, event.EntityType, event.EntityID, payload, at)
	return err
}
