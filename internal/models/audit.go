package models

import (
	"time"
)

// EntityType names the kinds of entities audit rows can reference.
type EntityType string

const (
	EntityJob         EntityType = "job"
	EntityWorkOrder   EntityType = "work_order"
	EntityInvoice     EntityType = "invoice"
	EntityPayoutBatch EntityType = "payout_batch"
	EntityIncident    EntityType = "incident_report"
)

// AuditEntry is one append-only state-change record. Rows are never updated
// or deleted; this table is the source of truth for what happened, by whom,
// and when.
type AuditEntry struct {
	ID          int64          `json:"id"`
	ActorUserID string         `json:"actor_user_id"`
	EntityType  EntityType     `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	FromState   string         `json:"from_state"`
	ToState     string         `json:"to_state"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MetaBulkOperationID is the metadata key correlating every audit row
// produced by one multi-item admin action.
const MetaBulkOperationID = "bulk_operation_id"
