package models

import (
	"time"
)

// WorkOrderStatus enumerates ad-hoc billable task states.
type WorkOrderStatus string

const (
	WorkOrderRequested WorkOrderStatus = "REQUESTED"
	WorkOrderApproved  WorkOrderStatus = "APPROVED"
	WorkOrderAssigned  WorkOrderStatus = "ASSIGNED"
	WorkOrderCompleted WorkOrderStatus = "COMPLETED"
	WorkOrderInvoiced  WorkOrderStatus = "INVOICED"
	WorkOrderPaid      WorkOrderStatus = "PAID"
	WorkOrderCancelled WorkOrderStatus = "CANCELLED"
)

// WorkOrder is an ad-hoc billable task at a site with its own lifecycle,
// independent of the scheduled-job machine.
type WorkOrder struct {
	ID                  string          `json:"id"`
	SiteID              string          `json:"site_id"`
	ClientID            string          `json:"client_id"`
	Status              WorkOrderStatus `json:"status"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Assignee            Assignee        `json:"assignee"`
	BillableAmountCents int64           `json:"billable_amount_cents"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IncidentReport is a safety/damage report with a resolved/unresolved
// lifecycle. Not a full state machine, but bulk-resolvable.
type IncidentReport struct {
	ID           string     `json:"id"`
	SiteID       string     `json:"site_id"`
	JobID        string     `json:"job_id,omitempty"`
	ReportedByID string     `json:"reported_by_id"`
	Summary      string     `json:"summary"`
	Resolved     bool       `json:"resolved"`
	ResolvedByID string     `json:"resolved_by_id,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
