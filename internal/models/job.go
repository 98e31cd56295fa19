package models

import (
	"time"
)

// JobStatus enumerates job lifecycle states persisted in Postgres.
type JobStatus string

const (
	JobScheduled       JobStatus = "SCHEDULED"
	JobPendingApproval JobStatus = "COMPLETED_PENDING_APPROVAL"
	JobApprovedPayable JobStatus = "APPROVED_PAYABLE"
	JobPaid            JobStatus = "PAID"
	JobCancelled       JobStatus = "CANCELLED"
)

// BillableStatus tracks whether a job's charge has been pulled onto an invoice.
type BillableStatus string

const (
	BillableUnbilled BillableStatus = "UNBILLED"
	BillableInvoiced BillableStatus = "INVOICED"
	BillableNone     BillableStatus = "NON_BILLABLE"
)

// Job is one scheduled service visit at a site. Status moves only through the
// state machine; direct writes anywhere else are a defect.
type Job struct {
	ID                  string         `json:"id"`
	SiteID              string         `json:"site_id"`
	ClientID            string         `json:"client_id"`
	Status              JobStatus      `json:"status"`
	ScheduledStart      time.Time      `json:"scheduled_start"`
	ScheduledEnd        time.Time      `json:"scheduled_end"`
	Assignee            Assignee       `json:"assignee"`
	PayoutAmountCents   int64          `json:"payout_amount_cents"`
	BillableAmountCents int64          `json:"billable_amount_cents"`
	BillableStatus      BillableStatus `json:"billable_status"`
	IsMissed            bool           `json:"is_missed"`
	MissedReason        *string        `json:"missed_reason,omitempty"`
	MakeGoodJobID       *string        `json:"make_good_job_id,omitempty"`
	InvoiceID           *string        `json:"invoice_id,omitempty"`
	ApprovalOverdue     bool           `json:"approval_overdue"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Billable reports whether the job carries a client charge that is still
// eligible to be attached to a draft invoice.
func (j Job) Billable() bool {
	return j.BillableAmountCents > 0 && j.BillableStatus == BillableUnbilled
}

// Site holds the per-site checklist and evidence policy the run engine reads.
type Site struct {
	ID                 string `json:"id"`
	ClientID           string `json:"client_id"`
	Name               string `json:"name"`
	ActiveTemplateID   string `json:"active_template_id,omitempty"`
	RequiredPhotoCount int    `json:"required_photo_count"`
}

// Contract is a recurring monthly billing agreement with a client.
type Contract struct {
	ID               string     `json:"id"`
	ClientID         string     `json:"client_id"`
	Description      string     `json:"description"`
	MonthlyBaseCents int64      `json:"monthly_base_cents"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          *time.Time `json:"end_date,omitempty"`
}

// ActiveDuring reports whether the contract overlaps the [from, to) window.
func (c Contract) ActiveDuring(from, to time.Time) bool {
	if !c.StartDate.Before(to) {
		return false
	}
	return c.EndDate == nil || c.EndDate.After(from)
}
