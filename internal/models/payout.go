package models

import (
	"time"
)

// PayoutBatchStatus enumerates payroll run states.
type PayoutBatchStatus string

const (
	PayoutCalculated PayoutBatchStatus = "CALCULATED"
	PayoutApproved   PayoutBatchStatus = "APPROVED"
	PayoutReleased   PayoutBatchStatus = "RELEASED"
	PayoutPaid       PayoutBatchStatus = "PAID"
)

// PayoutBatch is one payroll run over a period.
type PayoutBatch struct {
	ID          string            `json:"id"`
	Status      PayoutBatchStatus `json:"status"`
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
	TotalCents  int64             `json:"total_cents"`
	PaidAt      *time.Time        `json:"paid_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PayoutLine is one disbursement entry. A job appears in at most one payout
// line ever; the store enforces this with a unique constraint on job_id.
type PayoutLine struct {
	ID                 string    `json:"id"`
	BatchID            string    `json:"batch_id"`
	JobID              string    `json:"job_id"`
	WorkforceAccountID string    `json:"workforce_account_id"`
	AmountCents        int64     `json:"amount_cents"`
	Description        string    `json:"description"`
	CreatedAt          time.Time `json:"created_at"`
}
