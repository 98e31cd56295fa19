package models

import (
	"time"
)

// InvoiceStatus enumerates billing document states. Only drafts are mutable.
type InvoiceStatus string

const (
	InvoiceDraft InvoiceStatus = "DRAFT"
	InvoiceSent  InvoiceStatus = "SENT"
	InvoicePaid  InvoiceStatus = "PAID"
	InvoiceVoid  InvoiceStatus = "VOID"
)

// TaxRateBasisPoints is the jurisdiction-fixed tax policy (13%).
const TaxRateBasisPoints = 1300

// Invoice is a billing document for one client organization over a period.
type Invoice struct {
	ID            string        `json:"id"`
	ClientID      string        `json:"client_id"`
	InvoiceNumber string        `json:"invoice_number"`
	Status        InvoiceStatus `json:"status"`
	PeriodStart   time.Time     `json:"period_start"`
	PeriodEnd     time.Time     `json:"period_end"`
	SubtotalCents int64         `json:"subtotal_cents"`
	TaxCents      int64         `json:"tax_cents"`
	TotalCents    int64         `json:"total_cents"`
	IssuedAt      *time.Time    `json:"issued_at,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// LineSource says where an invoice line came from.
type LineSource string

const (
	LineFromJob      LineSource = "JOB"
	LineFromContract LineSource = "CONTRACT"
)

// InvoiceLineItem is one charge row on an invoice, sourced from an approved
// job or a recurring contract.
type InvoiceLineItem struct {
	ID          string     `json:"id"`
	InvoiceID   string     `json:"invoice_id"`
	Source      LineSource `json:"source"`
	JobID       string     `json:"job_id,omitempty"`
	ContractID  string     `json:"contract_id,omitempty"`
	Description string     `json:"description"`
	AmountCents int64      `json:"amount_cents"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AdjustmentKind classifies a billing adjustment. Charges add to the
// subtotal; discounts and credits subtract.
type AdjustmentKind string

const (
	AdjustmentCharge   AdjustmentKind = "CHARGE"
	AdjustmentDiscount AdjustmentKind = "DISCOUNT"
	AdjustmentCredit   AdjustmentKind = "CREDIT"
)

// BillingAdjustment is a manual +/- applied to a draft invoice.
type BillingAdjustment struct {
	ID          string         `json:"id"`
	InvoiceID   string         `json:"invoice_id"`
	Kind        AdjustmentKind `json:"kind"`
	Description string         `json:"description"`
	AmountCents int64          `json:"amount_cents"`
	CreatedAt   time.Time      `json:"created_at"`
}
