// Package store is the persistence boundary. Engines never touch pgx
// directly: they receive a DB, open one unit of work per mutation via
// WithTx, and perform every read-check-write-audit sequence against the Tx
// interface so the whole group commits or rolls back together.
package store

import (
	"context"
	"errors"
	"time"

	"fieldops-portal/internal/models"
)

// ErrDuplicate is returned when an insert hits a unique constraint. Callers
// that allocate contended values (invoice numbers, payout lines) branch on it.
var ErrDuplicate = errors.New("duplicate row")

// ErrNoRow is returned when a lookup matches nothing.
var ErrNoRow = errors.New("no row")

// DB opens units of work.
type DB interface {
	// WithTx runs fn inside one transaction, committing on nil and rolling
	// back on error. The Tx must not escape fn.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is one transactional unit of work over every repository.
type Tx interface {
	JobStore
	ChecklistStore
	BillingStore
	PayoutStore
	WorkOrderStore
	IncidentStore
	AuditStore
}

// JobFilter narrows job listings. Zero values mean "don't filter".
type JobFilter struct {
	Status            models.JobStatus
	ClientID          string
	WorkerID          string
	ScheduledFrom     time.Time
	ScheduledTo       time.Time
	MissedNoMakeGood  bool
	PendingSince      time.Time // jobs pending approval whose last transition predates this
	NotApprovalFlagged bool
}

type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	// GetJobForUpdate row-locks the job for the rest of the transaction,
	// closing the check-then-write window between concurrent transitions.
	GetJobForUpdate(ctx context.Context, id string) (models.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error
	SetJobMissed(ctx context.Context, id string, reason string) error
	SetJobMakeGood(ctx context.Context, id, makeGoodJobID string) error
	SetJobInvoice(ctx context.Context, jobID string, invoiceID *string) error
	SetJobBillableStatus(ctx context.Context, jobID string, status models.BillableStatus) error
	SetJobApprovalOverdue(ctx context.Context, jobID string, flagged bool) error
	ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error)
	ListJobsByInvoice(ctx context.Context, invoiceID string) ([]models.Job, error)
	GetSite(ctx context.Context, id string) (models.Site, error)
}

// TemplateDoc is a pinned snapshot of a checklist template.
type TemplateDoc struct {
	ID      string
	Version int
	Items   []models.TemplateItem
}

type ChecklistStore interface {
	GetChecklistTemplate(ctx context.Context, id string) (TemplateDoc, error)
	GetInProgressRun(ctx context.Context, jobID string) (models.ChecklistRun, error)
	GetChecklistRun(ctx context.Context, id string) (models.ChecklistRun, error)
	GetLatestSubmittedRun(ctx context.Context, jobID string) (models.ChecklistRun, error)
	CreateChecklistRun(ctx context.Context, run models.ChecklistRun) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, at time.Time) error
	UpsertRunItem(ctx context.Context, item models.ChecklistRunItem) error
	ListRunItems(ctx context.Context, runID string) ([]models.ChecklistRunItem, error)
	GetJobCompletion(ctx context.Context, jobID string) (models.JobCompletion, error)
	UpsertJobCompletion(ctx context.Context, c models.JobCompletion) error
	CreateEvidence(ctx context.Context, ev models.Evidence) error
	ListEvidenceByJob(ctx context.Context, jobID string) ([]models.Evidence, error)
}

type BillingStore interface {
	CreateInvoice(ctx context.Context, inv models.Invoice) error
	GetInvoice(ctx context.Context, id string) (models.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id string) (models.Invoice, error)
	// FindDraftInvoice returns the open draft for a client covering the
	// given period start, if one exists.
	FindDraftInvoice(ctx context.Context, clientID string, periodStart time.Time) (models.Invoice, error)
	MaxInvoiceSeq(ctx context.Context, clientID, numberPrefix string) (int, error)
	AddInvoiceLine(ctx context.Context, line models.InvoiceLineItem) error
	ListInvoiceLines(ctx context.Context, invoiceID string) ([]models.InvoiceLineItem, error)
	AddAdjustment(ctx context.Context, adj models.BillingAdjustment) error
	ListAdjustments(ctx context.Context, invoiceID string) ([]models.BillingAdjustment, error)
	UpdateInvoiceTotals(ctx context.Context, id string, subtotal, tax, total int64) error
	UpdateInvoiceStatus(ctx context.Context, id string, status models.InvoiceStatus, at time.Time) error
	ListActiveContracts(ctx context.Context, clientID string, from, to time.Time) ([]models.Contract, error)
}

type PayoutStore interface {
	// GetWorkerAccountID resolves a worker to the workforce account paid on
	// their behalf.
	GetWorkerAccountID(ctx context.Context, workerID string) (string, error)
	CreatePayoutBatch(ctx context.Context, batch models.PayoutBatch) error
	GetPayoutBatch(ctx context.Context, id string) (models.PayoutBatch, error)
	// CreatePayoutLine returns ErrDuplicate when the job already has a line
	// in any batch, ever.
	CreatePayoutLine(ctx context.Context, line models.PayoutLine) error
	ListPayoutLines(ctx context.Context, batchID string) ([]models.PayoutLine, error)
	HasPayoutLineForJob(ctx context.Context, jobID string) (bool, error)
	UpdatePayoutBatchStatus(ctx context.Context, id string, status models.PayoutBatchStatus, at time.Time) error
}

type WorkOrderStore interface {
	CreateWorkOrder(ctx context.Context, wo models.WorkOrder) error
	GetWorkOrder(ctx context.Context, id string) (models.WorkOrder, error)
	GetWorkOrderForUpdate(ctx context.Context, id string) (models.WorkOrder, error)
	UpdateWorkOrderStatus(ctx context.Context, id string, status models.WorkOrderStatus) error
	SetWorkOrderAssignee(ctx context.Context, id string, as models.Assignee) error
	ListWorkOrders(ctx context.Context, status models.WorkOrderStatus) ([]models.WorkOrder, error)
}

type IncidentStore interface {
	CreateIncident(ctx context.Context, inc models.IncidentReport) error
	GetIncident(ctx context.Context, id string) (models.IncidentReport, error)
	GetIncidentForUpdate(ctx context.Context, id string) (models.IncidentReport, error)
	ResolveIncident(ctx context.Context, id, resolvedByID string, at time.Time) error
	ListIncidents(ctx context.Context, resolved *bool) ([]models.IncidentReport, error)
}

type AuditStore interface {
	// AppendAudit inserts one immutable audit row. There is no update or
	// delete counterpart anywhere in the store.
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
	ListAudit(ctx context.Context, entityType models.EntityType, entityID string) ([]models.AuditEntry, error)
}
