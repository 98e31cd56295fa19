package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fieldops-portal/internal/models"
)

// Memory is an in-memory DB used by engine tests. It mirrors the Postgres
// semantics that matter to the core: unit-of-work rollback on error, the
// unique constraints on invoice numbers and payout-line job ids, and the
// single in-progress run per job.
type Memory struct {
	mu sync.Mutex

	Jobs        map[string]models.Job
	Sites       map[string]models.Site
	Templates   map[string]TemplateDoc
	Runs        map[string]models.ChecklistRun
	RunItems    map[string]map[string]models.ChecklistRunItem
	Completions map[string]models.JobCompletion // keyed by job id
	Photos      map[string][]models.Evidence    // keyed by job id
	Contracts   []models.Contract
	Invoices    map[string]models.Invoice
	Lines       map[string][]models.InvoiceLineItem
	Adjusts     map[string][]models.BillingAdjustment
	Batches     map[string]models.PayoutBatch
	BatchLines  map[string][]models.PayoutLine
	PayoutJobs  map[string]bool
	WorkOrders  map[string]models.WorkOrder
	Incidents   map[string]models.IncidentReport
	Audits      []models.AuditEntry

	// WorkerAccounts maps worker id to workforce account id. Seed data only;
	// never mutated by a Tx, so snapshots skip it.
	WorkerAccounts map[string]string

	auditSeq int64
}

var _ DB = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		Jobs:        map[string]models.Job{},
		Sites:       map[string]models.Site{},
		Templates:   map[string]TemplateDoc{},
		Runs:        map[string]models.ChecklistRun{},
		RunItems:    map[string]map[string]models.ChecklistRunItem{},
		Completions: map[string]models.JobCompletion{},
		Photos:      map[string][]models.Evidence{},
		Invoices:    map[string]models.Invoice{},
		Lines:       map[string][]models.InvoiceLineItem{},
		Adjusts:     map[string][]models.BillingAdjustment{},
		Batches:     map[string]models.PayoutBatch{},
		BatchLines:  map[string][]models.PayoutLine{},
		PayoutJobs:  map[string]bool{},
		WorkOrders:  map[string]models.WorkOrder{},
		Incidents:   map[string]models.IncidentReport{},

		WorkerAccounts: map[string]string{},
	}
}

// WithTx serializes units of work under one lock and restores a snapshot
// when fn fails, so a failed mutator leaves no partial writes behind.
func (m *Memory) WithTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	jobs        map[string]models.Job
	runs        map[string]models.ChecklistRun
	runItems    map[string]map[string]models.ChecklistRunItem
	completions map[string]models.JobCompletion
	photos      map[string][]models.Evidence
	invoices    map[string]models.Invoice
	lines       map[string][]models.InvoiceLineItem
	adjusts     map[string][]models.BillingAdjustment
	batches     map[string]models.PayoutBatch
	batchLines  map[string][]models.PayoutLine
	payoutJobs  map[string]bool
	workOrders  map[string]models.WorkOrder
	incidents   map[string]models.IncidentReport
	audits      []models.AuditEntry
	auditSeq    int64
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copySliceMap[K comparable, V any](src map[K][]V) map[K][]V {
	dst := make(map[K][]V, len(src))
	for k, v := range src {
		dst[k] = append([]V(nil), v...)
	}
	return dst
}

func (m *Memory) snapshot() memSnapshot {
	items := make(map[string]map[string]models.ChecklistRunItem, len(m.RunItems))
	for k, v := range m.RunItems {
		items[k] = copyMap(v)
	}
	return memSnapshot{
		jobs:        copyMap(m.Jobs),
		runs:        copyMap(m.Runs),
		runItems:    items,
		completions: copyMap(m.Completions),
		photos:      copySliceMap(m.Photos),
		invoices:    copyMap(m.Invoices),
		lines:       copySliceMap(m.Lines),
		adjusts:     copySliceMap(m.Adjusts),
		batches:     copyMap(m.Batches),
		batchLines:  copySliceMap(m.BatchLines),
		payoutJobs:  copyMap(m.PayoutJobs),
		workOrders:  copyMap(m.WorkOrders),
		incidents:   copyMap(m.Incidents),
		audits:      append([]models.AuditEntry(nil), m.Audits...),
		auditSeq:    m.auditSeq,
	}
}

func (m *Memory) restore(s memSnapshot) {
	m.Jobs = s.jobs
	m.Runs = s.runs
	m.RunItems = s.runItems
	m.Completions = s.completions
	m.Photos = s.photos
	m.Invoices = s.invoices
	m.Lines = s.lines
	m.Adjusts = s.adjusts
	m.Batches = s.batches
	m.BatchLines = s.batchLines
	m.PayoutJobs = s.payoutJobs
	m.WorkOrders = s.workOrders
	m.Incidents = s.incidents
	m.Audits = s.audits
	m.auditSeq = s.auditSeq
}

// Seed runs fn under the lock without snapshot bookkeeping. Test setup only.
func (m *Memory) Seed(fn func(tx Tx)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&memTx{m: m})
}

type memTx struct {
	m *Memory
}

var _ Tx = (*memTx)(nil)

// ── jobs ──

func (t *memTx) CreateJob(_ context.Context, job models.Job) error {
	if _, ok := t.m.Jobs[job.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	t.m.Jobs[job.ID] = job
	return nil
}

func (t *memTx) GetJob(_ context.Context, id string) (models.Job, error) {
	j, ok := t.m.Jobs[id]
	if !ok {
		return models.Job{}, ErrNoRow
	}
	return j, nil
}

func (t *memTx) GetJobForUpdate(ctx context.Context, id string) (models.Job, error) {
	return t.GetJob(ctx, id)
}

func (t *memTx) UpdateJobStatus(_ context.Context, id string, status models.JobStatus) error {
	j, ok := t.m.Jobs[id]
	if !ok {
		return ErrNoRow
	}
	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	t.m.Jobs[id] = j
	return nil
}

func (t *memTx) SetJobMissed(_ context.Context, id string, reason string) error {
	j, ok := t.m.Jobs[id]
	if !ok {
		return ErrNoRow
	}
	j.IsMissed = true
	j.MissedReason = &reason
	t.m.Jobs[id] = j
	return nil
}

func (t *memTx) SetJobMakeGood(_ context.Context, id, makeGoodJobID string) error {
	j, ok := t.m.Jobs[id]
	if !ok {
		return ErrNoRow
	}
	j.MakeGoodJobID = &makeGoodJobID
	t.m.Jobs[id] = j
	return nil
}

func (t *memTx) SetJobInvoice(_ context.Context, jobID string, invoiceID *string) error {
	j, ok := t.m.Jobs[jobID]
	if !ok {
		return ErrNoRow
	}
	j.InvoiceID = invoiceID
	t.m.Jobs[jobID] = j
	return nil
}

func (t *memTx) SetJobBillableStatus(_ context.Context, jobID string, status models.BillableStatus) error {
	j, ok := t.m.Jobs[jobID]
	if !ok {
		return ErrNoRow
	}
	j.BillableStatus = status
	t.m.Jobs[jobID] = j
	return nil
}

func (t *memTx) SetJobApprovalOverdue(_ context.Context, jobID string, flagged bool) error {
	j, ok := t.m.Jobs[jobID]
	if !ok {
		return ErrNoRow
	}
	j.ApprovalOverdue = flagged
	t.m.Jobs[jobID] = j
	return nil
}

func (t *memTx) ListJobs(_ context.Context, f JobFilter) ([]models.Job, error) {
	var out []models.Job
	for _, j := range t.m.Jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.ClientID != "" && j.ClientID != f.ClientID {
			continue
		}
		if f.WorkerID != "" && !(j.Assignee.Kind == models.AssigneeWorker && j.Assignee.ID == f.WorkerID) {
			continue
		}
		if !f.ScheduledFrom.IsZero() && j.ScheduledStart.Before(f.ScheduledFrom) {
			continue
		}
		if !f.ScheduledTo.IsZero() && !j.ScheduledStart.Before(f.ScheduledTo) {
			continue
		}
		if f.MissedNoMakeGood && (!j.IsMissed || j.MakeGoodJobID != nil) {
			continue
		}
		if !f.PendingSince.IsZero() && !j.UpdatedAt.Before(f.PendingSince) {
			continue
		}
		if f.NotApprovalFlagged && j.ApprovalOverdue {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].ScheduledStart.Equal(out[k].ScheduledStart) {
			return out[i].ID < out[k].ID
		}
		return out[i].ScheduledStart.Before(out[k].ScheduledStart)
	})
	return out, nil
}

func (t *memTx) ListJobsByInvoice(_ context.Context, invoiceID string) ([]models.Job, error) {
	var out []models.Job
	for _, j := range t.m.Jobs {
		if j.InvoiceID != nil && *j.InvoiceID == invoiceID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (t *memTx) GetSite(_ context.Context, id string) (models.Site, error) {
	s, ok := t.m.Sites[id]
	if !ok {
		return models.Site{}, ErrNoRow
	}
	return s, nil
}

// ── checklist ──

func (t *memTx) GetChecklistTemplate(_ context.Context, id string) (TemplateDoc, error) {
	doc, ok := t.m.Templates[id]
	if !ok {
		return TemplateDoc{}, ErrNoRow
	}
	return doc, nil
}

func (t *memTx) GetInProgressRun(_ context.Context, jobID string) (models.ChecklistRun, error) {
	for _, r := range t.m.Runs {
		if r.JobID == jobID && r.Status == models.RunInProgress {
			return r, nil
		}
	}
	return models.ChecklistRun{}, ErrNoRow
}

func (t *memTx) GetChecklistRun(_ context.Context, id string) (models.ChecklistRun, error) {
	r, ok := t.m.Runs[id]
	if !ok {
		return models.ChecklistRun{}, ErrNoRow
	}
	return r, nil
}

func (t *memTx) GetLatestSubmittedRun(_ context.Context, jobID string) (models.ChecklistRun, error) {
	var best models.ChecklistRun
	found := false
	for _, r := range t.m.Runs {
		if r.JobID != jobID || r.Status != models.RunSubmitted {
			continue
		}
		if !found || (r.SubmittedAt != nil && best.SubmittedAt != nil && r.SubmittedAt.After(*best.SubmittedAt)) {
			best = r
			found = true
		}
	}
	if !found {
		return models.ChecklistRun{}, ErrNoRow
	}
	return best, nil
}

func (t *memTx) CreateChecklistRun(_ context.Context, run models.ChecklistRun) error {
	if run.Status == models.RunInProgress {
		for _, r := range t.m.Runs {
			if r.JobID == run.JobID && r.Status == models.RunInProgress {
				return ErrDuplicate
			}
		}
	}
	run.CreatedAt = time.Now().UTC()
	t.m.Runs[run.ID] = run
	return nil
}

func (t *memTx) UpdateRunStatus(_ context.Context, id string, status models.RunStatus, at time.Time) error {
	r, ok := t.m.Runs[id]
	if !ok {
		return ErrNoRow
	}
	r.Status = status
	switch status {
	case models.RunSubmitted:
		r.SubmittedAt = &at
	case models.RunApproved:
		r.ApprovedAt = &at
	}
	t.m.Runs[id] = r
	return nil
}

func (t *memTx) UpsertRunItem(_ context.Context, item models.ChecklistRunItem) error {
	items, ok := t.m.RunItems[item.RunID]
	if !ok {
		items = map[string]models.ChecklistRunItem{}
		t.m.RunItems[item.RunID] = items
	}
	item.SavedAt = time.Now().UTC()
	items[item.ItemID] = item
	return nil
}

func (t *memTx) ListRunItems(_ context.Context, runID string) ([]models.ChecklistRunItem, error) {
	var out []models.ChecklistRunItem
	for _, it := range t.m.RunItems[runID] {
		out = append(out, it)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ItemID < out[k].ItemID })
	return out, nil
}

func (t *memTx) GetJobCompletion(_ context.Context, jobID string) (models.JobCompletion, error) {
	c, ok := t.m.Completions[jobID]
	if !ok {
		return models.JobCompletion{}, ErrNoRow
	}
	return c, nil
}

func (t *memTx) UpsertJobCompletion(_ context.Context, c models.JobCompletion) error {
	now := time.Now().UTC()
	if existing, ok := t.m.Completions[c.JobID]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	t.m.Completions[c.JobID] = c
	return nil
}

func (t *memTx) CreateEvidence(_ context.Context, ev models.Evidence) error {
	ev.CreatedAt = time.Now().UTC()
	t.m.Photos[ev.JobID] = append(t.m.Photos[ev.JobID], ev)
	return nil
}

func (t *memTx) ListEvidenceByJob(_ context.Context, jobID string) ([]models.Evidence, error) {
	return append([]models.Evidence(nil), t.m.Photos[jobID]...), nil
}

// ── billing ──

func (t *memTx) CreateInvoice(_ context.Context, inv models.Invoice) error {
	for _, existing := range t.m.Invoices {
		if existing.ClientID == inv.ClientID && existing.InvoiceNumber == inv.InvoiceNumber {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	inv.CreatedAt, inv.UpdatedAt = now, now
	t.m.Invoices[inv.ID] = inv
	return nil
}

func (t *memTx) GetInvoice(_ context.Context, id string) (models.Invoice, error) {
	inv, ok := t.m.Invoices[id]
	if !ok {
		return models.Invoice{}, ErrNoRow
	}
	return inv, nil
}

func (t *memTx) GetInvoiceForUpdate(ctx context.Context, id string) (models.Invoice, error) {
	return t.GetInvoice(ctx, id)
}

func (t *memTx) FindDraftInvoice(_ context.Context, clientID string, periodStart time.Time) (models.Invoice, error) {
	for _, inv := range t.m.Invoices {
		if inv.ClientID == clientID && inv.Status == models.InvoiceDraft && inv.PeriodStart.Equal(periodStart) {
			return inv, nil
		}
	}
	return models.Invoice{}, ErrNoRow
}

func (t *memTx) MaxInvoiceSeq(_ context.Context, clientID, numberPrefix string) (int, error) {
	max := 0
	for _, inv := range t.m.Invoices {
		if inv.ClientID != clientID || !strings.HasPrefix(inv.InvoiceNumber, numberPrefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(inv.InvoiceNumber, numberPrefix)); err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

func (t *memTx) AddInvoiceLine(_ context.Context, line models.InvoiceLineItem) error {
	line.CreatedAt = time.Now().UTC()
	t.m.Lines[line.InvoiceID] = append(t.m.Lines[line.InvoiceID], line)
	return nil
}

func (t *memTx) ListInvoiceLines(_ context.Context, invoiceID string) ([]models.InvoiceLineItem, error) {
	return append([]models.InvoiceLineItem(nil), t.m.Lines[invoiceID]...), nil
}

func (t *memTx) AddAdjustment(_ context.Context, adj models.BillingAdjustment) error {
	adj.CreatedAt = time.Now().UTC()
	t.m.Adjusts[adj.InvoiceID] = append(t.m.Adjusts[adj.InvoiceID], adj)
	return nil
}

func (t *memTx) ListAdjustments(_ context.Context, invoiceID string) ([]models.BillingAdjustment, error) {
	return append([]models.BillingAdjustment(nil), t.m.Adjusts[invoiceID]...), nil
}

func (t *memTx) UpdateInvoiceTotals(_ context.Context, id string, subtotal, tax, total int64) error {
	inv, ok := t.m.Invoices[id]
	if !ok {
		return ErrNoRow
	}
	inv.SubtotalCents, inv.TaxCents, inv.TotalCents = subtotal, tax, total
	inv.UpdatedAt = time.Now().UTC()
	t.m.Invoices[id] = inv
	return nil
}

func (t *memTx) UpdateInvoiceStatus(_ context.Context, id string, status models.InvoiceStatus, at time.Time) error {
	inv, ok := t.m.Invoices[id]
	if !ok {
		return ErrNoRow
	}
	inv.Status = status
	switch status {
	case models.InvoiceSent:
		inv.IssuedAt = &at
	case models.InvoicePaid:
		inv.PaidAt = &at
	}
	inv.UpdatedAt = time.Now().UTC()
	t.m.Invoices[id] = inv
	return nil
}

func (t *memTx) ListActiveContracts(_ context.Context, clientID string, from, to time.Time) ([]models.Contract, error) {
	var out []models.Contract
	for _, c := range t.m.Contracts {
		if c.ClientID == clientID && c.ActiveDuring(from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ── payouts ──

func (t *memTx) GetWorkerAccountID(_ context.Context, workerID string) (string, error) {
	acct, ok := t.m.WorkerAccounts[workerID]
	if !ok {
		return "", ErrNoRow
	}
	return acct, nil
}

func (t *memTx) CreatePayoutBatch(_ context.Context, batch models.PayoutBatch) error {
	if _, ok := t.m.Batches[batch.ID]; ok {
		return ErrDuplicate
	}
	batch.CreatedAt = time.Now().UTC()
	t.m.Batches[batch.ID] = batch
	return nil
}

func (t *memTx) GetPayoutBatch(_ context.Context, id string) (models.PayoutBatch, error) {
	b, ok := t.m.Batches[id]
	if !ok {
		return models.PayoutBatch{}, ErrNoRow
	}
	return b, nil
}

func (t *memTx) CreatePayoutLine(_ context.Context, line models.PayoutLine) error {
	if t.m.PayoutJobs[line.JobID] {
		return ErrDuplicate
	}
	line.CreatedAt = time.Now().UTC()
	t.m.PayoutJobs[line.JobID] = true
	t.m.BatchLines[line.BatchID] = append(t.m.BatchLines[line.BatchID], line)
	return nil
}

func (t *memTx) ListPayoutLines(_ context.Context, batchID string) ([]models.PayoutLine, error) {
	return append([]models.PayoutLine(nil), t.m.BatchLines[batchID]...), nil
}

func (t *memTx) HasPayoutLineForJob(_ context.Context, jobID string) (bool, error) {
	return t.m.PayoutJobs[jobID], nil
}

func (t *memTx) UpdatePayoutBatchStatus(_ context.Context, id string, status models.PayoutBatchStatus, at time.Time) error {
	b, ok := t.m.Batches[id]
	if !ok {
		return ErrNoRow
	}
	b.Status = status
	if status == models.PayoutPaid {
		b.PaidAt = &at
	}
	t.m.Batches[id] = b
	return nil
}

// ── work orders & incidents ──

func (t *memTx) CreateWorkOrder(_ context.Context, wo models.WorkOrder) error {
	if _, ok := t.m.WorkOrders[wo.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	wo.CreatedAt, wo.UpdatedAt = now, now
	t.m.WorkOrders[wo.ID] = wo
	return nil
}

func (t *memTx) GetWorkOrder(_ context.Context, id string) (models.WorkOrder, error) {
	wo, ok := t.m.WorkOrders[id]
	if !ok {
		return models.WorkOrder{}, ErrNoRow
	}
	return wo, nil
}

func (t *memTx) GetWorkOrderForUpdate(ctx context.Context, id string) (models.WorkOrder, error) {
	return t.GetWorkOrder(ctx, id)
}

func (t *memTx) UpdateWorkOrderStatus(_ context.Context, id string, status models.WorkOrderStatus) error {
	wo, ok := t.m.WorkOrders[id]
	if !ok {
		return ErrNoRow
	}
	wo.Status = status
	wo.UpdatedAt = time.Now().UTC()
	t.m.WorkOrders[id] = wo
	return nil
}

func (t *memTx) SetWorkOrderAssignee(_ context.Context, id string, as models.Assignee) error {
	wo, ok := t.m.WorkOrders[id]
	if !ok {
		return ErrNoRow
	}
	wo.Assignee = as
	wo.UpdatedAt = time.Now().UTC()
	t.m.WorkOrders[id] = wo
	return nil
}

func (t *memTx) ListWorkOrders(_ context.Context, status models.WorkOrderStatus) ([]models.WorkOrder, error) {
	var out []models.WorkOrder
	for _, wo := range t.m.WorkOrders {
		if status == "" || wo.Status == status {
			out = append(out, wo)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (t *memTx) CreateIncident(_ context.Context, inc models.IncidentReport) error {
	if _, ok := t.m.Incidents[inc.ID]; ok {
		return ErrDuplicate
	}
	inc.CreatedAt = time.Now().UTC()
	t.m.Incidents[inc.ID] = inc
	return nil
}

func (t *memTx) GetIncident(_ context.Context, id string) (models.IncidentReport, error) {
	inc, ok := t.m.Incidents[id]
	if !ok {
		return models.IncidentReport{}, ErrNoRow
	}
	return inc, nil
}

func (t *memTx) GetIncidentForUpdate(ctx context.Context, id string) (models.IncidentReport, error) {
	return t.GetIncident(ctx, id)
}

func (t *memTx) ResolveIncident(_ context.Context, id, resolvedByID string, at time.Time) error {
	inc, ok := t.m.Incidents[id]
	if !ok {
		return ErrNoRow
	}
	inc.Resolved = true
	inc.ResolvedByID = resolvedByID
	inc.ResolvedAt = &at
	t.m.Incidents[id] = inc
	return nil
}

func (t *memTx) ListIncidents(_ context.Context, resolved *bool) ([]models.IncidentReport, error) {
	var out []models.IncidentReport
	for _, inc := range t.m.Incidents {
		if resolved == nil || inc.Resolved == *resolved {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// ── audit ──

func (t *memTx) AppendAudit(_ context.Context, entry models.AuditEntry) error {
	t.m.auditSeq++
	entry.ID = t.m.auditSeq
	entry.CreatedAt = time.Now().UTC()
	t.m.Audits = append(t.m.Audits, entry)
	return nil
}

func (t *memTx) ListAudit(_ context.Context, entityType models.EntityType, entityID string) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range t.m.Audits {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}
