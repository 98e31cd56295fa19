package billing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
)

var (
	admin  = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	worker = models.Actor{ID: "user-1", Role: models.RoleWorker, WorkerID: "worker-1"}
)

var (
	periodStart = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = periodStart.AddDate(0, 1, 0)
)

func seedApprovedJob(mem *store.Memory, id, clientID string, billableCents int64) {
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(context.Background(), models.Job{
			ID:                  id,
			ClientID:            clientID,
			Status:              models.JobApprovedPayable,
			ScheduledStart:      periodStart.AddDate(0, 0, 4),
			BillableAmountCents: billableCents,
			BillableStatus:      models.BillableUnbilled,
			Assignee:            models.WorkerAssignee("worker-1"),
		})
	})
}

func TestInvoiceTotalsJobLinePlusDiscount(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedApprovedJob(mem, "job-1", "client-1", 8500)
	svc := NewService(mem, zerolog.Nop())

	inv, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := svc.AddJobLine(ctx, admin, inv.ID, "job-1"); err != nil {
		t.Fatalf("add job line: %v", err)
	}
	if err := svc.AddAdjustment(ctx, admin, inv.ID, models.AdjustmentDiscount, "loyalty discount", 1000); err != nil {
		t.Fatalf("add discount: %v", err)
	}

	got := mem.Invoices[inv.ID]
	if got.SubtotalCents != 7500 {
		t.Fatalf("subtotal = %d, want 7500", got.SubtotalCents)
	}
	if got.TaxCents != 975 {
		t.Fatalf("tax = %d, want 975", got.TaxCents)
	}
	if got.TotalCents != 8475 {
		t.Fatalf("total = %d, want 8475", got.TotalCents)
	}

	job := mem.Jobs["job-1"]
	if job.InvoiceID == nil || *job.InvoiceID != inv.ID {
		t.Fatalf("job not stamped with invoice: %+v", job)
	}
}

func TestTaxRounding(t *testing.T) {
	cases := []struct {
		subtotal, tax int64
	}{
		{7500, 975},
		{1, 0},     // 0.13 cents rounds down
		{4, 1},     // 0.52 cents rounds up
		{0, 0},
		{-7500, -975}, // tax follows the sign
	}
	for _, tc := range cases {
		if got := taxOn(tc.subtotal); got != tc.tax {
			t.Fatalf("taxOn(%d) = %d, want %d", tc.subtotal, got, tc.tax)
		}
	}
}

func TestInvoiceNumberingSequencesPerClientPeriod(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewService(mem, zerolog.Nop())

	first, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.InvoiceNumber != "INV-202603-ient-1-0001" {
		t.Fatalf("first number = %q", first.InvoiceNumber)
	}
	second, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.InvoiceNumber != "INV-202603-ient-1-0002" {
		t.Fatalf("second number = %q", second.InvoiceNumber)
	}

	// Another client starts its own sequence.
	otherClient, err := svc.CreateDraftInvoice(ctx, admin, "client-2", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("other client: %v", err)
	}
	if otherClient.InvoiceNumber != "INV-202603-ient-2-0001" {
		t.Fatalf("other client number = %q", otherClient.InvoiceNumber)
	}

	if _, err := svc.CreateDraftInvoice(ctx, worker, "client-1", periodStart, periodEnd); faults.CodeOf(err) != faults.CodeForbidden {
		t.Fatalf("worker create: got %v", err)
	}
	if _, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodEnd, periodStart); faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("inverted period: got %v", err)
	}
}

func TestGetOrCreateDraftReusesOpenDraft(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewService(mem, zerolog.Nop())

	first, err := svc.GetOrCreateDraft(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	again, err := svc.GetOrCreateDraft(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("again: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("second call opened a new draft %s != %s", again.ID, first.ID)
	}
}

func TestAddJobLineGuards(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedApprovedJob(mem, "job-1", "client-1", 8500)
	seedApprovedJob(mem, "job-other-client", "client-2", 4000)
	seedApprovedJob(mem, "job-free", "client-1", 0)
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(ctx, models.Job{
			ID:                  "job-scheduled",
			ClientID:            "client-1",
			Status:              models.JobScheduled,
			BillableAmountCents: 5000,
			BillableStatus:      models.BillableUnbilled,
		})
	})
	svc := NewService(mem, zerolog.Nop())

	inv, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	if err := svc.AddJobLine(ctx, admin, inv.ID, "job-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.AddJobLine(ctx, admin, inv.ID, "job-1"); faults.CodeOf(err) != faults.CodeConflict {
		t.Fatalf("double add: got %v", err)
	}
	if err := svc.AddJobLine(ctx, admin, inv.ID, "job-scheduled"); faults.CodeOf(err) != faults.CodeInvalidState {
		t.Fatalf("unapproved job: got %v", err)
	}
	if err := svc.AddJobLine(ctx, admin, inv.ID, "job-free"); faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("zero-amount job: got %v", err)
	}
	if err := svc.AddJobLine(ctx, admin, inv.ID, "job-other-client"); faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("cross-client job: got %v", err)
	}
	if err := svc.AddJobLine(ctx, worker, inv.ID, "job-1"); faults.CodeOf(err) != faults.CodeForbidden {
		t.Fatalf("worker add: got %v", err)
	}
}

func TestAddContractLinesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	ended := periodStart.AddDate(0, -2, 0)
	mem.Contracts = []models.Contract{
		{ID: "con-1", ClientID: "client-1", Description: "Monthly service", MonthlyBaseCents: 120000, StartDate: periodStart.AddDate(-1, 0, 0)},
		{ID: "con-expired", ClientID: "client-1", Description: "Old deal", MonthlyBaseCents: 90000, StartDate: periodStart.AddDate(-2, 0, 0), EndDate: &ended},
		{ID: "con-other", ClientID: "client-2", Description: "Not ours", MonthlyBaseCents: 50000, StartDate: periodStart},
	}
	svc := NewService(mem, zerolog.Nop())

	inv, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	added, err := svc.AddContractLines(ctx, admin, inv.ID)
	if err != nil {
		t.Fatalf("add contracts: %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	if got := mem.Invoices[inv.ID].SubtotalCents; got != 120000 {
		t.Fatalf("subtotal = %d", got)
	}

	added, err = svc.AddContractLines(ctx, admin, inv.ID)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added != 0 {
		t.Fatalf("second add = %d, want 0", added)
	}
	if got := len(mem.Lines[inv.ID]); got != 1 {
		t.Fatalf("lines = %d, want 1", got)
	}
}

func TestMarkSentLocksJobsAndFreezesInvoice(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedApprovedJob(mem, "job-1", "client-1", 8500)
	svc := NewService(mem, zerolog.Nop())

	inv, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := svc.AddJobLine(ctx, admin, inv.ID, "job-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.MarkSent(ctx, admin, inv.ID); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got := mem.Invoices[inv.ID].Status; got != models.InvoiceSent {
		t.Fatalf("invoice = %s", got)
	}
	if mem.Invoices[inv.ID].IssuedAt == nil {
		t.Fatalf("issued_at not stamped")
	}
	if got := mem.Jobs["job-1"].BillableStatus; got != models.BillableInvoiced {
		t.Fatalf("job billable status = %s", got)
	}

	// Sent invoices are frozen.
	if err := svc.AddAdjustment(ctx, admin, inv.ID, models.AdjustmentCharge, "late fee", 500); faults.CodeOf(err) != faults.CodeInvalidState {
		t.Fatalf("adjust sent invoice: got %v", err)
	}
	if err := svc.MarkSent(ctx, admin, inv.ID); faults.CodeOf(err) != faults.CodeInvalidState {
		t.Fatalf("double send: got %v", err)
	}
}

func TestMarkPaidOnlyFromSent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewService(mem, zerolog.Nop())

	inv, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := svc.MarkPaid(ctx, admin, inv.ID); faults.CodeOf(err) != faults.CodeInvalidState {
		t.Fatalf("pay draft: got %v", err)
	}
	if err := svc.MarkSent(ctx, admin, inv.ID); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.MarkPaid(ctx, admin, inv.ID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if got := mem.Invoices[inv.ID]; got.Status != models.InvoicePaid || got.PaidAt == nil {
		t.Fatalf("invoice = %+v", got)
	}
}

func TestVoidReleasesJobsForRebilling(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedApprovedJob(mem, "job-1", "client-1", 8500)
	svc := NewService(mem, zerolog.Nop())

	inv, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if err := svc.AddJobLine(ctx, admin, inv.ID, "job-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.MarkSent(ctx, admin, inv.ID); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := svc.Void(ctx, admin, inv.ID, ""); faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("void without reason: got %v", err)
	}
	if err := svc.Void(ctx, admin, inv.ID, "billing dispute"); err != nil {
		t.Fatalf("void: %v", err)
	}

	job := mem.Jobs["job-1"]
	if job.InvoiceID != nil {
		t.Fatalf("job still stamped with invoice")
	}
	if job.BillableStatus != models.BillableUnbilled {
		t.Fatalf("job billable status = %s", job.BillableStatus)
	}

	// The released job can land on a fresh invoice.
	next, err := svc.CreateDraftInvoice(ctx, admin, "client-1", periodStart, periodEnd)
	if err != nil {
		t.Fatalf("next draft: %v", err)
	}
	if err := svc.AddJobLine(ctx, admin, next.ID, "job-1"); err != nil {
		t.Fatalf("rebill: %v", err)
	}

	// Paid and void invoices cannot be voided.
	if err := svc.Void(ctx, admin, inv.ID, "again"); faults.CodeOf(err) != faults.CodeInvalidState {
		t.Fatalf("double void: got %v", err)
	}
}
