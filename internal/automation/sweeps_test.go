package automation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/billing"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
)

func newSweeper(mem *store.Memory, overdueAfter time.Duration) *Sweeper {
	svc := billing.NewService(mem, zerolog.Nop())
	return NewSweeper(mem, svc, overdueAfter, zerolog.Nop())
}

func TestMakeGoodSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(ctx, models.Job{
			ID:                  "job-missed",
			SiteID:              "site-1",
			ClientID:            "client-1",
			Status:              models.JobScheduled,
			ScheduledStart:      start,
			ScheduledEnd:        start.Add(2 * time.Hour),
			Assignee:            models.WorkerAssignee("worker-1"),
			PayoutAmountCents:   4500,
			BillableAmountCents: 8500,
			BillableStatus:      models.BillableUnbilled,
		})
		_ = tx.SetJobMissed(ctx, "job-missed", "site locked")
	})
	sweeper := newSweeper(mem, time.Hour)

	now := start.Add(6 * time.Hour)
	created, err := sweeper.MakeGoodSweep(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	missed := mem.Jobs["job-missed"]
	if missed.MakeGoodJobID == nil {
		t.Fatalf("missed job not linked")
	}
	makeGood := mem.Jobs[*missed.MakeGoodJobID]
	if makeGood.SiteID != "site-1" || makeGood.Assignee != missed.Assignee {
		t.Fatalf("make-good = %+v", makeGood)
	}
	if makeGood.PayoutAmountCents != 4500 {
		t.Fatalf("make-good payout = %d", makeGood.PayoutAmountCents)
	}
	// The client is not charged again for the same visit.
	if makeGood.BillableAmountCents != 0 || makeGood.BillableStatus != models.BillableNone {
		t.Fatalf("make-good billing = %d %s", makeGood.BillableAmountCents, makeGood.BillableStatus)
	}
	if !makeGood.ScheduledStart.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("make-good scheduled at %s", makeGood.ScheduledStart)
	}
	if makeGood.ScheduledEnd.Sub(makeGood.ScheduledStart) != 2*time.Hour {
		t.Fatalf("make-good duration = %s", makeGood.ScheduledEnd.Sub(makeGood.ScheduledStart))
	}

	created, err = sweeper.MakeGoodSweep(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if created != 0 {
		t.Fatalf("second sweep created %d", created)
	}
	if len(mem.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(mem.Jobs))
	}
}

func TestInvoiceAttachSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(ctx, models.Job{
			ID:                  "job-billable",
			ClientID:            "client-1",
			Status:              models.JobApprovedPayable,
			ScheduledStart:      start,
			BillableAmountCents: 8500,
			BillableStatus:      models.BillableUnbilled,
		})
		_ = tx.CreateJob(ctx, models.Job{
			ID:             "job-free",
			ClientID:       "client-1",
			Status:         models.JobApprovedPayable,
			ScheduledStart: start,
			BillableStatus: models.BillableNone,
		})
	})
	sweeper := newSweeper(mem, time.Hour)

	attached, err := sweeper.InvoiceAttachSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if attached != 1 {
		t.Fatalf("attached = %d, want 1", attached)
	}

	job := mem.Jobs["job-billable"]
	if job.InvoiceID == nil {
		t.Fatalf("job not attached")
	}
	inv := mem.Invoices[*job.InvoiceID]
	if inv.Status != models.InvoiceDraft || inv.ClientID != "client-1" {
		t.Fatalf("invoice = %+v", inv)
	}
	// The draft covers the month the job was scheduled in.
	if !inv.PeriodStart.Equal(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("period start = %s", inv.PeriodStart)
	}
	if inv.SubtotalCents != 8500 {
		t.Fatalf("subtotal = %d", inv.SubtotalCents)
	}

	attached, err = sweeper.InvoiceAttachSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if attached != 0 {
		t.Fatalf("second sweep attached %d", attached)
	}
	if len(mem.Invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(mem.Invoices))
	}
	if got := len(mem.Lines[*job.InvoiceID]); got != 1 {
		t.Fatalf("lines = %d, want 1", got)
	}
}

func TestApprovalOverdueSweepFlagsOnce(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(ctx, models.Job{
			ID:       "job-stale",
			Status:   models.JobPendingApproval,
			Assignee: models.WorkerAssignee("worker-1"),
		})
		_ = tx.CreateJob(ctx, models.Job{
			ID:       "job-fresh",
			Status:   models.JobPendingApproval,
			Assignee: models.WorkerAssignee("worker-1"),
		})
	})
	// Age only the stale job past the window.
	stale := mem.Jobs["job-stale"]
	stale.UpdatedAt = time.Now().UTC().Add(-96 * time.Hour)
	mem.Jobs["job-stale"] = stale
	sweeper := newSweeper(mem, 72*time.Hour)

	flagged, err := sweeper.ApprovalOverdueSweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("flagged = %d, want 1", flagged)
	}
	if !mem.Jobs["job-stale"].ApprovalOverdue {
		t.Fatalf("stale job not flagged")
	}
	if mem.Jobs["job-fresh"].ApprovalOverdue {
		t.Fatalf("fresh job flagged")
	}

	flagged, err = sweeper.ApprovalOverdueSweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if flagged != 0 {
		t.Fatalf("second sweep flagged %d", flagged)
	}
}
