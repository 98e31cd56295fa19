package bulk

import (
	"context"
	"testing"
	"time"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
)

func TestApproveJobClosesSubmittedRun(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	submittedAt := time.Now().UTC()
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(ctx, models.Job{
			ID:       "job-1",
			Status:   models.JobPendingApproval,
			Assignee: models.WorkerAssignee("worker-1"),
		})
		_ = tx.CreateChecklistRun(ctx, models.ChecklistRun{
			ID:          "run-1",
			JobID:       "job-1",
			Status:      models.RunSubmitted,
			SubmittedAt: &submittedAt,
		})
	})
	eng := newEngine(mem)

	if err := eng.actions.ApproveJob(ctx, admin, "job-1", nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := mem.Jobs["job-1"].Status; got != models.JobApprovedPayable {
		t.Fatalf("job = %s", got)
	}
	if got := mem.Runs["run-1"].Status; got != models.RunApproved {
		t.Fatalf("run = %s", got)
	}
}

func TestRejectJobMarksRunRejected(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	submittedAt := time.Now().UTC()
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(ctx, models.Job{
			ID:       "job-1",
			Status:   models.JobPendingApproval,
			Assignee: models.WorkerAssignee("worker-1"),
		})
		_ = tx.CreateChecklistRun(ctx, models.ChecklistRun{
			ID:          "run-1",
			JobID:       "job-1",
			Status:      models.RunSubmitted,
			SubmittedAt: &submittedAt,
		})
	})
	eng := newEngine(mem)

	err := eng.actions.RejectJob(ctx, admin, "job-1", map[string]any{"reason": "incomplete work"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got := mem.Jobs["job-1"].Status; got != models.JobScheduled {
		t.Fatalf("job = %s", got)
	}
	if got := mem.Runs["run-1"].Status; got != models.RunRejected {
		t.Fatalf("run = %s", got)
	}
}

func TestMarkJobMissed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedJobs(mem, map[string]models.JobStatus{"job-1": models.JobScheduled})
	eng := newEngine(mem)

	if err := eng.actions.MarkJobMissed(ctx, admin, "job-1", ""); faults.CodeOf(err) != faults.CodeValidationFailed {
		t.Fatalf("missed without reason: got %v", err)
	}
	if err := eng.actions.MarkJobMissed(ctx, admin, "job-1", "site locked"); err != nil {
		t.Fatalf("missed: %v", err)
	}
	job := mem.Jobs["job-1"]
	if !job.IsMissed || job.MissedReason == nil || *job.MissedReason != "site locked" {
		t.Fatalf("job = %+v", job)
	}
	// Marking twice is a conflict, not a silent no-op.
	if err := eng.actions.MarkJobMissed(ctx, admin, "job-1", "again"); faults.CodeOf(err) != faults.CodeConflict {
		t.Fatalf("double missed: got %v", err)
	}

	seedJobs(mem, map[string]models.JobStatus{"job-2": models.JobPendingApproval})
	if err := eng.actions.MarkJobMissed(ctx, admin, "job-2", "x"); faults.CodeOf(err) != faults.CodeInvalidState {
		t.Fatalf("missed on pending job: got %v", err)
	}
}
