package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
)

var (
	admin  = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	worker = models.Actor{ID: "user-1", Role: models.RoleWorker, WorkerID: "worker-1"}
	other  = models.Actor{ID: "user-2", Role: models.RoleWorker, WorkerID: "worker-2"}
)

func jobIn(status models.JobStatus) models.Job {
	return models.Job{
		ID:       "job-1",
		Status:   status,
		Assignee: models.WorkerAssignee("worker-1"),
	}
}

func TestCanTransitionJobTable(t *testing.T) {
	cases := []struct {
		name    string
		actor   models.Actor
		from    models.JobStatus
		to      models.JobStatus
		allowed bool
	}{
		{"worker completes own job", worker, models.JobScheduled, models.JobPendingApproval, true},
		{"other worker cannot complete", other, models.JobScheduled, models.JobPendingApproval, false},
		{"admin can complete on worker's behalf", admin, models.JobScheduled, models.JobPendingApproval, true},
		{"admin approves", admin, models.JobPendingApproval, models.JobApprovedPayable, true},
		{"worker cannot approve", worker, models.JobPendingApproval, models.JobApprovedPayable, false},
		{"admin rejects to scheduled", admin, models.JobPendingApproval, models.JobScheduled, true},
		{"admin cancels scheduled", admin, models.JobScheduled, models.JobCancelled, true},
		{"admin cancels pending", admin, models.JobPendingApproval, models.JobCancelled, true},
		{"admin pays approved", admin, models.JobApprovedPayable, models.JobPaid, true},

		{"no skip to approved", admin, models.JobScheduled, models.JobApprovedPayable, false},
		{"no skip to paid", admin, models.JobPendingApproval, models.JobPaid, false},
		{"no cancel after approval", admin, models.JobApprovedPayable, models.JobCancelled, false},
		{"paid is terminal", admin, models.JobPaid, models.JobScheduled, false},
		{"paid cannot cancel", admin, models.JobPaid, models.JobCancelled, false},
		{"cancelled is terminal", admin, models.JobCancelled, models.JobScheduled, false},
		{"no backward from approved", admin, models.JobApprovedPayable, models.JobPendingApproval, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := CanTransitionJob(tc.actor, jobIn(tc.from), tc.to)
			if d.Allowed != tc.allowed {
				t.Fatalf("%s -> %s as %s: allowed=%v want %v (%s)",
					tc.from, tc.to, tc.actor.Role, d.Allowed, tc.allowed, d.Reason)
			}
		})
	}
}

func TestReasonFromAcceptsAllKeySpellings(t *testing.T) {
	for _, key := range []string{"reason", "rejectionReason", "cancelReason"} {
		if got := ReasonFrom(map[string]any{key: "late arrival"}); got != "late arrival" {
			t.Fatalf("key %q: got %q", key, got)
		}
	}
	if got := ReasonFrom(map[string]any{"reason": "   "}); got != "" {
		t.Fatalf("whitespace reason should read empty, got %q", got)
	}
	if got := ReasonFrom(nil); got != "" {
		t.Fatalf("nil metadata should read empty, got %q", got)
	}
}

func TestTransitionJobRequiresReasonOnRejectAndCancel(t *testing.T) {
	ctx := context.Background()
	edges := []struct {
		from, to models.JobStatus
	}{
		{models.JobPendingApproval, models.JobScheduled},
		{models.JobScheduled, models.JobCancelled},
		{models.JobPendingApproval, models.JobCancelled},
	}

	for _, edge := range edges {
		mem := store.NewMemory()
		mem.Seed(func(tx store.Tx) {
			_ = tx.CreateJob(ctx, jobIn(edge.from))
		})
		eng := New(mem, zerolog.Nop())

		err := eng.TransitionJob(ctx, admin, "job-1", edge.to, nil)
		if faults.CodeOf(err) != faults.CodeValidationFailed {
			t.Fatalf("%s -> %s without reason: got %v, want validation failure", edge.from, edge.to, err)
		}

		err = eng.TransitionJob(ctx, admin, "job-1", edge.to, map[string]any{"reason": "client rescheduled"})
		if err != nil {
			t.Fatalf("%s -> %s with reason: %v", edge.from, edge.to, err)
		}
	}
}

func TestTransitionJobWritesAuditInSameUnitOfWork(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(ctx, jobIn(models.JobScheduled))
	})
	eng := New(mem, zerolog.Nop())

	if err := eng.TransitionJob(ctx, worker, "job-1", models.JobPendingApproval, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if got := mem.Jobs["job-1"].Status; got != models.JobPendingApproval {
		t.Fatalf("job status = %s", got)
	}
	if len(mem.Audits) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(mem.Audits))
	}
	entry := mem.Audits[0]
	if entry.FromState != string(models.JobScheduled) || entry.ToState != string(models.JobPendingApproval) {
		t.Fatalf("audit recorded %s -> %s", entry.FromState, entry.ToState)
	}
	if entry.ActorUserID != worker.ID {
		t.Fatalf("audit actor = %s", entry.ActorUserID)
	}
}

func TestTransitionJobDeniedLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Seed(func(tx store.Tx) {
		_ = tx.CreateJob(ctx, jobIn(models.JobPendingApproval))
	})
	eng := New(mem, zerolog.Nop())

	err := eng.TransitionJob(ctx, worker, "job-1", models.JobApprovedPayable, nil)
	if faults.CodeOf(err) != faults.CodeForbidden {
		t.Fatalf("worker approve: got %v, want forbidden", err)
	}
	if got := mem.Jobs["job-1"].Status; got != models.JobPendingApproval {
		t.Fatalf("denied transition mutated status to %s", got)
	}
	if len(mem.Audits) != 0 {
		t.Fatalf("denied transition wrote %d audit rows", len(mem.Audits))
	}
}

func TestTransitionJobNotFound(t *testing.T) {
	eng := New(store.NewMemory(), zerolog.Nop())
	err := eng.TransitionJob(context.Background(), admin, "nope", models.JobCancelled, map[string]any{"reason": "x"})
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestOwnershipThroughWorkforceAccount(t *testing.T) {
	accountActor := models.Actor{ID: "user-3", Role: models.RoleWorker, WorkforceAccountID: "acct-9"}
	job := models.Job{ID: "job-2", Status: models.JobScheduled, Assignee: models.AccountAssignee("acct-9")}

	if d := CanTransitionJob(accountActor, job, models.JobPendingApproval); !d.Allowed {
		t.Fatalf("account owner denied: %s", d.Reason)
	}
	if d := CanTransitionJob(worker, job, models.JobPendingApproval); d.Allowed {
		t.Fatalf("non-owner allowed through account assignment")
	}
}
