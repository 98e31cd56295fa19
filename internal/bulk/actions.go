package bulk

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/checklist"
	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/statemachine"
	"fieldops-portal/internal/store"
)

// Actions holds the single-item admin mutators. The API exposes them
// directly for one-at-a-time calls and the bulk executor reuses them
// per item, so both paths share one set of validations and side effects.
type Actions struct {
	db  store.DB
	sm  *statemachine.Engine
	log zerolog.Logger
}

func NewActions(db store.DB, sm *statemachine.Engine, log zerolog.Logger) *Actions {
	return &Actions{db: db, sm: sm, log: log}
}

// ApproveJob moves a pending job to APPROVED_PAYABLE and closes its
// submitted checklist run.
func (a *Actions) ApproveJob(ctx context.Context, actor models.Actor, jobID string, metadata map[string]any) error {
	return a.db.WithTx(ctx, func(tx store.Tx) error {
		if err := a.sm.TransitionJobTx(ctx, tx, actor, jobID, models.JobApprovedPayable, metadata); err != nil {
			return err
		}
		return checklist.ReviewRunForJobTx(ctx, tx, jobID, true, time.Now().UTC())
	})
}

// RejectJob sends a pending job back to SCHEDULED with a mandatory reason
// and marks its submitted run rejected. The worker gets a fresh run on the
// next checklist open.
func (a *Actions) RejectJob(ctx context.Context, actor models.Actor, jobID string, metadata map[string]any) error {
	return a.db.WithTx(ctx, func(tx store.Tx) error {
		if err := a.sm.TransitionJobTx(ctx, tx, actor, jobID, models.JobScheduled, metadata); err != nil {
			return err
		}
		return checklist.ReviewRunForJobTx(ctx, tx, jobID, false, time.Now().UTC())
	})
}

// CancelJob cancels a job with a mandatory reason.
func (a *Actions) CancelJob(ctx context.Context, actor models.Actor, jobID string, metadata map[string]any) error {
	return a.sm.TransitionJob(ctx, actor, jobID, models.JobCancelled, metadata)
}

// MarkJobMissed flags a job missed with a reason. Missed jobs stay out of
// billing until an admin decides otherwise and feed the make-good sweep.
func (a *Actions) MarkJobMissed(ctx context.Context, actor models.Actor, jobID, reason string) error {
	if reason == "" {
		return faults.Validation("a non-empty reason is required to mark a job missed")
	}
	return a.db.WithTx(ctx, func(tx store.Tx) error {
		job, err := tx.GetJobForUpdate(ctx, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("job", jobID)
			}
			return err
		}
		if !actor.IsAdmin() {
			return faults.Forbidden("admin role required")
		}
		if job.Status != models.JobScheduled {
			return faults.InvalidState("only a scheduled job can be marked missed, job is %s", job.Status)
		}
		if job.IsMissed {
			return faults.Conflict("job %s is already marked missed", jobID)
		}
		if err := tx.SetJobMissed(ctx, jobID, reason); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, models.AuditEntry{
			ActorUserID: actor.ID,
			EntityType:  models.EntityJob,
			EntityID:    jobID,
			FromState:   string(job.Status),
			ToState:     string(job.Status),
			Metadata:    map[string]any{"missed": true, "reason": reason},
		})
	})
}

// ResolveIncident marks an incident resolved. Resolving twice is a
// conflict, not a silent no-op, so bulk results stay honest.
func (a *Actions) ResolveIncident(ctx context.Context, actor models.Actor, incidentID string, metadata map[string]any) error {
	return a.db.WithTx(ctx, func(tx store.Tx) error {
		inc, err := tx.GetIncidentForUpdate(ctx, incidentID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("incident report", incidentID)
			}
			return err
		}
		if !actor.IsAdmin() {
			return faults.Forbidden("admin role required")
		}
		if inc.Resolved {
			return faults.Conflict("incident %s is already resolved", incidentID)
		}
		if err := tx.ResolveIncident(ctx, incidentID, actor.ID, time.Now().UTC()); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, models.AuditEntry{
			ActorUserID: actor.ID,
			EntityType:  models.EntityIncident,
			EntityID:    incidentID,
			FromState:   "OPEN",
			ToState:     "RESOLVED",
			Metadata:    metadata,
		})
	})
}

// TransitionWorkOrder applies one work-order transition; the bulk executor
// uses it for approve/complete/cancel over work orders.
func (a *Actions) TransitionWorkOrder(ctx context.Context, actor models.Actor, id string, to models.WorkOrderStatus, metadata map[string]any) error {
	return a.sm.TransitionWorkOrder(ctx, actor, id, to, metadata)
}
