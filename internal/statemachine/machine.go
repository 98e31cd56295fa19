// Package statemachine owns every lifecycle move for jobs and work orders.
// The transition tables are the single source of truth for what is legal;
// all status writes flow through Engine so each move lands with its audit
// row in one transaction.
package statemachine

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
	"fieldops-portal/internal/telemetry"
)

// Decision is the outcome of a pure transition check. Usable for previews
// without touching state.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision { return Decision{Reason: reason} }

var allow = Decision{Allowed: true}

// arc describes one legal edge: who may traverse it and whether it demands
// an operator-supplied reason.
type arc struct {
	workerOwned bool // caller must own the job's assignment
	adminOnly   bool
	needsReason bool
}

type jobEdge struct {
	from, to models.JobStatus
}

var jobArcs = map[jobEdge]arc{
	{models.JobScheduled, models.JobPendingApproval}:       {workerOwned: true},
	{models.JobPendingApproval, models.JobApprovedPayable}: {adminOnly: true},
	{models.JobPendingApproval, models.JobScheduled}:       {adminOnly: true, needsReason: true},
	{models.JobScheduled, models.JobCancelled}:             {adminOnly: true, needsReason: true},
	{models.JobPendingApproval, models.JobCancelled}:       {adminOnly: true, needsReason: true},
	{models.JobApprovedPayable, models.JobPaid}:            {adminOnly: true},
}

// CanTransitionJob is the pure checker: it decides whether the actor may move
// this job to the target state, without mutating anything.
func CanTransitionJob(actor models.Actor, job models.Job, to models.JobStatus) Decision {
	a, ok := jobArcs[jobEdge{job.Status, to}]
	if !ok {
		return deny("transition from " + string(job.Status) + " to " + string(to) + " is not allowed")
	}
	if a.workerOwned && !actor.IsAdmin() && !job.Assignee.BelongsTo(actor) {
		return deny("only the assigned worker may complete this job")
	}
	if a.adminOnly && !actor.IsAdmin() {
		return deny("admin role required")
	}
	return allow
}

// jobReasonRequired reports whether the edge demands a non-empty reason.
func jobReasonRequired(from, to models.JobStatus) bool {
	a, ok := jobArcs[jobEdge{from, to}]
	return ok && a.needsReason
}

// ReasonFrom pulls the operator-supplied reason out of transition metadata.
// Callers use a few historical key spellings; all are accepted.
func ReasonFrom(metadata map[string]any) string {
	for _, key := range []string{"reason", "rejectionReason", "cancelReason"} {
		if v, ok := metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Engine applies transitions transactionally: re-read under row lock,
// validate with the pure checker, write the status, append the audit row.
type Engine struct {
	db  store.DB
	log zerolog.Logger
}

func New(db store.DB, log zerolog.Logger) *Engine {
	return &Engine{db: db, log: log}
}

// TransitionJob moves one job inside its own transaction.
func (e *Engine) TransitionJob(ctx context.Context, actor models.Actor, jobID string, to models.JobStatus, metadata map[string]any) error {
	return e.db.WithTx(ctx, func(tx store.Tx) error {
		return e.TransitionJobTx(ctx, tx, actor, jobID, to, metadata)
	})
}

// TransitionJobTx moves one job inside a caller-owned transaction. Payout
// mark-paid and checklist submission use this to keep their own writes and
// the transition atomic together.
func (e *Engine) TransitionJobTx(ctx context.Context, tx store.Tx, actor models.Actor, jobID string, to models.JobStatus, metadata map[string]any) error {
	job, err := tx.GetJobForUpdate(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return faults.NotFound("job", jobID)
		}
		return err
	}

	d := CanTransitionJob(actor, job, to)
	if !d.Allowed {
		telemetry.TransitionsRejected.Inc()
		return transitionFault(d.Reason)
	}
	if jobReasonRequired(job.Status, to) && ReasonFrom(metadata) == "" {
		return faults.Validation("a non-empty reason is required for this transition")
	}

	if err := tx.UpdateJobStatus(ctx, jobID, to); err != nil {
		return err
	}
	if err := tx.AppendAudit(ctx, models.AuditEntry{
		ActorUserID: actor.ID,
		EntityType:  models.EntityJob,
		EntityID:    jobID,
		FromState:   string(job.Status),
		ToState:     string(to),
		Metadata:    metadata,
	}); err != nil {
		return err
	}

	telemetry.TransitionsApplied.WithLabelValues(string(models.EntityJob)).Inc()
	e.log.Info().
		Str("job_id", jobID).
		Str("from", string(job.Status)).
		Str("to", string(to)).
		Str("actor", actor.ID).
		Msg("job transitioned")
	return nil
}

// transitionFault maps a checker rejection onto the fault taxonomy: role
// failures are forbidden, ownership mismatches unauthorized, everything else
// is an illegal state move.
func transitionFault(reason string) error {
	switch {
	case strings.Contains(reason, "admin role"):
		return faults.Forbidden("%s", reason)
	case strings.Contains(reason, "assigned"):
		return faults.Unauthorized("%s", reason)
	default:
		return faults.InvalidState("%s", reason)
	}
}
