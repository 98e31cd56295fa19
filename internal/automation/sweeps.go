// Package automation holds the recurring sweeps that keep operational state
// converged: make-good jobs for missed visits, monthly invoice attachment,
// and overdue-approval flagging. Every sweep is idempotent; running one
// twice in a row changes nothing the second time.
package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/billing"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
	"fieldops-portal/internal/telemetry"
)

// Task type names, shared between the enqueuer and the worker's handler
// registry.
const (
	TaskMakeGoodSweep        = "makegood_sweep"
	TaskInvoiceAttach        = "invoice_attach"
	TaskApprovalOverdueSweep = "approval_overdue_sweep"
)

// SystemActor is the identity sweeps act under. It carries admin role so
// the same permission checks cover human and automated callers.
var SystemActor = models.Actor{ID: "system", Role: models.RoleAdmin}

// Sweeper runs the recurring sweeps.
type Sweeper struct {
	db           store.DB
	billing      *billing.Service
	overdueAfter time.Duration
	log          zerolog.Logger
}

func NewSweeper(db store.DB, billingSvc *billing.Service, overdueAfter time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{db: db, billing: billingSvc, overdueAfter: overdueAfter, log: log}
}

// MakeGoodSweep creates a no-charge follow-up job for every missed job that
// does not have one yet, linking the two so the next run skips them.
func (s *Sweeper) MakeGoodSweep(ctx context.Context, now time.Time) (int, error) {
	created := 0
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		missed, err := tx.ListJobs(ctx, store.JobFilter{MissedNoMakeGood: true})
		if err != nil {
			return err
		}
		for _, job := range missed {
			makeGood := models.Job{
				ID:                uuid.New().String(),
				SiteID:            job.SiteID,
				ClientID:          job.ClientID,
				Status:            models.JobScheduled,
				ScheduledStart:    now.Add(24 * time.Hour),
				ScheduledEnd:      now.Add(24*time.Hour + job.ScheduledEnd.Sub(job.ScheduledStart)),
				Assignee:          job.Assignee,
				PayoutAmountCents: job.PayoutAmountCents,
				// The client is not charged twice for one missed visit.
				BillableAmountCents: 0,
				BillableStatus:      models.BillableNone,
			}
			if err := tx.CreateJob(ctx, makeGood); err != nil {
				return err
			}
			if err := tx.SetJobMakeGood(ctx, job.ID, makeGood.ID); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, models.AuditEntry{
				ActorUserID: SystemActor.ID,
				EntityType:  models.EntityJob,
				EntityID:    job.ID,
				FromState:   string(job.Status),
				ToState:     string(job.Status),
				Metadata:    map[string]any{"makeGoodJobId": makeGood.ID},
			}); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	telemetry.AutomationRuns.WithLabelValues(TaskMakeGoodSweep).Inc()
	s.log.Info().Int("created", created).Msg("make-good sweep finished")
	return created, nil
}

// InvoiceAttachSweep pulls every approved, billable, not-yet-invoiced job
// onto its client's monthly draft invoice, creating the draft when absent.
// Jobs land on the draft covering the month they were scheduled in.
func (s *Sweeper) InvoiceAttachSweep(ctx context.Context) (int, error) {
	var candidates []models.Job
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		jobs, err := tx.ListJobs(ctx, store.JobFilter{Status: models.JobApprovedPayable})
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if job.InvoiceID == nil && job.Billable() {
				candidates = append(candidates, job)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	attached := 0
	for _, job := range candidates {
		periodStart := time.Date(job.ScheduledStart.Year(), job.ScheduledStart.Month(), 1, 0, 0, 0, 0, time.UTC)
		periodEnd := periodStart.AddDate(0, 1, 0)
		inv, err := s.billing.GetOrCreateDraft(ctx, SystemActor, job.ClientID, periodStart, periodEnd)
		if err != nil {
			s.log.Error().Err(err).Str("client_id", job.ClientID).Msg("invoice attach: draft lookup failed")
			continue
		}
		if err := s.billing.AddJobLine(ctx, SystemActor, inv.ID, job.ID); err != nil {
			// A racing admin may have attached the job first; that is fine.
			s.log.Warn().Err(err).Str("job_id", job.ID).Msg("invoice attach: skipping job")
			continue
		}
		attached++
	}
	telemetry.AutomationRuns.WithLabelValues(TaskInvoiceAttach).Inc()
	s.log.Info().Int("attached", attached).Msg("invoice attach sweep finished")
	return attached, nil
}

// ApprovalOverdueSweep flags jobs that have sat pending approval longer
// than the configured window. The flag is set once; already-flagged jobs
// are excluded from the listing.
func (s *Sweeper) ApprovalOverdueSweep(ctx context.Context, now time.Time) (int, error) {
	flagged := 0
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		jobs, err := tx.ListJobs(ctx, store.JobFilter{
			Status:             models.JobPendingApproval,
			PendingSince:       now.Add(-s.overdueAfter),
			NotApprovalFlagged: true,
		})
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if err := tx.SetJobApprovalOverdue(ctx, job.ID, true); err != nil {
				return err
			}
			flagged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	telemetry.AutomationRuns.WithLabelValues(TaskApprovalOverdueSweep).Inc()
	s.log.Info().Int("flagged", flagged).Msg("approval overdue sweep finished")
	return flagged, nil
}
