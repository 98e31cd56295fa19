// Package payout derives worker disbursements from approved jobs. A job is
// paid out at most once ever: the store's unique payout-line constraint on
// job_id is the backstop behind every check here.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/statemachine"
	"fieldops-portal/internal/store"
)

// Service owns payout batch lifecycle.
type Service struct {
	db  store.DB
	sm  *statemachine.Engine
	log zerolog.Logger
}

func NewService(db store.DB, sm *statemachine.Engine, log zerolog.Logger) *Service {
	return &Service{db: db, sm: sm, log: log}
}

// batchOrder is the only legal status progression for a payout batch.
var batchOrder = map[models.PayoutBatchStatus]models.PayoutBatchStatus{
	models.PayoutCalculated: models.PayoutApproved,
	models.PayoutApproved:   models.PayoutReleased,
	models.PayoutReleased:   models.PayoutPaid,
}

// CreateBatch calculates a payroll run over [periodStart, periodEnd):
// every approved-payable job scheduled in the period that has never been
// paid out becomes one line, attributed to a workforce account either
// directly or through the assigned worker. The batch, its lines, and one
// audit row commit together.
func (s *Service) CreateBatch(ctx context.Context, actor models.Actor, periodStart, periodEnd time.Time) (models.PayoutBatch, []models.PayoutLine, error) {
	if !actor.IsAdmin() {
		return models.PayoutBatch{}, nil, faults.Forbidden("admin role required")
	}
	if !periodStart.Before(periodEnd) {
		return models.PayoutBatch{}, nil, faults.Validation("payout period start must precede period end")
	}

	var batch models.PayoutBatch
	var lines []models.PayoutLine
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		jobs, err := tx.ListJobs(ctx, store.JobFilter{
			Status:        models.JobApprovedPayable,
			ScheduledFrom: periodStart,
			ScheduledTo:   periodEnd,
		})
		if err != nil {
			return err
		}

		batch = models.PayoutBatch{
			ID:          uuid.New().String(),
			Status:      models.PayoutCalculated,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}

		lines = lines[:0]
		for _, job := range jobs {
			if job.PayoutAmountCents <= 0 {
				continue
			}
			already, err := tx.HasPayoutLineForJob(ctx, job.ID)
			if err != nil {
				return err
			}
			if already {
				continue
			}
			accountID, err := s.resolveAccount(ctx, tx, job)
			if err != nil {
				return err
			}
			if accountID == "" {
				s.log.Warn().Str("job_id", job.ID).Msg("skipping payout for job with no payable account")
				continue
			}
			line := models.PayoutLine{
				ID:                 uuid.New().String(),
				BatchID:            batch.ID,
				JobID:              job.ID,
				WorkforceAccountID: accountID,
				AmountCents:        job.PayoutAmountCents,
				Description:        fmt.Sprintf("Job on %s", job.ScheduledStart.Format("2006-01-02")),
			}
			lines = append(lines, line)
			batch.TotalCents += line.AmountCents
		}

		if err := tx.CreatePayoutBatch(ctx, batch); err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.CreatePayoutLine(ctx, line); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return faults.Conflict("job %s already has a payout line", line.JobID)
				}
				return err
			}
		}
		return tx.AppendAudit(ctx, models.AuditEntry{
			ActorUserID: actor.ID,
			EntityType:  models.EntityPayoutBatch,
			EntityID:    batch.ID,
			FromState:   "",
			ToState:     string(models.PayoutCalculated),
			Metadata: map[string]any{
				"lines":      len(lines),
				"totalCents": batch.TotalCents,
			},
		})
	})
	if err != nil {
		return models.PayoutBatch{}, nil, err
	}
	s.log.Info().
		Str("batch_id", batch.ID).
		Int("lines", len(lines)).
		Int64("total_cents", batch.TotalCents).
		Msg("payout batch calculated")
	return batch, lines, nil
}

func (s *Service) resolveAccount(ctx context.Context, tx store.Tx, job models.Job) (string, error) {
	switch job.Assignee.Kind {
	case models.AssigneeWorkforceAccount:
		return job.Assignee.ID, nil
	case models.AssigneeWorker:
		accountID, err := tx.GetWorkerAccountID(ctx, job.Assignee.ID)
		if errors.Is(err, store.ErrNoRow) {
			return "", nil
		}
		return accountID, err
	default:
		return "", nil
	}
}

// Advance moves a batch one step along CALCULATED, APPROVED, RELEASED.
// MarkPaid owns the final step because it also pays the jobs.
func (s *Service) Advance(ctx context.Context, actor models.Actor, batchID string, to models.PayoutBatchStatus) error {
	if !actor.IsAdmin() {
		return faults.Forbidden("admin role required")
	}
	if to == models.PayoutPaid {
		return faults.Validation("use the mark-paid operation to pay a batch")
	}
	return s.db.WithTx(ctx, func(tx store.Tx) error {
		batch, err := s.getBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batchOrder[batch.Status] != to {
			return faults.InvalidState("payout batch %s is %s and cannot move to %s", batchID, batch.Status, to)
		}
		if err := tx.UpdatePayoutBatchStatus(ctx, batchID, to, time.Now().UTC()); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, models.AuditEntry{
			ActorUserID: actor.ID,
			EntityType:  models.EntityPayoutBatch,
			EntityID:    batchID,
			FromState:   string(batch.Status),
			ToState:     string(to),
		})
	})
}

// MarkPaid settles a released batch. Every job on the batch transitions to
// PAID in the same transaction as the batch itself: one job that cannot
// move fails the whole operation and nothing is recorded.
func (s *Service) MarkPaid(ctx context.Context, actor models.Actor, batchID string) error {
	if !actor.IsAdmin() {
		return faults.Forbidden("admin role required")
	}
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		batch, err := s.getBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != models.PayoutReleased {
			return faults.InvalidState("payout batch %s is %s, only released batches can be paid", batchID, batch.Status)
		}
		lines, err := tx.ListPayoutLines(ctx, batchID)
		if err != nil {
			return err
		}

		metadata := map[string]any{"payoutBatchId": batchID}
		for _, line := range lines {
			if err := s.sm.TransitionJobTx(ctx, tx, actor, line.JobID, models.JobPaid, metadata); err != nil {
				return fmt.Errorf("paying job %s: %w", line.JobID, err)
			}
		}

		now := time.Now().UTC()
		if err := tx.UpdatePayoutBatchStatus(ctx, batchID, models.PayoutPaid, now); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, models.AuditEntry{
			ActorUserID: actor.ID,
			EntityType:  models.EntityPayoutBatch,
			EntityID:    batchID,
			FromState:   string(models.PayoutReleased),
			ToState:     string(models.PayoutPaid),
			Metadata:    map[string]any{"jobsPaid": len(lines)},
		})
	})
	if err == nil {
		s.log.Info().Str("batch_id", batchID).Msg("payout batch paid")
	}
	return err
}

// GetBatch returns a batch with its lines.
func (s *Service) GetBatch(ctx context.Context, batchID string) (models.PayoutBatch, []models.PayoutLine, error) {
	var batch models.PayoutBatch
	var lines []models.PayoutLine
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if batch, err = s.getBatch(ctx, tx, batchID); err != nil {
			return err
		}
		lines, err = tx.ListPayoutLines(ctx, batchID)
		return err
	})
	return batch, lines, err
}

func (s *Service) getBatch(ctx context.Context, tx store.Tx, batchID string) (models.PayoutBatch, error) {
	batch, err := tx.GetPayoutBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return models.PayoutBatch{}, faults.NotFound("payout batch", batchID)
		}
		return models.PayoutBatch{}, err
	}
	return batch, nil
}
