package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"fieldops-portal/internal/models"
)

const jobColumns = `id, site_id, client_id, status, scheduled_start, scheduled_end,
	assignee_kind, assignee_id, payout_amount_cents, billable_amount_cents,
	billable_status, is_missed, missed_reason, make_good_job_id, invoice_id,
	approval_overdue, created_at, updated_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var j models.Job
	var missedReason, makeGood, invoiceID pgtype.Text
	if err := row.Scan(
		&j.ID, &j.SiteID, &j.ClientID, &j.Status, &j.ScheduledStart, &j.ScheduledEnd,
		&j.Assignee.Kind, &j.Assignee.ID, &j.PayoutAmountCents, &j.BillableAmountCents,
		&j.BillableStatus, &j.IsMissed, &missedReason, &makeGood, &invoiceID,
		&j.ApprovalOverdue, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return models.Job{}, mapErr(err)
	}
	j.MissedReason = textPtr(missedReason)
	j.MakeGoodJobID = textPtr(makeGood)
	j.InvoiceID = textPtr(invoiceID)
	return j, nil
}

func (t *pgTx) CreateJob(ctx context.Context, job models.Job) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO jobs (id, site_id, client_id, status, scheduled_start, scheduled_end,
			assignee_kind, assignee_id, payout_amount_cents, billable_amount_cents,
			billable_status, is_missed, missed_reason, make_good_job_id, invoice_id,
			approval_overdue, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
	`, job.ID, job.SiteID, job.ClientID, job.Status, job.ScheduledStart, job.ScheduledEnd,
		job.Assignee.Kind, job.Assignee.ID, job.PayoutAmountCents, job.BillableAmountCents,
		job.BillableStatus, job.IsMissed, job.MissedReason, job.MakeGoodJobID, job.InvoiceID,
		job.ApprovalOverdue, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert job: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) GetJob(ctx context.Context, id string) (models.Job, error) {
	return scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (t *pgTx) GetJobForUpdate(ctx context.Context, id string) (models.Job, error) {
	return scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRow
	}
	return nil
}

func (t *pgTx) SetJobMissed(ctx context.Context, id string, reason string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE jobs SET is_missed = TRUE, missed_reason = $2, updated_at = NOW() WHERE id = $1
	`, id, reason)
	return err
}

func (t *pgTx) SetJobMakeGood(ctx context.Context, id, makeGoodJobID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE jobs SET make_good_job_id = $2, updated_at = NOW() WHERE id = $1
	`, id, makeGoodJobID)
	return err
}

func (t *pgTx) SetJobInvoice(ctx context.Context, jobID string, invoiceID *string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE jobs SET invoice_id = $2, updated_at = NOW() WHERE id = $1
	`, jobID, invoiceID)
	return err
}

func (t *pgTx) SetJobBillableStatus(ctx context.Context, jobID string, status models.BillableStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE jobs SET billable_status = $2, updated_at = NOW() WHERE id = $1
	`, jobID, status)
	return err
}

func (t *pgTx) SetJobApprovalOverdue(ctx context.Context, jobID string, flagged bool) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE jobs SET approval_overdue = $2, updated_at = NOW() WHERE id = $1
	`, jobID, flagged)
	return err
}

func (t *pgTx) ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error) {
	sql := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		sql += ` AND status = ` + arg(f.Status)
	}
	if f.ClientID != "" {
		sql += ` AND client_id = ` + arg(f.ClientID)
	}
	if f.WorkerID != "" {
		sql += ` AND assignee_kind = 'worker' AND assignee_id = ` + arg(f.WorkerID)
	}
	if !f.ScheduledFrom.IsZero() {
		sql += ` AND scheduled_start >= ` + arg(f.ScheduledFrom)
	}
	if !f.ScheduledTo.IsZero() {
		sql += ` AND scheduled_start < ` + arg(f.ScheduledTo)
	}
	if f.MissedNoMakeGood {
		sql += ` AND is_missed AND make_good_job_id IS NULL`
	}
	if !f.PendingSince.IsZero() {
		sql += ` AND updated_at < ` + arg(f.PendingSince)
	}
	if f.NotApprovalFlagged {
		sql += ` AND NOT approval_overdue`
	}
	sql += ` ORDER BY scheduled_start, id`

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (t *pgTx) ListJobsByInvoice(ctx context.Context, invoiceID string) ([]models.Job, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by invoice: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (t *pgTx) GetSite(ctx context.Context, id string) (models.Site, error) {
	var s models.Site
	var tmpl pgtype.Text
	err := t.tx.QueryRow(ctx, `
		SELECT id, client_id, name, active_template_id, required_photo_count
		FROM sites WHERE id = $1
	`, id).Scan(&s.ID, &s.ClientID, &s.Name, &tmpl, &s.RequiredPhotoCount)
	if err != nil {
		return models.Site{}, mapErr(err)
	}
	if tmpl.Valid {
		s.ActiveTemplateID = tmpl.String
	}
	return s, nil
}
