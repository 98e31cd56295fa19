package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"fieldops-portal/internal/models"
)

func (t *pgTx) GetWorkerAccountID(ctx context.Context, workerID string) (string, error) {
	var accountID string
	err := t.tx.QueryRow(ctx, `
		SELECT workforce_account_id FROM workers WHERE id = $1
	`, workerID).Scan(&accountID)
	if err != nil {
		return "", mapErr(err)
	}
	return accountID, nil
}

func (t *pgTx) CreatePayoutBatch(ctx context.Context, batch models.PayoutBatch) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payout_batches (id, status, period_start, period_end, total_cents, paid_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
	`, batch.ID, batch.Status, batch.PeriodStart, batch.PeriodEnd, batch.TotalCents, batch.PaidAt)
	if err != nil {
		return fmt.Errorf("insert payout batch: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) GetPayoutBatch(ctx context.Context, id string) (models.PayoutBatch, error) {
	var b models.PayoutBatch
	var paid pgtype.Timestamptz
	err := t.tx.QueryRow(ctx, `
		SELECT id, status, period_start, period_end, total_cents, paid_at, created_at
		FROM payout_batches WHERE id = $1
	`, id).Scan(&b.ID, &b.Status, &b.PeriodStart, &b.PeriodEnd, &b.TotalCents, &paid, &b.CreatedAt)
	if err != nil {
		return models.PayoutBatch{}, mapErr(err)
	}
	b.PaidAt = tsPtr(paid)
	return b, nil
}

func (t *pgTx) CreatePayoutLine(ctx context.Context, line models.PayoutLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payout_lines (id, batch_id, job_id, workforce_account_id,
			amount_cents, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
	`, line.ID, line.BatchID, line.JobID, line.WorkforceAccountID, line.AmountCents, line.Description)
	if err != nil {
		return fmt.Errorf("insert payout line: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) ListPayoutLines(ctx context.Context, batchID string) ([]models.PayoutLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, batch_id, job_id, workforce_account_id, amount_cents, description, created_at
		FROM payout_lines WHERE batch_id = $1 ORDER BY created_at, id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list payout lines: %w", err)
	}
	defer rows.Close()

	var out []models.PayoutLine
	for rows.Next() {
		var l models.PayoutLine
		if err := rows.Scan(&l.ID, &l.BatchID, &l.JobID, &l.WorkforceAccountID,
			&l.AmountCents, &l.Description, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) HasPayoutLineForJob(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM payout_lines WHERE job_id = $1)
	`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payout line: %w", err)
	}
	return exists, nil
}

func (t *pgTx) UpdatePayoutBatchStatus(ctx context.Context, id string, status models.PayoutBatchStatus, at time.Time) error {
	if status == models.PayoutPaid {
		_, err := t.tx.Exec(ctx, `
			UPDATE payout_batches SET status = $2, paid_at = $3 WHERE id = $1
		`, id, status, at)
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE payout_batches SET status = $2 WHERE id = $1`, id, status)
	return err
}
