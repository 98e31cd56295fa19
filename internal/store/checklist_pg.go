package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"fieldops-portal/internal/models"
)

func (t *pgTx) GetChecklistTemplate(ctx context.Context, id string) (TemplateDoc, error) {
	var doc TemplateDoc
	var itemsJSON []byte
	err := t.tx.QueryRow(ctx, `
		SELECT id, version, items FROM checklist_templates WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Version, &itemsJSON)
	if err != nil {
		return TemplateDoc{}, mapErr(err)
	}
	if err := json.Unmarshal(itemsJSON, &doc.Items); err != nil {
		return TemplateDoc{}, fmt.Errorf("unmarshal template items: %w", err)
	}
	return doc, nil
}

func scanRun(row pgx.Row) (models.ChecklistRun, error) {
	var r models.ChecklistRun
	var submitted, approved pgtype.Timestamptz
	if err := row.Scan(
		&r.ID, &r.JobID, &r.TemplateID, &r.TemplateVersion, &r.Status,
		&r.CompletedByWorkerID, &submitted, &approved, &r.CreatedAt,
	); err != nil {
		return models.ChecklistRun{}, mapErr(err)
	}
	r.SubmittedAt = tsPtr(submitted)
	r.ApprovedAt = tsPtr(approved)
	return r, nil
}

const runColumns = `id, job_id, template_id, template_version, status,
	completed_by_worker_id, submitted_at, approved_at, created_at`

func (t *pgTx) GetInProgressRun(ctx context.Context, jobID string) (models.ChecklistRun, error) {
	return scanRun(t.tx.QueryRow(ctx, `
		SELECT `+runColumns+` FROM checklist_runs
		WHERE job_id = $1 AND status = $2
	`, jobID, models.RunInProgress))
}

func (t *pgTx) GetChecklistRun(ctx context.Context, id string) (models.ChecklistRun, error) {
	return scanRun(t.tx.QueryRow(ctx, `
		SELECT `+runColumns+` FROM checklist_runs WHERE id = $1
	`, id))
}

func (t *pgTx) GetLatestSubmittedRun(ctx context.Context, jobID string) (models.ChecklistRun, error) {
	return scanRun(t.tx.QueryRow(ctx, `
		SELECT `+runColumns+` FROM checklist_runs
		WHERE job_id = $1 AND status = $2
		ORDER BY submitted_at DESC LIMIT 1
	`, jobID, models.RunSubmitted))
}

func (t *pgTx) CreateChecklistRun(ctx context.Context, run models.ChecklistRun) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO checklist_runs (id, job_id, template_id, template_version, status,
			completed_by_worker_id, submitted_at, approved_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, run.ID, run.JobID, run.TemplateID, run.TemplateVersion, run.Status,
		run.CompletedByWorkerID, run.SubmittedAt, run.ApprovedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert checklist run: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, at time.Time) error {
	var sql string
	switch status {
	case models.RunSubmitted:
		sql = `UPDATE checklist_runs SET status = $2, submitted_at = $3 WHERE id = $1`
	case models.RunApproved:
		sql = `UPDATE checklist_runs SET status = $2, approved_at = $3 WHERE id = $1`
	default:
		sql = `UPDATE checklist_runs SET status = $2 WHERE id = $1`
		_, err := t.tx.Exec(ctx, sql, id, status)
		return err
	}
	_, err := t.tx.Exec(ctx, sql, id, status, at)
	return err
}

func (t *pgTx) UpsertRunItem(ctx context.Context, item models.ChecklistRunItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO checklist_run_items (run_id, item_id, result, fail_reason, note, saved_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (run_id, item_id) DO UPDATE
		SET result = EXCLUDED.result, fail_reason = EXCLUDED.fail_reason,
		    note = EXCLUDED.note, saved_at = NOW()
	`, item.RunID, item.ItemID, item.Result, item.FailReason, item.Note)
	if err != nil {
		return fmt.Errorf("upsert run item: %w", err)
	}
	return nil
}

func (t *pgTx) ListRunItems(ctx context.Context, runID string) ([]models.ChecklistRunItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT run_id, item_id, result, fail_reason, note, saved_at
		FROM checklist_run_items WHERE run_id = $1 ORDER BY item_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	var out []models.ChecklistRunItem
	for rows.Next() {
		var it models.ChecklistRunItem
		if err := rows.Scan(&it.RunID, &it.ItemID, &it.Result, &it.FailReason, &it.Note, &it.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *pgTx) GetJobCompletion(ctx context.Context, jobID string) (models.JobCompletion, error) {
	var c models.JobCompletion
	var resultsJSON []byte
	err := t.tx.QueryRow(ctx, `
		SELECT id, job_id, checklist_results, is_draft, created_at, updated_at
		FROM job_completions WHERE job_id = $1
	`, jobID).Scan(&c.ID, &c.JobID, &resultsJSON, &c.IsDraft, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.JobCompletion{}, mapErr(err)
	}
	if err := json.Unmarshal(resultsJSON, &c.ChecklistResults); err != nil {
		return models.JobCompletion{}, fmt.Errorf("unmarshal checklist results: %w", err)
	}
	return c, nil
}

func (t *pgTx) UpsertJobCompletion(ctx context.Context, c models.JobCompletion) error {
	resultsJSON, err := json.Marshal(c.ChecklistResults)
	if err != nil {
		return fmt.Errorf("marshal checklist results: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO job_completions (id, job_id, checklist_results, is_draft, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NOW(),NOW())
		ON CONFLICT (job_id) DO UPDATE
		SET checklist_results = EXCLUDED.checklist_results,
		    is_draft = EXCLUDED.is_draft, updated_at = NOW()
	`, c.ID, c.JobID, resultsJSON, c.IsDraft)
	if err != nil {
		return fmt.Errorf("upsert job completion: %w", err)
	}
	return nil
}

func (t *pgTx) CreateEvidence(ctx context.Context, ev models.Evidence) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO evidence (id, completion_id, job_id, checklist_run_id, item_id,
			storage_path, content_type, size_bytes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
	`, ev.ID, ev.CompletionID, ev.JobID, ev.ChecklistRunID, ev.ItemID,
		ev.StoragePath, ev.ContentType, ev.SizeBytes)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) ListEvidenceByJob(ctx context.Context, jobID string) ([]models.Evidence, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, completion_id, job_id, checklist_run_id, item_id,
		       storage_path, content_type, size_bytes, created_at
		FROM evidence WHERE job_id = $1 ORDER BY created_at, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []models.Evidence
	for rows.Next() {
		var ev models.Evidence
		if err := rows.Scan(&ev.ID, &ev.CompletionID, &ev.JobID, &ev.ChecklistRunID,
			&ev.ItemID, &ev.StoragePath, &ev.ContentType, &ev.SizeBytes, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
