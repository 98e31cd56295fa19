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

const workOrderColumns = `id, site_id, client_id, status, title, description,
	assignee_kind, assignee_id, billable_amount_cents, created_at, updated_at`

func scanWorkOrder(row pgx.Row) (models.WorkOrder, error) {
	var wo models.WorkOrder
	if err := row.Scan(
		&wo.ID, &wo.SiteID, &wo.ClientID, &wo.Status, &wo.Title, &wo.Description,
		&wo.Assignee.Kind, &wo.Assignee.ID, &wo.BillableAmountCents, &wo.CreatedAt, &wo.UpdatedAt,
	); err != nil {
		return models.WorkOrder{}, mapErr(err)
	}
	return wo, nil
}

func (t *pgTx) CreateWorkOrder(ctx context.Context, wo models.WorkOrder) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO work_orders (id, site_id, client_id, status, title, description,
			assignee_kind, assignee_id, billable_amount_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
	`, wo.ID, wo.SiteID, wo.ClientID, wo.Status, wo.Title, wo.Description,
		wo.Assignee.Kind, wo.Assignee.ID, wo.BillableAmountCents)
	if err != nil {
		return fmt.Errorf("insert work order: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) GetWorkOrder(ctx context.Context, id string) (models.WorkOrder, error) {
	return scanWorkOrder(t.tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, id))
}

func (t *pgTx) GetWorkOrderForUpdate(ctx context.Context, id string) (models.WorkOrder, error) {
	return scanWorkOrder(t.tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateWorkOrderStatus(ctx context.Context, id string, status models.WorkOrderStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE work_orders SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update work order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRow
	}
	return nil
}

func (t *pgTx) SetWorkOrderAssignee(ctx context.Context, id string, as models.Assignee) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE work_orders SET assignee_kind = $2, assignee_id = $3, updated_at = NOW() WHERE id = $1
	`, id, as.Kind, as.ID)
	return err
}

func (t *pgTx) ListWorkOrders(ctx context.Context, status models.WorkOrderStatus) ([]models.WorkOrder, error) {
	sql := `SELECT ` + workOrderColumns + ` FROM work_orders`
	args := []any{}
	if status != "" {
		sql += ` WHERE status = $1`
		args = append(args, status)
	}
	sql += ` ORDER BY created_at, id`

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	defer rows.Close()

	var out []models.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateIncident(ctx context.Context, inc models.IncidentReport) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO incident_reports (id, site_id, job_id, reported_by_id, summary,
			resolved, resolved_by_id, resolved_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
	`, inc.ID, inc.SiteID, inc.JobID, inc.ReportedByID, inc.Summary,
		inc.Resolved, inc.ResolvedByID, inc.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", mapErr(err))
	}
	return nil
}

func scanIncident(row pgx.Row) (models.IncidentReport, error) {
	var inc models.IncidentReport
	var resolvedAt pgtype.Timestamptz
	if err := row.Scan(&inc.ID, &inc.SiteID, &inc.JobID, &inc.ReportedByID, &inc.Summary,
		&inc.Resolved, &inc.ResolvedByID, &resolvedAt, &inc.CreatedAt); err != nil {
		return models.IncidentReport{}, mapErr(err)
	}
	inc.ResolvedAt = tsPtr(resolvedAt)
	return inc, nil
}

const incidentColumns = `id, site_id, job_id, reported_by_id, summary,
	resolved, resolved_by_id, resolved_at, created_at`

func (t *pgTx) GetIncident(ctx context.Context, id string) (models.IncidentReport, error) {
	return scanIncident(t.tx.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incident_reports WHERE id = $1`, id))
}

func (t *pgTx) GetIncidentForUpdate(ctx context.Context, id string) (models.IncidentReport, error) {
	return scanIncident(t.tx.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incident_reports WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ResolveIncident(ctx context.Context, id, resolvedByID string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE incident_reports SET resolved = TRUE, resolved_by_id = $2, resolved_at = $3
		WHERE id = $1
	`, id, resolvedByID, at)
	return err
}

func (t *pgTx) ListIncidents(ctx context.Context, resolved *bool) ([]models.IncidentReport, error) {
	sql := `SELECT ` + incidentColumns + ` FROM incident_reports`
	args := []any{}
	if resolved != nil {
		sql += ` WHERE resolved = $1`
		args = append(args, *resolved)
	}
	sql += ` ORDER BY created_at, id`

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []models.IncidentReport
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (t *pgTx) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	metaJSON := []byte(`{}`)
	if entry.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_logs (actor_user_id, entity_type, entity_id, from_state, to_state, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
	`, entry.ActorUserID, entry.EntityType, entry.EntityID, entry.FromState, entry.ToState, metaJSON)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

func (t *pgTx) ListAudit(ctx context.Context, entityType models.EntityType, entityID string) ([]models.AuditEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, actor_user_id, entity_type, entity_id, from_state, to_state, metadata, created_at
		FROM audit_logs WHERE entity_type = $1 AND entity_id = $2 ORDER BY id
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit rows: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.ActorUserID, &e.EntityType, &e.EntityID,
			&e.FromState, &e.ToState, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
