package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"fieldops-portal/internal/models"
)

const invoiceColumns = `id, client_id, invoice_number, status, period_start, period_end,
	subtotal_cents, tax_cents, total_cents, issued_at, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (models.Invoice, error) {
	var inv models.Invoice
	var issued, paid pgtype.Timestamptz
	if err := row.Scan(
		&inv.ID, &inv.ClientID, &inv.InvoiceNumber, &inv.Status, &inv.PeriodStart,
		&inv.PeriodEnd, &inv.SubtotalCents, &inv.TaxCents, &inv.TotalCents,
		&issued, &paid, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return models.Invoice{}, mapErr(err)
	}
	inv.IssuedAt = tsPtr(issued)
	inv.PaidAt = tsPtr(paid)
	return inv, nil
}

func (t *pgTx) CreateInvoice(ctx context.Context, inv models.Invoice) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoices (id, client_id, invoice_number, status, period_start, period_end,
			subtotal_cents, tax_cents, total_cents, issued_at, paid_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
	`, inv.ID, inv.ClientID, inv.InvoiceNumber, inv.Status, inv.PeriodStart, inv.PeriodEnd,
		inv.SubtotalCents, inv.TaxCents, inv.TotalCents, inv.IssuedAt, inv.PaidAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) GetInvoice(ctx context.Context, id string) (models.Invoice, error) {
	return scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

func (t *pgTx) GetInvoiceForUpdate(ctx context.Context, id string) (models.Invoice, error) {
	return scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) FindDraftInvoice(ctx context.Context, clientID string, periodStart time.Time) (models.Invoice, error) {
	return scanInvoice(t.tx.QueryRow(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE client_id = $1 AND status = $2 AND period_start = $3
		ORDER BY created_at LIMIT 1
	`, clientID, models.InvoiceDraft, periodStart))
}

// MaxInvoiceSeq returns the highest numeric suffix among this client's
// invoice numbers sharing the prefix, 0 when none exist.
func (t *pgTx) MaxInvoiceSeq(ctx context.Context, clientID, numberPrefix string) (int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT invoice_number FROM invoices
		WHERE client_id = $1 AND invoice_number LIKE $2 || '%'
	`, clientID, numberPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan invoice numbers: %w", err)
	}
	defer rows.Close()

	max := 0
	for rows.Next() {
		var num string
		if err := rows.Scan(&num); err != nil {
			return 0, err
		}
		suffix := strings.TrimPrefix(num, numberPrefix)
		if n, err := strconv.Atoi(suffix); err == nil && n > max {
			max = n
		}
	}
	return max, rows.Err()
}

func (t *pgTx) AddInvoiceLine(ctx context.Context, line models.InvoiceLineItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoice_line_items (id, invoice_id, source, job_id, contract_id,
			description, amount_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
	`, line.ID, line.InvoiceID, line.Source, line.JobID, line.ContractID,
		line.Description, line.AmountCents)
	if err != nil {
		return fmt.Errorf("insert invoice line: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) ListInvoiceLines(ctx context.Context, invoiceID string) ([]models.InvoiceLineItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, invoice_id, source, job_id, contract_id, description, amount_cents, created_at
		FROM invoice_line_items WHERE invoice_id = $1 ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	defer rows.Close()

	var out []models.InvoiceLineItem
	for rows.Next() {
		var l models.InvoiceLineItem
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Source, &l.JobID, &l.ContractID,
			&l.Description, &l.AmountCents, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) AddAdjustment(ctx context.Context, adj models.BillingAdjustment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO billing_adjustments (id, invoice_id, kind, description, amount_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
	`, adj.ID, adj.InvoiceID, adj.Kind, adj.Description, adj.AmountCents)
	if err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}
	return nil
}

func (t *pgTx) ListAdjustments(ctx context.Context, invoiceID string) ([]models.BillingAdjustment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, invoice_id, kind, description, amount_cents, created_at
		FROM billing_adjustments WHERE invoice_id = $1 ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	defer rows.Close()

	var out []models.BillingAdjustment
	for rows.Next() {
		var a models.BillingAdjustment
		if err := rows.Scan(&a.ID, &a.InvoiceID, &a.Kind, &a.Description, &a.AmountCents, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateInvoiceTotals(ctx context.Context, id string, subtotal, tax, total int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE invoices SET subtotal_cents = $2, tax_cents = $3, total_cents = $4, updated_at = NOW()
		WHERE id = $1
	`, id, subtotal, tax, total)
	return err
}

func (t *pgTx) UpdateInvoiceStatus(ctx context.Context, id string, status models.InvoiceStatus, at time.Time) error {
	var sql string
	switch status {
	case models.InvoiceSent:
		sql = `UPDATE invoices SET status = $2, issued_at = $3, updated_at = NOW() WHERE id = $1`
	case models.InvoicePaid:
		sql = `UPDATE invoices SET status = $2, paid_at = $3, updated_at = NOW() WHERE id = $1`
	default:
		_, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
		return err
	}
	_, err := t.tx.Exec(ctx, sql, id, status, at)
	return err
}

func (t *pgTx) ListActiveContracts(ctx context.Context, clientID string, from, to time.Time) ([]models.Contract, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, client_id, description, monthly_base_cents, start_date, end_date
		FROM contracts
		WHERE client_id = $1 AND start_date < $3 AND (end_date IS NULL OR end_date > $2)
		ORDER BY id
	`, clientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var out []models.Contract
	for rows.Next() {
		var c models.Contract
		var end pgtype.Timestamptz
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Description, &c.MonthlyBaseCents, &c.StartDate, &end); err != nil {
			return nil, err
		}
		c.EndDate = tsPtr(end)
		out = append(out, c)
	}
	return out, rows.Err()
}
