// Package billing derives invoices from approved work. Money is integer
// cents throughout; totals are recomputed from stored rows after every
// mutation rather than adjusted incrementally, so the numbers on an invoice
// can always be reproduced from its lines.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
	"fieldops-portal/internal/telemetry"
)

// numberAttempts bounds the retry loop when two transactions race for the
// same invoice sequence number.
const numberAttempts = 3

// Service owns invoice lifecycle and derivation.
type Service struct {
	db  store.DB
	log zerolog.Logger
}

func NewService(db store.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log}
}

// invoiceNumber builds INV-YYYYMM-<client tag>-<seq>. The client tag is the
// last six characters of the client id, enough to keep numbers readable
// without leaking the full id.
func invoiceNumber(clientID string, periodStart time.Time, seq int) string {
	tag := clientID
	if len(tag) > 6 {
		tag = tag[len(tag)-6:]
	}
	return fmt.Sprintf("INV-%s-%s-%04d", periodStart.Format("200601"), tag, seq)
}

func numberPrefix(clientID string, periodStart time.Time) string {
	tag := clientID
	if len(tag) > 6 {
		tag = tag[len(tag)-6:]
	}
	return fmt.Sprintf("INV-%s-%s-", periodStart.Format("200601"), tag)
}

// CreateDraftInvoice opens a new draft for a client period. Number
// allocation reads the current max sequence and relies on the unique
// (client_id, invoice_number) constraint to catch a concurrent allocator,
// retrying with a fresh sequence when it loses the race.
func (s *Service) CreateDraftInvoice(ctx context.Context, actor models.Actor, clientID string, periodStart, periodEnd time.Time) (models.Invoice, error) {
	if !actor.IsAdmin() {
		return models.Invoice{}, faults.Forbidden("admin role required")
	}
	if !periodStart.Before(periodEnd) {
		return models.Invoice{}, faults.Validation("invoice period start must precede period end")
	}

	var inv models.Invoice
	var lastErr error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		err := s.db.WithTx(ctx, func(tx store.Tx) error {
			prefix := numberPrefix(clientID, periodStart)
			seq, err := tx.MaxInvoiceSeq(ctx, clientID, prefix)
			if err != nil {
				return err
			}
			inv = models.Invoice{
				ID:            uuid.New().String(),
				ClientID:      clientID,
				InvoiceNumber: invoiceNumber(clientID, periodStart, seq+1),
				Status:        models.InvoiceDraft,
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
			}
			if err := tx.CreateInvoice(ctx, inv); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, models.AuditEntry{
				ActorUserID: actor.ID,
				EntityType:  models.EntityInvoice,
				EntityID:    inv.ID,
				FromState:   "",
				ToState:     string(models.InvoiceDraft),
				Metadata:    map[string]any{"invoiceNumber": inv.InvoiceNumber},
			})
		})
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return models.Invoice{}, err
		}
		lastErr = err
	}
	return models.Invoice{}, faults.Wrap(lastErr, faults.CodeConflict, "could not allocate an invoice number")
}

// GetOrCreateDraft returns the client's open draft covering periodStart,
// creating one when absent. The monthly invoice-attach sweep uses this so
// repeated runs keep piling onto the same draft.
func (s *Service) GetOrCreateDraft(ctx context.Context, actor models.Actor, clientID string, periodStart, periodEnd time.Time) (models.Invoice, error) {
	var inv models.Invoice
	found := false
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		draft, err := tx.FindDraftInvoice(ctx, clientID, periodStart)
		if err == nil {
			inv, found = draft, true
			return nil
		}
		if errors.Is(err, store.ErrNoRow) {
			return nil
		}
		return err
	})
	if err != nil {
		return models.Invoice{}, err
	}
	if found {
		return inv, nil
	}
	return s.CreateDraftInvoice(ctx, actor, clientID, periodStart, periodEnd)
}

// AddJobLine pulls one approved job's charge onto a draft invoice and stamps
// the job with the invoice id. A job already on an invoice is rejected as
// already processed, never double-billed.
func (s *Service) AddJobLine(ctx context.Context, actor models.Actor, invoiceID, jobID string) error {
	if !actor.IsAdmin() {
		return faults.Forbidden("admin role required")
	}
	return s.db.WithTx(ctx, func(tx store.Tx) error {
		inv, err := s.draftForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		job, err := tx.GetJobForUpdate(ctx, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("job", jobID)
			}
			return err
		}
		if job.Status != models.JobApprovedPayable {
			return faults.InvalidState("job %s is %s, only approved jobs are billable", jobID, job.Status)
		}
		if job.InvoiceID != nil {
			return faults.Conflict("job %s is already attached to invoice %s", jobID, *job.InvoiceID)
		}
		if !job.Billable() {
			return faults.Validation("job %s carries no billable amount", jobID)
		}
		if job.ClientID != inv.ClientID {
			return faults.Validation("job %s belongs to a different client than the invoice", jobID)
		}

		if err := tx.AddInvoiceLine(ctx, models.InvoiceLineItem{
			ID:          uuid.New().String(),
			InvoiceID:   invoiceID,
			Source:      models.LineFromJob,
			JobID:       jobID,
			Description: fmt.Sprintf("Service visit on %s", job.ScheduledStart.Format("2006-01-02")),
			AmountCents: job.BillableAmountCents,
		}); err != nil {
			return err
		}
		if err := tx.SetJobInvoice(ctx, jobID, &invoiceID); err != nil {
			return err
		}
		return s.recomputeTotals(ctx, tx, invoiceID)
	})
}

// AddContractLines adds one line per contract active during the invoice
// period. Idempotent: contracts already lined on this invoice are skipped,
// so the operation can run any number of times.
func (s *Service) AddContractLines(ctx context.Context, actor models.Actor, invoiceID string) (int, error) {
	if !actor.IsAdmin() {
		return 0, faults.Forbidden("admin role required")
	}
	added := 0
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		inv, err := s.draftForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		contracts, err := tx.ListActiveContracts(ctx, inv.ClientID, inv.PeriodStart, inv.PeriodEnd)
		if err != nil {
			return err
		}
		lines, err := tx.ListInvoiceLines(ctx, invoiceID)
		if err != nil {
			return err
		}
		lined := make(map[string]bool, len(lines))
		for _, l := range lines {
			if l.ContractID != "" {
				lined[l.ContractID] = true
			}
		}

		for _, c := range contracts {
			if lined[c.ID] {
				continue
			}
			if err := tx.AddInvoiceLine(ctx, models.InvoiceLineItem{
				ID:          uuid.New().String(),
				InvoiceID:   invoiceID,
				Source:      models.LineFromContract,
				ContractID:  c.ID,
				Description: c.Description,
				AmountCents: c.MonthlyBaseCents,
			}); err != nil {
				return err
			}
			added++
		}
		if added == 0 {
			return nil
		}
		return s.recomputeTotals(ctx, tx, invoiceID)
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// AddAdjustment applies a manual charge, discount, or credit to a draft.
func (s *Service) AddAdjustment(ctx context.Context, actor models.Actor, invoiceID string, kind models.AdjustmentKind, description string, amountCents int64) error {
	if !actor.IsAdmin() {
		return faults.Forbidden("admin role required")
	}
	switch kind {
	case models.AdjustmentCharge, models.AdjustmentDiscount, models.AdjustmentCredit:
	default:
		return faults.Validation("unknown adjustment kind %q", kind)
	}
	if amountCents <= 0 {
		return faults.Validation("adjustment amount must be positive")
	}
	if description == "" {
		return faults.Validation("adjustment requires a description")
	}
	return s.db.WithTx(ctx, func(tx store.Tx) error {
		if _, err := s.draftForUpdate(ctx, tx, invoiceID); err != nil {
			return err
		}
		if err := tx.AddAdjustment(ctx, models.BillingAdjustment{
			ID:          uuid.New().String(),
			InvoiceID:   invoiceID,
			Kind:        kind,
			Description: description,
			AmountCents: amountCents,
		}); err != nil {
			return err
		}
		return s.recomputeTotals(ctx, tx, invoiceID)
	})
}

// MarkSent issues a draft. In the same transaction every linked job's
// billable status flips to INVOICED, locking those charges against any
// later re-billing.
func (s *Service) MarkSent(ctx context.Context, actor models.Actor, invoiceID string) error {
	if !actor.IsAdmin() {
		return faults.Forbidden("admin role required")
	}
	return s.db.WithTx(ctx, func(tx store.Tx) error {
		inv, err := s.draftForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.UpdateInvoiceStatus(ctx, invoiceID, models.InvoiceSent, now); err != nil {
			return err
		}
		jobs, err := tx.ListJobsByInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			if err := tx.SetJobBillableStatus(ctx, j.ID, models.BillableInvoiced); err != nil {
				return err
			}
		}
		return s.auditStatus(ctx, tx, actor, inv, models.InvoiceSent, map[string]any{"lockedJobs": len(jobs)})
	})
}

// MarkPaid records payment on a sent invoice.
func (s *Service) MarkPaid(ctx context.Context, actor models.Actor, invoiceID string) error {
	if !actor.IsAdmin() {
		return faults.Forbidden("admin role required")
	}
	return s.db.WithTx(ctx, func(tx store.Tx) error {
		inv, err := s.getForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceSent {
			return faults.InvalidState("invoice %s is %s, only sent invoices can be marked paid", invoiceID, inv.Status)
		}
		if err := tx.UpdateInvoiceStatus(ctx, invoiceID, models.InvoicePaid, time.Now().UTC()); err != nil {
			return err
		}
		return s.auditStatus(ctx, tx, actor, inv, models.InvoicePaid, nil)
	})
}

// Void cancels a draft or sent invoice and releases its jobs back to
// UNBILLED so they can be billed again on a future invoice.
func (s *Service) Void(ctx context.Context, actor models.Actor, invoiceID, reason string) error {
	if !actor.IsAdmin() {
		return faults.Forbidden("admin role required")
	}
	if reason == "" {
		return faults.Validation("a non-empty reason is required to void an invoice")
	}
	return s.db.WithTx(ctx, func(tx store.Tx) error {
		inv, err := s.getForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceDraft && inv.Status != models.InvoiceSent {
			return faults.InvalidState("invoice %s is %s and cannot be voided", invoiceID, inv.Status)
		}
		if err := tx.UpdateInvoiceStatus(ctx, invoiceID, models.InvoiceVoid, time.Now().UTC()); err != nil {
			return err
		}
		jobs, err := tx.ListJobsByInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			if err := tx.SetJobInvoice(ctx, j.ID, nil); err != nil {
				return err
			}
			if err := tx.SetJobBillableStatus(ctx, j.ID, models.BillableUnbilled); err != nil {
				return err
			}
		}
		return s.auditStatus(ctx, tx, actor, inv, models.InvoiceVoid, map[string]any{
			"reason":       reason,
			"releasedJobs": len(jobs),
		})
	})
}

// GetInvoice returns an invoice with its lines and adjustments.
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, []models.InvoiceLineItem, []models.BillingAdjustment, error) {
	var inv models.Invoice
	var lines []models.InvoiceLineItem
	var adjusts []models.BillingAdjustment
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if inv, err = tx.GetInvoice(ctx, invoiceID); err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("invoice", invoiceID)
			}
			return err
		}
		if lines, err = tx.ListInvoiceLines(ctx, invoiceID); err != nil {
			return err
		}
		adjusts, err = tx.ListAdjustments(ctx, invoiceID)
		return err
	})
	return inv, lines, adjusts, err
}

func (s *Service) getForUpdate(ctx context.Context, tx store.Tx, invoiceID string) (models.Invoice, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return models.Invoice{}, faults.NotFound("invoice", invoiceID)
		}
		return models.Invoice{}, err
	}
	return inv, nil
}

func (s *Service) draftForUpdate(ctx context.Context, tx store.Tx, invoiceID string) (models.Invoice, error) {
	inv, err := s.getForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	if inv.Status != models.InvoiceDraft {
		return models.Invoice{}, faults.InvalidState("invoice %s is %s, only drafts are mutable", invoiceID, inv.Status)
	}
	return inv, nil
}

// recomputeTotals rebuilds subtotal, tax, and total from stored lines and
// adjustments. Charges add, discounts and credits subtract, and tax rounds
// half-up at the fixed rate. Running it twice in a row is a no-op.
func (s *Service) recomputeTotals(ctx context.Context, tx store.Tx, invoiceID string) error {
	lines, err := tx.ListInvoiceLines(ctx, invoiceID)
	if err != nil {
		return err
	}
	adjusts, err := tx.ListAdjustments(ctx, invoiceID)
	if err != nil {
		return err
	}

	var subtotal int64
	for _, l := range lines {
		subtotal += l.AmountCents
	}
	for _, a := range adjusts {
		if a.Kind == models.AdjustmentCharge {
			subtotal += a.AmountCents
		} else {
			subtotal -= a.AmountCents
		}
	}

	tax := taxOn(subtotal)
	telemetry.InvoiceRecomputes.Inc()
	return tx.UpdateInvoiceTotals(ctx, invoiceID, subtotal, tax, subtotal+tax)
}

// taxOn rounds half-up in cents. Credits can push a subtotal negative; tax
// follows the sign so total stays subtotal plus tax.
func taxOn(subtotalCents int64) int64 {
	if subtotalCents < 0 {
		return -taxOn(-subtotalCents)
	}
	return (subtotalCents*models.TaxRateBasisPoints + 5000) / 10000
}

func (s *Service) auditStatus(ctx context.Context, tx store.Tx, actor models.Actor, inv models.Invoice, to models.InvoiceStatus, metadata map[string]any) error {
	return tx.AppendAudit(ctx, models.AuditEntry{
		ActorUserID: actor.ID,
		EntityType:  models.EntityInvoice,
		EntityID:    inv.ID,
		FromState:   string(inv.Status),
		ToState:     string(to),
		Metadata:    metadata,
	})
}
