package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fieldops-portal/internal/bulk"
	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
)

func (s *Server) handleBulkPreview(w http.ResponseWriter, r *http.Request) {
	var req bulk.Request
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	preview, err := s.bulk.Preview(r.Context(), actorFrom(r), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, preview)
}

func (s *Server) handleBulkExecute(w http.ResponseWriter, r *http.Request) {
	var req bulk.Request
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	result, err := s.bulk.Execute(r.Context(), actorFrom(r), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

type createInvoiceRequest struct {
	ClientID    string    `json:"client_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	inv, err := s.billing.CreateDraftInvoice(r.Context(), actorFrom(r), req.ClientID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, inv)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, lines, adjusts, err := s.billing.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"invoice":     inv,
		"lines":       lines,
		"adjustments": adjusts,
	})
}

func (s *Server) handleAddJobLine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID string `json:"job_id"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	invoiceID := chi.URLParam(r, "id")
	if err := s.billing.AddJobLine(r.Context(), actorFrom(r), invoiceID, req.JobID); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"invoice_id": invoiceID, "job_id": req.JobID})
}

func (s *Server) handleAddContractLines(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")
	added, err := s.billing.AddContractLines(r.Context(), actorFrom(r), invoiceID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"invoice_id": invoiceID, "added": added})
}

type adjustmentRequest struct {
	Kind        models.AdjustmentKind `json:"kind"`
	Description string                `json:"description"`
	AmountCents int64                 `json:"amount_cents"`
}

func (s *Server) handleAddAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	invoiceID := chi.URLParam(r, "id")
	if err := s.billing.AddAdjustment(r.Context(), actorFrom(r), invoiceID, req.Kind, req.Description, req.AmountCents); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"invoice_id": invoiceID})
}

func (s *Server) handleSendInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.billing.MarkSent(r.Context(), actorFrom(r), id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"invoice_id": id, "status": string(models.InvoiceSent)})
}

func (s *Server) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.billing.MarkPaid(r.Context(), actorFrom(r), id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"invoice_id": id, "status": string(models.InvoicePaid)})
}

func (s *Server) handleVoidInvoice(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.billing.Void(r.Context(), actorFrom(r), id, req.Reason); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"invoice_id": id, "status": string(models.InvoiceVoid)})
}

type createPayoutBatchRequest struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func (s *Server) handleCreatePayoutBatch(w http.ResponseWriter, r *http.Request) {
	var req createPayoutBatchRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	batch, lines, err := s.payout.CreateBatch(r.Context(), actorFrom(r), req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"batch": batch, "lines": lines})
}

func (s *Server) handleGetPayoutBatch(w http.ResponseWriter, r *http.Request) {
	batch, lines, err := s.payout.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"batch": batch, "lines": lines})
}

func (s *Server) handleApprovePayoutBatch(w http.ResponseWriter, r *http.Request) {
	s.advancePayoutBatch(w, r, models.PayoutApproved)
}

func (s *Server) handleReleasePayoutBatch(w http.ResponseWriter, r *http.Request) {
	s.advancePayoutBatch(w, r, models.PayoutReleased)
}

func (s *Server) advancePayoutBatch(w http.ResponseWriter, r *http.Request, to models.PayoutBatchStatus) {
	id := chi.URLParam(r, "id")
	if err := s.payout.Advance(r.Context(), actorFrom(r), id, to); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"batch_id": id, "status": string(to)})
}

func (s *Server) handlePayPayoutBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.payout.MarkPaid(r.Context(), actorFrom(r), id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"batch_id": id, "status": string(models.PayoutPaid)})
}

type createWorkOrderRequest struct {
	SiteID              string `json:"site_id"`
	ClientID            string `json:"client_id"`
	Title               string `json:"title"`
	Description         string `json:"description,omitempty"`
	BillableAmountCents int64  `json:"billable_amount_cents"`
}

func (s *Server) handleCreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.IsAdmin() {
		writeErr(w, faults.Forbidden("admin role required"))
		return
	}
	var req createWorkOrderRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.SiteID == "" || req.ClientID == "" || req.Title == "" {
		writeErr(w, faults.Validation("site_id, client_id, and title are required"))
		return
	}
	wo := models.WorkOrder{
		ID:                  uuid.New().String(),
		SiteID:              req.SiteID,
		ClientID:            req.ClientID,
		Status:              models.WorkOrderRequested,
		Title:               req.Title,
		Description:         req.Description,
		Assignee:            models.Unassigned(),
		BillableAmountCents: req.BillableAmountCents,
	}
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		return tx.CreateWorkOrder(r.Context(), wo)
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, wo)
}

func (s *Server) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	status := models.WorkOrderStatus(r.URL.Query().Get("status"))
	var out []models.WorkOrder
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListWorkOrders(r.Context(), status)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var wo models.WorkOrder
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		wo, err = tx.GetWorkOrder(r.Context(), id)
		if errors.Is(err, store.ErrNoRow) {
			return faults.NotFound("work order", id)
		}
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, wo)
}

func (s *Server) handleAssignWorkOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.IsAdmin() {
		writeErr(w, faults.Forbidden("admin role required"))
		return
	}
	var req struct {
		Assignee models.Assignee `json:"assignee"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		wo, err := tx.GetWorkOrderForUpdate(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("work order", id)
			}
			return err
		}
		if wo.Status != models.WorkOrderApproved && wo.Status != models.WorkOrderAssigned {
			return faults.InvalidState("work order %s is %s and cannot be assigned", id, wo.Status)
		}
		if err := tx.SetWorkOrderAssignee(r.Context(), id, req.Assignee); err != nil {
			return err
		}
		if wo.Status == models.WorkOrderApproved {
			return s.sm.TransitionWorkOrderTx(r.Context(), tx, actor, id, models.WorkOrderAssigned, nil)
		}
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"work_order_id": id})
}

type workOrderTransitionRequest struct {
	To models.WorkOrderStatus `json:"to"`
	transitionRequest
}

func (s *Server) handleTransitionWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req workOrderTransitionRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.sm.TransitionWorkOrder(r.Context(), actorFrom(r), id, req.To, req.toMetadata()); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"work_order_id": id, "status": string(req.To)})
}

type createIncidentRequest struct {
	SiteID  string `json:"site_id"`
	JobID   string `json:"job_id,omitempty"`
	Summary string `json:"summary"`
}

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.SiteID == "" || req.Summary == "" {
		writeErr(w, faults.Validation("site_id and summary are required"))
		return
	}
	actor := actorFrom(r)
	inc := models.IncidentReport{
		ID:           uuid.New().String(),
		SiteID:       req.SiteID,
		JobID:        req.JobID,
		ReportedByID: actor.ID,
		Summary:      req.Summary,
	}
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		return tx.CreateIncident(r.Context(), inc)
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, inc)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if v := r.URL.Query().Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(w, faults.Validation("resolved must be true or false"))
			return
		}
		resolved = &b
	}
	var out []models.IncidentReport
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListIncidents(r.Context(), resolved)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
	}
	id := chi.URLParam(r, "id")
	if err := s.actions.ResolveIncident(r.Context(), actorFrom(r), id, req.toMetadata()); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"incident_id": id})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	s.renderAudit(w, r, models.EntityType(chi.URLParam(r, "entityType")), chi.URLParam(r, "entityID"))
}

func (s *Server) renderAudit(w http.ResponseWriter, r *http.Request, entityType models.EntityType, entityID string) {
	if !actorFrom(r).IsAdmin() {
		writeErr(w, faults.Forbidden("admin role required"))
		return
	}
	var entries []models.AuditEntry
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		entries, err = tx.ListAudit(r.Context(), entityType, entityID)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}
