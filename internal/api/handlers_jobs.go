package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fieldops-portal/internal/auth"
	"fieldops-portal/internal/evidence"
	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
)

func actorFrom(r *http.Request) models.Actor {
	actor, _ := auth.ActorFrom(r.Context())
	return actor
}

// transitionRequest carries the optional operator reason plus free-form
// metadata recorded on the audit row.
type transitionRequest struct {
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (t transitionRequest) toMetadata() map[string]any {
	md := map[string]any{}
	for k, v := range t.Metadata {
		md[k] = v
	}
	if t.Reason != "" {
		md["reason"] = t.Reason
	}
	return md
}

type createJobRequest struct {
	SiteID              string          `json:"site_id"`
	ClientID            string          `json:"client_id"`
	ScheduledStart      time.Time       `json:"scheduled_start"`
	ScheduledEnd        time.Time       `json:"scheduled_end"`
	Assignee            models.Assignee `json:"assignee"`
	PayoutAmountCents   int64           `json:"payout_amount_cents"`
	BillableAmountCents int64           `json:"billable_amount_cents"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.IsAdmin() {
		writeErr(w, faults.Forbidden("admin role required"))
		return
	}
	var req createJobRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.SiteID == "" || req.ClientID == "" {
		writeErr(w, faults.Validation("site_id and client_id are required"))
		return
	}
	if !req.ScheduledStart.Before(req.ScheduledEnd) {
		writeErr(w, faults.Validation("scheduled_start must precede scheduled_end"))
		return
	}

	billable := models.BillableUnbilled
	if req.BillableAmountCents == 0 {
		billable = models.BillableNone
	}
	job := models.Job{
		ID:                  uuid.New().String(),
		SiteID:              req.SiteID,
		ClientID:            req.ClientID,
		Status:              models.JobScheduled,
		ScheduledStart:      req.ScheduledStart,
		ScheduledEnd:        req.ScheduledEnd,
		Assignee:            req.Assignee,
		PayoutAmountCents:   req.PayoutAmountCents,
		BillableAmountCents: req.BillableAmountCents,
		BillableStatus:      billable,
	}
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		if _, err := tx.GetSite(r.Context(), req.SiteID); err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("site", req.SiteID)
			}
			return err
		}
		return tx.CreateJob(r.Context(), job)
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	q := r.URL.Query()
	filter := store.JobFilter{
		Status:   models.JobStatus(q.Get("status")),
		ClientID: q.Get("client_id"),
		WorkerID: q.Get("worker_id"),
	}
	// Workers only see their own assignments.
	if !actor.IsAdmin() {
		if actor.WorkerID == "" {
			writeErr(w, faults.Forbidden("admin role required"))
			return
		}
		filter.WorkerID = actor.WorkerID
	}

	var jobs []models.Job
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		jobs, err = tx.ListJobs(r.Context(), filter)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	id := chi.URLParam(r, "id")
	var job models.Job
	err := s.db.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		job, err = tx.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrNoRow) {
			return faults.NotFound("job", id)
		}
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if !actor.IsAdmin() && !job.Assignee.BelongsTo(actor) {
		writeErr(w, faults.Unauthorized("not allowed to view this job"))
		return
	}
	writeData(w, http.StatusOK, job)
}

func (s *Server) handleApproveJob(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.actions.ApproveJob)
}

func (s *Server) handleRejectJob(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.actions.RejectJob)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.actions.CancelJob)
}

func (s *Server) jobAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor models.Actor, jobID string, metadata map[string]any) error) {
	var req transitionRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeErr(w, err)
			return
		}
	}
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), actorFrom(r), id, req.toMetadata()); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"job_id": id})
}

func (s *Server) handleMarkMissed(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.actions.MarkJobMissed(r.Context(), actorFrom(r), id, req.Reason); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"job_id": id})
}

func (s *Server) handleJobAudit(w http.ResponseWriter, r *http.Request) {
	s.renderAudit(w, r, models.EntityJob, chi.URLParam(r, "id"))
}

func (s *Server) handleCreateOrGetRun(w http.ResponseWriter, r *http.Request) {
	view, err := s.checklist.CreateOrGetRun(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

type saveItemRequest struct {
	Result     models.ItemResult `json:"result"`
	FailReason string            `json:"fail_reason,omitempty"`
	Note       string            `json:"note,omitempty"`
}

func (s *Server) handleSaveRunItem(w http.ResponseWriter, r *http.Request) {
	var req saveItemRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	runID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemID")
	if err := s.checklist.SaveItem(r.Context(), actorFrom(r), runID, itemID, req.Result, req.FailReason, req.Note); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"run_id": runID, "item_id": itemID})
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if err := s.checklist.SubmitRun(r.Context(), actorFrom(r), runID); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(models.RunSubmitted)})
}

type uploadEvidenceRequest struct {
	ItemID     string `json:"item_id,omitempty"`
	Redacted   bool   `json:"redacted"`
	DataBase64 string `json:"data_base64"`
}

func (s *Server) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	var req uploadEvidenceRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		writeErr(w, faults.Validation("data_base64 is not valid base64"))
		return
	}
	ev, err := s.evidence.Upload(r.Context(), actorFrom(r), evidence.UploadInput{
		JobID:    chi.URLParam(r, "id"),
		ItemID:   req.ItemID,
		Redacted: req.Redacted,
		Data:     data,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, ev)
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	out, err := s.evidence.ListForJob(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, out)
}
