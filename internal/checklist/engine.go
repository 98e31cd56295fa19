// Package checklist manages the lifecycle of one in-progress checklist
// execution per job: lazy run creation pinned to the site's active template,
// item-level autosave with the legacy completion blob kept in sync, and
// submission, which drives the job state machine.
package checklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/statemachine"
	"fieldops-portal/internal/store"
	"fieldops-portal/internal/telemetry"
)

// Engine is the checklist run engine.
type Engine struct {
	db  store.DB
	sm  *statemachine.Engine
	log zerolog.Logger
}

func NewEngine(db store.DB, sm *statemachine.Engine, log zerolog.Logger) *Engine {
	return &Engine{db: db, sm: sm, log: log}
}

// RunView is an in-progress run with its saved items and pinned template.
type RunView struct {
	Run      models.ChecklistRun      `json:"run"`
	Items    []models.ChecklistRunItem `json:"items"`
	Template store.TemplateDoc         `json:"template"`
}

// CreateOrGetRun returns the job's in-progress run, creating one pinned to
// the site's active template when none exists. Creation also upserts a draft
// completion shell so evidence has somewhere to attach.
func (e *Engine) CreateOrGetRun(ctx context.Context, actor models.Actor, jobID string) (RunView, error) {
	var view RunView
	err := e.db.WithTx(ctx, func(tx store.Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("job", jobID)
			}
			return err
		}
		if !job.Assignee.BelongsTo(actor) {
			return faults.Unauthorized("only the assigned worker may work this job's checklist")
		}
		if job.Status != models.JobScheduled && job.Status != models.JobPendingApproval {
			return faults.InvalidState("checklist is not open for a job in state %s", job.Status)
		}

		if run, err := tx.GetInProgressRun(ctx, jobID); err == nil {
			items, err := tx.ListRunItems(ctx, run.ID)
			if err != nil {
				return err
			}
			tmpl, err := tx.GetChecklistTemplate(ctx, run.TemplateID)
			if err != nil {
				return err
			}
			view = RunView{Run: run, Items: items, Template: tmpl}
			return nil
		} else if !errors.Is(err, store.ErrNoRow) {
			return err
		}

		site, err := tx.GetSite(ctx, job.SiteID)
		if err != nil {
			return err
		}
		if site.ActiveTemplateID == "" {
			return faults.Validation("site %s has no active checklist template", site.ID)
		}
		tmpl, err := tx.GetChecklistTemplate(ctx, site.ActiveTemplateID)
		if err != nil {
			return err
		}

		run := models.ChecklistRun{
			ID:                  uuid.New().String(),
			JobID:               jobID,
			TemplateID:          tmpl.ID,
			TemplateVersion:     tmpl.Version,
			Status:              models.RunInProgress,
			CompletedByWorkerID: actor.WorkerID,
		}
		if err := tx.CreateChecklistRun(ctx, run); err != nil {
			return err
		}
		if _, err := tx.GetJobCompletion(ctx, jobID); errors.Is(err, store.ErrNoRow) {
			if err := tx.UpsertJobCompletion(ctx, models.JobCompletion{
				ID:               uuid.New().String(),
				JobID:            jobID,
				ChecklistResults: map[string]any{},
				IsDraft:          true,
			}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		view = RunView{Run: run, Items: nil, Template: tmpl}
		return nil
	})
	return view, err
}

// SaveItem is the autosave path: upsert one answer keyed by (run, item) and
// re-derive the denormalized completion blob in the same transaction, so
// legacy readers never see the two diverge. Idempotent per item.
func (e *Engine) SaveItem(ctx context.Context, actor models.Actor, runID, itemID string, result models.ItemResult, failReason, note string) error {
	switch result {
	case models.ResultPass, models.ResultFail, models.ResultNA:
	default:
		return faults.Validation("unknown item result %q", result)
	}

	return e.db.WithTx(ctx, func(tx store.Tx) error {
		run, err := tx.GetChecklistRun(ctx, runID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("checklist run", runID)
			}
			return err
		}
		if run.Status != models.RunInProgress {
			return faults.InvalidState("checklist run is %s and no longer editable", run.Status)
		}
		job, err := tx.GetJob(ctx, run.JobID)
		if err != nil {
			return err
		}
		if !job.Assignee.BelongsTo(actor) {
			return faults.Unauthorized("only the assigned worker may save checklist items")
		}

		tmpl, err := tx.GetChecklistTemplate(ctx, run.TemplateID)
		if err != nil {
			return err
		}
		if templateItem(tmpl, itemID) == nil {
			return faults.Validation("item %s is not on this checklist", itemID)
		}

		if err := tx.UpsertRunItem(ctx, models.ChecklistRunItem{
			RunID:      runID,
			ItemID:     itemID,
			Result:     result,
			FailReason: failReason,
			Note:       note,
		}); err != nil {
			return err
		}
		return e.syncCompletion(ctx, tx, run, true)
	})
}

// SubmitRun validates the run and, on success, marks it submitted, finalizes
// the completion, and drives the job to COMPLETED_PENDING_APPROVAL in one
// transaction. Any validation failure performs no writes and reports every
// outstanding problem at once.
func (e *Engine) SubmitRun(ctx context.Context, actor models.Actor, runID string) error {
	err := e.db.WithTx(ctx, func(tx store.Tx) error {
		run, err := tx.GetChecklistRun(ctx, runID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("checklist run", runID)
			}
			return err
		}
		if run.Status != models.RunInProgress {
			return faults.InvalidState("checklist run is already %s", run.Status)
		}
		job, err := tx.GetJob(ctx, run.JobID)
		if err != nil {
			return err
		}
		if !job.Assignee.BelongsTo(actor) {
			return faults.Unauthorized("only the assigned worker may submit this checklist")
		}

		tmpl, err := tx.GetChecklistTemplate(ctx, run.TemplateID)
		if err != nil {
			return err
		}
		items, err := tx.ListRunItems(ctx, runID)
		if err != nil {
			return err
		}
		site, err := tx.GetSite(ctx, job.SiteID)
		if err != nil {
			return err
		}
		photos, err := tx.ListEvidenceByJob(ctx, run.JobID)
		if err != nil {
			return err
		}

		if problems := submitProblems(tmpl, items, photos, site.RequiredPhotoCount); len(problems) > 0 {
			return faults.Validation("%s", strings.Join(problems, " "))
		}

		now := time.Now().UTC()
		if err := tx.UpdateRunStatus(ctx, runID, models.RunSubmitted, now); err != nil {
			return err
		}
		if err := e.syncCompletion(ctx, tx, run, false); err != nil {
			return err
		}
		return e.sm.TransitionJobTx(ctx, tx, actor, run.JobID, models.JobPendingApproval, map[string]any{
			"checklistRunId": runID,
		})
	})
	if err == nil {
		telemetry.ChecklistSubmits.Inc()
		e.log.Info().Str("run_id", runID).Msg("checklist run submitted")
	}
	return err
}

// submitProblems collects every blocking condition: unanswered required
// items, photo count out of range, and photo-required items without tagged
// evidence. Each condition is independently necessary.
func submitProblems(tmpl store.TemplateDoc, items []models.ChecklistRunItem, photos []models.Evidence, requiredPhotos int) []string {
	answered := make(map[string]bool, len(items))
	for _, it := range items {
		answered[it.ItemID] = true
	}
	taggedPhotos := map[string]int{}
	for _, p := range photos {
		if p.ItemID != "" {
			taggedPhotos[p.ItemID]++
		}
	}

	var problems []string
	for _, ti := range tmpl.Items {
		if ti.Required && !answered[ti.ItemID] {
			problems = append(problems, fmt.Sprintf("Required item %q has no result.", ti.Label))
		}
	}
	if len(photos) < requiredPhotos {
		problems = append(problems, fmt.Sprintf("Minimum %d photos required. You have %d.", requiredPhotos, len(photos)))
	}
	if len(photos) > models.MaxPhotosPerJob {
		problems = append(problems, fmt.Sprintf("Maximum %d photos allowed. You have %d.", models.MaxPhotosPerJob, len(photos)))
	}
	for _, ti := range tmpl.Items {
		if ti.PhotoRequired && taggedPhotos[ti.ItemID] == 0 {
			problems = append(problems, fmt.Sprintf("Item %q requires at least one photo.", ti.Label))
		}
	}
	return problems
}

// syncCompletion rewrites the denormalized checklist_results blob from run
// items. This duplication is deliberate backward compatibility for legacy
// readers; the run items remain the authoritative answers.
func (e *Engine) syncCompletion(ctx context.Context, tx store.Tx, run models.ChecklistRun, draft bool) error {
	items, err := tx.ListRunItems(ctx, run.ID)
	if err != nil {
		return err
	}
	results := make(map[string]any, len(items))
	for _, it := range items {
		entry := map[string]any{"result": string(it.Result)}
		if it.FailReason != "" {
			entry["failReason"] = it.FailReason
		}
		if it.Note != "" {
			entry["note"] = it.Note
		}
		results[it.ItemID] = entry
	}

	completion, err := tx.GetJobCompletion(ctx, run.JobID)
	if errors.Is(err, store.ErrNoRow) {
		completion = models.JobCompletion{ID: uuid.New().String(), JobID: run.JobID}
	} else if err != nil {
		return err
	}
	completion.ChecklistResults = results
	completion.IsDraft = draft
	return tx.UpsertJobCompletion(ctx, completion)
}

// ReviewRunForJobTx marks the job's submitted run approved or rejected.
// Called by the admin approve/reject mutators inside their transaction; a
// rejected run stays terminal and a fresh run is created when the worker
// returns to the job.
func ReviewRunForJobTx(ctx context.Context, tx store.Tx, jobID string, approved bool, at time.Time) error {
	run, err := tx.GetLatestSubmittedRun(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return nil // pre-checklist jobs have no run to review
		}
		return err
	}
	status := models.RunRejected
	if approved {
		status = models.RunApproved
	}
	return tx.UpdateRunStatus(ctx, run.ID, status, at)
}

func templateItem(tmpl store.TemplateDoc, itemID string) *models.TemplateItem {
	for i := range tmpl.Items {
		if tmpl.Items[i].ItemID == itemID {
			return &tmpl.Items[i]
		}
	}
	return nil
}
