package models

import (
	"time"
)

// RunStatus enumerates checklist run lifecycle states.
type RunStatus string

const (
	RunInProgress RunStatus = "IN_PROGRESS"
	RunSubmitted  RunStatus = "SUBMITTED"
	RunApproved   RunStatus = "APPROVED"
	RunRejected   RunStatus = "REJECTED"
)

// ItemResult is a worker's answer for one checklist item.
type ItemResult string

const (
	ResultPass ItemResult = "PASS"
	ResultFail ItemResult = "FAIL"
	ResultNA   ItemResult = "NA"
)

// TemplateItem is one line of a checklist template as provided by the
// template source. The run engine pins the template version at run creation.
type TemplateItem struct {
	ItemID          string `json:"item_id"`
	Label           string `json:"label"`
	Required        bool   `json:"required"`
	PhotoRequired   bool   `json:"photo_required"`
	PhotoPointLabel string `json:"photo_point_label,omitempty"`
}

// ChecklistRun is one execution of a site's checklist against a job.
// At most one run per job is in progress at a time; submitted runs are
// superseded, never deleted.
type ChecklistRun struct {
	ID                  string     `json:"id"`
	JobID               string     `json:"job_id"`
	TemplateID          string     `json:"template_id"`
	TemplateVersion     int        `json:"template_version"`
	Status              RunStatus  `json:"status"`
	CompletedByWorkerID string     `json:"completed_by_worker_id"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// ChecklistRunItem is the saved answer for one item, keyed by (run, item).
type ChecklistRunItem struct {
	RunID      string     `json:"run_id"`
	ItemID     string     `json:"item_id"`
	Result     ItemResult `json:"result"`
	FailReason string     `json:"fail_reason,omitempty"`
	Note       string     `json:"note,omitempty"`
	SavedAt    time.Time  `json:"saved_at"`
}

// JobCompletion is the denormalized 1:1 shadow of a run's answers, kept in
// sync so legacy readers see a single checklist_results blob plus evidence.
type JobCompletion struct {
	ID               string         `json:"id"`
	JobID            string         `json:"job_id"`
	ChecklistResults map[string]any `json:"checklist_results"`
	IsDraft          bool           `json:"is_draft"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Evidence is one captured, redacted photo. Immutable once created; removal
// is owned by the external retention job.
type Evidence struct {
	ID             string    `json:"id"`
	CompletionID   string    `json:"completion_id"`
	JobID          string    `json:"job_id"`
	ChecklistRunID string    `json:"checklist_run_id,omitempty"`
	ItemID         string    `json:"item_id,omitempty"`
	StoragePath    string    `json:"storage_path"`
	ContentType    string    `json:"content_type"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
}

// MaxPhotosPerJob caps evidence per job regardless of site policy.
const MaxPhotosPerJob = 20
