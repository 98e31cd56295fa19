// Package evidence handles photo capture for checklist runs: validation of
// the uploaded bytes, storage under deterministic keys, the per-job photo
// cap, and thumbnail generation deferred to the automation worker.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/queue"
	"fieldops-portal/internal/store"
)

// TaskThumbnail is the worker task type for deferred thumbnail generation.
const TaskThumbnail = "evidence_thumbnail"

// Enqueuer is the slice of the task queue the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task, runAt time.Time) error
}

// Service owns evidence uploads.
type Service struct {
	db       store.DB
	uploader Uploader
	tasks    Enqueuer
	maxBytes int64
	log      zerolog.Logger
}

func NewService(db store.DB, uploader Uploader, tasks Enqueuer, maxBytes int64, log zerolog.Logger) *Service {
	return &Service{db: db, uploader: uploader, tasks: tasks, maxBytes: maxBytes, log: log}
}

// UploadInput is one photo upload. Redacted acknowledges the client already
// blurred faces and identifying marks; unredacted uploads are refused.
type UploadInput struct {
	JobID    string
	ItemID   string
	Redacted bool
	Data     []byte
}

// Upload validates and stores one photo, records its evidence row, and
// queues a thumbnail task. The upload happens before the database write; an
// orphaned object from a failed transaction is harmless and cleaned by
// retention.
func (s *Service) Upload(ctx context.Context, actor models.Actor, in UploadInput) (models.Evidence, error) {
	if !in.Redacted {
		return models.Evidence{}, faults.Validation("photos must be redacted before upload")
	}
	if int64(len(in.Data)) > s.maxBytes {
		return models.Evidence{}, faults.Validation("photo exceeds the %d byte limit", s.maxBytes)
	}
	cfgImg, format, err := image.DecodeConfig(bytes.NewReader(in.Data))
	if err != nil {
		return models.Evidence{}, faults.Validation("upload is not a decodable image")
	}
	if cfgImg.Width == 0 || cfgImg.Height == 0 {
		return models.Evidence{}, faults.Validation("image has invalid dimensions")
	}

	var ev models.Evidence
	err = s.db.WithTx(ctx, func(tx store.Tx) error {
		job, err := tx.GetJob(ctx, in.JobID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("job", in.JobID)
			}
			return err
		}
		if !job.Assignee.BelongsTo(actor) {
			return faults.Unauthorized("only the assigned worker may upload evidence")
		}

		run, err := tx.GetInProgressRun(ctx, in.JobID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.InvalidState("job %s has no open checklist run to attach evidence to", in.JobID)
			}
			return err
		}
		if in.ItemID != "" {
			tmpl, err := tx.GetChecklistTemplate(ctx, run.TemplateID)
			if err != nil {
				return err
			}
			if !templateHasItem(tmpl, in.ItemID) {
				return faults.Validation("item %s is not on this checklist", in.ItemID)
			}
		}

		existing, err := tx.ListEvidenceByJob(ctx, in.JobID)
		if err != nil {
			return err
		}
		if len(existing) >= models.MaxPhotosPerJob {
			return faults.Validation("Maximum %d photos allowed. You have %d.", models.MaxPhotosPerJob, len(existing))
		}

		completion, err := tx.GetJobCompletion(ctx, in.JobID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.InvalidState("job %s has no completion record", in.JobID)
			}
			return err
		}

		key := sanitizeKey(fmt.Sprintf("evidence/%s/%s/%d-%s.%s",
			in.JobID, completion.ID, time.Now().UnixMilli(), uuid.New().String(), extFor(format)))
		path, err := s.uploader.Upload(ctx, key, in.Data, mimeFor(format))
		if err != nil {
			return fmt.Errorf("store evidence: %w", err)
		}

		ev = models.Evidence{
			ID:             uuid.New().String(),
			CompletionID:   completion.ID,
			JobID:          in.JobID,
			ChecklistRunID: run.ID,
			ItemID:         in.ItemID,
			StoragePath:    path,
			ContentType:    mimeFor(format),
			SizeBytes:      int64(len(in.Data)),
		}
		return tx.CreateEvidence(ctx, ev)
	})
	if err != nil {
		return models.Evidence{}, err
	}

	if s.tasks != nil {
		task := queue.Task{
			ID:   uuid.New().String(),
			Type: TaskThumbnail,
			Payload: map[string]any{
				"evidence_id":  ev.ID,
				"storage_path": ev.StoragePath,
			},
		}
		if err := s.tasks.Enqueue(ctx, task, time.Now()); err != nil {
			// Thumbnails are cosmetic; the upload stands either way.
			s.log.Warn().Err(err).Str("evidence_id", ev.ID).Msg("could not queue thumbnail task")
		}
	}
	return ev, nil
}

// ListForJob returns a job's evidence, visible to the assigned worker and
// to admins.
func (s *Service) ListForJob(ctx context.Context, actor models.Actor, jobID string) ([]models.Evidence, error) {
	var out []models.Evidence
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return faults.NotFound("job", jobID)
			}
			return err
		}
		if !actor.IsAdmin() && !job.Assignee.BelongsTo(actor) {
			return faults.Unauthorized("not allowed to view this job's evidence")
		}
		out, err = tx.ListEvidenceByJob(ctx, jobID)
		return err
	})
	return out, err
}

func templateHasItem(tmpl store.TemplateDoc, itemID string) bool {
	for _, it := range tmpl.Items {
		if it.ItemID == itemID {
			return true
		}
	}
	return false
}

func extFor(format string) string {
	switch format {
	case "png":
		return "png"
	case "gif":
		return "gif"
	default:
		return "jpg"
	}
}

func mimeFor(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
