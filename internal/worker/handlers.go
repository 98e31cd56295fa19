package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/automation"
	"fieldops-portal/internal/config"
	"fieldops-portal/internal/evidence"
	"fieldops-portal/internal/queue"
)

// RegisterSweeps wires the recurring automation sweeps into the processor.
func RegisterSweeps(p *Processor, sweeper *automation.Sweeper, interval time.Duration) {
	p.RegisterRecurring(automation.TaskMakeGoodSweep, func(ctx context.Context, _ queue.Task) error {
		_, err := sweeper.MakeGoodSweep(ctx, time.Now().UTC())
		return err
	}, interval)
	p.RegisterRecurring(automation.TaskInvoiceAttach, func(ctx context.Context, _ queue.Task) error {
		_, err := sweeper.InvoiceAttachSweep(ctx)
		return err
	}, interval)
	p.RegisterRecurring(automation.TaskApprovalOverdueSweep, func(ctx context.Context, _ queue.Task) error {
		_, err := sweeper.ApprovalOverdueSweep(ctx, time.Now().UTC())
		return err
	}, interval)
}

// ThumbnailHandler renders a fixed-width thumbnail next to a stored
// evidence photo. Only locally stored evidence is thumbnailed; objects in
// S3 are served through a resizing proxy instead.
type ThumbnailHandler struct {
	width int
	log   zerolog.Logger
}

func NewThumbnailHandler(cfg config.Config, log zerolog.Logger) *ThumbnailHandler {
	width := cfg.ThumbnailWidth
	if width == 0 {
		width = 320
	}
	return &ThumbnailHandler{width: width, log: log}
}

// Register binds the handler to the evidence thumbnail task type.
func (h *ThumbnailHandler) Register(p *Processor) {
	p.RegisterHandler(evidence.TaskThumbnail, h.Handle)
}

func (h *ThumbnailHandler) Handle(ctx context.Context, task queue.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, _ := task.Payload["storage_path"].(string)
	if path == "" {
		return errors.New("storage_path is required")
	}
	if strings.HasPrefix(path, "s3://") {
		h.log.Debug().Str("path", path).Msg("skipping thumbnail for remote evidence")
		return nil
	}

	src, err := imaging.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("source photo missing: %w", err)
		}
		return fmt.Errorf("open photo: %w", err)
	}

	thumb := imaging.Resize(src, h.width, 0, imaging.Lanczos)
	out := thumbPath(path)
	if err := imaging.Save(thumb, out, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

func thumbPath(path string) string {
	dir, file := filepath.Split(path)
	ext := filepath.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if ext == "" || strings.EqualFold(ext, ".gif") {
		ext = ".jpg"
	}
	return filepath.Join(dir, "thumb_"+base+ext)
}
