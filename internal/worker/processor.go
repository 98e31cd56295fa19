// Package worker drives the automation task loop: promote due tasks,
// reclaim expired leases, dispatch by task type, and retry with exponential
// backoff until a task either succeeds or dead-letters.
package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/config"
	"fieldops-portal/internal/queue"
	"fieldops-portal/internal/telemetry"
)

// Handler executes one task.
type Handler func(ctx context.Context, task queue.Task) error

// Processor is the worker loop.
type Processor struct {
	cfg       config.Config
	queue     *queue.RedisQueue
	handlers  map[string]Handler
	recurring map[string]time.Duration
	log       zerolog.Logger
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, log zerolog.Logger) *Processor {
	return &Processor{
		cfg:       cfg,
		queue:     q,
		handlers:  make(map[string]Handler),
		recurring: make(map[string]time.Duration),
		log:       log,
	}
}

// RegisterHandler binds a handler to a task type.
func (p *Processor) RegisterHandler(taskType string, handler Handler) {
	if taskType == "" || handler == nil {
		return
	}
	p.handlers[taskType] = handler
}

// RegisterRecurring marks a task type as self-rescheduling: after each
// completed run, successful or dead-lettered, a fresh task of the same type
// is scheduled one interval out.
func (p *Processor) RegisterRecurring(taskType string, handler Handler, interval time.Duration) {
	p.RegisterHandler(taskType, handler)
	p.recurring[taskType] = interval
}

// Seed ensures one scheduled instance exists for every recurring task type.
// Called once at startup; duplicate seeds from multiple workers are dulled
// by the sweeps themselves being idempotent.
func (p *Processor) Seed(ctx context.Context) {
	for taskType, interval := range p.recurring {
		task := queue.Task{ID: uuid.New().String(), Type: taskType}
		if err := p.queue.Schedule(ctx, task, time.Now().Add(interval)); err != nil {
			p.log.Error().Err(err).Str("type", taskType).Msg("could not seed recurring task")
		}
	}
}

// Run starts the loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		_, _ = p.queue.PromoteScheduled(ctx, now, int64(p.cfg.ScheduledBatchSize))
		if reclaimed, _ := p.queue.RequeueExpired(ctx, now, 100); len(reclaimed) > 0 {
			p.log.Warn().Int("count", len(reclaimed)).Msg("reclaimed expired task leases")
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		task, err := p.queue.DequeueWithLease(ctx)
		if err != nil || task.ID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.process(ctx, task)
	}
}

func (p *Processor) process(ctx context.Context, task queue.Task) {
	err := p.dispatch(ctx, task)
	if err == nil {
		_ = p.queue.Ack(ctx, task.ID)
		telemetry.WorkerSuccess.Inc()
		p.reschedule(ctx, task.Type)
		return
	}

	task.Attempts++
	p.log.Error().Err(err).
		Str("task_id", task.ID).
		Str("type", task.Type).
		Int("attempts", task.Attempts).
		Msg("task failed")

	if task.Attempts >= p.cfg.MaxAttempts {
		_ = p.queue.DLQPush(ctx, task)
		telemetry.WorkerDeadLetter.Inc()
		p.reschedule(ctx, task.Type)
		return
	}

	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, task.Attempts)
	_ = p.queue.Ack(ctx, task.ID)
	_ = p.queue.Schedule(ctx, task, time.Now().Add(backoff))
	telemetry.WorkerFailures.Inc()
}

func (p *Processor) dispatch(ctx context.Context, task queue.Task) error {
	handler, ok := p.handlers[task.Type]
	if !ok {
		return fmt.Errorf("no handler registered for task type %q", task.Type)
	}
	return handler(ctx, task)
}

// reschedule queues the next instance of a recurring task type.
func (p *Processor) reschedule(ctx context.Context, taskType string) {
	interval, ok := p.recurring[taskType]
	if !ok {
		return
	}
	next := queue.Task{ID: uuid.New().String(), Type: taskType}
	if err := p.queue.Schedule(ctx, next, time.Now().Add(interval)); err != nil {
		p.log.Error().Err(err).Str("type", taskType).Msg("could not reschedule recurring task")
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
