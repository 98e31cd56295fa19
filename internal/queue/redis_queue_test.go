package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	q := NewRedisQueue(Options{Addr: mr.Addr(), VisibilityTimeout: 30 * time.Second})
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	task := Task{ID: "t-1", Type: "evidence_thumbnail", Payload: map[string]any{"evidence_id": "ev-1"}}
	if err := q.Enqueue(ctx, task, time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	depth, err := q.ReadyDepth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("depth = %d err = %v", depth, err)
	}

	got, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != "t-1" || got.Type != "evidence_thumbnail" {
		t.Fatalf("got %+v", got)
	}
	if got.Payload["evidence_id"] != "ev-1" {
		t.Fatalf("payload = %+v", got.Payload)
	}

	// Leased tasks are invisible to other consumers.
	empty, err := q.DequeueWithLease(ctx)
	if err != nil || empty.ID != "" {
		t.Fatalf("second dequeue = %+v err = %v", empty, err)
	}

	if err := q.Ack(ctx, got.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// The body is gone after ack.
	if gone, err := q.getTask(ctx, got.ID); err != nil || gone.ID != "" {
		t.Fatalf("task survived ack: %+v err = %v", gone, err)
	}
}

func TestScheduleAndPromote(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	runAt := time.Now().Add(time.Minute)
	if err := q.Schedule(ctx, Task{ID: "t-1", Type: "makegood_sweep"}, runAt); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Not due yet.
	n, err := q.PromoteScheduled(ctx, time.Now(), 100)
	if err != nil || n != 0 {
		t.Fatalf("early promote = %d err = %v", n, err)
	}
	if got, _ := q.DequeueWithLease(ctx); got.ID != "" {
		t.Fatalf("dequeued an unscheduled task %+v", got)
	}

	n, err = q.PromoteScheduled(ctx, runAt.Add(time.Second), 100)
	if err != nil || n != 1 {
		t.Fatalf("promote = %d err = %v", n, err)
	}
	got, err := q.DequeueWithLease(ctx)
	if err != nil || got.ID != "t-1" {
		t.Fatalf("dequeue after promote = %+v err = %v", got, err)
	}
}

func TestRequeueExpiredReclaimsLeases(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, Task{ID: "t-1", Type: "invoice_attach"}, time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Lease still current: nothing reclaimed.
	ids, err := q.RequeueExpired(ctx, time.Now(), 100)
	if err != nil || len(ids) != 0 {
		t.Fatalf("early requeue = %v err = %v", ids, err)
	}

	ids, err = q.RequeueExpired(ctx, time.Now().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 1 || ids[0] != "t-1" {
		t.Fatalf("reclaimed = %v", ids)
	}
	got, err := q.DequeueWithLease(ctx)
	if err != nil || got.ID != "t-1" {
		t.Fatalf("redelivery = %+v err = %v", got, err)
	}
}

func TestExtendLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, Task{ID: "t-1", Type: "invoice_attach"}, time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.ExtendLease(ctx, "t-1", 5*time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}

	// The old deadline has passed but the extended lease holds.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Minute), 100)
	if err != nil || len(ids) != 0 {
		t.Fatalf("requeue after extend = %v err = %v", ids, err)
	}
}

func TestDLQKeepsFullTask(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	task := Task{ID: "t-1", Type: "makegood_sweep", Attempts: 5}
	if err := q.Enqueue(ctx, task, time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	leased, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	if err := q.DLQPush(ctx, leased); err != nil {
		t.Fatalf("dlq push: %v", err)
	}
	dead, err := q.DLQPeek(ctx, 10)
	if err != nil {
		t.Fatalf("dlq peek: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != "t-1" || dead[0].Attempts != 5 {
		t.Fatalf("dead = %+v", dead)
	}

	// Dead-lettered tasks leave the live keys entirely.
	if got, _ := q.DequeueWithLease(ctx); got.ID != "" {
		t.Fatalf("dequeued a dead task %+v", got)
	}
	if ids, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 100); len(ids) != 0 {
		t.Fatalf("dead task lease survived: %v", ids)
	}
}
