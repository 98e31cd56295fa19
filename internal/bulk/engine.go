// Package bulk implements the two-phase bulk operation engine: a read-only
// preview that classifies each requested item, then an execute phase that
// re-validates and applies each item in its own transaction so one bad item
// never drags down the rest.
package bulk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/statemachine"
	"fieldops-portal/internal/store"
	"fieldops-portal/internal/telemetry"
)

// Action names a bulk-applicable operation.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete" // work orders only
	ActionResolve  Action = "resolve"  // incidents only
)

// Request is one bulk operation over homogeneous entities.
type Request struct {
	Entity models.EntityType `json:"entity"`
	Action Action            `json:"action"`
	IDs    []string          `json:"ids"`
	// Reason applies to every item; reject and cancel demand one.
	Reason string `json:"reason,omitempty"`
}

// ItemOutcome reports one item's classification or execution result.
type ItemOutcome struct {
	ID    string      `json:"id"`
	Code  faults.Code `json:"code,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Preview is the dry-run result. No state was touched to produce it.
type Preview struct {
	Valid   []string      `json:"valid"`
	Invalid []ItemOutcome `json:"invalid"`
	Summary string        `json:"summary"`
}

// Result is the execute-phase outcome. len(Succeeded)+len(Failed) always
// equals the number of requested items.
type Result struct {
	OperationID string        `json:"operation_id"`
	Succeeded   []string      `json:"succeeded"`
	Failed      []ItemOutcome `json:"failed"`
}

// Engine runs previews and executions.
type Engine struct {
	db      store.DB
	actions *Actions
	log     zerolog.Logger
}

func NewEngine(db store.DB, actions *Actions, log zerolog.Logger) *Engine {
	return &Engine{db: db, actions: actions, log: log}
}

// jobTarget maps a bulk action to the job status it drives toward.
func jobTarget(action Action) (models.JobStatus, bool) {
	switch action {
	case ActionApprove:
		return models.JobApprovedPayable, true
	case ActionReject:
		return models.JobScheduled, true
	case ActionCancel:
		return models.JobCancelled, true
	}
	return "", false
}

func workOrderTarget(action Action) (models.WorkOrderStatus, bool) {
	switch action {
	case ActionApprove:
		return models.WorkOrderApproved, true
	case ActionComplete:
		return models.WorkOrderCompleted, true
	case ActionCancel:
		return models.WorkOrderCancelled, true
	}
	return "", false
}

func (e *Engine) validateRequest(req Request) error {
	if len(req.IDs) == 0 {
		return faults.Validation("bulk request contains no ids")
	}
	switch req.Entity {
	case models.EntityJob:
		if _, ok := jobTarget(req.Action); !ok {
			return faults.Validation("action %q does not apply to jobs", req.Action)
		}
	case models.EntityWorkOrder:
		if _, ok := workOrderTarget(req.Action); !ok {
			return faults.Validation("action %q does not apply to work orders", req.Action)
		}
	case models.EntityIncident:
		if req.Action != ActionResolve {
			return faults.Validation("action %q does not apply to incident reports", req.Action)
		}
	default:
		return faults.Validation("entity %q is not bulk-operable", req.Entity)
	}
	if (req.Action == ActionReject || req.Action == ActionCancel) && req.Reason == "" {
		return faults.Validation("a shared reason is required to bulk %s", req.Action)
	}
	return nil
}

// Preview classifies every requested item as applicable or not without side
// effects. The classification is advisory: state may change between preview
// and execute, which is why execute re-validates per item.
func (e *Engine) Preview(ctx context.Context, actor models.Actor, req Request) (Preview, error) {
	if err := e.validateRequest(req); err != nil {
		return Preview{}, err
	}

	var p Preview
	err := e.db.WithTx(ctx, func(tx store.Tx) error {
		for _, id := range req.IDs {
			if out, ok := e.classify(ctx, tx, actor, req, id); ok {
				p.Valid = append(p.Valid, id)
			} else {
				p.Invalid = append(p.Invalid, out)
			}
		}
		return nil
	})
	if err != nil {
		return Preview{}, err
	}
	p.Summary = fmt.Sprintf("%d of %d items can be %sed", len(p.Valid), len(req.IDs), req.Action)
	return p, nil
}

func (e *Engine) classify(ctx context.Context, tx store.Tx, actor models.Actor, req Request, id string) (ItemOutcome, bool) {
	switch req.Entity {
	case models.EntityJob:
		job, err := tx.GetJob(ctx, id)
		if err != nil {
			return outcomeErr(id, faults.NotFound("job", id)), false
		}
		to, _ := jobTarget(req.Action)
		if d := statemachine.CanTransitionJob(actor, job, to); !d.Allowed {
			return ItemOutcome{ID: id, Code: faults.CodeInvalidState, Error: d.Reason}, false
		}
	case models.EntityWorkOrder:
		wo, err := tx.GetWorkOrder(ctx, id)
		if err != nil {
			return outcomeErr(id, faults.NotFound("work order", id)), false
		}
		to, _ := workOrderTarget(req.Action)
		if d := statemachine.CanTransitionWorkOrder(actor, wo, to); !d.Allowed {
			return ItemOutcome{ID: id, Code: faults.CodeInvalidState, Error: d.Reason}, false
		}
	case models.EntityIncident:
		inc, err := tx.GetIncident(ctx, id)
		if err != nil {
			return outcomeErr(id, faults.NotFound("incident report", id)), false
		}
		if inc.Resolved {
			return outcomeErr(id, faults.Conflict("incident %s is already resolved", id)), false
		}
	}
	return ItemOutcome{}, true
}

// Execute applies the action item by item. Each item gets its own
// transaction and a fresh validation against current state; failures are
// recorded and the loop moves on. Every audit row written by the operation
// carries the shared operation id in its metadata.
func (e *Engine) Execute(ctx context.Context, actor models.Actor, req Request) (Result, error) {
	if err := e.validateRequest(req); err != nil {
		return Result{}, err
	}

	res := Result{OperationID: uuid.New().String()}
	metadata := map[string]any{models.MetaBulkOperationID: res.OperationID}
	if req.Reason != "" {
		metadata["reason"] = req.Reason
	}

	for _, id := range req.IDs {
		if err := e.applyOne(ctx, actor, req, id, metadata); err != nil {
			telemetry.BulkItemsFailed.Inc()
			res.Failed = append(res.Failed, outcomeErr(id, err))
			continue
		}
		telemetry.BulkItemsSucceeded.Inc()
		res.Succeeded = append(res.Succeeded, id)
	}

	e.log.Info().
		Str("operation_id", res.OperationID).
		Str("entity", string(req.Entity)).
		Str("action", string(req.Action)).
		Int("succeeded", len(res.Succeeded)).
		Int("failed", len(res.Failed)).
		Msg("bulk operation executed")
	return res, nil
}

func (e *Engine) applyOne(ctx context.Context, actor models.Actor, req Request, id string, metadata map[string]any) error {
	switch req.Entity {
	case models.EntityJob:
		switch req.Action {
		case ActionApprove:
			return e.actions.ApproveJob(ctx, actor, id, metadata)
		case ActionReject:
			return e.actions.RejectJob(ctx, actor, id, metadata)
		case ActionCancel:
			return e.actions.CancelJob(ctx, actor, id, metadata)
		}
	case models.EntityWorkOrder:
		to, _ := workOrderTarget(req.Action)
		return e.actions.TransitionWorkOrder(ctx, actor, id, to, metadata)
	case models.EntityIncident:
		return e.actions.ResolveIncident(ctx, actor, id, metadata)
	}
	return faults.Validation("action %q does not apply to %s", req.Action, req.Entity)
}

func outcomeErr(id string, err error) ItemOutcome {
	return ItemOutcome{ID: id, Code: faults.CodeOf(err), Error: err.Error()}
}
