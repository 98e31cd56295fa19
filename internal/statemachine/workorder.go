package statemachine

import (
	"context"
	"errors"

	"fieldops-portal/internal/faults"
	"fieldops-portal/internal/models"
	"fieldops-portal/internal/store"
	"fieldops-portal/internal/telemetry"
)

type workOrderEdge struct {
	from, to models.WorkOrderStatus
}

// The work-order lattice is deliberately richer than strictly linear:
// approved work finished before anyone was formally assigned may jump
// straight to COMPLETED, and ASSIGNED may fall back to APPROVED when an
// assignment is withdrawn. Backward moves out of COMPLETED and later states
// stay illegal.
var workOrderArcs = map[workOrderEdge]arc{
	{models.WorkOrderRequested, models.WorkOrderApproved}: {adminOnly: true},
	{models.WorkOrderApproved, models.WorkOrderAssigned}:  {adminOnly: true},
	{models.WorkOrderApproved, models.WorkOrderCompleted}: {adminOnly: true},
	{models.WorkOrderAssigned, models.WorkOrderApproved}:  {adminOnly: true},
	{models.WorkOrderAssigned, models.WorkOrderCompleted}: {workerOwned: true},
	{models.WorkOrderCompleted, models.WorkOrderInvoiced}: {adminOnly: true},
	{models.WorkOrderInvoiced, models.WorkOrderPaid}:      {adminOnly: true},

	{models.WorkOrderRequested, models.WorkOrderCancelled}: {adminOnly: true, needsReason: true},
	{models.WorkOrderApproved, models.WorkOrderCancelled}:  {adminOnly: true, needsReason: true},
	{models.WorkOrderAssigned, models.WorkOrderCancelled}:  {adminOnly: true, needsReason: true},
}

// CanTransitionWorkOrder is the pure checker for the work-order lattice.
func CanTransitionWorkOrder(actor models.Actor, wo models.WorkOrder, to models.WorkOrderStatus) Decision {
	a, ok := workOrderArcs[workOrderEdge{wo.Status, to}]
	if !ok {
		return deny("transition from " + string(wo.Status) + " to " + string(to) + " is not allowed")
	}
	if a.workerOwned && !actor.IsAdmin() && !wo.Assignee.BelongsTo(actor) {
		return deny("only the assigned account may complete this work order")
	}
	if a.adminOnly && !actor.IsAdmin() {
		return deny("admin role required")
	}
	return allow
}

func workOrderReasonRequired(from, to models.WorkOrderStatus) bool {
	a, ok := workOrderArcs[workOrderEdge{from, to}]
	return ok && a.needsReason
}

// TransitionWorkOrder moves one work order inside its own transaction.
func (e *Engine) TransitionWorkOrder(ctx context.Context, actor models.Actor, id string, to models.WorkOrderStatus, metadata map[string]any) error {
	return e.db.WithTx(ctx, func(tx store.Tx) error {
		return e.TransitionWorkOrderTx(ctx, tx, actor, id, to, metadata)
	})
}

// TransitionWorkOrderTx is the caller-owned-transaction variant, mirroring
// the job contract: row lock, pure check, status write, audit row.
func (e *Engine) TransitionWorkOrderTx(ctx context.Context, tx store.Tx, actor models.Actor, id string, to models.WorkOrderStatus, metadata map[string]any) error {
	wo, err := tx.GetWorkOrderForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return faults.NotFound("work order", id)
		}
		return err
	}

	d := CanTransitionWorkOrder(actor, wo, to)
	if !d.Allowed {
		telemetry.TransitionsRejected.Inc()
		return transitionFault(d.Reason)
	}
	if workOrderReasonRequired(wo.Status, to) && ReasonFrom(metadata) == "" {
		return faults.Validation("a non-empty reason is required for this transition")
	}

	if err := tx.UpdateWorkOrderStatus(ctx, id, to); err != nil {
		return err
	}
	if err := tx.AppendAudit(ctx, models.AuditEntry{
		ActorUserID: actor.ID,
		EntityType:  models.EntityWorkOrder,
		EntityID:    id,
		FromState:   string(wo.Status),
		ToState:     string(to),
		Metadata:    metadata,
	}); err != nil {
		return err
	}

	telemetry.TransitionsApplied.WithLabelValues(string(models.EntityWorkOrder)).Inc()
	e.log.Info().
		Str("work_order_id", id).
		Str("from", string(wo.Status)).
		Str("to", string(to)).
		Str("actor", actor.ID).
		Msg("work order transitioned")
	return nil
}
