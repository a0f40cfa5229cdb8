package saga

import (
	"context"
	"fmt"

	"github.com/jcmexdev/order-saga/internal/order"
)

// compensate rolls the saga back: release the reservation, refund a captured
// payment, cancel the order and announce it. A failure lands the saga in
// FAILED, which is never retried automatically. Compensating a terminal saga
// is a no-op. e.mu must be held.
func (o *Orchestrator) compensate(ctx context.Context, e *entry, reason string) {
	st := &e.state
	if st.Status.IsTerminal() {
		o.logger.DebugContext(ctx, "saga already terminal, skipping compensation", "saga_id", st.SagaID, "status", st.Status)
		return
	}

	// Compensation runs to the end regardless of the triggering delivery or
	// request.
	ctx, span := o.startSpan(context.WithoutCancel(ctx), "saga.compensate", st.SagaID)
	defer span.End()

	o.logger.WarnContext(ctx, "compensating saga", "saga_id", st.SagaID, "order_id", st.OrderID, "reason", reason)
	st.CompensationReason = reason
	o.transition(ctx, e, StatusCompensating, "compensation")

	if err := o.rollback(ctx, st); err != nil {
		spanError(span, err)
		st.Status = StatusFailed
		st.Error = err.Error()
		o.logger.ErrorContext(ctx, "saga compensation failed, operator intervention required",
			"saga_id", st.SagaID,
			"order_id", st.OrderID,
			"error", err,
		)
		o.finish(ctx, e, "compensation_failed")
		return
	}

	st.Status = StatusCompensated
	o.finish(ctx, e, "compensated")
	o.logger.InfoContext(ctx, "saga compensated", "saga_id", st.SagaID, "order_id", st.OrderID)
}

func (o *Orchestrator) rollback(ctx context.Context, st *State) error {
	if st.ReservationID != "" {
		// Fire-and-forget: the inventory participant releases idempotently and
		// a reservation left behind expires on its side.
		err := o.bus.Publish(ctx, TopicInventoryRelease, InventoryRelease{
			OrderID:       st.OrderID,
			ReservationID: st.ReservationID,
			Reason:        st.CompensationReason,
		})
		if err != nil {
			o.logger.WarnContext(ctx, "inventory release request not published",
				"saga_id", st.SagaID,
				"reservation_id", st.ReservationID,
				"error", err,
			)
		}
	}

	if st.PaymentID != "" {
		err := o.bus.Publish(ctx, TopicRefundRequest, RefundRequest{
			OrderID:   st.OrderID,
			PaymentID: st.PaymentID,
			Reason:    st.CompensationReason,
		})
		if err != nil {
			return fmt.Errorf("request refund of %s: %w", st.PaymentID, err)
		}
	}

	if err := o.store.UpdateStatus(ctx, st.OrderID, order.StatusCancelled); err != nil {
		return fmt.Errorf("cancel order %s: %w", st.OrderID, err)
	}

	err := o.bus.Publish(ctx, TopicOrderCancelled, OrderCancelled{
		OrderID: st.OrderID,
		Reason:  st.CompensationReason,
	})
	if err != nil {
		return fmt.Errorf("publish order cancelled: %w", err)
	}
	return nil
}
