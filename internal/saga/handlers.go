package saga

import (
	"context"
	"fmt"

	"github.com/jcmexdev/order-saga/internal/eventbus"
	"github.com/jcmexdev/order-saga/internal/order"
)

// Drop reasons reported on events_dropped_total.
const (
	dropUndecodable = "undecodable"
	dropUnknownSaga = "unknown_saga"
	dropTerminal    = "terminal"
	dropDuplicate   = "duplicate"
)

// Every handler returns nil: failures become compensation or a logged drop,
// so nothing escapes into the transport.

func (o *Orchestrator) handleInventoryReserved(ctx context.Context, msg eventbus.Message) error {
	var evt InventoryReserved
	if !o.decode(ctx, msg, &evt) {
		return nil
	}
	ctx, span := o.startSpan(ctx, "saga."+msg.Topic, SagaID(evt.OrderID))
	defer span.End()

	e, ok := o.acquire(ctx, msg.Topic, evt.OrderID, msg.Topic+":"+evt.ReservationID, func(st *State) {
		if st.ReservationID != evt.ReservationID {
			o.releaseStray(ctx, st, evt.ReservationID)
		}
	})
	if !ok {
		return nil
	}
	defer e.mu.Unlock()
	st := &e.state

	// A saga holds one reservation. Another one for the same order would
	// otherwise request a second payment and leak the first reservation.
	if st.ReservationID != "" {
		o.metrics.eventDropped(msg.Topic, dropDuplicate)
		o.releaseStray(ctx, st, evt.ReservationID)
		return nil
	}

	o.logger.InfoContext(ctx, "inventory reserved",
		"saga_id", st.SagaID,
		"order_id", st.OrderID,
		"reservation_id", evt.ReservationID,
	)
	st.ReservationID = evt.ReservationID
	o.transition(ctx, e, StatusInventoryReserved, "inventory_reserved")

	if err := o.store.UpdateStatus(ctx, st.OrderID, order.StatusInventoryReserved); err != nil {
		spanError(span, err)
		o.compensate(ctx, e, fmt.Sprintf("stock_reservation: update order: %v", err))
		return nil
	}
	ord, err := o.store.FindByID(ctx, st.OrderID)
	if err != nil {
		spanError(span, err)
		o.compensate(ctx, e, fmt.Sprintf("stock_reservation: load order: %v", err))
		return nil
	}
	err = o.bus.Publish(ctx, TopicPaymentProcessRequest, PaymentProcessRequest{
		OrderID:    st.OrderID,
		CustomerID: st.CustomerID,
		Amount:     ord.TotalAmount,
	})
	if err != nil {
		spanError(span, err)
		o.compensate(ctx, e, fmt.Sprintf("stock_reservation: request payment: %v", err))
		return nil
	}

	o.transition(ctx, e, StatusPaymentProcessing, "payment_requested")
	o.logger.InfoContext(ctx, "payment requested", "saga_id", st.SagaID, "amount", ord.TotalAmount)
	return nil
}

func (o *Orchestrator) handleInventoryOutOfStock(ctx context.Context, msg eventbus.Message) error {
	var evt InventoryOutOfStock
	if !o.decode(ctx, msg, &evt) {
		return nil
	}
	ctx, span := o.startSpan(ctx, "saga."+msg.Topic, SagaID(evt.OrderID))
	defer span.End()

	e, ok := o.acquire(ctx, msg.Topic, evt.OrderID, msg.Topic+":"+evt.OrderID, nil)
	if !ok {
		return nil
	}
	defer e.mu.Unlock()

	reason := ShortageReason(evt.UnavailableItems)
	o.logger.WarnContext(ctx, "inventory out of stock", "saga_id", e.state.SagaID, "reason", reason)
	o.compensate(ctx, e, reason)
	return nil
}

func (o *Orchestrator) handlePaymentSucceeded(ctx context.Context, msg eventbus.Message) error {
	var evt PaymentSucceeded
	if !o.decode(ctx, msg, &evt) {
		return nil
	}
	ctx, span := o.startSpan(ctx, "saga."+msg.Topic, SagaID(evt.OrderID))
	defer span.End()

	e, ok := o.acquire(ctx, msg.Topic, evt.OrderID, msg.Topic+":"+evt.PaymentID, func(st *State) {
		if st.PaymentID != evt.PaymentID {
			o.refundStray(ctx, st, evt.PaymentID)
		}
	})
	if !ok {
		return nil
	}
	defer e.mu.Unlock()
	st := &e.state

	if st.PaymentID != "" {
		o.metrics.eventDropped(msg.Topic, dropDuplicate)
		o.refundStray(ctx, st, evt.PaymentID)
		return nil
	}

	o.logger.InfoContext(ctx, "payment succeeded",
		"saga_id", st.SagaID,
		"payment_id", evt.PaymentID,
		"amount", evt.Amount.Value,
		"currency", evt.Amount.Currency,
	)
	st.PaymentID = evt.PaymentID
	o.transition(ctx, e, StatusPaymentSucceeded, "payment_succeeded")

	if err := o.store.UpdateStatus(ctx, st.OrderID, order.StatusConfirmed); err != nil {
		spanError(span, err)
		o.compensate(ctx, e, fmt.Sprintf("confirmation: update order: %v", err))
		return nil
	}
	ord, err := o.store.FindByID(ctx, st.OrderID)
	if err != nil {
		spanError(span, err)
		o.compensate(ctx, e, fmt.Sprintf("confirmation: load order: %v", err))
		return nil
	}
	err = o.bus.Publish(ctx, TopicOrderConfirmed, OrderConfirmed{
		OrderID:     st.OrderID,
		CustomerID:  st.CustomerID,
		TotalAmount: ord.TotalAmount,
		Items:       ord.Items,
		PaymentID:   st.PaymentID,
	})
	if err != nil {
		spanError(span, err)
		o.compensate(ctx, e, fmt.Sprintf("confirmation: publish order confirmed: %v", err))
		return nil
	}

	st.Status = StatusCompleted
	o.finish(ctx, e, "completed")
	o.logger.InfoContext(ctx, "saga completed", "saga_id", st.SagaID, "order_id", st.OrderID)
	return nil
}

func (o *Orchestrator) handlePaymentFailed(ctx context.Context, msg eventbus.Message) error {
	var evt PaymentFailed
	if !o.decode(ctx, msg, &evt) {
		return nil
	}
	ctx, span := o.startSpan(ctx, "saga."+msg.Topic, SagaID(evt.OrderID))
	defer span.End()

	e, ok := o.acquire(ctx, msg.Topic, evt.OrderID, msg.Topic+":"+evt.OrderID, nil)
	if !ok {
		return nil
	}
	defer e.mu.Unlock()

	reason := evt.Reason
	if reason == "" {
		reason = "payment failed"
	}
	o.logger.WarnContext(ctx, "payment failed", "saga_id", e.state.SagaID, "reason", reason)
	o.compensate(ctx, e, reason)
	return nil
}

func (o *Orchestrator) decode(ctx context.Context, msg eventbus.Message, into any) bool {
	if err := msg.Decode(into); err != nil {
		o.logger.WarnContext(ctx, "dropping undecodable event", "topic", msg.Topic, "message_id", msg.ID, "error", err)
		o.metrics.eventDropped(msg.Topic, dropUndecodable)
		return false
	}
	return true
}

// acquire returns the locked entry for orderID, or false when the event must
// be dropped: the saga is unknown (never started or already evicted), already
// terminal, or key was processed before. onTerminal, when set, runs under the
// entry lock the first time key reaches a terminal saga.
func (o *Orchestrator) acquire(ctx context.Context, topic, orderID, key string, onTerminal func(*State)) (*entry, bool) {
	sagaID := SagaID(orderID)
	e, ok := o.sagas.get(sagaID)
	if !ok {
		o.logger.WarnContext(ctx, "saga not found, dropping event", "saga_id", sagaID, "topic", topic)
		o.metrics.eventDropped(topic, dropUnknownSaga)
		return nil, false
	}

	e.mu.Lock()
	if e.state.Status.IsTerminal() {
		if onTerminal != nil && !e.seen(key) {
			onTerminal(&e.state)
		}
		e.mu.Unlock()
		o.logger.WarnContext(ctx, "saga already finished, dropping event", "saga_id", sagaID, "topic", topic)
		o.metrics.eventDropped(topic, dropTerminal)
		return nil, false
	}
	if e.seen(key) {
		e.mu.Unlock()
		o.logger.InfoContext(ctx, "duplicate event, dropping", "saga_id", sagaID, "topic", topic, "key", key)
		o.metrics.eventDropped(topic, dropDuplicate)
		return nil, false
	}
	return e, true
}

// releaseStray asks inventory to release a reservation the saga does not use.
// Like the compensating release it is fire-and-forget. e.mu must be held.
func (o *Orchestrator) releaseStray(ctx context.Context, st *State, reservationID string) {
	o.logger.WarnContext(ctx, "releasing stray reservation",
		"saga_id", st.SagaID,
		"reservation_id", reservationID,
		"kept_reservation_id", st.ReservationID,
	)
	err := o.bus.Publish(ctx, TopicInventoryRelease, InventoryRelease{
		OrderID:       st.OrderID,
		ReservationID: reservationID,
		Reason:        ReasonStrayReservation,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "stray reservation release not published",
			"saga_id", st.SagaID,
			"reservation_id", reservationID,
			"error", err,
		)
	}
}

// refundStray asks payment to refund a capture the saga does not use.
// e.mu must be held.
func (o *Orchestrator) refundStray(ctx context.Context, st *State, paymentID string) {
	o.logger.WarnContext(ctx, "refunding stray payment",
		"saga_id", st.SagaID,
		"payment_id", paymentID,
		"kept_payment_id", st.PaymentID,
	)
	err := o.bus.Publish(ctx, TopicRefundRequest, RefundRequest{
		OrderID:   st.OrderID,
		PaymentID: paymentID,
		Reason:    ReasonStrayPayment,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "stray payment refund not published, operator intervention required",
			"saga_id", st.SagaID,
			"payment_id", paymentID,
			"error", err,
		)
	}
}
