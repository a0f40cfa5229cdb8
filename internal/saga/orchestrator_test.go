package saga

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/saga/sagalog"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, newFakeBus())
	assert.Error(t, err)

	_, err = New(newFakeStore(), nil)
	assert.Error(t, err)

	_, err = New(newFakeStore(), newFakeBus(), WithTimeout(0))
	assert.Error(t, err)
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.orch.Start(context.Background()))
}

func TestStartOrderSaga_PersistsAndPublishes(t *testing.T) {
	h := newHarness(t)

	id := h.start(t, "O1")
	assert.Equal(t, "saga-O1", id)

	st := h.state(t, id)
	assert.Equal(t, StatusStarted, st.Status)
	assert.Equal(t, "C1", st.CustomerID)
	assert.Equal(t, epoch, st.StartedAt)
	assert.Equal(t, order.StatusPending, h.orderStatus(t, "O1"))

	created := h.bus.topic(TopicOrderCreated)
	require.Len(t, created, 1)
	assert.Equal(t, OrderCreated{
		OrderID:     "O1",
		CustomerID:  "C1",
		Items:       []order.Item{{ProductID: "P1", Quantity: 2, Price: 10}},
		TotalAmount: 20,
	}, created[0])
}

func TestStartOrderSaga_InvalidCommand(t *testing.T) {
	h := newHarness(t)

	cases := map[string]StartCommand{
		"missing order id": {CustomerID: "C1", Items: []order.Item{{ProductID: "P1", Quantity: 1}}},
		"missing customer": {OrderID: "O1", Items: []order.Item{{ProductID: "P1", Quantity: 1}}},
		"no items":         {OrderID: "O1", CustomerID: "C1"},
		"zero quantity":    {OrderID: "O1", CustomerID: "C1", Items: []order.Item{{ProductID: "P1"}}},
		"negative total":   {OrderID: "O1", CustomerID: "C1", Items: []order.Item{{ProductID: "P1", Quantity: 1}}, TotalAmount: -1},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.orch.StartOrderSaga(context.Background(), cmd)
			assert.ErrorIs(t, err, ErrInvalidCommand)
		})
	}
	assert.Zero(t, h.orch.Len())
	assert.Empty(t, h.bus.topic(TopicOrderCreated))
}

func TestStartOrderSaga_DuplicateIsRejected(t *testing.T) {
	h := newHarness(t)
	h.start(t, "O1")

	id, err := h.orch.StartOrderSaga(context.Background(), sampleCommand("O1"))
	assert.ErrorIs(t, err, ErrSagaExists)
	assert.Empty(t, id)
	assert.Len(t, h.bus.topic(TopicOrderCreated), 1)
	assert.Equal(t, StatusStarted, h.state(t, "saga-O1").Status)
}

func TestStartOrderSaga_DuplicateAfterEviction(t *testing.T) {
	h := newHarness(t)
	h.start(t, "O1")
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O1", Reason: "declined"})

	h.clock.Advance(DefaultRetention + time.Second)
	require.Eventually(t, func() bool { return h.orch.Len() == 0 }, time.Second, 5*time.Millisecond)

	_, err := h.orch.StartOrderSaga(context.Background(), sampleCommand("O1"))
	assert.ErrorIs(t, err, ErrSagaExists)
	assert.Zero(t, h.orch.Len())
	assert.Len(t, h.bus.topic(TopicOrderCancelled), 1)
	assert.Equal(t, order.StatusCancelled, h.orderStatus(t, "O1"))
}

func TestSaga_HappyPath(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")

	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})

	st := h.state(t, id)
	assert.Equal(t, StatusPaymentProcessing, st.Status)
	assert.Equal(t, "R1", st.ReservationID)
	assert.Equal(t, order.StatusInventoryReserved, h.orderStatus(t, "O1"))
	assert.Equal(t, []any{PaymentProcessRequest{OrderID: "O1", CustomerID: "C1", Amount: 20}},
		h.bus.topic(TopicPaymentProcessRequest))

	h.clock.Advance(2 * time.Second)
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{
		OrderID:   "O1",
		PaymentID: "PAY1",
		Amount:    Money{Value: 20, Currency: CurrencyEUR},
	})

	st = h.state(t, id)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "PAY1", st.PaymentID)
	require.NotNil(t, st.CompletedAt)
	assert.Equal(t, epoch.Add(2*time.Second), *st.CompletedAt)
	assert.Equal(t, order.StatusConfirmed, h.orderStatus(t, "O1"))

	confirmed := h.bus.topic(TopicOrderConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "PAY1", confirmed[0].(OrderConfirmed).PaymentID)
	assert.Equal(t, 20.0, confirmed[0].(OrderConfirmed).TotalAmount)
	assert.Empty(t, h.bus.topic(TopicOrderCancelled))

	assert.Equal(t, []sagalog.Status{
		"STARTED", "INVENTORY_RESERVED", "PAYMENT_PROCESSING", "PAYMENT_SUCCEEDED", "COMPLETED",
	}, h.journal.statuses())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.completed))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.active))
}

func TestSaga_OutOfStockCompensatesWithoutRelease(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")

	h.bus.deliver(t, TopicInventoryOutOfStock, InventoryOutOfStock{
		OrderID:          "O1",
		UnavailableItems: []UnavailableItem{{ProductID: "P1", RequestedQuantity: 2, AvailableQuantity: 0}},
	})

	st := h.state(t, id)
	assert.Equal(t, StatusCompensated, st.Status)
	assert.Equal(t, "out of stock: P1 (requested 2, available 0)", st.CompensationReason)
	assert.NotNil(t, st.CompletedAt)
	assert.Equal(t, order.StatusCancelled, h.orderStatus(t, "O1"))
	assert.Empty(t, h.bus.topic(TopicInventoryRelease))
	assert.Equal(t, []any{OrderCancelled{OrderID: "O1", Reason: st.CompensationReason}},
		h.bus.topic(TopicOrderCancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.compensated))
}

func TestSaga_PaymentFailedReleasesReservation(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")

	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O1", Reason: "card declined"})

	st := h.state(t, id)
	assert.Equal(t, StatusCompensated, st.Status)
	assert.Equal(t, "card declined", st.CompensationReason)
	assert.Equal(t, order.StatusCancelled, h.orderStatus(t, "O1"))

	releases := h.bus.topic(TopicInventoryRelease)
	require.Len(t, releases, 1)
	assert.Equal(t, InventoryRelease{OrderID: "O1", ReservationID: "R1", Reason: "card declined"}, releases[0])
	assert.Empty(t, h.bus.topic(TopicRefundRequest))
	assert.Len(t, h.bus.topic(TopicOrderCancelled), 1)
}

func TestSaga_UnknownSagaEventsAreDropped(t *testing.T) {
	h := newHarness(t)

	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "ghost", ReservationID: "R9"})
	h.bus.deliver(t, TopicInventoryOutOfStock, InventoryOutOfStock{OrderID: "ghost"})
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "ghost", PaymentID: "PAY9"})
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "ghost"})

	assert.Zero(t, h.orch.Len())
	assert.Empty(t, h.bus.published)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.dropped.WithLabelValues(TopicPaymentFailed, dropUnknownSaga)))
}

func TestSaga_UndecodableEventIsDropped(t *testing.T) {
	h := newHarness(t)
	h.start(t, "O1")

	h.bus.deliver(t, TopicInventoryReserved, map[string]any{"orderId": 42})

	assert.Equal(t, StatusStarted, h.state(t, "saga-O1").Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.dropped.WithLabelValues(TopicInventoryReserved, dropUndecodable)))
}

func TestSaga_DuplicateEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.start(t, "O1")

	reserved := InventoryReserved{OrderID: "O1", ReservationID: "R1"}
	h.bus.deliver(t, TopicInventoryReserved, reserved)
	h.bus.deliver(t, TopicInventoryReserved, reserved)

	assert.Len(t, h.bus.topic(TopicPaymentProcessRequest), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.dropped.WithLabelValues(TopicInventoryReserved, dropDuplicate)))
}

func TestSaga_EventsAfterTerminalAreDropped(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O1", Reason: "declined"})

	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY1"})

	assert.Equal(t, StatusCompensated, h.state(t, id).Status)
	assert.Empty(t, h.bus.topic(TopicPaymentProcessRequest))
	assert.Empty(t, h.bus.topic(TopicOrderConfirmed))
	assert.Len(t, h.bus.topic(TopicOrderCancelled), 1)

	// Late reservations and captures are handed back once.
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY1"})
	assert.Equal(t, []any{InventoryRelease{OrderID: "O1", ReservationID: "R1", Reason: ReasonStrayReservation}},
		h.bus.topic(TopicInventoryRelease))
	assert.Equal(t, []any{RefundRequest{OrderID: "O1", PaymentID: "PAY1", Reason: ReasonStrayPayment}},
		h.bus.topic(TopicRefundRequest))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.dropped.WithLabelValues(TopicInventoryReserved, dropTerminal)))
}

func TestSaga_SecondReservationIsReleased(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")

	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R2"})
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R2"})

	st := h.state(t, id)
	assert.Equal(t, StatusPaymentProcessing, st.Status)
	assert.Equal(t, "R1", st.ReservationID)
	assert.Len(t, h.bus.topic(TopicPaymentProcessRequest), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.dropped.WithLabelValues(TopicInventoryReserved, dropDuplicate)))

	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O1", Reason: "declined"})

	assert.Equal(t, StatusCompensated, h.state(t, id).Status)
	assert.Equal(t, []any{
		InventoryRelease{OrderID: "O1", ReservationID: "R2", Reason: ReasonStrayReservation},
		InventoryRelease{OrderID: "O1", ReservationID: "R1", Reason: "declined"},
	}, h.bus.topic(TopicInventoryRelease))
}

func TestSaga_SecondPaymentIsRefunded(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY1"})

	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY2"})
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY1"})

	st := h.state(t, id)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "PAY1", st.PaymentID)
	assert.Len(t, h.bus.topic(TopicOrderConfirmed), 1)
	assert.Equal(t, []any{RefundRequest{OrderID: "O1", PaymentID: "PAY2", Reason: ReasonStrayPayment}},
		h.bus.topic(TopicRefundRequest))
}

func TestStartOrderSaga_CancelledCallerContext(t *testing.T) {
	h := newHarness(t)
	h.store.honorCtx = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id, err := h.orch.StartOrderSaga(ctx, sampleCommand("O1"))
	require.NoError(t, err)

	assert.Equal(t, StatusStarted, h.state(t, id).Status)
	assert.Equal(t, order.StatusPending, h.orderStatus(t, "O1"))
	assert.Len(t, h.bus.topic(TopicOrderCreated), 1)
}

func TestStartOrderSaga_CancelledContextStillCompensates(t *testing.T) {
	h := newHarness(t)
	h.store.honorCtx = true
	h.bus.failOn(TopicOrderCreated, errBoom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id, err := h.orch.StartOrderSaga(ctx, sampleCommand("O1"))
	require.NoError(t, err)

	st := h.state(t, id)
	assert.Equal(t, StatusCompensated, st.Status)
	assert.Equal(t, order.StatusCancelled, h.orderStatus(t, "O1"))
	assert.Len(t, h.bus.topic(TopicOrderCancelled), 1)
	assert.Zero(t, testutil.ToFloat64(h.metrics.failed))
}

func TestSaga_InitializationFailureCompensates(t *testing.T) {
	h := newHarness(t)
	h.bus.failOn(TopicOrderCreated, errBoom)

	id, err := h.orch.StartOrderSaga(context.Background(), sampleCommand("O1"))
	require.NoError(t, err)

	st := h.state(t, id)
	assert.Equal(t, StatusCompensated, st.Status)
	assert.Equal(t, "initialization: boom", st.CompensationReason)
	assert.Equal(t, order.StatusCancelled, h.orderStatus(t, "O1"))
	assert.Len(t, h.bus.topic(TopicOrderCancelled), 1)
}

func TestSaga_PersistenceFailureAtStartEndsFailed(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = errBoom

	id, err := h.orch.StartOrderSaga(context.Background(), sampleCommand("O1"))
	require.NoError(t, err)

	// Without an order record there is nothing to cancel.
	st := h.state(t, id)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "initialization: boom", st.CompensationReason)
	assert.Contains(t, st.Error, "cancel order O1")
}

func TestSaga_ReservationHandlerFailureCompensates(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")
	h.bus.failOn(TopicPaymentProcessRequest, errBoom)

	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})

	st := h.state(t, id)
	assert.Equal(t, StatusCompensated, st.Status)
	assert.Contains(t, st.CompensationReason, "stock_reservation")
	assert.Len(t, h.bus.topic(TopicInventoryRelease), 1)
}

func TestSaga_ConfirmationFailureRefundsPayment(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.store.failUpdate(order.StatusConfirmed, errBoom)

	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY1", Amount: Money{Value: 20, Currency: CurrencyEUR}})

	st := h.state(t, id)
	assert.Equal(t, StatusCompensated, st.Status)
	assert.Equal(t, []any{RefundRequest{OrderID: "O1", PaymentID: "PAY1", Reason: st.CompensationReason}},
		h.bus.topic(TopicRefundRequest))
	assert.Len(t, h.bus.topic(TopicInventoryRelease), 1)
	assert.Empty(t, h.bus.topic(TopicOrderConfirmed))
	assert.Equal(t, order.StatusCancelled, h.orderStatus(t, "O1"))
}

func TestSaga_CompensationFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.store.failUpdate(order.StatusCancelled, errBoom)

	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O1", Reason: "declined"})

	st := h.state(t, id)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "cancel order O1: boom", st.Error)
	assert.NotNil(t, st.CompletedAt)
	assert.Empty(t, h.bus.topic(TopicOrderCancelled))

	// Neither the sweep nor a redelivery retries the compensation.
	h.store.failUpdate(order.StatusCancelled, nil)
	h.clock.Advance(DefaultTimeout + time.Minute)
	assert.Zero(t, h.orch.SweepTimeouts(context.Background()))
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O1", Reason: "declined again"})

	assert.Len(t, h.bus.topic(TopicInventoryRelease), 1)
	assert.Empty(t, h.bus.topic(TopicOrderCancelled))
	assert.Equal(t, order.StatusInventoryReserved, h.orderStatus(t, "O1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.failed))

	entries := h.journal.entries
	last := entries[len(entries)-1]
	assert.Equal(t, sagalog.Status("FAILED"), last.Status)
	assert.JSONEq(t, `["cancel order O1: boom"]`, last.ErrorMessages)
}

func TestSweepTimeouts(t *testing.T) {
	h := newHarness(t)
	h.start(t, "old")
	h.clock.Advance(3 * time.Minute)
	h.start(t, "young")
	h.start(t, "done")
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "done", Reason: "declined"})

	h.clock.Advance(2*time.Minute + time.Second)
	assert.Equal(t, 1, h.orch.SweepTimeouts(context.Background()))

	old := h.state(t, "saga-old")
	assert.Equal(t, StatusCompensated, old.Status)
	assert.Equal(t, ReasonTimeout, old.CompensationReason)
	assert.Equal(t, StatusStarted, h.state(t, "saga-young").Status)
	assert.Equal(t, "declined", h.state(t, "saga-done").CompensationReason)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.timedOut))

	assert.Zero(t, h.orch.SweepTimeouts(context.Background()))
}

func TestSweepTimeouts_DrivenByTicker(t *testing.T) {
	h := newHarness(t, WithSweepInterval(DefaultSweepInterval))
	id := h.start(t, "O1")

	h.clock.Advance(DefaultTimeout + DefaultSweepInterval)

	require.Eventually(t, func() bool {
		st, ok := h.orch.Get(id)
		return ok && st.Status == StatusCompensated
	}, 2*time.Second, 5*time.Millisecond)
	st := h.state(t, id)
	assert.Equal(t, ReasonTimeout, st.CompensationReason)
	assert.Equal(t, order.StatusCancelled, h.orderStatus(t, "O1"))
}

func TestTerminalSagasAreEvicted(t *testing.T) {
	h := newHarness(t)
	completed := h.start(t, "O1")
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY1"})
	compensated := h.start(t, "O2")
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O2"})
	active := h.start(t, "O3")
	h.store.failUpdate(order.StatusCancelled, errBoom)
	failed := h.start(t, "O4")
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O4"})
	h.store.failUpdate(order.StatusCancelled, nil)
	require.Equal(t, StatusFailed, h.state(t, failed).Status)

	h.clock.Advance(DefaultRetention - time.Second)
	_, ok := h.orch.Get(completed)
	assert.True(t, ok, "terminal saga must stay queryable during the grace period")

	h.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return h.orch.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, ok = h.orch.Get(compensated)
	assert.False(t, ok)
	_, ok = h.orch.Get(failed)
	assert.False(t, ok)
	_, ok = h.orch.Get(active)
	assert.True(t, ok)

	// Events for an evicted saga are dropped like any unknown saga.
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O1"})
	assert.Len(t, h.bus.topic(TopicOrderCancelled), 1)
	assert.Equal(t, order.StatusConfirmed, h.orderStatus(t, "O1"))
}

func TestTerminalSagaIsNotRecompensatedBySweep(t *testing.T) {
	h := newHarness(t)
	h.start(t, "O1")
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY1"})

	h.clock.Advance(DefaultTimeout + time.Minute)
	assert.Zero(t, h.orch.SweepTimeouts(context.Background()))
	assert.Empty(t, h.bus.topic(TopicOrderCancelled))
	assert.Equal(t, order.StatusConfirmed, h.orderStatus(t, "O1"))
}

func TestActive_SortedSnapshots(t *testing.T) {
	h := newHarness(t)
	h.start(t, "B")
	h.clock.Advance(time.Second)
	h.start(t, "A")

	states := h.orch.Active()
	require.Len(t, states, 2)
	assert.Equal(t, "saga-B", states[0].SagaID)
	assert.Equal(t, "saga-A", states[1].SagaID)

	// Snapshots are copies.
	states[0].Status = StatusFailed
	assert.Equal(t, StatusStarted, h.state(t, "saga-B").Status)
}

func TestJournalFailureDoesNotAffectSaga(t *testing.T) {
	h := newHarness(t)
	h.journal.err = errBoom

	id := h.start(t, "O1")
	h.bus.deliver(t, TopicInventoryReserved, InventoryReserved{OrderID: "O1", ReservationID: "R1"})
	h.bus.deliver(t, TopicPaymentSucceeded, PaymentSucceeded{OrderID: "O1", PaymentID: "PAY1"})

	assert.Equal(t, StatusCompleted, h.state(t, id).Status)
}

func TestStop_CancelsPendingEvictions(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "O1")
	h.bus.deliver(t, TopicPaymentFailed, PaymentFailed{OrderID: "O1"})

	h.orch.Stop()
	h.clock.Advance(DefaultRetention * 2)

	_, ok := h.orch.Get(id)
	assert.True(t, ok)
}
