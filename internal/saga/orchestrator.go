// Package saga coordinates the order fulfilment transaction: reserve
// inventory, charge payment, confirm the order, and compensate when any step
// fails or the saga times out.
//
// The orchestrator owns the in-memory saga records. Participants talk to it
// only through the event bus; the order store remains the durable source of
// truth once a terminal saga has been evicted.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/order-saga/internal/eventbus"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/saga/sagalog"
)

const tracerName = "github.com/jcmexdev/order-saga/internal/saga"

var validate = validator.New()

type Orchestrator struct {
	store   OrderStore
	bus     EventBus
	clock   clockwork.Clock
	logger  *slog.Logger
	journal Journal
	metrics *Metrics
	tracer  trace.Tracer

	timeout       time.Duration
	sweepInterval time.Duration
	retention     time.Duration

	sagas *registry

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

func New(store OrderStore, bus EventBus, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("saga: order store is required")
	}
	if bus == nil {
		return nil, errors.New("saga: event bus is required")
	}

	o := &Orchestrator{
		store:         store,
		bus:           bus,
		clock:         clockwork.NewRealClock(),
		logger:        slog.Default(),
		timeout:       DefaultTimeout,
		sweepInterval: DefaultSweepInterval,
		retention:     DefaultRetention,
		sagas:         newRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.timeout <= 0 || o.sweepInterval <= 0 || o.retention < 0 {
		return nil, fmt.Errorf("saga: invalid durations (timeout %s, sweep %s, retention %s)", o.timeout, o.sweepInterval, o.retention)
	}
	return o, nil
}

// Start subscribes the outcome handlers and starts the timeout sweep.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done != nil {
		return errors.New("saga: orchestrator already started")
	}

	subs := []struct {
		topic   string
		handler eventbus.Handler
	}{
		{TopicInventoryReserved, o.handleInventoryReserved},
		{TopicInventoryOutOfStock, o.handleInventoryOutOfStock},
		{TopicPaymentSucceeded, o.handlePaymentSucceeded},
		{TopicPaymentFailed, o.handlePaymentFailed},
	}
	for _, s := range subs {
		if err := o.bus.Subscribe(s.topic, s.handler); err != nil {
			return fmt.Errorf("saga: subscribe %s: %w", s.topic, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	ticker := o.clock.NewTicker(o.sweepInterval)
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.runSweep(ctx, ticker)

	o.logger.InfoContext(ctx, "saga orchestrator started",
		"timeout", o.timeout.String(),
		"sweep_interval", o.sweepInterval.String(),
		"retention", o.retention.String(),
	)
	return nil
}

// Stop halts the sweep and cancels pending evictions. In-flight handlers may
// still finish; sagas they terminate stay in memory.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	o.stopped.Store(true)
	if cancel != nil {
		cancel()
		<-done
	}
	for _, e := range o.sagas.snapshot() {
		e.mu.Lock()
		if e.evict != nil {
			e.evict.Stop()
			e.evict = nil
		}
		e.mu.Unlock()
	}
}

// StartOrderSaga registers a saga for cmd, persists the order as PENDING and
// publishes orders.created. It returns the saga id. Failures after the saga
// is registered are not returned: they compensate the saga, and the outcome
// is observable through orders.cancelled and the order status.
func (o *Orchestrator) StartOrderSaga(ctx context.Context, cmd StartCommand) (string, error) {
	if err := validate.Struct(cmd); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	sagaID := SagaID(cmd.OrderID)
	ctx, span := o.tracer.Start(ctx, "saga.start", trace.WithAttributes(
		attribute.String("saga.id", sagaID),
		attribute.String("order.id", cmd.OrderID),
	))
	defer span.End()

	e := newEntry(State{
		SagaID:     sagaID,
		OrderID:    cmd.OrderID,
		CustomerID: cmd.CustomerID,
		Status:     StatusStarted,
		StartedAt:  o.clock.Now(),
	})
	e.mu.Lock()
	defer e.mu.Unlock()

	if !o.sagas.insert(sagaID, e) {
		return "", fmt.Errorf("%w: %s", ErrSagaExists, sagaID)
	}
	// From here on the saga exists and must reach a stable state even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	o.logger.InfoContext(ctx, "starting saga", "saga_id", sagaID, "order_id", cmd.OrderID)

	_, err := o.store.Create(ctx, order.Order{
		ID:          cmd.OrderID,
		CustomerID:  cmd.CustomerID,
		Items:       cmd.Items,
		TotalAmount: cmd.TotalAmount,
		Status:      order.StatusPending,
	})
	if errors.Is(err, order.ErrAlreadyExists) {
		// The durable record outlived an evicted saga: nothing was done here,
		// so forget the entry instead of compensating someone else's order.
		o.sagas.remove(sagaID, e)
		return "", fmt.Errorf("%w: order %s", ErrSagaExists, cmd.OrderID)
	}

	o.metrics.sagaStarted()
	payload, merr := json.Marshal(cmd)
	if merr != nil {
		o.logger.WarnContext(ctx, "start command not journaled", "saga_id", sagaID, "error", merr)
	}
	o.record(ctx, e, "initialization", string(payload))

	if err == nil {
		err = o.bus.Publish(ctx, TopicOrderCreated, OrderCreated{
			OrderID:     cmd.OrderID,
			CustomerID:  cmd.CustomerID,
			Items:       cmd.Items,
			TotalAmount: cmd.TotalAmount,
		})
	}
	if err != nil {
		span.RecordError(err)
		o.logger.ErrorContext(ctx, "saga initialization failed", "saga_id", sagaID, "error", err)
		o.compensate(ctx, e, "initialization: "+err.Error())
		return sagaID, nil
	}

	o.logger.InfoContext(ctx, "published order created", "saga_id", sagaID, "order_id", cmd.OrderID)
	return sagaID, nil
}

// Get returns a copy of the saga, if it is still held in memory.
func (o *Orchestrator) Get(sagaID string) (State, bool) {
	e, ok := o.sagas.get(sagaID)
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone(), true
}

// Active returns copies of every saga held in memory, oldest first.
func (o *Orchestrator) Active() []State {
	entries := o.sagas.snapshot()
	out := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state.clone())
		e.mu.Unlock()
	}
	sortByStart(out)
	return out
}

// Len reports how many sagas are held in memory.
func (o *Orchestrator) Len() int {
	return o.sagas.len()
}

// finish stamps a terminal saga and schedules its eviction. e.mu must be held.
func (o *Orchestrator) finish(ctx context.Context, e *entry, step string) {
	now := o.clock.Now()
	e.state.CompletedAt = &now
	o.metrics.sagaFinished(e.state.Status, now.Sub(e.state.StartedAt))

	var errs []string
	if e.state.Error != "" {
		errs = []string{e.state.Error}
	}
	o.recordErrors(ctx, e, step, errs)

	if o.stopped.Load() {
		return
	}
	sagaID := e.state.SagaID
	e.evict = o.clock.AfterFunc(o.retention, func() {
		if o.sagas.remove(sagaID, e) {
			o.logger.Debug("evicted terminal saga", "saga_id", sagaID)
		}
	})
}

// transition moves the saga to status and journals it. e.mu must be held.
func (o *Orchestrator) transition(ctx context.Context, e *entry, status Status, step string) {
	e.state.Status = status
	o.record(ctx, e, step, "")
}

func (o *Orchestrator) record(ctx context.Context, e *entry, step, payload string) {
	o.write(ctx, e, step, payload, nil)
}

func (o *Orchestrator) recordErrors(ctx context.Context, e *entry, step string, errs []string) {
	o.write(ctx, e, step, "", errs)
}

func (o *Orchestrator) write(ctx context.Context, e *entry, step, payload string, errs []string) {
	if o.journal == nil {
		return
	}
	st := e.state
	entry := sagalog.NewEntry(ctx, st.SagaID, st.OrderID, sagalog.Status(st.Status), step, payload, errs, o.clock.Now())
	if err := o.journal.Save(ctx, entry); err != nil {
		o.logger.WarnContext(ctx, "saga journal write failed", "saga_id", st.SagaID, "step", step, "error", err)
	}
}

func (o *Orchestrator) startSpan(ctx context.Context, name, sagaID string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("saga.id", sagaID)))
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
