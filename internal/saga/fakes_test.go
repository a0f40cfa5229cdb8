package saga

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/eventbus"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/saga/sagalog"
)

var errBoom = errors.New("boom")

type published struct {
	topic   string
	payload any
}

// fakeBus records publishes and delivers events synchronously to handlers.
type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string][]eventbus.Handler
	published []published
	fail      map[string]error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]eventbus.Handler), fail: make(map[string]error)}
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[topic]; err != nil {
		return err
	}
	b.published = append(b.published, published{topic: topic, payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(topic string, h eventbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
	return nil
}

func (b *fakeBus) failOn(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[topic] = err
}

func (b *fakeBus) deliver(t *testing.T, topic string, payload any) {
	t.Helper()
	msg, err := eventbus.NewMessage(context.Background(), topic, payload)
	require.NoError(t, err)

	b.mu.Lock()
	hs := append([]eventbus.Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range hs {
		require.NoError(t, h(context.Background(), msg))
	}
}

func (b *fakeBus) topic(topic string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

// fakeStore wraps a MemoryStore and fails selected calls.
type fakeStore struct {
	*order.MemoryStore

	mu         sync.Mutex
	createErr  error
	updateErrs map[order.Status]error
	findErr    error
	// honorCtx makes every call fail with ctx.Err() once ctx is done, like a
	// database driver would.
	honorCtx bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: order.NewMemoryStore(), updateErrs: make(map[order.Status]error)}
}

func (s *fakeStore) Create(ctx context.Context, o order.Order) (*order.Order, error) {
	s.mu.Lock()
	err := s.createErr
	if s.honorCtx && err == nil {
		err = ctx.Err()
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Create(ctx, o)
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	s.mu.Lock()
	err := s.updateErrs[status]
	if s.honorCtx && err == nil {
		err = ctx.Err()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.UpdateStatus(ctx, id, status)
}

func (s *fakeStore) FindByID(ctx context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	err := s.findErr
	if s.honorCtx && err == nil {
		err = ctx.Err()
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.FindByID(ctx, id)
}

func (s *fakeStore) failUpdate(status order.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErrs[status] = err
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []sagalog.SagaLog
	err     error
}

func (j *fakeJournal) Save(_ context.Context, e *sagalog.SagaLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, *e)
	return nil
}

func (j *fakeJournal) statuses() []sagalog.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]sagalog.Status, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Status)
	}
	return out
}

type harness struct {
	orch    *Orchestrator
	store   *fakeStore
	bus     *fakeBus
	clock   clockwork.FakeClock
	journal *fakeJournal
	metrics *Metrics
}

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// newHarness starts an orchestrator whose ticker never fires on its own
// unless a WithSweepInterval option overrides it.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:   newFakeStore(),
		bus:     newFakeBus(),
		clock:   clockwork.NewFakeClockAt(epoch),
		journal: &fakeJournal{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	base := []Option{
		WithClock(h.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSweepInterval(24 * time.Hour),
		WithJournal(h.journal),
		WithMetrics(h.metrics),
	}
	orch, err := New(h.store, h.bus, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(orch.Stop)
	h.orch = orch
	return h
}

func sampleCommand(orderID string) StartCommand {
	return StartCommand{
		OrderID:     orderID,
		CustomerID:  "C1",
		Items:       []order.Item{{ProductID: "P1", Quantity: 2, Price: 10}},
		TotalAmount: 20,
	}
}

func (h *harness) start(t *testing.T, orderID string) string {
	t.Helper()
	id, err := h.orch.StartOrderSaga(context.Background(), sampleCommand(orderID))
	require.NoError(t, err)
	return id
}

func (h *harness) state(t *testing.T, sagaID string) State {
	t.Helper()
	st, ok := h.orch.Get(sagaID)
	require.True(t, ok, "saga %s not in memory", sagaID)
	return st
}

func (h *harness) orderStatus(t *testing.T, orderID string) order.Status {
	t.Helper()
	o, err := h.store.MemoryStore.FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return o.Status
}
