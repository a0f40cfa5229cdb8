package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

var _ Bus = (*MemoryBus)(nil)

// MemoryBus fans every published message out to the topic's handlers, each on
// its own goroutine, as a broker would. Handlers never run on the publisher's
// goroutine, so a handler may publish without deadlocking its caller.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
	inflight sync.WaitGroup
	logger   *slog.Logger
}

func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload any) error {
	msg, err := NewMessage(ctx, topic, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.inflight.Add(len(handlers))
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer b.inflight.Done()
			_ = Dispatch(context.Background(), b.logger, h, msg)
		}(h)
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Wait blocks until every delivery, including those published by handlers
// while Wait is running, has finished.
func (b *MemoryBus) Wait() {
	b.inflight.Wait()
}

// Close rejects further publishes and waits for in-flight deliveries.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.inflight.Wait()
	return nil
}
