// Package natsbus implements eventbus.Bus on core NATS subjects. Each topic is
// a subject; subscriptions join a queue group so that replicas of the same
// service share the work.
package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jcmexdev/order-saga/internal/eventbus"
)

var _ eventbus.Bus = (*Bus)(nil)

type Options struct {
	// Name identifies the connection in NATS monitoring.
	Name string
	// QueueGroup is shared by all replicas of the subscribing service.
	QueueGroup    string
	DialTimeout   time.Duration
	ReconnectWait time.Duration
}

type Bus struct {
	conn   *nats.Conn
	group  string
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// Connect dials url and returns a Bus owning the connection.
func Connect(url string, opts Options, logger *slog.Logger) (*Bus, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	conn, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.Timeout(opts.DialTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(opts.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", url, err)
	}
	return New(conn, opts.QueueGroup, logger), nil
}

func New(conn *nats.Conn, queueGroup string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{conn: conn, group: queueGroup, logger: logger}
}

func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	msg, err := eventbus.NewMessage(ctx, topic, payload)
	if err != nil {
		return err
	}
	data, err := eventbus.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", topic, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := b.conn.FlushTimeout(time.Until(deadline)); err != nil {
			return fmt.Errorf("natsbus: flush %s: %w", topic, err)
		}
	}
	return nil
}

func (b *Bus) Subscribe(topic string, handler eventbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return eventbus.ErrClosed
	}

	cb := func(m *nats.Msg) {
		msg, err := eventbus.Unmarshal(m.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable message", "topic", topic, "error", err)
			return
		}
		_ = eventbus.Dispatch(context.Background(), b.logger, handler, msg)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if b.group != "" {
		sub, err = b.conn.QueueSubscribe(topic, b.group, cb)
	} else {
		sub, err = b.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return fmt.Errorf("natsbus: subscribe %s: %w", topic, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Close drains the subscriptions, so in-flight callbacks finish, and closes the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("natsbus: drain: %w", err)
	}
	return nil
}
