// Package amqpbus implements eventbus.Bus on RabbitMQ. Topics are routing keys
// on one durable topic exchange; each subscriber group gets a durable queue per
// topic named "<group>.<topic>".
package amqpbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/streadway/amqp"

	"github.com/jcmexdev/order-saga/internal/eventbus"
)

const defaultExchange = "order-saga.events"

var _ eventbus.Bus = (*Bus)(nil)

type Options struct {
	Exchange string
	Group    string
	Prefetch int
}

type Bus struct {
	conn   *amqp.Connection
	opts   Options
	logger *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu       sync.Mutex
	channels []*amqp.Channel
	closed   bool
	wg       sync.WaitGroup
}

// Dial connects to url and declares the exchange.
func Dial(url string, opts Options, logger *slog.Logger) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqpbus: dial: %w", err)
	}
	bus, err := New(conn, opts, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return bus, nil
}

func New(conn *amqp.Connection, opts Options, logger *slog.Logger) (*Bus, error) {
	if opts.Exchange == "" {
		opts.Exchange = defaultExchange
	}
	if opts.Group == "" {
		return nil, fmt.Errorf("amqpbus: group is required")
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqpbus: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqpbus: declare exchange %s: %w", opts.Exchange, err)
	}
	return &Bus{conn: conn, opts: opts, logger: logger, pubCh: ch}, nil
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

	// amqp channels are not safe for concurrent publishing.
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	err = b.pubCh.Publish(b.opts.Exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.OccurredAt,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("amqpbus: publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(topic string, handler eventbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return eventbus.ErrClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqpbus: open channel: %w", err)
	}
	queue := b.opts.Group + "." + topic
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("amqpbus: declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, topic, b.opts.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("amqpbus: bind %s: %w", queue, err)
	}
	if err := ch.Qos(b.opts.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("amqpbus: qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("amqpbus: consume %s: %w", queue, err)
	}
	b.channels = append(b.channels, ch)

	b.wg.Add(1)
	go b.consume(topic, deliveries, handler)
	return nil
}

// consume runs until the channel is closed, which closes deliveries.
func (b *Bus) consume(topic string, deliveries <-chan amqp.Delivery, handler eventbus.Handler) {
	defer b.wg.Done()

	for d := range deliveries {
		msg, err := eventbus.Unmarshal(d.Body)
		if err != nil {
			b.logger.Warn("rejecting undecodable amqp delivery", "topic", topic, "error", err)
			_ = d.Nack(false, false)
			continue
		}
		_ = eventbus.Dispatch(context.Background(), b.logger, handler, msg)
		if err := d.Ack(false); err != nil {
			b.logger.Warn("amqp ack failed", "topic", topic, "message_id", msg.ID, "error", err)
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := b.channels
	b.mu.Unlock()

	var result *multierror.Error
	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	b.wg.Wait()

	b.pubMu.Lock()
	if err := b.pubCh.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	b.pubMu.Unlock()
	if err := b.conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
