// Package kafkabus implements eventbus.Bus on Kafka through segmentio/kafka-go.
// Messages are keyed by the payload's partition key (the order id for saga
// events) so all events of one order land on one partition, in order.
package kafkabus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/segmentio/kafka-go"

	"github.com/jcmexdev/order-saga/internal/eventbus"
)

var _ eventbus.Bus = (*Bus)(nil)

type Options struct {
	Brokers []string
	GroupID string
	// BatchTimeout bounds how long the writer buffers before flushing.
	BatchTimeout time.Duration
}

type Bus struct {
	opts   Options
	writer *kafka.Writer
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

func New(opts Options, logger *slog.Logger) (*Bus, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafkabus: no brokers configured")
	}
	if opts.GroupID == "" {
		return nil, fmt.Errorf("kafkabus: group id is required")
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 10 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           opts.BatchTimeout,
		AllowAutoTopicCreation: true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{opts: opts, writer: writer, logger: logger, ctx: ctx, cancel: cancel}, nil
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

	key := eventbus.PartitionKey(payload)
	if key == "" {
		key = msg.ID
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  msg.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("kafkabus: write %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(topic string, handler eventbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return eventbus.ErrClosed
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.opts.Brokers,
		GroupID:  b.opts.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024,
		MaxWait:  500 * time.Millisecond,
	})
	b.readers = append(b.readers, r)

	b.wg.Add(1)
	go b.consume(r, topic, handler)
	return nil
}

// fetcher is the part of *kafka.Reader the consume loop needs.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// consume commits each offset only after the handler has run, so a crash in
// between redelivers the message to the group.
func (b *Bus) consume(r fetcher, topic string, handler eventbus.Handler) {
	defer b.wg.Done()

	for {
		m, err := r.FetchMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Warn("kafka fetch failed", "topic", topic, "error", err)
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		msg, err := eventbus.Unmarshal(m.Value)
		if err != nil {
			b.logger.Warn("dropping undecodable kafka message", "topic", topic, "offset", m.Offset, "error", err)
		} else {
			_ = eventbus.Dispatch(context.Background(), b.logger, handler, msg)
		}

		if err := r.CommitMessages(context.Background(), m); err != nil {
			b.logger.Warn("kafka commit failed", "topic", topic, "offset", m.Offset, "error", err)
		}
	}
}

// Close stops the readers, then flushes and closes the writer.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	var result *multierror.Error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("kafkabus: close reader: %w", err))
		}
	}
	if err := b.writer.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("kafkabus: close writer: %w", err))
	}
	return result.ErrorOrNil()
}
