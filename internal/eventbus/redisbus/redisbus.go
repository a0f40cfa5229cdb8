// Package redisbus implements eventbus.Bus on Redis Streams. A topic is a
// stream; every subscribing service reads it through its own consumer group and
// acknowledges each entry once the handler has run. Entries left pending by a
// consumer that died before acknowledging are claimed by a live one after
// Options.ClaimMinIdle.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/order-saga/internal/eventbus"
)

const envelopeField = "envelope"

var _ eventbus.Bus = (*Bus)(nil)

type Options struct {
	Group    string
	Consumer string
	// Block bounds each XREADGROUP call and therefore how long Close waits.
	Block     time.Duration
	BatchSize int64
	// MaxLen caps stream length (approximate trimming). Zero disables trimming.
	MaxLen int64
	// ClaimMinIdle is how long an entry stays pending on another consumer
	// before this one takes it over. Also the interval between claim passes.
	ClaimMinIdle time.Duration
}

type Bus struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func New(client *redis.Client, opts Options, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Consumer == "" {
		opts.Consumer = opts.Group
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{client: client, opts: opts, logger: logger, ctx: ctx, cancel: cancel}
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

	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{envelopeField: string(data)},
	}
	if b.opts.MaxLen > 0 {
		args.MaxLen = b.opts.MaxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redisbus: xadd %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(topic string, handler eventbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return eventbus.ErrClosed
	}

	err := b.client.XGroupCreateMkStream(b.ctx, topic, b.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redisbus: create group %s on %s: %w", b.opts.Group, topic, err)
	}

	b.wg.Add(1)
	go b.consume(topic, handler)
	return nil
}

func (b *Bus) consume(topic string, handler eventbus.Handler) {
	defer b.wg.Done()

	var lastClaim time.Time
	for b.ctx.Err() == nil {
		if time.Since(lastClaim) >= b.opts.ClaimMinIdle {
			b.reclaim(topic, handler)
			lastClaim = time.Now()
		}

		streams, err := b.client.XReadGroup(b.ctx, &redis.XReadGroupArgs{
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			Streams:  []string{topic, ">"},
			Count:    b.opts.BatchSize,
			Block:    b.opts.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Warn("redis stream read failed", "topic", topic, "error", err)
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				b.handle(topic, entry, handler)
			}
		}
	}
}

// reclaim takes over entries another consumer of the group read but never
// acknowledged, and handles them here.
func (b *Bus) reclaim(topic string, handler eventbus.Handler) {
	start := "0-0"
	for b.ctx.Err() == nil {
		entries, next, err := b.client.XAutoClaim(b.ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			MinIdle:  b.opts.ClaimMinIdle,
			Start:    start,
			Count:    b.opts.BatchSize,
		}).Result()
		if err != nil {
			if b.ctx.Err() == nil {
				b.logger.Warn("redis stream claim failed", "topic", topic, "error", err)
			}
			return
		}
		for _, entry := range entries {
			b.logger.Info("handling entry claimed from idle consumer", "topic", topic, "entry_id", entry.ID)
			b.handle(topic, entry, handler)
		}
		if next == "0-0" || next == "" || len(entries) == 0 {
			return
		}
		start = next
	}
}

func (b *Bus) handle(topic string, entry redis.XMessage, handler eventbus.Handler) {
	raw, _ := entry.Values[envelopeField].(string)
	msg, err := eventbus.Unmarshal([]byte(raw))
	if err != nil {
		b.logger.Warn("dropping undecodable stream entry", "topic", topic, "entry_id", entry.ID, "error", err)
	} else {
		_ = eventbus.Dispatch(context.Background(), b.logger, handler, msg)
	}

	// Acknowledge with a fresh context: the entry was handled even if Close
	// raced with the handler.
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.XAck(ackCtx, topic, b.opts.Group, entry.ID).Err(); err != nil {
		b.logger.Warn("redis stream ack failed", "topic", topic, "entry_id", entry.ID, "error", err)
	}
}

// Close stops the consumers. The redis client is owned by the caller.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}
