// Package eventbus defines the publish/subscribe contract shared by the saga
// orchestrator and its participants, the JSON envelope every transport carries,
// and an in-process implementation. Broker-backed implementations live in the
// natsbus, redisbus, kafkabus and amqpbus subpackages.
//
// The redisbus, kafkabus and amqpbus drivers deliver at least once, so
// handlers must tolerate duplicates. natsbus runs on core NATS and is at most
// once: a message published while no subscriber is connected is lost.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/order-saga/internal/pkg/reqctx"
)

var ErrClosed = errors.New("eventbus: closed")

// Message is the envelope written to the wire.
type Message struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Headers    map[string]string `json:"headers,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Payload    json.RawMessage   `json:"payload"`
}

// Handler processes one delivered message. A returned error is logged by the
// transport; it does not trigger redelivery.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type Subscriber interface {
	Subscribe(topic string, handler Handler) error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Keyed is implemented by payloads that must keep per-key ordering on
// partitioned transports.
type Keyed interface {
	PartitionKey() string
}

// NewMessage wraps payload in an envelope stamped with a fresh id and the
// request metadata carried by ctx.
func NewMessage(ctx context.Context, topic string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("eventbus: encode %s payload: %w", topic, err)
	}
	headers := make(map[string]string)
	reqctx.Inject(ctx, headers)
	return Message{
		ID:         uuid.NewString(),
		Topic:      topic,
		Headers:    headers,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("eventbus: decode %s payload: %w", m.Topic, err)
	}
	return nil
}

// Context restores the request metadata of the publisher onto ctx.
func (m Message) Context(ctx context.Context) context.Context {
	return reqctx.Extract(ctx, m.Headers)
}

// PartitionKey returns the payload's partition key, or "" when it has none.
func PartitionKey(payload any) string {
	if k, ok := payload.(Keyed); ok {
		return k.PartitionKey()
	}
	return ""
}

// Marshal encodes the envelope for transports that carry raw bytes.
func Marshal(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("eventbus: encode envelope: %w", err)
	}
	return b, nil
}

func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("eventbus: decode envelope: %w", err)
	}
	if m.Topic == "" {
		return Message{}, errors.New("eventbus: decode envelope: missing topic")
	}
	return m, nil
}
