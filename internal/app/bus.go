package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/order-saga/internal/config"
	"github.com/jcmexdev/order-saga/internal/eventbus"
	"github.com/jcmexdev/order-saga/internal/eventbus/amqpbus"
	"github.com/jcmexdev/order-saga/internal/eventbus/kafkabus"
	"github.com/jcmexdev/order-saga/internal/eventbus/natsbus"
	"github.com/jcmexdev/order-saga/internal/eventbus/redisbus"
)

// redisStreamBus closes the client it was built on together with the bus.
type redisStreamBus struct {
	*redisbus.Bus
	client *redis.Client
}

func (b redisStreamBus) Close() error {
	var result *multierror.Error
	if err := b.Bus.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := b.client.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("redis: close: %w", err))
	}
	return result.ErrorOrNil()
}

// OpenBus builds the event bus selected by cfg.Driver.
func OpenBus(ctx context.Context, cfg config.BusConfig, logger *slog.Logger) (eventbus.Bus, error) {
	switch cfg.Driver {
	case config.BusMemory, "":
		return eventbus.NewMemoryBus(logger), nil

	case config.BusNATS:
		return natsbus.Connect(cfg.NATS.URL, natsbus.Options{
			Name:       consumerName(cfg.Group),
			QueueGroup: cfg.Group,
		}, logger)

	case config.BusRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redisbus: ping %s: %w", cfg.Redis.Addr, err)
		}
		bus := redisbus.New(client, redisbus.Options{
			Group:    cfg.Group,
			Consumer: consumerName(cfg.Group),
			MaxLen:   cfg.Redis.MaxLen,
		}, logger)
		return redisStreamBus{Bus: bus, client: client}, nil

	case config.BusKafka:
		return kafkabus.New(kafkabus.Options{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Group,
		}, logger)

	case config.BusRabbitMQ:
		return amqpbus.Dial(cfg.RabbitMQ.URL, amqpbus.Options{
			Exchange: cfg.RabbitMQ.Exchange,
			Group:    cfg.Group,
		}, logger)

	default:
		return nil, fmt.Errorf("app: unknown bus driver %q", cfg.Driver)
	}
}

// consumerName is unique per process so replicas of one group can be told
// apart in broker tooling.
func consumerName(group string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return group
	}
	return fmt.Sprintf("%s-%s-%d", group, host, os.Getpid())
}
