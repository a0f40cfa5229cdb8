package saga

import (
	"context"

	"github.com/jcmexdev/order-saga/internal/eventbus"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/saga/sagalog"
)

// OrderStore is the durable order record the saga drives. order.Store
// implementations satisfy it.
type OrderStore interface {
	Create(ctx context.Context, o order.Order) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status order.Status) error
	FindByID(ctx context.Context, orderID string) (*order.Order, error)
}

// EventBus is the transport for commands and outcome events.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler eventbus.Handler) error
}

// Journal records saga transitions. Write failures never affect a saga.
type Journal interface {
	Save(ctx context.Context, entry *sagalog.SagaLog) error
}
