package ports

import (
	"context"

	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/saga"
)

// SagaService is the part of the orchestrator the HTTP API drives.
type SagaService interface {
	StartOrderSaga(ctx context.Context, cmd saga.StartCommand) (string, error)
	Get(sagaID string) (saga.State, bool)
	Active() []saga.State
}

type OrderReader interface {
	FindByID(ctx context.Context, orderID string) (*order.Order, error)
}
