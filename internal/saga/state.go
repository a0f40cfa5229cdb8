package saga

import (
	"errors"
	"time"

	"github.com/jcmexdev/order-saga/internal/order"
)

var (
	// ErrSagaExists is returned when a saga for the order is still held in
	// memory, or the order already exists in the store.
	ErrSagaExists     = errors.New("saga: already exists")
	ErrInvalidCommand = errors.New("saga: invalid start command")
)

type Status string

const (
	StatusStarted           Status = "STARTED"
	StatusInventoryReserved Status = "INVENTORY_RESERVED"
	StatusPaymentProcessing Status = "PAYMENT_PROCESSING"
	StatusPaymentSucceeded  Status = "PAYMENT_SUCCEEDED"
	StatusCompleted         Status = "COMPLETED"
	StatusCompensating      Status = "COMPENSATING"
	StatusCompensated       Status = "COMPENSATED"
	StatusFailed            Status = "FAILED"
)

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusFailed:
		return true
	}
	return false
}

// State is a point-in-time copy of one saga.
type State struct {
	SagaID             string     `json:"sagaId"`
	OrderID            string     `json:"orderId"`
	CustomerID         string     `json:"customerId"`
	Status             Status     `json:"status"`
	ReservationID      string     `json:"reservationId,omitempty"`
	PaymentID          string     `json:"paymentId,omitempty"`
	StartedAt          time.Time  `json:"startedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	Error              string     `json:"error,omitempty"`
	CompensationReason string     `json:"compensationReason,omitempty"`
}

func (s State) clone() State {
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// SagaID derives the saga id from the order id, so every event about an
// order resolves to the same saga.
func SagaID(orderID string) string {
	return "saga-" + orderID
}

// StartCommand is the input of StartOrderSaga.
type StartCommand struct {
	OrderID     string       `json:"orderId" validate:"required"`
	CustomerID  string       `json:"customerId" validate:"required"`
	Items       []order.Item `json:"items" validate:"required,min=1,dive"`
	TotalAmount float64      `json:"totalAmount" validate:"gte=0"`
}
