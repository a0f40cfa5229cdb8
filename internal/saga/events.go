package saga

import (
	"fmt"
	"strings"
	"time"

	"github.com/jcmexdev/order-saga/internal/order"
)

// Topics published by the orchestrator.
const (
	TopicOrderCreated          = "orders.created"
	TopicPaymentProcessRequest = "payments.process_request"
	TopicOrderConfirmed        = "orders.confirmed"
	TopicOrderCancelled        = "orders.cancelled"
	TopicInventoryRelease      = "inventory.release"
	TopicRefundRequest         = "payments.refund_request"
)

// Topics the orchestrator subscribes to.
const (
	TopicInventoryReserved   = "inventory.reserved"
	TopicInventoryOutOfStock = "inventory.out_of_stock"
	TopicPaymentSucceeded    = "payments.succeeded"
	TopicPaymentFailed       = "payments.failed"
)

const (
	ReasonTimeout = "Saga Timeout"

	// ReasonStrayReservation and ReasonStrayPayment accompany the release or
	// refund of a reservation or payment that arrived for a saga already
	// holding another one, or already finished.
	ReasonStrayReservation = "reservation not used by saga"
	ReasonStrayPayment     = "payment not used by saga"

	// CurrencyEUR is the only currency the payment flow handles.
	CurrencyEUR = "EUR"
)

type OrderCreated struct {
	OrderID     string       `json:"orderId"`
	CustomerID  string       `json:"customerId"`
	Items       []order.Item `json:"items"`
	TotalAmount float64      `json:"totalAmount"`
}

type PaymentProcessRequest struct {
	OrderID    string  `json:"orderId"`
	CustomerID string  `json:"customerId"`
	Amount     float64 `json:"amount"`
}

type OrderConfirmed struct {
	OrderID     string       `json:"orderId"`
	CustomerID  string       `json:"customerId"`
	TotalAmount float64      `json:"totalAmount"`
	Items       []order.Item `json:"items"`
	PaymentID   string       `json:"paymentId"`
}

type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type InventoryRelease struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
	Reason        string `json:"reason"`
}

type RefundRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

type InventoryReserved struct {
	OrderID       string       `json:"orderId"`
	ReservationID string       `json:"reservationId"`
	Items         []order.Item `json:"items,omitempty"`
	ExpiresAt     time.Time    `json:"expiresAt"`
}

type UnavailableItem struct {
	ProductID         string `json:"productId"`
	RequestedQuantity int    `json:"requestedQuantity"`
	AvailableQuantity int    `json:"availableQuantity"`
}

type InventoryOutOfStock struct {
	OrderID          string            `json:"orderId"`
	UnavailableItems []UnavailableItem `json:"unavailableItems"`
}

type Money struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type PaymentSucceeded struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    Money  `json:"amount"`
}

type PaymentFailed struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// Every event is keyed by order so partitioned transports keep per-order order.

func (e OrderCreated) PartitionKey() string          { return e.OrderID }
func (e PaymentProcessRequest) PartitionKey() string { return e.OrderID }
func (e OrderConfirmed) PartitionKey() string        { return e.OrderID }
func (e OrderCancelled) PartitionKey() string        { return e.OrderID }
func (e InventoryRelease) PartitionKey() string      { return e.OrderID }
func (e RefundRequest) PartitionKey() string         { return e.OrderID }
func (e InventoryReserved) PartitionKey() string     { return e.OrderID }
func (e InventoryOutOfStock) PartitionKey() string   { return e.OrderID }
func (e PaymentSucceeded) PartitionKey() string      { return e.OrderID }
func (e PaymentFailed) PartitionKey() string         { return e.OrderID }

// ShortageReason renders the unavailable items as a human readable reason,
// e.g. "out of stock: P1 (requested 2, available 0)".
func ShortageReason(items []UnavailableItem) string {
	if len(items) == 0 {
		return "out of stock"
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", it.ProductID, it.RequestedQuantity, it.AvailableQuantity))
	}
	return "out of stock: " + strings.Join(parts, ", ")
}
