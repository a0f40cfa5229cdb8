// Package order holds the order record the saga drives and the stores that
// persist it.
package order

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("order: not found")
	ErrAlreadyExists = errors.New("order: already exists")
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusInventoryReserved Status = "INVENTORY_RESERVED"
	StatusConfirmed         Status = "CONFIRMED"
	StatusCancelled         Status = "CANCELLED"
)

type Item struct {
	ProductID string  `json:"productId" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	Price     float64 `json:"price" validate:"gte=0"`
}

func (i Item) Subtotal() float64 {
	return float64(i.Quantity) * i.Price
}

type Order struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customerId"`
	Items       []Item    `json:"items"`
	TotalAmount float64   `json:"totalAmount"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share the Items slice with a store.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	return &c
}

// Store is the persistence contract implemented by every backend in this package.
type Store interface {
	// Create persists a new order. The stored status is PENDING unless o.Status is set.
	Create(ctx context.Context, o Order) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, status Status) error
	FindByID(ctx context.Context, orderID string) (*Order, error)
}
