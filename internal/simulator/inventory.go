// Package simulator provides in-process inventory and payment participants
// that answer the orchestrator's commands over the event bus. They back the
// serve --simulate mode and the end-to-end tests.
package simulator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/order-saga/internal/eventbus"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/saga"
)

// ReservationTTL is advertised in inventory.reserved as expiresAt.
const ReservationTTL = 15 * time.Minute

// DefaultStock seeds the inventory when no stock is given.
func DefaultStock() map[string]int {
	return map[string]int{
		"prod_1": 15,
		"prod_2": 10,
		"prod_3": 0,
	}
}

type reservation struct {
	orderID string
	items   []order.Item
}

type Inventory struct {
	bus    eventbus.Publisher
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]reservation
	byOrder      map[string]string
}

func NewInventory(bus eventbus.Publisher, stock map[string]int, logger *slog.Logger) *Inventory {
	if stock == nil {
		stock = DefaultStock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	copied := make(map[string]int, len(stock))
	for k, v := range stock {
		copied[k] = v
	}
	return &Inventory{
		bus:          bus,
		logger:       logger.With("participant", "inventory"),
		now:          time.Now,
		stock:        copied,
		reservations: make(map[string]reservation),
		byOrder:      make(map[string]string),
	}
}

// Register subscribes the inventory to orders.created and inventory.release.
func (i *Inventory) Register(sub eventbus.Subscriber) error {
	if err := sub.Subscribe(saga.TopicOrderCreated, i.handleOrderCreated); err != nil {
		return err
	}
	return sub.Subscribe(saga.TopicInventoryRelease, i.handleRelease)
}

// Stock returns the available quantity of productID.
func (i *Inventory) Stock(productID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock[productID]
}

func (i *Inventory) handleOrderCreated(ctx context.Context, msg eventbus.Message) error {
	var evt saga.OrderCreated
	if err := msg.Decode(&evt); err != nil {
		return err
	}

	reserved, shortages := i.reserve(evt.OrderID, evt.Items)
	if len(shortages) > 0 {
		i.logger.WarnContext(ctx, "insufficient stock", "order_id", evt.OrderID, "unavailable", len(shortages))
		return i.bus.Publish(ctx, saga.TopicInventoryOutOfStock, saga.InventoryOutOfStock{
			OrderID:          evt.OrderID,
			UnavailableItems: shortages,
		})
	}

	i.logger.InfoContext(ctx, "stock reserved", "order_id", evt.OrderID, "reservation_id", reserved)
	return i.bus.Publish(ctx, saga.TopicInventoryReserved, saga.InventoryReserved{
		OrderID:       evt.OrderID,
		ReservationID: reserved,
		Items:         evt.Items,
		ExpiresAt:     i.now().Add(ReservationTTL).UTC(),
	})
}

// reserve takes all items or nothing. A redelivered order gets its existing
// reservation back.
func (i *Inventory) reserve(orderID string, items []order.Item) (string, []saga.UnavailableItem) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if id, ok := i.byOrder[orderID]; ok {
		return id, nil
	}

	var shortages []saga.UnavailableItem
	for _, it := range items {
		if available := i.stock[it.ProductID]; available < it.Quantity {
			shortages = append(shortages, saga.UnavailableItem{
				ProductID:         it.ProductID,
				RequestedQuantity: it.Quantity,
				AvailableQuantity: available,
			})
		}
	}
	if len(shortages) > 0 {
		return "", shortages
	}

	for _, it := range items {
		i.stock[it.ProductID] -= it.Quantity
	}
	id := "res_" + uuid.NewString()
	i.reservations[id] = reservation{orderID: orderID, items: append([]order.Item(nil), items...)}
	i.byOrder[orderID] = id
	return id, nil
}

func (i *Inventory) handleRelease(ctx context.Context, msg eventbus.Message) error {
	var evt saga.InventoryRelease
	if err := msg.Decode(&evt); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	res, ok := i.reservations[evt.ReservationID]
	if !ok {
		i.logger.WarnContext(ctx, "no reservation to release", "reservation_id", evt.ReservationID, "order_id", evt.OrderID)
		return nil
	}
	for _, it := range res.items {
		i.stock[it.ProductID] += it.Quantity
	}
	delete(i.reservations, evt.ReservationID)
	delete(i.byOrder, res.orderID)

	i.logger.InfoContext(ctx, "reservation released", "reservation_id", evt.ReservationID, "reason", evt.Reason)
	return nil
}
