package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jcmexdev/order-saga/internal/eventbus"
	"github.com/jcmexdev/order-saga/internal/saga"
)

// DefaultChargeLimit is the largest amount the simulated gateway accepts.
const DefaultChargeLimit = 500.00

type charge struct {
	paymentID string
	amount    float64
}

type Payment struct {
	bus    eventbus.Publisher
	limit  float64
	logger *slog.Logger

	mu       sync.Mutex
	payments map[string]charge
	refunded map[string]float64
}

func NewPayment(bus eventbus.Publisher, limit float64, logger *slog.Logger) *Payment {
	if limit <= 0 {
		limit = DefaultChargeLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Payment{
		bus:      bus,
		limit:    limit,
		logger:   logger.With("participant", "payment"),
		payments: make(map[string]charge),
		refunded: make(map[string]float64),
	}
}

// Register subscribes the payment gateway to charge and refund requests.
func (p *Payment) Register(sub eventbus.Subscriber) error {
	if err := sub.Subscribe(saga.TopicPaymentProcessRequest, p.handleProcessRequest); err != nil {
		return err
	}
	return sub.Subscribe(saga.TopicRefundRequest, p.handleRefund)
}

// Refunded returns the amount refunded for orderID.
func (p *Payment) Refunded(orderID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refunded[orderID]
}

func (p *Payment) handleProcessRequest(ctx context.Context, msg eventbus.Message) error {
	var req saga.PaymentProcessRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}

	if req.Amount > p.limit {
		reason := fmt.Sprintf("amount %.2f exceeds limit %.2f", req.Amount, p.limit)
		p.logger.WarnContext(ctx, "charge declined", "order_id", req.OrderID, "reason", reason)
		return p.bus.Publish(ctx, saga.TopicPaymentFailed, saga.PaymentFailed{OrderID: req.OrderID, Reason: reason})
	}

	c := p.charge(req.OrderID, req.Amount)
	p.logger.InfoContext(ctx, "charge captured", "order_id", req.OrderID, "payment_id", c.paymentID, "amount", c.amount)
	return p.bus.Publish(ctx, saga.TopicPaymentSucceeded, saga.PaymentSucceeded{
		OrderID:   req.OrderID,
		PaymentID: c.paymentID,
		Amount:    saga.Money{Value: c.amount, Currency: saga.CurrencyEUR},
	})
}

// charge captures once per order; a redelivered request returns the same payment.
func (p *Payment) charge(orderID string, amount float64) charge {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.payments[orderID]; ok {
		return c
	}
	c := charge{paymentID: "pay_" + uuid.NewString(), amount: amount}
	p.payments[orderID] = c
	return c
}

func (p *Payment) handleRefund(ctx context.Context, msg eventbus.Message) error {
	var req saga.RefundRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.payments[req.OrderID]
	if !ok || c.paymentID != req.PaymentID {
		p.logger.WarnContext(ctx, "no payment to refund", "order_id", req.OrderID, "payment_id", req.PaymentID)
		return nil
	}
	delete(p.payments, req.OrderID)
	p.refunded[req.OrderID] += c.amount

	p.logger.InfoContext(ctx, "payment refunded", "order_id", req.OrderID, "amount", c.amount, "reason", req.Reason)
	return nil
}
