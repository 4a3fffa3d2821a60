package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
)

// alphanumericChars for generating gateway-like IDs
const alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomAlphanumeric generates a random alphanumeric string of given length
func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphanumericChars[rand.Intn(len(alphanumericChars))]
	}
	return string(b)
}

// MockGateway is an in-memory gateway for development and tests. Checkout is
// simulated with Pay.
type MockGateway struct {
	signer   *Signer
	mu       sync.RWMutex
	orders   map[string]*Order
	payments map[string]*Payment
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(signingSecret string) *MockGateway {
	return &MockGateway{
		signer:   NewSigner(signingSecret),
		orders:   make(map[string]*Order),
		payments: make(map[string]*Payment),
	}
}

// Name returns the gateway name
func (g *MockGateway) Name() string { return "mock" }

// CreateOrder records a new order
func (g *MockGateway) CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Order, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("order amount must be positive, got %d", amount)
	}
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	order := &Order{
		Ref:      "order_" + randomAlphanumeric(14),
		Amount:   amount,
		Currency: currency,
		Status:   "created",
		Metadata: meta,
	}

	g.mu.Lock()
	g.orders[order.Ref] = order
	g.mu.Unlock()

	c := *order
	return &c, nil
}

// Pay simulates the customer completing checkout for an order and returns
// the payment id and the signature the checkout client would receive.
func (g *MockGateway) Pay(orderRef string) (paymentRef, signature string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderRef]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown order %s", domain.ErrOrderMismatch, orderRef)
	}
	payment := &Payment{
		Ref:      "pay_" + randomAlphanumeric(14),
		OrderRef: orderRef,
		Status:   PaymentStatusCaptured,
		Amount:   order.Amount,
	}
	g.payments[payment.Ref] = payment
	order.Status = "paid"
	return payment.Ref, g.signer.Sign(orderRef, payment.Ref), nil
}

// VerifySignature checks the signature and that the payment belongs to the order
func (g *MockGateway) VerifySignature(ctx context.Context, orderRef, paymentRef, signature string) (bool, error) {
	if !g.signer.Verify(orderRef, paymentRef, signature) {
		return false, nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.payments[paymentRef]
	return ok && p.OrderRef == orderRef, nil
}

// Refund refunds part or all of a captured payment
func (g *MockGateway) Refund(ctx context.Context, paymentRef string, amount int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[paymentRef]
	if !ok {
		return "", fmt.Errorf("%w: unknown payment %s", domain.ErrRefundRejected, paymentRef)
	}
	if p.Status != PaymentStatusCaptured {
		return "", fmt.Errorf("%w: payment %s is %s", domain.ErrRefundRejected, paymentRef, p.Status)
	}
	if amount <= 0 || amount > p.Refundable() {
		return "", fmt.Errorf("%w: amount %d exceeds refundable %d", domain.ErrRefundRejected, amount, p.Refundable())
	}

	p.AmountRefunded += amount
	if p.Refundable() == 0 {
		p.Status = PaymentStatusRefunded
	}
	return "rfnd_" + randomAlphanumeric(14), nil
}

// FetchOrder returns a copy of the order
func (g *MockGateway) FetchOrder(ctx context.Context, orderRef string) (*Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	order, ok := g.orders[orderRef]
	if !ok {
		return nil, fmt.Errorf("%w: unknown order %s", domain.ErrOrderMismatch, orderRef)
	}
	c := *order
	c.Metadata = make(map[string]string, len(order.Metadata))
	for k, v := range order.Metadata {
		c.Metadata[k] = v
	}
	return &c, nil
}

// FetchPayment returns a copy of the payment
func (g *MockGateway) FetchPayment(ctx context.Context, paymentRef string) (*Payment, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.payments[paymentRef]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment %s", domain.ErrPaymentNotCaptured, paymentRef)
	}
	c := *p
	return &c, nil
}
