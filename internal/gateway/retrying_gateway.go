package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
	"github.com/Hennamaria07/movieBookingBackend/pkg/retry"
)

// RetryingGateway retries the read-only gateway calls on transient failure.
// CreateOrder and Refund are not retried: a lost response could mean the
// order or refund exists, and a retry would duplicate it.
type RetryingGateway struct {
	next   Gateway
	config retry.Config
}

// NewRetryingGateway wraps next. A nil config uses three quick retries.
func NewRetryingGateway(next Gateway, config *retry.Config) *RetryingGateway {
	cfg := retry.Config{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
	if config != nil {
		cfg = *config
	}
	cfg.RetryIf = func(err error) bool {
		return errors.Is(err, domain.ErrGatewayUnavailable)
	}
	return &RetryingGateway{next: next, config: cfg}
}

func (g *RetryingGateway) Name() string { return g.next.Name() }

func (g *RetryingGateway) CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Order, error) {
	return g.next.CreateOrder(ctx, amount, currency, metadata)
}

func (g *RetryingGateway) Refund(ctx context.Context, paymentRef string, amount int64) (string, error) {
	return g.next.Refund(ctx, paymentRef, amount)
}

func (g *RetryingGateway) VerifySignature(ctx context.Context, orderRef, paymentRef, signature string) (bool, error) {
	var ok bool
	err := g.do(ctx, "verify_signature", func(ctx context.Context) error {
		var err error
		ok, err = g.next.VerifySignature(ctx, orderRef, paymentRef, signature)
		return err
	})
	return ok, err
}

func (g *RetryingGateway) FetchOrder(ctx context.Context, orderRef string) (*Order, error) {
	var order *Order
	err := g.do(ctx, "fetch_order", func(ctx context.Context) error {
		var err error
		order, err = g.next.FetchOrder(ctx, orderRef)
		return err
	})
	return order, err
}

func (g *RetryingGateway) FetchPayment(ctx context.Context, paymentRef string) (*Payment, error) {
	var payment *Payment
	err := g.do(ctx, "fetch_payment", func(ctx context.Context) error {
		var err error
		payment, err = g.next.FetchPayment(ctx, paymentRef)
		return err
	})
	return payment, err
}

func (g *RetryingGateway) do(ctx context.Context, op string, fn retry.Operation) error {
	result := retry.New(&g.config).DoWithCallback(ctx, fn, func(attempt int, err error, next time.Duration) {
		logger.Get().Warn("payment gateway call failed, retrying",
			zap.String("gateway", g.next.Name()),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
	if result.Err == nil {
		return nil
	}
	cause := result.Cause()
	if errors.Is(result.Err, retry.ErrContextCanceled) && !errors.Is(cause, domain.ErrGatewayUnavailable) {
		return errors.Join(domain.ErrGatewayUnavailable, ctx.Err())
	}
	return cause
}
