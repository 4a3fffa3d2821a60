package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/charge"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
)

// StripeGateway implements Gateway using Stripe. An order is a PaymentIntent
// and a payment is the Charge that settled it. Stripe checkout hands the
// client the intent's client secret, so that is the signature it returns.
type StripeGateway struct{}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey string
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeGateway{}, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string { return "stripe" }

// CreateOrder creates a PaymentIntent carrying the metadata
func (g *StripeGateway) CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Order, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: make(map[string]string, len(metadata)),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.Metadata[k] = v
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classify("create payment intent", err)
	}
	return orderFromIntent(pi), nil
}

// VerifySignature checks that signature is the intent's client secret and
// that the intent succeeded with the charge paymentRef.
func (g *StripeGateway) VerifySignature(ctx context.Context, orderRef, paymentRef, signature string) (bool, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(orderRef, params)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify("get payment intent", err)
	}
	if subtle.ConstantTimeCompare([]byte(signature), []byte(pi.ClientSecret)) != 1 {
		return false, nil
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return pi.LatestCharge != nil && pi.LatestCharge.ID == paymentRef, nil
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return false, fmt.Errorf("%w: payment intent %s is %s", domain.ErrPaymentPending, orderRef, pi.Status)
	default:
		// requires_payment_method after a declined attempt, or canceled
		return false, nil
	}
}

// Refund refunds part or all of a charge
func (g *StripeGateway) Refund(ctx context.Context, paymentRef string, amount int64) (string, error) {
	if paymentRef == "" {
		return "", fmt.Errorf("%w: payment ref is required", domain.ErrRefundRejected)
	}
	params := &stripe.RefundParams{
		Charge: stripe.String(paymentRef),
		Amount: stripe.Int64(amount),
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		if isTransient(err) {
			return "", fmt.Errorf("%w: create refund: %v", domain.ErrGatewayUnavailable, err)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrRefundRejected, err)
	}
	return r.ID, nil
}

// FetchOrder retrieves a PaymentIntent
func (g *StripeGateway) FetchOrder(ctx context.Context, orderRef string) (*Order, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(orderRef, params)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: unknown order %s", domain.ErrOrderMismatch, orderRef)
		}
		return nil, classify("get payment intent", err)
	}
	return orderFromIntent(pi), nil
}

// FetchPayment retrieves a Charge
func (g *StripeGateway) FetchPayment(ctx context.Context, paymentRef string) (*Payment, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx
	ch, err := charge.Get(paymentRef, params)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: unknown payment %s", domain.ErrPaymentNotCaptured, paymentRef)
		}
		return nil, classify("get charge", err)
	}

	p := &Payment{
		Ref:            ch.ID,
		Amount:         ch.Amount,
		AmountRefunded: ch.AmountRefunded,
	}
	if ch.PaymentIntent != nil {
		p.OrderRef = ch.PaymentIntent.ID
	}
	switch {
	case ch.Refunded:
		p.Status = PaymentStatusRefunded
	case ch.Status == stripe.ChargeStatusSucceeded && ch.Captured:
		p.Status = PaymentStatusCaptured
	case ch.Status == stripe.ChargeStatusSucceeded:
		p.Status = PaymentStatusAuthorized
	default:
		p.Status = PaymentStatusFailed
	}
	return p, nil
}

func orderFromIntent(pi *stripe.PaymentIntent) *Order {
	return &Order{
		Ref:          pi.ID,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
		ClientSecret: pi.ClientSecret,
	}
}

func classify(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

// isTransient treats network failures, 5xx and rate limiting as retryable.
func isTransient(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return true
	}
	return se.HTTPStatusCode == 0 ||
		se.HTTPStatusCode >= http.StatusInternalServerError ||
		se.HTTPStatusCode == http.StatusTooManyRequests ||
		se.Type == stripe.ErrorTypeAPI
}

func isNotFound(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound
}
