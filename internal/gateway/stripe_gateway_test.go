package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
)

const testClientSecret = "pi_123_secret_abc"

// stripeWithIntent points the Stripe client at a server that answers every
// request with the given payment intent.
func stripeWithIntent(t *testing.T, status string) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "pi_123",
			"object":        "payment_intent",
			"status":        status,
			"client_secret": testClientSecret,
			"latest_charge": "ch_123",
			"amount":        400,
			"currency":      "inr",
		})
	}))
	t.Cleanup(srv.Close)

	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}))
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, nil) })

	gw, err := NewStripeGateway(&StripeGatewayConfig{SecretKey: "sk_test_123"})
	require.NoError(t, err)
	return gw
}

func TestStripeGateway_VerifySignature(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		paymentRef string
		signature  string
		wantOK     bool
		wantErr    error
	}{
		{name: "succeeded", status: "succeeded", paymentRef: "ch_123", signature: testClientSecret, wantOK: true},
		{name: "wrong client secret", status: "succeeded", paymentRef: "ch_123", signature: "pi_123_secret_xyz"},
		{name: "other charge", status: "succeeded", paymentRef: "ch_999", signature: testClientSecret},
		{name: "processing", status: "processing", paymentRef: "ch_123", signature: testClientSecret, wantErr: domain.ErrPaymentPending},
		{name: "requires capture", status: "requires_capture", paymentRef: "ch_123", signature: testClientSecret, wantErr: domain.ErrPaymentPending},
		{name: "declined", status: "requires_payment_method", paymentRef: "ch_123", signature: testClientSecret},
		{name: "canceled", status: "canceled", paymentRef: "ch_123", signature: testClientSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := stripeWithIntent(t, tt.status)

			ok, err := gw.VerifySignature(context.Background(), "pi_123", tt.paymentRef, tt.signature)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, domain.IsTransientError(err))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestNewStripeGateway(t *testing.T) {
	_, err := NewStripeGateway(nil)
	assert.Error(t, err)

	_, err = NewStripeGateway(&StripeGatewayConfig{})
	assert.Error(t, err)
}
