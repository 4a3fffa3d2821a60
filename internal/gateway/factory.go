package gateway

import (
	"fmt"

	"github.com/Hennamaria07/movieBookingBackend/pkg/config"
)

// New builds the gateway selected by configuration, wrapped with retries
func New(cfg config.PaymentConfig) (Gateway, error) {
	var gw Gateway
	switch cfg.Gateway {
	case "", "mock":
		gw = NewMockGateway(cfg.SigningSecret)
	case "stripe":
		sg, err := NewStripeGateway(&StripeGatewayConfig{SecretKey: cfg.SecretKey})
		if err != nil {
			return nil, err
		}
		gw = sg
	default:
		return nil, fmt.Errorf("unknown payment gateway: %q", cfg.Gateway)
	}
	return NewRetryingGateway(gw, nil), nil
}
