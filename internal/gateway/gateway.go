package gateway

import "context"

// Order metadata keys. The gateway stores them with the order and returns
// them from FetchOrder, so a confirmation can be tied back to what was bought.
const (
	MetaKind        = "kind"
	MetaShowtimeID  = "showtime_id"
	MetaUserID      = "user_id"
	MetaTheaterID   = "theater_id"
	MetaBookingDate = "booking_date"
	MetaBookingID   = "booking_id"

	KindBooking      = "booking"
	KindModification = "modification"
)

// Payment statuses reported by FetchPayment
const (
	PaymentStatusCaptured   = "captured"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusRefunded   = "refunded"
	PaymentStatusFailed     = "failed"
)

// Order is a payment order the customer pays out of band
type Order struct {
	Ref      string            `json:"ref"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// ClientSecret is handed to the checkout client when the gateway needs one.
	ClientSecret string `json:"client_secret,omitempty"`
}

// Payment is a payment made against an order
type Payment struct {
	Ref            string `json:"ref"`
	OrderRef       string `json:"order_ref"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
}

// Refundable returns the amount not yet refunded
func (p *Payment) Refundable() int64 {
	if p.AmountRefunded >= p.Amount {
		return 0
	}
	return p.Amount - p.AmountRefunded
}

// Gateway is the external payment processor. Amounts are integral minor
// currency units. Transient failures wrap domain.ErrGatewayUnavailable.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Order, error)
	// VerifySignature reports whether the checkout signature proves that
	// paymentRef paid orderRef. A false result is a definite rejection; an
	// error means the answer is unknown. A payment the gateway has not
	// settled yet returns domain.ErrPaymentPending.
	VerifySignature(ctx context.Context, orderRef, paymentRef, signature string) (bool, error)
	Refund(ctx context.Context, paymentRef string, amount int64) (string, error)
	FetchOrder(ctx context.Context, orderRef string) (*Order, error)
	FetchPayment(ctx context.Context, paymentRef string) (*Payment, error)
	Name() string
}
