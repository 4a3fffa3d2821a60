package dto

import (
	"time"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
)

// CreateBookingRequest represents a request to hold seats and open a payment order
type CreateBookingRequest struct {
	ShowtimeID string   `json:"showtime_id" binding:"required"`
	Seats      []string `json:"seats" binding:"required,min=1,max=20"`
}

// PaymentProof is what the checkout client returns after the customer paid
type PaymentProof struct {
	OrderRef   string `json:"order_id" binding:"required"`
	PaymentRef string `json:"payment_id" binding:"required"`
	Signature  string `json:"signature" binding:"required"`
}

// ConfirmBookingRequest represents a request to confirm a paid order
type ConfirmBookingRequest struct {
	PaymentProof
}

// ModifySeatsRequest represents a request to change the seats of a booking
type ModifySeatsRequest struct {
	Seats []string `json:"seats" binding:"required,min=1,max=20"`
}

// ConfirmModifyRequest represents a request to confirm a modification payment
type ConfirmModifyRequest struct {
	PaymentProof
}

// SeatResponse is one priced seat
type SeatResponse struct {
	Label      string `json:"label"`
	CategoryID string `json:"category_id"`
	Price      int64  `json:"price"`
}

// PaymentOrderResponse tells the client what to pay
type PaymentOrderResponse struct {
	OrderRef     string         `json:"order_id"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	Gateway      string         `json:"gateway"`
	ClientSecret string         `json:"client_secret,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Seats        []SeatResponse `json:"seats,omitempty"`
}

// ChargeResponse is one captured payment of a booking
type ChargeResponse struct {
	OrderRef   string    `json:"order_id"`
	PaymentRef string    `json:"payment_id"`
	Amount     int64     `json:"amount"`
	Refunded   int64     `json:"refunded"`
	CapturedAt time.Time `json:"captured_at"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID              string                `json:"id"`
	UserID          string                `json:"user_id"`
	TheaterID       string                `json:"theater_id"`
	ShowtimeID      string                `json:"showtime_id"`
	Seats           []SeatResponse        `json:"seats"`
	TotalAmount     int64                 `json:"total_amount"`
	Currency        string                `json:"currency"`
	Status          string                `json:"status"`
	PaymentOrderRef string                `json:"payment_order_id"`
	PaymentRef      string                `json:"payment_id,omitempty"`
	Charges         []ChargeResponse      `json:"charges"`
	Pending         *PaymentOrderResponse `json:"pending_payment,omitempty"`
	BookingDate     time.Time             `json:"booking_date"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// ModifyBookingResponse reports the outcome of a seat change. Order is set
// when the new seats cost more; RefundedAmount when they cost less.
// RefundPending is what the gateway did not pay out yet; repeating the same
// change settles it.
type ModifyBookingResponse struct {
	Booking        *BookingResponse      `json:"booking"`
	Delta          int64                 `json:"delta"`
	Order          *PaymentOrderResponse `json:"order,omitempty"`
	RefundedAmount int64                 `json:"refunded_amount,omitempty"`
	RefundPending  int64                 `json:"refund_pending,omitempty"`
}

// SeatMapResponse is the occupancy of a showtime
type SeatMapResponse struct {
	ShowtimeID     string   `json:"showtime_id"`
	TheaterID      string   `json:"theater_id"`
	TotalSeats     int      `json:"total_seats"`
	AvailableSeats int      `json:"available_seats"`
	Status         string   `json:"status"`
	Confirmed      []string `json:"confirmed"`
	Held           []string `json:"held"`
}

// PaginationMeta describes a page of a list
type PaginationMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// BookingListResponse is a page of bookings
type BookingListResponse struct {
	Data []*BookingResponse `json:"data"`
	Meta PaginationMeta     `json:"meta"`
}

// SeatsFromDomain converts priced seats
func SeatsFromDomain(seats []domain.PricedSeat) []SeatResponse {
	out := make([]SeatResponse, len(seats))
	for i, s := range seats {
		out[i] = SeatResponse{Label: s.Seat.Label(), CategoryID: s.CategoryID, Price: s.Price}
	}
	return out
}

// FromDomain converts domain Booking to BookingResponse
func FromDomain(b *domain.Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:              b.ID,
		UserID:          b.UserID,
		TheaterID:       b.TheaterID,
		ShowtimeID:      b.ShowtimeID,
		Seats:           SeatsFromDomain(b.Seats),
		TotalAmount:     b.TotalAmount,
		Currency:        b.Currency,
		Status:          string(b.Status),
		PaymentOrderRef: b.PaymentOrderRef,
		PaymentRef:      b.PaymentRef,
		Charges:         make([]ChargeResponse, len(b.Charges)),
		BookingDate:     b.BookingDate,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	for i, c := range b.Charges {
		resp.Charges[i] = ChargeResponse(c)
	}
	if b.Pending != nil {
		resp.Pending = &PaymentOrderResponse{
			OrderRef: b.Pending.OrderRef,
			Amount:   b.Pending.Amount,
			Currency: b.Currency,
		}
	}
	return resp
}

// FromDomainList converts a list of bookings
func FromDomainList(bookings []*domain.Booking) []*BookingResponse {
	out := make([]*BookingResponse, len(bookings))
	for i, b := range bookings {
		out[i] = FromDomain(b)
	}
	return out
}

// SeatMapFromSnapshot converts a ledger snapshot
func SeatMapFromSnapshot(s domain.LedgerSnapshot) *SeatMapResponse {
	return &SeatMapResponse{
		ShowtimeID:     s.ShowtimeID,
		TheaterID:      s.TheaterID,
		TotalSeats:     s.TotalSeats,
		AvailableSeats: s.AvailableSeats,
		Status:         string(s.Status),
		Confirmed:      s.Confirmed,
		Held:           s.Held,
	}
}
