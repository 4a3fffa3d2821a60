package domain

import (
	"fmt"
	"strings"
	"time"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusPending  BookingStatus = "pending"
	BookingStatusPaid     BookingStatus = "paid"
	BookingStatusRefunded BookingStatus = "refunded"
)

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusPaid, BookingStatusRefunded:
		return true
	}
	return false
}

// String returns the string representation of BookingStatus
func (s BookingStatus) String() string {
	return string(s)
}

// Charge is one captured payment collected for a booking, either the initial
// purchase or a modification top-up.
type Charge struct {
	OrderRef   string    `json:"order_ref"`
	PaymentRef string    `json:"payment_ref"`
	Amount     int64     `json:"amount"`
	Refunded   int64     `json:"refunded"`
	CapturedAt time.Time `json:"captured_at"`
}

// Refundable returns what is left to refund on the charge
func (c Charge) Refundable() int64 {
	if c.Refunded >= c.Amount {
		return 0
	}
	return c.Amount - c.Refunded
}

// PendingModification records a seat change awaiting an additional payment
type PendingModification struct {
	OrderRef string `json:"order_ref"`
	Amount   int64  `json:"amount"`
}

// Booking is one purchase of seats for a showtime. Bookings are never deleted.
type Booking struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	TheaterID       string               `json:"theater_id"`
	ShowtimeID      string               `json:"showtime_id"`
	Seats           []PricedSeat         `json:"seats"`
	TotalAmount     int64                `json:"total_amount"`
	Currency        string               `json:"currency"`
	PaymentOrderRef string               `json:"payment_order_ref"`
	PaymentRef      string               `json:"payment_ref"`
	Status          BookingStatus        `json:"status"`
	Charges         []Charge             `json:"charges"`
	Pending         *PendingModification `json:"pending_modification,omitempty"`
	BookingDate     time.Time            `json:"booking_date"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Validate checks the record invariants
func (b *Booking) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: booking id", ErrMissingField)
	}
	if strings.TrimSpace(b.UserID) == "" {
		return fmt.Errorf("%w: user id", ErrMissingField)
	}
	if strings.TrimSpace(b.ShowtimeID) == "" {
		return fmt.Errorf("%w: showtime id", ErrMissingField)
	}
	if len(b.Seats) == 0 {
		return fmt.Errorf("%w: seats", ErrMissingField)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("invalid booking status %q", b.Status)
	}
	if total := Total(b.Seats); total != b.TotalAmount {
		return fmt.Errorf("booking total %d does not match seat prices %d", b.TotalAmount, total)
	}
	return nil
}

// SeatList returns the booked seat coordinates
func (b *Booking) SeatList() []Seat {
	return SeatsOf(b.Seats)
}

// SeatLabels returns the booked seat labels
func (b *Booking) SeatLabels() []string {
	return Labels(b.SeatList())
}

// IsPaid checks if the booking is in paid status
func (b *Booking) IsPaid() bool {
	return b.Status == BookingStatusPaid
}

// BelongsToUser checks if the booking belongs to the specified user
func (b *Booking) BelongsToUser(userID string) bool {
	return b.UserID == userID
}

// Refundable sums the amount still refundable across charges
func (b *Booking) Refundable() int64 {
	var total int64
	for _, c := range b.Charges {
		total += c.Refundable()
	}
	return total
}

// Clone returns a deep copy
func (b *Booking) Clone() *Booking {
	c := *b
	c.Seats = append([]PricedSeat(nil), b.Seats...)
	c.Charges = append([]Charge(nil), b.Charges...)
	if b.Pending != nil {
		p := *b.Pending
		c.Pending = &p
	}
	return &c
}
