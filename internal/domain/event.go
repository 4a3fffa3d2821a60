package domain

import "time"

// BookingEventType names a booking lifecycle event
type BookingEventType string

const (
	BookingEventConfirmed       BookingEventType = "booking.confirmed"
	BookingEventCancelled       BookingEventType = "booking.cancelled"
	BookingEventModified        BookingEventType = "booking.modified"
	BookingEventModifyConfirmed BookingEventType = "booking.modify_confirmed"
)

// BookingEvent is published after a booking change has been committed
type BookingEvent struct {
	EventID     string           `json:"event_id"`
	EventType   BookingEventType `json:"event_type"`
	OccurredAt  time.Time        `json:"occurred_at"`
	BookingID   string           `json:"booking_id"`
	UserID      string           `json:"user_id"`
	TheaterID   string           `json:"theater_id"`
	ShowtimeID  string           `json:"showtime_id"`
	Seats       []string         `json:"seats"`
	TotalAmount int64            `json:"total_amount"`
	Currency    string           `json:"currency"`
	Status      BookingStatus    `json:"status"`
	// Delta is the price difference of a modification.
	Delta int64 `json:"delta,omitempty"`
}

// NewBookingEvent builds an event from the committed booking
func NewBookingEvent(eventType BookingEventType, b *Booking, eventID string) *BookingEvent {
	return &BookingEvent{
		EventID:     eventID,
		EventType:   eventType,
		OccurredAt:  time.Now().UTC(),
		BookingID:   b.ID,
		UserID:      b.UserID,
		TheaterID:   b.TheaterID,
		ShowtimeID:  b.ShowtimeID,
		Seats:       b.SeatLabels(),
		TotalAmount: b.TotalAmount,
		Currency:    b.Currency,
		Status:      b.Status,
	}
}

// Key partitions events by showtime so consumers see one showtime in order
func (e *BookingEvent) Key() string {
	return e.ShowtimeID
}
