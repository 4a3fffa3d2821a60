package repository

import (
	"context"
	"time"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
)

// LedgerTx is the view of one showtime handed to a LedgerStore.Update callback.
// Changes made to the ledger and the bookings saved through it are committed
// together when the callback returns nil, and discarded otherwise.
type LedgerTx interface {
	// Ledger returns the locked ledger. Mutate it in place.
	Ledger() *domain.SeatLedger
	// Booking reads a booking of this showtime, seeing changes staged in the tx.
	Booking(ctx context.Context, id string) (*domain.Booking, error)
	// SaveBooking stages a booking insert or update.
	SaveBooking(b *domain.Booking)
}

// LedgerStore owns the seat ledgers. Update runs with exclusive access to one
// showtime; updates of different showtimes do not block each other.
type LedgerStore interface {
	// Get returns a copy of the ledger as last committed
	Get(ctx context.Context, showtimeID string) (*domain.SeatLedger, error)
	// Update runs fn under the showtime lock and commits atomically
	Update(ctx context.Context, showtimeID string, fn func(tx LedgerTx) error) error
	// ShowtimesWithExpiredHolds lists showtimes holding at least one hold lapsed at now
	ShowtimesWithExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// BookingRepository serves booking reads outside a ledger transaction
type BookingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	// GetByOrderRef finds the booking created from an initial payment order
	GetByOrderRef(ctx context.Context, orderRef string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error)
	ListByTheater(ctx context.Context, theaterID string, limit, offset int) ([]*domain.Booking, error)
}

// ScreenDirectory reads screen layouts and seat-category prices
type ScreenDirectory interface {
	GetScreen(ctx context.Context, screenID string) (*domain.Screen, error)
}

// DefaultListLimit caps list queries that pass no limit.
const DefaultListLimit = 20

// MaxListLimit caps list queries.
const MaxListLimit = 100

// ClampLimit normalises a page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
