package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/pkg/database"
)

func skipIfNoIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
}

func setupPostgres(t *testing.T) (*database.PostgresDB, string) {
	t.Helper()
	skipIfNoIntegration(t)

	ctx := context.Background()
	cfg := database.DefaultPostgresConfig()
	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_POSTGRES_PASSWORD"); password != "" {
		cfg.Password = password
	}
	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, Migrate(ctx, db.Pool()))

	screenID := "screen-" + uuid.NewString()
	showtimeID := "show-" + uuid.NewString()
	_, err = db.Pool().Exec(ctx, `
		INSERT INTO screens (id, theater_id, row_count, seats_per_row, seat_categories, special_seats)
		VALUES ($1, 'theater-1', 10, 10, '[{"id":"regular","price":200}]', '[]')`, screenID)
	require.NoError(t, err)
	_, err = db.Pool().Exec(ctx, `
		INSERT INTO showtimes (id, screen_id, theater_id, total_seats, available_seats)
		VALUES ($1, $2, 'theater-1', 100, 100)`, showtimeID, screenID)
	require.NoError(t, err)

	return db, showtimeID
}

func TestPostgresLedgerStore_Integration(t *testing.T) {
	db, showtimeID := setupPostgres(t)
	ctx := context.Background()
	store := NewPostgresLedgerStore(db.Pool())
	bookings := NewPostgresBookingRepository(db.Pool())
	orderRef := "order-" + uuid.NewString()

	require.NoError(t, store.Update(ctx, showtimeID, func(tx LedgerTx) error {
		return tx.Ledger().PlaceHold([]domain.PricedSeat{seat("A1"), seat("A2")}, orderRef, time.Now().Add(time.Minute), time.Now())
	}))

	ledger, err := store.Get(ctx, showtimeID)
	require.NoError(t, err)
	assert.Len(t, ledger.HeldBy(orderRef), 2)

	bookingID := uuid.NewString()
	require.NoError(t, store.Update(ctx, showtimeID, func(tx LedgerTx) error {
		holds, err := tx.Ledger().PromoteHold(orderRef)
		if err != nil {
			return err
		}
		b := &domain.Booking{
			ID:              bookingID,
			UserID:          "u-1",
			TheaterID:       "theater-1",
			ShowtimeID:      showtimeID,
			Currency:        "INR",
			PaymentOrderRef: orderRef,
			PaymentRef:      "pay-1",
			Status:          domain.BookingStatusPaid,
			CreatedAt:       time.Now().UTC(),
			UpdatedAt:       time.Now().UTC(),
		}
		for _, h := range holds {
			b.Seats = append(b.Seats, domain.PricedSeat{Seat: h.Seat, Label: h.Seat.Label(), CategoryID: h.CategoryID, Price: h.Price})
		}
		b.TotalAmount = domain.Total(b.Seats)
		b.Charges = []domain.Charge{{OrderRef: orderRef, PaymentRef: "pay-1", Amount: b.TotalAmount}}
		tx.SaveBooking(b)
		return nil
	}))

	ledger, err = store.Get(ctx, showtimeID)
	require.NoError(t, err)
	assert.Equal(t, 98, ledger.AvailableSeats())
	assert.Empty(t, ledger.Holds())

	var available int
	var status string
	require.NoError(t, db.Pool().QueryRow(ctx,
		`SELECT available_seats, status FROM showtimes WHERE id = $1`, showtimeID).Scan(&available, &status))
	assert.Equal(t, 98, available)
	assert.Equal(t, string(domain.ShowtimeStatusAvailable), status)

	b, err := bookings.GetByOrderRef(ctx, orderRef)
	require.NoError(t, err)
	assert.Equal(t, bookingID, b.ID)
	assert.Equal(t, int64(400), b.TotalAmount)
	assert.Equal(t, []string{"A1", "A2"}, b.SeatLabels())

	list, err := bookings.ListByUser(ctx, "u-1", 10, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	screen, err := NewPostgresScreenDirectory(db.Pool()).GetScreen(ctx, ledger.ScreenID)
	require.NoError(t, err)
	assert.Equal(t, 100, screen.Capacity())
}

func TestPostgresLedgerStore_ConcurrentHolds_Integration(t *testing.T) {
	db, showtimeID := setupPostgres(t)
	ctx := context.Background()
	store := NewPostgresLedgerStore(db.Pool())

	const workers = 10
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Update(ctx, showtimeID, func(tx LedgerTx) error {
				return tx.Ledger().PlaceHold([]domain.PricedSeat{seat("C3")},
					fmt.Sprintf("order-%d", i), time.Now().Add(time.Minute), time.Now())
			})
			if err == nil {
				winners.Add(1)
			} else if !errors.Is(err, domain.ErrSeatConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
