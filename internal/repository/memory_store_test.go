package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	s.AddShowtime(domain.NewSeatLedger("show-1", "screen-1", "theater-1", 100))
	s.AddShowtime(domain.NewSeatLedger("show-2", "screen-1", "theater-1", 100))
	return s
}

func seat(label string) domain.PricedSeat {
	s, err := domain.ParseSeat(label)
	if err != nil {
		panic(err)
	}
	return domain.PricedSeat{Seat: s, Label: s.Label(), CategoryID: domain.RegularCategory, Price: 200}
}

func TestMemoryStore_UpdateCommitsLedgerAndBookings(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.Update(ctx, "show-1", func(tx LedgerTx) error {
		if err := tx.Ledger().PlaceHold([]domain.PricedSeat{seat("A1")}, "order-1", now.Add(time.Minute), now); err != nil {
			return err
		}
		if _, err := tx.Ledger().PromoteHold("order-1"); err != nil {
			return err
		}
		tx.SaveBooking(&domain.Booking{
			ID:              "b-1",
			UserID:          "u-1",
			TheaterID:       "theater-1",
			ShowtimeID:      "show-1",
			Seats:           []domain.PricedSeat{seat("A1")},
			TotalAmount:     200,
			PaymentOrderRef: "order-1",
			Status:          domain.BookingStatusPaid,
			CreatedAt:       now,
		})
		staged, err := tx.Booking(ctx, "b-1")
		require.NoError(t, err)
		assert.Equal(t, "u-1", staged.UserID)
		return nil
	})
	require.NoError(t, err)

	ledger, err := s.Get(ctx, "show-1")
	require.NoError(t, err)
	assert.Equal(t, 99, ledger.AvailableSeats())
	assert.Equal(t, int64(1), ledger.Version)

	b, err := s.GetByOrderRef(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", b.ID)
}

func TestMemoryStore_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.Update(ctx, "show-1", func(tx LedgerTx) error {
		require.NoError(t, tx.Ledger().PlaceHold([]domain.PricedSeat{seat("A1")}, "order-1", now.Add(time.Minute), now))
		tx.SaveBooking(&domain.Booking{ID: "b-1", ShowtimeID: "show-1"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ledger, err := s.Get(ctx, "show-1")
	require.NoError(t, err)
	assert.Empty(t, ledger.Holds())
	assert.Equal(t, int64(0), ledger.Version)

	_, err = s.GetByID(ctx, "b-1")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestMemoryStore_UnknownShowtime(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrShowtimeNotFound)

	err = s.Update(context.Background(), "nope", func(tx LedgerTx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrShowtimeNotFound)
}

func TestMemoryStore_BookingOfOtherShowtimeHidden(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Update(ctx, "show-2", func(tx LedgerTx) error {
		tx.SaveBooking(&domain.Booking{ID: "b-2", ShowtimeID: "show-2"})
		return nil
	}))

	err := s.Update(ctx, "show-1", func(tx LedgerTx) error {
		_, err := tx.Booking(ctx, "b-2")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestMemoryStore_ConcurrentHoldsOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	const workers = 32
	var (
		wg        sync.WaitGroup
		winners   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(ctx, "show-1", func(tx LedgerTx) error {
				return tx.Ledger().PlaceHold(
					[]domain.PricedSeat{seat("A1"), seat("A2")},
					fmt.Sprintf("order-%d", i), now.Add(time.Minute), now)
			})
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, domain.ErrSeatConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func TestMemoryStore_ShowtimesWithExpiredHolds(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Update(ctx, "show-2", func(tx LedgerTx) error {
		return tx.Ledger().PlaceHold([]domain.PricedSeat{seat("A1")}, "order-1", now.Add(time.Minute), now)
	}))

	ids, err := s.ShowtimesWithExpiredHolds(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.ShowtimesWithExpiredHolds(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"show-2"}, ids)
}

func TestMemoryStore_ListPagination(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Update(ctx, "show-1", func(tx LedgerTx) error {
		for i := 0; i < 5; i++ {
			tx.SaveBooking(&domain.Booking{
				ID:         fmt.Sprintf("b-%d", i),
				UserID:     "u-1",
				TheaterID:  "theater-1",
				ShowtimeID: "show-1",
				CreatedAt:  now.Add(time.Duration(i) * time.Minute),
			})
		}
		return nil
	}))

	page, err := s.ListByUser(ctx, "u-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b-4", page[0].ID)
	assert.Equal(t, "b-3", page[1].ID)

	page, err = s.ListByTheater(ctx, "theater-1", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b-0", page[0].ID)

	page, err = s.ListByUser(ctx, "u-1", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryStore_GetScreen(t *testing.T) {
	s := NewMemoryStore()
	s.AddScreen(&domain.Screen{ID: "screen-1", Rows: 10, SeatsPerRow: 10})

	screen, err := s.GetScreen(context.Background(), "screen-1")
	require.NoError(t, err)
	assert.Equal(t, 100, screen.Capacity())

	_, err = s.GetScreen(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ClampLimit(0))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxListLimit, ClampLimit(1000))
}
