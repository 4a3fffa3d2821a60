package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/internal/repository"
)

var start = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func priced(t *testing.T, label string) []domain.PricedSeat {
	t.Helper()
	s, err := domain.ParseSeat(label)
	require.NoError(t, err)
	return []domain.PricedSeat{{Seat: s, Label: s.Label(), CategoryID: domain.RegularCategory, Price: 200}}
}

func hold(t *testing.T, store *repository.MemoryStore, showtimeID, label, token string, ttl time.Duration) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), showtimeID, func(tx repository.LedgerTx) error {
		return tx.Ledger().PlaceHold(priced(t, label), token, start.Add(ttl), start)
	}))
}

func TestHoldSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	store.AddShowtime(domain.NewSeatLedger("show-1", "screen-1", "theater-1", 100))
	store.AddShowtime(domain.NewSeatLedger("show-2", "screen-1", "theater-1", 100))

	hold(t, store, "show-1", "A1", "order-old", time.Minute)
	hold(t, store, "show-1", "A2", "order-new", time.Hour)
	hold(t, store, "show-2", "B1", "order-other", 2*time.Minute)

	clock := start.Add(5 * time.Minute)
	sweeper := NewHoldSweeper(store, &HoldSweeperConfig{Clock: func() time.Time { return clock }})

	released, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	l, err := store.Get(ctx, "show-1")
	require.NoError(t, err)
	require.Len(t, l.Holds(), 1)
	assert.Equal(t, "order-new", l.Holds()[0].Token)

	l, err = store.Get(ctx, "show-2")
	require.NoError(t, err)
	assert.Empty(t, l.Holds())

	released, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	stats := sweeper.Stats()
	assert.Equal(t, int64(2), stats.Sweeps)
	assert.Equal(t, int64(2), stats.TotalReleased)
	assert.Zero(t, stats.LastReleased)
	assert.Equal(t, clock, stats.LastSweep)
}

func TestHoldSweeper_BatchSize(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	for _, id := range []string{"show-1", "show-2", "show-3"} {
		store.AddShowtime(domain.NewSeatLedger(id, "screen-1", "theater-1", 100))
		hold(t, store, id, "A1", "order-"+id, time.Minute)
	}
	clock := start.Add(time.Hour)
	sweeper := NewHoldSweeper(store, &HoldSweeperConfig{BatchSize: 2, Clock: func() time.Time { return clock }})

	released, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	released, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
}

type failingLedgers struct {
	repository.LedgerStore
}

func (failingLedgers) ShowtimesWithExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestHoldSweeper_ListFailure(t *testing.T) {
	sweeper := NewHoldSweeper(failingLedgers{}, nil)
	_, err := sweeper.SweepOnce(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestHoldSweeper_StartStop(t *testing.T) {
	store := repository.NewMemoryStore()
	store.AddShowtime(domain.NewSeatLedger("show-1", "screen-1", "theater-1", 100))
	hold(t, store, "show-1", "A1", "order-1", time.Minute)

	clock := start.Add(time.Hour)
	sweeper := NewHoldSweeper(store, &HoldSweeperConfig{
		Interval: 10 * time.Millisecond,
		Clock:    func() time.Time { return clock },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sweeper.Start(ctx))
	assert.Error(t, sweeper.Start(ctx), "second start must fail")

	assert.Eventually(t, func() bool {
		return sweeper.Stats().TotalReleased == 1
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	assert.False(t, sweeper.Stats().Running)
	sweeper.Stop()
}

type recovererFunc func(ctx context.Context, limit int) (int, error)

func (f recovererFunc) RecoverSagas(ctx context.Context, limit int) (int, error) {
	return f(ctx, limit)
}

func TestHoldSweeper_RecoverOnce(t *testing.T) {
	ctx := context.Background()
	var gotLimit int
	sweeper := NewHoldSweeper(repository.NewMemoryStore(), &HoldSweeperConfig{
		BatchSize: 25,
		Recoverer: recovererFunc(func(ctx context.Context, limit int) (int, error) {
			gotLimit = limit
			return 2, nil
		}),
	})

	n, err := sweeper.RecoverOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 25, gotLimit)
	assert.Equal(t, int64(2), sweeper.Stats().SagasRecovered)

	failing := NewHoldSweeper(repository.NewMemoryStore(), &HoldSweeperConfig{
		Recoverer: recovererFunc(func(ctx context.Context, limit int) (int, error) {
			return 0, errors.New("saga log unavailable")
		}),
	})
	_, err = failing.RecoverOnce(ctx)
	assert.ErrorContains(t, err, "saga log unavailable")

	n, err = NewHoldSweeper(repository.NewMemoryStore(), nil).RecoverOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
