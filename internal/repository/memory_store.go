package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
)

// MemoryStore keeps ledgers, bookings and screens in process memory. Each
// showtime has its own mutex; an update works on a copy of the ledger that
// replaces the committed one only when the callback succeeds.
type MemoryStore struct {
	mu        sync.RWMutex
	showtimes map[string]*showtimeEntry
	bookings  map[string]*domain.Booking
	byOrder   map[string]string
	screens   map[string]*domain.Screen
}

type showtimeEntry struct {
	mu     sync.Mutex
	ledger *domain.SeatLedger
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		showtimes: make(map[string]*showtimeEntry),
		bookings:  make(map[string]*domain.Booking),
		byOrder:   make(map[string]string),
		screens:   make(map[string]*domain.Screen),
	}
}

// AddShowtime registers a showtime ledger
func (s *MemoryStore) AddShowtime(ledger *domain.SeatLedger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showtimes[ledger.ShowtimeID] = &showtimeEntry{ledger: ledger.Clone()}
}

// AddScreen registers a screen layout
func (s *MemoryStore) AddScreen(screen *domain.Screen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *screen
	s.screens[screen.ID] = &c
}

func (s *MemoryStore) entry(showtimeID string) (*showtimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.showtimes[showtimeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrShowtimeNotFound, showtimeID)
	}
	return e, nil
}

// Get returns a copy of the committed ledger
func (s *MemoryStore) Get(ctx context.Context, showtimeID string) (*domain.SeatLedger, error) {
	e, err := s.entry(showtimeID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.ledger.Clone(), nil
}

// Update runs fn with exclusive access to the showtime
func (s *MemoryStore) Update(ctx context.Context, showtimeID string, fn func(tx LedgerTx) error) error {
	e, err := s.entry(showtimeID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	working := e.ledger.Clone()
	s.mu.RUnlock()

	tx := &memoryTx{store: s, ledger: working, staged: make(map[string]*domain.Booking)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	working.Version++
	e.ledger = working
	for _, b := range tx.order {
		s.putBooking(tx.staged[b])
	}
	return nil
}

func (s *MemoryStore) putBooking(b *domain.Booking) {
	s.bookings[b.ID] = b.Clone()
	if b.PaymentOrderRef != "" {
		s.byOrder[b.PaymentOrderRef] = b.ID
	}
}

// ShowtimesWithExpiredHolds lists showtimes holding a hold lapsed at now
func (s *MemoryStore) ShowtimesWithExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, e := range s.showtimes {
		next := e.ledger.NextExpiry()
		if !next.IsZero() && !now.Before(next) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// GetByID retrieves a booking by its ID
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	return b.Clone(), nil
}

// GetByOrderRef finds the booking created from an initial payment order
func (s *MemoryStore) GetByOrderRef(ctx context.Context, orderRef string) (*domain.Booking, error) {
	s.mu.RLock()
	id, ok := s.byOrder[orderRef]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrBookingNotFound, orderRef)
	}
	return s.GetByID(ctx, id)
}

// ListByUser lists a user's bookings, newest first
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	return s.list(func(b *domain.Booking) bool { return b.UserID == userID }, limit, offset), nil
}

// ListByTheater lists a theater's bookings, newest first
func (s *MemoryStore) ListByTheater(ctx context.Context, theaterID string, limit, offset int) ([]*domain.Booking, error) {
	return s.list(func(b *domain.Booking) bool { return b.TheaterID == theaterID }, limit, offset), nil
}

func (s *MemoryStore) list(match func(*domain.Booking) bool, limit, offset int) []*domain.Booking {
	s.mu.RLock()
	var out []*domain.Booking
	for _, b := range s.bookings {
		if match(b) {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []*domain.Booking{}
	}
	out = out[offset:]
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetScreen retrieves a screen layout
func (s *MemoryStore) GetScreen(ctx context.Context, screenID string) (*domain.Screen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	screen, ok := s.screens[screenID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrScreenNotFound, screenID)
	}
	c := *screen
	return &c, nil
}

type memoryTx struct {
	store  *MemoryStore
	ledger *domain.SeatLedger
	staged map[string]*domain.Booking
	order  []string
}

func (tx *memoryTx) Ledger() *domain.SeatLedger { return tx.ledger }

func (tx *memoryTx) Booking(ctx context.Context, id string) (*domain.Booking, error) {
	if b, ok := tx.staged[id]; ok {
		return b.Clone(), nil
	}
	b, err := tx.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.ShowtimeID != tx.ledger.ShowtimeID {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	return b, nil
}

func (tx *memoryTx) SaveBooking(b *domain.Booking) {
	if _, ok := tx.staged[b.ID]; !ok {
		tx.order = append(tx.order, b.ID)
	}
	tx.staged[b.ID] = b.Clone()
}
