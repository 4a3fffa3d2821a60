package domain

import (
	"fmt"
	"sort"
	"time"
)

// ShowtimeStatus is the occupancy label of a showtime
type ShowtimeStatus string

const (
	ShowtimeStatusAvailable  ShowtimeStatus = "available"
	ShowtimeStatusHighDemand ShowtimeStatus = "high_demand"
	ShowtimeStatusSoldOut    ShowtimeStatus = "sold_out"
	ShowtimeStatusCancelled  ShowtimeStatus = "cancelled"
)

// IsValid checks if the status is a valid ShowtimeStatus
func (s ShowtimeStatus) IsValid() bool {
	switch s {
	case ShowtimeStatusAvailable, ShowtimeStatusHighDemand, ShowtimeStatusSoldOut, ShowtimeStatusCancelled:
		return true
	}
	return false
}

// Hold is a provisional claim on one seat, tagged by the token of the payment
// order (or modification) that placed it.
type Hold struct {
	Seat       Seat      `json:"seat"`
	Token      string    `json:"token"`
	CategoryID string    `json:"category_id"`
	Price      int64     `json:"price"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the hold lapsed at t. A zero ExpiresAt never lapses.
func (h Hold) Expired(t time.Time) bool {
	return !h.ExpiresAt.IsZero() && !t.Before(h.ExpiresAt)
}

// SeatLedger is the seat inventory of one showtime. Confirmed seats and held
// seats are disjoint, and no seat is held twice.
//
// A SeatLedger is not safe for concurrent use; callers serialise access per
// showtime through the ledger store.
type SeatLedger struct {
	ShowtimeID string
	ScreenID   string
	TheaterID  string
	TotalSeats int
	Cancelled  bool
	// Version increases on every committed change.
	Version int64

	confirmed map[Seat]struct{}
	holds     map[Seat]Hold
}

// NewSeatLedger creates an empty ledger for a showtime
func NewSeatLedger(showtimeID, screenID, theaterID string, totalSeats int) *SeatLedger {
	return &SeatLedger{
		ShowtimeID: showtimeID,
		ScreenID:   screenID,
		TheaterID:  theaterID,
		TotalSeats: totalSeats,
		confirmed:  make(map[Seat]struct{}),
		holds:      make(map[Seat]Hold),
	}
}

// Restore loads persisted seat state into an empty ledger.
func (l *SeatLedger) Restore(confirmed []Seat, holds []Hold) {
	for _, s := range confirmed {
		l.confirmed[s] = struct{}{}
	}
	for _, h := range holds {
		if _, taken := l.confirmed[h.Seat]; taken {
			continue
		}
		l.holds[h.Seat] = h
	}
}

// Clone returns a deep copy
func (l *SeatLedger) Clone() *SeatLedger {
	c := *l
	c.confirmed = make(map[Seat]struct{}, len(l.confirmed))
	for s := range l.confirmed {
		c.confirmed[s] = struct{}{}
	}
	c.holds = make(map[Seat]Hold, len(l.holds))
	for s, h := range l.holds {
		c.holds[s] = h
	}
	return &c
}

// AvailableSeats is TotalSeats minus the confirmed seats. Holds do not count.
func (l *SeatLedger) AvailableSeats() int {
	return l.TotalSeats - len(l.confirmed)
}

// Status derives the occupancy label from the counters
func (l *SeatLedger) Status() ShowtimeStatus {
	if l.Cancelled {
		return ShowtimeStatusCancelled
	}
	available := l.AvailableSeats()
	switch {
	case available <= 0:
		return ShowtimeStatusSoldOut
	case available*5 <= l.TotalSeats:
		return ShowtimeStatusHighDemand
	default:
		return ShowtimeStatusAvailable
	}
}

// IsConfirmed reports whether the seat belongs to a paid booking
func (l *SeatLedger) IsConfirmed(s Seat) bool {
	_, ok := l.confirmed[s]
	return ok
}

// HoldOf returns the hold on a seat, if any
func (l *SeatLedger) HoldOf(s Seat) (Hold, bool) {
	h, ok := l.holds[s]
	return h, ok
}

// Confirmed returns the confirmed seats, sorted
func (l *SeatLedger) Confirmed() []Seat {
	seats := make([]Seat, 0, len(l.confirmed))
	for s := range l.confirmed {
		seats = append(seats, s)
	}
	SortSeats(seats)
	return seats
}

// Holds returns all holds, sorted by seat
func (l *SeatLedger) Holds() []Hold {
	holds := make([]Hold, 0, len(l.holds))
	for _, h := range l.holds {
		holds = append(holds, h)
	}
	sortHolds(holds)
	return holds
}

// HeldBy returns the holds tagged with token, sorted by seat
func (l *SeatLedger) HeldBy(token string) []Hold {
	var holds []Hold
	for _, h := range l.holds {
		if h.Token == token {
			holds = append(holds, h)
		}
	}
	sortHolds(holds)
	return holds
}

// PlaceHold reserves seats under token until expiresAt. Expired holds are
// purged first and never block. Fails without mutation if any seat is
// confirmed or held.
func (l *SeatLedger) PlaceHold(seats []PricedSeat, token string, expiresAt, now time.Time) error {
	if l.Cancelled {
		return ErrShowtimeCancelled
	}
	if token == "" {
		return fmt.Errorf("%w: hold token", ErrMissingField)
	}
	if len(seats) == 0 {
		return fmt.Errorf("%w: seats", ErrMissingField)
	}

	l.PurgeExpired(now)

	seen := make(map[Seat]struct{}, len(seats))
	var taken []Seat
	for _, s := range seats {
		if _, dup := seen[s.Seat]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSeat, s.Seat)
		}
		seen[s.Seat] = struct{}{}
		if l.IsConfirmed(s.Seat) {
			taken = append(taken, s.Seat)
			continue
		}
		if _, held := l.holds[s.Seat]; held {
			taken = append(taken, s.Seat)
		}
	}
	if len(taken) > 0 {
		return conflict(taken)
	}

	for _, s := range seats {
		l.holds[s.Seat] = Hold{
			Seat:       s.Seat,
			Token:      token,
			CategoryID: s.CategoryID,
			Price:      s.Price,
			ExpiresAt:  expiresAt,
		}
	}
	return nil
}

// ReleaseHold drops every hold tagged with token. Unknown tokens are a no-op.
func (l *SeatLedger) ReleaseHold(token string) []Seat {
	var released []Seat
	for s, h := range l.holds {
		if h.Token == token {
			delete(l.holds, s)
			released = append(released, s)
		}
	}
	SortSeats(released)
	return released
}

// PromoteHold moves the seats held under token into the confirmed set. A hold
// that expired but was not yet purged is still promoted.
func (l *SeatLedger) PromoteHold(token string) ([]Hold, error) {
	holds := l.HeldBy(token)
	if len(holds) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrHoldNotFound, token)
	}
	for _, h := range holds {
		delete(l.holds, h.Seat)
		l.confirmed[h.Seat] = struct{}{}
	}
	return holds, nil
}

// RetagHold moves the holds of one token to another.
func (l *SeatLedger) RetagHold(from, to string) error {
	if to == "" {
		return fmt.Errorf("%w: hold token", ErrMissingField)
	}
	found := false
	for s, h := range l.holds {
		if h.Token == from {
			h.Token = to
			l.holds[s] = h
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrHoldNotFound, from)
	}
	return nil
}

// ReleaseConfirmed returns seats to availability. Seats that are not
// confirmed are ignored.
func (l *SeatLedger) ReleaseConfirmed(seats []Seat) {
	for _, s := range seats {
		delete(l.confirmed, s)
	}
}

// SwapConfirmed replaces oldSeats with newSeats in the confirmed set. A seat
// of newSeats that is not in oldSeats must be free, or held under token, in
// which case the hold is consumed. Fails without mutation on conflict.
func (l *SeatLedger) SwapConfirmed(oldSeats, newSeats []Seat, token string, now time.Time) error {
	if len(newSeats) == 0 {
		return fmt.Errorf("%w: seats", ErrMissingField)
	}

	l.PurgeExpired(now)

	owned := make(map[Seat]struct{}, len(oldSeats))
	for _, s := range oldSeats {
		owned[s] = struct{}{}
	}

	seen := make(map[Seat]struct{}, len(newSeats))
	var taken []Seat
	for _, s := range newSeats {
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSeat, s)
		}
		seen[s] = struct{}{}
		if _, mine := owned[s]; mine {
			continue
		}
		if l.IsConfirmed(s) {
			taken = append(taken, s)
			continue
		}
		if h, held := l.holds[s]; held && (token == "" || h.Token != token) {
			taken = append(taken, s)
		}
	}
	if len(taken) > 0 {
		return conflict(taken)
	}

	for _, s := range oldSeats {
		delete(l.confirmed, s)
	}
	for _, s := range newSeats {
		if h, held := l.holds[s]; held && h.Token == token {
			delete(l.holds, s)
		}
		l.confirmed[s] = struct{}{}
	}
	return nil
}

// PurgeExpired drops holds that lapsed at now and returns their tokens.
func (l *SeatLedger) PurgeExpired(now time.Time) []string {
	tokens := make(map[string]struct{})
	for s, h := range l.holds {
		if h.Expired(now) {
			delete(l.holds, s)
			tokens[h.Token] = struct{}{}
		}
	}
	out := make([]string, 0, len(tokens))
	for t := range tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NextExpiry returns the earliest hold expiry, or the zero time.
func (l *SeatLedger) NextExpiry() time.Time {
	var next time.Time
	for _, h := range l.holds {
		if h.ExpiresAt.IsZero() {
			continue
		}
		if next.IsZero() || h.ExpiresAt.Before(next) {
			next = h.ExpiresAt
		}
	}
	return next
}

// LedgerSnapshot is a read-only view of a ledger
type LedgerSnapshot struct {
	ShowtimeID     string         `json:"showtime_id"`
	ScreenID       string         `json:"screen_id"`
	TheaterID      string         `json:"theater_id"`
	TotalSeats     int            `json:"total_seats"`
	AvailableSeats int            `json:"available_seats"`
	Status         ShowtimeStatus `json:"status"`
	Confirmed      []string       `json:"confirmed"`
	Held           []string       `json:"held"`
	Version        int64          `json:"version"`
}

// Snapshot returns a view of the ledger in which holds lapsed at now are left out.
func (l *SeatLedger) Snapshot(now time.Time) LedgerSnapshot {
	held := make([]Seat, 0, len(l.holds))
	for _, h := range l.holds {
		if !h.Expired(now) {
			held = append(held, h.Seat)
		}
	}
	SortSeats(held)
	return LedgerSnapshot{
		ShowtimeID:     l.ShowtimeID,
		ScreenID:       l.ScreenID,
		TheaterID:      l.TheaterID,
		TotalSeats:     l.TotalSeats,
		AvailableSeats: l.AvailableSeats(),
		Status:         l.Status(),
		Confirmed:      Labels(l.Confirmed()),
		Held:           Labels(held),
		Version:        l.Version,
	}
}

func conflict(seats []Seat) error {
	SortSeats(seats)
	return fmt.Errorf("%w: %v", ErrSeatConflict, Labels(seats))
}

func sortHolds(holds []Hold) {
	sort.Slice(holds, func(i, j int) bool {
		if holds[i].Seat.Row != holds[j].Seat.Row {
			return holds[i].Seat.Row < holds[j].Seat.Row
		}
		return holds[i].Seat.Number < holds[j].Seat.Number
	})
}
