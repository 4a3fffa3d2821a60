package domain

import "fmt"

// RegularCategory is the category of any seat not listed as special.
const RegularCategory = "regular"

// SeatCategory is a priced class of seats on a screen
type SeatCategory struct {
	ID    string `json:"id"`
	Price int64  `json:"price"`
	Color string `json:"color,omitempty"`
}

// SpecialSeat assigns a non-regular category to one seat
type SpecialSeat struct {
	Row        int    `json:"row"`
	Seat       int    `json:"seat"`
	CategoryID string `json:"category_id"`
}

// Screen is the layout and pricing of an auditorium. It is owned by the
// theater catalogue and only read here.
type Screen struct {
	ID             string         `json:"id"`
	TheaterID      string         `json:"theater_id"`
	Rows           int            `json:"rows"`
	SeatsPerRow    int            `json:"seats_per_row"`
	SeatCategories []SeatCategory `json:"seat_categories"`
	SpecialSeats   []SpecialSeat  `json:"special_seats"`
}

// Capacity returns the number of seats in the layout
func (s *Screen) Capacity() int {
	return s.Rows * s.SeatsPerRow
}

// Contains reports whether the seat exists in the layout
func (s *Screen) Contains(seat Seat) bool {
	return seat.Row >= 1 && seat.Row <= s.Rows &&
		seat.Number >= 1 && seat.Number <= s.SeatsPerRow
}

// PriceOf returns the current price and category of a seat. Seats whose
// category has no price configured cost 0.
func (s *Screen) PriceOf(seat Seat) (int64, string) {
	categoryID := RegularCategory
	for _, sp := range s.SpecialSeats {
		if sp.Row == seat.Row && sp.Seat == seat.Number {
			categoryID = sp.CategoryID
			break
		}
	}
	for _, c := range s.SeatCategories {
		if c.ID == categoryID {
			return c.Price, categoryID
		}
	}
	return 0, categoryID
}

// Resolve parses seat labels, checks them against the layout and prices them.
func (s *Screen) Resolve(labels []string) ([]PricedSeat, error) {
	seats, err := ParseSeats(labels)
	if err != nil {
		return nil, err
	}
	priced := make([]PricedSeat, 0, len(seats))
	for _, seat := range seats {
		if !s.Contains(seat) {
			return nil, fmt.Errorf("%w: %s (screen has %d rows of %d)", ErrSeatOutOfRange, seat, s.Rows, s.SeatsPerRow)
		}
		price, category := s.PriceOf(seat)
		priced = append(priced, PricedSeat{
			Seat:       seat,
			Label:      seat.Label(),
			CategoryID: category,
			Price:      price,
		})
	}
	return priced, nil
}
