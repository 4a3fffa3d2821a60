package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Only canonical labels parse, so Label(ParseSeat(l)) == l for every l accepted.
var seatLabelPattern = regexp.MustCompile(`^([A-Z]+)([1-9][0-9]*)$`)

// maxRowLetters keeps the row number well inside int range.
const maxRowLetters = 4

// Seat is a structured seat coordinate. Rows are numbered from 1 (A=1, B=2,
// ..., Z=26, AA=27) and seats within a row from 1.
type Seat struct {
	Row    int `json:"row"`
	Number int `json:"number"`
}

// ParseSeat converts a label such as "A1" or "AB12" into a Seat. Row letters
// must be upper case and the number must not have leading zeros.
func ParseSeat(label string) (Seat, error) {
	m := seatLabelPattern.FindStringSubmatch(label)
	if m == nil || len(m[1]) > maxRowLetters {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeatLabel, label)
	}

	row := 0
	for _, r := range m[1] {
		row = row*26 + int(r-'A'+1)
	}

	number, err := strconv.Atoi(m[2])
	if err != nil || number < 1 {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeatLabel, label)
	}

	return Seat{Row: row, Number: number}, nil
}

// Label formats the seat in canonical form: upper-case row letters followed by
// the seat number without leading zeros.
func (s Seat) Label() string {
	return rowLetters(s.Row) + strconv.Itoa(s.Number)
}

func (s Seat) String() string { return s.Label() }

func rowLetters(row int) string {
	if row < 1 {
		return "?"
	}
	var buf [8]byte
	i := len(buf)
	for row > 0 {
		row--
		i--
		buf[i] = byte('A' + row%26)
		row /= 26
	}
	return string(buf[i:])
}

// ParseSeats parses every label and rejects a label listed twice.
func ParseSeats(labels []string) ([]Seat, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: seats", ErrMissingField)
	}
	seats := make([]Seat, 0, len(labels))
	seen := make(map[Seat]struct{}, len(labels))
	for _, label := range labels {
		seat, err := ParseSeat(label)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[seat]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSeat, seat)
		}
		seen[seat] = struct{}{}
		seats = append(seats, seat)
	}
	return seats, nil
}

// SortSeats orders seats by row, then number.
func SortSeats(seats []Seat) {
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Row != seats[j].Row {
			return seats[i].Row < seats[j].Row
		}
		return seats[i].Number < seats[j].Number
	})
}

// Labels formats a list of seats.
func Labels(seats []Seat) []string {
	out := make([]string, len(seats))
	for i, s := range seats {
		out[i] = s.Label()
	}
	return out
}

// PricedSeat is a seat with the category and price resolved for it at the
// time of booking.
type PricedSeat struct {
	Seat
	Label      string `json:"label"`
	CategoryID string `json:"category_id"`
	Price      int64  `json:"price"`
}

// SeatsOf returns the coordinates of priced seats.
func SeatsOf(priced []PricedSeat) []Seat {
	seats := make([]Seat, len(priced))
	for i, p := range priced {
		seats[i] = p.Seat
	}
	return seats
}

// Total sums the seat prices.
func Total(priced []PricedSeat) int64 {
	var total int64
	for _, p := range priced {
		total += p.Price
	}
	return total
}
