package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeat(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		want    Seat
		wantErr error
	}{
		{name: "first seat", label: "A1", want: Seat{Row: 1, Number: 1}},
		{name: "later row", label: "C12", want: Seat{Row: 3, Number: 12}},
		{name: "last single letter", label: "Z3", want: Seat{Row: 26, Number: 3}},
		{name: "two letters", label: "AA1", want: Seat{Row: 27, Number: 1}},
		{name: "lower case", label: "b4", wantErr: ErrInvalidSeatLabel},
		{name: "mixed case", label: "Aa1", wantErr: ErrInvalidSeatLabel},
		{name: "leading zero", label: "A01", wantErr: ErrInvalidSeatLabel},
		{name: "surrounding space", label: " D7 ", wantErr: ErrInvalidSeatLabel},
		{name: "empty", label: "", wantErr: ErrInvalidSeatLabel},
		{name: "number first", label: "1A", wantErr: ErrInvalidSeatLabel},
		{name: "no number", label: "AB", wantErr: ErrInvalidSeatLabel},
		{name: "no row", label: "12", wantErr: ErrInvalidSeatLabel},
		{name: "separator", label: "A-1", wantErr: ErrInvalidSeatLabel},
		{name: "seat zero", label: "A0", wantErr: ErrInvalidSeatLabel},
		{name: "unicode row", label: "Ä1", wantErr: ErrInvalidSeatLabel},
		{name: "too many letters", label: "ABCDE1", wantErr: ErrInvalidSeatLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSeat(tt.label)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeatLabelRoundTrip(t *testing.T) {
	labels := []string{"A1", "B2", "Z26", "AA1", "AZ9", "BA10", "ZZ99", "AAA1", "M150"}
	for _, label := range labels {
		seat, err := ParseSeat(label)
		require.NoError(t, err, label)
		assert.Equal(t, label, seat.Label())
	}

	// anything that is not already canonical is rejected rather than rewritten
	for _, label := range []string{"a1", "A01", "A001", "aA12", "A1 "} {
		_, err := ParseSeat(label)
		assert.ErrorIs(t, err, ErrInvalidSeatLabel, label)
	}

	for row := 1; row <= 800; row++ {
		seat := Seat{Row: row, Number: row%40 + 1}
		parsed, err := ParseSeat(seat.Label())
		require.NoError(t, err)
		assert.Equal(t, seat, parsed)
	}
}

func TestParseSeats(t *testing.T) {
	seats, err := ParseSeats([]string{"A1", "A2"})
	require.NoError(t, err)
	assert.Equal(t, []Seat{{1, 1}, {1, 2}}, seats)

	_, err = ParseSeats([]string{"A1", "A1"})
	assert.ErrorIs(t, err, ErrDuplicateSeat)

	_, err = ParseSeats(nil)
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = ParseSeats([]string{"A1", "??"})
	assert.ErrorIs(t, err, ErrInvalidSeatLabel)
}

func TestScreenResolve(t *testing.T) {
	screen := &Screen{
		ID:          "screen-1",
		Rows:        10,
		SeatsPerRow: 10,
		SeatCategories: []SeatCategory{
			{ID: RegularCategory, Price: 200},
			{ID: "premium", Price: 300},
		},
		SpecialSeats: []SpecialSeat{
			{Row: 2, Seat: 1, CategoryID: "premium"},
			{Row: 3, Seat: 1, CategoryID: "recliner"},
		},
	}

	priced, err := screen.Resolve([]string{"A1", "B1", "C1"})
	require.NoError(t, err)
	require.Len(t, priced, 3)

	assert.Equal(t, PricedSeat{Seat: Seat{1, 1}, Label: "A1", CategoryID: RegularCategory, Price: 200}, priced[0])
	assert.Equal(t, PricedSeat{Seat: Seat{2, 1}, Label: "B1", CategoryID: "premium", Price: 300}, priced[1])
	assert.Equal(t, PricedSeat{Seat: Seat{3, 1}, Label: "C1", CategoryID: "recliner", Price: 0}, priced[2])
	assert.Equal(t, int64(500), Total(priced))

	_, err = screen.Resolve([]string{"K1"})
	assert.ErrorIs(t, err, ErrSeatOutOfRange)

	_, err = screen.Resolve([]string{"A11"})
	assert.ErrorIs(t, err, ErrSeatOutOfRange)

	assert.Equal(t, 100, screen.Capacity())
}
