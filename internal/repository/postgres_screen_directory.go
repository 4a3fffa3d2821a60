package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
)

// PostgresScreenDirectory reads screen layouts from the screens table
type PostgresScreenDirectory struct {
	db querier
}

// NewPostgresScreenDirectory creates a new PostgresScreenDirectory
func NewPostgresScreenDirectory(db DB) *PostgresScreenDirectory {
	return &PostgresScreenDirectory{db: db}
}

// GetScreen retrieves a screen layout
func (d *PostgresScreenDirectory) GetScreen(ctx context.Context, screenID string) (*domain.Screen, error) {
	var (
		screen     domain.Screen
		categories []byte
		special    []byte
	)
	err := d.db.QueryRow(ctx, `
		SELECT id, theater_id, row_count, seats_per_row, seat_categories, special_seats
		FROM screens
		WHERE id = $1`, screenID).Scan(
		&screen.ID, &screen.TheaterID, &screen.Rows, &screen.SeatsPerRow, &categories, &special)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrScreenNotFound, screenID)
		}
		return nil, fmt.Errorf("failed to get screen: %w", err)
	}
	if err := json.Unmarshal(categories, &screen.SeatCategories); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seat categories: %w", err)
	}
	if err := json.Unmarshal(special, &screen.SpecialSeats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal special seats: %w", err)
	}
	return &screen, nil
}
