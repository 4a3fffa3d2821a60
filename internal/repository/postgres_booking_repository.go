package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/pkg/telemetry"
)

const bookingColumns = `id, user_id, theater_id, showtime_id, seats, total_amount, currency,
	payment_order_ref, payment_ref, status, charges, pending_modification,
	booking_date, created_at, updated_at`

// PostgresBookingRepository implements BookingRepository using PostgreSQL with pgxpool
type PostgresBookingRepository struct {
	db querier
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(db DB) *PostgresBookingRepository {
	return &PostgresBookingRepository{db: db}
}

// GetByID retrieves a booking by its ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", id))

	b, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil && !errors.Is(err, domain.ErrBookingNotFound) {
		telemetry.RecordError(span, err)
	}
	return b, err
}

// GetByOrderRef finds the booking created from an initial payment order
func (r *PostgresBookingRepository) GetByOrderRef(ctx context.Context, orderRef string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_order_ref")
	defer span.End()
	span.SetAttributes(attribute.String("order_ref", orderRef))

	return scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_order_ref = $1`, orderRef))
}

// ListByUser lists a user's bookings, newest first
func (r *PostgresBookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_user")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	return r.list(ctx, `user_id = $1`, userID, limit, offset)
}

// ListByTheater lists a theater's bookings, newest first
func (r *PostgresBookingRepository) ListByTheater(ctx context.Context, theaterID string, limit, offset int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_theater")
	defer span.End()
	span.SetAttributes(attribute.String("theater_id", theaterID))

	return r.list(ctx, `theater_id = $1`, theaterID, limit, offset)
}

func (r *PostgresBookingRepository) list(ctx context.Context, where, arg string, limit, offset int) ([]*domain.Booking, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE `+where+`
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3`, arg, ClampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}
	return bookings, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b           domain.Booking
		seats       []byte
		charges     []byte
		pending     []byte
		status      string
		bookingDate *time.Time
	)
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.TheaterID,
		&b.ShowtimeID,
		&seats,
		&b.TotalAmount,
		&b.Currency,
		&b.PaymentOrderRef,
		&b.PaymentRef,
		&status,
		&charges,
		&pending,
		&bookingDate,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}

	b.Status = domain.BookingStatus(status)
	if bookingDate != nil {
		b.BookingDate = *bookingDate
	}
	if err := json.Unmarshal(seats, &b.Seats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seats: %w", err)
	}
	if len(charges) > 0 {
		if err := json.Unmarshal(charges, &b.Charges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal charges: %w", err)
		}
	}
	if len(pending) > 0 && string(pending) != "null" {
		b.Pending = &domain.PendingModification{}
		if err := json.Unmarshal(pending, b.Pending); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending modification: %w", err)
		}
	}
	return &b, nil
}

func upsertBooking(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	seats, err := json.Marshal(b.Seats)
	if err != nil {
		return fmt.Errorf("failed to marshal seats: %w", err)
	}
	charges, err := json.Marshal(b.Charges)
	if err != nil {
		return fmt.Errorf("failed to marshal charges: %w", err)
	}
	var pending []byte
	if b.Pending != nil {
		if pending, err = json.Marshal(b.Pending); err != nil {
			return fmt.Errorf("failed to marshal pending modification: %w", err)
		}
	}
	var bookingDate *time.Time
	if !b.BookingDate.IsZero() {
		bookingDate = &b.BookingDate
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE
		SET seats = EXCLUDED.seats,
			total_amount = EXCLUDED.total_amount,
			payment_ref = EXCLUDED.payment_ref,
			status = EXCLUDED.status,
			charges = EXCLUDED.charges,
			pending_modification = EXCLUDED.pending_modification,
			updated_at = EXCLUDED.updated_at`,
		b.ID,
		b.UserID,
		b.TheaterID,
		b.ShowtimeID,
		seats,
		b.TotalAmount,
		b.Currency,
		b.PaymentOrderRef,
		b.PaymentRef,
		b.Status.String(),
		charges,
		pending,
		bookingDate,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking %s: %w", b.ID, err)
	}
	return nil
}
