package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/pkg/database"
	"github.com/Hennamaria07/movieBookingBackend/pkg/telemetry"
)

// DB is the subset of *pgxpool.Pool used by the PostgreSQL repositories
type DB interface {
	database.TxBeginner
	querier
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	seatStateConfirmed = "confirmed"
	seatStateHeld      = "held"
)

// PostgresLedgerStore keeps ledgers in the showtimes and showtime_seats
// tables. Update locks the showtime row with SELECT ... FOR UPDATE, so writers
// of one showtime queue on that row while other showtimes proceed.
type PostgresLedgerStore struct {
	db DB
}

// NewPostgresLedgerStore creates a new PostgresLedgerStore
func NewPostgresLedgerStore(db DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

// Get returns the committed ledger without locking it
func (s *PostgresLedgerStore) Get(ctx context.Context, showtimeID string) (*domain.SeatLedger, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.get")
	defer span.End()
	span.SetAttributes(attribute.String("showtime_id", showtimeID))

	ledger, err := loadLedger(ctx, s.db, showtimeID, false)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return ledger, nil
}

// Update runs fn in a transaction holding the showtime row lock. Seat rows
// that changed, the showtime summary columns and staged bookings are written
// in the same transaction.
func (s *PostgresLedgerStore) Update(ctx context.Context, showtimeID string, fn func(tx LedgerTx) error) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ledger.update")
	defer span.End()
	span.SetAttributes(attribute.String("showtime_id", showtimeID))

	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		ledger, err := loadLedger(ctx, tx, showtimeID, true)
		if err != nil {
			return err
		}
		before := ledger.Clone()

		ltx := &postgresTx{tx: tx, ledger: ledger, staged: make(map[string]*domain.Booking)}
		if err := fn(ltx); err != nil {
			return err
		}

		if err := writeSeats(ctx, tx, before, ledger); err != nil {
			return err
		}
		if err := writeSummary(ctx, tx, ledger); err != nil {
			return err
		}
		for _, id := range ltx.order {
			if err := upsertBooking(ctx, tx, ltx.staged[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !isDomainError(err) {
		telemetry.RecordError(span, err)
	}
	return err
}

// ShowtimesWithExpiredHolds lists showtimes whose earliest hold lapsed at now
func (s *PostgresLedgerStore) ShowtimesWithExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = MaxListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id FROM showtimes
		WHERE next_hold_expiry IS NOT NULL AND next_hold_expiry <= $1
		ORDER BY next_hold_expiry ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired holds: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func loadLedger(ctx context.Context, q querier, showtimeID string, forUpdate bool) (*domain.SeatLedger, error) {
	query := `
		SELECT id, screen_id, theater_id, total_seats, cancelled, version
		FROM showtimes
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		id, screenID, theaterID string
		total                   int
		cancelled               bool
		version                 int64
	)
	err := q.QueryRow(ctx, query, showtimeID).Scan(&id, &screenID, &theaterID, &total, &cancelled, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrShowtimeNotFound, showtimeID)
		}
		return nil, fmt.Errorf("failed to load showtime: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT seat_row, seat_number, state, hold_token, category_id, price, expires_at
		FROM showtime_seats
		WHERE showtime_id = $1`, showtimeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seats: %w", err)
	}
	defer rows.Close()

	var (
		confirmed []domain.Seat
		holds     []domain.Hold
	)
	for rows.Next() {
		var (
			seat       domain.Seat
			state      string
			token      *string
			categoryID *string
			price      *int64
			expiresAt  *time.Time
		)
		if err := rows.Scan(&seat.Row, &seat.Number, &state, &token, &categoryID, &price, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		if state == seatStateConfirmed {
			confirmed = append(confirmed, seat)
			continue
		}
		h := domain.Hold{Seat: seat}
		if token != nil {
			h.Token = *token
		}
		if categoryID != nil {
			h.CategoryID = *categoryID
		}
		if price != nil {
			h.Price = *price
		}
		if expiresAt != nil {
			h.ExpiresAt = *expiresAt
		}
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seats: %w", err)
	}

	ledger := domain.NewSeatLedger(id, screenID, theaterID, total)
	ledger.Cancelled = cancelled
	ledger.Version = version
	ledger.Restore(confirmed, holds)
	return ledger, nil
}

type seatRow struct {
	state string
	hold  domain.Hold
}

func seatRows(l *domain.SeatLedger) map[domain.Seat]seatRow {
	out := make(map[domain.Seat]seatRow)
	for _, s := range l.Confirmed() {
		out[s] = seatRow{state: seatStateConfirmed}
	}
	for _, h := range l.Holds() {
		out[h.Seat] = seatRow{state: seatStateHeld, hold: h}
	}
	return out
}

// writeSeats sends only the seat rows that differ between before and after.
func writeSeats(ctx context.Context, tx pgx.Tx, before, after *domain.SeatLedger) error {
	old := seatRows(before)
	cur := seatRows(after)

	batch := &pgx.Batch{}
	for seat := range old {
		if _, still := cur[seat]; !still {
			batch.Queue(`
				DELETE FROM showtime_seats
				WHERE showtime_id = $1 AND seat_row = $2 AND seat_number = $3`,
				after.ShowtimeID, seat.Row, seat.Number)
		}
	}
	for seat, row := range cur {
		if prev, ok := old[seat]; ok && prev == row {
			continue
		}
		var (
			token, categoryID *string
			price             *int64
			expiresAt         *time.Time
		)
		if row.state == seatStateHeld {
			token = &row.hold.Token
			categoryID = &row.hold.CategoryID
			price = &row.hold.Price
			if !row.hold.ExpiresAt.IsZero() {
				expiresAt = &row.hold.ExpiresAt
			}
		}
		batch.Queue(`
			INSERT INTO showtime_seats (showtime_id, seat_row, seat_number, state, hold_token, category_id, price, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (showtime_id, seat_row, seat_number) DO UPDATE
			SET state = EXCLUDED.state,
				hold_token = EXCLUDED.hold_token,
				category_id = EXCLUDED.category_id,
				price = EXCLUDED.price,
				expires_at = EXCLUDED.expires_at`,
			after.ShowtimeID, seat.Row, seat.Number, row.state, token, categoryID, price, expiresAt)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write seats: %w", err)
	}
	return nil
}

func writeSummary(ctx context.Context, tx pgx.Tx, l *domain.SeatLedger) error {
	var nextExpiry *time.Time
	if next := l.NextExpiry(); !next.IsZero() {
		nextExpiry = &next
	}
	_, err := tx.Exec(ctx, `
		UPDATE showtimes
		SET available_seats = $2,
			status = $3,
			next_hold_expiry = $4,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1`,
		l.ShowtimeID, l.AvailableSeats(), string(l.Status()), nextExpiry)
	if err != nil {
		return fmt.Errorf("failed to update showtime summary: %w", err)
	}
	l.Version++
	return nil
}

type postgresTx struct {
	tx     pgx.Tx
	ledger *domain.SeatLedger
	staged map[string]*domain.Booking
	order  []string
}

func (t *postgresTx) Ledger() *domain.SeatLedger { return t.ledger }

func (t *postgresTx) Booking(ctx context.Context, id string) (*domain.Booking, error) {
	if b, ok := t.staged[id]; ok {
		return b.Clone(), nil
	}
	row := t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND showtime_id = $2`,
		id, t.ledger.ShowtimeID)
	return scanBooking(row)
}

func (t *postgresTx) SaveBooking(b *domain.Booking) {
	if _, ok := t.staged[b.ID]; !ok {
		t.order = append(t.order, b.ID)
	}
	t.staged[b.ID] = b.Clone()
}

func isDomainError(err error) bool {
	return domain.IsValidationError(err) ||
		domain.IsConflictError(err) ||
		domain.IsNotFoundError(err) ||
		domain.IsStateError(err) ||
		domain.IsTransientError(err) ||
		errors.Is(err, domain.ErrPaymentVerificationFailed)
}
