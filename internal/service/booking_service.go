package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/internal/dto"
	"github.com/Hennamaria07/movieBookingBackend/internal/gateway"
	"github.com/Hennamaria07/movieBookingBackend/internal/metrics"
	"github.com/Hennamaria07/movieBookingBackend/internal/repository"
	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
	"github.com/Hennamaria07/movieBookingBackend/pkg/saga"
	"github.com/Hennamaria07/movieBookingBackend/pkg/telemetry"
)

// BookingService coordinates the seat ledger, the booking records and the
// payment gateway.
type BookingService interface {
	// CreateBooking holds seats and opens a payment order for them
	CreateBooking(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.PaymentOrderResponse, error)

	// ConfirmBooking turns a paid order into a booking
	ConfirmBooking(ctx context.Context, userID string, req *dto.ConfirmBookingRequest) (*dto.BookingResponse, error)

	// CancelBooking refunds a paid booking and frees its seats
	CancelBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)

	// ModifySeats moves a paid booking to other seats of the same showtime
	ModifySeats(ctx context.Context, bookingID, userID string, req *dto.ModifySeatsRequest) (*dto.ModifyBookingResponse, error)

	// ConfirmModification settles the additional payment of a seat change
	ConfirmModification(ctx context.Context, bookingID, userID string, req *dto.ConfirmModifyRequest) (*dto.BookingResponse, error)

	// GetBooking retrieves a booking of the user
	GetBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)

	// ListUserBookings lists the bookings of a user, newest first
	ListUserBookings(ctx context.Context, userID string, limit, offset int) (*dto.BookingListResponse, error)

	// ListTheaterBookings lists the bookings made at a theater, newest first
	ListTheaterBookings(ctx context.Context, theaterID string, limit, offset int) (*dto.BookingListResponse, error)

	// ShowtimeSeats returns the occupancy of a showtime
	ShowtimeSeats(ctx context.Context, showtimeID string) (*dto.SeatMapResponse, error)

	// RecoverSagas finishes compensations an earlier attempt left undone
	RecoverSagas(ctx context.Context, limit int) (int, error)
}

// bookingNamespace derives booking ids from payment order ids, so every
// confirmation of one order names the same booking.
var bookingNamespace = uuid.MustParse("6f1c8d2e-4b7a-4c1e-9a53-2d0f5e8b7c41")

// errNoChange rolls back a ledger update that found nothing to do.
var errNoChange = errors.New("no change")

// bookingService implements BookingService
type bookingService struct {
	ledgers   repository.LedgerStore
	bookings  repository.BookingRepository
	screens   repository.ScreenDirectory
	gateway   gateway.Gateway
	publisher EventPublisher
	sagas     *saga.Orchestrator
	holdTTL   time.Duration
	currency  string
	now       func() time.Time

	createSaga *saga.Definition[createData]
	modifySaga *saga.Definition[modifyData]
}

// BookingServiceConfig contains configuration for booking service
type BookingServiceConfig struct {
	HoldTTL  time.Duration
	Currency string
	// Clock overrides time.Now
	Clock func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(
	ledgers repository.LedgerStore,
	bookings repository.BookingRepository,
	screens repository.ScreenDirectory,
	gw gateway.Gateway,
	publisher EventPublisher,
	orchestrator *saga.Orchestrator,
	cfg *BookingServiceConfig,
) BookingService {
	ttl := 10 * time.Minute
	currency := "INR"
	clock := time.Now
	if cfg != nil {
		if cfg.HoldTTL > 0 {
			ttl = cfg.HoldTTL
		}
		if cfg.Currency != "" {
			currency = strings.ToUpper(cfg.Currency)
		}
		if cfg.Clock != nil {
			clock = cfg.Clock
		}
	}
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	if orchestrator == nil {
		orchestrator = saga.NewOrchestrator(&saga.OrchestratorConfig{Logger: logger.Get().KeyValue()})
	}

	s := &bookingService{
		ledgers:   ledgers,
		bookings:  bookings,
		screens:   screens,
		gateway:   gw,
		publisher: publisher,
		sagas:     orchestrator,
		holdTTL:   ttl,
		currency:  currency,
		now:       func() time.Time { return clock().UTC() },
	}
	s.createSaga = s.newCreateSaga()
	s.modifySaga = s.newModifySaga()
	return s
}

// createData is the state of one create saga
type createData struct {
	ShowtimeID  string              `json:"showtime_id"`
	TheaterID   string              `json:"theater_id"`
	UserID      string              `json:"user_id"`
	Seats       []domain.PricedSeat `json:"seats"`
	Amount      int64               `json:"amount"`
	HoldToken   string              `json:"hold_token"`
	ExpiresAt   time.Time           `json:"expires_at"`
	BookingDate time.Time           `json:"booking_date"`
	Order       *gateway.Order      `json:"order,omitempty"`
}

// The hold is placed under a provisional token and re-keyed to the order id
// once the gateway has issued one.
func (s *bookingService) newCreateSaga() *saga.Definition[createData] {
	return saga.NewDefinition[createData]("create_booking").
		AddStep(&saga.Step[createData]{
			Name: "place_hold",
			Execute: func(ctx context.Context, d *createData) error {
				return s.ledgers.Update(ctx, d.ShowtimeID, func(tx repository.LedgerTx) error {
					return tx.Ledger().PlaceHold(d.Seats, d.HoldToken, d.ExpiresAt, s.now())
				})
			},
			Compensate: func(ctx context.Context, d *createData) error {
				return s.ledgers.Update(ctx, d.ShowtimeID, func(tx repository.LedgerTx) error {
					tx.Ledger().ReleaseHold(d.HoldToken)
					return nil
				})
			},
			Retries: 3,
		}).
		AddStep(&saga.Step[createData]{
			Name: "create_order",
			Execute: func(ctx context.Context, d *createData) error {
				order, err := s.gateway.CreateOrder(ctx, d.Amount, s.currency, map[string]string{
					gateway.MetaKind:        gateway.KindBooking,
					gateway.MetaShowtimeID:  d.ShowtimeID,
					gateway.MetaUserID:      d.UserID,
					gateway.MetaTheaterID:   d.TheaterID,
					gateway.MetaBookingDate: d.BookingDate.Format(time.RFC3339),
				})
				if err != nil {
					return s.gatewayFailure(ctx, "create_order", err)
				}
				d.Order = order
				return nil
			},
		}).
		AddStep(&saga.Step[createData]{
			Name: "tag_hold",
			Execute: func(ctx context.Context, d *createData) error {
				return s.ledgers.Update(ctx, d.ShowtimeID, func(tx repository.LedgerTx) error {
					return tx.Ledger().RetagHold(d.HoldToken, d.Order.Ref)
				})
			},
		})
}

// CreateBooking holds seats and opens a payment order for them
func (s *bookingService) CreateBooking(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.PaymentOrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.create")
	defer span.End()
	defer s.observe(ctx, "create", time.Now())

	if req == nil || strings.TrimSpace(req.ShowtimeID) == "" {
		return nil, fail(span, fmt.Errorf("%w: showtime id", domain.ErrMissingField))
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fail(span, fmt.Errorf("%w: user id", domain.ErrMissingField))
	}
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("showtime_id", req.ShowtimeID),
		attribute.Int("seats", len(req.Seats)),
	)

	ledger, err := s.ledgers.Get(ctx, req.ShowtimeID)
	if err != nil {
		return nil, fail(span, err)
	}
	if ledger.Cancelled {
		return nil, fail(span, domain.ErrShowtimeCancelled)
	}
	screen, err := s.screens.GetScreen(ctx, ledger.ScreenID)
	if err != nil {
		return nil, fail(span, err)
	}
	priced, err := screen.Resolve(req.Seats)
	if err != nil {
		return nil, fail(span, err)
	}
	amount := domain.Total(priced)
	if amount <= 0 {
		return nil, fail(span, fmt.Errorf("%w: selected seats have no price", domain.ErrNotPayable))
	}

	now := s.now()
	data := &createData{
		ShowtimeID:  req.ShowtimeID,
		TheaterID:   ledger.TheaterID,
		UserID:      userID,
		Seats:       priced,
		Amount:      amount,
		HoldToken:   "hold-" + uuid.NewString(),
		ExpiresAt:   now.Add(s.holdTTL),
		BookingDate: now,
	}
	if _, err := s.createSaga.Run(ctx, s.sagas, data); err != nil {
		err = s.sagaFailure(ctx, err)
		if domain.IsConflictError(err) {
			metrics.RecordConflict(ctx, req.ShowtimeID, "create")
		}
		return nil, fail(span, err)
	}

	metrics.RecordHolds(ctx, req.ShowtimeID, len(priced))
	logger.Get().Info("seats held for payment",
		zap.String("showtime_id", req.ShowtimeID),
		zap.String("user_id", userID),
		zap.String("order_id", data.Order.Ref),
		zap.Strings("seats", domain.Labels(domain.SeatsOf(priced))),
		zap.Int64("amount", amount),
	)

	expires := data.ExpiresAt
	return &dto.PaymentOrderResponse{
		OrderRef:     data.Order.Ref,
		Amount:       amount,
		Currency:     s.currency,
		Gateway:      s.gateway.Name(),
		ClientSecret: data.Order.ClientSecret,
		ExpiresAt:    &expires,
		Seats:        dto.SeatsFromDomain(priced),
	}, nil
}

// ConfirmBooking turns a paid order into a booking. Confirming an order that
// already produced a booking returns that booking.
func (s *bookingService) ConfirmBooking(ctx context.Context, userID string, req *dto.ConfirmBookingRequest) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.confirm")
	defer span.End()
	defer s.observe(ctx, "confirm", time.Now())

	if req == nil {
		return nil, fail(span, fmt.Errorf("%w: payment proof", domain.ErrMissingField))
	}
	if err := validateProof(req.PaymentProof); err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("order_id", req.OrderRef), attribute.String("user_id", userID))

	order, err := s.gateway.FetchOrder(ctx, req.OrderRef)
	if err != nil {
		return nil, fail(span, s.gatewayFailure(ctx, "fetch_order", err))
	}
	if order.Metadata[gateway.MetaKind] != gateway.KindBooking || order.Metadata[gateway.MetaUserID] != userID {
		return nil, fail(span, fmt.Errorf("%w: %s is not a booking order of this user", domain.ErrOrderMismatch, req.OrderRef))
	}
	showtimeID := order.Metadata[gateway.MetaShowtimeID]

	if existing, err := s.bookings.GetByOrderRef(ctx, req.OrderRef); err == nil {
		return dto.FromDomain(existing), nil
	} else if !errors.Is(err, domain.ErrBookingNotFound) {
		return nil, fail(span, err)
	}

	ok, err := s.gateway.VerifySignature(ctx, req.OrderRef, req.PaymentRef, req.Signature)
	if err != nil {
		return nil, fail(span, s.gatewayFailure(ctx, "verify_signature", err))
	}
	if !ok {
		metrics.RecordVerificationFailure(ctx, "confirm")
		err := s.ledgers.Update(ctx, showtimeID, func(tx repository.LedgerTx) error {
			tx.Ledger().ReleaseHold(req.OrderRef)
			return nil
		})
		if err != nil {
			logger.Get().Error("failed to release hold after verification failure",
				zap.String("order_id", req.OrderRef), zap.Error(err))
		}
		return nil, fail(span, domain.ErrPaymentVerificationFailed)
	}

	now := s.now()
	bookingID := uuid.NewSHA1(bookingNamespace, []byte(req.OrderRef)).String()
	var booking *domain.Booking
	err = s.ledgers.Update(ctx, showtimeID, func(tx repository.LedgerTx) error {
		if existing, err := tx.Booking(ctx, bookingID); err == nil {
			booking = existing
			return errNoChange
		} else if !errors.Is(err, domain.ErrBookingNotFound) {
			return err
		}

		holds, err := tx.Ledger().PromoteHold(req.OrderRef)
		if err != nil {
			return err
		}
		booking = bookingFromHolds(bookingID, order, holds, now)
		booking.PaymentRef = req.PaymentRef
		booking.Charges = []domain.Charge{{
			OrderRef:   req.OrderRef,
			PaymentRef: req.PaymentRef,
			Amount:     order.Amount,
			CapturedAt: now,
		}}
		tx.SaveBooking(booking)
		return nil
	})
	switch {
	case errors.Is(err, errNoChange):
		return dto.FromDomain(booking), nil
	case errors.Is(err, domain.ErrHoldNotFound):
		return nil, fail(span, s.refundSweptHold(ctx, order, req.PaymentRef))
	case err != nil:
		return nil, fail(span, err)
	}

	if booking.TotalAmount != order.Amount {
		logger.Get().Warn("held seat prices differ from the paid amount",
			zap.String("booking_id", booking.ID),
			zap.Int64("total", booking.TotalAmount),
			zap.Int64("paid", order.Amount),
		)
	}

	metrics.RecordConfirmation(ctx, showtimeID)
	s.publish(ctx, domain.BookingEventConfirmed, booking, 0)
	logger.Get().Info("booking confirmed",
		zap.String("booking_id", booking.ID),
		zap.String("order_id", req.OrderRef),
		zap.String("payment_id", req.PaymentRef),
	)
	return dto.FromDomain(booking), nil
}

// refundSweptHold returns the money of a payment whose hold expired and was
// released before the confirmation arrived.
func (s *bookingService) refundSweptHold(ctx context.Context, order *gateway.Order, paymentRef string) error {
	ctx = context.WithoutCancel(ctx)
	refundRef, err := s.gateway.Refund(ctx, paymentRef, order.Amount)
	if err != nil {
		logger.Get().Error("failed to refund payment for an expired hold",
			zap.String("order_id", order.Ref),
			zap.String("payment_id", paymentRef),
			zap.Error(err),
		)
		return fmt.Errorf("%w: refund of %s failed: %v", domain.ErrHoldExpired, paymentRef, err)
	}
	logger.Get().Warn("hold expired before confirmation, payment refunded",
		zap.String("order_id", order.Ref),
		zap.String("payment_id", paymentRef),
		zap.String("refund_id", refundRef),
	)
	return fmt.Errorf("%w: payment %s refunded", domain.ErrHoldExpired, paymentRef)
}

func bookingFromHolds(id string, order *gateway.Order, holds []domain.Hold, now time.Time) *domain.Booking {
	seats := make([]domain.PricedSeat, len(holds))
	for i, h := range holds {
		seats[i] = domain.PricedSeat{Seat: h.Seat, Label: h.Seat.Label(), CategoryID: h.CategoryID, Price: h.Price}
	}
	bookingDate, err := time.Parse(time.RFC3339, order.Metadata[gateway.MetaBookingDate])
	if err != nil {
		bookingDate = now
	}
	return &domain.Booking{
		ID:              id,
		UserID:          order.Metadata[gateway.MetaUserID],
		TheaterID:       order.Metadata[gateway.MetaTheaterID],
		ShowtimeID:      order.Metadata[gateway.MetaShowtimeID],
		Seats:           seats,
		TotalAmount:     domain.Total(seats),
		Currency:        order.Currency,
		PaymentOrderRef: order.Ref,
		Status:          domain.BookingStatusPaid,
		BookingDate:     bookingDate.UTC(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CancelBooking refunds every outstanding charge and then frees the seats.
// Refund progress is committed per charge, so a cancel interrupted by the
// gateway can be retried without refunding twice.
func (s *bookingService) CancelBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.cancel")
	defer span.End()
	defer s.observe(ctx, "cancel", time.Now())
	span.SetAttributes(attribute.String("booking_id", bookingID))

	b, err := s.ownedBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, fail(span, err)
	}
	if !b.IsPaid() {
		return nil, fail(span, fmt.Errorf("%w: booking is %s", domain.ErrNotPayable, b.Status))
	}

	for i, ch := range b.Charges {
		if ch.Refundable() == 0 {
			continue
		}
		payment, err := s.gateway.FetchPayment(ctx, ch.PaymentRef)
		if err != nil {
			return nil, fail(span, s.gatewayFailure(ctx, "fetch_payment", err))
		}

		var refunded int64
		switch {
		case payment.Status == gateway.PaymentStatusRefunded:
			refunded = ch.Refundable()
		case payment.Status != gateway.PaymentStatusCaptured:
			return nil, fail(span, fmt.Errorf("%w: payment %s is %s", domain.ErrPaymentNotCaptured, ch.PaymentRef, payment.Status))
		default:
			refunded = min(ch.Refundable(), payment.Refundable())
			if refunded > 0 {
				if _, err := s.gateway.Refund(ctx, ch.PaymentRef, refunded); err != nil {
					return nil, fail(span, s.gatewayFailure(ctx, "refund", err))
				}
			}
		}
		if refunded == 0 {
			continue
		}

		err = s.ledgers.Update(ctx, b.ShowtimeID, func(tx repository.LedgerTx) error {
			bk, err := tx.Booking(ctx, b.ID)
			if err != nil {
				return err
			}
			if i >= len(bk.Charges) || bk.Charges[i].PaymentRef != ch.PaymentRef {
				return fmt.Errorf("%w: charges changed during cancellation", domain.ErrNotPayable)
			}
			bk.Charges[i].Refunded += refunded
			bk.UpdatedAt = s.now()
			tx.SaveBooking(bk)
			return nil
		})
		if err != nil {
			logger.Get().Error("refund issued but not recorded",
				zap.String("booking_id", b.ID),
				zap.String("payment_id", ch.PaymentRef),
				zap.Int64("amount", refunded),
				zap.Error(err),
			)
			return nil, fail(span, err)
		}
	}

	var cancelled *domain.Booking
	err = s.ledgers.Update(ctx, b.ShowtimeID, func(tx repository.LedgerTx) error {
		bk, err := tx.Booking(ctx, b.ID)
		if err != nil {
			return err
		}
		if !bk.IsPaid() {
			return fmt.Errorf("%w: booking is %s", domain.ErrNotPayable, bk.Status)
		}
		tx.Ledger().ReleaseConfirmed(bk.SeatList())
		bk.Status = domain.BookingStatusRefunded
		bk.UpdatedAt = s.now()
		tx.SaveBooking(bk)
		cancelled = bk
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	metrics.RecordCancellation(ctx, b.ShowtimeID)
	s.publish(ctx, domain.BookingEventCancelled, cancelled, 0)
	logger.Get().Info("booking cancelled",
		zap.String("booking_id", b.ID),
		zap.Strings("seats", cancelled.SeatLabels()),
	)
	return dto.FromDomain(cancelled), nil
}

// modifyData is the state of one modify saga
type modifyData struct {
	BookingID  string              `json:"booking_id"`
	ShowtimeID string              `json:"showtime_id"`
	Before     *domain.Booking     `json:"before"`
	NewSeats   []domain.PricedSeat `json:"new_seats"`
	Delta      int64               `json:"delta"`
	Guard      string              `json:"guard"`
	Order      *gateway.Order      `json:"order,omitempty"`
	Refunds    []refundRecord      `json:"refunds,omitempty"`
	RefundDue  int64               `json:"refund_due,omitempty"`
}

type refundRecord struct {
	Charge    int    `json:"charge"`
	Amount    int64  `json:"amount"`
	RefundRef string `json:"refund_ref"`
}

// The swap commits first. Seats given up are kept under a guard hold until
// the gateway step settles, so a compensation can always take them back.
// Once any refund has been paid out the saga rolls forward instead: the new
// seats stay and the unpaid remainder is settled by the next seat change.
func (s *bookingService) newModifySaga() *saga.Definition[modifyData] {
	return saga.NewDefinition[modifyData]("modify_booking").
		AddStep(&saga.Step[modifyData]{
			Name: "swap_seats",
			Execute: func(ctx context.Context, d *modifyData) error {
				return s.ledgers.Update(ctx, d.ShowtimeID, func(tx repository.LedgerTx) error {
					bk, err := tx.Booking(ctx, d.BookingID)
					if err != nil {
						return err
					}
					if err := unchanged(bk, d.Before); err != nil {
						return err
					}
					now := s.now()
					ledger := tx.Ledger()
					if err := ledger.SwapConfirmed(d.Before.SeatList(), domain.SeatsOf(d.NewSeats), "", now); err != nil {
						return err
					}
					if released := releasedSeats(d.Before.Seats, d.NewSeats); len(released) > 0 {
						if err := ledger.PlaceHold(released, d.Guard, now.Add(s.holdTTL), now); err != nil {
							return err
						}
					}
					bk.Seats = d.NewSeats
					bk.TotalAmount = domain.Total(d.NewSeats)
					bk.UpdatedAt = now
					if d.Delta > 0 {
						bk.Status = domain.BookingStatusPending
						bk.Pending = &domain.PendingModification{Amount: d.Delta}
					}
					tx.SaveBooking(bk)
					return nil
				})
			},
			Compensate: func(ctx context.Context, d *modifyData) error {
				return s.ledgers.Update(ctx, d.ShowtimeID, func(tx repository.LedgerTx) error {
					ledger := tx.Ledger()
					if err := ledger.SwapConfirmed(domain.SeatsOf(d.NewSeats), d.Before.SeatList(), d.Guard, s.now()); err != nil {
						return err
					}
					ledger.ReleaseHold(d.Guard)
					restored := d.Before.Clone()
					applyRefunds(restored, d.Refunds)
					restored.UpdatedAt = s.now()
					tx.SaveBooking(restored)
					return nil
				})
			},
			Retries: 3,
		}).
		AddStep(&saga.Step[modifyData]{
			Name: "settle_payment",
			Execute: func(ctx context.Context, d *modifyData) error {
				if d.Delta > 0 {
					order, err := s.gateway.CreateOrder(ctx, d.Delta, s.currency, map[string]string{
						gateway.MetaKind:       gateway.KindModification,
						gateway.MetaBookingID:  d.BookingID,
						gateway.MetaShowtimeID: d.ShowtimeID,
						gateway.MetaUserID:     d.Before.UserID,
					})
					if err != nil {
						return s.gatewayFailure(ctx, "create_order", err)
					}
					d.Order = order
					return nil
				}
				err := s.refundCharges(ctx, d.Before.Charges, -d.Delta, &d.Refunds)
				if err != nil && len(d.Refunds) > 0 {
					d.RefundDue = -d.Delta - refundedTotal(d.Refunds)
					logger.Get().Warn("seat change refund incomplete, keeping new seats",
						zap.String("booking_id", d.BookingID),
						zap.Int64("refund_due", d.RefundDue),
						zap.Error(err),
					)
					return nil
				}
				return err
			},
		}).
		AddStep(&saga.Step[modifyData]{
			Name: "finalise",
			Execute: func(ctx context.Context, d *modifyData) error {
				return s.ledgers.Update(ctx, d.ShowtimeID, func(tx repository.LedgerTx) error {
					tx.Ledger().ReleaseHold(d.Guard)
					bk, err := tx.Booking(ctx, d.BookingID)
					if err != nil {
						return err
					}
					if d.Order != nil && bk.Pending != nil {
						bk.Pending.OrderRef = d.Order.Ref
					}
					applyRefunds(bk, d.Refunds)
					bk.UpdatedAt = s.now()
					tx.SaveBooking(bk)
					return nil
				})
			},
		})
}

// RecoverSagas rolls back create and modify sagas whose compensation failed
// or whose process died mid-run, and returns how many were rolled back. An
// instance that still cannot be compensated is logged and left for the next
// pass.
func (s *bookingService) RecoverSagas(ctx context.Context, limit int) (int, error) {
	store := s.sagas.Store()
	instances, err := store.GetPendingCompensations(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending compensations: %w", err)
	}
	running, err := store.GetByStatus(ctx, saga.StatusRunning, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list running sagas: %w", err)
	}
	instances = append(instances, running...)

	recovered := 0
	for _, instance := range instances {
		var ok bool
		switch instance.DefinitionID {
		case s.createSaga.Name:
			ok, err = s.createSaga.Recover(ctx, s.sagas, instance)
		case s.modifySaga.Name:
			ok, err = s.modifySaga.Recover(ctx, s.sagas, instance)
		default:
			continue
		}
		if err != nil {
			logger.Get().Warn("saga recovery failed",
				zap.String("saga_id", instance.ID),
				zap.String("definition", instance.DefinitionID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			recovered++
			metrics.RecordCompensation(ctx, instance.DefinitionID)
		}
	}
	return recovered, nil
}

// refundCharges refunds amount from the most recent charges first
func (s *bookingService) refundCharges(ctx context.Context, charges []domain.Charge, amount int64, records *[]refundRecord) error {
	remaining := amount
	for i := len(charges) - 1; i >= 0 && remaining > 0; i-- {
		part := min(remaining, charges[i].Refundable())
		if part == 0 {
			continue
		}
		refundRef, err := s.gateway.Refund(ctx, charges[i].PaymentRef, part)
		if err != nil {
			return s.gatewayFailure(ctx, "refund", err)
		}
		*records = append(*records, refundRecord{Charge: i, Amount: part, RefundRef: refundRef})
		remaining -= part
	}
	if remaining > 0 {
		return fmt.Errorf("%w: %d could not be refunded", domain.ErrRefundRejected, remaining)
	}
	return nil
}

// ModifySeats moves a paid booking to other seats. Prices are resolved at
// the current category prices. A more expensive selection leaves the booking
// pending until the returned order is paid and confirmed; a cheaper one is
// refunded immediately.
func (s *bookingService) ModifySeats(ctx context.Context, bookingID, userID string, req *dto.ModifySeatsRequest) (*dto.ModifyBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.modify")
	defer span.End()
	defer s.observe(ctx, "modify", time.Now())
	span.SetAttributes(attribute.String("booking_id", bookingID))

	if req == nil {
		return nil, fail(span, fmt.Errorf("%w: seats", domain.ErrMissingField))
	}
	b, err := s.ownedBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, fail(span, err)
	}
	if !b.IsPaid() {
		return nil, fail(span, fmt.Errorf("%w: booking is %s", domain.ErrNotPayable, b.Status))
	}

	ledger, err := s.ledgers.Get(ctx, b.ShowtimeID)
	if err != nil {
		return nil, fail(span, err)
	}
	screen, err := s.screens.GetScreen(ctx, ledger.ScreenID)
	if err != nil {
		return nil, fail(span, err)
	}
	newSeats, err := screen.Resolve(req.Seats)
	if err != nil {
		return nil, fail(span, err)
	}
	// Measured against the money still held, so a refund left owing by an
	// earlier change is paid out here.
	delta := domain.Total(newSeats) - b.Refundable()
	span.SetAttributes(attribute.Int64("delta", delta))

	var (
		modified *domain.Booking
		resp     = &dto.ModifyBookingResponse{Delta: delta}
	)
	if delta == 0 {
		modified, err = s.swapInPlace(ctx, b, newSeats)
	} else {
		modified, err = s.runModifySaga(ctx, b, newSeats, delta, resp)
	}
	if err != nil {
		if domain.IsConflictError(err) {
			metrics.RecordConflict(ctx, b.ShowtimeID, "modify")
		}
		return nil, fail(span, err)
	}

	resp.Booking = dto.FromDomain(modified)
	metrics.RecordModification(ctx, b.ShowtimeID, delta)
	s.publish(ctx, domain.BookingEventModified, modified, delta)
	logger.Get().Info("booking seats changed",
		zap.String("booking_id", b.ID),
		zap.Strings("from", b.SeatLabels()),
		zap.Strings("to", modified.SeatLabels()),
		zap.Int64("delta", delta),
	)
	return resp, nil
}

func (s *bookingService) swapInPlace(ctx context.Context, b *domain.Booking, newSeats []domain.PricedSeat) (*domain.Booking, error) {
	var modified *domain.Booking
	err := s.ledgers.Update(ctx, b.ShowtimeID, func(tx repository.LedgerTx) error {
		bk, err := tx.Booking(ctx, b.ID)
		if err != nil {
			return err
		}
		if err := unchanged(bk, b); err != nil {
			return err
		}
		if err := tx.Ledger().SwapConfirmed(b.SeatList(), domain.SeatsOf(newSeats), "", s.now()); err != nil {
			return err
		}
		bk.Seats = newSeats
		bk.TotalAmount = domain.Total(newSeats)
		bk.UpdatedAt = s.now()
		tx.SaveBooking(bk)
		modified = bk
		return nil
	})
	return modified, err
}

func (s *bookingService) runModifySaga(ctx context.Context, b *domain.Booking, newSeats []domain.PricedSeat, delta int64, resp *dto.ModifyBookingResponse) (*domain.Booking, error) {
	data := &modifyData{
		BookingID:  b.ID,
		ShowtimeID: b.ShowtimeID,
		Before:     b.Clone(),
		NewSeats:   newSeats,
		Delta:      delta,
		Guard:      fmt.Sprintf("modify-%s-%s", b.ID, uuid.NewString()[:8]),
	}
	if _, err := s.modifySaga.Run(ctx, s.sagas, data); err != nil {
		return nil, s.sagaFailure(ctx, err)
	}

	modified, err := s.bookings.GetByID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if data.Order != nil {
		resp.Order = &dto.PaymentOrderResponse{
			OrderRef:     data.Order.Ref,
			Amount:       data.Order.Amount,
			Currency:     s.currency,
			Gateway:      s.gateway.Name(),
			ClientSecret: data.Order.ClientSecret,
		}
	}
	resp.RefundedAmount = refundedTotal(data.Refunds)
	resp.RefundPending = data.RefundDue
	return modified, nil
}

// ConfirmModification settles the additional payment of a seat change
func (s *bookingService) ConfirmModification(ctx context.Context, bookingID, userID string, req *dto.ConfirmModifyRequest) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.confirm_modify")
	defer span.End()
	defer s.observe(ctx, "confirm_modify", time.Now())
	span.SetAttributes(attribute.String("booking_id", bookingID))

	if req == nil {
		return nil, fail(span, fmt.Errorf("%w: payment proof", domain.ErrMissingField))
	}
	if err := validateProof(req.PaymentProof); err != nil {
		return nil, fail(span, err)
	}
	b, err := s.ownedBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, fail(span, err)
	}
	if b.IsPaid() && hasCharge(b, req.OrderRef) {
		return dto.FromDomain(b), nil
	}
	if b.Status != domain.BookingStatusPending || b.Pending == nil {
		return nil, fail(span, fmt.Errorf("%w: booking is %s", domain.ErrNotPayable, b.Status))
	}
	if b.Pending.OrderRef != req.OrderRef {
		return nil, fail(span, fmt.Errorf("%w: booking awaits order %s", domain.ErrOrderMismatch, b.Pending.OrderRef))
	}

	order, err := s.gateway.FetchOrder(ctx, req.OrderRef)
	if err != nil {
		return nil, fail(span, s.gatewayFailure(ctx, "fetch_order", err))
	}
	if order.Metadata[gateway.MetaKind] != gateway.KindModification || order.Metadata[gateway.MetaBookingID] != b.ID {
		return nil, fail(span, fmt.Errorf("%w: %s is not a modification of %s", domain.ErrOrderMismatch, req.OrderRef, b.ID))
	}

	ok, err := s.gateway.VerifySignature(ctx, req.OrderRef, req.PaymentRef, req.Signature)
	if err != nil {
		return nil, fail(span, s.gatewayFailure(ctx, "verify_signature", err))
	}
	if !ok {
		metrics.RecordVerificationFailure(ctx, "confirm_modify")
		return nil, fail(span, domain.ErrPaymentVerificationFailed)
	}

	var confirmed *domain.Booking
	err = s.ledgers.Update(ctx, b.ShowtimeID, func(tx repository.LedgerTx) error {
		bk, err := tx.Booking(ctx, b.ID)
		if err != nil {
			return err
		}
		if bk.IsPaid() && hasCharge(bk, req.OrderRef) {
			confirmed = bk
			return errNoChange
		}
		if bk.Pending == nil || bk.Pending.OrderRef != req.OrderRef {
			return fmt.Errorf("%w: booking no longer awaits %s", domain.ErrOrderMismatch, req.OrderRef)
		}
		now := s.now()
		bk.Charges = append(bk.Charges, domain.Charge{
			OrderRef:   req.OrderRef,
			PaymentRef: req.PaymentRef,
			Amount:     bk.Pending.Amount,
			CapturedAt: now,
		})
		bk.PaymentRef = req.PaymentRef
		bk.Status = domain.BookingStatusPaid
		bk.Pending = nil
		bk.UpdatedAt = now
		tx.SaveBooking(bk)
		confirmed = bk
		return nil
	})
	if errors.Is(err, errNoChange) {
		return dto.FromDomain(confirmed), nil
	}
	if err != nil {
		return nil, fail(span, err)
	}

	s.publish(ctx, domain.BookingEventModifyConfirmed, confirmed, 0)
	logger.Get().Info("booking modification paid",
		zap.String("booking_id", b.ID),
		zap.String("order_id", req.OrderRef),
	)
	return dto.FromDomain(confirmed), nil
}

// GetBooking retrieves a booking of the user
func (s *bookingService) GetBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get")
	defer span.End()

	b, err := s.ownedBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, fail(span, err)
	}
	return dto.FromDomain(b), nil
}

// ListUserBookings lists the bookings of a user, newest first
func (s *bookingService) ListUserBookings(ctx context.Context, userID string, limit, offset int) (*dto.BookingListResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.list_user")
	defer span.End()

	limit, offset = repository.ClampLimit(limit), max(offset, 0)
	bookings, err := s.bookings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fail(span, err)
	}
	return listResponse(bookings, limit, offset), nil
}

// ListTheaterBookings lists the bookings made at a theater, newest first
func (s *bookingService) ListTheaterBookings(ctx context.Context, theaterID string, limit, offset int) (*dto.BookingListResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.list_theater")
	defer span.End()

	limit, offset = repository.ClampLimit(limit), max(offset, 0)
	bookings, err := s.bookings.ListByTheater(ctx, theaterID, limit, offset)
	if err != nil {
		return nil, fail(span, err)
	}
	return listResponse(bookings, limit, offset), nil
}

// ShowtimeSeats returns the occupancy of a showtime
func (s *bookingService) ShowtimeSeats(ctx context.Context, showtimeID string) (*dto.SeatMapResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.seats")
	defer span.End()

	ledger, err := s.ledgers.Get(ctx, showtimeID)
	if err != nil {
		return nil, fail(span, err)
	}
	return dto.SeatMapFromSnapshot(ledger.Snapshot(s.now())), nil
}

// ownedBooking hides bookings of other users behind ErrBookingNotFound
func (s *bookingService) ownedBooking(ctx context.Context, bookingID, userID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.BelongsToUser(userID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, bookingID)
	}
	return b, nil
}

// gatewayFailure logs a failed gateway call. Errors the gateway did not
// classify are reported as the gateway being unavailable.
func (s *bookingService) gatewayFailure(ctx context.Context, op string, err error) error {
	metrics.RecordGatewayError(ctx, op)
	logger.Get().Warn("payment gateway call failed",
		zap.String("gateway", s.gateway.Name()),
		zap.String("op", op),
		zap.Error(err),
	)
	if domain.IsTransientError(err) || domain.IsStateError(err) || domain.IsNotFoundError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, err)
}

// sagaFailure unwraps a saga error to the failing step's error
func (s *bookingService) sagaFailure(ctx context.Context, err error) error {
	var se *saga.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Compensated() {
		metrics.RecordCompensation(ctx, se.Saga)
		logger.Get().Info("saga compensated",
			zap.String("saga", se.Saga), zap.String("step", se.Step), zap.Error(se.Err))
	} else {
		logger.Get().Error("saga compensation incomplete",
			zap.String("saga", se.Saga),
			zap.String("step", se.Step),
			zap.Error(se.Err),
			zap.NamedError("compensation_error", se.CompensationErr),
		)
	}
	return se.Err
}

func (s *bookingService) publish(ctx context.Context, eventType domain.BookingEventType, b *domain.Booking, delta int64) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), eventType, b, delta); err != nil {
		logger.Get().Warn("failed to publish booking event",
			zap.String("event_type", string(eventType)),
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
	}
}

func (s *bookingService) observe(ctx context.Context, op string, start time.Time) {
	metrics.RecordDuration(ctx, op, time.Since(start).Seconds())
}

func fail(span trace.Span, err error) error {
	telemetry.RecordError(span, err)
	return err
}

func validateProof(p dto.PaymentProof) error {
	switch {
	case strings.TrimSpace(p.OrderRef) == "":
		return fmt.Errorf("%w: order id", domain.ErrMissingField)
	case strings.TrimSpace(p.PaymentRef) == "":
		return fmt.Errorf("%w: payment id", domain.ErrMissingField)
	case strings.TrimSpace(p.Signature) == "":
		return fmt.Errorf("%w: signature", domain.ErrMissingField)
	}
	return nil
}

// unchanged rejects a booking that moved on since it was read
func unchanged(current, read *domain.Booking) error {
	if !current.IsPaid() {
		return fmt.Errorf("%w: booking is %s", domain.ErrNotPayable, current.Status)
	}
	if !current.UpdatedAt.Equal(read.UpdatedAt) {
		return fmt.Errorf("%w: booking changed concurrently", domain.ErrNotPayable)
	}
	return nil
}

// releasedSeats returns the seats of before that are not in after
func releasedSeats(before, after []domain.PricedSeat) []domain.PricedSeat {
	kept := make(map[domain.Seat]struct{}, len(after))
	for _, s := range after {
		kept[s.Seat] = struct{}{}
	}
	var out []domain.PricedSeat
	for _, s := range before {
		if _, ok := kept[s.Seat]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func applyRefunds(b *domain.Booking, refunds []refundRecord) {
	for _, r := range refunds {
		if r.Charge < len(b.Charges) {
			b.Charges[r.Charge].Refunded += r.Amount
		}
	}
}

func refundedTotal(refunds []refundRecord) int64 {
	var total int64
	for _, r := range refunds {
		total += r.Amount
	}
	return total
}

func hasCharge(b *domain.Booking, orderRef string) bool {
	for _, c := range b.Charges {
		if c.OrderRef == orderRef {
			return true
		}
	}
	return false
}

func listResponse(bookings []*domain.Booking, limit, offset int) *dto.BookingListResponse {
	return &dto.BookingListResponse{
		Data: dto.FromDomainList(bookings),
		Meta: dto.PaginationMeta{Limit: limit, Offset: offset, Count: len(bookings)},
	}
}
