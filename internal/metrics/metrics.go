package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Hennamaria07/movieBookingBackend/pkg/telemetry"
)

var (
	// Seat counters
	HoldsPlaced   *telemetry.Counter
	HoldsExpired  *telemetry.Counter
	SeatConflicts *telemetry.Counter

	// Booking counters
	BookingsConfirmed    *telemetry.Counter
	BookingsCancelled    *telemetry.Counter
	BookingsModified     *telemetry.Counter
	VerificationFailures *telemetry.Counter
	Compensations        *telemetry.Counter
	GatewayErrors        *telemetry.Counter

	// Histograms
	OperationDuration *telemetry.Histogram

	initOnce sync.Once
	initErr  error
)

// Init initializes all booking metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		dst  **telemetry.Counter
		opts telemetry.MetricOpts
	}{
		{&HoldsPlaced, telemetry.MetricOpts{Name: "seat_holds_placed_total", Description: "Seats put on hold pending payment", Unit: "1"}},
		{&HoldsExpired, telemetry.MetricOpts{Name: "seat_holds_expired_total", Description: "Holds released by the sweeper", Unit: "1"}},
		{&SeatConflicts, telemetry.MetricOpts{Name: "seat_conflicts_total", Description: "Requests rejected because a seat was taken", Unit: "1"}},
		{&BookingsConfirmed, telemetry.MetricOpts{Name: "booking_confirmations_total", Description: "Bookings confirmed after payment", Unit: "1"}},
		{&BookingsCancelled, telemetry.MetricOpts{Name: "booking_cancellations_total", Description: "Bookings cancelled and refunded", Unit: "1"}},
		{&BookingsModified, telemetry.MetricOpts{Name: "booking_modifications_total", Description: "Seat changes applied to bookings", Unit: "1"}},
		{&VerificationFailures, telemetry.MetricOpts{Name: "payment_verification_failures_total", Description: "Payments whose signature did not verify", Unit: "1"}},
		{&Compensations, telemetry.MetricOpts{Name: "booking_compensations_total", Description: "Saga compensations executed", Unit: "1"}},
		{&GatewayErrors, telemetry.MetricOpts{Name: "payment_gateway_errors_total", Description: "Payment gateway calls that failed", Unit: "1"}},
	}
	for _, c := range counters {
		counter, err := telemetry.NewCounter(nil, c.opts)
		if err != nil {
			return err
		}
		*c.dst = counter
	}

	var err error
	OperationDuration, err = telemetry.NewHistogram(nil, telemetry.MetricOpts{
		Name:        "booking_operation_duration_seconds",
		Description: "Duration of coordinator operations",
		Unit:        "s",
	})
	return err
}

// RecordHolds records seats placed on hold
func RecordHolds(ctx context.Context, showtimeID string, seats int) {
	if HoldsPlaced != nil {
		HoldsPlaced.Add(ctx, int64(seats), attribute.String("showtime_id", showtimeID))
	}
}

// RecordExpiredHolds records holds released by expiry
func RecordExpiredHolds(ctx context.Context, showtimeID string, tokens int) {
	if HoldsExpired != nil {
		HoldsExpired.Add(ctx, int64(tokens), attribute.String("showtime_id", showtimeID))
	}
}

// RecordConflict records a rejected seat selection
func RecordConflict(ctx context.Context, showtimeID, operation string) {
	if SeatConflicts != nil {
		SeatConflicts.Inc(ctx,
			attribute.String("showtime_id", showtimeID),
			attribute.String("operation", operation),
		)
	}
}

// RecordConfirmation records a booking that became paid
func RecordConfirmation(ctx context.Context, showtimeID string) {
	if BookingsConfirmed != nil {
		BookingsConfirmed.Inc(ctx, attribute.String("showtime_id", showtimeID))
	}
}

// RecordCancellation records a refunded booking
func RecordCancellation(ctx context.Context, showtimeID string) {
	if BookingsCancelled != nil {
		BookingsCancelled.Inc(ctx, attribute.String("showtime_id", showtimeID))
	}
}

// RecordModification records a seat change by direction of the price delta
func RecordModification(ctx context.Context, showtimeID string, delta int64) {
	if BookingsModified == nil {
		return
	}
	direction := "equal"
	switch {
	case delta > 0:
		direction = "upgrade"
	case delta < 0:
		direction = "downgrade"
	}
	BookingsModified.Inc(ctx,
		attribute.String("showtime_id", showtimeID),
		attribute.String("direction", direction),
	)
}

// RecordVerificationFailure records a rejected payment signature
func RecordVerificationFailure(ctx context.Context, operation string) {
	if VerificationFailures != nil {
		VerificationFailures.Inc(ctx, attribute.String("operation", operation))
	}
}

// RecordCompensation records a compensated saga
func RecordCompensation(ctx context.Context, saga string) {
	if Compensations != nil {
		Compensations.Inc(ctx, attribute.String("saga", saga))
	}
}

// RecordGatewayError records a failed gateway call
func RecordGatewayError(ctx context.Context, operation string) {
	if GatewayErrors != nil {
		GatewayErrors.Inc(ctx, attribute.String("operation", operation))
	}
}

// RecordDuration records how long an operation took
func RecordDuration(ctx context.Context, operation string, seconds float64) {
	if OperationDuration != nil {
		OperationDuration.Record(ctx, seconds, attribute.String("operation", operation))
	}
}
