package domain

import "errors"

// Domain errors
var (
	// Validation errors
	ErrInvalidSeatLabel = errors.New("invalid seat label")
	ErrSeatOutOfRange   = errors.New("seat is outside the screen layout")
	ErrDuplicateSeat    = errors.New("seat requested more than once")
	ErrMissingField     = errors.New("required field is missing")

	// Conflict errors
	ErrSeatConflict = errors.New("seat is already booked or held")

	// Not found errors
	ErrShowtimeNotFound = errors.New("showtime not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrScreenNotFound   = errors.New("screen not found")

	// State errors
	ErrNotPayable         = errors.New("booking is not in a state that allows this action")
	ErrHoldNotFound       = errors.New("no hold exists for this token")
	ErrHoldExpired        = errors.New("seat hold expired before payment was confirmed")
	ErrShowtimeCancelled  = errors.New("showtime has been cancelled")
	ErrOrderMismatch      = errors.New("payment order does not belong to this operation")
	ErrPaymentNotCaptured = errors.New("payment has not been captured")
	ErrRefundRejected     = errors.New("refund rejected by payment gateway")

	// Payment errors
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrGatewayUnavailable        = errors.New("payment gateway unavailable")
	ErrPaymentPending            = errors.New("payment is still being processed")
)

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSeatLabel) ||
		errors.Is(err, ErrSeatOutOfRange) ||
		errors.Is(err, ErrDuplicateSeat) ||
		errors.Is(err, ErrMissingField)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSeatConflict)
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrShowtimeNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrScreenNotFound)
}

// IsStateError checks if the error rejects an action because of current state
func IsStateError(err error) bool {
	return errors.Is(err, ErrNotPayable) ||
		errors.Is(err, ErrHoldNotFound) ||
		errors.Is(err, ErrHoldExpired) ||
		errors.Is(err, ErrShowtimeCancelled) ||
		errors.Is(err, ErrOrderMismatch) ||
		errors.Is(err, ErrPaymentNotCaptured) ||
		errors.Is(err, ErrRefundRejected)
}

// IsTransientError reports whether the caller may retry the same request unchanged
func IsTransientError(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrPaymentPending)
}
