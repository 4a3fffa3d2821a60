package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/internal/dto"
	"github.com/Hennamaria07/movieBookingBackend/internal/service"
	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
	"github.com/Hennamaria07/movieBookingBackend/pkg/middleware"
	"github.com/Hennamaria07/movieBookingBackend/pkg/response"
	"github.com/Hennamaria07/movieBookingBackend/pkg/telemetry"
)

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	bookingService service.BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookingService service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// RegisterRoutes mounts the booking endpoints on an authenticated group.
// Write routes go through the given middlewares (idempotency), reads do not.
func (h *BookingHandler) RegisterRoutes(api *gin.RouterGroup, writes ...gin.HandlerFunc) {
	with := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, writes...), fn)
	}

	bookings := api.Group("/bookings")
	{
		bookings.POST("", with(h.CreateBooking)...)
		bookings.POST("/confirm", with(h.ConfirmBooking)...)
		bookings.POST("/:id/cancel", with(h.CancelBooking)...)
		bookings.PUT("/:id/seats", with(h.ModifySeats)...)
		bookings.POST("/:id/confirm-modify", with(h.ConfirmModification)...)

		bookings.GET("", h.ListUserBookings)
		bookings.GET("/:id", h.GetBooking)
	}
	api.GET("/theaters/:id/bookings", h.ListTheaterBookings)
	api.GET("/showtimes/:id/seats", h.ShowtimeSeats)
}

// CreateBooking handles POST /bookings
// Holds the seats and returns the payment order the client has to pay.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()

	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	span.SetAttributes(attribute.String("showtime_id", req.ShowtimeID), attribute.Int("seats", len(req.Seats)))

	order, err := h.bookingService.CreateBooking(ctx, userID, &req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.Created(c, order)
}

// ConfirmBooking handles POST /bookings/confirm
func (h *BookingHandler) ConfirmBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.confirm")
	defer span.End()

	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req dto.ConfirmBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	span.SetAttributes(attribute.String("order_id", req.OrderRef))

	booking, err := h.bookingService.ConfirmBooking(ctx, userID, &req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.Success(c, booking)
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()

	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	booking, err := h.bookingService.CancelBooking(ctx, bookingID, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.Success(c, booking)
}

// ModifySeats handles PUT /bookings/:id/seats
func (h *BookingHandler) ModifySeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.modify")
	defer span.End()

	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	var req dto.ModifySeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	result, err := h.bookingService.ModifySeats(ctx, bookingID, userID, &req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.Success(c, result)
}

// ConfirmModification handles POST /bookings/:id/confirm-modify
func (h *BookingHandler) ConfirmModification(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.confirm_modify")
	defer span.End()

	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	var req dto.ConfirmModifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	booking, err := h.bookingService.ConfirmModification(ctx, bookingID, userID, &req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.Success(c, booking)
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get")
	defer span.End()

	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	booking, err := h.bookingService.GetBooking(ctx, c.Param("id"), userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.Success(c, booking)
}

// ListUserBookings handles GET /bookings
func (h *BookingHandler) ListUserBookings(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.list")
	defer span.End()

	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	list, err := h.bookingService.ListUserBookings(ctx, userID, limit, offset)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.SuccessWithMeta(c, list.Data, list.Meta)
}

// ListTheaterBookings handles GET /theaters/:id/bookings
func (h *BookingHandler) ListTheaterBookings(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.list_theater")
	defer span.End()

	theaterID := c.Param("id")
	span.SetAttributes(attribute.String("theater_id", theaterID))
	limit, offset := pagination(c)

	list, err := h.bookingService.ListTheaterBookings(ctx, theaterID, limit, offset)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.SuccessWithMeta(c, list.Data, list.Meta)
}

// ShowtimeSeats handles GET /showtimes/:id/seats
func (h *BookingHandler) ShowtimeSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.seats")
	defer span.End()

	seats, err := h.bookingService.ShowtimeSeats(ctx, c.Param("id"))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, err)
		return
	}
	response.Success(c, seats)
}

func (h *BookingHandler) requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return "", false
	}
	return userID, true
}

// pagination reads limit and offset; bad values fall back to the defaults
func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		limit = 0
	}
	offset, err := strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// handleError converts domain errors to HTTP responses
func (h *BookingHandler) handleError(c *gin.Context, err error) {
	switch {
	case domain.IsValidationError(err):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), "")
	case domain.IsConflictError(err):
		response.Error(c, http.StatusConflict, "SEAT_CONFLICT", err.Error(), "")
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrHoldExpired):
		response.Error(c, http.StatusUnprocessableEntity, "HOLD_EXPIRED", err.Error(),
			"the seats were released before payment was confirmed; the payment is being refunded")
	case domain.IsStateError(err):
		response.Error(c, http.StatusUnprocessableEntity, "INVALID_STATE", err.Error(), "")
	case errors.Is(err, domain.ErrPaymentVerificationFailed):
		response.Error(c, http.StatusPaymentRequired, "PAYMENT_VERIFICATION_FAILED", err.Error(), "")
	case errors.Is(err, domain.ErrPaymentPending):
		response.Error(c, http.StatusServiceUnavailable, "PAYMENT_PENDING", err.Error(),
			"the payment has not settled yet; the seats stay held, confirm again shortly")
	case domain.IsTransientError(err):
		response.Error(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "payment gateway unavailable, try again", "")
	default:
		fields := []zap.Field{zap.String("path", c.FullPath()), zap.Error(err)}
		if key, ok := middleware.GetIdempotencyKey(c); ok {
			fields = append(fields, zap.String("idempotency_key", key))
		}
		logger.Get().Error("unhandled booking error", fields...)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", "")
	}
}
