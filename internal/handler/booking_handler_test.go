package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/internal/dto"
	"github.com/Hennamaria07/movieBookingBackend/pkg/middleware"
	"github.com/Hennamaria07/movieBookingBackend/pkg/response"
)

// MockBookingService is a mock implementation of BookingService for testing
type MockBookingService struct {
	CreateBookingFunc       func(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.PaymentOrderResponse, error)
	ConfirmBookingFunc      func(ctx context.Context, userID string, req *dto.ConfirmBookingRequest) (*dto.BookingResponse, error)
	CancelBookingFunc       func(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)
	ModifySeatsFunc         func(ctx context.Context, bookingID, userID string, req *dto.ModifySeatsRequest) (*dto.ModifyBookingResponse, error)
	ConfirmModificationFunc func(ctx context.Context, bookingID, userID string, req *dto.ConfirmModifyRequest) (*dto.BookingResponse, error)
	GetBookingFunc          func(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)
	ListUserBookingsFunc    func(ctx context.Context, userID string, limit, offset int) (*dto.BookingListResponse, error)
	ListTheaterBookingsFunc func(ctx context.Context, theaterID string, limit, offset int) (*dto.BookingListResponse, error)
	ShowtimeSeatsFunc       func(ctx context.Context, showtimeID string) (*dto.SeatMapResponse, error)
	RecoverSagasFunc        func(ctx context.Context, limit int) (int, error)
}

func (m *MockBookingService) RecoverSagas(ctx context.Context, limit int) (int, error) {
	if m.RecoverSagasFunc != nil {
		return m.RecoverSagasFunc(ctx, limit)
	}
	return 0, nil
}

func (m *MockBookingService) CreateBooking(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.PaymentOrderResponse, error) {
	if m.CreateBookingFunc != nil {
		return m.CreateBookingFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockBookingService) ConfirmBooking(ctx context.Context, userID string, req *dto.ConfirmBookingRequest) (*dto.BookingResponse, error) {
	if m.ConfirmBookingFunc != nil {
		return m.ConfirmBookingFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockBookingService) CancelBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	if m.CancelBookingFunc != nil {
		return m.CancelBookingFunc(ctx, bookingID, userID)
	}
	return nil, nil
}

func (m *MockBookingService) ModifySeats(ctx context.Context, bookingID, userID string, req *dto.ModifySeatsRequest) (*dto.ModifyBookingResponse, error) {
	if m.ModifySeatsFunc != nil {
		return m.ModifySeatsFunc(ctx, bookingID, userID, req)
	}
	return nil, nil
}

func (m *MockBookingService) ConfirmModification(ctx context.Context, bookingID, userID string, req *dto.ConfirmModifyRequest) (*dto.BookingResponse, error) {
	if m.ConfirmModificationFunc != nil {
		return m.ConfirmModificationFunc(ctx, bookingID, userID, req)
	}
	return nil, nil
}

func (m *MockBookingService) GetBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	if m.GetBookingFunc != nil {
		return m.GetBookingFunc(ctx, bookingID, userID)
	}
	return nil, nil
}

func (m *MockBookingService) ListUserBookings(ctx context.Context, userID string, limit, offset int) (*dto.BookingListResponse, error) {
	if m.ListUserBookingsFunc != nil {
		return m.ListUserBookingsFunc(ctx, userID, limit, offset)
	}
	return &dto.BookingListResponse{}, nil
}

func (m *MockBookingService) ListTheaterBookings(ctx context.Context, theaterID string, limit, offset int) (*dto.BookingListResponse, error) {
	if m.ListTheaterBookingsFunc != nil {
		return m.ListTheaterBookingsFunc(ctx, theaterID, limit, offset)
	}
	return &dto.BookingListResponse{}, nil
}

func (m *MockBookingService) ShowtimeSeats(ctx context.Context, showtimeID string) (*dto.SeatMapResponse, error) {
	if m.ShowtimeSeatsFunc != nil {
		return m.ShowtimeSeatsFunc(ctx, showtimeID)
	}
	return nil, nil
}

func setupTestRouter(svc *MockBookingService, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	api := router.Group("/api/v1")
	if userID != "" {
		api.Use(func(c *gin.Context) {
			c.Set(middleware.ContextKeyUserID, userID)
			c.Next()
		})
	}
	NewBookingHandler(svc).RegisterRoutes(api)
	return router
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestBookingHandler_CreateBooking(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		body           interface{}
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "created",
			userID:         "user-1",
			body:           dto.CreateBookingRequest{ShowtimeID: "show-1", Seats: []string{"A1", "A2"}},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "unauthorized",
			body:           dto.CreateBookingRequest{ShowtimeID: "show-1", Seats: []string{"A1"}},
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:           "missing seats",
			userID:         "user-1",
			body:           map[string]string{"showtime_id": "show-1"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_REQUEST",
		},
		{
			name:           "bad label",
			userID:         "user-1",
			body:           dto.CreateBookingRequest{ShowtimeID: "show-1", Seats: []string{"1A"}},
			err:            fmt.Errorf("%w: 1A", domain.ErrInvalidSeatLabel),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION_ERROR",
		},
		{
			name:           "seat taken",
			userID:         "user-1",
			body:           dto.CreateBookingRequest{ShowtimeID: "show-1", Seats: []string{"A1"}},
			err:            fmt.Errorf("%w: A1", domain.ErrSeatConflict),
			expectedStatus: http.StatusConflict,
			expectedCode:   "SEAT_CONFLICT",
		},
		{
			name:           "unknown showtime",
			userID:         "user-1",
			body:           dto.CreateBookingRequest{ShowtimeID: "nope", Seats: []string{"A1"}},
			err:            domain.ErrShowtimeNotFound,
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name:           "gateway down",
			userID:         "user-1",
			body:           dto.CreateBookingRequest{ShowtimeID: "show-1", Seats: []string{"A1"}},
			err:            fmt.Errorf("%w: timeout", domain.ErrGatewayUnavailable),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   "GATEWAY_UNAVAILABLE",
		},
		{
			name:           "unexpected",
			userID:         "user-1",
			body:           dto.CreateBookingRequest{ShowtimeID: "show-1", Seats: []string{"A1"}},
			err:            errors.New("disk on fire"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			svc := &MockBookingService{
				CreateBookingFunc: func(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.PaymentOrderResponse, error) {
					gotUser = userID
					if tt.err != nil {
						return nil, tt.err
					}
					return &dto.PaymentOrderResponse{OrderRef: "order_1", Amount: 400, Currency: "INR"}, nil
				},
			}
			w := doRequest(setupTestRouter(svc, tt.userID), http.MethodPost, "/api/v1/bookings", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decode(t, w)
			if tt.expectedCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.expectedCode, resp.Error.Code)
				return
			}
			assert.True(t, resp.Success)
			assert.Equal(t, tt.userID, gotUser)
		})
	}
}

func TestBookingHandler_ConfirmBooking(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"confirmed", nil, http.StatusOK, ""},
		{"bad signature", domain.ErrPaymentVerificationFailed, http.StatusPaymentRequired, "PAYMENT_VERIFICATION_FAILED"},
		{"hold expired", fmt.Errorf("%w: payment pay_1 refunded", domain.ErrHoldExpired), http.StatusUnprocessableEntity, "HOLD_EXPIRED"},
		{"foreign order", domain.ErrOrderMismatch, http.StatusUnprocessableEntity, "INVALID_STATE"},
		{"payment processing", fmt.Errorf("%w: pi_1 is processing", domain.ErrPaymentPending), http.StatusServiceUnavailable, "PAYMENT_PENDING"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *dto.ConfirmBookingRequest
			svc := &MockBookingService{
				ConfirmBookingFunc: func(ctx context.Context, userID string, req *dto.ConfirmBookingRequest) (*dto.BookingResponse, error) {
					got = req
					if tt.err != nil {
						return nil, tt.err
					}
					return &dto.BookingResponse{ID: "b-1", Status: "paid"}, nil
				},
			}
			body := map[string]string{"order_id": "order_1", "payment_id": "pay_1", "signature": "abc"}
			w := doRequest(setupTestRouter(svc, "user-1"), http.MethodPost, "/api/v1/bookings/confirm", body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			require.NotNil(t, got)
			assert.Equal(t, "order_1", got.OrderRef)
			assert.Equal(t, "pay_1", got.PaymentRef)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, decode(t, w).Error.Code)
			}
		})
	}
}

func TestBookingHandler_ConfirmBookingRequiresProof(t *testing.T) {
	called := false
	svc := &MockBookingService{
		ConfirmBookingFunc: func(ctx context.Context, userID string, req *dto.ConfirmBookingRequest) (*dto.BookingResponse, error) {
			called = true
			return nil, nil
		},
	}
	w := doRequest(setupTestRouter(svc, "user-1"), http.MethodPost, "/api/v1/bookings/confirm", map[string]string{"order_id": "order_1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, called)
}

func TestBookingHandler_CancelBooking(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"cancelled", nil, http.StatusOK},
		{"not paid", domain.ErrNotPayable, http.StatusUnprocessableEntity},
		{"not captured", domain.ErrPaymentNotCaptured, http.StatusUnprocessableEntity},
		{"other user", domain.ErrBookingNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			svc := &MockBookingService{
				CancelBookingFunc: func(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
					gotID = bookingID
					if tt.err != nil {
						return nil, tt.err
					}
					return &dto.BookingResponse{ID: bookingID, Status: "refunded"}, nil
				},
			}
			w := doRequest(setupTestRouter(svc, "user-1"), http.MethodPost, "/api/v1/bookings/b-42/cancel", nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "b-42", gotID)
		})
	}
}

func TestBookingHandler_ModifySeats(t *testing.T) {
	svc := &MockBookingService{
		ModifySeatsFunc: func(ctx context.Context, bookingID, userID string, req *dto.ModifySeatsRequest) (*dto.ModifyBookingResponse, error) {
			assert.Equal(t, "b-1", bookingID)
			assert.Equal(t, []string{"B1"}, req.Seats)
			return &dto.ModifyBookingResponse{
				Booking: &dto.BookingResponse{ID: bookingID, Status: "pending"},
				Delta:   100,
				Order:   &dto.PaymentOrderResponse{OrderRef: "order_2", Amount: 100},
			}, nil
		},
	}
	w := doRequest(setupTestRouter(svc, "user-1"), http.MethodPut, "/api/v1/bookings/b-1/seats", dto.ModifySeatsRequest{Seats: []string{"B1"}})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data dto.ModifyBookingResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(100), body.Data.Delta)
	assert.Equal(t, "order_2", body.Data.Order.OrderRef)
}

func TestBookingHandler_ConfirmModification(t *testing.T) {
	svc := &MockBookingService{
		ConfirmModificationFunc: func(ctx context.Context, bookingID, userID string, req *dto.ConfirmModifyRequest) (*dto.BookingResponse, error) {
			return nil, domain.ErrPaymentVerificationFailed
		},
	}
	body := map[string]string{"order_id": "order_2", "payment_id": "pay_2", "signature": "bad"}
	w := doRequest(setupTestRouter(svc, "user-1"), http.MethodPost, "/api/v1/bookings/b-1/confirm-modify", body)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestBookingHandler_Lists(t *testing.T) {
	var gotLimit, gotOffset int
	list := func(limit, offset int) (*dto.BookingListResponse, error) {
		gotLimit, gotOffset = limit, offset
		return &dto.BookingListResponse{
			Data: []*dto.BookingResponse{{ID: "b-1"}},
			Meta: dto.PaginationMeta{Limit: 5, Offset: 10, Count: 1},
		}, nil
	}
	svc := &MockBookingService{
		ListUserBookingsFunc: func(ctx context.Context, userID string, limit, offset int) (*dto.BookingListResponse, error) {
			return list(limit, offset)
		},
		ListTheaterBookingsFunc: func(ctx context.Context, theaterID string, limit, offset int) (*dto.BookingListResponse, error) {
			assert.Equal(t, "theater-1", theaterID)
			return list(limit, offset)
		},
	}
	router := setupTestRouter(svc, "user-1")

	w := doRequest(router, http.MethodGet, "/api/v1/bookings?limit=5&offset=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, gotLimit)
	assert.Equal(t, 10, gotOffset)
	assert.NotNil(t, decode(t, w).Meta)

	w = doRequest(router, http.MethodGet, "/api/v1/theaters/theater-1/bookings?limit=abc&offset=-3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, gotLimit)
	assert.Equal(t, 0, gotOffset)
}

func TestBookingHandler_ShowtimeSeats(t *testing.T) {
	svc := &MockBookingService{
		ShowtimeSeatsFunc: func(ctx context.Context, showtimeID string) (*dto.SeatMapResponse, error) {
			if showtimeID != "show-1" {
				return nil, domain.ErrShowtimeNotFound
			}
			return &dto.SeatMapResponse{ShowtimeID: showtimeID, TotalSeats: 100, AvailableSeats: 98, Status: "available"}, nil
		},
	}
	router := setupTestRouter(svc, "user-1")

	w := doRequest(router, http.MethodGet, "/api/v1/showtimes/show-1/seats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/showtimes/show-9/seats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
