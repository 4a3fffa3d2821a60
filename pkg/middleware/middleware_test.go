package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRedis is an in-memory RedisClient
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	cfg := &AuthConfig{Secret: "test-secret"}

	router := gin.New()
	router.Use(JWTAuth(cfg))
	router.GET("/me", func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.String(http.StatusOK, id)
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "malformed", header: "Token abc", wantStatus: http.StatusUnauthorized},
		{
			name:       "wrong secret",
			header:     "Bearer " + signToken(t, "other", jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			header:     "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "user_id claim",
			header:     "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(time.Hour).Unix()}),
			wantStatus: http.StatusOK,
			wantBody:   "u1",
		},
		{
			name:       "sub fallback",
			header:     "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"sub": "u2", "exp": time.Now().Add(time.Hour).Unix()}),
			wantStatus: http.StatusOK,
			wantBody:   "u2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func newIdempotentRouter(rdb RedisClient, calls *int) *gin.Engine {
	router := gin.New()
	router.Use(IdempotencyMiddleware(DefaultIdempotencyConfig(rdb)))
	router.POST("/bookings", func(c *gin.Context) {
		*calls++
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusCreated, gin.H{"call": *calls, "key": key})
	})
	router.POST("/fail", func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "down"})
	})
	return router
}

func post(router *gin.Engine, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIdempotencyMiddleware_ReplaysCompletedResponse(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newFakeRedis(), &calls)

	first := post(router, "/bookings", "key-1", `{"seats":["A1"]}`)
	second := post(router, "/bookings", "key-1", `{"seats":["A1"]}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.JSONEq(t, `{"call":1,"key":"key-1"}`, first.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddleware_RejectsMissingKey(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newFakeRedis(), &calls)

	w := post(router, "/bookings", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotencyMiddleware_RejectsReusedKeyWithDifferentBody(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newFakeRedis(), &calls)

	post(router, "/bookings", "key-1", `{"seats":["A1"]}`)
	w := post(router, "/bookings", "key-1", `{"seats":["B1"]}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddleware_InProgress(t *testing.T) {
	rdb := newFakeRedis()
	calls := 0
	router := newIdempotentRouter(rdb, &calls)

	// simulate a concurrent request still holding the key
	first := post(router, "/bookings", "key-1", `{}`)
	require.Equal(t, http.StatusCreated, first.Code)
	for k, v := range rdb.data {
		rdb.data[k] = strings.Replace(v, `"status":"completed"`, `"status":"processing"`, 1)
	}

	w := post(router, "/bookings", "key-1", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIdempotencyMiddleware_ServerErrorsAreNotCached(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newFakeRedis(), &calls)

	post(router, "/fail", "key-1", `{}`)
	post(router, "/fail", "key-1", `{}`)

	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddleware_FailsOpenOnRedisError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = assert.AnError
	calls := 0
	router := newIdempotentRouter(rdb, &calls)

	w := post(router, "/bookings", "key-1", `{}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := gin.New()
	router.Use(RequestLogger(logger.New(zap.New(core)), "/health"))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/health", "/missing"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request rejected", entry.Message)
	assert.Equal(t, int64(http.StatusNotFound), entry.ContextMap()["status"])
}
