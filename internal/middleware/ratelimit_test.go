package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/throttle"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
}

func requestAs(userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", nil)
	return req.WithContext(auth.WithUser(req.Context(), userID, "alice"))
}

func TestThrottle_SecondRequestWithinIntervalRejected(t *testing.T) {
	h := Throttle(throttle.New(time.Second, time.Minute))(okHandler())
	user := uuid.New()

	first := httptest.NewRecorder()
	h.ServeHTTP(first, requestAs(user))
	assert.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, requestAs(user))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"`+domain.ErrRateLimited.Error()+`"}`, second.Body.String())
}

func TestThrottle_UsersAreIndependent(t *testing.T) {
	h := Throttle(throttle.New(time.Second, time.Minute))(okHandler())

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestAs(uuid.New()))
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
}

func TestThrottle_AnonymousPassesThrough(t *testing.T) {
	h := Throttle(throttle.New(time.Second, time.Minute))(okHandler())

	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
}

func TestThrottle_RetryAfterRoundsUp(t *testing.T) {
	h := Throttle(throttle.New(1500*time.Millisecond, time.Minute))(okHandler())
	user := uuid.New()

	h.ServeHTTP(httptest.NewRecorder(), requestAs(user))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestAs(user))

	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}
