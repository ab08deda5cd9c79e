package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOTPRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	limiter := NewOTPRateLimiter(6, 2)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("b1"))
	assert.True(t, limiter.Allow("b1"))
	assert.False(t, limiter.Allow("b1"), "burst exhausted")
	assert.True(t, limiter.Allow("b2"), "other bookings are unaffected")

	// Six per minute refills one token every ten seconds.
	now = now.Add(10 * time.Second)
	assert.True(t, limiter.Allow("b1"))
	assert.False(t, limiter.Allow("b1"))
}

func TestOTPRateLimiter_PrunesIdleEntries(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	limiter := NewOTPRateLimiter(6, 1)
	limiter.now = func() time.Time { return now }

	limiter.Allow("b1")
	limiter.Allow("b2")
	require.Len(t, limiter.limiters, 2)

	now = now.Add(limiterIdleTTL + 2*time.Minute)
	limiter.Allow("b3")
	assert.Len(t, limiter.limiters, 1)
}

func TestOTPRateLimit(t *testing.T) {
	var seen []string
	router := gin.New()
	router.PUT("/bookings/:id/status", OTPRateLimit(NewOTPRateLimiter(1, 2)), func(c *gin.Context) {
		body, _ := c.GetRawData()
		seen = append(seen, string(body))
		c.Status(http.StatusOK)
	})

	send := func(id, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/bookings/"+id+"/status", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	withCode := `{"targetStatus":"picked_up","otp":"123456"}`
	assert.Equal(t, http.StatusOK, send("b1", withCode).Code)
	assert.Equal(t, http.StatusOK, send("b1", withCode).Code)

	w := send("b1", withCode)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// Transitions without a code are never throttled.
	assert.Equal(t, http.StatusOK, send("b1", `{"targetStatus":"in_transit"}`).Code)
	assert.Equal(t, http.StatusOK, send("b2", withCode).Code)

	// The handler still sees the full body.
	require.Len(t, seen, 4)
	assert.Equal(t, withCode, seen[0])
}

func TestOTPRateLimit_NilLimiter(t *testing.T) {
	router := gin.New()
	router.PUT("/bookings/:id/status", OTPRateLimit(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/bookings/b1/status", strings.NewReader(`{"otp":"1"}`)))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
