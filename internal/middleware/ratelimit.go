package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// OTPRateLimiter bounds how many code submissions a single booking accepts.
// Limits are kept per booking, so guessing against one booking never slows
// down another.
type OTPRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

// NewOTPRateLimiter allows perMinute submissions per booking with the given burst.
func NewOTPRateLimiter(perMinute float64, burst int) *OTPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &OTPRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether another submission for key may proceed now.
func (l *OTPRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > time.Minute {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastPrune = now
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// OTPRateLimit throttles requests whose JSON body carries an "otp" field,
// keyed by the :id path parameter. Requests without a code pass through.
func OTPRateLimit(limiter *OTPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || c.Request.Body == nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var otpField struct {
			OTP string `json:"otp"`
		}
		if json.Unmarshal(body, &otpField) != nil || otpField.OTP == "" {
			c.Next()
			return
		}

		if !limiter.Allow(c.Param("id")) {
			c.Header("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many code attempts, try again later"})
			return
		}
		c.Next()
	}
}
