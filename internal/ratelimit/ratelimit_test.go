package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestLimiterAllow(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("test-ip"), "request %d should be allowed (within burst)", i)
	}
	assert.False(t, limiter.Allow("test-ip"), "request after burst should be denied")

	// 60/min refills one token per second
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, limiter.Allow("test-ip"))
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Minute})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	assert.False(t, limiter.Allow("client-a"))
	assert.True(t, limiter.Allow("client-b"))
}

func TestLimiterRetryAfter(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 6, BurstSize: 1, CleanupInterval: time.Minute})
	defer limiter.Stop()

	assert.True(t, limiter.Allow("k"))
	wait := limiter.RetryAfter("k")
	assert.Greater(t, wait, 5*time.Second)
	assert.LessOrEqual(t, wait, 10*time.Second)
}

func TestLimiterSweep(t *testing.T) {
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer limiter.Stop()

	limiter.Allow("old")
	assert.Equal(t, 1, limiter.Len())

	limiter.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 0, limiter.Len())
}

func TestDefaultsForZeroConfig(t *testing.T) {
	limiter := New(Config{})
	defer limiter.Stop()
	limiter.Stop() // idempotent
	assert.True(t, limiter.Allow("k"))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := New(Config{RequestsPerMinute: 60, BurstSize: 2, CleanupInterval: time.Minute})
	defer limiter.Stop()

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	// a bearer token gets its own bucket
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer cl_abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
