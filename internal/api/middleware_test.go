package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newClientLimiter(1, 1, func() time.Time { return now })

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"), "bucket refills")

	now = now.Add(limiterIdle + time.Second)
	assert.True(t, l.allow("c"))
	assert.Equal(t, 1, l.size(), "idle buckets are swept")
}

func TestClientLimiterDisabled(t *testing.T) {
	assert.Nil(t, newClientLimiter(0, 10, time.Now))
}

func TestClientLimiterDefaultBurst(t *testing.T) {
	l := newClientLimiter(5, 0, time.Now)
	assert.Equal(t, 10, l.burst)
}

func TestAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, apiKey(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, apiKey(req))

	req.Header.Set("Authorization", "Bearer token")
	assert.Equal(t, "token", apiKey(req))

	req.Header.Set("X-API-Key", "key")
	assert.Equal(t, "key", apiKey(req))
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", clientAddr(req))

	req.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", clientAddr(req))
}
