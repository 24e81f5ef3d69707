package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowBurstThenReject(t *testing.T) {
	l := New(1, 3)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"), "request %d", i)
	}
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a"))
	}
}

func TestEvictIdle(t *testing.T) {
	l := New(1, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	l.Allow("a")
	now = now.Add(time.Minute)
	l.Allow("b")

	now = now.Add(l.idle)
	l.evictIdle()
	assert.Equal(t, 1, l.Len())

	now = now.Add(l.idle + time.Second)
	l.evictIdle()
	assert.Zero(t, l.Len())
}

func TestMiddleware(t *testing.T) {
	l := New(1, 1)
	h := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/portfolios/autocomplete?keyword=g", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestClientKeyIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	l := New(1, 1)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", l.ClientKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.1", l.ClientKey(req))
}

func TestClientKeyBehindTrustedProxy(t *testing.T) {
	l := New(1, 1)
	require.NoError(t, l.TrustProxies([]string{"10.0.0.0/8", "192.0.2.7"}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 203.0.113.9, 192.0.2.7")
	assert.Equal(t, "203.0.113.9", l.ClientKey(req), "rightmost untrusted hop wins")

	req.Header.Set("X-Forwarded-For", "10.9.9.9")
	assert.Equal(t, "10.1.2.3", l.ClientKey(req), "all hops trusted")

	req.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "10.1.2.3", l.ClientKey(req))

	require.Error(t, l.TrustProxies([]string{"not-an-ip"}))
}

// Rotating X-Forwarded-For must not buy a fresh bucket.
func TestMiddlewareSpoofedForwardedFor(t *testing.T) {
	l := New(1, 1)
	h := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/portfolios/autocomplete?keyword=g", nil)
		req.RemoteAddr = "192.0.2.50:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}
