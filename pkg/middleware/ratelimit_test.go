package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idbridge/idbridge/pkg/observability"
)

func newTestLimiter(t *testing.T, config *RateLimitConfig) (*LoginRateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	return NewLoginRateLimiter(client, config, logger), mr
}

func TestAllowUnderLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, &RateLimitConfig{AttemptsPerWindow: 3, WindowDuration: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowKeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t, &RateLimitConfig{AttemptsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = rl.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestWindowExpiry(t *testing.T) {
	rl, mr := newTestLimiter(t, &RateLimitConfig{AttemptsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(2 * time.Minute)

	allowed, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRemainingAndReset(t *testing.T) {
	rl, _ := newTestLimiter(t, &RateLimitConfig{AttemptsPerWindow: 5, WindowDuration: time.Minute})
	ctx := context.Background()

	remaining, err := rl.Remaining(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	_, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	remaining, err = rl.Remaining(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	require.NoError(t, rl.Reset(ctx, "ip:1.2.3.4"))
	remaining, err = rl.Remaining(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestHandlerRejectsOverLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, &RateLimitConfig{AttemptsPerWindow: 2, WindowDuration: time.Minute})

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/saml/okta/acs", nil)
		req.RemoteAddr = "1.2.3.4:5000"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/saml/okta/acs", nil)
	req.RemoteAddr = "1.2.3.4:5000"
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandlerFailsOpenOnRedisError(t *testing.T) {
	rl, mr := newTestLimiter(t, nil)
	mr.Close()

	served := false
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		served = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/saml/okta/acs", nil)
	handler.ServeHTTP(rec, req)
	assert.True(t, served)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"remote addr", nil, "10.0.0.1:1234", "10.0.0.1:1234"},
		{"x-forwarded-for", map[string]string{"X-Forwarded-For": "192.168.1.1"}, "10.0.0.1:1234", "192.168.1.1"},
		{"x-real-ip", map[string]string{"X-Real-IP": "192.168.1.2"}, "10.0.0.1:1234", "192.168.1.2"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "192.168.1.1", "X-Real-IP": "192.168.1.2"}, "10.0.0.1:1234", "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}
