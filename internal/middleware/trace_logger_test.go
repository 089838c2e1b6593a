package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/patrickwarner/videoadserve/internal/logic/ratelimit"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

func TestWithTraceLogger_AttachesRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	h := WithTraceLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LoggerFromRequest(r, zap.NewNop()).Info("handled")
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "req-123", entries[0].ContextMap()["request_id"])
	}
}

func TestWithTraceLogger_GeneratesRequestID(t *testing.T) {
	h := WithTraceLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestLoggerFromContext_Fallback(t *testing.T) {
	fallback := zap.NewNop()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Same(t, fallback, LoggerFromRequest(req, fallback))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4321"
	assert.Equal(t, "10.0.0.5", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewKeyedLimiter("events", ratelimit.Config{Capacity: 1, RefillRate: 0.001, Enabled: true}, observability.NewNoOpRegistry())
	h := RateLimit(limiter, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		req.RemoteAddr = "198.51.100.7:1000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusNoContent, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
