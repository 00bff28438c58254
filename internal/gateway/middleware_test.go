package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eleven-am/voice-intake/internal/shared"
	"github.com/labstack/echo/v4"
)

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.RequestsPerSecond <= 0 {
		t.Errorf("RequestsPerSecond = %v, want > 0", cfg.RequestsPerSecond)
	}
	if cfg.Burst < 1 {
		t.Errorf("Burst = %d, want >= 1", cfg.Burst)
	}
	if cfg.CleanupInterval <= 0 {
		t.Errorf("CleanupInterval = %v, want > 0", cfg.CleanupInterval)
	}
}

func TestRateLimiterStore_GetLimiter(t *testing.T) {
	store := newRateLimiterStore(RateLimiterConfig{RequestsPerSecond: 10, Burst: 20, CleanupInterval: time.Hour})

	limiter1 := store.getLimiter("key1")
	if limiter1 == nil {
		t.Fatal("expected limiter to be created")
	}
	if store.getLimiter("key1") != limiter1 {
		t.Error("expected same limiter to be returned")
	}
	if store.getLimiter("key2") == limiter1 {
		t.Error("expected different limiter for different key")
	}
}

func TestRateLimiterStore_Cleanup(t *testing.T) {
	now := time.Now()
	store := newRateLimiterStore(RateLimiterConfig{RequestsPerSecond: 10, Burst: 20, CleanupInterval: time.Minute})
	store.now = func() time.Time { return now }

	store.getLimiter("idle")
	now = now.Add(30 * time.Second)
	store.getLimiter("busy")

	now = now.Add(40 * time.Second)
	store.getLimiter("busy")

	if store.size() != 1 {
		t.Errorf("expected idle limiter evicted, %d remain", store.size())
	}
}

func TestRateLimiter_AllowsRequests(t *testing.T) {
	e := echo.New()
	handler := RateLimiter(RateLimiterConfig{RequestsPerSecond: 100, Burst: 100, CleanupInterval: time.Hour})(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimiter_BlocksExcessiveRequests(t *testing.T) {
	e := echo.New()
	handler := RateLimiter(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Hour})(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	blocked := 0
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
		rec := httptest.NewRecorder()

		err := handler(e.NewContext(req, rec))
		if i == 0 {
			if err != nil {
				t.Fatalf("first request should succeed, got %v", err)
			}
			continue
		}
		if err == nil {
			continue
		}
		he, ok := err.(*echo.HTTPError)
		if !ok {
			t.Fatalf("expected *echo.HTTPError, got %T", err)
		}
		if he.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want %d", he.Code, http.StatusTooManyRequests)
		}
		if apiErr, ok := he.Message.(*shared.APIError); !ok || apiErr.Code != "rate_limit_exceeded" {
			t.Errorf("unexpected error body %v", he.Message)
		}
		blocked++
	}

	if blocked == 0 {
		t.Error("expected at least one request to be blocked")
	}
}

func TestRateLimiter_SeparatesClients(t *testing.T) {
	e := echo.New()
	handler := RateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, Burst: 1, CleanupInterval: time.Hour})(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
		req.Header.Set(echo.HeaderXRealIP, ip)
		if err := handler(e.NewContext(req, httptest.NewRecorder())); err != nil {
			t.Errorf("client %s should have its own budget, got %v", ip, err)
		}
	}
}
