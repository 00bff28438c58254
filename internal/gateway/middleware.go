package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/voice-intake/internal/shared"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig limits session control. A session start holds the
// microphone and opens a paid upstream connection, so bursts are kept small.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             5,
		CleanupInterval:   5 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiterStore struct {
	limiters    map[string]*limiterEntry
	mu          sync.Mutex
	config      RateLimiterConfig
	lastCleanup time.Time
	now         func() time.Time
}

func newRateLimiterStore(cfg RateLimiterConfig) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:    make(map[string]*limiterEntry),
		config:      cfg,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.config.CleanupInterval > 0 && now.Sub(s.lastCleanup) >= s.config.CleanupInterval {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) >= s.config.CleanupInterval {
				delete(s.limiters, k)
			}
		}
		s.lastCleanup = now
	}

	entry, exists := s.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst),
		}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *rateLimiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimiter throttles requests per client IP.
func RateLimiter(cfg RateLimiterConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			limiter := store.getLimiter(c.RealIP())
			if !limiter.Allow() {
				return shared.NewAPIError("rate_limit_exceeded", "too many requests").ToHTTP(http.StatusTooManyRequests)
			}
			return next(c)
		}
	}
}
