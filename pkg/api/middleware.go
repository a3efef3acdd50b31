package api

import (
	"crypto/subtle"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/apperr"
)

// securityHeaders sets standard response headers, mirroring tarsy's
// securityHeaders middleware.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// corsMiddleware allows only the configured origins (spec §6 "CORS origin
// allowlist from env"). An empty allowlist allows no cross-origin requests
// at all — same-origin calls are unaffected since browsers don't send
// Origin for those.
func corsMiddleware(allowed []string) echo.MiddlewareFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		allowedSet[o] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin != "" {
				if _, ok := allowedSet[origin]; ok {
					h := c.Response().Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					h.Set("Vary", "Origin")
				}
			}
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// bearerAuth enforces Authorization: Bearer <API_KEY> with a constant-time
// comparison (spec §6), so response timing can't be used to narrow down
// the key byte by byte.
func bearerAuth(apiKey string) echo.MiddlewareFunc {
	const prefix = "Bearer "
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
				return mapError(apperr.ErrUnauthorized)
			}
			presented := header[len(prefix):]
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				return mapError(apperr.ErrUnauthorized)
			}
			return next(c)
		}
	}
}

// rateLimiter is a per-client-IP sliding-window limiter (spec §6), grounded
// on r3e's infrastructure/middleware.RateLimiter: one golang.org/x/time/rate
// limiter per key, created lazily.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
	window   time.Duration
}

func newRateLimiter(max int, window time.Duration) echo.MiddlewareFunc {
	if window <= 0 {
		window = time.Second
	}
	rl := &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(float64(max) / window.Seconds()),
		burst:    max,
		window:   window,
	}
	return rl.middleware
}

func (rl *rateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.r, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *rateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		key := c.Request().RemoteAddr
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
		if !rl.limiterFor(key).Allow() {
			seconds := int(math.Ceil(rl.window.Seconds()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
			return mapError(apperr.ErrRateLimited)
		}
		return next(c)
	}
}
