package gateway

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/swarmhq/swarmd/pkg/auth"
	"github.com/swarmhq/swarmd/pkg/logger"
)

// protect wraps a handler with bearer authentication, the capability
// check and per-credential rate limiting. Authentication failures are
// 401, capability failures 403, limit failures 429.
func (s *Server) protect(capability auth.Capability, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, "invalid Authorization format")
			return
		}

		cred, ok := s.creds.Authenticate(header[len(prefix):])
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}

		if !cred.Allows(capability) {
			logger.WarnCF("gateway", "Capability denied", map[string]any{
				"capability": string(capability),
				"path":       r.URL.Path,
			})
			writeError(w, http.StatusForbidden, "credential lacks capability "+string(capability))
			return
		}

		if !s.limiter.allow(header[len(prefix):]) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next(w, r)
	}
}

// rateLimiter keeps one token bucket per credential.
type rateLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		perMin:   requestsPerMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *rateLimiter) allow(token string) bool {
	if l.perMin <= 0 {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[token]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin)
		l.limiters[token] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
