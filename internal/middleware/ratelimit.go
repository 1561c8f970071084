package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/filmlobby/groupsync-go/internal/audit"
	apperrors "github.com/filmlobby/groupsync-go/internal/errors"
	"github.com/filmlobby/groupsync-go/internal/httputil"
	"github.com/filmlobby/groupsync-go/internal/service"
)

// IPRateLimit throttles an endpoint per client IP with a Redis-backed
// sliding window. Create and join are the abusable surfaces: both mint
// database rows from unauthenticated input.
type IPRateLimit struct {
	limiter *service.RateLimiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimit(limiter *service.RateLimiter, limit int, window time.Duration, prefix string) *IPRateLimit {
	return &IPRateLimit{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr

		key := fmt.Sprintf("ip:%s:%s", m.prefix, ip)
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		if !allowed {
			audit.Log(r.Context(), audit.Event{
				Type: audit.EventRateLimitExceeded,
				IP:   ip,
				Details: map[string]interface{}{
					"endpoint": m.prefix,
				},
			})

			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
