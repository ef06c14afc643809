package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/angelmondragon/visamarket-backend/api/responses"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/redis"
)

// RateLimit caps each caller to limit requests per window on the wrapped routes.
// Anonymous requests share the client address as their bucket. A limiter outage lets
// traffic through.
func RateLimit(limiter redis.RateLimiter, scope string, limit int, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 || window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket := r.RemoteAddr
			if id, ok := IdentityFromContext(r.Context()); ok {
				bucket = id.UserID.String()
			}

			win, err := limiter.FixedWindowAllow(r.Context(), scope+":"+bucket, int64(limit), window)
			if err != nil {
				if logg != nil {
					logg.WarnErr(r.Context(), "rate limiter unavailable", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !win.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(win.ResetIn)))
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests").
					WithDetails(map[string]any{"limit": limit, "count": win.Count}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up so clients never retry inside the closed window.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}
