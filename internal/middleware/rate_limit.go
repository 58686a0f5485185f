package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/respond"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-user request budget.
type RateLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[uuid.UUID]*limiterEntry
	now      func() time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMin:   perMinute,
		limiters: make(map[uuid.UUID]*limiterEntry),
		now:      time.Now,
	}
}

func (l *RateLimiter) allow(userID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[userID]
	if !ok {
		e = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin),
		}
		l.limiters[userID] = e
	}
	e.lastSeen = l.now()
	return e.limiter.AllowN(e.lastSeen, 1)
}

// Cleanup drops limiters idle for longer than ttl and reports how many.
func (l *RateLimiter) Cleanup(ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-ttl)
	removed := 0
	for id, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
			removed++
		}
	}
	return removed
}

// Middleware must run after Auth. A non-positive budget disables limiting.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if l.perMin <= 0 || user == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !l.allow(user.ID) {
				slog.Debug("rate limited", "user_id", user.ID, "limit", l.perMin)
				w.Header().Set("Retry-After", strconv.Itoa(int((time.Minute/time.Duration(l.perMin)).Seconds())+1))
				respond.Error(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
