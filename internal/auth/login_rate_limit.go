package auth

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"roadpress-admin/internal/httpx"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginRateLimiter throttles credential endpoints per client IP with a token
// bucket of maxHits tokens refilled over window.
type LoginRateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	window    time.Duration
	byIP      map[string]*ipLimiter
	maxMemory int
	clientKey func(*http.Request) string
	now       func() time.Time
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		limit:     rate.Limit(float64(maxHits) / window.Seconds()),
		burst:     maxHits,
		window:    window,
		byIP:      make(map[string]*ipLimiter),
		maxMemory: 5000,
		clientKey: httpx.RemoteIP,
		now:       time.Now,
	}
}

// TrustForwardedFor keys clients by the proxy-appended X-Forwarded-For hop
// instead of the connection peer. Only enable it behind a proxy that sets
// that header.
func (l *LoginRateLimiter) TrustForwardedFor() *LoginRateLimiter {
	l.clientKey = httpx.ClientIP
	return l
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(l.clientKey(r), l.now())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			httpx.WriteError(w, httpx.TooManyRequests("too many login attempts"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byIP[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byIP[ip] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, l.window
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		if delay < time.Second {
			delay = time.Second
		}
		return false, delay
	}

	if len(l.byIP) > l.maxMemory {
		threshold := now.Add(-l.window)
		for key, value := range l.byIP {
			if value.lastSeen.Before(threshold) {
				delete(l.byIP, key)
			}
		}
	}

	return true, 0
}
