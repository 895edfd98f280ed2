package dashboard

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leanprover/radar/pkg/config"
)

const (
	visitorSweepInterval = 5 * time.Minute
	visitorIdleTimeout   = 10 * time.Minute
)

type visitor struct {
	bucket *rate.Limiter
	seen   time.Time
}

// tierLimiter keeps one token bucket per client address for a rate limit
// tier. Idle clients are swept periodically.
type tierLimiter struct {
	every rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newTierLimiter(tier config.RateLimitTier) *tierLimiter {
	l := &tierLimiter{
		every:    rate.Inf,
		burst:    tier.BurstSize(),
		visitors: make(map[string]*visitor),
	}

	if tier.RequestsPerMinute > 0 {
		l.every = rate.Every(time.Minute / time.Duration(tier.RequestsPerMinute))
	}

	return l
}

// allow takes a token for addr at now. When the bucket is empty it returns
// false and the time until the next token.
func (l *tierLimiter) allow(addr string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()

	v, ok := l.visitors[addr]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(l.every, l.burst)}
		l.visitors[addr] = v
	}

	v.seen = now
	l.mu.Unlock()

	res := v.bucket.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}

	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)

		return false, wait
	}

	return true, 0
}

// sweep forgets clients not seen since cutoff and returns how many.
func (l *tierLimiter) sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int

	for addr, v := range l.visitors {
		if v.seen.Before(cutoff) {
			delete(l.visitors, addr)

			removed++
		}
	}

	return removed
}

func (l *tierLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.visitors)
}

func (l *tierLimiter) sweepUntil(done <-chan struct{}) {
	ticker := time.NewTicker(visitorSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			l.sweep(now.Add(-visitorIdleTimeout))
		}
	}
}

// rateLimitMiddleware limits each client address to the budget of tier.
// Rejected requests carry a Retry-After header in whole seconds.
func (s *server) rateLimitMiddleware(name string, tier config.RateLimitTier) func(http.Handler) http.Handler {
	limiter := newTierLimiter(tier)
	log := s.log.WithField("tier", name)

	go limiter.sweepUntil(s.done)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientAddr(r)

			ok, wait := limiter.allow(addr, time.Now())
			if !ok {
				log.WithField("client", addr).Debug("Rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(wait)))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// clientAddr returns the host part of the remote address. Forwarding
// headers are only honoured through chi's RealIP, which rewrites
// RemoteAddr when dashboard.trust_proxy is set.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
