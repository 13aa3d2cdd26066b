package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/sakif/codesnip/internal/auth"
)

// maxClients bounds the limiter table. When it is full the least recently
// seen client is evicted and starts over with a fresh budget.
const maxClients = 10000

const rateLimitedMessage = "Too many requests, please try again later."

// RateLimiter gives every client a token bucket of budget requests that
// refills evenly over window. A client is the authenticated user when the
// limiter runs after auth.RequireAuth, otherwise the remote IP (as rewritten
// by chi's RealIP).
type RateLimiter struct {
	name   string
	limit  rate.Limit
	burst  int
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter returns a limiter allowing budget requests per window per
// client. A budget of zero disables it: Handler then passes everything.
func NewRateLimiter(name string, budget int, window time.Duration, logger *slog.Logger) *RateLimiter {
	l := &RateLimiter{
		name:   name,
		burst:  budget,
		logger: logger.With(slog.String("limiter", name)),
		now:    time.Now,
	}
	if budget <= 0 || window <= 0 {
		return l
	}

	l.limit = rate.Every(window / time.Duration(budget))
	// lru.New only fails for a non-positive size.
	l.clients, _ = lru.New[string, *rate.Limiter](maxClients)
	return l
}

func (l *RateLimiter) enabled() bool {
	return l.clients != nil
}

// limiterFor returns the bucket for key, creating it on first sight. The
// mutex makes get-or-create atomic so two concurrent first requests share
// one bucket.
func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.clients.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.clients.Add(key, lim)
	return lim
}

// Allow spends one token for key. When the bucket is empty it returns false
// and how long until the next token is available.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if !l.enabled() {
		return true, 0
	}

	now := l.now()
	res := l.limiterFor(key).ReserveN(now, 1)
	if !res.OK() {
		return false, 0
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Handler is the middleware. Rejected requests get 429 with a Retry-After
// header in whole seconds.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	if !l.enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		ok, retry := l.Allow(key)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		l.logger.Warn("rate limit exceeded",
			slog.String("client", key),
			slog.String("path", r.URL.Path),
		)

		secs := int(math.Ceil(retry.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": rateLimitedMessage,
		})
	})
}

func clientKey(r *http.Request) string {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + id
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + host
}
