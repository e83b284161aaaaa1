package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sapayroll/internal/transport/http/api"
)

type RateLimitKeyFunc func(r *http.Request) string

type RateLimitOption func(*keyedLimiter)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type keyedLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	keyFn    RateLimitKeyFunc
	limiters map[string]*limiterEntry
}

func WithKeyFunc(fn RateLimitKeyFunc) RateLimitOption {
	return func(kl *keyedLimiter) {
		if fn != nil {
			kl.keyFn = fn
		}
	}
}

// RateLimit allows perSecond requests per caller with the given burst. Callers
// are keyed by user when authenticated and by client IP otherwise.
func RateLimit(perSecond float64, burst int, opts ...RateLimitOption) func(http.Handler) http.Handler {
	kl := newKeyedLimiter(rate.Limit(perSecond), burst, actorOrIPKey)
	for _, opt := range opts {
		opt(kl)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !kl.enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SensitiveMutationRateLimit applies a tighter per-actor budget to run
// generation, validation, commit and discard.
func SensitiveMutationRateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	kl := newKeyedLimiter(rate.Limit(perSecond/4), max(burst/4, 1), actorOrIPKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSensitiveMutation(r) && !kl.enforce(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorOrIPKey(r *http.Request) string {
	if user, ok := GetUser(r.Context()); ok && user.UserID != "" {
		return "user:" + user.PracticeID + ":" + user.UserID
	}
	return clientIPKey(r)
}

func clientIPKey(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if value := strings.TrimSpace(first); value != "" {
			return value
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// ClientIP returns the caller address used for audit records.
func ClientIP(r *http.Request) string {
	return clientIPKey(r)
}

func newKeyedLimiter(r rate.Limit, burst int, keyFn RateLimitKeyFunc) *keyedLimiter {
	if keyFn == nil {
		keyFn = actorOrIPKey
	}
	return &keyedLimiter{
		rate:     r,
		burst:    burst,
		idleTTL:  10 * time.Minute,
		keyFn:    keyFn,
		limiters: map[string]*limiterEntry{},
	}
}

func (kl *keyedLimiter) get(key string, now time.Time) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	for k, entry := range kl.limiters {
		if now.Sub(entry.lastSeen) > kl.idleTTL {
			delete(kl.limiters, k)
		}
	}
	entry, ok := kl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(kl.rate, kl.burst)}
		kl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (kl *keyedLimiter) enforce(w http.ResponseWriter, r *http.Request) bool {
	if kl.rate <= 0 || kl.burst <= 0 {
		return true
	}
	key := kl.keyFn(r)
	if key == "" {
		key = clientIPKey(r)
	}
	now := time.Now()
	limiter := kl.get(key, now)

	reservation := limiter.ReserveN(now, 1)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(kl.burst))
	if !reservation.OK() {
		return kl.reject(w, r, key, 1)
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return kl.reject(w, r, key, int(delay.Seconds())+1)
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(int(limiter.TokensAt(now)), 0)))
	return true
}

func (kl *keyedLimiter) reject(w http.ResponseWriter, r *http.Request, key string, retryAfter int) bool {
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
	slog.Warn("rate limit exceeded",
		"key", key,
		"path", r.URL.Path,
		"method", r.Method,
		"burst", kl.burst,
	)
	api.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
	return false
}

func isSensitiveMutation(r *http.Request) bool {
	if r == nil {
		return false
	}
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method != http.MethodPost && method != http.MethodDelete {
		return false
	}
	path := strings.TrimPrefix(strings.TrimSpace(r.URL.Path), "/api/v1")
	if strings.HasPrefix(path, "/practices/") && strings.HasSuffix(path, "/payroll/runs") {
		return true
	}
	if !strings.HasPrefix(path, "/payroll/runs/") {
		return false
	}
	return method == http.MethodDelete || strings.HasSuffix(path, "/validate") || strings.HasSuffix(path, "/commit")
}
