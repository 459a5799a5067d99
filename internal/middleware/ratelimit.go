package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Strob0t/StreamForge/internal/config"
)

// maxTrackedClients caps the bucket map so a flood of source addresses
// cannot exhaust memory.
const maxTrackedClients = 100_000

// RateLimiter is per-client token bucket rate limiting middleware.
// Clients are keyed by remote address; proxy headers are not trusted.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rate    float64
	burst   float64
	now     func() time.Time
}

type tokenBucket struct {
	tokens  float64
	updated time.Time
}

// NewRateLimiter creates a limiter refilling at cfg.RequestsPerSecond up to cfg.Burst.
func NewRateLimiter(cfg config.Rate) *RateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	rate := cfg.RequestsPerSecond
	if rate <= 0 {
		rate = 1
	}
	return &RateLimiter{
		clients: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Handler enforces the limit. Rejected requests get 429 with Retry-After.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.take(clientKey(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(int(rl.burst)))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take consumes one token for key.
func (rl *RateLimiter) take(key string) (remaining int, wait time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, found := rl.clients[key]
	if !found {
		if len(rl.clients) >= maxTrackedClients {
			return 0, time.Second, false
		}
		b = &tokenBucket{tokens: rl.burst, updated: now}
		rl.clients[key] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.updated).Seconds()*rl.rate)
	b.updated = now
	if b.tokens < 1 {
		return 0, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second)), false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup drops buckets idle longer than maxIdle every interval until
// the returned func is called.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for key, b := range rl.clients {
		if b.updated.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
