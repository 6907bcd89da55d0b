package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per client, keyed by remote address.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterState
	rate       rate.Limit
	burst      int
	expiration time.Duration
	ticker     *time.Ticker
	done       chan struct{}
}

type limiterState struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// RateLimiterConfig configures the per-client limits.
type RateLimiterConfig struct {
	// Rate is the sustained request rate per second per client.
	Rate float64

	// Burst is the bucket depth per client.
	Burst int

	// Expiration is how long an idle client's bucket is kept around.
	Expiration time.Duration
}

// NewRateLimiter starts a limiter with a background sweep of idle buckets.
// Call Stop when the server shuts down.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		limiters:   make(map[string]*limiterState),
		rate:       rate.Limit(cfg.Rate),
		burst:      cfg.Burst,
		expiration: cfg.Expiration,
		ticker:     time.NewTicker(cfg.Expiration),
		done:       make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *RateLimiter) getLimiter(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.limiters[clientID]
	if !ok {
		state = &limiterState{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[clientID] = state
	}
	state.lastUsed = time.Now()
	return state.limiter
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for clientID, state := range rl.limiters {
		if time.Since(state.lastUsed) > rl.expiration {
			delete(rl.limiters, clientID)
		}
	}
}

func (rl *RateLimiter) sweepLoop() {
	for {
		select {
		case <-rl.ticker.C:
			rl.sweep()
		case <-rl.done:
			return
		}
	}
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	close(rl.done)
	rl.ticker.Stop()
}

// Middleware rejects requests over the client's limit with 429. The client
// key is the remote host so one misbehaving operator script cannot starve
// the dashboard.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(clientKey(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
