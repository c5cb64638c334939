package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting per client
type RateLimiter struct {
	clients map[string]*clientBucket
	mutex   sync.Mutex

	perMinute int
	burst     int
	now       func() time.Time
}

type clientBucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimitInfo describes a client's remaining budget
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetTime time.Time
}

// NewRateLimiter creates a limiter refilling perMinute tokens per minute up to burst
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients:   make(map[string]*clientBucket),
		perMinute: perMinute,
		burst:     burst,
		now:       time.Now,
	}
}

// Allow checks if a request should be allowed for the given client
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	bucket := rl.refillLocked(clientID)
	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// GetLimits returns the current rate limit status for a client
func (rl *RateLimiter) GetLimits(clientID string) RateLimitInfo {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	bucket := rl.refillLocked(clientID)
	missing := float64(rl.burst) - bucket.tokens
	reset := rl.now()
	if missing > 0 && rl.perMinute > 0 {
		reset = reset.Add(time.Duration(missing / float64(rl.perMinute) * float64(time.Minute)))
	}
	return RateLimitInfo{
		Limit:     rl.perMinute,
		Remaining: int(bucket.tokens),
		ResetTime: reset,
	}
}

func (rl *RateLimiter) refillLocked(clientID string) *clientBucket {
	now := rl.now()
	bucket, exists := rl.clients[clientID]
	if !exists {
		bucket = &clientBucket{tokens: float64(rl.burst), lastRefill: now}
		rl.clients[clientID] = bucket
		return bucket
	}

	elapsed := now.Sub(bucket.lastRefill)
	bucket.tokens += elapsed.Minutes() * float64(rl.perMinute)
	if bucket.tokens > float64(rl.burst) {
		bucket.tokens = float64(rl.burst)
	}
	bucket.lastRefill = now
	return bucket
}

// RateLimitMiddleware rejects requests over budget with 429
func (rl *RateLimiter) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := getClientID(r)
		allowed := rl.Allow(clientID)

		limits := rl.GetLimits(clientID)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limits.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limits.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", limits.ResetTime.Unix()))

		if !allowed {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientID extracts a client identifier from the request
func getClientID(r *http.Request) string {
	clientIP := r.Header.Get("X-Forwarded-For")
	if clientIP != "" {
		clientIP = strings.TrimSpace(strings.Split(clientIP, ",")[0])
	}
	if clientIP == "" {
		clientIP = r.Header.Get("X-Real-IP")
	}
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}

	if host, _, err := net.SplitHostPort(clientIP); err == nil {
		return host
	}
	return clientIP
}

// CleanupExpiredClients removes buckets idle for over an hour
func (rl *RateLimiter) CleanupExpiredClients() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for clientID, bucket := range rl.clients {
		if now.Sub(bucket.lastRefill) > time.Hour {
			delete(rl.clients, clientID)
		}
	}
}
