package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/config"
)

// visitorIdleTimeout is how long an idle client keeps its limiter
const visitorIdleTimeout = 3 * time.Minute

// RateLimiter limits requests per client IP with a token bucket
type RateLimiter struct {
	enabled  bool
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		enabled:  cfg.Enabled && cfg.Requests > 0 && cfg.Duration > 0,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}
	if rl.enabled {
		rl.limit = rate.Limit(float64(cfg.Requests) / cfg.Duration.Seconds())
		rl.burst = cfg.Requests
		go rl.cleanupVisitors()
	}
	return rl
}

// Limit rate limits requests based on IP address
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled || rl.visitor(ClientIP(r)).Allow() {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, apperrors.RateLimited("Rate limit exceeded. Please try again later."))
	})
}

// Stop ends the background cleanup
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) visitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes idle visitors every minute
func (rl *RateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > visitorIdleTimeout {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// UserLimiter admits at most a fixed number of actions per key in each window
type UserLimiter struct {
	enabled  bool
	requests int
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	start time.Time
	count int
}

// NewUserLimiter creates a per-user limiter
func NewUserLimiter(cfg *config.RateLimitConfig) *UserLimiter {
	return &UserLimiter{
		enabled:  cfg.Enabled && cfg.Requests > 0 && cfg.Duration > 0,
		requests: cfg.Requests,
		window:   cfg.Duration,
		now:      time.Now,
		windows:  make(map[string]*fixedWindow),
	}
}

// Allow records one action for key and reports whether it is within the limit
func (l *UserLimiter) Allow(key string) bool {
	if !l.enabled {
		return true
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.prune(now)
		l.windows[key] = &fixedWindow{start: now, count: 1}
		return true
	}
	if w.count >= l.requests {
		return false
	}
	w.count++
	return true
}

// prune drops expired windows; callers hold mu
func (l *UserLimiter) prune(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}

// ClientIP gets the client IP address from the request
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
