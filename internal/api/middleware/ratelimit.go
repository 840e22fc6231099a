package middleware

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/api/problem"
	"github.com/Togather-Foundation/eventbook/internal/config"
	"golang.org/x/time/rate"
)

// RateLimitTier groups endpoints sharing a per-client budget.
type RateLimitTier string

const (
	TierLogin          RateLimitTier = "login"
	TierPasswordReset  RateLimitTier = "password_reset"
	TierRegistration   RateLimitTier = "registration"
	rateLimitWindow                  = 15 * time.Minute
	limiterIdleTimeout               = 15 * time.Minute
)

var errRateLimited = errors.New("too many requests, try again later")

// RateLimiter keeps one token bucket per tier and client IP. Each tier allows
// a burst of its budget and refills it evenly over 15 minutes.
type RateLimiter struct {
	mu             sync.Mutex
	limiters       map[string]*limiterEntry
	budgets        map[RateLimitTier]int
	trustedProxies []*net.IPNet
	env            string
	now            func() time.Time
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig, env string) *RateLimiter {
	budget := cfg.LoginPer15Minutes
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		budgets: map[RateLimitTier]int{
			TierLogin:         budget,
			TierPasswordReset: budget,
			TierRegistration:  budget,
		},
		trustedProxies: parseCIDRs(cfg.TrustedProxyCIDRs),
		env:            env,
		now:            time.Now,
		stopCleanup:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Limit wraps next with the tier's budget. A non-positive budget disables it.
func (rl *RateLimiter) Limit(tier RateLimitTier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.limiter(tier, clientIP(r, rl.trustedProxies))
			if limiter == nil || limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			retryAfter := rateLimitWindow / time.Duration(rl.budgets[tier])
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			problem.Write(w, r, http.StatusTooManyRequests, problem.TypeRateLimited, "Too many requests", errRateLimited, rl.env)
		})
	}
}

func (rl *RateLimiter) limiter(tier RateLimitTier, key string) *rate.Limiter {
	budget := rl.budgets[tier]
	if budget <= 0 {
		return nil
	}
	lookup := string(tier) + ":" + key

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if entry, ok := rl.limiters[lookup]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Every(rateLimitWindow/time.Duration(budget)), budget)
	rl.limiters[lookup] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTimeout {
			delete(rl.limiters, key)
		}
	}
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// clientIP returns the caller's address. X-Forwarded-For and X-Real-IP are
// only honoured when the direct peer is a trusted proxy.
func clientIP(r *http.Request, trusted []*net.IPNet) string {
	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	if isTrustedProxy(remoteIP, trusted) {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}
	return remoteIP
}

func isTrustedProxy(ip string, trusted []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, cidr := range trusted {
		if cidr.Contains(parsed) {
			return true
		}
	}
	return false
}

func parseCIDRs(values []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(values))
	for _, value := range values {
		if _, cidr, err := net.ParseCIDR(strings.TrimSpace(value)); err == nil {
			out = append(out, cidr)
		}
	}
	return out
}
