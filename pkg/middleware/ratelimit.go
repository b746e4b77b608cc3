package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/shopadmin/pkg/httputil"
	"github.com/platinummonkey/shopadmin/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
	// TrustedProxies lists the IPs or CIDRs whose forwarding headers are
	// believed. Headers from any other peer are ignored.
	TrustedProxies []string
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	Config() RateLimitConfig
}

// MemoryLimiter implements a per-process token bucket
type MemoryLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryLimiter creates a token bucket limiter
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Config() RateLimitConfig { return l.config }

// Allow takes a token from key's bucket, refilling it for the time elapsed
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(l.config.RequestsPerWindow + l.config.BurstSize)

	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: capacity, lastUpdate: now}
		l.buckets[key] = b
	}

	rate := float64(l.config.RequestsPerWindow) / l.config.WindowDuration.Seconds()
	b.tokens += now.Sub(b.lastUpdate).Seconds() * rate
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastUpdate = now

	if b.tokens < 1 {
		return false, 0, nil
	}
	b.tokens--
	return true, int(b.tokens), nil
}

// Cleanup removes buckets idle for more than two windows
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > l.config.WindowDuration*2 {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (l *MemoryLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RedisLimiter implements a fixed-window counter shared by every instance
type RedisLimiter struct {
	redis  redis.UniversalClient
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a new Redis-backed rate limiter
func NewRedisLimiter(client redis.UniversalClient, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{redis: client, config: config, prefix: prefix}
}

func (l *RedisLimiter) Config() RateLimitConfig { return l.config }

// Allow increments the window counter for key
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return true, 0, fmt.Errorf("redis error: %w", err)
		}
	}

	limit := int64(l.config.RequestsPerWindow + l.config.BurstSize)
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit, int(remaining), nil
}

// RateLimit limits requests per authenticated subject, or per client IP
// for anonymous callers. Limiter errors fail open.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	proxies := parseProxies(limiter.Config().TrustedProxies)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r, proxies)
			if authCtx := GetAuthContext(r); authCtx != nil {
				key = "user:" + authCtx.Subject
			}

			allowed, remaining, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			cfg := limiter.Config()
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", cfg.WindowDuration.Seconds()))
				httputil.WriteMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// parseProxies accepts bare IPs and CIDRs. Unparseable entries are skipped.
func parseProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				continue
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		if _, n, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

func trusted(ip net.IP, proxies []*net.IPNet) bool {
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address. Forwarding headers are honoured only
// when the peer is a trusted proxy.
func clientIP(r *http.Request, proxies []*net.IPNet) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil || !trusted(peer, proxies) {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return host
}
