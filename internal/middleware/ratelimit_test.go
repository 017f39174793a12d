package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/orgstore/orgstore/internal/config"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestAuthRateLimitConfig(t *testing.T) {
	cfg := AuthRateLimitConfig(nil)
	if cfg.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d, want 10", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 5 {
		t.Errorf("BurstSize = %d, want 5", cfg.BurstSize)
	}

	cfg = AuthRateLimitConfig(&config.RateLimitingConfig{RequestsPerMinute: 30, Burst: 2})
	if cfg.RequestsPerMinute != 30 || cfg.BurstSize != 2 {
		t.Errorf("got %+v, want 30 rpm burst 2", cfg)
	}
}

func TestNewLimiter(t *testing.T) {
	l, err := NewLimiter(&config.RateLimitingConfig{Backend: "memory"}, nil)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := l.(*RateLimiter); !ok {
		t.Errorf("memory backend returned %T", l)
	}
	l.(*RateLimiter).Stop()

	if _, err := NewLimiter(&config.RateLimitingConfig{Backend: "redis"}, nil); err == nil {
		t.Error("redis backend without client: expected error")
	}
	if _, err := NewLimiter(&config.RateLimitingConfig{Backend: "nginx"}, nil); err == nil {
		t.Error("unknown backend: expected error")
	}
}

// ---------------------------------------------------------------------------
// In-memory token bucket
// ---------------------------------------------------------------------------

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3})
	defer rl.Stop()
	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		d, _ := rl.Allow(context.Background(), "ip:1")
		if !d.Allowed {
			t.Fatalf("request %d rejected within burst", i+1)
		}
	}
	d, _ := rl.Allow(context.Background(), "ip:1")
	if d.Allowed {
		t.Fatal("request beyond burst allowed")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Errorf("RetryAfter = %v, want (0, 1s] at 1 token per second", d.RetryAfter)
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1})
	defer rl.Stop()
	now := time.Now()
	rl.now = func() time.Time { return now }

	if d, _ := rl.Allow(context.Background(), "k"); !d.Allowed {
		t.Fatal("first request rejected")
	}
	if d, _ := rl.Allow(context.Background(), "k"); d.Allowed {
		t.Fatal("second request allowed before refill")
	}
	now = now.Add(1100 * time.Millisecond)
	if d, _ := rl.Allow(context.Background(), "k"); !d.Allowed {
		t.Error("request rejected after refill")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1})
	defer rl.Stop()

	rl.Allow(context.Background(), "a")
	if d, _ := rl.Allow(context.Background(), "b"); !d.Allowed {
		t.Error("key b throttled by key a")
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 10, BurstSize: 1})
	rl.Stop()
	rl.Stop()
}

// ---------------------------------------------------------------------------
// Redis limiter
// ---------------------------------------------------------------------------

func newRedisLimiter(t *testing.T, rpm, burst int) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisRateLimiter(rdb, RateLimitConfig{RequestsPerMinute: rpm, BurstSize: burst}), mr
}

func TestRedisRateLimiter_BurstThenReject(t *testing.T) {
	rl, _ := newRedisLimiter(t, 10, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := rl.Allow(ctx, "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected within burst", i+1)
		}
	}
	d, err := rl.Allow(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Error("request beyond burst allowed")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", d.RetryAfter)
	}

	if d, _ := rl.Allow(ctx, "ip:10.0.0.2"); !d.Allowed {
		t.Error("other client throttled")
	}
	if rl.Limit() != 10 {
		t.Errorf("Limit() = %d, want 10", rl.Limit())
	}
}

func TestRedisRateLimiter_BackendDown(t *testing.T) {
	rl, mr := newRedisLimiter(t, 10, 2)
	mr.Close()

	if _, err := rl.Allow(context.Background(), "k"); err == nil {
		t.Error("expected error with redis unavailable")
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type stubLimiter struct {
	decision Decision
	err      error
}

func (s stubLimiter) Allow(context.Context, string) (Decision, error) { return s.decision, s.err }
func (s stubLimiter) Limit() int                                      { return 10 }

func serveRateLimited(l Limiter) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(RateLimitMiddleware(l))
	r.POST("/admin/login", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/login", nil))
	return w
}

func TestRateLimitMiddleware_Allowed(t *testing.T) {
	w := serveRateLimited(stubLimiter{decision: Decision{Allowed: true, Remaining: 4}})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
}

func TestRateLimitMiddleware_Rejected(t *testing.T) {
	w := serveRateLimited(stubLimiter{decision: Decision{RetryAfter: 2500 * time.Millisecond}})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != strconv.Itoa(3) {
		t.Errorf("Retry-After = %q, want 3", got)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["detail"] != "Rate limit exceeded" {
		t.Errorf("detail = %q", body["detail"])
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	w := serveRateLimited(stubLimiter{err: context.DeadlineExceeded})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when limiter fails", w.Code)
	}
}

func TestRateLimitMiddleware_WithRedis(t *testing.T) {
	rl, _ := newRedisLimiter(t, 10, 1)

	if w := serveRateLimited(rl); w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	if w := serveRateLimited(rl); w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", w.Code)
	}
}
