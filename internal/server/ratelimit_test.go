package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"filedrop/internal/storage"
)

// fakeClock lets tests move the limiter's notion of now.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, requests int, window time.Duration) (*rateLimiter, *fakeClock) {
	t.Helper()
	rl := newRateLimiter(requests, window)
	t.Cleanup(rl.Close)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, _ := newTestLimiter(t, 3, time.Second)

	for i := 0; i < 3; i++ {
		if ok, _ := rl.allow("192.168.1.1"); !ok {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	ok, retryAfter := rl.allow("192.168.1.1")
	if ok {
		t.Error("4th request should be blocked")
	}
	if retryAfter <= 0 || retryAfter > time.Second {
		t.Errorf("Expected retry-after within the window, got %v", retryAfter)
	}

	// Different IP should be allowed
	if ok, _ := rl.allow("192.168.1.2"); !ok {
		t.Error("Different IP should be allowed")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl, clock := newTestLimiter(t, 2, 100*time.Millisecond)

	rl.allow("192.168.1.1")
	rl.allow("192.168.1.1")
	if ok, _ := rl.allow("192.168.1.1"); ok {
		t.Error("3rd request should be blocked")
	}

	clock.advance(110 * time.Millisecond)

	if ok, _ := rl.allow("192.168.1.1"); !ok {
		t.Error("Request should be allowed after window passes")
	}
}

func TestRateLimiter_BlockedRequestsDoNotConsume(t *testing.T) {
	rl, clock := newTestLimiter(t, 1, time.Second)

	rl.allow("10.0.0.1")
	for i := 0; i < 5; i++ {
		rl.allow("10.0.0.1")
	}

	clock.advance(time.Second)
	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Error("Rejected requests should not push the next token further out")
	}
}

func TestRateLimiter_Evict(t *testing.T) {
	rl, clock := newTestLimiter(t, 1, time.Second)

	rl.allow("10.0.0.1")
	clock.advance(3 * time.Second)
	rl.allow("10.0.0.2")
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["10.0.0.1"]; ok {
		t.Error("Expected idle visitor to be evicted")
	}
	if _, ok := rl.visitors["10.0.0.2"]; !ok {
		t.Error("Expected recent visitor to be kept")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 2, time.Minute)

	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Expected Retry-After 30, got %q", got)
	}
}

func TestRateLimiter_ProbesExempt(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.RateLimitRequests = 1
		c.RateLimitWindow = time.Hour
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/live", nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Probe %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/file/download/missing.txt", nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusNotFound || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [404 429], got %v", codes)
	}
}

func TestClientIPResolver(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", nil, "192.168.1.1:12345", nil, "192.168.1.1"},
		{"no port", nil, "unix-socket", nil, "unix-socket"},
		{"forwarded for ignored without proxies", nil, "198.51.100.9:1", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "198.51.100.9"},
		{"real ip ignored without proxies", nil, "198.51.100.9:1", map[string]string{"X-Real-IP": "203.0.113.7"}, "198.51.100.9"},
		{"spoofed header from untrusted peer", []string{"10.0.0.0/8"}, "198.51.100.9:1", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "198.51.100.9"},
		{"forwarded for behind proxy", []string{"10.0.0.0/8"}, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"rightmost untrusted hop", []string{"10.0.0.0/8"}, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7, 10.0.0.2"}, "203.0.113.7"},
		{"all hops trusted", []string{"10.0.0.0/8"}, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "10.0.0.3, 10.0.0.2"}, "10.0.0.3"},
		{"real ip behind proxy", []string{"127.0.0.1"}, "127.0.0.1:1", map[string]string{"X-Real-IP": " 198.51.100.2 "}, "198.51.100.2"},
		{"mapped proxy address", []string{"127.0.0.1"}, "[::ffff:127.0.0.1]:1", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newClientIPResolver(tt.trusted)
			if err != nil {
				t.Fatalf("newClientIPResolver(%v): %v", tt.trusted, err)
			}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := res.clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewClientIPResolver_Invalid(t *testing.T) {
	if _, err := newClientIPResolver([]string{"proxy.local"}); err == nil {
		t.Error("Expected an error for a hostname")
	}

	store, err := storage.Open(t.TempDir(), storage.DefaultOptions())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	_, err = New(Config{
		Storage:        store,
		Logger:         NewLogger(io.Discard, "json", LogLevelInfo),
		TrustedProxies: []string{"10.0.0.0/33"},
	})
	if err == nil {
		t.Error("Expected New to reject a bad trusted proxy")
	}
}

func TestRateLimiter_SpoofedForwardedFor(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.RateLimitRequests = 1
		c.RateLimitWindow = time.Hour
	})

	codes := make([]int, 0, 2)
	for _, spoofed := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodGet, "/file/download/missing.txt", nil)
		req.Header.Set("X-Forwarded-For", spoofed)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusNotFound || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [404 429], got %v", codes)
	}
}
