package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func newDeleteRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/delete-account", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimiter_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter("delete_account", RateLimiterConfig{Rate: 1, Burst: 5, CleanupInterval: time.Minute})
	defer rl.Stop()

	calls := 0
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newDeleteRequest("192.0.2.1:1234"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
	if calls != 5 {
		t.Errorf("handler call count = %d, want 5", calls)
	}
}

func TestRateLimiter_Returns429WhenExceeded(t *testing.T) {
	rl := NewRateLimiter("delete_account", PerMinute(2))
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newDeleteRequest("192.0.2.1:1234"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newDeleteRequest("192.0.2.1:5678")) // ポートが違っても同一クライアント

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not a number: %q", w.Header().Get("Retry-After"))
	}
	if retryAfter != 30 { // 2 req/min → 30秒で1トークン
		t.Errorf("Retry-After = %d, want 30", retryAfter)
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != "Too many requests" {
		t.Errorf("error = %q, want %q", body.Error, "Too many requests")
	}
}

func TestRateLimiter_SeparateClients(t *testing.T) {
	rl := NewRateLimiter("delete_account", RateLimiterConfig{Rate: 0.01, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newDeleteRequest("192.0.2.1:1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newDeleteRequest("192.0.2.2:1"))
	if w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want %d", w.Code, http.StatusOK)
	}
	if n := rl.LimiterCount(); n != 2 {
		t.Errorf("LimiterCount() = %d, want 2", n)
	}
}

func TestRateLimiter_Cleanup_RemovesStaleEntries(t *testing.T) {
	rl := NewRateLimiter("delete_account", RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	rl.limiterFor("192.0.2.1")
	rl.limiterFor("192.0.2.2")

	rl.cleanup(time.Now().Add(3 * time.Hour))

	if n := rl.LimiterCount(); n != 0 {
		t.Errorf("LimiterCount() after cleanup = %d, want 0", n)
	}
}

func TestRateLimiter_Cleanup_KeepsRecentEntries(t *testing.T) {
	rl := NewRateLimiter("delete_account", RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	rl.limiterFor("192.0.2.1")
	rl.cleanup(time.Now().Add(time.Hour))

	if n := rl.LimiterCount(); n != 1 {
		t.Errorf("LimiterCount() = %d, want 1", n)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter("delete_account", RateLimiterConfig{Rate: 1000, Burst: 1000, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), newDeleteRequest("192.0.2.1:1"))
		}()
	}
	wg.Wait()

	if n := rl.LimiterCount(); n != 1 {
		t.Errorf("LimiterCount() = %d, want 1", n)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter("delete_account", PerMinute(10))
	rl.Stop()
	rl.Stop()
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(10)
	if cfg.Burst != 10 {
		t.Errorf("Burst = %d, want 10", cfg.Burst)
	}
	if got := float64(cfg.Rate) * 60; got < 9.99 || got > 10.01 {
		t.Errorf("Rate*60 = %v, want 10", got)
	}

	if cfg := PerMinute(0); cfg.Burst != 1 {
		t.Errorf("PerMinute(0).Burst = %d, want 1", cfg.Burst)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"}, // RealIPで書き換えられた場合はポートなし
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
