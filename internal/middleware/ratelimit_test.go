package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitBlocksOverLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := do("198.51.100.10:1234"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i+1, rr.Code)
		}
	}
	rr := do("198.51.100.10:1234")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit request: got %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After on throttled response")
	}

	if rr := do("198.51.100.11:1234"); rr.Code != http.StatusOK {
		t.Fatalf("other client should not be throttled, got %d", rr.Code)
	}
}

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{"forwarded single ip", "203.0.113.1", "198.51.100.10:1234", "203.0.113.1"},
		{"forwarded list uses first valid", " 203.0.113.1 , 198.51.100.2 ", "198.51.100.10:1234", "203.0.113.1"},
		{"garbage forwarded falls back to peer", "invalid", "198.51.100.10:1234", "198.51.100.10"},
		{"no forwarded uses peer host", "", "198.51.100.10:1234", "198.51.100.10"},
		{"ipv6 forwarded", "2001:db8::1", net.JoinHostPort("2001:db8::2", "443"), "2001:db8::1"},
		{"ipv6 peer fallback", "invalid", net.JoinHostPort("2001:db8::2", "443"), "2001:db8::2"},
		{"peer without port", "invalid", "203.0.113.1", "203.0.113.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}
