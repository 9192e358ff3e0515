package websocket

import (
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestOriginPolicy_Allowed(t *testing.T) {
	policy := NewOriginPolicy([]string{" https://School.Example ", "not a url", "", "http://localhost:3000"}, false, zaptest.NewLogger(t))

	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"no origin header", "hub.example", "", true},
		{"listed", "hub.example", "https://school.example", true},
		{"listed case-insensitive with path", "hub.example", "HTTPS://SCHOOL.EXAMPLE/dashboard", true},
		{"listed with port", "hub.example", "http://localhost:3000", true},
		{"wrong port", "hub.example", "http://localhost:4000", false},
		{"wrong scheme", "hub.example", "http://school.example", false},
		{"same host", "hub.example:8080", "https://hub.example:8080", true},
		{"unlisted", "hub.example", "https://evil.example", false},
		{"garbage", "hub.example", "::::", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://"+tt.host+"/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := policy.Allowed(r); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestOriginPolicy_WildcardAndDevMode(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")

	if !NewOriginPolicy([]string{"*"}, false, nil).Allowed(r) {
		t.Error("Wildcard should allow any origin")
	}
	if !NewOriginPolicy(nil, true, nil).Allowed(r) {
		t.Error("Dev mode should allow any origin")
	}
	if NewOriginPolicy(nil, false, nil).Allowed(r) {
		t.Error("Empty allow-list should reject cross-origin requests")
	}
}
