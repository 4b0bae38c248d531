package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   string
		ok     bool
	}{
		{name: "plain", origin: "http://localhost:8080", want: "http://localhost:8080", ok: true},
		{name: "uppercase host", origin: "HTTP://EXAMPLE.COM", want: "http://example.com", ok: true},
		{name: "https with port", origin: "https://app.example.com:443", want: "https://app.example.com:443", ok: true},
		{name: "missing scheme", origin: "example.com", ok: false},
		{name: "scheme only", origin: "http://", ok: false},
		{name: "empty", origin: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeOrigin(tt.origin)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestOriginPolicyCheck(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080", "https://app.example.com"}, discardLogger())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "allowed", origin: "http://localhost:8080", want: true},
		{name: "allowed case-insensitive", origin: "HTTPS://APP.EXAMPLE.COM", want: true},
		{name: "disallowed host", origin: "http://evil.example.com", want: false},
		{name: "disallowed port", origin: "http://localhost:9090", want: false},
		{name: "malformed", origin: "not a url", want: false},
		{name: "no origin header", origin: "", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.check(r))
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, discardLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://anywhere.example.com")
	assert.True(t, policy.check(r))

	r.Header.Set("Origin", ":::bad:::")
	assert.False(t, policy.check(r), "even the wildcard rejects unparseable origins")
}

func TestOriginPolicyIgnoresInvalidConfigEntries(t *testing.T) {
	policy := newOriginPolicy([]string{"", "not a url", "http://good.example.com"}, discardLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://good.example.com")
	assert.True(t, policy.check(r))
}
