package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	a := &API{}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:4312"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")

	assert.Equal(t, "203.0.113.7", a.extractClientIP(r))
}

func TestExtractClientIPHonorsTrustedProxy(t *testing.T) {
	a := &API{trustedProxies: []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:8080"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 192.0.2.10")

	assert.Equal(t, "203.0.113.7", a.extractClientIP(r))
}

func TestExtractClientIPFallsBackOnGarbageHeader(t *testing.T) {
	a := &API{trustedProxies: []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:8080"
	r.Header.Set("X-Forwarded-For", "not-an-ip")

	assert.Equal(t, "192.0.2.10", a.extractClientIP(r))
}

func TestParseIPCandidate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"203.0.113.7:4312", "203.0.113.7", true},
		{"203.0.113.7", "203.0.113.7", true},
		{"[2001:db8::1]:443", "2001:db8::1", true},
		{"2001:db8::1", "2001:db8::1", true},
		{"fe80::1%eth0", "fe80::1", true},
		{"", "", false},
		{"not-an-ip", "", false},
	}
	for _, tt := range tests {
		got, ok := parseIPCandidate(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
