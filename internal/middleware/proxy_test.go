package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vesselkit/vessel/internal/config"
)

func TestForceHTTPS(t *testing.T) {
	var scheme string
	handler := ForceHTTPS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme = r.URL.Scheme
	}))
	req := httptest.NewRequest("GET", "http://example.com/x", nil)
	req.URL.Scheme = "http"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if scheme != "https" {
		t.Errorf("expected https, got %q", scheme)
	}
}

func TestProxyUnwrapFor(t *testing.T) {
	var remote string
	var orig ForwardedOriginals
	handler := ProxyUnwrap(config.ProxyConfig{ForCount: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remote = r.RemoteAddr
		orig, _ = OriginalsFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if remote != "10.0.0.1" {
		t.Errorf("trust count 1 should take rightmost hop, got %q", remote)
	}
	if orig.RemoteAddr != "10.0.0.1:1234" {
		t.Errorf("original remote addr not preserved: %q", orig.RemoteAddr)
	}

	// Trusting two hops reaches the client address.
	handler = ProxyUnwrap(config.ProxyConfig{ForCount: 2})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remote = r.RemoteAddr
	}))
	req = httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if remote != "203.0.113.9" {
		t.Errorf("trust count 2 should reach the client, got %q", remote)
	}
}

func TestProxyUnwrapProtoHostPrefix(t *testing.T) {
	var gotScheme, gotHost, gotPath string
	cfg := config.ProxyConfig{ProtoCount: 1, HostCount: 1, PrefixCount: 1}
	handler := ProxyUnwrap(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotScheme = r.URL.Scheme
		gotHost = r.Host
		gotPath = r.URL.Path
	}))

	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "api.example.com")
	req.Header.Set("X-Forwarded-Prefix", "/v2")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotScheme != "https" {
		t.Errorf("expected https, got %q", gotScheme)
	}
	if gotHost != "api.example.com" {
		t.Errorf("expected forwarded host, got %q", gotHost)
	}
	if gotPath != "/v2/resource" {
		t.Errorf("expected prefixed path, got %q", gotPath)
	}
}

func TestProxyUnwrapUntrusted(t *testing.T) {
	var remote string
	handler := ProxyUnwrap(config.ProxyConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remote = r.RemoteAddr
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if remote != "10.0.0.1:1234" {
		t.Errorf("untrusted headers must be ignored, got %q", remote)
	}
}
