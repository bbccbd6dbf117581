package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want ClientInfo
	}{
		{
			name: "iphone safari",
			ua:   "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148",
			want: ClientInfo{Platform: "ios", Mobile: true},
		},
		{
			name: "android chrome",
			ua:   "Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/120.0 Mobile Safari/537.36",
			want: ClientInfo{Platform: "android", Mobile: true},
		},
		{
			name: "windows desktop",
			ua:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
			want: ClientInfo{Platform: "windows"},
		},
		{
			name: "macos desktop",
			ua:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15",
			want: ClientInfo{Platform: "macos"},
		},
		{
			name: "linux desktop",
			ua:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/121.0",
			want: ClientInfo{Platform: "linux"},
		},
		{
			name: "googlebot",
			ua:   "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			want: ClientInfo{Platform: "other", Bot: true},
		},
		{
			name: "curl",
			ua:   "curl/8.4.0",
			want: ClientInfo{Platform: "other", Bot: true},
		},
		{
			name: "unknown",
			ua:   "vessel-sdk/1.2",
			want: ClientInfo{Platform: "other"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUserAgent(tt.ua)
			if got.Platform != tt.want.Platform {
				t.Errorf("platform = %q, want %q", got.Platform, tt.want.Platform)
			}
			if got.Mobile != tt.want.Mobile {
				t.Errorf("mobile = %v, want %v", got.Mobile, tt.want.Mobile)
			}
			if got.Bot != tt.want.Bot {
				t.Errorf("bot = %v, want %v", got.Bot, tt.want.Bot)
			}
			if got.Raw != tt.ua {
				t.Errorf("raw = %q, want %q", got.Raw, tt.ua)
			}
		})
	}
}

func TestParseUserAgent_Empty(t *testing.T) {
	got := ParseUserAgent("")
	if got.Platform != "" || got.Mobile || got.Bot {
		t.Errorf("empty agent should produce a zero descriptor, got %+v", got)
	}
}

func TestClientInfoHook(t *testing.T) {
	chain := NewChain().Before("client-info", ClientInfoHook())

	var seen ClientInfo
	var ok bool
	h := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = ClientInfoFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14) Mobile")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !ok {
		t.Fatal("descriptor missing from context")
	}
	if seen.Platform != "android" || !seen.Mobile {
		t.Errorf("descriptor = %+v, want android mobile", seen)
	}
}
