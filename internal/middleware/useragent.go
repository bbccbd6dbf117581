package middleware

import (
	"context"
	"net/http"
	"strings"
)

type clientInfoKey string

// ClientInfoKey carries the coarse client descriptor parsed from the
// User-Agent header.
const ClientInfoKey clientInfoKey = "client_info"

// ClientInfo is a coarse descriptor of the calling client. Parsing is
// deliberately shallow: enough to branch on platform or flag bots, not
// a full UA database.
type ClientInfo struct {
	Raw      string
	Platform string
	Mobile   bool
	Bot      bool
}

// ParseUserAgent classifies a User-Agent value. Unknown agents get
// Platform "other"; an empty value yields a zero descriptor.
func ParseUserAgent(ua string) ClientInfo {
	info := ClientInfo{Raw: ua}
	if ua == "" {
		return info
	}
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "bot"),
		strings.Contains(lower, "spider"),
		strings.Contains(lower, "crawler"),
		strings.HasPrefix(lower, "curl/"),
		strings.HasPrefix(lower, "wget/"):
		info.Bot = true
	}

	switch {
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"), strings.Contains(lower, "ios"):
		info.Platform = "ios"
		info.Mobile = true
	case strings.Contains(lower, "android"):
		info.Platform = "android"
		info.Mobile = true
	case strings.Contains(lower, "windows"):
		info.Platform = "windows"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		info.Platform = "macos"
	case strings.Contains(lower, "linux"):
		info.Platform = "linux"
	default:
		info.Platform = "other"
	}
	if strings.Contains(lower, "mobile") {
		info.Mobile = true
	}
	return info
}

// ClientInfoHook returns a before hook that stores the parsed
// descriptor in the request context.
func ClientInfoHook() BeforeHook {
	return func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
		info := ParseUserAgent(r.UserAgent())
		ctx := context.WithValue(r.Context(), ClientInfoKey, info)
		return r.WithContext(ctx), false
	}
}

// ClientInfoFromContext returns the descriptor stored by ClientInfoHook.
func ClientInfoFromContext(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(ClientInfoKey).(ClientInfo)
	return info, ok
}
