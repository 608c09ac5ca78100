package middleware

import (
	"net/http"
	"strings"

	"github.com/tansu-cloud/gateway/internal/util"
)

const maxLoggedValue = 200

// sensitiveHeaders are never logged, not even sanitized: credentials for the
// admin plane and anything a client may replay.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-admin-key":         {},
	"x-api-key":           {},
	"x-forwarded-for":     {},
}

// SanitizeHeaders returns a map of header keys to redacted/sanitized values
// for safe logging.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for key, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(key)]; ok {
			out[key] = []string{"<redacted>"}
			continue
		}
		sanitized := make([]string, 0, len(vals))
		for _, v := range vals {
			v = util.SanitizeForLog(v)
			if len(v) > maxLoggedValue {
				v = v[:maxLoggedValue]
			}
			sanitized = append(sanitized, v)
		}
		out[key] = sanitized
	}
	return out
}

// SanitizePath prepares a request path for safe logging: the query string is
// dropped, control characters removed, long values truncated.
func SanitizePath(p string) string {
	if i := strings.Index(p, "?"); i != -1 {
		p = p[:i]
	}
	p = util.SanitizeForLog(p)
	if len(p) > maxLoggedValue {
		p = p[:maxLoggedValue]
	}
	return p
}
