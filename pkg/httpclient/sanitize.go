package httpclient

import (
	"net/http"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
}

var sensitiveFragments = []string{
	"api-key",
	"apikey",
	"api_key",
	"token",
	"secret",
}

// SanitizeHeaders flattens h into a loggable map with credential-bearing
// values replaced by a redaction marker.
func SanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if IsSensitiveHeader(key) {
			out[key] = redacted
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// IsSensitiveHeader reports whether a header name carries credentials.
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	if sensitiveHeaders[lower] {
		return true
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
