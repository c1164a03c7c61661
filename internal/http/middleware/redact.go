package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

var (
	// Expo and FCM style device tokens.
	pushTokenRE = regexp.MustCompile(`ExponentPushToken\[[^\]]*\]|\b[A-Za-z0-9_-]{20,}:APA91[A-Za-z0-9_-]{20,}\b`)
	emailRE     = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// token=... style query values
	secretParamRE = regexp.MustCompile(`(?i)\b(token|access_token|api_key)=[^&]*`)
)

// Redactor scrubs device tokens, emails and credentials from the request
// metadata written to access logs. Bodies are never logged.
type Redactor struct {
	masked map[string]struct{}
}

// NewRedactor masks Authorization, Cookie and Set-Cookie plus extra headers
// (case-insensitive).
func NewRedactor(extraHeaders ...string) *Redactor {
	r := &Redactor{masked: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}}
	for _, h := range extraHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.masked[h] = struct{}{}
		}
	}
	return r
}

// String scrubs a free-form value such as a raw query string.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	s = secretParamRE.ReplaceAllString(s, "$1=[REDACTED]")
	s = pushTokenRE.ReplaceAllString(s, "[REDACTED:push_token]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// Headers returns a flattened, scrubbed copy of h.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.masked[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.String(strings.Join(vv, ", "))
	}
	return out
}
