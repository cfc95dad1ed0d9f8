package observe

import (
	"regexp"
	"strings"
)

var (
	apiKeyRe     = regexp.MustCompile(`(?i)(api[_-]?key|apikey)["\s:=]+(["\w]{16,})`)
	queryParamRe = regexp.MustCompile(`(?i)([?&](?:key|apikey|api_key)=)[^&#\s]+`)
)

// Redact removes API keys from s so it can be logged. It replaces
// `apiKey: "..."`-style assignments and key/apiKey query parameters in URLs.
func Redact(s string) string {
	if strings.TrimSpace(s) == "" {
		return s
	}
	out := apiKeyRe.ReplaceAllString(s, `$1: "REDACTED"`)
	return queryParamRe.ReplaceAllString(out, "${1}REDACTED")
}
