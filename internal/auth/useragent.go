package auth

import "strings"

// Substrings that identify well-known automation clients. Matching is
// case-insensitive; an empty user agent also counts as automated since
// every mainstream browser sends one.
var automationSignatures = []string{
	"curl/",
	"wget/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"java/",
	"okhttp",
	"libwww-perl",
	"scrapy",
	"httpclient",
	"headlesschrome",
	"phantomjs",
	"selenium",
	"bot",
	"spider",
	"crawler",
}

// IsAutomatedClient reports whether the user agent matches a known
// automation pattern.
func IsAutomatedClient(userAgent string) bool {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return true
	}
	for _, sig := range automationSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
